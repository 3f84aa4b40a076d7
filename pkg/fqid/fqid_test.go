package fqid

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		raw        string
		collection string
		id         int
		wantErr    bool
	}{
		{raw: "motion/1", collection: "motion", id: 1},
		{raw: "agenda_item/42", collection: "agenda_item", id: 42},
		{raw: "meeting/7", collection: "meeting", id: 7},
		{raw: "motion/0", wantErr: true},
		{raw: "motion/-3", wantErr: true},
		{raw: "motion/01", wantErr: true},
		{raw: "Motion/1", wantErr: true},
		{raw: "motion", wantErr: true},
		{raw: "motion/1/title", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("Parse(%q) expected error, got %v", tt.raw, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q) err=%v", tt.raw, err)
		}
		if got.Collection != tt.collection || got.ID != tt.id {
			t.Fatalf("Parse(%q)=%v", tt.raw, got)
		}
		if got.String() != tt.raw {
			t.Fatalf("round trip %q -> %q", tt.raw, got.String())
		}
	}
}

func TestParseFQField(t *testing.T) {
	f, err := ParseFQField("motion/5/title")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if f.Collection != "motion" || f.ID != 5 || f.Field != "title" {
		t.Fatalf("got %v", f)
	}
	if f.String() != "motion/5/title" {
		t.Fatalf("string=%q", f.String())
	}

	if _, err := ParseFQField("motion/5/"); err == nil {
		t.Fatal("empty field accepted")
	}
	if _, err := ParseFQField("motion/5"); err == nil {
		t.Fatal("missing field accepted")
	}
	if _, err := ParseFQField("user/3/comment_$7"); err != nil {
		t.Fatalf("structured field rejected: %v", err)
	}
}

func TestStructured(t *testing.T) {
	tests := []struct {
		field       string
		template    string
		replacement string
		ok          bool
	}{
		{field: "comment_$5", template: "comment_$", replacement: "5", ok: true},
		{field: "logo_$webheader_id", template: "logo_$_id", replacement: "webheader", ok: true},
		{field: "comment_$", template: "comment_$", replacement: "", ok: true},
		{field: "title", ok: false},
	}
	for _, tt := range tests {
		template, replacement, ok := Structured(tt.field)
		if ok != tt.ok {
			t.Fatalf("Structured(%q) ok=%v", tt.field, ok)
		}
		if !ok {
			continue
		}
		if template != tt.template || replacement != tt.replacement {
			t.Fatalf("Structured(%q)=%q,%q", tt.field, template, replacement)
		}
	}
}

func TestToStructured(t *testing.T) {
	got, err := ToStructured("comment_$", "5")
	if err != nil || got != "comment_$5" {
		t.Fatalf("got %q err=%v", got, err)
	}
	got, err = ToStructured("logo_$_id", "webheader")
	if err != nil || got != "logo_$webheader_id" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if _, err := ToStructured("title", "5"); err == nil {
		t.Fatal("non-template accepted")
	}
	if _, err := ToStructured("logo_$_id", "web_header"); err == nil {
		t.Fatal("underscore replacement accepted")
	}
}
