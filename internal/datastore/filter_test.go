package datastore

import (
	"testing"
)

func TestFilterExpr(t *testing.T) {
	cases := []struct {
		name string
		f    Filter
		want string
	}{
		{
			name: "operator equals",
			f:    FilterOperator{Field: "meeting_id", Operator: "=", Value: 5},
			want: `("meeting_id" in m) && (m["meeting_id"] == 5)`,
		},
		{
			name: "and of two",
			f: And{
				FilterOperator{Field: "meeting_id", Operator: "=", Value: 5},
				FilterOperator{Field: "category_id", Operator: "!=", Value: nil},
			},
			want: `(("meeting_id" in m) && (m["meeting_id"] == 5) && ("category_id" in m) && (m["category_id"] != null))`,
		},
		{
			name: "not",
			f:    Not{FilterOperator{Field: "name", Operator: "=", Value: "default"}},
			want: `!(("name" in m) && (m["name"] == "default"))`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Expr(tc.f); got != tc.want {
				t.Fatalf("Expr() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFilterWire(t *testing.T) {
	f := Or{
		FilterOperator{Field: "state_id", Operator: "=", Value: 2},
		Not{FilterOperator{Field: "number", Operator: ">=", Value: 10}},
	}
	raw, err := MarshalFilter(f)
	if err != nil {
		t.Fatalf("MarshalFilter: %v", err)
	}
	want := `{"or_filter":[{"field":"state_id","operator":"=","value":2},{"not_filter":{"field":"number","operator":">=","value":10}}]}`
	if string(raw) != want {
		t.Fatalf("wire = %s, want %s", raw, want)
	}
}

func TestFieldsOf(t *testing.T) {
	f := And{
		FilterOperator{Field: "meeting_id", Operator: "=", Value: 1},
		Or{
			FilterOperator{Field: "weight", Operator: "<", Value: 4},
			FilterOperator{Field: "meeting_id", Operator: "!=", Value: 2},
		},
	}
	got := FieldsOf(f)
	want := []string{"meeting_id", "weight"}
	if len(got) != len(want) {
		t.Fatalf("FieldsOf = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FieldsOf = %v, want %v", got, want)
		}
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		name  string
		f     Filter
		model map[string]any
		want  bool
	}{
		{
			name:  "equal int matches",
			f:     FilterOperator{Field: "meeting_id", Operator: "=", Value: 5},
			model: map[string]any{"meeting_id": 5},
			want:  true,
		},
		{
			name:  "float from json matches int literal",
			f:     FilterOperator{Field: "meeting_id", Operator: "=", Value: 5},
			model: map[string]any{"meeting_id": float64(5)},
			want:  true,
		},
		{
			name:  "missing field never matches",
			f:     FilterOperator{Field: "meeting_id", Operator: "!=", Value: 5},
			model: map[string]any{"name": "x"},
			want:  false,
		},
		{
			name:  "not equal selects missing field",
			f:     Not{FilterOperator{Field: "meeting_id", Operator: "=", Value: 5}},
			model: map[string]any{"name": "x"},
			want:  true,
		},
		{
			name: "and short circuit",
			f: And{
				FilterOperator{Field: "meeting_id", Operator: "=", Value: 5},
				FilterOperator{Field: "weight", Operator: ">", Value: 2},
			},
			model: map[string]any{"meeting_id": 5, "weight": 4},
			want:  true,
		},
		{
			name:  "not",
			f:     Not{FilterOperator{Field: "name", Operator: "=", Value: "a"}},
			model: map[string]any{"name": "b"},
			want:  true,
		},
		{
			name:  "string comparison",
			f:     FilterOperator{Field: "name", Operator: "=", Value: "general"},
			model: map[string]any{"name": "general"},
			want:  true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Match(tc.f, tc.model)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Match = %v, want %v", got, tc.want)
			}
		})
	}
}
