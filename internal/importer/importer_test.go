package importer

import (
	"context"
	"strconv"
	"testing"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/meta"

	_ "github.com/plenumhq/plenum/internal/action/actions"
)

func importFixture(t *testing.T) (*action.Dispatcher, *datastore.MemStore) {
	t.Helper()
	store := datastore.NewMemStore()
	store.Seed(map[string]map[string]any{
		"organization/1": {"name": "org"},
		"user/1":         {"username": "admin", "organization_management_level": "superadmin"},
	})
	return action.NewDispatcher(meta.Default(), store), store
}

func TestCommitteeImportTwoPhase(t *testing.T) {
	d, store := importFixture(t)
	ctx := context.Background()

	// Phase 1: two rows with the same name; the duplicate must error out.
	uploadResults, err := d.Handle(ctx, 1, false, []action.RequestItem{
		{Action: "committee.json_upload", Data: []map[string]any{{
			"data": []any{
				map[string]any{"name": "A"},
				map[string]any{"name": "A"},
			},
		}}},
	})
	if err != nil {
		t.Fatalf("json_upload: %v", err)
	}
	upload := uploadResults[0].Results[0]
	rows, ok := upload["rows"].([]Row)
	if !ok || len(rows) != 2 {
		t.Fatalf("rows = %#v", upload["rows"])
	}
	if rows[0].State != StateNew {
		t.Errorf("row 0 state = %s, want %s", rows[0].State, StateNew)
	}
	if rows[1].State != StateError {
		t.Errorf("row 1 state = %s, want %s", rows[1].State, StateError)
	}
	previewID, _ := upload["id"].(int)
	if previewID < 1 {
		t.Fatalf("preview id = %v", upload["id"])
	}
	if store.Model("import_preview/"+itoa(previewID)) == nil {
		t.Fatalf("preview not persisted")
	}

	// Phase 2: the clean row imports, the duplicate produces no write.
	importResults, err := d.Handle(ctx, 1, false, []action.RequestItem{
		{Action: "committee.import", Data: []map[string]any{{
			"id": previewID, "import": true,
		}}},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	created := 0
	for id := 1; id < 10; id++ {
		if m := store.Model("committee/" + itoa(id)); m != nil {
			if m["name"] == "A" {
				created++
			}
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one committee named A, got %d", created)
	}
	if store.Model("import_preview/"+itoa(previewID)) != nil {
		t.Errorf("preview survived the import")
	}
	outRows, _ := importResults[0].Results[0]["rows"].([]Row)
	if len(outRows) != 2 || outRows[1].State != StateError {
		t.Errorf("phase 2 rows = %#v", outRows)
	}
}

func TestCommitteeImportAbort(t *testing.T) {
	d, store := importFixture(t)
	ctx := context.Background()

	uploadResults, err := d.Handle(ctx, 1, false, []action.RequestItem{
		{Action: "committee.json_upload", Data: []map[string]any{{
			"data": []any{map[string]any{"name": "B"}},
		}}},
	})
	if err != nil {
		t.Fatalf("json_upload: %v", err)
	}
	previewID, _ := uploadResults[0].Results[0]["id"].(int)

	if _, err := d.Handle(ctx, 1, false, []action.RequestItem{
		{Action: "committee.import", Data: []map[string]any{{
			"id": previewID, "import": false,
		}}},
	}); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if store.Model("import_preview/"+itoa(previewID)) != nil {
		t.Errorf("preview survived the abort")
	}
	for id := 1; id < 10; id++ {
		if m := store.Model("committee/" + itoa(id)); m != nil {
			t.Errorf("committee created despite abort: %v", m)
		}
	}
}

func TestAccountUploadGeneratesUsernames(t *testing.T) {
	d, _ := importFixture(t)

	results, err := d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "account.json_upload", Data: []map[string]any{{
			"data": []any{
				map[string]any{"first_name": "Max", "last_name": "Mustermann", "is_active": "yes"},
				map[string]any{"title": "Dr."},
			},
		}}},
	})
	if err != nil {
		t.Fatalf("json_upload: %v", err)
	}
	rows, _ := results[0].Results[0]["rows"].([]Row)
	if len(rows) != 2 {
		t.Fatalf("rows = %#v", rows)
	}
	if rows[0].State != StateGenerated {
		t.Errorf("row 0 state = %s, want %s", rows[0].State, StateGenerated)
	}
	if rows[0].Data["username"] != "MaxMustermann" {
		t.Errorf("generated username = %v", rows[0].Data["username"])
	}
	if rows[0].Data["is_active"] != true {
		t.Errorf("is_active = %v, want coerced true", rows[0].Data["is_active"])
	}
	if rows[1].State != StateError {
		t.Errorf("row 1 state = %s, want %s", rows[1].State, StateError)
	}
}

func TestCoerceHeaderTypes(t *testing.T) {
	for _, tt := range []struct {
		header Header
		in     any
		want   any
		bad    bool
	}{
		{Header{"n", "integer"}, "42", 42, false},
		{Header{"n", "integer"}, "x", nil, true},
		{Header{"b", "boolean"}, "no", false, false},
		{Header{"d", "decimal"}, "1.5", "1.5", false},
		{Header{"d", "date"}, "2026-01-31", "2026-01-31", false},
		{Header{"d", "date"}, "31.01.2026", nil, true},
	} {
		got, err := coerce(tt.header, tt.in)
		if tt.bad {
			if err == nil {
				t.Errorf("coerce(%v, %v) accepted", tt.header, tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("coerce(%v, %v): %v", tt.header, tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("coerce(%v, %v) = %v, want %v", tt.header, tt.in, got, tt.want)
		}
	}
}

func TestCoerceStringListSplitsCSV(t *testing.T) {
	got, err := coerce(Header{"tags", "string-list"}, "a, b,c")
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	list, ok := got.([]string)
	if !ok || len(list) != 3 || list[0] != "a" || list[1] != "b" || list[2] != "c" {
		t.Fatalf("list = %#v", got)
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
