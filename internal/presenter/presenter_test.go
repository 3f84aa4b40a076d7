package presenter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/pkg/httperr"
)

func presenterFixture(t *testing.T) *Dispatcher {
	t.Helper()
	store := datastore.NewMemStore()
	store.Seed(map[string]map[string]any{
		"organization/1": {"name": "org"},
		"user/1":         {"username": "admin", "organization_management_level": "superadmin"},
		"user/2": {
			"username": "delegate", "email": "d@example.com",
			"meeting_user_ids": []any{10},
		},
		"meeting_user/10": {"user_id": 2, "meeting_id": 5},
		"meeting/5":       {"name": "m", "committee_id": 3},
		"committee/3":     {"name": "c", "organization_id": 1},
	})
	return NewDispatcher(store)
}

func TestGetHealth(t *testing.T) {
	d := presenterFixture(t)
	results, err := d.Handle(context.Background(), 0, []Request{{Presenter: "get_health"}})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	health, _ := results[0].(map[string]any)
	if health["healthy"] != true {
		t.Errorf("health = %v", results[0])
	}
}

func TestGetUserScope(t *testing.T) {
	d := presenterFixture(t)
	results, err := d.Handle(context.Background(), 1, []Request{{
		Presenter: "get_user_scope",
		Data:      json.RawMessage(`{"user_ids": [2]}`),
	}})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	scopes, _ := results[0].(map[string]any)
	entry, _ := scopes["2"].(map[string]any)
	if entry["collection"] != "meeting" || entry["id"] != 5 {
		t.Errorf("scope = %v", entry)
	}
}

func TestGetUserScopeNeedsManagementLevel(t *testing.T) {
	d := presenterFixture(t)
	_, err := d.Handle(context.Background(), 2, []Request{{
		Presenter: "get_user_scope",
		Data:      json.RawMessage(`{"user_ids": [1]}`),
	}})
	if httperr.KindOf(err) != httperr.KindPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestSearchUsers(t *testing.T) {
	d := presenterFixture(t)
	results, err := d.Handle(context.Background(), 1, []Request{{
		Presenter: "search_users",
		Data:      json.RawMessage(`{"queries": [{"email": "d@example.com"}, {"username": "nobody"}]}`),
	}})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	queries, _ := results[0].([]any)
	if len(queries) != 2 {
		t.Fatalf("results = %#v", results[0])
	}
	first, _ := queries[0].([]any)
	if len(first) != 1 {
		t.Fatalf("first query matches = %#v", queries[0])
	}
	match, _ := first[0].(map[string]any)
	if match["id"] != 2 || match["username"] != "delegate" {
		t.Errorf("match = %v", match)
	}
	second, _ := queries[1].([]any)
	if len(second) != 0 {
		t.Errorf("second query matches = %#v", queries[1])
	}
}

func TestUnknownPresenter(t *testing.T) {
	d := presenterFixture(t)
	_, err := d.Handle(context.Background(), 1, []Request{{Presenter: "nope"}})
	if httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("expected validation failure, got %v", err)
	}
}
