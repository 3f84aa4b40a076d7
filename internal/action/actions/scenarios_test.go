package actions

import (
	"context"
	"strconv"
	"testing"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/meta"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// recordingSource wraps the memory store and keeps every accepted write
// request for event-level assertions.
type recordingSource struct {
	*datastore.MemStore
	writes []datastore.WriteRequest
}

func (r *recordingSource) Write(ctx context.Context, req datastore.WriteRequest) error {
	if err := r.MemStore.Write(ctx, req); err != nil {
		return err
	}
	r.writes = append(r.writes, req)
	return nil
}

func newFixture(t *testing.T, models map[string]map[string]any) (*action.Dispatcher, *recordingSource) {
	t.Helper()
	store := &recordingSource{MemStore: datastore.NewMemStore()}
	seed := map[string]map[string]any{
		"user/1": {"username": "admin", "organization_management_level": "superadmin"},
	}
	for k, v := range models {
		seed[k] = v
	}
	store.Seed(seed)
	return action.NewDispatcher(meta.Default(), store), store
}

func TestCreateWithInferredMeeting(t *testing.T) {
	d, store := newFixture(t, map[string]map[string]any{
		"meeting/7": {"name": "assembly"},
		"motion/1":  {"meeting_id": 7, "title": "m", "text": "t"},
	})

	results, err := d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "agenda_item.create", Data: []map[string]any{{"content_object_id": "motion/1"}}},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	newID, ok := results[0].Results[0]["id"].(int)
	if !ok || newID < 1 {
		t.Fatalf("result id = %v", results[0].Results[0]["id"])
	}

	if len(store.writes) != 1 {
		t.Fatalf("expected one write, got %d", len(store.writes))
	}
	events := store.writes[0].Events
	if len(events) != 3 {
		t.Fatalf("expected three events, got %+v", events)
	}

	create := events[0]
	if create.Type != datastore.EventCreate {
		t.Fatalf("first event = %+v", create)
	}
	want := map[string]any{
		"content_object_id": "motion/1",
		"meeting_id":        7,
		"weight":            1,
		"level":             0,
		"is_hidden":         false,
		"is_internal":       false,
	}
	if len(create.Fields) != len(want) {
		t.Errorf("create fields = %v, want exactly %v", create.Fields, want)
	}
	for k, v := range want {
		if create.Fields[k] != v {
			t.Errorf("create field %s = %v, want %v", k, create.Fields[k], v)
		}
	}

	motion := store.Model("motion/1")
	if got, _ := motion["agenda_item_id"].(int); got != newID {
		t.Errorf("motion backref = %v, want %d", motion["agenda_item_id"], newID)
	}
	meeting := store.Model("meeting/7")
	list, _ := meeting["agenda_item_ids"].([]any)
	if len(list) != 1 || list[0] != newID {
		t.Errorf("meeting agenda_item_ids = %v", meeting["agenda_item_ids"])
	}
}

func TestDeleteCascadesAndDetaches(t *testing.T) {
	d, store := newFixture(t, map[string]map[string]any{
		"meeting/3":          {"name": "m", "motion_ids": []any{5}, "motion_submitter_ids": []any{9}},
		"motion/5":           {"meeting_id": 3, "title": "m", "text": "t", "submitter_ids": []any{9}},
		"motion_submitter/9": {"meeting_id": 3, "motion_id": 5, "meeting_user_id": 4},
		"meeting_user/4":     {"meeting_id": 3, "user_id": 1, "motion_submitter_ids": []any{9}},
	})

	_, err := d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "motion.delete", Data: []map[string]any{{"id": 5}}},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	events := store.writes[0].Events
	submitterAt, motionAt := -1, -1
	sawDetach := false
	for i, ev := range events {
		switch {
		case ev.Type == datastore.EventDelete && ev.FQID == "motion_submitter/9":
			submitterAt = i
		case ev.Type == datastore.EventDelete && ev.FQID == "motion/5":
			motionAt = i
		case ev.Type == datastore.EventUpdate:
			sawDetach = true
		}
	}
	if submitterAt == -1 || motionAt == -1 || submitterAt > motionAt {
		t.Fatalf("delete order wrong: %+v", events)
	}
	if !sawDetach {
		t.Fatalf("expected detach updates, got %+v", events)
	}

	if store.Model("motion/5") != nil {
		t.Errorf("motion survived deletion")
	}
	if store.Model("motion_submitter/9") != nil {
		t.Errorf("submitter survived cascade")
	}
	meeting := store.Model("meeting/3")
	if list, _ := meeting["motion_ids"].([]any); len(list) != 0 {
		t.Errorf("meeting motion_ids = %v", meeting["motion_ids"])
	}
	mu := store.Model("meeting_user/4")
	if list, _ := mu["motion_submitter_ids"].([]any); len(list) != 0 {
		t.Errorf("meeting_user motion_submitter_ids = %v", mu["motion_submitter_ids"])
	}
}

func TestDeleteDefaultWorkflowIsRejected(t *testing.T) {
	d, store := newFixture(t, map[string]map[string]any{
		"meeting/1":         {"name": "m", "motions_default_workflow_id": 2, "motion_workflow_ids": []any{2}},
		"motion_workflow/2": {"name": "w", "meeting_id": 1, "default_workflow_meeting_id": 1},
	})

	_, err := d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "motion_workflow.delete", Data: []map[string]any{{"id": 2}}},
	})
	if httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if err.Error() != "Cannot delete a default workflow." {
		t.Errorf("message = %q", err.Error())
	}
	if len(store.writes) != 0 {
		t.Errorf("events written despite rejection: %+v", store.writes)
	}
}

func TestMotionNumberSkipsTakenValues(t *testing.T) {
	d, store := newFixture(t, map[string]map[string]any{
		"meeting/1": {
			"name":                      "m",
			"motions_number_type":       "per_category",
			"motions_number_min_digits": 2,
			"motion_ids":                []any{8},
			"motion_category_ids":       []any{4},
		},
		"motion_category/4": {"name": "c", "prefix": "A", "meeting_id": 1, "motion_ids": []any{8}},
		"motion/8":          {"meeting_id": 1, "category_id": 4, "title": "m", "text": "t", "number": "A01"},
	})

	results, err := d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "motion.create", Data: []map[string]any{{
			"meeting_id": 1, "category_id": 4, "title": "x", "text": "y",
		}}},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	id, _ := results[0].Results[0]["id"].(int)
	motion := store.Model("motion/" + strconv.Itoa(id))
	if motion["number"] != "A02" {
		t.Errorf("number = %v, want A02", motion["number"])
	}
}

func TestSortTreeRejectsDuplicate(t *testing.T) {
	d, store := newFixture(t, map[string]map[string]any{
		"meeting/1":     {"name": "m", "agenda_item_ids": []any{1, 2}},
		"agenda_item/1": {"meeting_id": 1, "content_object_id": "topic/1"},
		"agenda_item/2": {"meeting_id": 1, "content_object_id": "topic/2"},
	})

	_, err := d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "agenda_item.sort", Data: []map[string]any{{
			"meeting_id": 1,
			"tree": []any{map[string]any{
				"id": 1,
				"children": []any{map[string]any{
					"id":       2,
					"children": []any{map[string]any{"id": 1}},
				}},
			}},
		}}},
	})
	if httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if err.Error() != "Duplicate id in sort tree: 1" {
		t.Errorf("message = %q", err.Error())
	}
	if len(store.writes) != 0 {
		t.Errorf("events written despite rejection")
	}
}

func TestBatchIsAtomic(t *testing.T) {
	d, store := newFixture(t, map[string]map[string]any{
		"meeting/1": {"name": "m"},
	})

	_, err := d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "tag.create", Data: []map[string]any{{"name": "ok", "meeting_id": 1}}},
		{Action: "tag.delete", Data: []map[string]any{{"id": 99}}},
	})
	if httperr.KindOf(err) != httperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("partial batch written")
	}
	if store.Position() != 0 {
		t.Errorf("store position advanced to %d", store.Position())
	}
}

func TestInternalActionHiddenFromExternalCallers(t *testing.T) {
	d, _ := newFixture(t, map[string]map[string]any{
		"meeting/1": {"name": "m"},
		"topic/4":   {"meeting_id": 1, "title": "t"},
	})

	_, err := d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "list_of_speakers.create", Data: []map[string]any{{"content_object_id": "topic/4"}}},
	})
	if httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err.Error() != "Action list_of_speakers.create does not exist." {
		t.Errorf("message = %q", err.Error())
	}

	if _, err := d.Handle(context.Background(), 1, true, []action.RequestItem{
		{Action: "list_of_speakers.create", Data: []map[string]any{{"content_object_id": "topic/4"}}},
	}); err != nil {
		t.Fatalf("internal route rejected internal action: %v", err)
	}
}

func TestAnonymousCannotWrite(t *testing.T) {
	d, _ := newFixture(t, map[string]map[string]any{
		"meeting/1": {"name": "m"},
	})

	_, err := d.Handle(context.Background(), 0, false, []action.RequestItem{
		{Action: "tag.create", Data: []map[string]any{{"name": "x", "meeting_id": 1}}},
	})
	if httperr.KindOf(err) != httperr.KindPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestMediafileMoveRejectsCycle(t *testing.T) {
	d, _ := newFixture(t, map[string]map[string]any{
		"meeting/1":   {"name": "m", "mediafile_ids": []any{1, 2}},
		"mediafile/1": {"meeting_id": 1, "title": "a", "is_directory": true},
		"mediafile/2": {"meeting_id": 1, "title": "b", "is_directory": true},
	})

	_, err := d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "mediafile.update", Data: []map[string]any{{"id": 1, "parent_id": 2}}},
	})
	if err != nil {
		t.Fatalf("first move: %v", err)
	}

	_, err = d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "mediafile.update", Data: []map[string]any{{"id": 2, "parent_id": 1}}},
	})
	if httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestMotionSortParentRejectsCycle(t *testing.T) {
	d, _ := newFixture(t, map[string]map[string]any{
		"meeting/1": {"name": "m", "motion_ids": []any{1, 2}},
		"motion/1":  {"meeting_id": 1, "title": "a", "text": "t"},
		"motion/2":  {"meeting_id": 1, "title": "b", "text": "t"},
	})

	_, err := d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "motion.update", Data: []map[string]any{{"id": 1, "sort_parent_id": 2}}},
	})
	if err != nil {
		t.Fatalf("first move: %v", err)
	}

	_, err = d.Handle(context.Background(), 1, false, []action.RequestItem{
		{Action: "motion.update", Data: []map[string]any{{"id": 2, "sort_parent_id": 1}}},
	})
	if httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("expected validation failure, got %v", err)
	}
}
