package relation

import (
	"context"
	"strings"
	"testing"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/meta"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

func newResolver(t *testing.T, models map[string]map[string]any) (*Resolver, *datastore.Cache) {
	t.Helper()
	store := datastore.NewMemStore()
	store.Seed(models)
	cache := datastore.NewCache(store)
	return New(meta.Default(), cache), cache
}

func findUpdate(t *testing.T, updates []Update, key, field string) Update {
	t.Helper()
	for _, u := range updates {
		if u.FQID.String() == key && u.Field == field {
			return u
		}
	}
	t.Fatalf("no update on %s/%s in %v", key, field, updates)
	return Update{}
}

func TestResolveCreateShortcut(t *testing.T) {
	r, _ := newResolver(t, map[string]map[string]any{
		"motion/1":  {"title": "m", "meeting_id": 7},
		"meeting/7": {"name": "m7"},
	})
	ctx := context.Background()

	updates, err := r.Resolve(ctx, fqid.MustParse("agenda_item/10"), map[string]any{
		"content_object_id": "motion/1",
		"meeting_id":        7,
	}, true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates: %v", len(updates), updates)
	}
	if u := findUpdate(t, updates, "motion/1", "agenda_item_id"); u.Value != 10 {
		t.Fatalf("motion backref = %v, want 10", u.Value)
	}
	u := findUpdate(t, updates, "meeting/7", "agenda_item_ids")
	ids, ok := u.Value.([]any)
	if !ok || len(ids) != 1 || ids[0] != 10 {
		t.Fatalf("meeting agenda_item_ids = %v, want [10]", u.Value)
	}
}

func TestResolveScalarMove(t *testing.T) {
	r, _ := newResolver(t, map[string]map[string]any{
		"motion/1":          {"title": "m", "meeting_id": 1, "category_id": 4},
		"motion_category/4": {"name": "a", "meeting_id": 1, "motion_ids": []any{1}},
		"motion_category/5": {"name": "b", "meeting_id": 1},
	})
	ctx := context.Background()

	updates, err := r.Resolve(ctx, fqid.MustParse("motion/1"), map[string]any{"category_id": 5}, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	added := findUpdate(t, updates, "motion_category/5", "motion_ids")
	ids, _ := added.Value.([]any)
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("new category motion_ids = %v", added.Value)
	}
	removed := findUpdate(t, updates, "motion_category/4", "motion_ids")
	if removed.Value != nil {
		t.Fatalf("old category motion_ids = %v, want cleared", removed.Value)
	}
}

func TestResolveEqualFieldsMismatch(t *testing.T) {
	r, _ := newResolver(t, map[string]map[string]any{
		"motion/1":          {"title": "m", "meeting_id": 1},
		"motion_category/4": {"name": "a", "meeting_id": 2},
	})
	_, err := r.Resolve(context.Background(), fqid.MustParse("motion/1"), map[string]any{"category_id": 4}, false)
	if httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "meeting_id") {
		t.Fatalf("error must name the mismatched field: %v", err)
	}
}

func TestResolveGenericList(t *testing.T) {
	r, _ := newResolver(t, map[string]map[string]any{
		"meeting/1":     {"name": "m"},
		"motion/1":      {"title": "m", "meeting_id": 1, "tag_ids": []any{}},
		"agenda_item/2": {"meeting_id": 1},
	})
	updates, err := r.Resolve(context.Background(), fqid.MustParse("tag/3"), map[string]any{
		"meeting_id": 1,
		"tagged_ids": []any{"motion/1", "agenda_item/2"},
	}, true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	u := findUpdate(t, updates, "motion/1", "tag_ids")
	ids, _ := u.Value.([]any)
	if len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("motion tag_ids = %v, want [3]", u.Value)
	}
	findUpdate(t, updates, "agenda_item/2", "tag_ids")
}

func TestResolveGenericRejectsForeignCollection(t *testing.T) {
	r, _ := newResolver(t, map[string]map[string]any{
		"topic/1": {"title": "t", "meeting_id": 1},
	})
	_, err := r.Resolve(context.Background(), fqid.MustParse("tag/3"), map[string]any{
		"tagged_ids": []any{"topic/1"},
	}, true)
	if httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestResolveTemplateRelation(t *testing.T) {
	r, _ := newResolver(t, map[string]map[string]any{
		"meeting/1":   {"name": "m"},
		"mediafile/8": {"title": "logo", "meeting_id": 1},
	})
	ctx := context.Background()

	updates, err := r.Resolve(ctx, fqid.MustParse("meeting/1"), map[string]any{
		"logo_$webheader_id": 8,
	}, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if u := findUpdate(t, updates, "mediafile/8", "used_as_logo_$webheader_in_meeting_id"); u.Value != 1 {
		t.Fatalf("structured backref = %v, want 1", u.Value)
	}
	peerIndex := findUpdate(t, updates, "mediafile/8", "used_as_logo_$_in_meeting_id")
	if list := peerIndex.Value.([]string); len(list) != 1 || list[0] != "webheader" {
		t.Fatalf("peer index = %v", peerIndex.Value)
	}
	selfIndex := findUpdate(t, updates, "meeting/1", "logo_$_id")
	if list := selfIndex.Value.([]string); len(list) != 1 || list[0] != "webheader" {
		t.Fatalf("self index = %v", selfIndex.Value)
	}
}

func TestResolveTemplateClear(t *testing.T) {
	r, _ := newResolver(t, map[string]map[string]any{
		"meeting/1": {
			"name": "m", "logo_$_id": []any{"webheader"}, "logo_$webheader_id": 8,
		},
		"mediafile/8": {
			"title": "logo", "meeting_id": 1,
			"used_as_logo_$_in_meeting_id":          []any{"webheader"},
			"used_as_logo_$webheader_in_meeting_id": 1,
		},
	})
	updates, err := r.Resolve(context.Background(), fqid.MustParse("meeting/1"), map[string]any{
		"logo_$webheader_id": nil,
	}, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if u := findUpdate(t, updates, "mediafile/8", "used_as_logo_$webheader_in_meeting_id"); u.Value != nil {
		t.Fatalf("structured backref = %v, want cleared", u.Value)
	}
	if u := findUpdate(t, updates, "mediafile/8", "used_as_logo_$_in_meeting_id"); u.Value != nil {
		t.Fatalf("peer index = %v, want cleared", u.Value)
	}
	if u := findUpdate(t, updates, "meeting/1", "logo_$_id"); u.Value != nil {
		t.Fatalf("self index = %v, want cleared", u.Value)
	}
}

func TestPlanDeleteCascadeAndDetach(t *testing.T) {
	r, _ := newResolver(t, map[string]map[string]any{
		"motion/5": {
			"title": "m", "meeting_id": 3, "submitter_ids": []any{9},
		},
		"motion_submitter/9": {"motion_id": 5, "meeting_id": 3, "meeting_user_id": 1},
		"meeting/3":          {"name": "m3", "motion_ids": []any{5}, "motion_submitter_ids": []any{9}},
		"meeting_user/1":     {"user_id": 1, "meeting_id": 3, "motion_submitter_ids": []any{9}},
	})
	plan, err := r.PlanDelete(context.Background(), fqid.MustParse("motion/5"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Cascade) != 1 || plan.Cascade[0].String() != "motion_submitter/9" {
		t.Fatalf("cascade = %v, want [motion_submitter/9]", plan.Cascade)
	}
	u := findUpdate(t, plan.Detach, "meeting/3", "motion_ids")
	if u.Value != nil {
		t.Fatalf("meeting motion_ids = %v, want cleared", u.Value)
	}
}

func TestPlanDeleteProtect(t *testing.T) {
	r, _ := newResolver(t, map[string]map[string]any{
		"motion_workflow/2": {
			"name": "w", "meeting_id": 1, "default_workflow_meeting_id": 1,
		},
		"meeting/1": {"name": "m", "motions_default_workflow_id": 2, "motion_workflow_ids": []any{2}},
	})
	_, err := r.PlanDelete(context.Background(), fqid.MustParse("motion_workflow/2"))
	if httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestPlanDeleteSkipsAlreadyDeletedPeer(t *testing.T) {
	r, cache := newResolver(t, map[string]map[string]any{
		"motion/5":  {"title": "m", "meeting_id": 3},
		"meeting/3": {"name": "m3", "motion_ids": []any{5}},
	})
	cache.MarkDeleted(fqid.MustParse("meeting/3"))
	plan, err := r.PlanDelete(context.Background(), fqid.MustParse("motion/5"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Detach) != 0 || len(plan.Cascade) != 0 {
		t.Fatalf("plan for orphaned motion = %+v, want empty", plan)
	}
}
