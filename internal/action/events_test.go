package action

import (
	"testing"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/pkg/httperr"
)

func TestMergeFoldsUpdatesIntoCreate(t *testing.T) {
	events := []datastore.Event{
		{Type: datastore.EventCreate, FQID: "topic/1", Fields: map[string]any{"title": "a", "text": "x"}},
		{Type: datastore.EventUpdate, FQID: "topic/1", Fields: map[string]any{"title": "b", "text": nil}},
	}
	merged, err := merge(events)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected one event, got %d", len(merged))
	}
	ev := merged[0]
	if ev.Type != datastore.EventCreate {
		t.Errorf("expected create, got %s", ev.Type)
	}
	if ev.Fields["title"] != "b" {
		t.Errorf("title = %v", ev.Fields["title"])
	}
	if _, ok := ev.Fields["text"]; ok {
		t.Errorf("cleared field survived the fold: %v", ev.Fields["text"])
	}
}

func TestMergeLastWriterWinsAcrossUpdates(t *testing.T) {
	events := []datastore.Event{
		{Type: datastore.EventUpdate, FQID: "motion/5", Fields: map[string]any{"title": "a"}},
		{Type: datastore.EventUpdate, FQID: "motion/5", Fields: map[string]any{"title": "b", "reason": "r"}},
	}
	merged, err := merge(events)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected one event, got %d", len(merged))
	}
	if merged[0].Fields["title"] != "b" || merged[0].Fields["reason"] != "r" {
		t.Errorf("merged fields = %v", merged[0].Fields)
	}
}

func TestMergeCreateThenDeleteVanishes(t *testing.T) {
	events := []datastore.Event{
		{Type: datastore.EventCreate, FQID: "tag/3", Fields: map[string]any{"name": "x"}},
		{Type: datastore.EventUpdate, FQID: "tag/3", Fields: map[string]any{"name": "y"}},
		{Type: datastore.EventDelete, FQID: "tag/3"},
	}
	merged, err := merge(events)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 0 {
		t.Fatalf("expected no events, got %v", merged)
	}
}

func TestMergeDeletesComeLast(t *testing.T) {
	events := []datastore.Event{
		{Type: datastore.EventDelete, FQID: "motion_submitter/2"},
		{Type: datastore.EventUpdate, FQID: "meeting/1", Fields: map[string]any{"name": "n"}},
		{Type: datastore.EventDelete, FQID: "motion/7"},
	}
	merged, err := merge(events)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 3 {
		t.Fatalf("expected three events, got %d", len(merged))
	}
	if merged[0].FQID != "meeting/1" || merged[0].Type != datastore.EventUpdate {
		t.Errorf("first event = %+v", merged[0])
	}
	if merged[1].FQID != "motion_submitter/2" || merged[2].FQID != "motion/7" {
		t.Errorf("delete order = %s, %s", merged[1].FQID, merged[2].FQID)
	}
}

func TestMergeUpdateBeforeDeleteDropsTheUpdate(t *testing.T) {
	events := []datastore.Event{
		{Type: datastore.EventUpdate, FQID: "motion/7", Fields: map[string]any{"title": "t"}},
		{Type: datastore.EventDelete, FQID: "motion/7"},
	}
	merged, err := merge(events)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 1 || merged[0].Type != datastore.EventDelete {
		t.Fatalf("expected a lone delete, got %v", merged)
	}
}

func TestMergeEventAfterDeleteIsConflict(t *testing.T) {
	events := []datastore.Event{
		{Type: datastore.EventDelete, FQID: "motion/7"},
		{Type: datastore.EventUpdate, FQID: "motion/7", Fields: map[string]any{"title": "t"}},
	}
	if _, err := merge(events); httperr.KindOf(err) != httperr.KindDatastoreError {
		t.Fatalf("expected datastore conflict, got %v", err)
	}
}

func TestMergeListUpdatesAccumulatePerField(t *testing.T) {
	events := []datastore.Event{
		{Type: datastore.EventListUpdate, FQID: "meeting/1", Field: "tag_ids", Add: []any{1}},
		{Type: datastore.EventListUpdate, FQID: "meeting/1", Field: "tag_ids", Add: []any{2}, Remove: []any{3}},
		{Type: datastore.EventListUpdate, FQID: "meeting/1", Field: "group_ids", Add: []any{9}},
	}
	merged, err := merge(events)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected two events, got %d", len(merged))
	}
	first := merged[0]
	if first.Field != "tag_ids" || len(first.Add) != 2 || len(first.Remove) != 1 {
		t.Errorf("tag_ids merge = %+v", first)
	}
}
