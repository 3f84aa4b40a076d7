// Package datastore is the typed gateway to the external event store. A
// Source talks to the store itself; a Cache layers the request-scoped
// overlay of applied-but-unwritten instances on top of one Source.
package datastore

import (
	"context"

	"github.com/plenumhq/plenum/pkg/fqid"
)

type EventType string

const (
	EventCreate     EventType = "create"
	EventUpdate     EventType = "update"
	EventDelete     EventType = "delete"
	EventListUpdate EventType = "list_update"
)

// Event is one low-level mutation forwarded to the event store.
type Event struct {
	Type   EventType      `json:"type"`
	FQID   string         `json:"fqid"`
	Fields map[string]any `json:"fields,omitempty"`

	// list_update only; kept for migration compatibility.
	Field  string `json:"field,omitempty"`
	Add    []any  `json:"add,omitempty"`
	Remove []any  `json:"remove,omitempty"`
}

// WriteRequest is the single atomic payload of one batch.
type WriteRequest struct {
	Events         []Event             `json:"events"`
	Information    map[string][]string `json:"information,omitempty"`
	UserID         int                 `json:"user_id"`
	LockedFields   map[string]int      `json:"locked_fields,omitempty"`
	MigrationIndex *int                `json:"migration_index,omitempty"`
}

// GetManyRequest names one slice of one collection.
type GetManyRequest struct {
	Collection string   `json:"collection"`
	IDs        []int    `json:"ids"`
	Fields     []string `json:"mapped_fields"`
}

// HistoryEntry is one audit record of a model.
type HistoryEntry struct {
	Position    int      `json:"position"`
	UserID      int      `json:"user_id"`
	Timestamp   int64    `json:"timestamp"`
	Information []string `json:"information"`
}

// Source is the wire-facing datastore surface. Reads return the store
// position alongside the data so callers can collect locking tokens.
type Source interface {
	// Get returns the named fields of one model; missing models yield a
	// NotFound error. The returned position is the read position used for
	// optimistic locking.
	Get(ctx context.Context, id fqid.FQID, fields []string) (map[string]any, int, error)
	GetMany(ctx context.Context, reqs []GetManyRequest) (map[string]map[int]map[string]any, int, error)
	Filter(ctx context.Context, collection string, f Filter, fields []string) (map[int]map[string]any, int, error)
	Exists(ctx context.Context, collection string, f Filter) (bool, int, error)
	Count(ctx context.Context, collection string, f Filter) (int, int, error)
	Min(ctx context.Context, collection string, f Filter, field string) (*int, int, error)
	Max(ctx context.Context, collection string, f Filter, field string) (*int, int, error)
	ReserveIDs(ctx context.Context, collection string, amount int) ([]int, error)
	HistoryInformation(ctx context.Context, fqids []string) (map[string][]HistoryEntry, error)
	Write(ctx context.Context, req WriteRequest) error
}
