// Package importer is the two-phase bulk import engine: json_upload
// coerces and classifies rows into a persisted preview, import re-checks
// the preview against the live state and replays the surviving rows
// through the standard actions.
package importer

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// Row states. A row keeps the most severe state of its cells.
const (
	StateNew       = "new"
	StateDone      = "done"
	StateWarning   = "warning"
	StateError     = "error"
	StateGenerated = "generated"
	StateRemove    = "remove"
)

// Header describes one import column: the payload property it feeds and
// the coercion applied to raw cells.
type Header struct {
	Property string `json:"property"`
	Type     string `json:"type"`
}

// Row is one classified input line.
type Row struct {
	State    string         `json:"state"`
	Messages []string       `json:"messages,omitempty"`
	Data     map[string]any `json:"data"`
}

// Result is the persisted preview payload.
type Result struct {
	Rows       []Row          `json:"rows"`
	Headers    []Header       `json:"headers"`
	Statistics map[string]int `json:"statistics"`
}

// coerce converts one raw cell per its header type. String lists accept
// CSV strings and are split on commas.
func coerce(h Header, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch h.Type {
	case "string":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, httperr.NewValidation("%s must be a string", h.Property)
	case "integer":
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, nil
			}
		}
		return nil, httperr.NewValidation("%s must be an integer", h.Property)
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "yes":
				return true, nil
			case "0", "false", "no":
				return false, nil
			}
		}
		return nil, httperr.NewValidation("%s must be a boolean", h.Property)
	case "decimal":
		switch v := value.(type) {
		case string:
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				return v, nil
			}
		case int:
			return strconv.Itoa(v), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
		return nil, httperr.NewValidation("%s must be a decimal", h.Property)
	case "date":
		s, ok := value.(string)
		if !ok {
			return nil, httperr.NewValidation("%s must be a date string", h.Property)
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, httperr.NewValidation("%s must be formatted YYYY-MM-DD", h.Property)
		}
		return s, nil
	case "string-list":
		switch v := value.(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, httperr.NewValidation("%s must contain strings", h.Property)
				}
				out = append(out, s)
			}
			return out, nil
		case string:
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out, nil
		}
		return nil, httperr.NewValidation("%s must be a string list", h.Property)
	}
	return nil, httperr.NewValidation("unknown header type %q", h.Type)
}

// Lookup outcomes for one key value.
const (
	lookupNotFound = iota
	lookupFoundID
	lookupFoundMoreIDs
)

type lookupEntry struct {
	outcome int
	id      int
}

// batchLookup resolves all key values against a collection's unique field
// in one datastore query.
func batchLookup(ctx context.Context, e *action.Env, collection, field string, values []string) (map[string]lookupEntry, error) {
	out := make(map[string]lookupEntry, len(values))
	if len(values) == 0 {
		return out, nil
	}
	uniq := map[string]bool{}
	var filters datastore.Or
	for _, v := range values {
		if uniq[v] {
			continue
		}
		uniq[v] = true
		filters = append(filters, datastore.FilterOperator{Field: field, Operator: "=", Value: v})
	}
	models, err := e.Cache.Filter(ctx, collection, filters, []string{field})
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		key, _ := models[id][field].(string)
		entry := out[key]
		switch entry.outcome {
		case lookupNotFound:
			out[key] = lookupEntry{outcome: lookupFoundID, id: id}
		case lookupFoundID:
			out[key] = lookupEntry{outcome: lookupFoundMoreIDs}
		}
	}
	return out, nil
}

// rowState folds cell severities: error beats warning beats the base state.
func mergeState(current, next string) string {
	rank := map[string]int{
		StateNew: 0, StateDone: 0, StateGenerated: 1, StateRemove: 1,
		StateWarning: 2, StateError: 3,
	}
	if rank[next] > rank[current] {
		return next
	}
	return current
}

// aggregateState reduces rows to the preview state stored on the entity.
func aggregateState(rows []Row) string {
	state := StateDone
	for _, r := range rows {
		switch r.State {
		case StateError:
			return StateError
		case StateWarning:
			state = StateWarning
		}
	}
	return state
}

func statistics(rows []Row) map[string]int {
	stats := map[string]int{}
	for _, r := range rows {
		stats[r.State]++
	}
	stats["total"] = len(rows)
	return stats
}

func rowsOf(instance map[string]any) ([]map[string]any, error) {
	raw, ok := instance["data"].([]any)
	if !ok {
		return nil, httperr.NewSchemaViolation("data must contain ['data'] properties")
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		row, ok := item.(map[string]any)
		if !ok {
			return nil, httperr.NewSchemaViolation("rows must be objects")
		}
		out = append(out, row)
	}
	return out, nil
}
