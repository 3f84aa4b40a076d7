package importer

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// The backend serves exactly one organization.
const organizationID = 1

var committeeHeaders = []Header{
	{Property: "name", Type: "string"},
	{Property: "description", Type: "string"},
}

func init() {
	action.Register(&action.Action{
		Name:       "committee.json_upload",
		Collection: "committee",
		Singular:   true,
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			return e.Perm.RequireOML(ctx, e.UserID, perm.OMLCanManageOrg)
		},
		Execute: committeeJSONUpload,
	})

	action.Register(&action.Action{
		Name:       "committee.import",
		Collection: "committee",
		Singular:   true,
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			return e.Perm.RequireOML(ctx, e.UserID, perm.OMLCanManageOrg)
		},
		Execute: committeeImport,
	})
}

// committeeJSONUpload is phase 1: coerce, look up by name, classify and
// persist the preview.
func committeeJSONUpload(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
	raw, err := rowsOf(instance)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(raw))
	for _, row := range raw {
		if name, ok := row["name"].(string); ok {
			names = append(names, name)
		}
	}
	existing, err := batchLookup(ctx, e, "committee", "name", names)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	rows := make([]Row, 0, len(raw))
	for _, rawRow := range raw {
		row := Row{State: StateNew, Data: map[string]any{}}
		for _, h := range committeeHeaders {
			value, ok := rawRow[h.Property]
			if !ok {
				continue
			}
			coerced, err := coerce(h, value)
			if err != nil {
				row.State = StateError
				row.Messages = append(row.Messages, err.Error())
				continue
			}
			row.Data[h.Property] = coerced
		}

		name, _ := row.Data["name"].(string)
		switch {
		case name == "":
			row.State = StateError
			row.Messages = append(row.Messages, "Name is required")
		case seen[name]:
			row.State = StateError
			row.Messages = append(row.Messages, "Duplicate committee name in import data: "+name)
		default:
			seen[name] = true
			switch entry := existing[name]; entry.outcome {
			case lookupFoundID:
				row.State = StateDone
				row.Data["id"] = entry.id
			case lookupFoundMoreIDs:
				row.State = StateError
				row.Messages = append(row.Messages, "Multiple committees share the name "+name)
			}
		}
		rows = append(rows, row)
	}

	result := Result{Rows: rows, Headers: committeeHeaders, Statistics: statistics(rows)}
	previewID, err := savePreview(ctx, e, "committee", result)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":         previewID,
		"state":      aggregateState(rows),
		"rows":       rows,
		"statistics": result.Statistics,
	}, nil
}

// committeeImport is phase 2: re-check the preview rows against the live
// state, replay the surviving rows through the standard actions, drop the
// preview.
func committeeImport(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
	previewID, ok := intOf(instance["id"])
	if !ok {
		return nil, httperr.NewSchemaViolation("data must contain ['id'] properties")
	}
	result, err := loadPreview(ctx, e, previewID, "committee")
	if err != nil {
		return nil, err
	}
	doImport, _ := instance["import"].(bool)
	if !doImport {
		if err := deletePreview(ctx, e, previewID); err != nil {
			return nil, err
		}
		return map[string]any{"id": previewID, "state": "aborted"}, nil
	}

	names := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if name, ok := row.Data["name"].(string); ok {
			names = append(names, name)
		}
	}
	existing, err := batchLookup(ctx, e, "committee", "name", names)
	if err != nil {
		return nil, err
	}

	var creates, updates []map[string]any
	for i := range result.Rows {
		row := &result.Rows[i]
		name, _ := row.Data["name"].(string)
		entry := existing[name]
		switch row.State {
		case StateNew:
			if entry.outcome != lookupNotFound {
				row.State = StateError
				row.Messages = append(row.Messages, "Committee "+name+" was created concurrently")
				continue
			}
			payload := map[string]any{"name": name, "organization_id": organizationID}
			if v, ok := row.Data["description"]; ok {
				payload["description"] = v
			}
			creates = append(creates, payload)
		case StateDone:
			id, _ := intOf(row.Data["id"])
			if entry.outcome != lookupFoundID || entry.id != id {
				row.State = StateError
				row.Messages = append(row.Messages, "Committee "+name+" changed concurrently")
				continue
			}
			payload := map[string]any{"id": id}
			if v, ok := row.Data["description"]; ok {
				payload["description"] = v
			}
			updates = append(updates, payload)
		}
	}

	// Each collected payload runs exactly once, after the row loop.
	if len(creates) > 0 {
		if _, err := e.ExecuteOther(ctx, "committee.create", creates); err != nil {
			return nil, err
		}
	}
	if len(updates) > 0 {
		if _, err := e.ExecuteOther(ctx, "committee.update", updates); err != nil {
			return nil, err
		}
	}
	if err := deletePreview(ctx, e, previewID); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":         previewID,
		"state":      aggregateState(result.Rows),
		"rows":       result.Rows,
		"statistics": statistics(result.Rows),
	}, nil
}

func intOf(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
