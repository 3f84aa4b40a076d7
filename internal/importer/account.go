package importer

import (
	"context"
	"strings"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/pkg/httperr"
)

var accountHeaders = []Header{
	{Property: "username", Type: "string"},
	{Property: "title", Type: "string"},
	{Property: "first_name", Type: "string"},
	{Property: "last_name", Type: "string"},
	{Property: "email", Type: "string"},
	{Property: "default_password", Type: "string"},
	{Property: "is_active", Type: "boolean"},
	{Property: "is_physical_person", Type: "boolean"},
}

func init() {
	action.Register(&action.Action{
		Name:       "account.json_upload",
		Collection: "user",
		Singular:   true,
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			return e.Perm.RequireOML(ctx, e.UserID, perm.OMLCanManageUsers)
		},
		Execute: accountJSONUpload,
	})

	action.Register(&action.Action{
		Name:       "account.import",
		Collection: "user",
		Singular:   true,
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			return e.Perm.RequireOML(ctx, e.UserID, perm.OMLCanManageUsers)
		},
		Execute: accountImport,
	})
}

func accountJSONUpload(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
	raw, err := rowsOf(instance)
	if err != nil {
		return nil, err
	}

	usernames := make([]string, 0, len(raw))
	for _, row := range raw {
		if username, ok := row["username"].(string); ok {
			usernames = append(usernames, username)
		}
	}
	existing, err := batchLookup(ctx, e, "user", "username", usernames)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	rows := make([]Row, 0, len(raw))
	for _, rawRow := range raw {
		row := Row{State: StateNew, Data: map[string]any{}}
		for _, h := range accountHeaders {
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

		username, _ := row.Data["username"].(string)
		if username == "" {
			first, _ := row.Data["first_name"].(string)
			last, _ := row.Data["last_name"].(string)
			generated := strings.ReplaceAll(first+last, " ", "")
			if generated == "" {
				row.State = StateError
				row.Messages = append(row.Messages, "Need username or first_name or last_name")
				rows = append(rows, row)
				continue
			}
			username = generated
			row.Data["username"] = username
			row.State = mergeState(row.State, StateGenerated)
			row.Messages = append(row.Messages, "Username was generated")
		}

		switch {
		case seen[username]:
			row.State = StateError
			row.Messages = append(row.Messages, "Duplicate username in import data: "+username)
		default:
			seen[username] = true
			switch entry := existing[username]; entry.outcome {
			case lookupFoundID:
				row.State = mergeState(row.State, StateDone)
				row.Data["id"] = entry.id
			case lookupFoundMoreIDs:
				row.State = StateError
				row.Messages = append(row.Messages, "Multiple accounts share the username "+username)
			}
		}
		rows = append(rows, row)
	}

	result := Result{Rows: rows, Headers: accountHeaders, Statistics: statistics(rows)}
	previewID, err := savePreview(ctx, e, "account", result)
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

func accountImport(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
	previewID, ok := intOf(instance["id"])
	if !ok {
		return nil, httperr.NewSchemaViolation("data must contain ['id'] properties")
	}
	result, err := loadPreview(ctx, e, previewID, "account")
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

	usernames := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if username, ok := row.Data["username"].(string); ok {
			usernames = append(usernames, username)
		}
	}
	existing, err := batchLookup(ctx, e, "user", "username", usernames)
	if err != nil {
		return nil, err
	}

	var creates, updates []map[string]any
	for i := range result.Rows {
		row := &result.Rows[i]
		username, _ := row.Data["username"].(string)
		entry := existing[username]
		switch row.State {
		case StateNew, StateGenerated:
			if entry.outcome != lookupNotFound {
				row.State = StateError
				row.Messages = append(row.Messages, "Account "+username+" was created concurrently")
				continue
			}
			creates = append(creates, accountPayload(row.Data, 0))
		case StateDone:
			id, _ := intOf(row.Data["id"])
			if entry.outcome != lookupFoundID || entry.id != id {
				row.State = StateError
				row.Messages = append(row.Messages, "Account "+username+" changed concurrently")
				continue
			}
			updates = append(updates, accountPayload(row.Data, id))
		}
	}

	if len(creates) > 0 {
		if _, err := e.ExecuteOther(ctx, "user.create", creates); err != nil {
			return nil, err
		}
	}
	if len(updates) > 0 {
		if _, err := e.ExecuteOther(ctx, "user.update", updates); err != nil {
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

// accountPayload maps preview row data onto the user action payload; id 0
// means a create.
func accountPayload(data map[string]any, id int) map[string]any {
	payload := map[string]any{}
	for _, h := range accountHeaders {
		if v, ok := data[h.Property]; ok {
			payload[h.Property] = v
		}
	}
	if id != 0 {
		payload["id"] = id
		delete(payload, "username")
	}
	return payload
}
