package presenter

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/pkg/httperr"
)

func init() {
	Register("get_health", getHealth)
	Register("get_user_scope", getUserScope)
	Register("search_users", searchUsers)
}

func getHealth(ctx context.Context, e *Env, data json.RawMessage) (any, error) {
	// A cheap read proves the datastore is reachable.
	if _, err := e.Cache.Exists(ctx, "organization", datastore.FilterOperator{
		Field: "id", Operator: ">=", Value: 1,
	}); err != nil {
		return map[string]any{"healthy": false}, nil
	}
	return map[string]any{"healthy": true}, nil
}

// getUserScope reports where each requested user participates: one
// meeting, one committee or the whole organization.
func getUserScope(ctx context.Context, e *Env, data json.RawMessage) (any, error) {
	if err := e.Perm.RequireOML(ctx, e.UserID, perm.OMLCanManageUsers); err != nil {
		return nil, err
	}
	var payload struct {
		UserIDs []int `json:"user_ids"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, httperr.NewSchemaViolation("data must contain ['user_ids'] properties")
	}
	out := map[string]any{}
	for _, userID := range payload.UserIDs {
		scope, err := e.Perm.UserScope(ctx, userID)
		if err != nil {
			return nil, err
		}
		entry := map[string]any{"collection": scope.Kind}
		switch scope.Kind {
		case "meeting":
			entry["id"] = scope.MeetingID
		case "committee":
			entry["id"] = scope.CommitteeID
		default:
			entry["id"] = 1
		}
		oml, err := e.Perm.UserOML(ctx, userID)
		if err != nil {
			return nil, err
		}
		entry["user_oml"] = string(oml)
		out[strconv.Itoa(userID)] = entry
	}
	return out, nil
}

// searchUsers resolves each query by exact username or email match and
// returns the matching ids with their display fields.
func searchUsers(ctx context.Context, e *Env, data json.RawMessage) (any, error) {
	if err := e.Perm.RequireOML(ctx, e.UserID, perm.OMLCanManageUsers); err != nil {
		return nil, err
	}
	var payload struct {
		Queries []struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		} `json:"queries"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, httperr.NewSchemaViolation("data must contain ['queries'] properties")
	}

	results := make([]any, 0, len(payload.Queries))
	for _, q := range payload.Queries {
		var f datastore.Filter
		switch {
		case q.Username != "" && q.Email != "":
			f = datastore.And{
				datastore.FilterOperator{Field: "username", Operator: "=", Value: q.Username},
				datastore.FilterOperator{Field: "email", Operator: "=", Value: q.Email},
			}
		case q.Username != "":
			f = datastore.FilterOperator{Field: "username", Operator: "=", Value: q.Username}
		case q.Email != "":
			f = datastore.FilterOperator{Field: "email", Operator: "=", Value: q.Email}
		default:
			results = append(results, []any{})
			continue
		}
		models, err := e.Cache.Filter(ctx, "user", f, []string{"username", "first_name", "last_name", "email"})
		if err != nil {
			return nil, err
		}
		ids := make([]int, 0, len(models))
		for id := range models {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		matches := make([]any, 0, len(ids))
		for _, id := range ids {
			m := models[id]
			matches = append(matches, map[string]any{
				"id":         id,
				"username":   m["username"],
				"first_name": m["first_name"],
				"last_name":  m["last_name"],
				"email":      m["email"],
			})
		}
		results = append(results, matches)
	}
	return results, nil
}
