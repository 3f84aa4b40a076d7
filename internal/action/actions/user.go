package actions

import (
	"context"
	"strconv"
	"strings"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/pkg/httperr"
)

var userPayloadFields = []string{
	"username", "title", "first_name", "last_name", "email", "is_active",
	"is_physical_person", "default_password", "organization_management_level",
	"organization_id", "committee_management_ids", "number_$", "comment_$",
}

func init() {
	action.Register(&action.Action{
		Name:   "user.create",
		Schema: action.SchemaOf(reg, "user", nil, userPayloadFields, nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := e.Perm.RequireOML(ctx, e.UserID, perm.OMLCanManageUsers); err != nil {
				return err
			}
			return requireFieldRights(ctx, e, 0, instance)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			username, _ := instance["username"].(string)
			if username == "" {
				generated, err := generateUsername(ctx, e, instance)
				if err != nil {
					return err
				}
				instance["username"] = generated
			}
			if address, ok := instance["email"].(string); ok && address != "" {
				if err := action.ValidateEmail(e, address, nil); err != nil {
					return err
				}
			}
			return nil
		},
		Execute: action.CreateExecutor("user"),
	})

	action.Register(&action.Action{
		Name:   "user.update",
		Schema: action.SchemaOf(reg, "user", nil, userPayloadFields, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			targetID, _ := intOf(instance["id"])
			return requireFieldRights(ctx, e, targetID, instance)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if address, ok := instance["email"].(string); ok && address != "" {
				return action.ValidateEmail(e, address, nil)
			}
			return nil
		},
		Execute: action.UpdateExecutor("user"),
	})

	action.Register(&action.Action{
		Name:   "user.delete",
		Schema: action.SchemaOf(reg, "user", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			targetID, _ := intOf(instance["id"])
			if targetID == e.UserID {
				return httperr.NewPermissionDenied("You cannot delete yourself.")
			}
			return e.Perm.RequireOML(ctx, e.UserID, perm.OMLCanManageUsers)
		},
		Execute: action.DeleteExecutor("user"),
	})
}

// requireFieldRights runs the per-field user permission matrix and reports
// every field the actor may not touch.
func requireFieldRights(ctx context.Context, e *action.Env, targetID int, instance map[string]any) error {
	failing, err := e.Perm.FailingFields(ctx, e.UserID, targetID, instance)
	if err != nil {
		return err
	}
	if len(failing) > 0 {
		return httperr.NewPermissionDenied(
			"You are not allowed to change the following fields: %s", strings.Join(failing, ", "))
	}
	return nil
}

// generateUsername derives a free username from the name parts.
func generateUsername(ctx context.Context, e *action.Env, instance map[string]any) (string, error) {
	first, _ := instance["first_name"].(string)
	last, _ := instance["last_name"].(string)
	base := strings.TrimSpace(strings.ReplaceAll(first+last, " ", ""))
	if base == "" {
		return "", httperr.NewValidation("Need username or first_name or last_name")
	}
	candidate := base
	for suffix := 1; ; suffix++ {
		taken, err := e.Cache.Exists(ctx, "user", datastore.FilterOperator{
			Field: "username", Operator: "=", Value: candidate,
		})
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(suffix)
	}
}
