package actions

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/perm"
)

func init() {
	action.Register(&action.Action{
		Name: "committee.create",
		Schema: action.SchemaOf(reg, "committee",
			[]string{"name", "organization_id"},
			[]string{"description", "manager_ids", "forward_to_committee_ids", "receive_forwardings_from_committee_ids"},
			nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			return e.Perm.RequireOML(ctx, e.UserID, perm.OMLCanManageOrg)
		},
		Execute: action.CreateExecutor("committee"),
	})

	action.Register(&action.Action{
		Name: "committee.update",
		Schema: action.SchemaOf(reg, "committee", nil,
			[]string{"name", "description", "manager_ids", "user_ids", "forward_to_committee_ids", "receive_forwardings_from_committee_ids"},
			nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			committeeID, _ := intOf(instance["id"])
			return e.Perm.RequireCML(ctx, e.UserID, committeeID)
		},
		Execute: action.UpdateExecutor("committee"),
	})

	action.Register(&action.Action{
		Name:   "committee.delete",
		Schema: action.SchemaOf(reg, "committee", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			return e.Perm.RequireOML(ctx, e.UserID, perm.OMLCanManageOrg)
		},
		Execute: action.DeleteExecutor("committee"),
	})
}
