package actions

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

func init() {
	action.Register(&action.Action{
		Name:   "group.create",
		Schema: action.SchemaOf(reg, "group", []string{"name", "meeting_id"}, []string{"permissions"}, nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.UserCanManage)
		},
		Execute: action.CreateExecutor("group"),
	})

	action.Register(&action.Action{
		Name:   "group.update",
		Schema: action.SchemaOf(reg, "group", nil, []string{"name", "permissions", "meeting_user_ids"}, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "group", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.UserCanManage)
		},
		Execute: action.UpdateExecutor("group"),
	})

	action.Register(&action.Action{
		Name:   "group.delete",
		Schema: action.SchemaOf(reg, "group", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "group", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.UserCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			id, _ := intOf(instance["id"])
			group, err := e.Cache.Get(ctx, fqid.New("group", id), []string{
				"default_group_for_meeting_id", "admin_group_for_meeting_id",
			})
			if err != nil {
				return err
			}
			for _, field := range []string{"default_group_for_meeting_id", "admin_group_for_meeting_id"} {
				if meetingID, ok := intOf(group[field]); ok {
					if !e.Cache.IsDeleted(fqid.New("meeting", meetingID)) {
						return httperr.NewValidation("You cannot delete the designated groups of a meeting.")
					}
				}
			}
			return nil
		},
		Execute: action.DeleteExecutor("group"),
	})
}
