package actions

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/perm"
)

func init() {
	action.Register(&action.Action{
		Name:   "meeting_user.create",
		Schema: action.SchemaOf(reg, "meeting_user", []string{"user_id", "meeting_id"}, []string{"number", "vote_weight", "group_ids"}, nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.UserCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return action.GuardArchivedMeeting(ctx, e, meetingID)
		},
		Execute: action.CreateExecutor("meeting_user"),
	})

	action.Register(&action.Action{
		Name:   "meeting_user.update",
		Schema: action.SchemaOf(reg, "meeting_user", nil, []string{"number", "vote_weight", "group_ids", "supported_motion_ids"}, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "meeting_user", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.UserCanManage)
		},
		Execute: action.UpdateExecutor("meeting_user"),
	})

	action.Register(&action.Action{
		Name:   "meeting_user.delete",
		Schema: action.SchemaOf(reg, "meeting_user", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "meeting_user", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.UserCanManage)
		},
		Execute: action.DeleteExecutor("meeting_user"),
	})
}
