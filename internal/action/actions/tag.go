package actions

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/perm"
)

func init() {
	action.Register(&action.Action{
		Name:   "tag.create",
		Schema: action.SchemaOf(reg, "tag", []string{"name", "meeting_id"}, []string{"tagged_ids"}, nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.TagCanManage)
		},
		Execute: action.CreateExecutor("tag"),
	})

	action.Register(&action.Action{
		Name:   "tag.update",
		Schema: action.SchemaOf(reg, "tag", nil, []string{"name", "tagged_ids"}, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "tag", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.TagCanManage)
		},
		Execute: action.UpdateExecutor("tag"),
	})

	action.Register(&action.Action{
		Name:   "tag.delete",
		Schema: action.SchemaOf(reg, "tag", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "tag", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.TagCanManage)
		},
		Execute: action.DeleteExecutor("tag"),
	})
}
