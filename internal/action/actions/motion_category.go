package actions

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
	"github.com/plenumhq/plenum/pkg/treesort"
)

func init() {
	action.Register(&action.Action{
		Name:   "motion_category.create",
		Schema: action.SchemaOf(reg, "motion_category", []string{"name", "meeting_id"}, []string{"prefix", "parent_id"}, nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			if err := action.GuardArchivedMeeting(ctx, e, meetingID); err != nil {
				return err
			}
			number, err := action.NextSequentialNumber(ctx, e, "motion_category", meetingID)
			if err != nil {
				return err
			}
			instance["sequential_number"] = number
			if _, ok := instance["weight"]; !ok {
				weight, err := action.NextWeight(ctx, e, "motion_category", datastore.FilterOperator{
					Field: "meeting_id", Operator: "=", Value: meetingID,
				})
				if err != nil {
					return err
				}
				instance["weight"] = weight
			}
			return nil
		},
		Execute: action.CreateExecutor("motion_category"),
	})

	action.Register(&action.Action{
		Name:   "motion_category.update",
		Schema: action.SchemaOf(reg, "motion_category", nil, []string{"name", "prefix", "parent_id", "weight", "motion_ids"}, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "motion_category", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if raw, ok := instance["parent_id"]; ok && raw != nil {
				id, _ := intOf(instance["id"])
				parentID, ok := intOf(raw)
				if !ok {
					return httperr.NewValidation("parent_id must be an id")
				}
				return treesort.CheckNotAncestor(id, parentID, categoryParentOf(ctx, e))
			}
			return nil
		},
		Execute: action.UpdateExecutor("motion_category"),
	})

	action.Register(&action.Action{
		Name:   "motion_category.delete",
		Schema: action.SchemaOf(reg, "motion_category", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "motion_category", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		Execute: action.DeleteExecutor("motion_category"),
	})

	action.Register(&action.Action{
		Name:     "motion_category.sort",
		Singular: true,
		Schema:   action.SchemaOf(reg, "motion_category", []string{"meeting_id"}, nil, []string{"tree"}),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		Execute: sortTreeExecutor("motion_category"),
	})
}

func categoryParentOf(ctx context.Context, e *action.Env) func(id int) (int, error) {
	return func(id int) (int, error) {
		category, err := e.Cache.Get(ctx, fqid.New("motion_category", id), []string{"parent_id"})
		if err != nil {
			return 0, err
		}
		parent, _ := intOf(category["parent_id"])
		return parent, nil
	}
}
