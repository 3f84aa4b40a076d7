package actions

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/treesort"
)

func init() {
	action.Register(&action.Action{
		Name:   "motion_submitter.create",
		Schema: action.SchemaOf(reg, "motion_submitter", []string{"motion_id", "meeting_user_id"}, []string{"meeting_id", "weight"}, nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := action.InferMeetingIDVia(ctx, e, instance, "motion_id", "motion"); err != nil {
				return err
			}
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := action.InferMeetingIDVia(ctx, e, instance, "motion_id", "motion"); err != nil {
				return err
			}
			if _, ok := instance["weight"]; !ok {
				motionID, _ := intOf(instance["motion_id"])
				weight, err := action.NextWeight(ctx, e, "motion_submitter", datastore.FilterOperator{
					Field: "motion_id", Operator: "=", Value: motionID,
				})
				if err != nil {
					return err
				}
				instance["weight"] = weight
			}
			return nil
		},
		Execute: action.CreateExecutor("motion_submitter"),
	})

	action.Register(&action.Action{
		Name:   "motion_submitter.delete",
		Schema: action.SchemaOf(reg, "motion_submitter", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "motion_submitter", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		Execute: action.DeleteExecutor("motion_submitter"),
	})

	action.Register(&action.Action{
		Name:     "motion_submitter.sort",
		Singular: true,
		Schema:   action.SchemaOf(reg, "motion_submitter", []string{"motion_id"}, nil, []string{"motion_submitter_ids"}),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := action.InferMeetingIDVia(ctx, e, instance, "motion_id", "motion"); err != nil {
				return err
			}
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		Execute: func(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
			motionID, _ := intOf(instance["motion_id"])
			ids, err := idListOf(instance["motion_submitter_ids"])
			if err != nil {
				return nil, err
			}
			existing, err := e.Cache.Filter(ctx, "motion_submitter", datastore.FilterOperator{
				Field: "motion_id", Operator: "=", Value: motionID,
			}, nil)
			if err != nil {
				return nil, err
			}
			valid := make(map[int]bool, len(existing))
			for id := range existing {
				valid[id] = true
			}
			weights, err := treesort.Linear(ids, valid)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				e.EmitUpdate(fqid.New("motion_submitter", id), map[string]any{"weight": weights[id]})
			}
			return map[string]any{}, nil
		},
	})
}
