package actions

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/perm"
)

func init() {
	action.Register(&action.Action{
		Name:   "motion_state.create",
		Schema: action.SchemaOf(reg, "motion_state", []string{"name", "workflow_id"}, []string{"meeting_id", "weight", "set_number", "next_state_ids", "previous_state_ids"}, nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := action.InferMeetingIDVia(ctx, e, instance, "workflow_id", "motion_workflow"); err != nil {
				return err
			}
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := action.InferMeetingIDVia(ctx, e, instance, "workflow_id", "motion_workflow"); err != nil {
				return err
			}
			if _, ok := instance["weight"]; !ok {
				workflowID, _ := intOf(instance["workflow_id"])
				weight, err := action.NextWeight(ctx, e, "motion_state", datastore.FilterOperator{
					Field: "workflow_id", Operator: "=", Value: workflowID,
				})
				if err != nil {
					return err
				}
				instance["weight"] = weight
			}
			return nil
		},
		Execute: action.CreateExecutor("motion_state"),
	})

	action.Register(&action.Action{
		Name:   "motion_state.update",
		Schema: action.SchemaOf(reg, "motion_state", nil, []string{"name", "weight", "set_number", "next_state_ids", "previous_state_ids", "first_state_of_workflow_id"}, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "motion_state", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		Execute: action.UpdateExecutor("motion_state"),
	})

	action.Register(&action.Action{
		Name:   "motion_state.delete",
		Schema: action.SchemaOf(reg, "motion_state", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "motion_state", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		Execute: action.DeleteExecutor("motion_state"),
	})
}
