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
		Name:   "motion_workflow.create",
		Schema: action.SchemaOf(reg, "motion_workflow", []string{"name", "meeting_id"}, nil, []string{"first_state_name"}),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			if err := action.GuardArchivedMeeting(ctx, e, meetingID); err != nil {
				return err
			}
			number, err := action.NextSequentialNumber(ctx, e, "motion_workflow", meetingID)
			if err != nil {
				return err
			}
			instance["sequential_number"] = number
			return nil
		},
		Execute: workflowCreateExecutor,
	})

	action.Register(&action.Action{
		Name:   "motion_workflow.update",
		Schema: action.SchemaOf(reg, "motion_workflow", nil, []string{"name", "first_state_id"}, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "motion_workflow", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		Execute: action.UpdateExecutor("motion_workflow"),
	})

	action.Register(&action.Action{
		Name:   "motion_workflow.delete",
		Schema: action.SchemaOf(reg, "motion_workflow", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "motion_workflow", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			id, _ := intOf(instance["id"])
			workflow, err := e.Cache.Get(ctx, fqid.New("motion_workflow", id), []string{"default_workflow_meeting_id"})
			if err != nil {
				return err
			}
			if meetingID, ok := intOf(workflow["default_workflow_meeting_id"]); ok {
				// A meeting cascading its own deletion takes its default
				// workflow with it.
				if !e.Cache.IsDeleted(fqid.New("meeting", meetingID)) {
					return httperr.NewValidation("Cannot delete a default workflow.")
				}
			}
			return nil
		},
		Execute: action.DeleteExecutor("motion_workflow"),
	})
}

// workflowCreateExecutor creates the workflow together with its initial
// state and wires that state as the workflow's first.
func workflowCreateExecutor(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
	stateName, _ := instance["first_state_name"].(string)
	if stateName == "" {
		stateName = "submitted"
	}
	create := withoutExtras(action.CreateExecutor("motion_workflow"), "first_state_name")
	result, err := create(ctx, e, instance)
	if err != nil {
		return nil, err
	}
	workflowID, _ := intOf(result["id"])

	stateResults, err := e.ExecuteOther(ctx, "motion_state.create", []map[string]any{{
		"name":        stateName,
		"workflow_id": workflowID,
	}})
	if err != nil {
		return nil, err
	}
	stateID, _ := intOf(stateResults[0]["id"])

	if _, err := e.ExecuteOther(ctx, "motion_workflow.update", []map[string]any{{
		"id":             workflowID,
		"first_state_id": stateID,
	}}); err != nil {
		return nil, err
	}
	return result, nil
}
