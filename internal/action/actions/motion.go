package actions

import (
	"context"
	"time"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
	"github.com/plenumhq/plenum/pkg/treesort"
)

func init() {
	action.Register(&action.Action{
		Name: "motion.create",
		Schema: action.SchemaOf(reg, "motion",
			[]string{"title", "text", "meeting_id"},
			[]string{"reason", "number", "category_id", "sort_parent_id", "tag_ids", "attachment_mediafile_ids", "supporter_meeting_user_ids"},
			[]string{"submitter_meeting_user_ids", "agenda_create", "agenda_comment", "agenda_is_hidden", "agenda_is_internal"}),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanCreate)
		},
		UpdateInstance: motionCreateDerivations,
		Execute: withoutExtras(action.CreateExecutor("motion"),
			"submitter_meeting_user_ids", "agenda_create", "agenda_comment", "agenda_is_hidden", "agenda_is_internal"),
		Dependents: []action.Dependent{
			listOfSpeakersDependent("motion"),
			{
				Check: func(e *action.Env, instance map[string]any) bool {
					flag, _ := instance["agenda_create"].(bool)
					return flag
				},
				Payload: agendaItemDependent("motion").Payload,
			},
			{
				Payload: func(e *action.Env, instance map[string]any) (string, []map[string]any, error) {
					motionID, _ := intOf(instance["id"])
					meetingID, _ := meetingIDOf(instance)
					if instance["submitter_meeting_user_ids"] == nil {
						return "", nil, nil
					}
					submitters, err := idListOf(instance["submitter_meeting_user_ids"])
					if err != nil {
						return "", nil, err
					}
					payload := make([]map[string]any, 0, len(submitters))
					for i, meetingUserID := range submitters {
						payload = append(payload, map[string]any{
							"motion_id":       motionID,
							"meeting_id":      meetingID,
							"meeting_user_id": meetingUserID,
							"weight":          i + 1,
						})
					}
					return "motion_submitter.create", payload, nil
				},
			},
		},
	})

	action.Register(&action.Action{
		Name: "motion.update",
		Schema: action.SchemaOf(reg, "motion", nil,
			[]string{"title", "text", "reason", "number", "category_id", "state_id", "sort_parent_id", "tag_ids", "attachment_mediafile_ids", "supporter_meeting_user_ids"},
			nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "motion", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if raw, ok := instance["sort_parent_id"]; ok && raw != nil {
				id, _ := intOf(instance["id"])
				parentID, ok := intOf(raw)
				if !ok {
					return httperr.NewValidation("sort_parent_id must be an id")
				}
				if err := treesort.CheckNotAncestor(id, parentID, motionSortParentOf(ctx, e)); err != nil {
					return err
				}
			}
			instance["last_modified"] = now()
			return nil
		},
		Execute: action.UpdateExecutor("motion"),
	})

	action.Register(&action.Action{
		Name:   "motion.delete",
		Schema: action.SchemaOf(reg, "motion", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "motion", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		Execute: action.DeleteExecutor("motion"),
	})

	action.Register(&action.Action{
		Name:     "motion.sort",
		Singular: true,
		Schema:   action.SchemaOf(reg, "motion", []string{"meeting_id"}, nil, []string{"tree"}),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MotionCanManage)
		},
		Execute: motionSortExecutor,
	})
}

// motionCreateDerivations fills sequential number, initial workflow state
// and the computed display number before creation.
func motionCreateDerivations(ctx context.Context, e *action.Env, instance map[string]any) error {
	meetingID, _ := meetingIDOf(instance)
	if err := action.GuardArchivedMeeting(ctx, e, meetingID); err != nil {
		return err
	}
	number, err := action.NextSequentialNumber(ctx, e, "motion", meetingID)
	if err != nil {
		return err
	}
	instance["sequential_number"] = number
	instance["created"] = now()

	stateID, err := firstWorkflowState(ctx, e, meetingID)
	if err != nil {
		return err
	}
	if stateID != 0 {
		instance["state_id"] = stateID
	}

	setNumber := true
	if stateID != 0 {
		state, err := e.Cache.Get(ctx, fqid.New("motion_state", stateID), []string{"set_number"})
		if err != nil {
			return err
		}
		if v, ok := state["set_number"].(bool); ok {
			setNumber = v
		}
	}
	if _, given := instance["number"]; !given && setNumber {
		categoryID, _ := intOf(instance["category_id"])
		display, value, err := action.MotionNumber(ctx, e, meetingID, categoryID)
		if err != nil {
			return err
		}
		if display != "" {
			instance["number"] = display
			instance["number_value"] = value
		}
	}
	return nil
}

// firstWorkflowState resolves the first state of the meeting's default
// workflow, 0 when the meeting has none configured.
func firstWorkflowState(ctx context.Context, e *action.Env, meetingID int) (int, error) {
	meeting, err := e.Cache.Get(ctx, fqid.New("meeting", meetingID), []string{"motions_default_workflow_id"})
	if err != nil {
		return 0, err
	}
	workflowID, ok := intOf(meeting["motions_default_workflow_id"])
	if !ok {
		return 0, nil
	}
	workflow, err := e.Cache.Get(ctx, fqid.New("motion_workflow", workflowID), []string{"first_state_id"})
	if err != nil {
		return 0, err
	}
	stateID, ok := intOf(workflow["first_state_id"])
	if !ok {
		return 0, httperr.NewValidation("Workflow %d has no first state", workflowID)
	}
	return stateID, nil
}

func motionSortParentOf(ctx context.Context, e *action.Env) func(id int) (int, error) {
	return func(id int) (int, error) {
		motion, err := e.Cache.Get(ctx, fqid.New("motion", id), []string{"sort_parent_id"})
		if err != nil {
			return 0, err
		}
		parent, _ := intOf(motion["sort_parent_id"])
		return parent, nil
	}
}

func motionSortExecutor(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
	meetingID, ok := meetingIDOf(instance)
	if !ok {
		return nil, httperr.NewValidation("meeting_id is required")
	}
	roots, err := treeOf(instance["tree"])
	if err != nil {
		return nil, err
	}
	existing, err := e.Cache.Filter(ctx, "motion", datastore.FilterOperator{
		Field: "meeting_id", Operator: "=", Value: meetingID,
	}, nil)
	if err != nil {
		return nil, err
	}
	valid := make(map[int]bool, len(existing))
	for id := range existing {
		valid[id] = true
	}
	assignments, err := treesort.Tree(roots, valid)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		fields := map[string]any{"sort_weight": a.Weight}
		if a.ParentID != 0 {
			fields["sort_parent_id"] = a.ParentID
		} else {
			fields["sort_parent_id"] = nil
		}
		if len(a.ChildIDs) > 0 {
			fields["sort_child_ids"] = intsAsAny(a.ChildIDs)
		} else {
			fields["sort_child_ids"] = nil
		}
		e.EmitUpdate(fqid.New("motion", a.ID), fields)
	}
	return map[string]any{}, nil
}

func now() int {
	return int(time.Now().Unix())
}
