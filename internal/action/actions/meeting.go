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
		Name: "meeting.create",
		Schema: action.SchemaOf(reg, "meeting",
			[]string{"name", "committee_id"},
			[]string{"description", "location", "start_time", "end_time"},
			nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			committeeID, ok := intOf(instance["committee_id"])
			if !ok {
				return httperr.NewSchemaViolation("committee_id must be an id")
			}
			return e.Perm.RequireCML(ctx, e.UserID, committeeID)
		},
		Execute: meetingCreateExecutor,
	})

	action.Register(&action.Action{
		Name: "meeting.update",
		Schema: action.SchemaOf(reg, "meeting", nil,
			[]string{"name", "description", "location", "start_time", "end_time", "is_archived",
				"motions_number_type", "motions_number_min_digits", "motions_default_workflow_id",
				"default_group_id", "admin_group_id"},
			nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := intOf(instance["id"])
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MeetingCanManageSettings)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			// Unarchiving is the one edit an archived meeting accepts.
			if v, ok := instance["is_archived"].(bool); ok && !v {
				return nil
			}
			meetingID, _ := intOf(instance["id"])
			return action.GuardArchivedMeeting(ctx, e, meetingID)
		},
		Execute: action.UpdateExecutor("meeting"),
	})

	action.Register(&action.Action{
		Name:   "meeting.delete",
		Schema: action.SchemaOf(reg, "meeting", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := intOf(instance["id"])
			meeting, err := e.Cache.Get(ctx, fqid.New("meeting", meetingID), []string{"committee_id"})
			if err != nil {
				return err
			}
			committeeID, _ := intOf(meeting["committee_id"])
			return e.Perm.RequireCML(ctx, e.UserID, committeeID)
		},
		Execute: action.DeleteExecutor("meeting"),
	})

	action.Register(&action.Action{
		Name:     "meeting.set_logo",
		Singular: true,
		Schema:   action.SchemaOf(reg, "meeting", nil, nil, []string{"place", "mediafile_id"}).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := intOf(instance["id"])
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MeetingCanManageSettings)
		},
		Execute: func(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
			place, mediafileID, err := logoArgs(instance, true)
			if err != nil {
				return nil, err
			}
			fields := map[string]any{"id": instance["id"]}
			fields["logo_$"+place+"_id"] = mediafileID
			update := action.UpdateExecutor("meeting")
			return update(ctx, e, fields)
		},
	})

	action.Register(&action.Action{
		Name:     "meeting.unset_logo",
		Singular: true,
		Schema:   action.SchemaOf(reg, "meeting", nil, nil, []string{"place"}).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := intOf(instance["id"])
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.MeetingCanManageSettings)
		},
		Execute: func(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
			place, _, err := logoArgs(instance, false)
			if err != nil {
				return nil, err
			}
			fields := map[string]any{"id": instance["id"]}
			fields["logo_$"+place+"_id"] = nil
			update := action.UpdateExecutor("meeting")
			return update(ctx, e, fields)
		},
	})
}

// meetingCreateExecutor creates the meeting together with its default and
// admin groups and its default workflow, then links all three.
func meetingCreateExecutor(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
	create := action.CreateExecutor("meeting")
	result, err := create(ctx, e, instance)
	if err != nil {
		return nil, err
	}
	meetingID, _ := intOf(result["id"])

	groups, err := e.ExecuteOther(ctx, "group.create", []map[string]any{
		{"name": "Default", "meeting_id": meetingID, "permissions": []any{
			perm.AgendaItemCanSee, perm.MotionCanSee, perm.AssignmentCanSee,
			perm.ListOfSpeakersCanSee, perm.MediafileCanSee, perm.UserCanSee,
		}},
		{"name": "Admin", "meeting_id": meetingID},
	})
	if err != nil {
		return nil, err
	}
	defaultGroupID, _ := intOf(groups[0]["id"])
	adminGroupID, _ := intOf(groups[1]["id"])

	workflows, err := e.ExecuteOther(ctx, "motion_workflow.create", []map[string]any{{
		"name":       "Simple Workflow",
		"meeting_id": meetingID,
	}})
	if err != nil {
		return nil, err
	}
	workflowID, _ := intOf(workflows[0]["id"])

	if _, err := e.ExecuteOther(ctx, "meeting.update", []map[string]any{{
		"id":                          meetingID,
		"default_group_id":            defaultGroupID,
		"admin_group_id":              adminGroupID,
		"motions_default_workflow_id": workflowID,
	}}); err != nil {
		return nil, err
	}
	return result, nil
}

func logoArgs(instance map[string]any, needsFile bool) (string, any, error) {
	place, _ := instance["place"].(string)
	if place == "" {
		return "", nil, httperr.NewSchemaViolation("data must contain ['place'] properties")
	}
	if !needsFile {
		return place, nil, nil
	}
	mediafileID, ok := intOf(instance["mediafile_id"])
	if !ok {
		return "", nil, httperr.NewSchemaViolation("data must contain ['mediafile_id'] properties")
	}
	return place, mediafileID, nil
}
