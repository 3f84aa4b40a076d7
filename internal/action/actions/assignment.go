package actions

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/perm"
)

func init() {
	action.Register(&action.Action{
		Name: "assignment.create",
		Schema: action.SchemaOf(reg, "assignment",
			[]string{"title", "meeting_id"},
			[]string{"description", "open_posts", "phase", "attachment_mediafile_ids"},
			[]string{"agenda_create", "agenda_comment", "agenda_is_hidden", "agenda_is_internal"}),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AssignmentCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			if err := action.GuardArchivedMeeting(ctx, e, meetingID); err != nil {
				return err
			}
			number, err := action.NextSequentialNumber(ctx, e, "assignment", meetingID)
			if err != nil {
				return err
			}
			instance["sequential_number"] = number
			return nil
		},
		Execute: withoutExtras(action.CreateExecutor("assignment"),
			"agenda_create", "agenda_comment", "agenda_is_hidden", "agenda_is_internal"),
		Dependents: []action.Dependent{
			listOfSpeakersDependent("assignment"),
			{
				Check: func(e *action.Env, instance map[string]any) bool {
					flag, _ := instance["agenda_create"].(bool)
					return flag
				},
				Payload: agendaItemDependent("assignment").Payload,
			},
		},
	})

	action.Register(&action.Action{
		Name: "assignment.update",
		Schema: action.SchemaOf(reg, "assignment", nil,
			[]string{"title", "description", "open_posts", "phase", "attachment_mediafile_ids"},
			nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "assignment", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AssignmentCanManage)
		},
		Execute: action.UpdateExecutor("assignment"),
	})

	action.Register(&action.Action{
		Name:   "assignment.delete",
		Schema: action.SchemaOf(reg, "assignment", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "assignment", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AssignmentCanManage)
		},
		Execute: action.DeleteExecutor("assignment"),
	})
}
