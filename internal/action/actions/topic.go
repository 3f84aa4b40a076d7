package actions

import (
	"context"
	"fmt"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/perm"
)

func init() {
	action.Register(&action.Action{
		Name:   "topic.create",
		Schema: action.SchemaOf(reg, "topic", []string{"title", "meeting_id"}, []string{"text", "attachment_mediafile_ids"}, []string{"agenda_comment", "agenda_is_hidden", "agenda_is_internal"}),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AgendaItemCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			if err := action.GuardArchivedMeeting(ctx, e, meetingID); err != nil {
				return err
			}
			number, err := action.NextSequentialNumber(ctx, e, "topic", meetingID)
			if err != nil {
				return err
			}
			instance["sequential_number"] = number
			return nil
		},
		Execute: withoutExtras(action.CreateExecutor("topic"), "agenda_comment", "agenda_is_hidden", "agenda_is_internal"),
		Dependents: []action.Dependent{
			agendaItemDependent("topic"),
			listOfSpeakersDependent("topic"),
		},
	})

	action.Register(&action.Action{
		Name:   "topic.update",
		Schema: action.SchemaOf(reg, "topic", nil, []string{"title", "text", "attachment_mediafile_ids"}, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "topic", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AgendaItemCanManage)
		},
		Execute: action.UpdateExecutor("topic"),
	})

	action.Register(&action.Action{
		Name:   "topic.delete",
		Schema: action.SchemaOf(reg, "topic", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "topic", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AgendaItemCanManage)
		},
		Execute: action.DeleteExecutor("topic"),
	})
}

// agendaItemDependent creates the agenda item backing a freshly created
// content object. The agenda_* payload extras carry over into the item.
func agendaItemDependent(collection string) action.Dependent {
	return action.Dependent{
		Payload: func(e *action.Env, instance map[string]any) (string, []map[string]any, error) {
			id, ok := intOf(instance["id"])
			if !ok {
				return "", nil, fmt.Errorf("%s instance has no id after creation", collection)
			}
			item := map[string]any{
				"content_object_id": fmt.Sprintf("%s/%d", collection, id),
			}
			if v, ok := instance["agenda_comment"]; ok {
				item["comment"] = v
			}
			if v, ok := instance["agenda_is_hidden"]; ok {
				item["is_hidden"] = v
			}
			if v, ok := instance["agenda_is_internal"]; ok {
				item["is_internal"] = v
			}
			return "agenda_item.create", []map[string]any{item}, nil
		},
	}
}

// listOfSpeakersDependent creates the speaker list every content object
// carries.
func listOfSpeakersDependent(collection string) action.Dependent {
	return action.Dependent{
		Payload: func(e *action.Env, instance map[string]any) (string, []map[string]any, error) {
			id, ok := intOf(instance["id"])
			if !ok {
				return "", nil, fmt.Errorf("%s instance has no id after creation", collection)
			}
			meetingID, _ := meetingIDOf(instance)
			return "list_of_speakers.create", []map[string]any{{
				"content_object_id": fmt.Sprintf("%s/%d", collection, id),
				"meeting_id":        meetingID,
			}}, nil
		},
	}
}

// withoutExtras strips verb parameters that are not registry fields before
// the generic executor validates the instance.
func withoutExtras(execute func(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error), extras ...string) func(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
	return func(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
		clean := make(map[string]any, len(instance))
		for k, v := range instance {
			if containsString(extras, k) {
				continue
			}
			clean[k] = v
		}
		result, err := execute(ctx, e, clean)
		if err != nil {
			return nil, err
		}
		// The dependents read the generated id off the shared instance.
		if id, ok := clean["id"]; ok {
			instance["id"] = id
		}
		return result, nil
	}
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
