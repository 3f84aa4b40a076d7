package actions

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
)

func init() {
	action.Register(&action.Action{
		Name:     "list_of_speakers.create",
		Internal: true,
		Schema:   action.SchemaOf(reg, "list_of_speakers", []string{"content_object_id"}, []string{"meeting_id"}, nil),
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := action.InferMeetingID(ctx, e, instance, "content_object_id"); err != nil {
				return err
			}
			meetingID, _ := meetingIDOf(instance)
			number, err := action.NextSequentialNumber(ctx, e, "list_of_speakers", meetingID)
			if err != nil {
				return err
			}
			instance["sequential_number"] = number
			return nil
		},
		Execute: action.CreateExecutor("list_of_speakers"),
	})

	action.Register(&action.Action{
		Name:     "list_of_speakers.delete",
		Internal: true,
		Schema:   action.SchemaOf(reg, "list_of_speakers", nil, nil, nil).WithID(),
		Execute:  action.DeleteExecutor("list_of_speakers"),
	})
}
