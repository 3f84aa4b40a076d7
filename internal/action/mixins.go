package action

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// Mixins are composable slices of the instance lifecycle, called from an
// action's UpdateInstance hook.

// InferMeetingID derives meeting_id from a referenced content object when
// the payload does not carry one.
func InferMeetingID(ctx context.Context, e *Env, instance map[string]any, viaField string) error {
	if _, ok := instance["meeting_id"]; ok {
		return nil
	}
	raw, ok := instance[viaField].(string)
	if !ok {
		return httperr.NewValidation("%s is required to derive the meeting", viaField)
	}
	ref, err := fqid.Parse(raw)
	if err != nil {
		return httperr.NewValidation("%s: %v", viaField, err)
	}
	target, err := e.Cache.Get(ctx, ref, []string{"meeting_id"})
	if err != nil {
		return err
	}
	meetingID, ok := intOf(target["meeting_id"])
	if !ok {
		return httperr.NewValidation("%s has no meeting", ref)
	}
	instance["meeting_id"] = meetingID
	return nil
}

// InferMeetingIDVia derives meeting_id through a plain relation field
// pointing into the given collection.
func InferMeetingIDVia(ctx context.Context, e *Env, instance map[string]any, viaField, collection string) error {
	if _, ok := instance["meeting_id"]; ok {
		return nil
	}
	id, ok := intOf(instance[viaField])
	if !ok {
		return httperr.NewValidation("%s is required to derive the meeting", viaField)
	}
	target, err := e.Cache.Get(ctx, fqid.New(collection, id), []string{"meeting_id"})
	if err != nil {
		return err
	}
	meetingID, ok := intOf(target["meeting_id"])
	if !ok {
		return httperr.NewValidation("%s/%d has no meeting", collection, id)
	}
	instance["meeting_id"] = meetingID
	return nil
}

// NextWeight allocates max(sibling weight)+1 among the models matching
// the filter. The locked read keeps concurrent allocation retryable.
func NextWeight(ctx context.Context, e *Env, collection string, f datastore.Filter) (int, error) {
	max, err := e.Cache.Max(ctx, collection, f, "weight")
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

// NextSequentialNumber assigns the per-meeting monotone counter.
func NextSequentialNumber(ctx context.Context, e *Env, collection string, meetingID int) (int, error) {
	max, err := e.Cache.Max(ctx, collection, datastore.FilterOperator{
		Field: "meeting_id", Operator: "=", Value: meetingID,
	}, "sequential_number")
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

// GuardArchivedMeeting rejects writes into archived meetings. Actions on
// the whitelist (meeting.update itself, deletions) pass.
func GuardArchivedMeeting(ctx context.Context, e *Env, meetingID int) error {
	meeting, err := e.Cache.Get(ctx, fqid.New("meeting", meetingID), []string{"is_archived", "name"})
	if err != nil {
		return err
	}
	if archived, _ := meeting["is_archived"].(bool); archived {
		name, _ := meeting["name"].(string)
		return httperr.NewValidation("Meeting %s is archived", name)
	}
	return nil
}

// ValidateEmail checks the address and queues the side effect for after
// the write. The send itself runs only on success.
func ValidateEmail(e *Env, address string, send func()) error {
	if _, err := mail.ParseAddress(address); err != nil {
		return httperr.NewValidation("%q is not a valid email address", address)
	}
	if send != nil {
		e.OnSuccess(send)
	}
	return nil
}

// MotionNumber computes the display number of a motion per the meeting's
// numbering settings: a per-category prefix plus a zero-padded counter
// unique within the numbering scope.
func MotionNumber(ctx context.Context, e *Env, meetingID int, categoryID int) (string, int, error) {
	meeting, err := e.Cache.Get(ctx, fqid.New("meeting", meetingID), []string{
		"motions_number_type", "motions_number_min_digits",
	})
	if err != nil {
		return "", 0, err
	}
	numberType, _ := meeting["motions_number_type"].(string)
	if numberType == "manually" {
		return "", 0, nil
	}
	minDigits, ok := intOf(meeting["motions_number_min_digits"])
	if !ok {
		minDigits = 1
	}

	prefix := ""
	scope := datastore.And{
		datastore.FilterOperator{Field: "meeting_id", Operator: "=", Value: meetingID},
	}
	if numberType == "per_category" && categoryID != 0 {
		category, err := e.Cache.Get(ctx, fqid.New("motion_category", categoryID), []string{"prefix"})
		if err != nil {
			return "", 0, err
		}
		prefix, _ = category["prefix"].(string)
		scope = append(scope, datastore.FilterOperator{Field: "category_id", Operator: "=", Value: categoryID})
	}

	max, err := e.Cache.Max(ctx, "motion", scope, "number_value")
	if err != nil {
		return "", 0, err
	}
	value := 1
	if max != nil {
		value = *max + 1
	}

	// The counter is the first free value whose rendering is unused; a
	// manually assigned number may already occupy the computed one.
	for {
		number := fmt.Sprintf("%s%0*d", prefix, minDigits, value)
		taken, err := e.Cache.Exists(ctx, "motion", datastore.And{
			datastore.FilterOperator{Field: "meeting_id", Operator: "=", Value: meetingID},
			datastore.FilterOperator{Field: "number", Operator: "=", Value: number},
		})
		if err != nil {
			return "", 0, err
		}
		if !taken {
			return number, value, nil
		}
		value++
	}
}

// SplitActionName returns the collection and verb of an action name.
func SplitActionName(name string) (collection, verb string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}
