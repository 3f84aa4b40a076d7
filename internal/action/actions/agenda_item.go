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
		Name:   "agenda_item.create",
		Schema: action.SchemaOf(reg, "agenda_item", []string{"content_object_id"}, []string{"item_number", "comment", "is_hidden", "is_internal", "duration", "parent_id", "tag_ids", "meeting_id"}, nil),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := action.InferMeetingID(ctx, e, instance, "content_object_id"); err != nil {
				return err
			}
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AgendaItemCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if err := action.InferMeetingID(ctx, e, instance, "content_object_id"); err != nil {
				return err
			}
			meetingID, _ := meetingIDOf(instance)
			if err := action.GuardArchivedMeeting(ctx, e, meetingID); err != nil {
				return err
			}
			if _, ok := instance["weight"]; !ok {
				weight, err := action.NextWeight(ctx, e, "agenda_item", datastore.FilterOperator{
					Field: "meeting_id", Operator: "=", Value: meetingID,
				})
				if err != nil {
					return err
				}
				instance["weight"] = weight
			}
			instance["level"] = levelOfParent(ctx, e, instance)
			return nil
		},
		Execute: action.CreateExecutor("agenda_item"),
	})

	action.Register(&action.Action{
		Name:   "agenda_item.update",
		Schema: action.SchemaOf(reg, "agenda_item", nil, []string{"item_number", "comment", "closed", "is_hidden", "is_internal", "duration", "weight", "parent_id", "tag_ids"}, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "agenda_item", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AgendaItemCanManage)
		},
		UpdateInstance: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			if raw, ok := instance["parent_id"]; ok && raw != nil {
				return checkAgendaCycle(ctx, e, instance)
			}
			return nil
		},
		Execute: action.UpdateExecutor("agenda_item"),
	})

	action.Register(&action.Action{
		Name:   "agenda_item.delete",
		Schema: action.SchemaOf(reg, "agenda_item", nil, nil, nil).WithID(),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, err := meetingOfModel(ctx, e, "agenda_item", instance)
			if err != nil {
				return err
			}
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AgendaItemCanManage)
		},
		Execute: action.DeleteExecutor("agenda_item"),
	})

	action.Register(&action.Action{
		Name:     "agenda_item.sort",
		Singular: true,
		Schema:   action.SchemaOf(reg, "agenda_item", []string{"meeting_id"}, nil, []string{"tree"}),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AgendaItemCanManage)
		},
		Execute: sortTreeExecutor("agenda_item"),
	})

	action.Register(&action.Action{
		Name:     "agenda_item.assign",
		Singular: true,
		Schema:   action.SchemaOf(reg, "agenda_item", []string{"meeting_id"}, []string{"parent_id"}, []string{"ids"}),
		Permission: func(ctx context.Context, e *action.Env, instance map[string]any) error {
			meetingID, _ := meetingIDOf(instance)
			return e.Perm.RequirePerm(ctx, e.UserID, meetingID, perm.AgendaItemCanManage)
		},
		Execute: func(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
			ids, err := idListOf(instance["ids"])
			if err != nil {
				return nil, err
			}
			parent := instance["parent_id"]
			for _, id := range ids {
				if parent != nil {
					parentID, _ := intOf(parent)
					if err := treesort.CheckNotAncestor(id, parentID, agendaParentOf(ctx, e)); err != nil {
						return nil, err
					}
				}
				if _, err := e.ExecuteOther(ctx, "agenda_item.update", []map[string]any{{"id": id, "parent_id": parent}}); err != nil {
					return nil, err
				}
			}
			return map[string]any{"ids": instance["ids"]}, nil
		},
	})
}

// sortTreeExecutor re-weights a whole collection tree of one meeting per
// the submitted nesting. The placements are globally consistent, so the
// events bypass the relation resolver and write both sides directly.
func sortTreeExecutor(collection string) func(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
	return func(ctx context.Context, e *action.Env, instance map[string]any) (map[string]any, error) {
		meetingID, ok := meetingIDOf(instance)
		if !ok {
			return nil, httperr.NewValidation("meeting_id is required")
		}
		roots, err := treeOf(instance["tree"])
		if err != nil {
			return nil, err
		}
		existing, err := e.Cache.Filter(ctx, collection, datastore.FilterOperator{
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
			fields := map[string]any{
				"weight": a.Weight,
				"level":  a.Level,
			}
			if a.ParentID != 0 {
				fields["parent_id"] = a.ParentID
			} else {
				fields["parent_id"] = nil
			}
			if len(a.ChildIDs) > 0 {
				fields["child_ids"] = intsAsAny(a.ChildIDs)
			} else {
				fields["child_ids"] = nil
			}
			id := fqid.FQID{Collection: collection, ID: a.ID}
			e.EmitUpdate(id, fields)
		}
		return map[string]any{}, nil
	}
}

func checkAgendaCycle(ctx context.Context, e *action.Env, instance map[string]any) error {
	id, _ := intOf(instance["id"])
	parentID, ok := intOf(instance["parent_id"])
	if !ok {
		return httperr.NewValidation("parent_id must be an id")
	}
	return treesort.CheckNotAncestor(id, parentID, agendaParentOf(ctx, e))
}

func agendaParentOf(ctx context.Context, e *action.Env) func(id int) (int, error) {
	return func(id int) (int, error) {
		item, err := e.Cache.Get(ctx, fqid.New("agenda_item", id), []string{"parent_id"})
		if err != nil {
			return 0, err
		}
		parent, _ := intOf(item["parent_id"])
		return parent, nil
	}
}

func levelOfParent(ctx context.Context, e *action.Env, instance map[string]any) int {
	parentID, ok := intOf(instance["parent_id"])
	if !ok {
		return 0
	}
	parent, err := e.Cache.Get(ctx, fqid.New("agenda_item", parentID), []string{"level"})
	if err != nil {
		return 0
	}
	level, _ := intOf(parent["level"])
	return level + 1
}
