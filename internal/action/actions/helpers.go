package actions

import (
	"context"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
	"github.com/plenumhq/plenum/pkg/treesort"
)

func intOf(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func meetingIDOf(instance map[string]any) (int, bool) {
	return intOf(instance["meeting_id"])
}

// meetingOfModel reads the meeting_id of the model an update or delete
// payload addresses.
func meetingOfModel(ctx context.Context, e *action.Env, collection string, instance map[string]any) (int, error) {
	id, ok := intOf(instance["id"])
	if !ok {
		return 0, httperr.NewSchemaViolation("id must be a positive integer")
	}
	model, err := e.Cache.Get(ctx, fqid.New(collection, id), []string{"meeting_id"})
	if err != nil {
		return 0, err
	}
	meetingID, ok := intOf(model["meeting_id"])
	if !ok {
		return 0, httperr.NewValidation("%s/%d has no meeting", collection, id)
	}
	return meetingID, nil
}

func idListOf(v any) ([]int, error) {
	list, ok := v.([]any)
	if !ok {
		if ints, ok := v.([]int); ok {
			return ints, nil
		}
		return nil, httperr.NewSchemaViolation("ids must be a list of integers")
	}
	out := make([]int, 0, len(list))
	for _, item := range list {
		n, ok := intOf(item)
		if !ok {
			return nil, httperr.NewSchemaViolation("ids must be a list of integers")
		}
		out = append(out, n)
	}
	return out, nil
}

func intsAsAny(list []int) []any {
	out := make([]any, len(list))
	for i, n := range list {
		out[i] = n
	}
	return out
}

// treeOf decodes the nested tree payload of the sort actions. Entries are
// either bare ids or {id, children} objects.
func treeOf(v any) ([]treesort.Node, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, httperr.NewSchemaViolation("tree must be a list")
	}
	out := make([]treesort.Node, 0, len(list))
	for _, item := range list {
		node, err := nodeOf(item)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

func nodeOf(v any) (treesort.Node, error) {
	if id, ok := intOf(v); ok {
		return treesort.Node{ID: id}, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return treesort.Node{}, httperr.NewSchemaViolation("tree entries must be ids or objects")
	}
	id, ok := intOf(obj["id"])
	if !ok {
		return treesort.Node{}, httperr.NewSchemaViolation("tree entries must carry an id")
	}
	node := treesort.Node{ID: id}
	if children, ok := obj["children"]; ok && children != nil {
		kids, err := treeOf(children)
		if err != nil {
			return treesort.Node{}, err
		}
		node.Children = kids
	}
	return node, nil
}
