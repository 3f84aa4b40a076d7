// Package treesort reorders flat lists and trees of models. Weights are
// assigned with even gaps so clients can intercalate without a full
// re-sort.
package treesort

import (
	"fmt"
	"sort"
	"strings"

	"github.com/plenumhq/plenum/pkg/httperr"
)

// Node is one element of a sort tree request.
type Node struct {
	ID       int    `json:"id"`
	Children []Node `json:"children,omitempty"`
}

// Assignment is the computed placement of one node.
type Assignment struct {
	ID       int
	ParentID int // 0 for roots
	Weight   int
	Level    int
	ChildIDs []int
}

// Linear assigns weights 2, 4, 6, ... in the order given. Every id must
// exist in the valid set and every valid id must appear.
func Linear(ids []int, valid map[int]bool) (map[int]int, error) {
	seen := make(map[int]bool, len(ids))
	out := make(map[int]int, len(ids))
	weight := 0
	for _, id := range ids {
		if seen[id] {
			return nil, httperr.NewValidation("Duplicate id in sort list: %d", id)
		}
		seen[id] = true
		if !valid[id] {
			return nil, httperr.NewValidation("Id in sort list does not exist: %d", id)
		}
		weight += 2
		out[id] = weight
	}
	if missing := missingIDs(valid, seen); missing != "" {
		return nil, httperr.NewValidation("Missing ids in sort list: %s", missing)
	}
	return out, nil
}

// Tree walks the forest in preorder and assigns parent, level, children
// and even-gap weights. Duplicate, unknown and missing ids are rejected.
func Tree(roots []Node, valid map[int]bool) ([]Assignment, error) {
	seen := make(map[int]bool, len(valid))
	var out []Assignment
	weight := 0

	var walk func(node Node, parentID, level int) error
	walk = func(node Node, parentID, level int) error {
		if seen[node.ID] {
			return httperr.NewValidation("Duplicate id in sort tree: %d", node.ID)
		}
		seen[node.ID] = true
		if !valid[node.ID] {
			return httperr.NewValidation("Id in sort tree does not exist: %d", node.ID)
		}
		weight += 2
		a := Assignment{ID: node.ID, ParentID: parentID, Weight: weight, Level: level}
		for _, child := range node.Children {
			a.ChildIDs = append(a.ChildIDs, child.ID)
		}
		out = append(out, a)
		for _, child := range node.Children {
			if err := walk(child, node.ID, level+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := walk(root, 0, 0); err != nil {
			return nil, err
		}
	}
	if missing := missingIDs(valid, seen); missing != "" {
		return nil, httperr.NewValidation("Missing ids in sort tree: %s", missing)
	}
	return out, nil
}

// CheckNotAncestor rejects a move that would place a node below itself.
// parentOf resolves the current parent of a node, 0 for roots.
func CheckNotAncestor(nodeID, newParentID int, parentOf func(id int) (int, error)) error {
	visited := map[int]bool{}
	for current := newParentID; current != 0; {
		if current == nodeID {
			return httperr.NewValidation(
				"Moving %d to %d would create a cycle", nodeID, newParentID)
		}
		if visited[current] {
			return httperr.NewValidation("Cycle in existing parent chain at %d", current)
		}
		visited[current] = true
		parent, err := parentOf(current)
		if err != nil {
			return err
		}
		current = parent
	}
	return nil
}

func missingIDs(valid, seen map[int]bool) string {
	var missing []int
	for id := range valid {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return ""
	}
	sort.Ints(missing)
	parts := make([]string, len(missing))
	for i, id := range missing {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
