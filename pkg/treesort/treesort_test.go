package treesort

import (
	"strings"
	"testing"

	"github.com/plenumhq/plenum/pkg/httperr"
)

func valid(ids ...int) map[int]bool {
	out := make(map[int]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func TestLinear(t *testing.T) {
	weights, err := Linear([]int{3, 1, 2}, valid(1, 2, 3))
	if err != nil {
		t.Fatalf("linear: %v", err)
	}
	if weights[3] != 2 || weights[1] != 4 || weights[2] != 6 {
		t.Fatalf("weights = %v", weights)
	}
}

func TestLinearRejections(t *testing.T) {
	cases := []struct {
		name string
		ids  []int
		set  map[int]bool
		msg  string
	}{
		{"duplicate", []int{1, 1}, valid(1, 2), "Duplicate id"},
		{"unknown", []int{1, 9}, valid(1, 2), "does not exist: 9"},
		{"missing", []int{1}, valid(1, 2), "Missing ids in sort list: 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Linear(tc.ids, tc.set)
			if httperr.KindOf(err) != httperr.KindValidationFailure {
				t.Fatalf("expected validation failure, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.msg) {
				t.Fatalf("error %q does not mention %q", err, tc.msg)
			}
		})
	}
}

func TestTreePreorder(t *testing.T) {
	roots := []Node{
		{ID: 1, Children: []Node{
			{ID: 3},
			{ID: 4, Children: []Node{{ID: 2}}},
		}},
		{ID: 5},
	}
	out, err := Tree(roots, valid(1, 2, 3, 4, 5))
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	wantOrder := []int{1, 3, 4, 2, 5}
	if len(out) != len(wantOrder) {
		t.Fatalf("got %d assignments", len(out))
	}
	lastWeight := 0
	for i, a := range out {
		if a.ID != wantOrder[i] {
			t.Fatalf("preorder position %d = %d, want %d", i, a.ID, wantOrder[i])
		}
		if a.Weight <= lastWeight {
			t.Fatalf("weights not strictly increasing: %v", out)
		}
		lastWeight = a.Weight
	}
	if out[0].ParentID != 0 || out[0].Level != 0 {
		t.Fatalf("root placement = %+v", out[0])
	}
	if out[3].ParentID != 4 || out[3].Level != 2 {
		t.Fatalf("nested placement = %+v", out[3])
	}
	if len(out[0].ChildIDs) != 2 || out[0].ChildIDs[0] != 3 || out[0].ChildIDs[1] != 4 {
		t.Fatalf("child ids = %v", out[0].ChildIDs)
	}
}

func TestTreeRejectsDuplicateCycle(t *testing.T) {
	// A node occurring below itself shows up as a duplicate.
	roots := []Node{
		{ID: 1, Children: []Node{
			{ID: 2, Children: []Node{{ID: 1}}},
		}},
	}
	_, err := Tree(roots, valid(1, 2))
	if httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if err.Error() != "Duplicate id in sort tree: 1" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestTreeRejectsMissing(t *testing.T) {
	_, err := Tree([]Node{{ID: 1}}, valid(1, 2, 3))
	if err == nil || !strings.Contains(err.Error(), "Missing ids in sort tree: 2, 3") {
		t.Fatalf("missing: %v", err)
	}
}

func TestCheckNotAncestor(t *testing.T) {
	parents := map[int]int{4: 3, 3: 2, 2: 1}
	parentOf := func(id int) (int, error) { return parents[id], nil }

	if err := CheckNotAncestor(4, 2, parentOf); err != nil {
		t.Fatalf("moving leaf up: %v", err)
	}
	if err := CheckNotAncestor(2, 4, parentOf); httperr.KindOf(err) != httperr.KindValidationFailure {
		t.Fatalf("moving under own descendant: %v", err)
	}
	if err := CheckNotAncestor(5, 0, parentOf); err != nil {
		t.Fatalf("moving to root: %v", err)
	}
}
