package perm

import (
	"context"
	"sort"

	"github.com/plenumhq/plenum/pkg/fqid"
)

// Scope names where a user participates: exactly one meeting, exactly one
// committee, or the whole organization.
type Scope struct {
	Kind        string // "meeting", "committee" or "organization"
	MeetingID   int
	CommitteeID int
}

// UserScope derives the scope of a user from their memberships. A user in
// exactly one meeting has meeting scope; a user spread over exactly one
// committee has committee scope; everyone else is organization-scoped.
func (k *Kernel) UserScope(ctx context.Context, userID int) (Scope, error) {
	user, err := k.cache.Get(ctx, fqid.New("user", userID), []string{
		"meeting_user_ids", "committee_ids", "committee_management_ids",
	})
	if err != nil {
		return Scope{}, err
	}

	meetingIDs := map[int]bool{}
	committeeIDs := map[int]bool{}
	for _, muID := range idList(user["meeting_user_ids"]) {
		mu, err := k.cache.Get(ctx, fqid.New("meeting_user", muID), []string{"meeting_id"})
		if err != nil {
			return Scope{}, err
		}
		meetingID, ok := intOf(mu["meeting_id"])
		if !ok {
			continue
		}
		meetingIDs[meetingID] = true
		meeting, err := k.cache.Get(ctx, fqid.New("meeting", meetingID), []string{"committee_id"})
		if err != nil {
			return Scope{}, err
		}
		if committeeID, ok := intOf(meeting["committee_id"]); ok {
			committeeIDs[committeeID] = true
		}
	}
	for _, id := range idList(user["committee_ids"]) {
		committeeIDs[id] = true
	}
	for _, id := range idList(user["committee_management_ids"]) {
		committeeIDs[id] = true
	}

	if len(meetingIDs) == 1 && len(committeeIDs) <= 1 {
		return Scope{Kind: "meeting", MeetingID: onlyKey(meetingIDs), CommitteeID: onlyKey(committeeIDs)}, nil
	}
	if len(committeeIDs) == 1 {
		return Scope{Kind: "committee", CommitteeID: onlyKey(committeeIDs)}, nil
	}
	return Scope{Kind: "organization"}, nil
}

func onlyKey(m map[int]bool) int {
	for k := range m {
		return k
	}
	return 0
}

// Field groups of user mutations. Each group names the fields it covers
// and is checked by its own rule; FailingFields returns the fields the
// actor may not set on the target.
const (
	groupPersonal   = "A"
	groupMeeting    = "B"
	groupGroups     = "C"
	groupCommittee  = "D"
	groupOML        = "E"
	groupActivation = "F"
)

var userFieldGroups = map[string]string{
	"username":           groupPersonal,
	"title":              groupPersonal,
	"first_name":         groupPersonal,
	"last_name":          groupPersonal,
	"email":              groupPersonal,
	"default_password":   groupPersonal,
	"is_physical_person": groupPersonal,

	"number_$":  groupMeeting,
	"comment_$": groupMeeting,

	"group_ids": groupGroups,

	"committee_management_ids": groupCommittee,

	"organization_management_level": groupOML,

	"is_active": groupActivation,
}

func groupOfUserField(name string) (string, string) {
	if g, ok := userFieldGroups[name]; ok {
		return g, ""
	}
	if template, replacement, ok := fqid.Structured(name); ok {
		if g, okT := userFieldGroups[template]; okT {
			return g, replacement
		}
	}
	return "", ""
}

// FailingFields computes the subset of instance fields the actor cannot
// set on the target user. Callers either reject the whole mutation or drop
// the failing fields with a warning. An anonymous actor fails every field.
func (k *Kernel) FailingFields(ctx context.Context, actorID, targetID int, instance map[string]any) ([]string, error) {
	names := make([]string, 0, len(instance))
	for name := range instance {
		if name == "id" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if actorID <= 0 {
		return names, nil
	}

	level, err := k.UserOML(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if level == OMLSuperadmin {
		return nil, nil
	}

	var scope Scope
	scopeLoaded := false
	targetScope := func() (Scope, error) {
		if !scopeLoaded {
			scope, err = k.UserScope(ctx, targetID)
			if err != nil {
				return Scope{}, err
			}
			scopeLoaded = true
		}
		return scope, nil
	}

	var failing []string
	for _, name := range names {
		group, replacement := groupOfUserField(name)
		var ok bool
		switch group {
		case groupPersonal:
			ok, err = k.canManageUserInScope(ctx, actorID, targetScope)
		case groupMeeting, groupGroups:
			meetingID := 0
			if replacement != "" {
				meetingID, _ = intOfString(replacement)
			} else if n, found := intOf(instance["meeting_id"]); found {
				meetingID = n
			}
			if meetingID == 0 {
				ok = false
				break
			}
			ok, err = k.HasPerm(ctx, actorID, meetingID, UserCanManage)
		case groupCommittee:
			ok = level.Satisfies(OMLCanManageOrg)
		case groupOML:
			// Granting a level requires holding it, and at least the
			// user-management level.
			granted, _ := instance[name].(string)
			ok = level.Satisfies(OMLCanManageUsers) && level.Satisfies(OML(granted))
		case groupActivation:
			ok = level.Satisfies(OMLCanManageUsers)
		default:
			// Fields outside every group follow the personal-data rule.
			ok, err = k.canManageUserInScope(ctx, actorID, targetScope)
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			failing = append(failing, name)
		}
	}
	return failing, nil
}

// canManageUserInScope checks the rule of group A: user management rights
// in the target's scope.
func (k *Kernel) canManageUserInScope(ctx context.Context, actorID int, targetScope func() (Scope, error)) (bool, error) {
	level, err := k.UserOML(ctx, actorID)
	if err != nil {
		return false, err
	}
	if level.Satisfies(OMLCanManageUsers) {
		return true, nil
	}
	scope, err := targetScope()
	if err != nil {
		return false, err
	}
	switch scope.Kind {
	case "meeting":
		ok, err := k.HasPerm(ctx, actorID, scope.MeetingID, UserCanManage)
		if err != nil || ok {
			return ok, err
		}
		if scope.CommitteeID != 0 {
			return k.HasCML(ctx, actorID, scope.CommitteeID)
		}
		return false, nil
	case "committee":
		return k.HasCML(ctx, actorID, scope.CommitteeID)
	default:
		return false, nil
	}
}

func intOfString(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 0, false
	}
	return n, true
}
