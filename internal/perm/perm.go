// Package perm evaluates the three permission spaces: the organization
// management ladder, per-committee management and meeting permissions
// derived from group membership.
package perm

import (
	"context"
	"sort"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// Organization management levels, ordered. A required level is satisfied
// by any level at or above it.
type OML string

const (
	OMLNone           OML = ""
	OMLCanManageUsers OML = "can_manage_users"
	OMLCanManageOrg   OML = "can_manage_organization"
	OMLSuperadmin     OML = "superadmin"
)

func (l OML) rank() int {
	switch l {
	case OMLSuperadmin:
		return 3
	case OMLCanManageOrg:
		return 2
	case OMLCanManageUsers:
		return 1
	}
	return 0
}

// Satisfies reports whether l grants the required level.
func (l OML) Satisfies(required OML) bool {
	return l.rank() >= required.rank()
}

// Meeting permission strings. Can-manage implies can-see per collection.
const (
	AgendaItemCanManage      = "agenda_item.can_manage"
	AgendaItemCanSee         = "agenda_item.can_see"
	MotionCanManage          = "motion.can_manage"
	MotionCanSee             = "motion.can_see"
	MotionCanCreate          = "motion.can_create"
	MotionCanSupport         = "motion.can_support"
	AssignmentCanManage      = "assignment.can_manage"
	AssignmentCanSee         = "assignment.can_see"
	ListOfSpeakersCanManage  = "list_of_speakers.can_manage"
	ListOfSpeakersCanSee     = "list_of_speakers.can_see"
	MediafileCanManage       = "mediafile.can_manage"
	MediafileCanSee          = "mediafile.can_see"
	MeetingCanManageSettings = "meeting.can_manage_settings"
	TagCanManage             = "tag.can_manage"
	UserCanManage            = "user.can_manage"
	UserCanSee               = "user.can_see"
)

// implications maps a permission to the permissions it includes.
var implications = map[string][]string{
	AgendaItemCanManage:     {AgendaItemCanSee},
	MotionCanManage:         {MotionCanSee, MotionCanCreate, MotionCanSupport},
	MotionCanCreate:         {MotionCanSee},
	MotionCanSupport:        {MotionCanSee},
	AssignmentCanManage:     {AssignmentCanSee},
	ListOfSpeakersCanManage: {ListOfSpeakersCanSee},
	MediafileCanManage:      {MediafileCanSee},
	UserCanManage:           {UserCanSee},
}

func expand(perms []string) map[string]bool {
	out := map[string]bool{}
	var visit func(p string)
	visit = func(p string) {
		if out[p] {
			return
		}
		out[p] = true
		for _, implied := range implications[p] {
			visit(implied)
		}
	}
	for _, p := range perms {
		visit(p)
	}
	return out
}

// Kernel answers permission questions against the request-scoped state.
type Kernel struct {
	cache *datastore.Cache
}

func NewKernel(cache *datastore.Cache) *Kernel {
	return &Kernel{cache: cache}
}

// UserOML reads the organization management level of a user. The anonymous
// user (id 0) has none.
func (k *Kernel) UserOML(ctx context.Context, userID int) (OML, error) {
	if userID <= 0 {
		return OMLNone, nil
	}
	user, err := k.cache.Get(ctx, fqid.New("user", userID), []string{"organization_management_level"})
	if err != nil {
		return OMLNone, err
	}
	level, _ := user["organization_management_level"].(string)
	return OML(level), nil
}

// HasOML reports whether the user holds the required level or higher.
func (k *Kernel) HasOML(ctx context.Context, userID int, required OML) (bool, error) {
	level, err := k.UserOML(ctx, userID)
	if err != nil {
		return false, err
	}
	return level.Satisfies(required), nil
}

// HasCML reports whether the user manages the committee. Any OML of
// can_manage_organization or above implies committee management everywhere.
func (k *Kernel) HasCML(ctx context.Context, userID, committeeID int) (bool, error) {
	if userID <= 0 {
		return false, nil
	}
	level, err := k.UserOML(ctx, userID)
	if err != nil {
		return false, err
	}
	if level.Satisfies(OMLCanManageOrg) {
		return true, nil
	}
	user, err := k.cache.Get(ctx, fqid.New("user", userID), []string{"committee_management_ids"})
	if err != nil {
		return false, err
	}
	for _, id := range idList(user["committee_management_ids"]) {
		if id == committeeID {
			return true, nil
		}
	}
	return false, nil
}

// MeetingPermissions collects the expanded permission set of a user in one
// meeting. Superadmins and members of the meeting's admin group hold every
// permission.
func (k *Kernel) MeetingPermissions(ctx context.Context, userID, meetingID int) (map[string]bool, bool, error) {
	if userID <= 0 {
		return nil, false, nil
	}
	level, err := k.UserOML(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if level == OMLSuperadmin {
		return nil, true, nil
	}

	meetingUser, err := k.meetingUser(ctx, userID, meetingID)
	if err != nil {
		return nil, false, err
	}
	if meetingUser == nil {
		return map[string]bool{}, false, nil
	}

	meeting, err := k.cache.Get(ctx, fqid.New("meeting", meetingID), []string{"admin_group_id"})
	if err != nil {
		return nil, false, err
	}
	adminGroupID, _ := intOf(meeting["admin_group_id"])

	var perms []string
	for _, groupID := range idList(meetingUser["group_ids"]) {
		if adminGroupID != 0 && groupID == adminGroupID {
			return nil, true, nil
		}
		group, err := k.cache.Get(ctx, fqid.New("group", groupID), []string{"permissions"})
		if err != nil {
			return nil, false, err
		}
		perms = append(perms, stringList(group["permissions"])...)
	}
	return expand(perms), false, nil
}

// HasPerm reports whether the user holds one meeting permission.
func (k *Kernel) HasPerm(ctx context.Context, userID, meetingID int, permission string) (bool, error) {
	perms, all, err := k.MeetingPermissions(ctx, userID, meetingID)
	if err != nil {
		return false, err
	}
	if all {
		return true, nil
	}
	return perms[permission], nil
}

// RequirePerm is HasPerm with a structured denial.
func (k *Kernel) RequirePerm(ctx context.Context, userID, meetingID int, permission string) error {
	if userID <= 0 {
		return httperr.NewPermissionDenied("anonymous is not allowed to execute write actions")
	}
	ok, err := k.HasPerm(ctx, userID, meetingID, permission)
	if err != nil {
		return err
	}
	if !ok {
		return httperr.NewPermissionDenied("missing permission %s in meeting %d", permission, meetingID)
	}
	return nil
}

// RequireOML is HasOML with a structured denial.
func (k *Kernel) RequireOML(ctx context.Context, userID int, required OML) error {
	if userID <= 0 {
		return httperr.NewPermissionDenied("anonymous is not allowed to execute write actions")
	}
	ok, err := k.HasOML(ctx, userID, required)
	if err != nil {
		return err
	}
	if !ok {
		return httperr.NewPermissionDenied("missing organization management level %s", required)
	}
	return nil
}

// RequireCML is HasCML with a structured denial.
func (k *Kernel) RequireCML(ctx context.Context, userID, committeeID int) error {
	if userID <= 0 {
		return httperr.NewPermissionDenied("anonymous is not allowed to execute write actions")
	}
	ok, err := k.HasCML(ctx, userID, committeeID)
	if err != nil {
		return err
	}
	if !ok {
		return httperr.NewPermissionDenied("missing management rights for committee %d", committeeID)
	}
	return nil
}

// meetingUser resolves the meeting_user model of a user in a meeting, nil
// when the user does not participate.
func (k *Kernel) meetingUser(ctx context.Context, userID, meetingID int) (map[string]any, error) {
	res, err := k.cache.Filter(ctx, "meeting_user", datastore.And{
		datastore.FilterOperator{Field: "user_id", Operator: "=", Value: userID},
		datastore.FilterOperator{Field: "meeting_id", Operator: "=", Value: meetingID},
	}, []string{"group_ids"})
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	ids := make([]int, 0, len(res))
	for id := range res {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return res[ids[0]], nil
}

func idList(v any) []int {
	switch t := v.(type) {
	case []int:
		return t
	case []any:
		out := make([]int, 0, len(t))
		for _, e := range t {
			if n, ok := intOf(e); ok {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

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
