package authz

import "fmt"

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleReseller    Role = "reseller"
	RoleSubReseller Role = "sub_reseller"
	RoleClient      Role = "client"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleReseller, RoleSubReseller, RoleClient}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleReseller, RoleSubReseller, RoleClient:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID       uint
	Role     Role
	ParentID *uint
}

// Action is an operation an actor requests.
type Action int

const (
	ActionRead Action = iota
	ActionCreate
	ActionRenew
	ActionSuspend
	ActionActivate
	ActionDelete
	ActionDisconnect
	ActionCreateTest
	ActionCreateAccount
	ActionManageServers
)

var actionNames = map[Action]string{
	ActionRead:          "read",
	ActionCreate:        "create",
	ActionRenew:         "renew",
	ActionSuspend:       "suspend",
	ActionActivate:      "activate",
	ActionDelete:        "delete",
	ActionDisconnect:    "disconnect",
	ActionCreateTest:    "create test",
	ActionCreateAccount: "create account",
	ActionManageServers: "manage servers",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Mutating reports whether the action changes state.
func (a Action) Mutating() bool {
	return a != ActionRead
}

// Target describes the entity acted upon. Credential fields are used by
// create and by actions on existing credentials; NewRole only by
// ActionCreateAccount.
type Target struct {
	CreatedBy     uint
	OwnerID       uint
	OwnerParentID *uint
	NewRole       Role
}

// Decision is the outcome of an authorization check. Reason is set on denials
// and is safe to show to the caller.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// CanAct decides whether actor may perform action on target.
func CanAct(actor Actor, action Action, target Target) Decision {
	switch actor.Role {
	case RoleAdmin:
		return allow()
	case RoleClient:
		return clientDecision(actor, action, target)
	case RoleReseller, RoleSubReseller:
		return resellerDecision(actor, action, target)
	default:
		return deny("unknown role %q", actor.Role)
	}
}

// RoleDecision returns the decision for action when the actor's role alone
// settles it, before any target is loaded. ok is false when the answer
// depends on the target.
func RoleDecision(actor Actor, action Action) (d Decision, ok bool) {
	switch actor.Role {
	case RoleAdmin:
		return allow(), true
	case RoleClient:
		if action.Mutating() {
			return deny("clients cannot %s", action), true
		}
		return Decision{}, false
	case RoleReseller, RoleSubReseller:
		switch action {
		case ActionManageServers:
			return deny("only admin can manage servers"), true
		case ActionCreateTest:
			return allow(), true
		case ActionCreate:
			if actor.Role == RoleReseller {
				return allow(), true
			}
		}
		return Decision{}, false
	}
	return deny("unknown role %q", actor.Role), true
}

func clientDecision(actor Actor, action Action, target Target) Decision {
	if action.Mutating() {
		return deny("clients cannot %s", action)
	}
	if target.OwnerID != actor.ID {
		return deny("credential belongs to another account")
	}
	return allow()
}

func resellerDecision(actor Actor, action Action, target Target) Decision {
	switch action {
	case ActionManageServers:
		return deny("only admin can manage servers")

	case ActionCreateTest:
		return allow()

	case ActionCreate:
		if actor.Role == RoleSubReseller && !isParent(actor.ID, target.OwnerParentID) {
			return deny("sub-reseller may only create for its own clients")
		}
		return allow()

	case ActionCreateAccount:
		return accountDecision(actor, target.NewRole)

	case ActionRead, ActionRenew, ActionSuspend, ActionActivate, ActionDelete, ActionDisconnect:
		if Owns(actor, target) {
			return allow()
		}
		return deny("no permission to %s this credential", action)
	}
	return deny("no permission to %s", action)
}

func accountDecision(actor Actor, newRole Role) Decision {
	switch actor.Role {
	case RoleSubReseller:
		if newRole != RoleClient {
			return deny("sub-reseller may only create client accounts")
		}
		return allow()
	case RoleReseller:
		if newRole != RoleSubReseller && newRole != RoleClient {
			return deny("reseller may only create sub-reseller or client accounts")
		}
		return allow()
	}
	return deny("no permission to create accounts")
}

// Owns reports whether a reseller-class actor holds the credential described
// by target: it created it, or it is the parent of the credential's owner.
func Owns(actor Actor, target Target) bool {
	return target.CreatedBy == actor.ID || isParent(actor.ID, target.OwnerParentID)
}

func isParent(id uint, parentID *uint) bool {
	return parentID != nil && *parentID == id
}
