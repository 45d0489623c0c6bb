package authz

// ScopeKind selects which rows an actor may see.
type ScopeKind int

const (
	// ScopeNone matches nothing.
	ScopeNone ScopeKind = iota
	// ScopeAll matches every row (admin).
	ScopeAll
	// ScopeManaged matches credentials the actor created or whose owner is
	// the actor's child, and accounts that are the actor or its children.
	ScopeManaged
	// ScopeOwn matches only the actor's own credentials and account.
	ScopeOwn
)

// Scope is the listing form of the ownership predicate in CanAct.
type Scope struct {
	Kind    ScopeKind
	ActorID uint
}

// ScopeFor returns the listing scope of actor.
func ScopeFor(actor Actor) Scope {
	switch actor.Role {
	case RoleAdmin:
		return Scope{Kind: ScopeAll, ActorID: actor.ID}
	case RoleReseller, RoleSubReseller:
		return Scope{Kind: ScopeManaged, ActorID: actor.ID}
	case RoleClient:
		return Scope{Kind: ScopeOwn, ActorID: actor.ID}
	}
	return Scope{Kind: ScopeNone}
}
