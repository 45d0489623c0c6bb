// Package authz decides whether an actor in the reseller hierarchy may act on
// a credential, an account or a server.
//
// The hierarchy has four closed roles: admin, reseller, sub_reseller and
// client. Every non-admin account has a parent; a credential is owned by its
// creator and by the parent of the account it was issued to.
//
// [CanAct] is pure and deterministic. Rules are evaluated in this order:
//
//  1. admin may do anything.
//  2. client may never mutate (create, renew, suspend, activate, delete,
//     disconnect, create tests or accounts).
//  3. create: a sub_reseller may only create for accounts whose parent is
//     itself, and may only create client accounts.
//  4. existing credentials: allowed when the actor created the credential or
//     is the parent of its owner; a client may only read its own.
//  5. anything else is denied.
//
// [ScopeFor] returns the same ownership predicate in a form the storage layer
// applies to list and count queries, so listings and statistics never see
// rows that [CanAct] would refuse.
package authz
