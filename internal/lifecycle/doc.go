// Package lifecycle owns SSH credentials: creation, renewal, suspension,
// activation, deletion and short-lived test credentials.
//
// Every operation authorizes the actor, commits the local record and then
// mirrors the change to the server's agent. The local record always wins: a
// failed agent call never rolls the commit back and is reported as
// Result.Warning instead. Operations on one credential are serialized; those
// on different credentials run in parallel.
package lifecycle
