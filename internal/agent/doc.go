// Package agent talks to the control agent running on every managed VPS.
//
// The agent listens on a fixed HTTP port (6969 by default) and accepts a POST
// whose JSON body carries a single shell command in the "comando" field. The
// request is authenticated with a shared secret in the "Senha" header. The
// reply is free-form text; panel commands signal success by printing a
// sentinel substring:
//
//	createssh <login> <secret> <days> <maxConn>   -> CRIADOCOMSUCESSO
//	timedata <login> <days>                       -> CRIADOCOMSUCESSO
//	removessh <login>                             -> 90Cbp1PK1ExPingu
//	verificar_online                              -> "login ip" lines
//	pkill -u <login>                              -> (no sentinel)
//
// [Client] is a single-attempt primitive: it never retries. Failures are
// reported as [*Error] with one of three kinds (Unreachable, Timeout,
// RemoteError) so callers can downgrade them to warnings.
//
// Log lines use the [agent] prefix.
package agent
