// Package sshexec runs one-off commands on managed servers over SSH with
// password authentication. It backs the server connectivity test and the
// admin command endpoint; credential provisioning goes through the HTTP agent
// instead.
package sshexec
