package sshexec

import (
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
)

// HostKeyMismatchError is returned when a server presents a host key other
// than the one pinned for it.
type HostKeyMismatchError struct {
	Host     string
	Expected string
	Actual   string
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key for %s changed: expected %s, got %s", e.Host, e.Expected, e.Actual)
}

// hostKeyCallback accepts any key when expected is empty and only the pinned
// key otherwise. The presented fingerprint is written to the returned string
// once the handshake reaches the callback.
func hostKeyCallback(expected string) (ssh.HostKeyCallback, *string) {
	var actual string
	cb := func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		actual = ssh.FingerprintSHA256(key)
		if expected != "" && expected != actual {
			return &HostKeyMismatchError{Host: hostname, Expected: expected, Actual: actual}
		}
		return nil
	}
	return cb, &actual
}
