package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/painelssh/sshpanel/internal/logutil"
)

const DefaultTimeout = 10 * time.Second

// Endpoint is the SSH login of a managed server.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	// HostKey is the pinned SHA256 fingerprint. Empty means none is known
	// yet: the first key seen is accepted and handed to Pin.
	HostKey string
	Pin     func(fingerprint string) error
}

func (e Endpoint) addr() string {
	port := e.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// Output is the result of a remote command.
type Output struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Runner dials a fresh connection per call; nothing is pooled.
type Runner struct {
	Timeout time.Duration
}

func (r *Runner) timeout() time.Duration {
	if r == nil || r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// Dial opens an authenticated connection to ep.
func (r *Runner) Dial(ctx context.Context, ep Endpoint) (*ssh.Client, error) {
	if ep.Host == "" {
		return nil, fmt.Errorf("connect: host is empty")
	}
	if ep.Port < 0 || ep.Port > 65535 {
		return nil, fmt.Errorf("connect: invalid port %d", ep.Port)
	}

	hostKeyCB, seen := hostKeyCallback(ep.HostKey)
	config := &ssh.ClientConfig{
		User: ep.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(ep.Password),
		},
		HostKeyCallback: hostKeyCB,
		Timeout:         r.timeout(),
	}
	addr := ep.addr()

	var client *ssh.Client
	dialDone := make(chan struct{})
	var dialErr error

	go func() {
		defer close(dialDone)
		client, dialErr = ssh.Dial("tcp", addr, config)
	}()

	select {
	case <-ctx.Done():
		go func() {
			<-dialDone
			if client != nil {
				client.Close()
			}
		}()
		return nil, fmt.Errorf("connect: context cancelled: %w", ctx.Err())
	case <-dialDone:
		if dialErr != nil {
			var mismatch *HostKeyMismatchError
			if errors.As(dialErr, &mismatch) {
				log.Printf("[ssh] WARNING: refusing %s: %v", logutil.SanitizeForLog(addr), mismatch)
			}
			return nil, fmt.Errorf("connect to %s: %w", logutil.SanitizeForLog(addr), dialErr)
		}
	}
	if ep.HostKey == "" && ep.Pin != nil {
		if err := ep.Pin(*seen); err != nil {
			log.Printf("[ssh] pin host key for %s: %v", logutil.SanitizeForLog(addr), err)
		} else {
			log.Printf("[ssh] pinned host key %s for %s", *seen, logutil.SanitizeForLog(addr))
		}
	}
	return client, nil
}

// Run executes command and collects its output. A non-zero exit status is
// reported in Output, not as an error.
func (r *Runner) Run(ctx context.Context, ep Endpoint, command string) (Output, error) {
	client, err := r.Dial(ctx, ep)
	if err != nil {
		return Output{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	timer := time.NewTimer(r.timeout())
	defer timer.Stop()

	select {
	case err = <-done:
	case <-ctx.Done():
		return Output{}, fmt.Errorf("run: %w", ctx.Err())
	case <-timer.C:
		return Output{}, fmt.Errorf("run: timed out after %s", r.timeout())
	}

	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return out, fmt.Errorf("run: %w", err)
		}
		out.ExitCode = exitErr.ExitStatus()
	}
	log.Printf("[ssh] %s@%s ran %q (exit %d)", logutil.SanitizeForLog(ep.User), logutil.SanitizeForLog(ep.addr()),
		logutil.Truncate(logutil.SanitizeForLog(command), 80), out.ExitCode)
	return out, nil
}

// Test checks that ep accepts the login and can run a trivial command.
func (r *Runner) Test(ctx context.Context, ep Endpoint) error {
	out, err := r.Run(ctx, ep, "echo ok")
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("test command exited with status %d", out.ExitCode)
	}
	return nil
}
