package sshexec

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"
)

type execHandler func(cmd string, ch gossh.Channel) int

// startSSHServer runs a password-authenticated test server that hands each
// exec request to handler and reports its return value as the exit status.
// It also returns the server's host key fingerprint.
func startSSHServer(t *testing.T, password string, handler execHandler) (Endpoint, string) {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := gossh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("create host signer: %v", err)
	}

	serverCfg := &gossh.ServerConfig{
		PasswordCallback: func(conn gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
			if conn.User() == "root" && string(pass) == password {
				return &gossh.Permissions{}, nil
			}
			return nil, fmt.Errorf("bad password")
		},
	}
	serverCfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go handleConn(conn, serverCfg, handler)
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port, User: "root", Password: password},
		gossh.FingerprintSHA256(hostSigner.PublicKey())
}

func handleConn(netConn net.Conn, config *gossh.ServerConfig, handler execHandler) {
	defer netConn.Close()
	srvConn, chans, reqs, err := gossh.NewServerConn(netConn, config)
	if err != nil {
		return
	}
	defer srvConn.Close()
	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					if req.WantReply {
						req.Reply(false, nil)
					}
					continue
				}
				var payload struct{ Command string }
				if err := gossh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)
				code := handler(payload.Command, ch)
				status := gossh.Marshal(struct{ Status uint32 }{uint32(code)})
				ch.SendRequest("exit-status", false, status)
				return
			}
		}()
	}
}

func TestRunCollectsOutput(t *testing.T) {
	ep, _ := startSSHServer(t, "pw", func(cmd string, ch gossh.Channel) int {
		fmt.Fprintf(ch, "ran: %s\n", cmd)
		ch.Stderr().Write([]byte("warn\n"))
		return 0
	})

	r := &Runner{Timeout: 5 * time.Second}
	out, err := r.Run(context.Background(), ep, "uptime")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Stdout != "ran: uptime\n" {
		t.Errorf("stdout = %q", out.Stdout)
	}
	if out.Stderr != "warn\n" {
		t.Errorf("stderr = %q", out.Stderr)
	}
	if out.ExitCode != 0 {
		t.Errorf("exit code = %d", out.ExitCode)
	}
}

func TestRunReportsExitStatus(t *testing.T) {
	ep, _ := startSSHServer(t, "pw", func(cmd string, ch gossh.Channel) int { return 3 })

	out, err := (&Runner{}).Run(context.Background(), ep, "false")
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if out.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", out.ExitCode)
	}
}

func TestTestRejectsWrongPassword(t *testing.T) {
	ep, _ := startSSHServer(t, "right", func(cmd string, ch gossh.Channel) int { return 0 })
	ep.Password = "wrong"

	err := (&Runner{Timeout: 2 * time.Second}).Test(context.Background(), ep)
	if err == nil {
		t.Fatal("expected authentication failure")
	}
	if !strings.Contains(err.Error(), "connect to") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTestSucceeds(t *testing.T) {
	ep, _ := startSSHServer(t, "pw", func(cmd string, ch gossh.Channel) int {
		if cmd != "echo ok" {
			return 1
		}
		ch.Write([]byte("ok\n"))
		return 0
	})
	if err := (&Runner{}).Test(context.Background(), ep); err != nil {
		t.Fatalf("test: %v", err)
	}
}

func TestDialValidatesEndpoint(t *testing.T) {
	if _, err := (&Runner{}).Dial(context.Background(), Endpoint{}); err == nil {
		t.Fatal("expected error for empty host")
	}
	if _, err := (&Runner{}).Dial(context.Background(), Endpoint{Host: "h", Port: 70000}); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestDialPinsHostKeyOnFirstUse(t *testing.T) {
	ep, fingerprint := startSSHServer(t, "pw", func(cmd string, ch gossh.Channel) int { return 0 })
	var pinned []string
	ep.Pin = func(fp string) error {
		pinned = append(pinned, fp)
		return nil
	}

	if err := (&Runner{}).Test(context.Background(), ep); err != nil {
		t.Fatalf("test: %v", err)
	}
	if len(pinned) != 1 || pinned[0] != fingerprint {
		t.Fatalf("pinned = %v, want [%s]", pinned, fingerprint)
	}

	// A known key is checked, not pinned again.
	ep.HostKey = fingerprint
	if err := (&Runner{}).Test(context.Background(), ep); err != nil {
		t.Fatalf("test with pinned key: %v", err)
	}
	if len(pinned) != 1 {
		t.Errorf("pin called again: %v", pinned)
	}
}

func TestDialRejectsChangedHostKey(t *testing.T) {
	var ran atomic.Bool
	ep, _ := startSSHServer(t, "pw", func(cmd string, ch gossh.Channel) int {
		ran.Store(true)
		return 0
	})
	ep.HostKey = "SHA256:c29tZS1vdGhlci1ob3N0LWtleQ"
	ep.Pin = func(string) error {
		t.Error("pin called for a rejected key")
		return nil
	}

	err := (&Runner{Timeout: 2 * time.Second}).Test(context.Background(), ep)
	if err == nil {
		t.Fatal("expected host key mismatch")
	}
	if !strings.Contains(err.Error(), "host key for") {
		t.Errorf("unexpected error: %v", err)
	}
	if ran.Load() {
		t.Error("command ran on a host with the wrong key")
	}
}
