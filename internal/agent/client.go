package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/painelssh/sshpanel/internal/logutil"
)

const (
	DefaultPort    = 6969
	DefaultTimeout = 10 * time.Second

	// SecretHeader carries the agent's shared secret.
	SecretHeader = "Senha"

	maxReplyBytes = 1 << 20
)

// Target identifies the agent of one managed server.
type Target struct {
	Name    string
	Address string
	// Port overrides the client's default agent port when non-zero.
	Port   int
	Secret string
}

// Options configures a Client.
type Options struct {
	Port    int
	Timeout time.Duration
	// Script is prepended to panel commands (createssh, timedata, ...), e.g.
	// "./painelssjf". Raw shell commands are sent as-is.
	Script     string
	HTTPClient *http.Client
}

// Client sends commands to server agents.
type Client struct {
	port    int
	timeout time.Duration
	script  string
	http    *http.Client
}

// NewClient builds a Client. Zero options fall back to DefaultPort and
// DefaultTimeout.
func NewClient(opts Options) *Client {
	c := &Client{
		port:    opts.Port,
		timeout: opts.Timeout,
		script:  strings.TrimSpace(opts.Script),
		http:    opts.HTTPClient,
	}
	if c.port <= 0 {
		c.port = DefaultPort
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

type request struct {
	Comando string `json:"comando"`
}

// Send posts command to the target agent and returns the raw reply body.
// It makes exactly one attempt bounded by the client timeout.
func (c *Client) Send(ctx context.Context, t Target, command string) (string, error) {
	if t.Address == "" {
		return "", &Error{Kind: KindUnreachable, Server: t.Name, Err: errors.New("server has no address")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(request{Comando: command})
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(t), bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindUnreachable, Server: t.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, t.Secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classify(t.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", classify(t.Name, err)
	}

	if resp.StatusCode >= 300 {
		return "", &Error{
			Kind:   KindRemote,
			Server: t.Name,
			Body:   string(body),
			Err:    fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	return string(body), nil
}

// Run sends cmd and checks the reply for a structured failure and for the
// command's success sentinel, if it has one.
func (c *Client) Run(ctx context.Context, t Target, cmd Command) (string, error) {
	body, err := c.Send(ctx, t, c.wire(cmd))
	if err != nil {
		log.Printf("[agent] %s on %s failed: %v", cmd.Verb, logutil.SanitizeForLog(t.Name), err)
		return "", err
	}
	if msg, ok := Unwrap(body); !ok {
		log.Printf("[agent] %s on %s reported failure: %s", cmd.Verb,
			logutil.SanitizeForLog(t.Name), logutil.Truncate(logutil.SanitizeForLog(msg), 200))
		return "", &Error{
			Kind:   KindRemote,
			Server: t.Name,
			Body:   body,
			Err:    fmt.Errorf("%s: %s", cmd.Verb, msg),
		}
	}
	if cmd.Expect != "" && !strings.Contains(body, cmd.Expect) {
		err := &Error{
			Kind:   KindRemote,
			Server: t.Name,
			Body:   body,
			Err:    fmt.Errorf("%s: reply missing success marker", cmd.Verb),
		}
		log.Printf("[agent] %s on %s: unexpected reply %q", cmd.Verb,
			logutil.SanitizeForLog(t.Name), logutil.Truncate(logutil.SanitizeForLog(body), 200))
		return "", err
	}
	return body, nil
}

// Wire returns the exact command string sent for cmd.
func (c *Client) Wire(cmd Command) string { return c.wire(cmd) }

func (c *Client) wire(cmd Command) string {
	if cmd.Script && c.script != "" {
		return c.script + " " + cmd.String()
	}
	return cmd.String()
}

func (c *Client) endpoint(t Target) string {
	port := t.Port
	if port <= 0 {
		port = c.port
	}
	return "http://" + net.JoinHostPort(t.Address, strconv.Itoa(port))
}

func classify(server string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Kind: KindTimeout, Server: server, Err: err}
	}
	return &Error{Kind: KindUnreachable, Server: server, Err: err}
}
