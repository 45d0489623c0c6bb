// Package agenttest provides an in-process server agent for tests.
package agenttest

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/painelssh/sshpanel/internal/agent"
)

// Agent answers panel commands the way the real agent script does. It
// records every command it accepts.
type Agent struct {
	*httptest.Server
	Secret string

	mu       sync.Mutex
	commands []string
	online   string
	status   int
	reply    func(cmd string) string
}

// New starts an agent that requires secret in the Senha header.
func New(secret string) *Agent {
	a := &Agent{Secret: secret}
	a.Server = httptest.NewServer(http.HandlerFunc(a.serve))
	return a
}

func (a *Agent) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get(agent.SecretHeader) != a.Secret {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, "Não autorizado!")
		return
	}
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cmd := body["comando"]

	a.mu.Lock()
	a.commands = append(a.commands, cmd)
	status, online, reply := a.status, a.online, a.reply
	a.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		io.WriteString(w, "internal error")
		return
	}
	if reply != nil {
		io.WriteString(w, reply(cmd))
		return
	}
	io.WriteString(w, defaultReply(cmd, online))
}

func defaultReply(cmd, online string) string {
	fields := strings.Fields(cmd)
	// Skip a script prefix such as "./painelssjf".
	if len(fields) > 0 && strings.Contains(fields[0], "/") {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "createssh", "timedata":
		return agent.SentinelCreated + "\n"
	case "removessh":
		return agent.SentinelRemoved + "\n"
	case "verificar_online":
		return online
	}
	return ""
}

// SetOnline sets the verificar_online listing, one "login ip" per line.
func (a *Agent) SetOnline(lines ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.online = strings.Join(lines, "\n")
}

// SetStatus makes every reply use status; zero restores normal replies.
func (a *Agent) SetStatus(status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}

// SetReply overrides the reply for every command.
func (a *Agent) SetReply(fn func(cmd string) string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reply = fn
}

// Commands returns the commands received so far.
func (a *Agent) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.commands...)
}

// Last returns the most recent command, or "".
func (a *Agent) Last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.commands) == 0 {
		return ""
	}
	return a.commands[len(a.commands)-1]
}

// HostPort splits the listener address.
func (a *Agent) HostPort() (string, int) {
	u, err := url.Parse(a.URL)
	if err != nil {
		panic(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		panic(err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// Target addresses this agent.
func (a *Agent) Target(name string) agent.Target {
	host, port := a.HostPort()
	return agent.Target{Name: name, Address: host, Port: port, Secret: a.Secret}
}

// DeadAddress returns a loopback host and port with nothing listening.
func DeadAddress() (string, int) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()
	return "127.0.0.1", addr.Port
}
