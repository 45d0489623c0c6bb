package agent

import (
	"encoding/json"
	"strconv"
	"strings"
)

// structured is the reply shape of the Go build of the agent. The Python
// build replies with plain text.
type structured struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Unwrap returns the command output carried by a reply, whichever agent
// build produced it. ok is false when a structured reply reports failure; out
// then holds the agent's message. A structured success without data carries
// no output.
func Unwrap(body string) (out string, ok bool) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return body, true
	}
	var s structured
	if err := json.Unmarshal([]byte(trimmed), &s); err != nil || s.Success == nil {
		return body, true
	}
	if !*s.Success {
		return s.Message, false
	}
	return s.Data, true
}

// OnlineUser is one line of a verificar_online reply.
type OnlineUser struct {
	Login string
	IP    string
}

// ParseOnline parses "login ip ..." lines. Lines with fewer than two fields
// are skipped.
func ParseOnline(body string) []OnlineUser {
	out, _ := Unwrap(body)
	var users []OnlineUser
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		users = append(users, OnlineUser{Login: fields[0], IP: fields[1]})
	}
	return users
}

// Resources is a host usage sample, in percent.
type Resources struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Disk   float64 `json:"disk"`
}

// ParseResources reads CPU, memory and disk percentages from the first three
// lines of a probe reply. Missing or malformed values read as zero.
func ParseResources(body string) Resources {
	out, _ := Unwrap(body)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	value := func(i int) float64 {
		if i >= len(lines) {
			return 0
		}
		s := strings.TrimSuffix(strings.TrimSpace(lines[i]), "%")
		s = strings.ReplaceAll(s, ",", ".")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return v
	}
	return Resources{CPU: value(0), Memory: value(1), Disk: value(2)}
}
