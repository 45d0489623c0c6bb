package agent

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Success markers printed by the agent's panel script.
const (
	SentinelCreated = "CRIADOCOMSUCESSO"
	SentinelRemoved = "90Cbp1PK1ExPingu"
)

// Command is one agent instruction.
type Command struct {
	Verb string
	Args []string
	// Script marks panel-script commands, which get the client's script
	// prefix.
	Script bool
	// Expect is the substring a successful reply must contain, if any.
	Expect string

	raw string
}

func (c Command) String() string {
	if c.raw != "" {
		return c.raw
	}
	if len(c.Args) == 0 {
		return c.Verb
	}
	return c.Verb + " " + strings.Join(c.Args, " ")
}

// CreateSSH creates (or recreates) an OS account valid for days.
func CreateSSH(login, secret string, days, maxConn int) Command {
	return Command{
		Verb:   "createssh",
		Args:   []string{login, secret, strconv.Itoa(days), strconv.Itoa(maxConn)},
		Script: true,
		Expect: SentinelCreated,
	}
}

// TimeData resets the account expiry to days from now.
func TimeData(login string, days int) Command {
	return Command{
		Verb:   "timedata",
		Args:   []string{login, strconv.Itoa(days)},
		Script: true,
		Expect: SentinelCreated,
	}
}

// RemoveSSH removes the OS account. Used for both suspension and deletion.
func RemoveSSH(login string) Command {
	return Command{
		Verb:   "removessh",
		Args:   []string{login},
		Script: true,
		Expect: SentinelRemoved,
	}
}

// VerifyOnline lists connected users as "login ip" lines.
func VerifyOnline() Command {
	return Command{Verb: "verificar_online", Script: true}
}

// KillUser terminates every process owned by login.
func KillUser(login string) Command {
	return Command{Verb: "pkill", Args: []string{"-u", login}}
}

// resourceProbe prints CPU, memory and root-disk usage percentages, one per line.
const resourceProbe = `top -bn1 | grep "Cpu(s)" | awk '{print $2}' | cut -d'%' -f1 && ` +
	`free | grep Mem | awk '{printf "%.1f\n", $3/$2 * 100.0}' && ` +
	`df -h / | awk 'NR==2{print $5}' | cut -d'%' -f1`

// ResourceProbe samples host resource usage.
func ResourceProbe() Command {
	return Command{Verb: "resources", raw: resourceProbe}
}

// TTLDays is the whole-day lifetime sent to the agent for an account that
// expires at expiresAt: ceil((expiresAt-now)/24h), never less than one day.
func TTLDays(expiresAt, now time.Time) int {
	days := int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}
