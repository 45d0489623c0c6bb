package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":3001"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false"`

	// Storage. DatabaseDSN is a file path for sqlite and a connection
	// string for postgres/mysql.
	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"sqlite"`
	DatabaseDSN    string `envconfig:"DATABASE_DSN" default:""`

	// Remote agent settings
	AgentPort    int           `envconfig:"AGENT_PORT" default:"6969"`
	AgentTimeout time.Duration `envconfig:"AGENT_TIMEOUT" default:"10s"`
	AgentSecret  string        `envconfig:"AGENT_SECRET" default:""`
	AgentScript  string        `envconfig:"AGENT_SCRIPT" default:"./painelssjf"`

	// Background jobs (robfig/cron specs)
	SessionSyncSchedule string `envconfig:"SESSION_SYNC_SCHEDULE" default:"@every 1m"`
	TestReapSchedule    string `envconfig:"TEST_REAP_SCHEDULE" default:"@every 5m"`
	LoginSweepSchedule  string `envconfig:"LOGIN_SWEEP_SCHEDULE" default:"@every 10m"`
	AuditPurgeSchedule  string `envconfig:"AUDIT_PURGE_SCHEDULE" default:"@daily"`
	AuditRetentionDays  int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`

	// Payments
	PaymentRenewalDays int    `envconfig:"PAYMENT_RENEWAL_DAYS" default:"30"`
	WebhookSecret      string `envconfig:"WEBHOOK_SECRET" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SSHPANEL", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// DatabasePath resolves the DSN, falling back to a sqlite file under DataPath.
func (s Settings) DatabasePath() string {
	if s.DatabaseDSN != "" {
		return s.DatabaseDSN
	}
	return s.DataPath + "/sshpanel.db"
}

// LogFile resolves the log file location.
func (s Settings) LogFile() string {
	if s.LogPath != "" {
		return s.LogPath
	}
	return s.DataPath + "/sshpanel.log"
}
