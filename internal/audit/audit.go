// Package audit records operator actions on credentials, servers, accounts
// and payments, and keeps them for a retention period.
package audit

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/logutil"
)

// Event types.
const (
	EventCredentialCreated   = "credential_created"
	EventCredentialRenewed   = "credential_renewed"
	EventCredentialSuspended = "credential_suspended"
	EventCredentialActivated = "credential_activated"
	EventCredentialDeleted   = "credential_deleted"
	EventTrialCreated        = "trial_created"
	EventSessionDisconnected = "session_disconnected"
	EventServerCreated       = "server_created"
	EventServerUpdated       = "server_updated"
	EventServerDeleted       = "server_deleted"
	EventServerCommand       = "server_command"
	EventAccountCreated      = "account_created"
	EventAccountStatus       = "account_status"
	EventPaymentStatus       = "payment_status"
	EventSettingsUpdated     = "settings_updated"
	EventLoginFailed         = "login_failed"
)

const DefaultRetentionDays = 90

type Entry struct {
	EventType string
	ActorID   uint
	ActorName string
	TargetID  uint
	Target    string
	SourceIP  string
	Details   string
}

type Auditor struct {
	db            *gorm.DB
	retentionDays int
	now           func() time.Time
}

// NewAuditor writes to db. A retentionDays of 0 means DefaultRetentionDays.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{db: db, retentionDays: retentionDays, now: time.Now}
}

// Log records e. Failures are logged and returned; callers whose action
// already committed may ignore them. A nil Auditor drops events.
func (a *Auditor) Log(ctx context.Context, e Entry) error {
	if a == nil {
		return nil
	}
	record := database.AuditLog{
		EventType: e.EventType,
		ActorID:   e.ActorID,
		ActorName: e.ActorName,
		TargetID:  e.TargetID,
		Target:    e.Target,
		SourceIP:  e.SourceIP,
		Details:   logutil.Truncate(e.Details, 1024),
		CreatedAt: a.now(),
	}
	if err := a.db.WithContext(ctx).Create(&record).Error; err != nil {
		log.Printf("[audit] failed to write audit log: %v", err)
		return err
	}
	log.Printf("[audit] %s actor=%s target=%s ip=%s",
		e.EventType,
		logutil.SanitizeForLog(e.ActorName),
		logutil.SanitizeForLog(e.Target),
		logutil.SanitizeForLog(e.SourceIP),
	)
	return nil
}

type QueryOptions struct {
	EventType string
	ActorID   uint
	Target    string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

type QueryResult struct {
	Entries []database.AuditLog `json:"entries"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// Query returns matching entries, newest first. Limit defaults to 50 and is
// capped at 1000.
func (a *Auditor) Query(ctx context.Context, opts QueryOptions) (*QueryResult, error) {
	tx := a.db.WithContext(ctx).Model(&database.AuditLog{})
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.ActorID > 0 {
		tx = tx.Where("actor_id = ?", opts.ActorID)
	}
	if opts.Target != "" {
		tx = tx.Where("target = ?", opts.Target)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var entries []database.AuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// PurgeExpired removes entries older than the retention period.
func (a *Auditor) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := a.now().AddDate(0, 0, -a.retentionDays)
	result := a.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&database.AuditLog{})
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d entries older than %d days", result.RowsAffected, a.retentionDays)
	}
	return result.RowsAffected, nil
}

func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc replaces the clock.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.now = fn
}

// SourceIP returns the client address of r without its port. Run behind
// chi's RealIP middleware, RemoteAddr already reflects X-Forwarded-For.
func SourceIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
