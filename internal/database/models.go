package database

import (
	"time"

	"github.com/painelssh/sshpanel/internal/authz"
)

// AccessStatus is the lifecycle state of an SSH credential. Accounts reuse
// the same set.
type AccessStatus string

const (
	StatusActive    AccessStatus = "active"
	StatusSuspended AccessStatus = "suspended"
	StatusExpired   AccessStatus = "expired"
)

func (s AccessStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusExpired:
		return true
	}
	return false
}

// ServerStatus is the administrative state of a managed server. Only active
// servers take part in session reconciliation.
type ServerStatus string

const (
	ServerActive   ServerStatus = "active"
	ServerInactive ServerStatus = "inactive"
	ServerError    ServerStatus = "error"
)

func (s ServerStatus) Valid() bool {
	switch s {
	case ServerActive, ServerInactive, ServerError:
		return true
	}
	return false
}

// PaymentStatus tracks a payment. Everything but pending is terminal.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentCancelled PaymentStatus = "cancelled"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentApproved, PaymentRejected, PaymentCancelled:
		return true
	}
	return false
}

func (s PaymentStatus) Terminal() bool {
	return s.Valid() && s != PaymentPending
}

type User struct {
	ID           uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string       `gorm:"uniqueIndex;not null;size:64" json:"username"`
	Email        string       `gorm:"size:255" json:"email"`
	PasswordHash string       `gorm:"not null" json:"-"`
	Role         authz.Role   `gorm:"type:varchar(16);not null;index" json:"role"`
	ParentID     *uint        `gorm:"index" json:"parent_id"`
	Status       AccessStatus `gorm:"type:varchar(16);not null;default:active" json:"status"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Actor returns the authorization identity of u.
func (u *User) Actor() authz.Actor {
	return authz.Actor{ID: u.ID, Role: u.Role, ParentID: u.ParentID}
}

type Server struct {
	ID      uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name    string `gorm:"not null" json:"name"`
	Address string `gorm:"not null" json:"address"`
	Port    int    `gorm:"not null;default:22" json:"port"`
	// AgentPort overrides the configured agent port when non-zero.
	AgentPort   int    `gorm:"not null;default:0" json:"agent_port"`
	SSHUser     string `gorm:"not null" json:"ssh_user"`
	SSHPassword string `json:"-"` // Fernet-encrypted
	AgentSecret string `json:"-"` // Fernet-encrypted
	// HostKeyFingerprint pins the SSH host key seen on first connect.
	HostKeyFingerprint string       `gorm:"not null;default:''" json:"host_key_fingerprint"`
	Status             ServerStatus `gorm:"type:varchar(16);not null;default:active;index" json:"status"`
	CreatedAt          time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Server) TableName() string { return "servers" }

// SSHAccess is a persistent SSH credential mirrored as an OS account on its
// server.
type SSHAccess struct {
	ID                 uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	Login              string       `gorm:"not null;size:32;uniqueIndex:idx_access_server_login" json:"login"`
	Secret             string       `gorm:"not null" json:"secret"`
	ServerID           uint         `gorm:"not null;uniqueIndex:idx_access_server_login" json:"server_id"`
	OwnerID            uint         `gorm:"column:owner_user_id;not null;index" json:"owner_user_id"`
	CreatedBy          uint         `gorm:"not null;index" json:"created_by"`
	ExpiresAt          time.Time    `gorm:"not null" json:"expires_at"`
	Status             AccessStatus `gorm:"type:varchar(16);not null;default:active" json:"status"`
	MaxConnections     int          `gorm:"not null;default:1" json:"max_connections"`
	CurrentConnections int          `gorm:"not null;default:0" json:"current_connections"`
	CreatedAt          time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SSHAccess) TableName() string { return "ssh_access" }

// SSHTest is an ephemeral trial credential valid for two hours.
type SSHTest struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Login     string    `gorm:"not null;size:32" json:"login"`
	Secret    string    `gorm:"not null" json:"secret"`
	ServerID  uint      `gorm:"not null;index" json:"server_id"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (SSHTest) TableName() string { return "ssh_tests" }

// OnlineSession is a connection observed on a server agent. Rows are derived
// and rebuilt by reconciliation.
type OnlineSession struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccessID    uint      `gorm:"column:ssh_access_id;not null;index" json:"ssh_access_id"`
	IPAddress   string    `gorm:"not null" json:"ip_address"`
	ConnectedAt time.Time `gorm:"not null;index" json:"connected_at"`
}

func (OnlineSession) TableName() string { return "online_sessions" }

type Payment struct {
	ID          uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint          `gorm:"not null;index" json:"user_id"`
	AccessID    *uint         `gorm:"column:ssh_access_id;index" json:"ssh_access_id"`
	Amount      float64       `gorm:"not null" json:"amount"`
	Method      string        `gorm:"not null;default:mercadopago" json:"payment_method"`
	ExternalRef string        `gorm:"uniqueIndex;size:64" json:"external_ref"`
	Status      PaymentStatus `gorm:"type:varchar(16);not null;default:pending" json:"status"`
	// ProcessedAt is set once an approved payment's renewal was applied.
	ProcessedAt *time.Time `json:"processed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

// AuditLog records one operator action. Rows outlive the entities they
// name, so Target keeps a copy of the name.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType string    `gorm:"size:64;not null;index" json:"event_type"`
	ActorID   uint      `gorm:"index" json:"actor_id"`
	ActorName string    `gorm:"size:64" json:"actor_name"`
	TargetID  uint      `json:"target_id"`
	Target    string    `gorm:"size:128" json:"target"`
	SourceIP  string    `gorm:"size:64" json:"source_ip"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// AllModels lists every table, in migration order.
func AllModels() []any {
	return []any{&User{}, &Server{}, &SSHAccess{}, &SSHTest{}, &OnlineSession{}, &Payment{}, &Setting{}, &AuditLog{}}
}
