package database

import (
	"time"

	"github.com/painelssh/sshpanel/internal/authz"
	"gorm.io/gorm"
)

// Queries that list or count rows for an actor all go through the predicates
// below, so listing and statistics agree with authz.CanAct. Credential
// queries join the owner as "owner".

const joinOwner = "JOIN users owner ON owner.id = ssh_access.owner_user_id"

func accessPredicate(s authz.Scope) (string, []any) {
	switch s.Kind {
	case authz.ScopeAll:
		return "", nil
	case authz.ScopeManaged:
		return "(ssh_access.created_by = ? OR owner.parent_id = ?)", []any{s.ActorID, s.ActorID}
	case authz.ScopeOwn:
		return "ssh_access.owner_user_id = ?", []any{s.ActorID}
	}
	return "1 = 0", nil
}

func userPredicate(s authz.Scope) (string, []any) {
	switch s.Kind {
	case authz.ScopeAll:
		return "", nil
	case authz.ScopeManaged:
		return "(users.id = ? OR users.parent_id = ?)", []any{s.ActorID, s.ActorID}
	case authz.ScopeOwn:
		return "users.id = ?", []any{s.ActorID}
	}
	return "1 = 0", nil
}

func paymentPredicate(s authz.Scope) (string, []any) {
	switch s.Kind {
	case authz.ScopeAll:
		return "", nil
	case authz.ScopeManaged:
		return "(payments.user_id = ? OR payer.parent_id = ?)", []any{s.ActorID, s.ActorID}
	case authz.ScopeOwn:
		return "payments.user_id = ?", []any{s.ActorID}
	}
	return "1 = 0", nil
}

func where(q *gorm.DB, pred string, args []any) *gorm.DB {
	if pred == "" {
		return q
	}
	return q.Where(pred, args...)
}

// AccessView is a credential row with display fields from its server and
// owner.
type AccessView struct {
	SSHAccess
	ServerName    string `json:"server_name"`
	ServerAddress string `json:"server_address"`
	OwnerUsername string `json:"owner_username"`
}

func ListAccess(db *gorm.DB, s authz.Scope) ([]AccessView, error) {
	pred, args := accessPredicate(s)
	q := db.Table("ssh_access").
		Select("ssh_access.*, servers.name AS server_name, servers.address AS server_address, owner.username AS owner_username").
		Joins("JOIN servers ON servers.id = ssh_access.server_id").
		Joins(joinOwner)
	var rows []AccessView
	err := where(q, pred, args).Order("ssh_access.created_at DESC, ssh_access.id DESC").Scan(&rows).Error
	return rows, err
}

func CountAccess(db *gorm.DB, s authz.Scope, status AccessStatus) (int64, error) {
	pred, args := accessPredicate(s)
	q := where(db.Table("ssh_access").Joins(joinOwner), pred, args)
	if status != "" {
		q = q.Where("ssh_access.status = ?", status)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// CountExpiringAccess counts active credentials expiring before cutoff.
func CountExpiringAccess(db *gorm.DB, s authz.Scope, now, cutoff time.Time) (int64, error) {
	pred, args := accessPredicate(s)
	var n int64
	err := where(db.Table("ssh_access").Joins(joinOwner), pred, args).
		Where("ssh_access.status = ? AND ssh_access.expires_at > ? AND ssh_access.expires_at <= ?", StatusActive, now, cutoff).
		Count(&n).Error
	return n, err
}

// SessionView is an online session with its credential and server.
type SessionView struct {
	OnlineSession
	Login         string `json:"login"`
	ServerID      uint   `json:"server_id"`
	ServerName    string `json:"server_name"`
	OwnerUsername string `json:"owner_username"`
}

func ListSessions(db *gorm.DB, s authz.Scope) ([]SessionView, error) {
	pred, args := accessPredicate(s)
	q := db.Table("online_sessions").
		Select("online_sessions.*, ssh_access.login AS login, ssh_access.server_id AS server_id, servers.name AS server_name, owner.username AS owner_username").
		Joins("JOIN ssh_access ON ssh_access.id = online_sessions.ssh_access_id").
		Joins("JOIN servers ON servers.id = ssh_access.server_id").
		Joins(joinOwner)
	var rows []SessionView
	err := where(q, pred, args).Order("online_sessions.connected_at DESC").Scan(&rows).Error
	return rows, err
}

func CountSessions(db *gorm.DB, s authz.Scope) (int64, error) {
	pred, args := accessPredicate(s)
	q := db.Table("online_sessions").
		Joins("JOIN ssh_access ON ssh_access.id = online_sessions.ssh_access_id").
		Joins(joinOwner)
	var n int64
	err := where(q, pred, args).Count(&n).Error
	return n, err
}

func ListUsers(db *gorm.DB, s authz.Scope) ([]User, error) {
	pred, args := userPredicate(s)
	var users []User
	err := where(db.Model(&User{}), pred, args).Order("users.id").Find(&users).Error
	return users, err
}

func CountUsers(db *gorm.DB, s authz.Scope) (int64, error) {
	pred, args := userPredicate(s)
	var n int64
	err := where(db.Model(&User{}), pred, args).Count(&n).Error
	return n, err
}

func ListPayments(db *gorm.DB, s authz.Scope) ([]Payment, error) {
	pred, args := paymentPredicate(s)
	var rows []Payment
	q := db.Model(&Payment{}).Select("payments.*").Joins("JOIN users payer ON payer.id = payments.user_id")
	err := where(q, pred, args).Order("payments.created_at DESC, payments.id DESC").Find(&rows).Error
	return rows, err
}
