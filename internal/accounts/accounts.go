// Package accounts manages panel users along the reseller hierarchy. Every
// account except the first admin has a parent: the account that created it.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/auth"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/logutil"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,64}$`)

type Service struct {
	db       *gorm.DB
	sessions *auth.SessionStore
}

// NewService builds the account service. sessions may be nil; when set,
// suspended users and password resets end existing logins.
func NewService(db *gorm.DB, sessions *auth.SessionStore) *Service {
	return &Service{db: db, sessions: sessions}
}

type CreateInput struct {
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     authz.Role `json:"role"`
	// ParentID is honoured for admins only; everyone else becomes the
	// parent of what they create.
	ParentID *uint `json:"parent_id"`
}

// Create adds an account below actor. Admin accounts are only created from
// the command line.
func (s *Service) Create(ctx context.Context, actor authz.Actor, in CreateInput) (*database.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(in.Username) {
		return nil, apperr.Invalid("username", "must be 3-64 letters, digits, '_', '.' or '-'")
	}
	if len(in.Password) < auth.MinPasswordLength {
		return nil, apperr.Invalid("password", "must be at least %d characters", auth.MinPasswordLength)
	}
	if !in.Role.Valid() {
		return nil, apperr.Invalid("role", "unknown role %q", in.Role)
	}
	if in.Role == authz.RoleAdmin {
		return nil, apperr.Forbidden("admin accounts cannot be created here")
	}
	if d := authz.CanAct(actor, authz.ActionCreateAccount, authz.Target{NewRole: in.Role}); !d.Allowed {
		return nil, apperr.Forbidden(d.Reason)
	}

	db := s.db.WithContext(ctx)
	parentID := actor.ID
	if actor.Role == authz.RoleAdmin && in.ParentID != nil {
		parent, err := database.GetUserByID(db, *in.ParentID)
		if err != nil {
			if database.IsNotFound(err) {
				return nil, apperr.NotFound("parent")
			}
			return nil, fmt.Errorf("load parent: %w", err)
		}
		if !canParent(parent.Role, in.Role) {
			return nil, apperr.Invalid("parent_id", "a %s cannot own a %s", parent.Role, in.Role)
		}
		parentID = parent.ID
	}

	var n int64
	if err := db.Model(&database.User{}).Where("username = ?", in.Username).Count(&n).Error; err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if n > 0 {
		return nil, apperr.Invalid("username", "already exists")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := database.User{
		Username:     in.Username,
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		Role:         in.Role,
		ParentID:     &parentID,
		Status:       database.StatusActive,
	}
	if err := db.Create(&u).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	log.Printf("[accounts] user %d created %s %s", actor.ID, u.Role, logutil.SanitizeForLog(u.Username))
	return &u, nil
}

func canParent(parent, child authz.Role) bool {
	switch child {
	case authz.RoleReseller:
		return parent == authz.RoleAdmin
	case authz.RoleSubReseller:
		return parent == authz.RoleAdmin || parent == authz.RoleReseller
	case authz.RoleClient:
		return parent != authz.RoleClient
	}
	return false
}

// List returns the accounts visible to actor: itself and its children, or
// everything for admins.
func (s *Service) List(ctx context.Context, actor authz.Actor) ([]database.User, error) {
	return database.ListUsers(s.db.WithContext(ctx), authz.ScopeFor(actor))
}

// SetStatus suspends or reactivates an account. Admins may change anyone
// but themselves; resellers only their direct children.
func (s *Service) SetStatus(ctx context.Context, actor authz.Actor, id uint, status database.AccessStatus) (*database.User, error) {
	if !status.Valid() {
		return nil, apperr.Invalid("status", "unknown status %q", status)
	}
	db := s.db.WithContext(ctx)
	u, err := database.GetUserByID(db, id)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NotFound("user")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.ID == actor.ID {
		return nil, apperr.Invalid("id", "cannot change your own status")
	}
	allowed := actor.Role == authz.RoleAdmin ||
		(actor.Role != authz.RoleClient && u.ParentID != nil && *u.ParentID == actor.ID)
	if !allowed {
		return nil, apperr.Forbidden("no permission to manage this account")
	}

	if err := db.Model(u).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	u.Status = status
	if status != database.StatusActive && s.sessions != nil {
		s.sessions.DeleteByUserID(u.ID)
	}
	log.Printf("[accounts] user %d set %s to %s", actor.ID, logutil.SanitizeForLog(u.Username), status)
	return u, nil
}

// ChangePassword replaces the actor's own password after checking the
// current one.
func (s *Service) ChangePassword(ctx context.Context, actor authz.Actor, current, next string) error {
	if len(next) < auth.MinPasswordLength {
		return apperr.Invalid("new_password", "must be at least %d characters", auth.MinPasswordLength)
	}
	db := s.db.WithContext(ctx)
	u, err := database.GetUserByID(db, actor.ID)
	if err != nil {
		if database.IsNotFound(err) {
			return apperr.NotFound("user")
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !auth.CheckPassword(current, u.PasswordHash) {
		return apperr.Invalid("current_password", "is incorrect")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return database.UpdateUserPassword(db, u.ID, hash)
}

// Authenticate checks a login and returns the active user.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*database.User, error) {
	u, err := database.GetUserByUsername(s.db.WithContext(ctx), username)
	if err != nil || !auth.CheckPassword(password, u.PasswordHash) {
		return nil, apperr.Invalid("", "invalid username or password")
	}
	if u.Status != database.StatusActive {
		return nil, apperr.Forbidden("account is " + string(u.Status))
	}
	return u, nil
}

// ErrSetupDone is returned by CreateAdmin with firstOnly once any account
// exists.
var ErrSetupDone = errors.New("setup already completed")

// CreateAdmin adds an admin account. It backs the command line and, with
// firstOnly, the first-run setup endpoint.
func (s *Service) CreateAdmin(ctx context.Context, username, password string, firstOnly bool) (*database.User, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, apperr.Invalid("username", "must be 3-64 letters, digits, '_', '.' or '-'")
	}
	if len(password) < auth.MinPasswordLength {
		return nil, apperr.Invalid("password", "must be at least %d characters", auth.MinPasswordLength)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := database.User{Username: username, PasswordHash: hash, Role: authz.RoleAdmin, Status: database.StatusActive}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if firstOnly {
			if err := tx.Model(&database.User{}).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrSetupDone
			}
		}
		if err := tx.Model(&database.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.Invalid("username", "already exists")
		}
		return tx.Create(&u).Error
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[accounts] admin %s created", logutil.SanitizeForLog(u.Username))
	return &u, nil
}

// ResetPassword sets a new password for username and ends its logins.
func (s *Service) ResetPassword(ctx context.Context, username, password string) error {
	if len(password) < auth.MinPasswordLength {
		return apperr.Invalid("password", "must be at least %d characters", auth.MinPasswordLength)
	}
	db := s.db.WithContext(ctx)
	u, err := database.GetUserByUsername(db, username)
	if err != nil {
		if database.IsNotFound(err) {
			return apperr.NotFound("user")
		}
		return fmt.Errorf("load user: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := database.UpdateUserPassword(db, u.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if s.sessions != nil {
		s.sessions.DeleteByUserID(u.ID)
	}
	return nil
}
