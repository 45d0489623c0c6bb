package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/painelssh/sshpanel/internal/agent"
	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/logutil"
	"gorm.io/gorm"
)

type CreateInput struct {
	Login          string    `json:"login"`
	Secret         string    `json:"secret"`
	ServerID       uint      `json:"server_id"`
	OwnerID        uint      `json:"owner_user_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	MaxConnections int       `json:"max_connections"`
}

// Create provisions a credential for OwnerID on ServerID.
func (m *Manager) Create(ctx context.Context, actor authz.Actor, in CreateInput) (Result, error) {
	if d, ok := authz.RoleDecision(actor, authz.ActionCreate); ok && !d.Allowed {
		return Result{}, apperr.Forbidden(d.Reason)
	}
	if in.MaxConnections == 0 {
		in.MaxConnections = 1
	}
	if err := validateLogin(in.Login); err != nil {
		return Result{}, err
	}
	if err := validateSecret(in.Secret); err != nil {
		return Result{}, err
	}
	if err := validateMaxConnections(in.MaxConnections); err != nil {
		return Result{}, err
	}
	if in.ExpiresAt.IsZero() {
		return Result{}, apperr.Invalid("expires_at", "is required")
	}
	if in.ServerID == 0 {
		return Result{}, apperr.Invalid("server_id", "is required")
	}
	if in.OwnerID == 0 {
		return Result{}, apperr.Invalid("owner_user_id", "is required")
	}

	a := database.SSHAccess{
		Login:          in.Login,
		Secret:         in.Secret,
		ServerID:       in.ServerID,
		OwnerID:        in.OwnerID,
		CreatedBy:      actor.ID,
		ExpiresAt:      in.ExpiresAt,
		Status:         database.StatusActive,
		MaxConnections: in.MaxConnections,
	}
	var srv *database.Server
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owner, err := database.GetUserByID(tx, in.OwnerID)
		if err != nil {
			if !database.IsNotFound(err) {
				return fmt.Errorf("load owner: %w", err)
			}
			// Hide which accounts exist from actors limited to their own.
			if d := authz.CanAct(actor, authz.ActionCreate, authz.Target{CreatedBy: actor.ID}); !d.Allowed {
				return apperr.Forbidden(d.Reason)
			}
			return apperr.NotFound("owner")
		}
		t := authz.Target{CreatedBy: actor.ID, OwnerID: owner.ID, OwnerParentID: owner.ParentID}
		if d := authz.CanAct(actor, authz.ActionCreate, t); !d.Allowed {
			return apperr.Forbidden(d.Reason)
		}
		if srv, err = loadServer(tx, in.ServerID); err != nil {
			return err
		}

		var n int64
		if err := tx.Model(&database.SSHAccess{}).Where("server_id = ? AND login = ?", in.ServerID, in.Login).Count(&n).Error; err != nil {
			return fmt.Errorf("check login: %w", err)
		}
		if n > 0 {
			return apperr.Invalid("login", "%q already exists on this server", in.Login)
		}
		if err := tx.Create(&a).Error; err != nil {
			return fmt.Errorf("create credential: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	log.Printf("[lifecycle] user %d created credential %d (%s) on server %d", actor.ID, a.ID, logutil.SanitizeForLog(a.Login), a.ServerID)
	res := resultFor(&a)
	days := agent.TTLDays(a.ExpiresAt, m.now())
	res.Warning = m.mirror(ctx, srv, agent.CreateSSH(a.Login, a.Secret, days, a.MaxConnections))
	return res, nil
}

type RenewInput struct {
	Days int `json:"days"`
	// Reactivate also sets a suspended or expired credential back to active.
	Reactivate bool `json:"reactivate"`
}

// Renew extends the stored expiry by Days. A credential whose deadline has
// already passed still advances from that deadline, not from now.
func (m *Manager) Renew(ctx context.Context, actor authz.Actor, id uint, in RenewInput) (Result, error) {
	if err := validateDays(in.Days); err != nil {
		return Result{}, err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	reactivated := false
	a, srv, err := m.mutate(ctx, actor, id, authz.ActionRenew, func(a *database.SSHAccess) ([]string, error) {
		a.ExpiresAt = a.ExpiresAt.Add(time.Duration(in.Days) * 24 * time.Hour)
		cols := []string{"expires_at"}
		if in.Reactivate && a.Status != database.StatusActive {
			a.Status = database.StatusActive
			reactivated = true
			cols = append(cols, "status")
		}
		return cols, nil
	})
	if err != nil {
		return Result{}, err
	}

	res := resultFor(a)
	days := agent.TTLDays(a.ExpiresAt, m.now())
	switch {
	case reactivated:
		// Suspension removed the OS account.
		res.Warning = m.mirror(ctx, srv, agent.CreateSSH(a.Login, a.Secret, days, a.MaxConnections))
	case a.Status == database.StatusActive:
		res.Warning = m.mirror(ctx, srv, agent.TimeData(a.Login, days))
	}
	return res, nil
}

// Suspend cuts OS access but keeps the credential.
func (m *Manager) Suspend(ctx context.Context, actor authz.Actor, id uint) (Result, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	a, srv, err := m.mutate(ctx, actor, id, authz.ActionSuspend, func(a *database.SSHAccess) ([]string, error) {
		a.Status = database.StatusSuspended
		return []string{"status"}, nil
	})
	if err != nil {
		return Result{}, err
	}
	res := resultFor(a)
	res.Warning = m.mirror(ctx, srv, agent.RemoveSSH(a.Login))
	return res, nil
}

// Activate recreates the OS account from the stored login, secret and
// remaining lifetime.
func (m *Manager) Activate(ctx context.Context, actor authz.Actor, id uint) (Result, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	a, srv, err := m.mutate(ctx, actor, id, authz.ActionActivate, func(a *database.SSHAccess) ([]string, error) {
		a.Status = database.StatusActive
		return []string{"status"}, nil
	})
	if err != nil {
		return Result{}, err
	}
	res := resultFor(a)
	days := agent.TTLDays(a.ExpiresAt, m.now())
	res.Warning = m.mirror(ctx, srv, agent.CreateSSH(a.Login, a.Secret, days, a.MaxConnections))
	return res, nil
}

// Delete removes the credential with its online sessions.
func (m *Manager) Delete(ctx context.Context, actor authz.Actor, id uint) (Result, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	var a database.SSHAccess
	var srv *database.Server
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.forUpdate(tx).First(&a, id).Error; err != nil {
			if database.IsNotFound(err) {
				return apperr.NotFound("credential")
			}
			return fmt.Errorf("load credential: %w", err)
		}
		t, err := target(tx, &a)
		if err != nil {
			return err
		}
		if d := authz.CanAct(actor, authz.ActionDelete, t); !d.Allowed {
			return apperr.Forbidden(d.Reason)
		}

		if err := tx.Where("ssh_access_id = ?", id).Delete(&database.OnlineSession{}).Error; err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		if err := tx.Model(&database.Payment{}).Where("ssh_access_id = ?", id).Update("ssh_access_id", nil).Error; err != nil {
			return fmt.Errorf("unlink payments: %w", err)
		}
		if err := tx.Delete(&a).Error; err != nil {
			return fmt.Errorf("delete credential: %w", err)
		}
		srv, err = database.GetServer(tx, a.ServerID)
		if err != nil && !database.IsNotFound(err) {
			return fmt.Errorf("load server: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	log.Printf("[lifecycle] user %d deleted credential %d (%s)", actor.ID, a.ID, logutil.SanitizeForLog(a.Login))
	res := Result{ID: a.ID, Login: a.Login}
	res.Warning = m.mirror(ctx, srv, agent.RemoveSSH(a.Login))
	return res, nil
}

// Get returns one credential the actor may read.
func (m *Manager) Get(ctx context.Context, actor authz.Actor, id uint) (*database.SSHAccess, error) {
	db := m.db.WithContext(ctx)
	var a database.SSHAccess
	if err := db.First(&a, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NotFound("credential")
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	t, err := target(db, &a)
	if err != nil {
		return nil, err
	}
	if d := authz.CanAct(actor, authz.ActionRead, t); !d.Allowed {
		return nil, apperr.Forbidden(d.Reason)
	}
	return &a, nil
}

// List returns the credentials visible to actor, newest first.
func (m *Manager) List(ctx context.Context, actor authz.Actor) ([]database.AccessView, error) {
	return database.ListAccess(m.db.WithContext(ctx), authz.ScopeFor(actor))
}
