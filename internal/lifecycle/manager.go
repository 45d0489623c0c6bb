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
	"gorm.io/gorm/clause"
)

// DefaultRenewalDays is how far an approved payment pushes the expiry.
const DefaultRenewalDays = 30

// Commander sends typed commands to a server agent. *agent.Client
// implements it.
type Commander interface {
	Run(ctx context.Context, t agent.Target, cmd agent.Command) (string, error)
}

// Targets resolves the agent address and secret of a server.
type Targets interface {
	Target(srv *database.Server) (agent.Target, error)
}

type Options struct {
	DB          *gorm.DB
	Agent       Commander
	Targets     Targets
	RenewalDays int
	// Now defaults to time.Now.
	Now func() time.Time
}

type Manager struct {
	db          *gorm.DB
	agent       Commander
	targets     Targets
	renewalDays int
	now         func() time.Time
	locks       *keyedMutex
}

func New(opts Options) *Manager {
	m := &Manager{
		db:          opts.DB,
		agent:       opts.Agent,
		targets:     opts.Targets,
		renewalDays: opts.RenewalDays,
		now:         opts.Now,
		locks:       newKeyedMutex(),
	}
	if m.renewalDays <= 0 {
		m.renewalDays = DefaultRenewalDays
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Result is the outcome of a committed operation. Warning is set when the
// agent could not mirror the change.
type Result struct {
	ID        uint                  `json:"id"`
	Login     string                `json:"login,omitempty"`
	Secret    string                `json:"secret,omitempty"`
	ExpiresAt time.Time             `json:"expires_at,omitzero"`
	Status    database.AccessStatus `json:"status,omitempty"`
	Warning   string                `json:"warning,omitempty"`
}

func resultFor(a *database.SSHAccess) Result {
	return Result{ID: a.ID, Login: a.Login, ExpiresAt: a.ExpiresAt, Status: a.Status}
}

// forUpdate locks the selected rows on engines that support it. sqlite
// serializes writers on its own.
func (m *Manager) forUpdate(tx *gorm.DB) *gorm.DB {
	if database.IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// target describes a stored credential for authorization.
func target(tx *gorm.DB, a *database.SSHAccess) (authz.Target, error) {
	t := authz.Target{CreatedBy: a.CreatedBy, OwnerID: a.OwnerID}
	owner, err := database.GetUserByID(tx, a.OwnerID)
	switch {
	case err == nil:
		t.OwnerParentID = owner.ParentID
	case !database.IsNotFound(err):
		return t, fmt.Errorf("load owner: %w", err)
	}
	return t, nil
}

func loadServer(tx *gorm.DB, id uint) (*database.Server, error) {
	srv, err := database.GetServer(tx, id)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NotFound("server")
		}
		return nil, fmt.Errorf("load server: %w", err)
	}
	return srv, nil
}

// mutation changes a locked credential in memory and returns the columns to
// persist.
type mutation func(a *database.SSHAccess) ([]string, error)

// mutate runs apply on credential id inside a transaction after authorizing
// action. The caller must hold the credential's key lock.
func (m *Manager) mutate(ctx context.Context, actor authz.Actor, id uint, action authz.Action, apply mutation) (*database.SSHAccess, *database.Server, error) {
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
		if d := authz.CanAct(actor, action, t); !d.Allowed {
			return apperr.Forbidden(d.Reason)
		}

		cols, err := apply(&a)
		if err != nil {
			return err
		}
		if len(cols) > 0 {
			cols = append(cols, "updated_at")
			if err := tx.Model(&a).Select(cols).Updates(&a).Error; err != nil {
				return fmt.Errorf("update credential: %w", err)
			}
		}

		srv, err = database.GetServer(tx, a.ServerID)
		if err != nil && !database.IsNotFound(err) {
			return fmt.Errorf("load server: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &a, srv, nil
}

// mirror sends cmd to srv's agent and returns the warning for a failure.
// The call is detached from ctx: once dispatched it runs until the agent
// replies or the client timeout fires.
func (m *Manager) mirror(ctx context.Context, srv *database.Server, cmd agent.Command) string {
	if srv == nil {
		return agent.KindUnreachable.String()
	}
	t, err := m.targets.Target(srv)
	if err != nil {
		log.Printf("[lifecycle] resolve agent for server %d: %v", srv.ID, err)
		return agent.Warning(err)
	}
	if _, err := m.agent.Run(context.WithoutCancel(ctx), t, cmd); err != nil {
		log.Printf("[lifecycle] %s on %s not mirrored: %v", cmd.Verb, logutil.SanitizeForLog(srv.Name), err)
		return agent.Warning(err)
	}
	return ""
}
