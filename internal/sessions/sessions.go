// Package sessions tracks who is connected to which server. Rows are rebuilt
// from the agents' live listings by Reconcile; the database copy is only a
// cache of the last observation.
package sessions

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/painelssh/sshpanel/internal/agent"
	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/logutil"
)

// PruneAfter is the age past which a session row is dropped even if its
// server could not be polled.
const PruneAfter = time.Hour

type Commander interface {
	Run(ctx context.Context, t agent.Target, cmd agent.Command) (string, error)
}

type Targets interface {
	Target(srv *database.Server) (agent.Target, error)
}

type Options struct {
	DB      *gorm.DB
	Agent   Commander
	Targets Targets
	Now     func() time.Time
}

type Registry struct {
	db      *gorm.DB
	agent   Commander
	targets Targets
	now     func() time.Time
	group   singleflight.Group
}

func New(opts Options) *Registry {
	r := &Registry{db: opts.DB, agent: opts.Agent, targets: opts.Targets, now: opts.Now}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// ServerReport is the reconciliation outcome for one server.
type ServerReport struct {
	ServerID uint   `json:"server_id"`
	Server   string `json:"server"`
	Online   int    `json:"online"`
	Unknown  int    `json:"unknown"`
	Error    string `json:"error,omitempty"`
}

type Report struct {
	Pruned  int64          `json:"pruned"`
	Servers []ServerReport `json:"servers"`
}

// Reconcile prunes stale rows and then polls every active server in
// parallel. A server that fails is logged and reported; the others are
// still updated. Concurrent callers share one run.
func (r *Registry) Reconcile(ctx context.Context) (Report, error) {
	v, err, _ := r.group.Do("reconcile", func() (any, error) {
		return r.reconcile(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

func (r *Registry) reconcile(ctx context.Context) (Report, error) {
	db := r.db.WithContext(ctx)
	var report Report

	cutoff := r.now().Add(-PruneAfter)
	res := db.Where("connected_at < ?", cutoff).Delete(&database.OnlineSession{})
	if res.Error != nil {
		return report, fmt.Errorf("prune sessions: %w", res.Error)
	}
	report.Pruned = res.RowsAffected

	servers, err := database.ActiveServers(db)
	if err != nil {
		return report, fmt.Errorf("list servers: %w", err)
	}

	reports := make([]ServerReport, len(servers))
	var wg sync.WaitGroup
	for i := range servers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = r.syncServer(ctx, &servers[i])
		}(i)
	}
	wg.Wait()

	sort.Slice(reports, func(i, j int) bool { return reports[i].ServerID < reports[j].ServerID })
	report.Servers = reports
	return report, nil
}

func (r *Registry) syncServer(ctx context.Context, srv *database.Server) ServerReport {
	rep := ServerReport{ServerID: srv.ID, Server: srv.Name}
	fail := func(err error) ServerReport {
		log.Printf("[sessions] reconcile %s: %v", logutil.SanitizeForLog(srv.Name), err)
		rep.Error = err.Error()
		return rep
	}

	t, err := r.targets.Target(srv)
	if err != nil {
		return fail(err)
	}
	body, err := r.agent.Run(ctx, t, agent.VerifyOnline())
	if err != nil {
		return fail(err)
	}
	online := agent.ParseOnline(body)

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var creds []database.SSHAccess
		if err := tx.Select("id", "login").Where("server_id = ?", srv.ID).Find(&creds).Error; err != nil {
			return fmt.Errorf("list credentials: %w", err)
		}
		byLogin := make(map[string]uint, len(creds))
		ids := make([]uint, 0, len(creds))
		for _, c := range creds {
			byLogin[c.Login] = c.ID
			ids = append(ids, c.ID)
		}
		if len(ids) == 0 {
			rep.Unknown = len(online)
			return nil
		}

		// Keep the first-seen time of sessions that are still connected.
		var existing []database.OnlineSession
		if err := tx.Where("ssh_access_id IN ?", ids).Find(&existing).Error; err != nil {
			return fmt.Errorf("load sessions: %w", err)
		}
		since := make(map[string]time.Time, len(existing))
		for _, s := range existing {
			since[sessionKey(s.AccessID, s.IPAddress)] = s.ConnectedAt
		}
		if err := tx.Where("ssh_access_id IN ?", ids).Delete(&database.OnlineSession{}).Error; err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}

		now := r.now()
		counts := make(map[uint]int)
		var rows []database.OnlineSession
		for _, u := range online {
			id, ok := byLogin[u.Login]
			if !ok {
				rep.Unknown++
				continue
			}
			connectedAt, ok := since[sessionKey(id, u.IP)]
			if !ok {
				connectedAt = now
			}
			rows = append(rows, database.OnlineSession{AccessID: id, IPAddress: u.IP, ConnectedAt: connectedAt})
			counts[id]++
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert sessions: %w", err)
			}
		}
		rep.Online = len(rows)

		if err := tx.Model(&database.SSHAccess{}).Where("server_id = ?", srv.ID).Update("current_connections", 0).Error; err != nil {
			return fmt.Errorf("reset connection counts: %w", err)
		}
		for id, n := range counts {
			if err := tx.Model(&database.SSHAccess{}).Where("id = ?", id).Update("current_connections", n).Error; err != nil {
				return fmt.Errorf("update connection count: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}
	return rep
}

func sessionKey(id uint, ip string) string {
	return fmt.Sprintf("%d/%s", id, ip)
}

// DisconnectResult reports a forced disconnect. The session row is gone even
// when Warning is set.
type DisconnectResult struct {
	ID      uint   `json:"id"`
	Login   string `json:"login"`
	Warning string `json:"warning,omitempty"`
}

// Disconnect kills the processes of the session's login on its server and
// drops the session row.
func (r *Registry) Disconnect(ctx context.Context, actor authz.Actor, sessionID uint) (DisconnectResult, error) {
	db := r.db.WithContext(ctx)
	var s database.OnlineSession
	if err := db.First(&s, sessionID).Error; err != nil {
		if database.IsNotFound(err) {
			return DisconnectResult{}, apperr.NotFound("session")
		}
		return DisconnectResult{}, fmt.Errorf("load session: %w", err)
	}
	var a database.SSHAccess
	if err := db.First(&a, s.AccessID).Error; err != nil {
		if database.IsNotFound(err) {
			return DisconnectResult{}, apperr.NotFound("credential")
		}
		return DisconnectResult{}, fmt.Errorf("load credential: %w", err)
	}

	t := authz.Target{CreatedBy: a.CreatedBy, OwnerID: a.OwnerID}
	if owner, err := database.GetUserByID(db, a.OwnerID); err == nil {
		t.OwnerParentID = owner.ParentID
	}
	if d := authz.CanAct(actor, authz.ActionDisconnect, t); !d.Allowed {
		return DisconnectResult{}, apperr.Forbidden(d.Reason)
	}

	res := DisconnectResult{ID: s.ID, Login: a.Login}
	srv, err := database.GetServer(db, a.ServerID)
	if err != nil {
		res.Warning = agent.KindUnreachable.String()
	} else if target, err := r.targets.Target(srv); err != nil {
		res.Warning = agent.Warning(err)
	} else if _, err := r.agent.Run(context.WithoutCancel(ctx), target, agent.KillUser(a.Login)); err != nil {
		res.Warning = agent.Warning(err)
	}
	if res.Warning != "" {
		log.Printf("[sessions] disconnect %s: agent step failed: %s", logutil.SanitizeForLog(a.Login), res.Warning)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&database.OnlineSession{}, s.ID).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		var left int64
		if err := tx.Model(&database.OnlineSession{}).Where("ssh_access_id = ?", a.ID).Count(&left).Error; err != nil {
			return err
		}
		return tx.Model(&database.SSHAccess{}).Where("id = ?", a.ID).Update("current_connections", left).Error
	})
	if err != nil {
		return res, err
	}
	log.Printf("[sessions] user %d disconnected %s from %s", actor.ID, logutil.SanitizeForLog(a.Login), logutil.SanitizeForLog(s.IPAddress))
	return res, nil
}

// Stats are dashboard counters. Every figure uses the actor's listing scope.
type Stats struct {
	OnlineSessions    int64 `json:"online_sessions"`
	Credentials       int64 `json:"credentials"`
	ActiveCredentials int64 `json:"active_credentials"`
	ExpiringSoon      int64 `json:"expiring_soon"`
	Accounts          int64 `json:"accounts"`
}

// ExpiringWindow is how far ahead Stats looks for expiring credentials.
const ExpiringWindow = 7 * 24 * time.Hour

func (r *Registry) Stats(ctx context.Context, actor authz.Actor) (Stats, error) {
	db := r.db.WithContext(ctx)
	scope := authz.ScopeFor(actor)
	var st Stats
	var err error
	if st.OnlineSessions, err = database.CountSessions(db, scope); err != nil {
		return st, fmt.Errorf("count sessions: %w", err)
	}
	if st.Credentials, err = database.CountAccess(db, scope, ""); err != nil {
		return st, fmt.Errorf("count credentials: %w", err)
	}
	if st.ActiveCredentials, err = database.CountAccess(db, scope, database.StatusActive); err != nil {
		return st, fmt.Errorf("count active credentials: %w", err)
	}
	now := r.now()
	if st.ExpiringSoon, err = database.CountExpiringAccess(db, scope, now, now.Add(ExpiringWindow)); err != nil {
		return st, fmt.Errorf("count expiring credentials: %w", err)
	}
	if st.Accounts, err = database.CountUsers(db, scope); err != nil {
		return st, fmt.Errorf("count accounts: %w", err)
	}
	return st, nil
}

// List returns the online sessions visible to actor.
func (r *Registry) List(ctx context.Context, actor authz.Actor) ([]database.SessionView, error) {
	return database.ListSessions(r.db.WithContext(ctx), authz.ScopeFor(actor))
}
