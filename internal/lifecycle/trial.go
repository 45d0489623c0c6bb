package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/painelssh/sshpanel/internal/agent"
	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/logutil"
)

// TestLifetime is the validity of a test credential.
const TestLifetime = 2 * time.Hour

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateTest provisions a throwaway test_ login on serverID that expires
// exactly TestLifetime after creation.
func (m *Manager) CreateTest(ctx context.Context, actor authz.Actor, serverID uint) (Result, error) {
	if d := authz.CanAct(actor, authz.ActionCreateTest, authz.Target{}); !d.Allowed {
		return Result{}, apperr.Forbidden(d.Reason)
	}
	db := m.db.WithContext(ctx)
	srv, err := loadServer(db, serverID)
	if err != nil {
		return Result{}, err
	}

	suffix, err := randomHex(4)
	if err != nil {
		return Result{}, fmt.Errorf("generate login: %w", err)
	}
	secret, err := randomHex(8)
	if err != nil {
		return Result{}, fmt.Errorf("generate secret: %w", err)
	}

	now := m.now()
	t := database.SSHTest{
		Login:     "test_" + suffix,
		Secret:    secret,
		ServerID:  srv.ID,
		ExpiresAt: now.Add(TestLifetime),
		CreatedAt: now,
	}
	if err := db.Create(&t).Error; err != nil {
		return Result{}, fmt.Errorf("create test credential: %w", err)
	}
	log.Printf("[lifecycle] user %d created test credential %s on %s", actor.ID, t.Login, logutil.SanitizeForLog(srv.Name))

	res := Result{ID: t.ID, Login: t.Login, Secret: t.Secret, ExpiresAt: t.ExpiresAt, Status: database.StatusActive}
	res.Warning = m.mirror(ctx, srv, agent.CreateSSH(t.Login, t.Secret, agent.TTLDays(t.ExpiresAt, now), 1))
	return res, nil
}

// PurgeExpiredTests deletes test credentials past their deadline and asks
// their agents to remove the accounts. Agent failures are logged only.
func (m *Manager) PurgeExpiredTests(ctx context.Context) (int, error) {
	db := m.db.WithContext(ctx)
	var expired []database.SSHTest
	if err := db.Where("expires_at <= ?", m.now()).Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("list expired tests: %w", err)
	}

	servers := map[uint]*database.Server{}
	purged := 0
	for i := range expired {
		t := &expired[i]
		if err := db.Delete(t).Error; err != nil {
			log.Printf("[lifecycle] delete test credential %d: %v", t.ID, err)
			continue
		}
		purged++

		srv, ok := servers[t.ServerID]
		if !ok {
			srv, _ = database.GetServer(db, t.ServerID)
			servers[t.ServerID] = srv
		}
		if srv == nil {
			continue
		}
		m.mirror(ctx, srv, agent.RemoveSSH(t.Login))
	}
	if purged > 0 {
		log.Printf("[lifecycle] purged %d expired test credentials", purged)
	}
	return purged, nil
}
