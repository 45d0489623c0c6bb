package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/painelssh/sshpanel/internal/agent"
	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/database"
	"gorm.io/gorm"
)

// ProcessApprovedRenewal applies an approved payment: its credential expires
// RenewalDays from now and becomes active again. A payment is applied once;
// later calls for the same payment return the current state unchanged.
func (m *Manager) ProcessApprovedRenewal(ctx context.Context, paymentID uint) (Result, error) {
	db := m.db.WithContext(ctx)
	var p database.Payment
	if err := db.First(&p, paymentID).Error; err != nil {
		if database.IsNotFound(err) {
			return Result{}, apperr.NotFound("payment")
		}
		return Result{}, fmt.Errorf("load payment: %w", err)
	}
	if p.Status != database.PaymentApproved {
		return Result{}, apperr.Invalid("payment", "status is %s, not approved", p.Status)
	}

	if p.AccessID != nil {
		unlock := m.locks.Lock(*p.AccessID)
		defer unlock()
	}

	now := m.now()
	var a database.SSHAccess
	var srv *database.Server
	applied := false
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := m.forUpdate(tx).First(&p, paymentID).Error; err != nil {
			return fmt.Errorf("reload payment: %w", err)
		}
		if p.ProcessedAt != nil {
			return nil
		}
		if p.AccessID != nil {
			err := m.forUpdate(tx).First(&a, *p.AccessID).Error
			switch {
			case err == nil:
				a.ExpiresAt = now.Add(time.Duration(m.renewalDays) * 24 * time.Hour)
				a.Status = database.StatusActive
				if err := tx.Model(&a).Select("expires_at", "status", "updated_at").Updates(&a).Error; err != nil {
					return fmt.Errorf("renew credential: %w", err)
				}
				applied = true
				if srv, err = database.GetServer(tx, a.ServerID); err != nil && !database.IsNotFound(err) {
					return fmt.Errorf("load server: %w", err)
				}
			case database.IsNotFound(err):
				log.Printf("[lifecycle] payment %d links missing credential %d", p.ID, *p.AccessID)
			default:
				return fmt.Errorf("load credential: %w", err)
			}
		}
		return tx.Model(&p).Update("processed_at", now).Error
	})
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return Result{ID: a.ID, Login: a.Login, ExpiresAt: a.ExpiresAt, Status: a.Status}, nil
	}

	log.Printf("[lifecycle] payment %d renewed credential %d until %s", p.ID, a.ID, a.ExpiresAt.Format(time.RFC3339))
	res := resultFor(&a)
	res.Warning = m.mirror(ctx, srv, agent.CreateSSH(a.Login, a.Secret, agent.TTLDays(a.ExpiresAt, now), a.MaxConnections))
	return res, nil
}
