// Package payments records payment intents and turns provider status
// notifications into credential renewals.
package payments

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/lifecycle"
)

// Renewer applies an approved payment. *lifecycle.Manager implements it.
type Renewer interface {
	ProcessApprovedRenewal(ctx context.Context, paymentID uint) (lifecycle.Result, error)
}

type Trigger struct {
	db      *gorm.DB
	renewer Renewer
}

func NewTrigger(db *gorm.DB, renewer Renewer) *Trigger {
	return &Trigger{db: db, renewer: renewer}
}

// StatusResult is the outcome of a status notification. Renewal is set when
// the notification approved a payment.
type StatusResult struct {
	PaymentID uint                   `json:"payment_id"`
	Status    database.PaymentStatus `json:"status"`
	Changed   bool                   `json:"changed"`
	Renewal   *lifecycle.Result      `json:"renewal,omitempty"`
}

// HandleStatus records a provider status for a payment. Only pending
// payments move; a terminal payment ignores further notifications, so a
// retried approval renews once. Approval triggers the renewal.
func (t *Trigger) HandleStatus(ctx context.Context, paymentID uint, status database.PaymentStatus) (StatusResult, error) {
	if !status.Valid() {
		return StatusResult{}, apperr.Invalid("status", "unknown payment status %q", status)
	}
	db := t.db.WithContext(ctx)

	var p database.Payment
	if err := db.First(&p, paymentID).Error; err != nil {
		if database.IsNotFound(err) {
			return StatusResult{}, apperr.NotFound("payment")
		}
		return StatusResult{}, fmt.Errorf("load payment: %w", err)
	}
	res := StatusResult{PaymentID: p.ID, Status: p.Status}
	if status == database.PaymentPending {
		return res, nil
	}

	// Conditional update: of two racing notifications only one wins.
	upd := db.Model(&database.Payment{}).
		Where("id = ? AND status = ?", p.ID, database.PaymentPending).
		Update("status", status)
	if upd.Error != nil {
		return res, fmt.Errorf("update payment: %w", upd.Error)
	}
	if upd.RowsAffected == 0 {
		if err := db.First(&p, paymentID).Error; err != nil {
			return res, fmt.Errorf("reload payment: %w", err)
		}
		res.Status = p.Status
		if p.Status != database.PaymentApproved || p.ProcessedAt != nil {
			return res, nil
		}
		// Approved earlier but the renewal never completed.
	} else {
		res.Status, res.Changed = status, true
		log.Printf("[payments] payment %d is now %s", p.ID, status)
	}

	if res.Status != database.PaymentApproved {
		return res, nil
	}
	renewal, err := t.renewer.ProcessApprovedRenewal(ctx, p.ID)
	if err != nil {
		return res, fmt.Errorf("renew for payment %d: %w", p.ID, err)
	}
	res.Renewal = &renewal
	return res, nil
}

// HandleExternal is HandleStatus keyed by the provider reference.
func (t *Trigger) HandleExternal(ctx context.Context, externalRef string, status database.PaymentStatus) (StatusResult, error) {
	var p database.Payment
	if err := t.db.WithContext(ctx).Where("external_ref = ?", externalRef).First(&p).Error; err != nil {
		if database.IsNotFound(err) {
			return StatusResult{}, apperr.NotFound("payment")
		}
		return StatusResult{}, fmt.Errorf("load payment: %w", err)
	}
	return t.HandleStatus(ctx, p.ID, status)
}

type IntentInput struct {
	Amount       float64 `json:"amount"`
	Method       string  `json:"payment_method"`
	CredentialID *uint   `json:"ssh_access_id"`
}

// CreateIntent records a pending payment for actor. A linked credential must
// be readable by the actor.
func (t *Trigger) CreateIntent(ctx context.Context, actor authz.Actor, in IntentInput) (*database.Payment, error) {
	if in.Amount <= 0 {
		return nil, apperr.Invalid("amount", "must be positive")
	}
	if in.Method == "" {
		in.Method = "mercadopago"
	}
	db := t.db.WithContext(ctx)

	if in.CredentialID != nil {
		var a database.SSHAccess
		if err := db.First(&a, *in.CredentialID).Error; err != nil {
			if database.IsNotFound(err) {
				return nil, apperr.NotFound("credential")
			}
			return nil, fmt.Errorf("load credential: %w", err)
		}
		target := authz.Target{CreatedBy: a.CreatedBy, OwnerID: a.OwnerID}
		if owner, err := database.GetUserByID(db, a.OwnerID); err == nil {
			target.OwnerParentID = owner.ParentID
		}
		if d := authz.CanAct(actor, authz.ActionRead, target); !d.Allowed {
			return nil, apperr.Forbidden(d.Reason)
		}
	}

	p := database.Payment{
		UserID:      actor.ID,
		AccessID:    in.CredentialID,
		Amount:      in.Amount,
		Method:      in.Method,
		ExternalRef: uuid.NewString(),
		Status:      database.PaymentPending,
	}
	if err := db.Create(&p).Error; err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	log.Printf("[payments] user %d opened payment %d (%s)", actor.ID, p.ID, p.ExternalRef)
	return &p, nil
}

// List returns the payments visible to actor.
func (t *Trigger) List(ctx context.Context, actor authz.Actor) ([]database.Payment, error) {
	return database.ListPayments(t.db.WithContext(ctx), authz.ScopeFor(actor))
}
