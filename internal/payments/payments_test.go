package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/lifecycle"
	"gorm.io/gorm"
)

// fakeRenewer counts renewals instead of touching credentials.
type fakeRenewer struct {
	mu    sync.Mutex
	calls []uint
	err   error
}

func (f *fakeRenewer) ProcessApprovedRenewal(ctx context.Context, paymentID uint) (lifecycle.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, paymentID)
	return lifecycle.Result{ID: 7, Status: database.StatusActive}, f.err
}

func (f *fakeRenewer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func uintPtr(v uint) *uint { return &v }

type env struct {
	db                       *gorm.DB
	renewer                  *fakeRenewer
	trig                     *Trigger
	sub, client, otherClient database.User
	access                   database.SSHAccess
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	e := &env{db: db, renewer: &fakeRenewer{}}
	e.trig = NewTrigger(db, e.renewer)

	e.sub = database.User{Username: "sub", PasswordHash: "x", Role: authz.RoleSubReseller}
	db.Create(&e.sub)
	e.client = database.User{Username: "cli", PasswordHash: "x", Role: authz.RoleClient, ParentID: uintPtr(e.sub.ID)}
	db.Create(&e.client)
	e.otherClient = database.User{Username: "cli2", PasswordHash: "x", Role: authz.RoleClient}
	db.Create(&e.otherClient)

	srv := database.Server{Name: "s", Address: "h", SSHUser: "root"}
	db.Create(&srv)
	e.access = database.SSHAccess{Login: "alice", Secret: "s3cr3t", ServerID: srv.ID, OwnerID: e.client.ID, CreatedBy: e.sub.ID, ExpiresAt: time.Now()}
	db.Create(&e.access)
	return e
}

func (e *env) pending(t *testing.T) database.Payment {
	t.Helper()
	p, err := e.trig.CreateIntent(context.Background(), e.client.Actor(), IntentInput{Amount: 15, CredentialID: uintPtr(e.access.ID)})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return *p
}

func TestCreateIntent(t *testing.T) {
	e := newEnv(t)
	p := e.pending(t)
	if p.Status != database.PaymentPending || p.Method != "mercadopago" || p.UserID != e.client.ID {
		t.Errorf("payment = %+v", p)
	}
	if len(p.ExternalRef) != 36 {
		t.Errorf("external ref = %q", p.ExternalRef)
	}

	ctx := context.Background()
	_, err := e.trig.CreateIntent(ctx, e.otherClient.Actor(), IntentInput{Amount: 15, CredentialID: uintPtr(e.access.ID)})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("foreign credential: %v", err)
	}
	if _, err := e.trig.CreateIntent(ctx, e.client.Actor(), IntentInput{Amount: 0}); !apperr.IsValidation(err) {
		t.Errorf("zero amount: %v", err)
	}
	if _, err := e.trig.CreateIntent(ctx, e.client.Actor(), IntentInput{Amount: 5, CredentialID: uintPtr(999)}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing credential: %v", err)
	}
}

func TestApprovalTriggersRenewalOnce(t *testing.T) {
	e := newEnv(t)
	p := e.pending(t)
	ctx := context.Background()

	res, err := e.trig.HandleStatus(ctx, p.ID, database.PaymentApproved)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !res.Changed || res.Status != database.PaymentApproved || res.Renewal == nil {
		t.Errorf("result = %+v", res)
	}
	if e.renewer.count() != 1 {
		t.Fatalf("renewals = %d", e.renewer.count())
	}

	// A retried webhook after the renewal completed does nothing.
	e.db.Model(&database.Payment{}).Where("id = ?", p.ID).Update("processed_at", time.Now())
	res, err = e.trig.HandleStatus(ctx, p.ID, database.PaymentApproved)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Changed || e.renewer.count() != 1 {
		t.Errorf("retry changed state: %+v, renewals %d", res, e.renewer.count())
	}
}

func TestApprovedButUnprocessedIsRetried(t *testing.T) {
	e := newEnv(t)
	p := e.pending(t)
	ctx := context.Background()
	e.renewer.err = errors.New("db down")

	if _, err := e.trig.HandleStatus(ctx, p.ID, database.PaymentApproved); err == nil {
		t.Fatal("expected renewal error")
	}
	e.renewer.err = nil
	res, err := e.trig.HandleStatus(ctx, p.ID, database.PaymentApproved)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Renewal == nil || e.renewer.count() != 2 {
		t.Errorf("retry did not renew: %+v (%d calls)", res, e.renewer.count())
	}
}

func TestTerminalStatusesDoNotMove(t *testing.T) {
	e := newEnv(t)
	p := e.pending(t)
	ctx := context.Background()

	if _, err := e.trig.HandleStatus(ctx, p.ID, database.PaymentRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
	res, err := e.trig.HandleStatus(ctx, p.ID, database.PaymentApproved)
	if err != nil {
		t.Fatalf("approve after reject: %v", err)
	}
	if res.Changed || res.Status != database.PaymentRejected {
		t.Errorf("rejected payment moved: %+v", res)
	}
	if e.renewer.count() != 0 {
		t.Error("rejected payment renewed")
	}
}

func TestHandleStatusValidation(t *testing.T) {
	e := newEnv(t)
	p := e.pending(t)
	ctx := context.Background()
	if _, err := e.trig.HandleStatus(ctx, p.ID, "refunded"); !apperr.IsValidation(err) {
		t.Errorf("unknown status: %v", err)
	}
	if _, err := e.trig.HandleStatus(ctx, 999, database.PaymentApproved); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing payment: %v", err)
	}
	res, err := e.trig.HandleStatus(ctx, p.ID, database.PaymentPending)
	if err != nil || res.Changed {
		t.Errorf("pending notification: %+v, %v", res, err)
	}
}

func TestHandleExternal(t *testing.T) {
	e := newEnv(t)
	p := e.pending(t)
	res, err := e.trig.HandleExternal(context.Background(), p.ExternalRef, database.PaymentCancelled)
	if err != nil {
		t.Fatalf("handle external: %v", err)
	}
	if res.Status != database.PaymentCancelled {
		t.Errorf("status = %s", res.Status)
	}
	if _, err := e.trig.HandleExternal(context.Background(), "nope", database.PaymentApproved); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown ref: %v", err)
	}
}

func TestListIsScoped(t *testing.T) {
	e := newEnv(t)
	e.pending(t)
	e.trig.CreateIntent(context.Background(), e.otherClient.Actor(), IntentInput{Amount: 5})

	rows, err := e.trig.List(context.Background(), e.sub.Actor())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].UserID != e.client.ID {
		t.Errorf("sub sees %+v", rows)
	}
}
