// Package jobs runs the periodic maintenance work of the panel.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/painelssh/sshpanel/internal/sessions"
)

type Reconciler interface {
	Reconcile(ctx context.Context) (sessions.Report, error)
}

type TrialPurger interface {
	PurgeExpiredTests(ctx context.Context) (int, error)
}

type LoginCleaner interface {
	Cleanup() int
}

type AuditPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Options struct {
	// Cron specs, e.g. "@every 1m".
	SessionSync string
	TestReap    string
	LoginSweep  string
	AuditPurge  string

	Registry Reconciler
	Trials   TrialPurger
	Logins   LoginCleaner
	Audit    AuditPurger

	// RunTimeout bounds a single run. Zero means one minute.
	RunTimeout time.Duration
}

type Scheduler struct {
	cron   *cron.Cron
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the jobs. A run that is still going when its next tick
// fires is skipped.
func New(opts Options) (*Scheduler, error) {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = time.Minute
	}
	if opts.LoginSweep == "" {
		opts.LoginSweep = "@every 10m"
	}
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(log.Default())),
		cron.SkipIfStillRunning(cron.PrintfLogger(log.Default())),
	))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, opts: opts, ctx: ctx, cancel: cancel}

	entries := []struct {
		name string
		spec string
		fn   func(context.Context)
		on   bool
	}{
		{"session sync", opts.SessionSync, s.syncSessions, opts.Registry != nil},
		{"trial reap", opts.TestReap, s.reapTrials, opts.Trials != nil},
		{"login sweep", opts.LoginSweep, s.sweepLogins, opts.Logins != nil},
		{"audit purge", opts.AuditPurge, s.purgeAudit, opts.Audit != nil},
	}
	for _, e := range entries {
		if !e.on || e.spec == "" {
			continue
		}
		fn := e.fn
		if _, err := c.AddFunc(e.spec, func() { s.run(fn) }); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s %q: %w", e.name, e.spec, err)
		}
		log.Printf("[jobs] %s scheduled %s", e.name, e.spec)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Printf("[jobs] stop: %v", ctx.Err())
	}
}

func (s *Scheduler) run(fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.RunTimeout)
	defer cancel()
	fn(ctx)
}

func (s *Scheduler) syncSessions(ctx context.Context) {
	report, err := s.opts.Registry.Reconcile(ctx)
	if err != nil {
		log.Printf("[jobs] session sync: %v", err)
		return
	}
	failed := 0
	for _, sr := range report.Servers {
		if sr.Error != "" {
			failed++
		}
	}
	if failed > 0 || report.Pruned > 0 {
		log.Printf("[jobs] session sync: %d servers, %d failed, %d stale sessions pruned", len(report.Servers), failed, report.Pruned)
	}
}

func (s *Scheduler) reapTrials(ctx context.Context) {
	n, err := s.opts.Trials.PurgeExpiredTests(ctx)
	if err != nil {
		log.Printf("[jobs] trial reap: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[jobs] trial reap: removed %d expired tests", n)
	}
}

func (s *Scheduler) sweepLogins(context.Context) {
	if n := s.opts.Logins.Cleanup(); n > 0 {
		log.Printf("[jobs] login sweep: removed %d expired sessions", n)
	}
}

func (s *Scheduler) purgeAudit(ctx context.Context) {
	if _, err := s.opts.Audit.PurgeExpired(ctx); err != nil {
		log.Printf("[jobs] audit purge: %v", err)
	}
}
