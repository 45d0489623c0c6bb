package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/painelssh/sshpanel/internal/accounts"
	"github.com/painelssh/sshpanel/internal/agent"
	"github.com/painelssh/sshpanel/internal/audit"
	"github.com/painelssh/sshpanel/internal/auth"
	"github.com/painelssh/sshpanel/internal/config"
	"github.com/painelssh/sshpanel/internal/crypto"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/handlers"
	"github.com/painelssh/sshpanel/internal/jobs"
	"github.com/painelssh/sshpanel/internal/lifecycle"
	"github.com/painelssh/sshpanel/internal/logging"
	"github.com/painelssh/sshpanel/internal/payments"
	"github.com/painelssh/sshpanel/internal/servers"
	"github.com/painelssh/sshpanel/internal/sessions"
	"github.com/painelssh/sshpanel/internal/sshexec"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			os.Exit(runCLICommand("create-admin", os.Args[2:]))
		case "--reset-password":
			os.Exit(runCLICommand("reset-password", os.Args[2:]))
		}
	}

	config.Load()
	logging.Init(config.Cfg.LogFile())
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()
	db := database.DB

	log.Printf("Config: driver=%s, listen=%s, agent_port=%d, auth_disabled=%v",
		config.Cfg.DatabaseDriver, config.Cfg.ListenAddr, config.Cfg.AgentPort, config.Cfg.AuthDisabled)
	if config.Cfg.WebhookSecret == "" {
		log.Printf("WARNING: SSHPANEL_WEBHOOK_SECRET is empty, payment webhooks will be rejected")
	}

	vault := crypto.NewVault(db)
	if err := vault.EnsureKey(); err != nil {
		log.Fatalf("Failed to prepare encryption key: %v", err)
	}
	resolver := servers.NewResolver(vault, config.Cfg.AgentSecret)
	agentClient := agent.NewClient(agent.Options{
		Port:    config.Cfg.AgentPort,
		Timeout: config.Cfg.AgentTimeout,
		Script:  config.Cfg.AgentScript,
	})
	runner := &sshexec.Runner{Timeout: config.Cfg.AgentTimeout}

	manager := lifecycle.New(lifecycle.Options{
		DB:          db,
		Agent:       agentClient,
		Targets:     resolver,
		RenewalDays: config.Cfg.PaymentRenewalDays,
	})
	registry := sessions.New(sessions.Options{DB: db, Agent: agentClient, Targets: resolver})
	sessionStore := auth.NewSessionStore()
	auditor := audit.NewAuditor(db, config.Cfg.AuditRetentionDays)

	api := &handlers.API{
		DB:            db,
		Vault:         vault,
		Sessions:      sessionStore,
		Accounts:      accounts.NewService(db, sessionStore),
		Servers:       servers.NewService(db, vault, resolver, agentClient, runner),
		Lifecycle:     manager,
		Registry:      registry,
		Payments:      payments.NewTrigger(db, manager),
		Audit:         auditor,
		WebhookSecret: config.Cfg.WebhookSecret,
		AuthDisabled:  config.Cfg.AuthDisabled,
	}

	scheduler, err := jobs.New(jobs.Options{
		SessionSync: config.Cfg.SessionSyncSchedule,
		TestReap:    config.Cfg.TestReapSchedule,
		LoginSweep:  config.Cfg.LoginSweepSchedule,
		AuditPurge:  config.Cfg.AuditPurgeSchedule,
		Registry:    registry,
		Trials:      manager,
		Logins:      sessionStore,
		Audit:       auditor,
	})
	if err != nil {
		log.Fatalf("Jobs init: %v", err)
	}
	scheduler.Start()

	// Graceful shutdown
	srv := &http.Server{
		Addr:              config.Cfg.ListenAddr,
		Handler:           handlers.NewRouter(api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string, args []string) int {
	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: sshpanel --%s --username <user> --password <pass>\n", command)
		return 1
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Printf("Database init: %v", err)
		return 1
	}
	defer database.Close()

	svc := accounts.NewService(database.DB, nil)
	ctx := context.Background()

	switch command {
	case "create-admin":
		if _, err := svc.CreateAdmin(ctx, *username, *password, false); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create admin: %v\n", err)
			return 1
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		if err := svc.ResetPassword(ctx, *username, *password); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to reset password: %v\n", err)
			return 1
		}
		fmt.Printf("Password reset for '%s'. Restart the server to end its existing sessions.\n", *username)
	}
	return 0
}
