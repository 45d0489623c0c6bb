package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/painelssh/sshpanel/internal/accounts"
	"github.com/painelssh/sshpanel/internal/audit"
	"github.com/painelssh/sshpanel/internal/auth"
	"github.com/painelssh/sshpanel/internal/crypto"
	"github.com/painelssh/sshpanel/internal/lifecycle"
	"github.com/painelssh/sshpanel/internal/middleware"
	"github.com/painelssh/sshpanel/internal/payments"
	"github.com/painelssh/sshpanel/internal/servers"
	"github.com/painelssh/sshpanel/internal/sessions"
)

// API holds the services behind the HTTP surface.
type API struct {
	DB        *gorm.DB
	Vault     *crypto.Vault
	Sessions  *auth.SessionStore
	Accounts  *accounts.Service
	Servers   *servers.Service
	Lifecycle *lifecycle.Manager
	Registry  *sessions.Registry
	Payments  *payments.Trigger
	// Audit may be nil.
	Audit *audit.Auditor

	// WebhookSecret authenticates payment notifications. Empty disables
	// the webhook.
	WebhookSecret string
	AuthDisabled  bool
}

func NewRouter(api *API) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", api.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", api.Login)
		r.Get("/auth/setup-required", api.SetupRequired)
		r.Post("/auth/setup", api.SetupCreateAdmin)
		r.Post("/payments/webhook", api.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(api.DB, api.Sessions, api.AuthDisabled))

			r.Post("/auth/logout", api.Logout)
			r.Get("/auth/me", api.GetCurrentUser)
			r.Put("/auth/password", api.ChangePassword)

			r.Get("/users", api.ListUsers)
			r.Post("/users", api.CreateUser)
			r.Put("/users/{id}/status", api.UpdateUserStatus)

			r.Get("/servers", api.ListServers)

			r.Get("/ssh", api.ListSSH)
			r.Post("/ssh", api.CreateSSH)
			r.Post("/ssh/test", api.CreateSSHTest)
			r.Get("/ssh/{id}", api.GetSSH)
			r.Put("/ssh/{id}/renew", api.RenewSSH)
			r.Put("/ssh/{id}/suspend", api.SuspendSSH)
			r.Put("/ssh/{id}/activate", api.ActivateSSH)
			r.Delete("/ssh/{id}", api.DeleteSSH)

			r.Get("/monitor/online", api.ListOnline)
			r.Get("/monitor/stats", api.GetStats)
			r.Post("/monitor/disconnect/{id}", api.Disconnect)

			r.Get("/payments", api.ListPayments)
			r.Post("/payments", api.CreatePayment)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Post("/servers", api.CreateServer)
				r.Put("/servers/{id}", api.UpdateServer)
				r.Delete("/servers/{id}", api.DeleteServer)
				r.Post("/servers/{id}/test", api.TestServer)
				r.Post("/servers/{id}/command", api.ServerCommand)
				r.Get("/servers/{id}/resources", api.ServerResources)

				r.Post("/monitor/update-sessions", api.UpdateSessions)
				r.Post("/ssh/purge-tests", api.PurgeTests)

				r.Get("/settings", api.GetSettings)
				r.Put("/settings", api.UpdateSettings)

				r.Get("/logs", api.GetServerLogs)
				r.Get("/audit", api.ListAudit)
			})
		})
	})

	return r
}
