package handlers

import (
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/painelssh/sshpanel/internal/audit"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/logutil"
	"github.com/painelssh/sshpanel/internal/middleware"
	"github.com/painelssh/sshpanel/internal/payments"
)

// WebhookSecretHeader carries the shared secret on payment notifications.
const WebhookSecretHeader = "X-Webhook-Secret"

func (a *API) ListPayments(w http.ResponseWriter, r *http.Request) {
	list, err := a.Payments.List(r.Context(), middleware.Actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var body payments.IntentInput
	if !decodeBody(w, r, &body) {
		return
	}
	p, err := a.Payments.CreateIntent(r.Context(), middleware.Actor(r), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeMutation(w, http.StatusCreated, "", p)
}

// PaymentWebhook receives provider status notifications. The payment is
// identified by payment_id or by the provider's external_ref.
func (a *API) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	given := r.Header.Get(WebhookSecretHeader)
	if a.WebhookSecret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(a.WebhookSecret)) != 1 {
		log.Printf("[payments] rejected webhook from %s", logutil.SanitizeForLog(r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "Invalid webhook secret")
		return
	}

	var body struct {
		PaymentID   uint                   `json:"payment_id"`
		ExternalRef string                 `json:"external_ref"`
		Status      database.PaymentStatus `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	var (
		res payments.StatusResult
		err error
	)
	switch {
	case body.PaymentID != 0:
		res, err = a.Payments.HandleStatus(r.Context(), body.PaymentID, body.Status)
	case body.ExternalRef != "":
		res, err = a.Payments.HandleExternal(r.Context(), body.ExternalRef, body.Status)
	default:
		writeError(w, http.StatusBadRequest, "payment_id or external_ref is required")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if res.Changed {
		a.record(r, audit.EventPaymentStatus, res.PaymentID, body.ExternalRef, string(res.Status))
	}
	warning := ""
	if res.Renewal != nil {
		warning = res.Renewal.Warning
	}
	writeMutation(w, http.StatusOK, warning, res)
}
