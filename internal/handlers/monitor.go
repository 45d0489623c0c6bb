package handlers

import (
	"net/http"

	"github.com/painelssh/sshpanel/internal/audit"
	"github.com/painelssh/sshpanel/internal/middleware"
)

func (a *API) ListOnline(w http.ResponseWriter, r *http.Request) {
	list, err := a.Registry.List(r.Context(), middleware.Actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.Registry.Stats(r.Context(), middleware.Actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	res, err := a.Registry.Disconnect(r.Context(), middleware.Actor(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, audit.EventSessionDisconnected, res.ID, res.Login, res.Warning)
	writeMutation(w, http.StatusOK, res.Warning, res)
}

// UpdateSessions runs a reconciliation now instead of waiting for the
// scheduled one.
func (a *API) UpdateSessions(w http.ResponseWriter, r *http.Request) {
	report, err := a.Registry.Reconcile(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeMutation(w, http.StatusOK, "", report)
}
