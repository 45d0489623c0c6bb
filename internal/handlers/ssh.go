package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/painelssh/sshpanel/internal/audit"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/lifecycle"
	"github.com/painelssh/sshpanel/internal/middleware"
)

func (a *API) ListSSH(w http.ResponseWriter, r *http.Request) {
	list, err := a.Lifecycle.List(r.Context(), middleware.Actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) GetSSH(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	acc, err := a.Lifecycle.Get(r.Context(), middleware.Actor(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// CreateSSH accepts either an absolute expires_at or a number of days from
// now. The owner defaults to the caller and max_connections to the
// default_max_connections setting.
func (a *API) CreateSSH(w http.ResponseWriter, r *http.Request) {
	var body struct {
		lifecycle.CreateInput
		Days int `json:"days"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	actor := middleware.Actor(r)
	in := body.CreateInput
	if in.OwnerID == 0 {
		in.OwnerID = actor.ID
	}
	if in.MaxConnections == 0 {
		if v, err := database.GetSetting(a.DB.WithContext(r.Context()), "default_max_connections"); err == nil {
			in.MaxConnections, _ = strconv.Atoi(v)
		}
	}
	if in.ExpiresAt.IsZero() && body.Days > 0 {
		in.ExpiresAt = time.Now().AddDate(0, 0, body.Days)
	}

	res, err := a.Lifecycle.Create(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, audit.EventCredentialCreated, res.ID, res.Login, fmt.Sprintf("server=%d owner=%d", in.ServerID, in.OwnerID))
	writeMutation(w, http.StatusCreated, res.Warning, res)
}

func (a *API) CreateSSHTest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ServerID uint `json:"server_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := a.Lifecycle.CreateTest(r.Context(), middleware.Actor(r), body.ServerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, audit.EventTrialCreated, res.ID, res.Login, fmt.Sprintf("server=%d", body.ServerID))
	writeMutation(w, http.StatusCreated, res.Warning, res)
}

func (a *API) RenewSSH(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var body lifecycle.RenewInput
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := a.Lifecycle.Renew(r.Context(), middleware.Actor(r), id, body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, audit.EventCredentialRenewed, res.ID, res.Login, fmt.Sprintf("days=%d reactivate=%v", body.Days, body.Reactivate))
	writeMutation(w, http.StatusOK, res.Warning, res)
}

func (a *API) SuspendSSH(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, audit.EventCredentialSuspended, a.Lifecycle.Suspend)
}

func (a *API) ActivateSSH(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, audit.EventCredentialActivated, a.Lifecycle.Activate)
}

func (a *API) DeleteSSH(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, audit.EventCredentialDeleted, a.Lifecycle.Delete)
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, event string, op func(ctx context.Context, actor authz.Actor, id uint) (lifecycle.Result, error)) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	res, err := op(r.Context(), middleware.Actor(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, event, res.ID, res.Login, res.Warning)
	writeMutation(w, http.StatusOK, res.Warning, res)
}

func (a *API) PurgeTests(w http.ResponseWriter, r *http.Request) {
	n, err := a.Lifecycle.PurgeExpiredTests(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeMutation(w, http.StatusOK, "", map[string]int{"removed": n})
}
