package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/audit"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/middleware"
	"github.com/painelssh/sshpanel/internal/servers"
)

// serverResponse omits connection secrets; resellers only need enough to
// pick a server when creating credentials.
func serverResponse(s *database.Server, full bool) map[string]interface{} {
	resp := map[string]interface{}{
		"id":     s.ID,
		"name":   s.Name,
		"status": s.Status,
	}
	if full {
		resp["address"] = s.Address
		resp["port"] = s.Port
		resp["agent_port"] = s.AgentPort
		resp["ssh_user"] = s.SSHUser
		resp["has_ssh_password"] = s.SSHPassword != ""
		resp["has_agent_secret"] = s.AgentSecret != ""
		resp["host_key_fingerprint"] = s.HostKeyFingerprint
		resp["created_at"] = s.CreatedAt
		resp["updated_at"] = s.UpdatedAt
	}
	return resp
}

func (a *API) ListServers(w http.ResponseWriter, r *http.Request) {
	list, err := a.Servers.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	user := middleware.GetUser(r)
	full := user != nil && user.Role == authz.RoleAdmin
	result := make([]map[string]interface{}, 0, len(list))
	for i := range list {
		if !full && list[i].Status != database.ServerActive {
			continue
		}
		result = append(result, serverResponse(&list[i], full))
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) CreateServer(w http.ResponseWriter, r *http.Request) {
	var body servers.Input
	if !decodeBody(w, r, &body) {
		return
	}
	srv, err := a.Servers.Create(r.Context(), middleware.Actor(r), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, audit.EventServerCreated, srv.ID, srv.Name, srv.Address)
	writeMutation(w, http.StatusCreated, "", serverResponse(srv, true))
}

func (a *API) UpdateServer(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var body servers.Input
	if !decodeBody(w, r, &body) {
		return
	}
	srv, err := a.Servers.Update(r.Context(), middleware.Actor(r), id, body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, audit.EventServerUpdated, srv.ID, srv.Name, srv.Address)
	writeMutation(w, http.StatusOK, "", serverResponse(srv, true))
}

func (a *API) DeleteServer(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	if err := a.Servers.Delete(r.Context(), middleware.Actor(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, audit.EventServerDeleted, id, "", "")
	writeMutation(w, http.StatusOK, "", nil)
}

func (a *API) TestServer(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	if err := a.Servers.Test(r.Context(), middleware.Actor(r), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrForbidden) {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (a *API) ServerCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Command string `json:"command"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	out, err := a.Servers.Command(r.Context(), middleware.Actor(r), id, body.Command)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, audit.EventServerCommand, id, "", fmt.Sprintf("cmd=%s exit=%d", body.Command, out.ExitCode))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stdout":    out.Stdout,
		"stderr":    out.Stderr,
		"exit_code": out.ExitCode,
	})
}

func (a *API) ServerResources(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	res, err := a.Servers.Resources(r.Context(), middleware.Actor(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
