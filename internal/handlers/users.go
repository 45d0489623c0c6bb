package handlers

import (
	"net/http"

	"github.com/painelssh/sshpanel/internal/accounts"
	"github.com/painelssh/sshpanel/internal/audit"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/middleware"
)

func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.Accounts.List(r.Context(), middleware.Actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	result := make([]map[string]interface{}, 0, len(users))
	for i := range users {
		result = append(result, userResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	var body accounts.CreateInput
	if !decodeBody(w, r, &body) {
		return
	}
	user, err := a.Accounts.Create(r.Context(), middleware.Actor(r), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, audit.EventAccountCreated, user.ID, user.Username, string(user.Role))
	writeMutation(w, http.StatusCreated, "", userResponse(user))
}

func (a *API) UpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Status database.AccessStatus `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	user, err := a.Accounts.SetStatus(r.Context(), middleware.Actor(r), id, body.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.record(r, audit.EventAccountStatus, user.ID, user.Username, string(user.Status))
	writeMutation(w, http.StatusOK, "", userResponse(user))
}
