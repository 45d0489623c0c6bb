package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/painelssh/sshpanel/internal/accounts"
	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/audit"
	"github.com/painelssh/sshpanel/internal/auth"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/logutil"
	"github.com/painelssh/sshpanel/internal/middleware"
)

func setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.SessionDuration.Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func userResponse(u *database.User) map[string]interface{} {
	return map[string]interface{}{
		"id":        u.ID,
		"username":  u.Username,
		"email":     u.Email,
		"role":      u.Role,
		"parent_id": u.ParentID,
		"status":    u.Status,
	}
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := a.Accounts.Authenticate(r.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, apperr.ErrForbidden) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		log.Printf("[auth] failed login for %s", logutil.SanitizeForLog(body.Username))
		a.record(r, audit.EventLoginFailed, 0, body.Username, "")
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	sessionID, err := a.Sessions.Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	setSessionCookie(w, r, sessionID)
	resp := userResponse(user)
	resp["token"] = sessionID
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) SetupRequired(w http.ResponseWriter, r *http.Request) {
	count, err := database.UserCount(a.DB.WithContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"setup_required": count == 0})
}

// SetupCreateAdmin creates the first admin on an empty database and logs
// it in.
func (a *API) SetupCreateAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	user, err := a.Accounts.CreateAdmin(r.Context(), body.Username, body.Password, true)
	if errors.Is(err, accounts.ErrSetupDone) {
		writeError(w, http.StatusConflict, "Setup already completed")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	sessionID, err := a.Sessions.Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	setSessionCookie(w, r, sessionID)
	resp := userResponse(user)
	resp["token"] = sessionID
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		a.Sessions.Delete(cookie.Value)
	}
	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, userResponse(user))
}

func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.Accounts.ChangePassword(r.Context(), middleware.Actor(r), body.CurrentPassword, body.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	writeMutation(w, http.StatusOK, "", nil)
}
