package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/painelssh/sshpanel/internal/auth"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/database"
	"gorm.io/gorm"
)

type contextKey string

const userContextKey contextKey = "user"

func deny(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func withUser(r *http.Request, user *database.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey, user))
}

// sessionID reads the session from the cookie or a Bearer token.
func sessionID(r *http.Request) string {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// RequireAuth loads the session's user into the request context. With
// authDisabled every request runs as the first admin.
func RequireAuth(db *gorm.DB, store *auth.SessionStore, authDisabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, status, detail := resolveUser(r, db, store, authDisabled)
			if user == nil {
				deny(w, status, detail)
				return
			}
			next.ServeHTTP(w, withUser(r, user))
		})
	}
}

func resolveUser(r *http.Request, db *gorm.DB, store *auth.SessionStore, authDisabled bool) (*database.User, int, string) {
	tx := db.WithContext(r.Context())
	if authDisabled {
		user, err := database.GetFirstAdmin(tx)
		if err != nil {
			return nil, http.StatusInternalServerError, "No admin user found"
		}
		return user, 0, ""
	}

	token := sessionID(r)
	if token == "" {
		return nil, http.StatusUnauthorized, "Authentication required"
	}
	userID, ok := store.Get(token)
	if !ok {
		return nil, http.StatusUnauthorized, "Authentication required"
	}
	// Reloaded per request: a restore may have replaced the row.
	user, err := database.GetUserByID(tx, userID)
	if err != nil {
		return nil, http.StatusUnauthorized, "Authentication required"
	}
	if user.Status != database.StatusActive {
		return nil, http.StatusForbidden, "Account is " + string(user.Status)
	}
	return user, 0, ""
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r)
		if user == nil || user.Role != authz.RoleAdmin {
			deny(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetUser(r *http.Request) *database.User {
	user, _ := r.Context().Value(userContextKey).(*database.User)
	return user
}

// Actor is the authorization identity of the request's user. It is the zero
// Actor, which authz denies, when no user is attached.
func Actor(r *http.Request) authz.Actor {
	if user := GetUser(r); user != nil {
		return user.Actor()
	}
	return authz.Actor{}
}
