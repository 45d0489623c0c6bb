package handlers

import "net/http"

func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := a.DB.DB()
	if err != nil || sqlDB.PingContext(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "connected"})
}
