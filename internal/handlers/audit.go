package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/painelssh/sshpanel/internal/audit"
	"github.com/painelssh/sshpanel/internal/middleware"
)

// record writes an audit entry for the request's user. Audit failures never
// fail the request.
func (a *API) record(r *http.Request, event string, targetID uint, target, details string) {
	e := audit.Entry{
		EventType: event,
		TargetID:  targetID,
		Target:    target,
		SourceIP:  audit.SourceIP(r),
		Details:   details,
	}
	if u := middleware.GetUser(r); u != nil {
		e.ActorID, e.ActorName = u.ID, u.Username
	}
	a.Audit.Log(r.Context(), e)
}

func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	if a.Audit == nil {
		writeJSON(w, http.StatusOK, audit.QueryResult{Entries: nil})
		return
	}
	q := r.URL.Query()
	opts := audit.QueryOptions{
		EventType: q.Get("event_type"),
		Target:    q.Get("target"),
	}
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))
	if v := q.Get("actor_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid actor_id")
			return
		}
		opts.ActorID = uint(id)
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+name+": expected RFC 3339")
			return
		}
		*dst = &t
	}

	res, err := a.Audit.Query(r.Context(), opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
