package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/painelssh/sshpanel/internal/audit"
)

func TestCredentialActionsAreAudited(t *testing.T) {
	e := setupTestEnv(t)
	w := e.do(t, "POST", "/api/v1/ssh", map[string]interface{}{
		"login": "carla", "secret": "s3cr3t", "server_id": e.server.ID, "days": 30,
	}, &e.reseller)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	id := uint(parseResponse(t, w)["data"].(map[string]interface{})["id"].(float64))
	e.do(t, "PUT", fmt.Sprintf("/api/v1/ssh/%d/suspend", id), nil, &e.reseller)

	// A rejected request leaves no trail.
	e.do(t, "PUT", fmt.Sprintf("/api/v1/ssh/%d/activate", id), nil, &e.client)

	if w := e.do(t, "GET", "/api/v1/audit", nil, &e.reseller); w.Code != http.StatusForbidden {
		t.Errorf("reseller audit: expected 403, got %d", w.Code)
	}

	w = e.do(t, "GET", "/api/v1/audit?target=carla", nil, &e.admin)
	if w.Code != http.StatusOK {
		t.Fatalf("audit: %d %s", w.Code, w.Body.String())
	}
	var res audit.QueryResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2: %+v", res.Total, res.Entries)
	}
	if res.Entries[0].EventType != audit.EventCredentialSuspended || res.Entries[1].EventType != audit.EventCredentialCreated {
		t.Errorf("events = %s, %s", res.Entries[0].EventType, res.Entries[1].EventType)
	}
	if res.Entries[0].ActorID != e.reseller.ID || res.Entries[0].ActorName != "res" {
		t.Errorf("actor = %d %q", res.Entries[0].ActorID, res.Entries[0].ActorName)
	}
}

func TestListAuditBadParams(t *testing.T) {
	e := setupTestEnv(t)
	for _, q := range []string{"actor_id=x", "since=yesterday"} {
		if w := e.do(t, "GET", "/api/v1/audit?"+q, nil, &e.admin); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestSettingsUpdateAuditOmitsValues(t *testing.T) {
	e := setupTestEnv(t)
	e.do(t, "PUT", "/api/v1/settings", map[string]string{"mercadopago_access_token": "APP_USR-1234567890"}, &e.admin)

	res, err := e.api.Audit.Query(context.Background(), audit.QueryOptions{EventType: audit.EventSettingsUpdated})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("total = %d", res.Total)
	}
	if d := res.Entries[0].Details; d != "mercadopago_access_token" {
		t.Errorf("details = %q, want only the key", d)
	}
}
