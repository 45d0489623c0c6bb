package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/painelssh/sshpanel/internal/database"
)

func (e *testEnv) seedCredential(t *testing.T, login string, owner database.User, srv database.Server) database.SSHAccess {
	t.Helper()
	a := database.SSHAccess{
		Login: login, Secret: "s3cr3t", ServerID: srv.ID, OwnerID: owner.ID, CreatedBy: owner.ID,
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour), Status: database.StatusActive, MaxConnections: 2,
	}
	if err := e.api.DB.Create(&a).Error; err != nil {
		t.Fatalf("create credential: %v", err)
	}
	return a
}

func TestUpdateSessionsAndListOnline(t *testing.T) {
	e := setupTestEnv(t)
	mine := e.seedCredential(t, "alice", e.reseller, e.server)
	e.seedCredential(t, "bob", e.admin, e.server)
	e.agent.SetOnline("alice 10.0.0.1", "bob 10.0.0.2", "ghost 10.0.0.3")

	if w := e.do(t, "POST", "/api/v1/monitor/update-sessions", nil, &e.reseller); w.Code != http.StatusForbidden {
		t.Errorf("reseller reconcile: expected 403, got %d", w.Code)
	}

	w := e.do(t, "POST", "/api/v1/monitor/update-sessions", nil, &e.admin)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile: %d %s", w.Code, w.Body.String())
	}
	report := parseResponse(t, w)["data"].(map[string]interface{})
	if servers := report["servers"].([]interface{}); len(servers) != 2 {
		t.Errorf("expected a report for 2 servers, got %d", len(servers))
	}

	w = e.do(t, "GET", "/api/v1/monitor/online", nil, &e.reseller)
	if w.Code != http.StatusOK {
		t.Fatalf("online: %d", w.Code)
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(list) != 1 || list[0]["login"] != "alice" {
		t.Fatalf("reseller should see only alice, got %v", list)
	}

	w = e.do(t, "GET", "/api/v1/monitor/stats", nil, &e.reseller)
	stats := parseResponse(t, w)
	if stats["online_sessions"] != float64(1) || stats["credentials"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}

	sessionID := uint(list[0]["id"].(float64))
	w = e.do(t, "POST", fmt.Sprintf("/api/v1/monitor/disconnect/%d", sessionID), nil, &e.reseller)
	if w.Code != http.StatusOK {
		t.Fatalf("disconnect: %d %s", w.Code, w.Body.String())
	}
	if got := e.agent.Last(); got != "pkill -u alice" {
		t.Errorf("agent command = %q", got)
	}
	var a database.SSHAccess
	e.api.DB.First(&a, mine.ID)
	if a.CurrentConnections != 0 {
		t.Errorf("current_connections = %d after disconnect", a.CurrentConnections)
	}
}

func TestDisconnectForeignSession(t *testing.T) {
	e := setupTestEnv(t)
	theirs := e.seedCredential(t, "bob", e.admin, e.server)
	s := database.OnlineSession{AccessID: theirs.ID, IPAddress: "10.0.0.2", ConnectedAt: time.Now()}
	if err := e.api.DB.Create(&s).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}

	w := e.do(t, "POST", fmt.Sprintf("/api/v1/monitor/disconnect/%d", s.ID), nil, &e.reseller)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if len(e.agent.Commands()) != 0 {
		t.Error("agent should not be contacted")
	}
}
