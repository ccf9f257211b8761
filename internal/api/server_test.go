package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/org/agentgate/internal/agent"
	"github.com/org/agentgate/internal/storage"
)

func newTestServer() (*Server, http.Handler) {
	store := storage.NewMemoryBackend()
	srv := NewServer(store, Config{
		Agent: agent.Config{MaxFailedAttempts: 5, LockoutDuration: 5 * time.Minute},
	})
	return srv, srv.BuildRouter()
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, handler http.Handler, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func registerAgent(t *testing.T, handler http.Handler, id, dept string) string {
	t.Helper()
	w := postJSON(t, handler, "/v1/agents/register", map[string]any{
		"id": id, "department": dept,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	secret, _ := body["secret"].(string)
	if secret == "" {
		t.Fatal("expected a one-time secret for a new agent")
	}
	return secret
}

func tamper(secret string) string {
	last := secret[len(secret)-1]
	repl := byte('x')
	if last == 'x' {
		repl = 'y'
	}
	return secret[:len(secret)-1] + string(repl)
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := newTestServer()
	w := getJSON(t, handler, "/v1/sys/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestRegisterIssuesSecretOnce(t *testing.T) {
	_, handler := newTestServer()
	registerAgent(t, handler, "worker-1@host", "eng")

	// Re-registration is the idempotent seen-path: no secret in the response.
	w := postJSON(t, handler, "/v1/agents/register", map[string]any{
		"id": "worker-1@host", "department": "eng",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("re-register failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if _, ok := body["secret"]; ok {
		t.Error("re-registration must not return a secret")
	}
}

func TestRegisterInvalidID(t *testing.T) {
	_, handler := newTestServer()
	w := postJSON(t, handler, "/v1/agents/register", map[string]any{
		"id": "no-host-part",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	_, handler := newTestServer()
	secret := registerAgent(t, handler, "worker-1@host", "eng")

	w := getJSON(t, handler, "/v1/agents/self", secret)
	if w.Code != http.StatusOK {
		t.Fatalf("self failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	a := body["agent"].(map[string]any)
	if a["id"] != "worker-1@host" {
		t.Errorf("expected worker-1@host, got %v", a["id"])
	}

	if w := getJSON(t, handler, "/v1/agents/self", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing credential should be 401, got %d", w.Code)
	}
	if w := getJSON(t, handler, "/v1/agents/self", tamper(secret)); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong credential should be 401, got %d", w.Code)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	_, handler := newTestServer()
	secret := registerAgent(t, handler, "worker-1@host", "eng")
	registerAgent(t, handler, "worker-2@host", "eng")

	w := postJSON(t, handler, "/v1/agents/worker-1@host/verify", map[string]any{"secret": secret}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("verify failed: %d %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["verified"] != true {
		t.Error("expected verified=true")
	}

	// Valid secret against the wrong id must not verify.
	w = postJSON(t, handler, "/v1/agents/worker-2@host/verify", map[string]any{"secret": secret}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("verify failed: %d %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["verified"] != false {
		t.Error("expected verified=false for mismatched id")
	}
}

func TestRotateEndpoint(t *testing.T) {
	_, handler := newTestServer()
	secret := registerAgent(t, handler, "worker-1@host", "eng")

	w := postJSON(t, handler, "/v1/agents/worker-1@host/rotate", map[string]any{}, secret)
	if w.Code != http.StatusOK {
		t.Fatalf("rotate failed: %d %s", w.Code, w.Body.String())
	}
	newSecret, _ := decodeBody(t, w)["secret"].(string)
	if newSecret == "" || newSecret == secret {
		t.Fatal("rotate should return a fresh secret")
	}

	if w := getJSON(t, handler, "/v1/agents/self", secret); w.Code != http.StatusUnauthorized {
		t.Errorf("old secret should be invalid after rotation, got %d", w.Code)
	}
	if w := getJSON(t, handler, "/v1/agents/self", newSecret); w.Code != http.StatusOK {
		t.Errorf("new secret should authenticate, got %d", w.Code)
	}
}

func TestRevokeEndpoint(t *testing.T) {
	_, handler := newTestServer()
	secret := registerAgent(t, handler, "worker-1@host", "eng")

	w := postJSON(t, handler, "/v1/agents/worker-1@host/revoke", nil, secret)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke failed: %d %s", w.Code, w.Body.String())
	}
	if w := getJSON(t, handler, "/v1/agents/self", secret); w.Code != http.StatusUnauthorized {
		t.Errorf("revoked secret should be invalid, got %d", w.Code)
	}
}

func TestAccessCheckEndpoint(t *testing.T) {
	_, handler := newTestServer()
	registerAgent(t, handler, "owner@host", "eng")
	sameDept := registerAgent(t, handler, "peer@host", "eng")
	otherDept := registerAgent(t, handler, "outsider@host", "ops")

	check := func(bearer string) bool {
		w := postJSON(t, handler, "/v1/access/check", map[string]any{
			"owner_id":   "owner@host",
			"department": "eng",
			"visibility": "department",
		}, bearer)
		if w.Code != http.StatusOK {
			t.Fatalf("access check failed: %d %s", w.Code, w.Body.String())
		}
		allowed, _ := decodeBody(t, w)["allowed"].(bool)
		return allowed
	}

	if !check(sameDept) {
		t.Error("same department should be allowed")
	}
	if check(otherDept) {
		t.Error("other department should be denied")
	}
}

func TestLockoutOverHTTP(t *testing.T) {
	_, handler := newTestServer()
	secret := registerAgent(t, handler, "worker-1@host", "eng")
	wrong := tamper(secret)

	for i := 0; i < 5; i++ {
		if w := getJSON(t, handler, "/v1/agents/self", wrong); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, w.Code)
		}
	}
	// Locked now: even the correct secret is rejected, with Retry-After set.
	w := getJSON(t, handler, "/v1/agents/self", secret)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 while locked, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on lockout response")
	}
}

func TestAuditLogEndpoint(t *testing.T) {
	_, handler := newTestServer()
	secret := registerAgent(t, handler, "worker-1@host", "eng")

	w := getJSON(t, handler, "/v1/sys/audit-log?agent_id=worker-1@host", secret)
	if w.Code != http.StatusOK {
		t.Fatalf("audit-log failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	entries, ok := body["data"].([]any)
	if !ok || len(entries) == 0 {
		t.Fatalf("expected audit entries, got %v", body["data"])
	}
}
