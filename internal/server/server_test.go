package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/workstreet/jobledger/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		LockWaitTimeout:   2 * time.Second,
		SLAResponseWindow: 72 * time.Hour,
		MonitorBatchSize:  200,
		MonitorInterval:   time.Minute,
		AdminSecret:       "test-admin-secret",
		RateLimitRPS:      1000,
	}
}

// newTestServer creates a server with in-memory stores and the
// payment simulator
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, apiKey, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	s.router.ServeHTTP(w, req)

	resp := make(map[string]interface{})
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response from %s %s: %v", method, path, err)
		}
	}
	return w, resp
}

// registerKey issues an API key for a user over HTTP
func registerKey(t *testing.T, s *Server, userID, role string) string {
	t.Helper()

	body := fmt.Sprintf(`{"userId":%q,"role":%q,"name":"test"}`, userID, role)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/auth/keys", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role == "admin" {
		req.Header.Set("X-Admin-Secret", "test-admin-secret")
	}
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Key registration failed: %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse key response: %v", err)
	}
	key, _ := resp["apiKey"].(string)
	if key == "" {
		t.Fatal("Expected apiKey in registration response")
	}
	return key
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestPlatformEndpointReportsRealtimeStats(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, "GET", "/v1/platform", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	stats, ok := resp["realtime"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing realtime stats: %v", resp)
	}
	if stats["connectedClients"] != float64(0) {
		t.Errorf("connectedClients = %v, want 0", stats["connectedClients"])
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/auth/keys",
		"POST:/v1/jobs",
		"POST:/v1/jobs/:id/accept",
		"POST:/v1/jobs/:id/complete",
		"POST:/v1/jobs/:id/approve/customer",
		"POST:/v1/jobs/:id/approve/router",
		"POST:/v1/jobs/:id/close",
		"POST:/v1/jobs/:id/release-funds",
		"GET:/v1/jobs/:id/payout",
		"POST:/v1/payouts/:id/cancel",
		"POST:/v1/disputes",
		"POST:/v1/disputes/:id/actions",
		"POST:/v1/disputes/:id/enforcement/execute",
		"POST:/v1/disputes/sla-monitor",
		"POST:/v1/webhooks",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Auth tests
// ---------------------------------------------------------------------------

func TestProtectedRouteRequiresKey(t *testing.T) {
	s := newTestServer(t)

	w, _ := doJSON(t, s, "POST", "/v1/jobs", "", `{"posterId":"u1","routerId":"r1","title":"x","amountMinor":100,"currency":"USD"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestAdminRouteRejectsNonAdmin(t *testing.T) {
	s := newTestServer(t)
	key := registerKey(t, s, "cust_1", "customer")

	w, _ := doJSON(t, s, "POST", "/v1/disputes/sla-monitor", key, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin, got %d", w.Code)
	}
}

func TestAdminKeyRequiresSecret(t *testing.T) {
	s := newTestServer(t)

	body := `{"userId":"sneaky","role":"admin","name":"x"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/auth/keys", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without admin secret, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end lifecycle test
// ---------------------------------------------------------------------------

func TestJobLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	custKey := registerKey(t, s, "cust_1", "customer")
	contrKey := registerKey(t, s, "contr_1", "contractor")
	routerKey := registerKey(t, s, "router_1", "router")

	// Customer posts a job
	w, resp := doJSON(t, s, "POST", "/v1/jobs", custKey,
		`{"posterId":"cust_1","routerId":"router_1","title":"Fix the sink","amountMinor":15000,"currency":"USD"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Create job failed: %d: %s", w.Code, w.Body.String())
	}
	jobData := resp["job"].(map[string]interface{})
	jobID := jobData["id"].(string)

	// Contractor accepts
	w, _ = doJSON(t, s, "POST", "/v1/jobs/"+jobID+"/accept", contrKey,
		`{"contractorId":"contr_1","escrowChargeId":"ch_test_1","payoutDestination":"acct_test_1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Accept failed: %d: %s", w.Code, w.Body.String())
	}

	// Premature release: not all approvals in place yet
	w, _ = doJSON(t, s, "POST", "/v1/jobs/"+jobID+"/release-funds", routerKey, "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for premature release, got %d", w.Code)
	}

	// Three-party approval spine
	w, _ = doJSON(t, s, "POST", "/v1/jobs/"+jobID+"/complete", contrKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Complete failed: %d: %s", w.Code, w.Body.String())
	}
	w, _ = doJSON(t, s, "POST", "/v1/jobs/"+jobID+"/approve/customer", custKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Customer approval failed: %d: %s", w.Code, w.Body.String())
	}
	w, resp = doJSON(t, s, "POST", "/v1/jobs/"+jobID+"/approve/router", routerKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Router approval failed: %d: %s", w.Code, w.Body.String())
	}
	if ready, _ := resp["readyForRelease"].(bool); !ready {
		t.Error("Expected readyForRelease after all approvals")
	}

	// Release funds
	w, resp = doJSON(t, s, "POST", "/v1/jobs/"+jobID+"/release-funds", routerKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Release failed: %d: %s", w.Code, w.Body.String())
	}
	release := resp["release"].(map[string]interface{})
	if release["providerRef"] == "" {
		t.Error("Expected providerRef on release")
	}
	if already, _ := release["alreadyReleased"].(bool); already {
		t.Error("First release should not be flagged as a replay")
	}

	// Replay is idempotent
	w, resp = doJSON(t, s, "POST", "/v1/jobs/"+jobID+"/release-funds", routerKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Replay failed: %d: %s", w.Code, w.Body.String())
	}
	replay := resp["release"].(map[string]interface{})
	if already, _ := replay["alreadyReleased"].(bool); !already {
		t.Error("Replay should be flagged alreadyReleased")
	}
	if replay["providerRef"] != release["providerRef"] {
		t.Errorf("Replay providerRef %v != original %v", replay["providerRef"], release["providerRef"])
	}

	// Job landed in FUNDS_RELEASED
	w, resp = doJSON(t, s, "GET", "/v1/jobs/"+jobID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Get job failed: %d", w.Code)
	}
	finalJob := resp["job"].(map[string]interface{})
	if finalJob["state"] != "FUNDS_RELEASED" {
		t.Errorf("Expected FUNDS_RELEASED, got %v", finalJob["state"])
	}

	// Poster settles the job
	w, resp = doJSON(t, s, "POST", "/v1/jobs/"+jobID+"/close", custKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Close failed: %d: %s", w.Code, w.Body.String())
	}
	closed := resp["job"].(map[string]interface{})
	if closed["state"] != "CLOSED" {
		t.Errorf("Expected CLOSED, got %v", closed["state"])
	}
}

func TestDisputeFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	custKey := registerKey(t, s, "cust_1", "customer")
	contrKey := registerKey(t, s, "contr_1", "contractor")
	adminKey := registerKey(t, s, "admin_1", "admin")

	w, resp := doJSON(t, s, "POST", "/v1/jobs", custKey,
		`{"posterId":"cust_1","routerId":"router_1","title":"Paint fence","amountMinor":5000,"currency":"USD"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Create job failed: %d: %s", w.Code, w.Body.String())
	}
	jobID := resp["job"].(map[string]interface{})["id"].(string)

	w, _ = doJSON(t, s, "POST", "/v1/jobs/"+jobID+"/accept", contrKey,
		`{"contractorId":"contr_1","escrowChargeId":"ch_test_2","payoutDestination":"acct_test_2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Accept failed: %d: %s", w.Code, w.Body.String())
	}

	// Customer files a dispute
	w, resp = doJSON(t, s, "POST", "/v1/disputes", custKey,
		fmt.Sprintf(`{"jobId":%q,"filedBy":"cust_1","reason":"work never started"}`, jobID))
	if w.Code != http.StatusCreated {
		t.Fatalf("File dispute failed: %d: %s", w.Code, w.Body.String())
	}
	caseID := resp["dispute"].(map[string]interface{})["id"].(string)

	// Job is frozen
	w, resp = doJSON(t, s, "GET", "/v1/jobs/"+jobID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Get job failed: %d", w.Code)
	}
	if state := resp["job"].(map[string]interface{})["state"]; state != "DISPUTED" {
		t.Errorf("Expected DISPUTED, got %v", state)
	}

	// Arbitrator orders a refund
	w, _ = doJSON(t, s, "POST", "/v1/disputes/"+caseID+"/actions", adminKey,
		`{"kind":"refund"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Append action failed: %d: %s", w.Code, w.Body.String())
	}

	// Non-admin cannot run enforcement
	w, _ = doJSON(t, s, "POST", "/v1/disputes/"+caseID+"/enforcement/execute", custKey, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for customer enforcement, got %d", w.Code)
	}

	// Admin executes enforcement
	w, resp = doJSON(t, s, "POST", "/v1/disputes/"+caseID+"/enforcement/execute", adminKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Enforcement failed: %d: %s", w.Code, w.Body.String())
	}

	// Refund moved the job to REFUNDED
	w, resp = doJSON(t, s, "GET", "/v1/jobs/"+jobID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Get job failed: %d", w.Code)
	}
	if state := resp["job"].(map[string]interface{})["state"]; state != "REFUNDED" {
		t.Errorf("Expected REFUNDED after refund enforcement, got %v", state)
	}

	// Case can now close
	w, _ = doJSON(t, s, "POST", "/v1/disputes/"+caseID+"/close", adminKey, "")
	if w.Code != http.StatusOK {
		t.Errorf("Close failed: %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
