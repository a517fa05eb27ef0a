package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openfield/collect/internal/middleware"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	rt := NewRouter(NewMemoryStore())
	mux := http.NewServeMux()
	rt.Register(mux)
	srv := httptest.NewServer(middleware.WithAuth(mux))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func register(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/register", "", map[string]string{
		"name": "Meseret", "email": "sup@example.com", "password": "Secret123",
	})
	if status != http.StatusOK {
		t.Fatalf("register returned %d: %v", status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("expected token, got %v", body)
	}
	return token
}

func TestDashboardRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	status, _ := doJSON(t, http.MethodGet, srv.URL+"/api/alerts", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
}

func TestAuthLoginFlow(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{
		"email": "sup@example.com", "password": "Secret123",
	})
	if status != http.StatusOK {
		t.Fatalf("login returned %d: %v", status, body)
	}
	if body["token"] == "" {
		t.Fatalf("expected token in login response")
	}

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{
		"email": "sup@example.com", "password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", status)
	}
}

func TestSeededAlertFeed(t *testing.T) {
	srv := newTestServer(t)
	token := register(t, srv)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/seed", "", nil)
	if status != http.StatusOK {
		t.Fatalf("seed returned %d: %v", status, body)
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/alerts", token, nil)
	if status != http.StatusOK {
		t.Fatalf("alerts returned %d: %v", status, body)
	}
	alerts, _ := body["alerts"].([]any)
	if len(alerts) != 3 {
		t.Fatalf("expected 3 seeded alerts, got %d: %v", len(alerts), body)
	}
	first, _ := alerts[0].(map[string]any)
	second, _ := alerts[1].(map[string]any)
	if first["severity"].(float64) < second["severity"].(float64) {
		t.Fatalf("alerts must be ranked by severity: %v", alerts)
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/alerts?flag=duplicate_facility_day", token, nil)
	if status != http.StatusOK {
		t.Fatalf("filtered alerts returned %d: %v", status, body)
	}
	alerts, _ = body["alerts"].([]any)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 duplicate alert, got %v", body)
	}
}

func TestSurveyDetailQA(t *testing.T) {
	srv := newTestServer(t)
	token := register(t, srv)
	doJSON(t, http.MethodPost, srv.URL+"/api/seed", "", nil)

	status, body := doJSON(t, http.MethodGet, srv.URL+"/api/surveys/2", token, nil)
	if status != http.StatusOK {
		t.Fatalf("detail returned %d: %v", status, body)
	}
	qa, _ := body["qa"].(map[string]any)
	if qa == nil {
		t.Fatalf("expected qa block, got %v", body)
	}
	if qa["severity"].(float64) < 0.5 {
		t.Fatalf("seeded duplicate record should score high, got %v", qa["severity"])
	}
	flags, _ := qa["flags"].([]any)
	found := false
	for _, f := range flags {
		if f == "DUPLICATE_FACILITY_DAY" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate flag, got %v", flags)
	}

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/surveys/999", token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown survey, got %d", status)
	}
}

func TestProjectAnalyticsEndpoints(t *testing.T) {
	srv := newTestServer(t)
	token := register(t, srv)
	doJSON(t, http.MethodPost, srv.URL+"/api/seed", "", nil)

	status, body := doJSON(t, http.MethodGet, srv.URL+"/api/projects/1/overview", token, nil)
	if status != http.StatusOK {
		t.Fatalf("overview returned %d: %v", status, body)
	}
	if body["completed_submissions"].(float64) != 3 || body["draft_submissions"].(float64) != 1 {
		t.Fatalf("unexpected overview: %v", body)
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/projects/1/kpis", token, nil)
	if status != http.StatusOK {
		t.Fatalf("kpis returned %d: %v", status, body)
	}
	if body["completion_rate"].(float64) != 2.5 {
		t.Fatalf("expected 2.5%% completion of 120 expected, got %v", body["completion_rate"])
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/projects/1/performance", token, nil)
	if status != http.StatusOK {
		t.Fatalf("performance returned %d: %v", status, body)
	}
	rows, _ := body["enumerators"].([]any)
	if len(rows) != 2 {
		t.Fatalf("expected 2 enumerators, got %v", body)
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/projects/1/timeline", token, nil)
	if status != http.StatusOK {
		t.Fatalf("timeline returned %d: %v", status, body)
	}

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/projects/42/overview", token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown project, got %d", status)
	}
}

func TestEnumeratorEndpoints(t *testing.T) {
	srv := newTestServer(t)
	token := register(t, srv)
	doJSON(t, http.MethodPost, srv.URL+"/api/seed", "", nil)

	status, body := doJSON(t, http.MethodGet, srv.URL+"/api/enumerators", token, nil)
	if status != http.StatusOK {
		t.Fatalf("enumerators returned %d: %v", status, body)
	}
	names, _ := body["enumerators"].([]any)
	if len(names) != 2 {
		t.Fatalf("expected 2 enumerators, got %v", body)
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/enumerators/profile?name=Abebe+Kebede", token, nil)
	if status != http.StatusOK {
		t.Fatalf("profile returned %d: %v", status, body)
	}
	if body["total_surveys"].(float64) != 2 {
		t.Fatalf("expected 2 records for Abebe, got %v", body)
	}
	if body["qa_alerts_count"].(float64) != 1 {
		t.Fatalf("expected 1 alert for Abebe, got %v", body)
	}

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/enumerators/profile", token, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d", status)
	}
}
