package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/openfield/collect/internal/middleware"
	"github.com/openfield/collect/internal/services"
)

// Router wires the HTTP surface of the supervision dashboard to the QA and
// analytics services. Handlers parse and validate, services decide.
type Router struct {
	store     Store
	qa        *services.QAService
	alerts    *services.AlertService
	analytics *services.AnalyticsService
	auth      *services.AuthService
}

func NewRouter(store Store) *Router {
	qa := services.NewQAService(store)
	alerts := services.NewAlertService(store, qa)
	return &Router{
		store:     store,
		qa:        qa,
		alerts:    alerts,
		analytics: services.NewAnalyticsService(store, alerts),
		auth:      services.NewAuthService(store, middleware.SignToken),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleRegister) // POST
	mux.HandleFunc("/api/auth/login", rt.handleLogin)       // POST
	mux.HandleFunc("/api/seed", rt.handleSeed)              // POST

	protected := func(h http.HandlerFunc) http.Handler { return middleware.RequireAuth(h) }
	mux.Handle("/api/surveys", protected(rt.handleSurveys))             // GET
	mux.Handle("/api/surveys/", protected(rt.handleSurveyDetail))       // GET /api/surveys/{id}
	mux.Handle("/api/alerts", protected(rt.handleAlerts))               // GET
	mux.Handle("/api/projects/", protected(rt.handleProjectScoped))     // GET /api/projects/{id}/...
	mux.Handle("/api/enumerators", protected(rt.handleEnumerators))     // GET
	mux.Handle("/api/enumerators/profile", protected(rt.handleProfile)) // GET
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeServiceError(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		status := http.StatusBadRequest
		switch se.Code {
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, map[string]string{"error": se.Message})
		return
	}
	log.Printf("[api] internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}

func queryFloatPtr(r *http.Request, key string) *float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

// POST /api/auth/register {name, email, password}
func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Register(req.Name, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "supervisor_id": res.SupervisorID})
}

// POST /api/auth/login {email, password}
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "supervisor_id": res.SupervisorID})
}

// POST /api/seed loads demo records. Only the in-memory store supports it.
func (rt *Router) handleSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ms, ok := rt.store.(*MemoryStore)
	if !ok {
		http.Error(w, "seeding requires the in-memory store", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, ms.SeedDemo())
}

// GET /api/surveys?status=&enumerator=&template_id=&facility_id=&project_id=&from=&to=&limit=
func (rt *Router) handleSurveys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	f := services.SurveyFilter{
		Status:     r.URL.Query().Get("status"),
		Enumerator: r.URL.Query().Get("enumerator"),
		TemplateID: queryInt64(r, "template_id"),
		FacilityID: queryInt64(r, "facility_id"),
		ProjectID:  queryInt64(r, "project_id"),
		DateFrom:   r.URL.Query().Get("from"),
		DateTo:     r.URL.Query().Get("to"),
		Limit:      queryInt(r, "limit"),
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	rows, err := rt.store.ListSurveys(f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"surveys": rows, "count": len(rows)})
}

// GET /api/surveys/{id} returns the record, its answers and the fresh QA
// summary with persisted flags merged in.
func (rt *Router) handleSurveyDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/surveys/")
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid survey id", http.StatusBadRequest)
		return
	}
	sv, answers, qa, err := rt.qa.EvaluateSurvey(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"survey": sv, "answers": answers, "qa": qa})
}

// GET /api/alerts?limit=&project_id=&template_id=&from=&to=&severity_min=&flag=&enumerator=
func (rt *Router) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := services.AlertQuery{
		Limit:       queryInt(r, "limit"),
		ProjectID:   queryInt64(r, "project_id"),
		TemplateID:  queryInt64(r, "template_id"),
		DateFrom:    r.URL.Query().Get("from"),
		DateTo:      r.URL.Query().Get("to"),
		SeverityMin: queryFloatPtr(r, "severity_min"),
		Flag:        r.URL.Query().Get("flag"),
		Enumerator:  r.URL.Query().Get("enumerator"),
	}
	alerts, err := rt.alerts.ListAlerts(q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// GET /api/projects/{id}/overview|kpis|performance|timeline
func (rt *Router) handleProjectScoped(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	projectID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || projectID <= 0 {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}
	f := services.StatsFilter{
		TemplateID: queryInt64(r, "template_id"),
		Enumerator: r.URL.Query().Get("enumerator"),
		DateFrom:   r.URL.Query().Get("from"),
		DateTo:     r.URL.Query().Get("to"),
	}
	switch parts[1] {
	case "overview":
		ov, err := rt.analytics.Overview(projectID, f)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ov)
	case "kpis":
		kpis, err := rt.analytics.KPIs(projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, kpis)
	case "performance":
		rows, err := rt.analytics.EnumeratorPerformance(projectID, queryInt(r, "days"), f)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"enumerators": rows, "count": len(rows)})
	case "timeline":
		points, err := rt.analytics.SubmissionTimeline(projectID, queryInt(r, "days"), f)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"timeline": points})
	default:
		http.NotFound(w, r)
	}
}

// GET /api/enumerators?limit=
func (rt *Router) handleEnumerators(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	names, err := rt.analytics.EnumeratorNames(queryInt(r, "limit"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enumerators": names, "count": len(names)})
}

// GET /api/enumerators/profile?name=&alerts=
func (rt *Router) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	alertsLimit := queryInt(r, "alerts")
	if alertsLimit <= 0 {
		alertsLimit = 5
	}
	p, err := rt.analytics.ResearcherProfile(r.URL.Query().Get("name"), alertsLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
