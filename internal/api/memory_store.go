package api

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openfield/collect/internal/services"
)

const dayLayout = "2006-01-02"

// MemoryStore is a thread-safe in-memory record store used for development
// and tests. Production deployments run on the SQLite store instead.
type MemoryStore struct {
	mu          sync.RWMutex
	surveys     map[int64]*services.Survey
	answers     map[int64][]*services.Answer
	required    map[int64][]*services.RequiredQuestion
	geofences   map[int64]*services.Geofence
	projects    map[int64]*services.ProjectMeta
	supervisors map[string]*services.Supervisor
	nextID      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		surveys:     map[int64]*services.Survey{},
		answers:     map[int64][]*services.Answer{},
		required:    map[int64][]*services.RequiredQuestion{},
		geofences:   map[int64]*services.Geofence{},
		projects:    map[int64]*services.ProjectMeta{},
		supervisors: map[string]*services.Supervisor{},
	}
}

// AddSurvey stores a record with its answers, assigning an id when the record
// carries none, and returns the id.
func (s *MemoryStore) AddSurvey(sv *services.Survey, answers []*services.Answer) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv.ID == 0 {
		s.nextID++
		sv.ID = s.nextID
	} else if sv.ID > s.nextID {
		s.nextID = sv.ID
	}
	s.surveys[sv.ID] = sv
	for _, a := range answers {
		a.SurveyID = sv.ID
	}
	s.answers[sv.ID] = answers
	return sv.ID
}

func (s *MemoryStore) SetRequiredQuestions(templateID int64, qs []*services.RequiredQuestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.required[templateID] = qs
}

func (s *MemoryStore) SetGeofence(nodeID int64, gf *services.Geofence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geofences[nodeID] = gf
}

func (s *MemoryStore) AddProject(meta *services.ProjectMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[meta.ID] = meta
}

func (s *MemoryStore) GetSurvey(id int64) (*services.Survey, []*services.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.surveys[id]
	if !ok {
		return nil, nil, nil
	}
	copy := *sv
	return &copy, append([]*services.Answer(nil), s.answers[id]...), nil
}

func (s *MemoryStore) ListRequiredQuestions(templateID int64) ([]*services.RequiredQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*services.RequiredQuestion(nil), s.required[templateID]...), nil
}

func (s *MemoryStore) GetCoverageGeofence(nodeID int64) (*services.Geofence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.geofences[nodeID], nil
}

func (s *MemoryStore) ListSurveys(f services.SurveyFilter) ([]*services.SurveyListRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := []*services.Survey{}
	for _, sv := range s.surveys {
		if surveyMatches(sv, f.Status, f.Enumerator, f.TemplateID, f.FacilityID, f.ProjectID, f.DateFrom, f.DateTo) {
			matched = append(matched, sv)
		}
	}
	// Most recent first.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	out := make([]*services.SurveyListRow, 0, len(matched))
	for _, sv := range matched {
		out = append(out, &services.SurveyListRow{
			SurveyID:       sv.ID,
			FacilityName:   sv.FacilityName,
			TemplateID:     sv.TemplateID,
			SurveyType:     sv.SurveyType,
			EnumeratorName: sv.EnumeratorName,
			Status:         sv.Status,
			CreatedAt:      sv.CreatedAt,
		})
	}
	return out, nil
}

func (s *MemoryStore) GetProjectMeta(projectID int64) (*services.ProjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.projects[projectID]
	if !ok {
		return nil, nil
	}
	copy := *meta
	return &copy, nil
}

func (s *MemoryStore) ListSurveyStats(f services.StatsFilter) ([]*services.SurveyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := []*services.Survey{}
	for _, sv := range s.surveys {
		if surveyMatches(sv, "", f.Enumerator, f.TemplateID, 0, f.ProjectID, f.DateFrom, f.DateTo) {
			matched = append(matched, sv)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	out := make([]*services.SurveyStats, 0, len(matched))
	for _, sv := range matched {
		out = append(out, &services.SurveyStats{
			EnumeratorName: sv.EnumeratorName,
			Status:         sv.Status,
			FacilityID:     sv.FacilityID,
			TemplateID:     sv.TemplateID,
			CreatedAt:      sv.CreatedAt,
			CompletedAt:    sv.CompletedAt,
			GPSPresent:     sv.GPSLat != nil && sv.GPSLng != nil,
			GPSMissingFlag: sv.GPSMissingFlag,
			DuplicateFlag:  sv.DuplicateFlag,
		})
	}
	return out, nil
}

func (s *MemoryStore) ListEnumeratorNames(limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	names := []string{}
	for _, sv := range s.surveys {
		name := strings.TrimSpace(sv.EnumeratorName)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

func (s *MemoryStore) FindSupervisorByEmail(email string) (*services.Supervisor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sup, ok := s.supervisors[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	copy := *sup
	return &copy, nil
}

func (s *MemoryStore) AddSupervisor(sup *services.Supervisor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(sup.Email)
	if _, ok := s.supervisors[key]; ok {
		return services.NewConflictError("email exists")
	}
	copy := *sup
	s.supervisors[key] = &copy
	return nil
}

func surveyMatches(sv *services.Survey, status, enumerator string, templateID, facilityID, projectID int64, dateFrom, dateTo string) bool {
	if status != "" && !strings.EqualFold(sv.Status, status) {
		return false
	}
	if enumerator != "" && !strings.Contains(strings.ToLower(sv.EnumeratorName), strings.ToLower(strings.TrimSpace(enumerator))) {
		return false
	}
	if templateID != 0 && sv.TemplateID != templateID {
		return false
	}
	if facilityID != 0 && sv.FacilityID != facilityID {
		return false
	}
	if projectID != 0 && sv.ProjectID != projectID {
		return false
	}
	if dateFrom != "" || dateTo != "" {
		if sv.CreatedAt.IsZero() {
			return false
		}
		day := sv.CreatedAt.Format(dayLayout)
		if dateFrom != "" && day < dateFrom {
			return false
		}
		if dateTo != "" && day > dateTo {
			return false
		}
	}
	return true
}

// SeedDemo loads a small demo project so the dashboard has something to show
// without a real field deployment behind it.
func (s *MemoryStore) SeedDemo() map[string]any {
	expected := 120
	now := time.Now().UTC()
	s.AddProject(&services.ProjectMeta{ID: 1, Name: "Oromia WASH Assessment", ExpectedSubmissions: &expected, CreatedAt: now.AddDate(0, 0, -30)})
	radius := 5000.0
	s.SetGeofence(1, &services.Geofence{Lat: 8.54, Lng: 39.27, RadiusM: &radius})
	s.SetRequiredQuestions(1, []*services.RequiredQuestion{
		{ID: 1, Text: "Facility name"},
		{ID: 2, Text: "Primary water source"},
		{ID: 3, Text: "Latrine count"},
		{ID: 4, Text: "Staff on duty"},
		{ID: 5, Text: "Main challenges faced"},
	})

	fp := func(v float64) *float64 { return &v }
	ids := []int64{}

	// Clean completed record inside the fence.
	ids = append(ids, s.AddSurvey(&services.Survey{
		FacilityID: 1, FacilityName: "Adama Health Post", TemplateID: 1, ProjectID: 1,
		EnumeratorName: "Abebe Kebede", Status: services.StatusCompleted,
		CreatedAt: now.Add(-26 * time.Hour), CompletedAt: now.Add(-26*time.Hour + 25*time.Minute),
		GPSLat: fp(8.541), GPSLng: fp(39.272), GPSAccuracy: fp(6.5), CoverageNodeID: 1,
	}, []*services.Answer{
		{TemplateQuestionID: 1, Question: "Facility name", Answer: "Adama Health Post"},
		{TemplateQuestionID: 2, Question: "Primary water source", Answer: "Borehole"},
		{TemplateQuestionID: 3, Question: "Latrine count", Answer: "4"},
		{TemplateQuestionID: 4, Question: "Staff on duty", Answer: "3", ConfidenceLevel: fp(0.9)},
		{TemplateQuestionID: 5, Question: "Main challenges faced", Answer: "Seasonal water shortage"},
	}))

	// Missing GPS, flagged as duplicate for its facility/day.
	ids = append(ids, s.AddSurvey(&services.Survey{
		FacilityID: 1, FacilityName: "Adama Health Post", TemplateID: 1, ProjectID: 1,
		EnumeratorName: "Abebe Kebede", Status: services.StatusCompleted,
		CreatedAt: now.Add(-25 * time.Hour), CompletedAt: now.Add(-25*time.Hour + 8*time.Minute),
		GPSMissingFlag: true, DuplicateFlag: true,
	}, []*services.Answer{
		{TemplateQuestionID: 1, Question: "Facility name", Answer: "Adama Health Post"},
		{TemplateQuestionID: 2, Question: "Primary water source", Answer: ""},
		{TemplateQuestionID: 5, Question: "Main challenges faced", Answer: "na"},
	}))

	// Captured far outside the coverage-node fence.
	ids = append(ids, s.AddSurvey(&services.Survey{
		FacilityID: 2, FacilityName: "Wonji Clinic", TemplateID: 1, ProjectID: 1,
		EnumeratorName: "Chaltu Bekele", Status: services.StatusCompleted,
		CreatedAt: now.Add(-4 * time.Hour), CompletedAt: now.Add(-4*time.Hour + 40*time.Minute),
		GPSLat: fp(8.80), GPSLng: fp(39.60), CoverageNodeID: 1,
	}, []*services.Answer{
		{TemplateQuestionID: 1, Question: "Facility name", Answer: "Wonji Clinic"},
		{TemplateQuestionID: 2, Question: "Primary water source", Answer: "Piped supply", ConfidenceLevel: fp(0.3)},
		{TemplateQuestionID: 3, Question: "Latrine count", Answer: "2"},
		{TemplateQuestionID: 4, Question: "Staff on duty", Answer: "5"},
		{TemplateQuestionID: 5, Question: "Main challenges faced", Answer: "Power outages"},
	}))

	// Draft still in progress.
	ids = append(ids, s.AddSurvey(&services.Survey{
		FacilityID: 3, FacilityName: "Bishoftu Health Center", TemplateID: 1, ProjectID: 1,
		EnumeratorName: "Chaltu Bekele", Status: services.StatusDraft,
		CreatedAt: now.Add(-1 * time.Hour),
		GPSLat:    fp(8.545), GPSLng: fp(39.268), CoverageNodeID: 1,
	}, []*services.Answer{
		{TemplateQuestionID: 1, Question: "Facility name", Answer: "Bishoftu Health Center"},
	}))

	return map[string]any{"ok": true, "project_id": int64(1), "survey_ids": ids}
}
