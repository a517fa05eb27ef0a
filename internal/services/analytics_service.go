package services

import (
	"sort"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// AnalyticsStore is the slice of the record store the rollups read.
// GetProjectMeta returns nil for an unknown project.
type AnalyticsStore interface {
	GetProjectMeta(projectID int64) (*ProjectMeta, error)
	ListSurveyStats(f StatsFilter) ([]*SurveyStats, error)
	ListEnumeratorNames(limit int) ([]string, error)
}

// AnalyticsService computes project overviews, per-enumerator rollups and
// submission timelines. All computation happens in memory over rows read
// from the store; the service holds no state between calls.
type AnalyticsService struct {
	store  AnalyticsStore
	alerts *AlertService
	now    func() time.Time
}

// NewAnalyticsService wires the rollups. alerts may be nil; researcher
// profiles then omit their alert section.
func NewAnalyticsService(store AnalyticsStore, alerts *AlertService) *AnalyticsService {
	return &AnalyticsService{store: store, alerts: alerts, now: time.Now}
}

// ProjectOverview summarises completion progress for one project.
// Averages are nil when no completed record carries both timestamps.
type ProjectOverview struct {
	ExpectedSubmissions     *int      `json:"expected_submissions"`
	CompletedSubmissions    int       `json:"completed_submissions"`
	DraftSubmissions        int       `json:"draft_submissions"`
	LastActivity            time.Time `json:"last_activity"`
	ProjectCreatedAt        time.Time `json:"project_created_at"`
	AvgCompletionMinutes    *float64  `json:"avg_completion_minutes"`
	MedianCompletionMinutes *float64  `json:"median_completion_minutes"`
	OutlierCount            int       `json:"outlier_count"`
}

func (s *AnalyticsService) Overview(projectID int64, f StatsFilter) (*ProjectOverview, error) {
	meta, err := s.store.GetProjectMeta(projectID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, NewNotFoundError("project not found")
	}
	f.ProjectID = projectID
	rows, err := s.store.ListSurveyStats(f)
	if err != nil {
		return nil, err
	}

	ov := &ProjectOverview{
		ExpectedSubmissions: meta.ExpectedSubmissions,
		ProjectCreatedAt:    meta.CreatedAt,
	}
	durations := []float64{}
	var last time.Time
	for _, r := range rows {
		if strings.ToUpper(r.Status) == StatusCompleted {
			ov.CompletedSubmissions++
		} else {
			ov.DraftSubmissions++
		}
		ts := r.CompletedAt
		if ts.IsZero() {
			ts = r.CreatedAt
		}
		if !ts.IsZero() && ts.After(last) {
			last = ts
		}
		if !r.CreatedAt.IsZero() && !r.CompletedAt.IsZero() {
			if m := r.CompletedAt.Sub(r.CreatedAt).Minutes(); m >= 0 {
				durations = append(durations, m)
			}
		}
	}
	ov.LastActivity = last

	if len(durations) > 0 {
		sort.Float64s(durations)
		sum := 0.0
		for _, d := range durations {
			sum += d
		}
		avg := sum / float64(len(durations))
		ov.AvgCompletionMinutes = &avg
		med := medianSorted(durations)
		ov.MedianCompletionMinutes = &med
		if med > 0 {
			for _, d := range durations {
				if d > 2*med {
					ov.OutlierCount++
				}
			}
		}
	}
	return ov, nil
}

// ProjectKPIs is the KPI strip shown at the top of the analytics page.
type ProjectKPIs struct {
	Expected       *int      `json:"expected"`
	Completed      int       `json:"completed"`
	Drafts         int       `json:"drafts"`
	CompletionRate *float64  `json:"completion_rate"` // percent
	LastActivity   time.Time `json:"last_activity"`
	TotalSurveys   int       `json:"total_surveys"`
}

func (s *AnalyticsService) KPIs(projectID int64) (*ProjectKPIs, error) {
	ov, err := s.Overview(projectID, StatsFilter{})
	if err != nil {
		return nil, err
	}
	kpis := &ProjectKPIs{
		Expected:     ov.ExpectedSubmissions,
		Completed:    ov.CompletedSubmissions,
		Drafts:       ov.DraftSubmissions,
		LastActivity: ov.LastActivity,
		TotalSurveys: ov.CompletedSubmissions + ov.DraftSubmissions,
	}
	if ov.ExpectedSubmissions != nil && *ov.ExpectedSubmissions > 0 {
		rate := float64(ov.CompletedSubmissions) / float64(*ov.ExpectedSubmissions) * 100
		kpis.CompletionRate = &rate
	}
	return kpis, nil
}

// EnumeratorPerformance is one per-enumerator rollup row. QAFlagCount is the
// cheap persisted-flag proxy (GPS-missing or duplicate), deliberately not a
// full QA re-run per request.
type EnumeratorPerformance struct {
	EnumeratorName       string   `json:"enumerator_name"`
	TotalSubmissions     int      `json:"total_submissions"`
	CompletedTotal       int      `json:"completed_total"`
	DraftsTotal          int      `json:"drafts_total"`
	CompletedToday       int      `json:"completed_today"`
	CompletedRecent      int      `json:"completed_recent"`
	QAFlagCount          int      `json:"qa_flags"`
	AvgCompletionMinutes *float64 `json:"avg_completion_minutes"`
	GPSCaptureRate       *float64 `json:"gps_capture_rate"` // nil when no completed records
}

func (s *AnalyticsService) EnumeratorPerformance(projectID int64, days int, f StatsFilter) ([]*EnumeratorPerformance, error) {
	if days <= 0 {
		days = 7
	}
	f.ProjectID = projectID
	rows, err := s.store.ListSurveyStats(f)
	if err != nil {
		return nil, err
	}

	loc := s.now().Location()
	today := s.now().In(loc).Format(dayLayout)
	cutoff := s.now().In(loc).AddDate(0, 0, -days).Format(dayLayout)

	type acc struct {
		perf        *EnumeratorPerformance
		durSum      float64
		durN        int
		gpsCaptured int
	}
	byName := map[string]*acc{}
	order := []string{}
	for _, r := range rows {
		name := r.EnumeratorName
		if strings.TrimSpace(name) == "" {
			continue
		}
		a := byName[name]
		if a == nil {
			a = &acc{perf: &EnumeratorPerformance{EnumeratorName: name}}
			byName[name] = a
			order = append(order, name)
		}
		p := a.perf
		completed := strings.ToUpper(r.Status) == StatusCompleted
		day := dayOf(r.CreatedAt, loc)

		p.TotalSubmissions++
		if completed {
			p.CompletedTotal++
		} else {
			p.DraftsTotal++
		}
		if completed && day == today {
			p.CompletedToday++
		}
		if completed && day != "" && day >= cutoff {
			p.CompletedRecent++
		}
		if r.GPSMissingFlag || r.DuplicateFlag {
			p.QAFlagCount++
		}
		if completed && !r.CreatedAt.IsZero() && !r.CompletedAt.IsZero() {
			a.durSum += r.CompletedAt.Sub(r.CreatedAt).Minutes()
			a.durN++
		}
		if completed && r.GPSPresent && !r.GPSMissingFlag {
			a.gpsCaptured++
		}
	}

	out := make([]*EnumeratorPerformance, 0, len(order))
	for _, name := range order {
		a := byName[name]
		if a.durN > 0 {
			avg := a.durSum / float64(a.durN)
			a.perf.AvgCompletionMinutes = &avg
		}
		if a.perf.CompletedTotal > 0 {
			rate := float64(a.gpsCaptured) / float64(a.perf.CompletedTotal)
			a.perf.GPSCaptureRate = &rate
		}
		out = append(out, a.perf)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CompletedTotal != out[j].CompletedTotal {
			return out[i].CompletedTotal > out[j].CompletedTotal
		}
		if out[i].TotalSubmissions != out[j].TotalSubmissions {
			return out[i].TotalSubmissions > out[j].TotalSubmissions
		}
		return out[i].EnumeratorName < out[j].EnumeratorName
	})
	return out, nil
}

// TimelinePoint is one calendar day of submission activity.
type TimelinePoint struct {
	Day       string `json:"day"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}

// SubmissionTimeline groups records by calendar day of creation, most recent
// day first. Without an explicit date range it defaults to the trailing
// days-day window.
func (s *AnalyticsService) SubmissionTimeline(projectID int64, days int, f StatsFilter) ([]*TimelinePoint, error) {
	if days <= 0 {
		days = 14
	}
	f.ProjectID = projectID
	loc := s.now().Location()
	if f.DateFrom == "" && f.DateTo == "" {
		f.DateFrom = s.now().In(loc).AddDate(0, 0, -days).Format(dayLayout)
	}
	rows, err := s.store.ListSurveyStats(f)
	if err != nil {
		return nil, err
	}

	byDay := map[string]*TimelinePoint{}
	for _, r := range rows {
		day := dayOf(r.CreatedAt, loc)
		if day == "" {
			continue
		}
		pt := byDay[day]
		if pt == nil {
			pt = &TimelinePoint{Day: day}
			byDay[day] = pt
		}
		pt.Total++
		if strings.ToUpper(r.Status) == StatusCompleted {
			pt.Completed++
		}
	}
	out := make([]*TimelinePoint, 0, len(byDay))
	for _, pt := range byDay {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	return out, nil
}

// ResearcherProfile is a derived per-enumerator profile built from existing
// records; no dedicated tables back it.
type ResearcherProfile struct {
	EnumeratorName       string     `json:"enumerator_name"`
	TotalSurveys         int        `json:"total_surveys"`
	Completed            int        `json:"completed"`
	Drafts               int        `json:"drafts"`
	UniqueFacilities     int        `json:"unique_facilities"`
	TemplatesUsed        int        `json:"templates_used"`
	AvgCompletionSeconds *float64   `json:"avg_completion_seconds"`
	GPSCapturePct        *float64   `json:"gps_capture_pct"`
	LastActivity         time.Time  `json:"last_activity"`
	QAAlertCount         int        `json:"qa_alerts_count"`
	RecentAlerts         []*QAAlert `json:"recent_alerts"`
}

func (s *AnalyticsService) ResearcherProfile(name string, alertsLimit int) (*ResearcherProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewInvalidError("enumerator name required")
	}
	rows, err := s.store.ListSurveyStats(StatsFilter{Enumerator: name})
	if err != nil {
		return nil, err
	}

	profile := &ResearcherProfile{EnumeratorName: name, RecentAlerts: []*QAAlert{}}
	facilities := map[int64]struct{}{}
	templates := map[int64]struct{}{}
	durSum, durN := 0.0, 0
	withGPS := 0
	for _, r := range rows {
		if !strings.EqualFold(strings.TrimSpace(r.EnumeratorName), name) {
			continue
		}
		profile.TotalSurveys++
		status := strings.ToUpper(r.Status)
		if status == StatusCompleted {
			profile.Completed++
		}
		if status == StatusDraft {
			profile.Drafts++
		}
		facilities[r.FacilityID] = struct{}{}
		if r.TemplateID != 0 {
			templates[r.TemplateID] = struct{}{}
		}
		ts := r.CompletedAt
		if ts.IsZero() {
			ts = r.CreatedAt
		}
		if !ts.IsZero() && ts.After(profile.LastActivity) {
			profile.LastActivity = ts
		}
		if status == StatusCompleted && !r.CreatedAt.IsZero() && !r.CompletedAt.IsZero() {
			durSum += r.CompletedAt.Sub(r.CreatedAt).Seconds()
			durN++
		}
		if r.GPSPresent {
			withGPS++
		}
	}
	profile.UniqueFacilities = len(facilities)
	profile.TemplatesUsed = len(templates)
	if durN > 0 {
		avg := durSum / float64(durN)
		profile.AvgCompletionSeconds = &avg
	}
	if profile.TotalSurveys > 0 {
		pct := float64(withGPS) / float64(profile.TotalSurveys) * 100
		profile.GPSCapturePct = &pct
	}

	if s.alerts != nil {
		all, err := s.alerts.ListAlerts(AlertQuery{Limit: 500})
		if err != nil {
			return nil, err
		}
		if alertsLimit < 1 {
			alertsLimit = 1
		}
		for _, a := range all {
			if !strings.EqualFold(strings.TrimSpace(a.EnumeratorName), name) {
				continue
			}
			profile.QAAlertCount++
			if len(profile.RecentAlerts) < alertsLimit {
				profile.RecentAlerts = append(profile.RecentAlerts, a)
			}
		}
	}
	return profile, nil
}

// EnumeratorNames returns the distinct cleaned enumerator names for quick
// selection in the dashboard.
func (s *AnalyticsService) EnumeratorNames(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.store.ListEnumeratorNames(limit)
}

// medianSorted applies the middle-element / average-of-two-middles rule to
// an already sorted slice.
func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func dayOf(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(dayLayout)
}
