package services

import (
	"sort"
	"strings"
)

// AlertStore is the listing slice of the record store the alert scan uses.
type AlertStore interface {
	ListSurveys(f SurveyFilter) ([]*SurveyListRow, error)
}

// AlertService builds the ranked QA alert feed. Each call is stateless: it
// scans a bounded window of recent records, re-derives QA per record, keeps
// the notable ones and ranks them.
type AlertService struct {
	store AlertStore
	qa    *QAService
}

func NewAlertService(store AlertStore, qa *QAService) *AlertService {
	return &AlertService{store: store, qa: qa}
}

// AlertQuery narrows the alert feed. SeverityMin nil means no threshold
// filter; the other zero values mean "no filter".
type AlertQuery struct {
	Limit       int
	ProjectID   int64
	TemplateID  int64
	DateFrom    string
	DateTo      string
	SeverityMin *float64
	Flag        string // exact flag token, case-insensitive
	Enumerator  string // case-insensitive substring
}

// Flags that make a record alert-worthy on their own and that boost
// severity during merging.
var criticalFlags = []string{
	FlagGPSOutsideFieldArea,
	FlagGPSOutsideCoverage,
	FlagClusterSpike,
	FlagUnlistedFacility,
	FlagDuplicateFacility,
}

const alertSeverityThreshold = 0.30

// ListAlerts scans at most max(200, 4×limit) recent records and returns up
// to limit alerts, highest severity first. Collection stops once 2×limit
// alerts are found, so higher-severity records beyond that point in the
// window are never inspected; that bound is the cost/completeness trade the
// dashboard runs on.
func (s *AlertService) ListAlerts(q AlertQuery) ([]*QAAlert, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	window := 4 * limit
	if window < 200 {
		window = 200
	}
	rows, err := s.store.ListSurveys(SurveyFilter{
		ProjectID:  q.ProjectID,
		TemplateID: q.TemplateID,
		DateFrom:   q.DateFrom,
		DateTo:     q.DateTo,
		Limit:      window,
	})
	if err != nil {
		return nil, err
	}

	alerts := []*QAAlert{}
	for _, row := range rows {
		sv, _, qa, err := s.qa.EvaluateSurvey(row.SurveyID)
		if err != nil {
			if IsNotFound(err) {
				// Listed record vanished before the detail fetch.
				continue
			}
			return nil, err
		}
		if alertWorthy(qa) {
			alerts = append(alerts, &QAAlert{
				SurveyID:       sv.ID,
				FacilityName:   sv.FacilityName,
				EnumeratorName: sv.EnumeratorName,
				Flags:          qa.Flags,
				Severity:       qa.Severity,
			})
		}
		if len(alerts) >= 2*limit {
			break
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].Severity > alerts[j].Severity })

	if q.Enumerator != "" {
		needle := strings.ToLower(strings.TrimSpace(q.Enumerator))
		alerts = filterAlerts(alerts, func(a *QAAlert) bool {
			return strings.Contains(strings.ToLower(a.EnumeratorName), needle)
		})
	}
	if q.Flag != "" {
		want := strings.TrimSpace(q.Flag)
		alerts = filterAlerts(alerts, func(a *QAAlert) bool {
			return hasFlag(a.Flags, want)
		})
	}
	if q.SeverityMin != nil {
		alerts = filterAlerts(alerts, func(a *QAAlert) bool {
			return a.Severity >= *q.SeverityMin
		})
	}

	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

func alertWorthy(qa *QASummary) bool {
	if qa.Severity >= alertSeverityThreshold {
		return true
	}
	if hasFlag(qa.Flags, FlagMissingRequired) {
		return true
	}
	for _, crit := range criticalFlags {
		if hasFlag(qa.Flags, crit) {
			return true
		}
	}
	return false
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

func filterAlerts(alerts []*QAAlert, keep func(*QAAlert) bool) []*QAAlert {
	out := alerts[:0]
	for _, a := range alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
