package services

import (
	"math"
	"strings"
	"unicode/utf8"
)

// QAStore is the slice of the record store the QA evaluator reads through.
// A missing survey is signalled by (nil, nil, nil); a missing or center-less
// coverage node by a nil Geofence.
type QAStore interface {
	GetSurvey(id int64) (*Survey, []*Answer, error)
	ListRequiredQuestions(templateID int64) ([]*RequiredQuestion, error)
	GetCoverageGeofence(nodeID int64) (*Geofence, error)
}

// QAService derives quality flags and a severity score for submitted
// records. QA output is always recomputed from current record state; nothing
// here writes back to the store.
type QAService struct {
	store QAStore
}

func NewQAService(store QAStore) *QAService {
	return &QAService{store: store}
}

// Placeholder answers that mark a response as suspicious regardless of the
// question asked.
var suspiciousPlaceholders = map[string]struct{}{
	"n/a": {}, "na": {}, "none": {}, "nil": {}, "test": {}, "xxx": {},
}

// Severity weights. Count-based terms are capped at 1 before weighting; the
// sum is deliberately not normalized and can exceed 1 before boosting.
const (
	weightMissingRequired = 0.45
	weightEmptyAnswers    = 0.20
	weightGPSMissing      = 0.20
	weightGPSOutside      = 0.15
	weightLowConfidence   = 0.15
	weightSuspicious      = 0.15
)

// Evaluate runs the per-record checks and scores the result. It is pure
// apart from one read through the store for required questions and the
// coverage-node geofence.
func (s *QAService) Evaluate(sv *Survey, answers []*Answer) (*QASummary, error) {
	qa := &QASummary{
		TotalAnswers:             len(answers),
		MissingRequiredQuestions: []string{},
		Flags:                    []string{},
	}

	for _, a := range answers {
		if strings.TrimSpace(a.Answer) == "" {
			qa.EmptyAnswerCount++
		}
		if a.ConfidenceLevel != nil && *a.ConfidenceLevel < 0.5 {
			qa.LowConfidenceCount++
		}
	}

	qa.GPSPresent = sv.GPSLat != nil && sv.GPSLng != nil
	qa.GPSMissing = !qa.GPSPresent

	gpsOutside := false
	if qa.GPSPresent && sv.CoverageNodeID != 0 {
		gf, err := s.store.GetCoverageGeofence(sv.CoverageNodeID)
		if err != nil {
			return nil, err
		}
		if gf != nil {
			if d, ok := DistanceMeters(*sv.GPSLat, *sv.GPSLng, gf.Lat, gf.Lng); ok && IsOutside(d, gf.RadiusM) {
				gpsOutside = true
			}
		}
	}

	if sv.TemplateID != 0 {
		required, err := s.store.ListRequiredQuestions(sv.TemplateID)
		if err != nil {
			return nil, err
		}
		answered := map[int64]struct{}{}
		for _, a := range answers {
			if a.TemplateQuestionID != 0 && strings.TrimSpace(a.Answer) != "" {
				answered[a.TemplateQuestionID] = struct{}{}
			}
		}
		for _, rq := range required {
			if _, ok := answered[rq.ID]; !ok {
				qa.MissingRequiredQuestions = append(qa.MissingRequiredQuestions, rq.Text)
			}
		}
		qa.MissingRequiredCount = len(qa.MissingRequiredQuestions)
	}

	// Suspicious values: obvious placeholders, or near-empty answers to
	// free-text "challenge" questions. Short-circuits on first match.
	for _, a := range answers {
		val := strings.ToLower(strings.TrimSpace(a.Answer))
		if _, ok := suspiciousPlaceholders[val]; ok {
			qa.HasSuspiciousValues = true
			break
		}
		if strings.Contains(strings.ToLower(a.Question), "challenge") && utf8.RuneCountInString(val) <= 2 {
			qa.HasSuspiciousValues = true
			break
		}
	}

	if qa.MissingRequiredCount > 0 {
		qa.Flags = append(qa.Flags, FlagMissingRequired)
	}
	if qa.EmptyAnswerCount > 0 {
		qa.Flags = append(qa.Flags, FlagEmptyAnswers)
	}
	if qa.LowConfidenceCount > 0 {
		qa.Flags = append(qa.Flags, FlagLowConfidence)
	}
	if qa.GPSMissing {
		qa.Flags = append(qa.Flags, FlagGPSMissing)
	}
	if gpsOutside {
		qa.Flags = append(qa.Flags, FlagGPSOutsideCoverage)
	}
	if qa.HasSuspiciousValues {
		qa.Flags = append(qa.Flags, FlagSuspiciousValues)
	}

	severity := 0.0
	severity += math.Min(1, float64(qa.MissingRequiredCount)/5) * weightMissingRequired
	severity += math.Min(1, float64(qa.EmptyAnswerCount)/10) * weightEmptyAnswers
	if qa.GPSMissing {
		severity += weightGPSMissing
	}
	if gpsOutside {
		severity += weightGPSOutside
	}
	severity += math.Min(1, float64(qa.LowConfidenceCount)/6) * weightLowConfidence
	if qa.HasSuspiciousValues {
		severity += weightSuspicious
	}
	qa.Severity = round4(severity)

	return qa, nil
}

// MergeFlags folds the flags persisted on the record into the computed
// summary: free-text tokens, then the two boolean flags, then normalization
// (upper-case, trimmed, de-duplicated keeping first-seen order). Critical
// flags in the final set boost severity once, and only the boosted total is
// clamped to 1.
func MergeFlags(qa *QASummary, sv *Survey) {
	merged := append([]string{}, qa.Flags...)
	if sv.QAFlags != "" {
		for _, tok := range strings.Split(sv.QAFlags, ",") {
			if tok != "" {
				merged = append(merged, tok)
			}
		}
	}
	if sv.GPSMissingFlag {
		merged = append(merged, FlagGPSMissing)
	}
	if sv.DuplicateFlag {
		merged = append(merged, FlagDuplicateFacility)
	}

	seen := map[string]struct{}{}
	normalized := make([]string, 0, len(merged))
	for _, f := range merged {
		key := strings.ToUpper(strings.TrimSpace(f))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, key)
	}
	qa.Flags = normalized

	boost := 0.0
	_, outsideField := seen[FlagGPSOutsideFieldArea]
	_, outsideCoverage := seen[FlagGPSOutsideCoverage]
	if outsideField || outsideCoverage {
		boost += 0.25
	}
	if _, ok := seen[FlagClusterSpike]; ok {
		boost += 0.20
	}
	if _, ok := seen[FlagUnlistedFacility]; ok {
		boost += 0.12
	}
	if _, ok := seen[FlagDuplicateFacility]; ok {
		boost += 0.15
	}
	if boost > 0 {
		qa.Severity = round4(math.Min(1.0, qa.Severity+boost))
	}
}

// EvaluateSurvey fetches a record, evaluates it and merges the persisted
// flags. This is the unit the supervision dashboard renders per record.
func (s *QAService) EvaluateSurvey(id int64) (*Survey, []*Answer, *QASummary, error) {
	sv, answers, err := s.store.GetSurvey(id)
	if err != nil {
		return nil, nil, nil, err
	}
	if sv == nil {
		return nil, nil, nil, NewNotFoundError("survey not found")
	}
	qa, err := s.Evaluate(sv, answers)
	if err != nil {
		return nil, nil, nil, err
	}
	MergeFlags(qa, sv)
	return sv, answers, qa, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
