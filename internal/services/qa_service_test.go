package services

import (
	"testing"
)

type qaStubStore struct {
	surveys   map[int64]*Survey
	answers   map[int64][]*Answer
	required  map[int64][]*RequiredQuestion
	geofences map[int64]*Geofence
}

func newQAStubStore() *qaStubStore {
	return &qaStubStore{
		surveys:   map[int64]*Survey{},
		answers:   map[int64][]*Answer{},
		required:  map[int64][]*RequiredQuestion{},
		geofences: map[int64]*Geofence{},
	}
}

func (s *qaStubStore) GetSurvey(id int64) (*Survey, []*Answer, error) {
	sv, ok := s.surveys[id]
	if !ok {
		return nil, nil, nil
	}
	copy := *sv
	return &copy, s.answers[id], nil
}

func (s *qaStubStore) ListRequiredQuestions(templateID int64) ([]*RequiredQuestion, error) {
	return s.required[templateID], nil
}

func (s *qaStubStore) GetCoverageGeofence(nodeID int64) (*Geofence, error) {
	return s.geofences[nodeID], nil
}

func fptr(v float64) *float64 { return &v }

func TestEvaluateMissingRequiredAndNoGPS(t *testing.T) {
	store := newQAStubStore()
	store.required[1] = []*RequiredQuestion{
		{ID: 1, Text: "Facility name"},
		{ID: 2, Text: "Head count"},
		{ID: 3, Text: "Water source"},
		{ID: 4, Text: "Power source"},
		{ID: 5, Text: "Staff count"},
	}
	svc := NewQAService(store)

	sv := &Survey{ID: 10, TemplateID: 1}
	answers := []*Answer{
		{TemplateQuestionID: 1, Question: "Facility name", Answer: "Adama Clinic"},
		{TemplateQuestionID: 2, Question: "Head count", Answer: "42"},
	}
	qa, err := svc.Evaluate(sv, answers)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if qa.MissingRequiredCount != 3 {
		t.Fatalf("expected 3 missing required, got %d (%v)", qa.MissingRequiredCount, qa.MissingRequiredQuestions)
	}
	if !qa.GPSMissing || qa.GPSPresent {
		t.Fatalf("expected GPS missing, got %+v", qa)
	}
	// 0.6*0.45 + 0.20 = 0.47
	if qa.Severity != 0.47 {
		t.Fatalf("expected severity 0.47, got %v", qa.Severity)
	}
	wantFlags := []string{FlagMissingRequired, FlagGPSMissing}
	if len(qa.Flags) != len(wantFlags) {
		t.Fatalf("expected flags %v, got %v", wantFlags, qa.Flags)
	}
	for i, f := range wantFlags {
		if qa.Flags[i] != f {
			t.Fatalf("expected flags %v, got %v", wantFlags, qa.Flags)
		}
	}
}

func TestEvaluateEmptyAndLowConfidence(t *testing.T) {
	svc := NewQAService(newQAStubStore())
	lat, lng := 9.03, 38.74
	sv := &Survey{ID: 11, GPSLat: &lat, GPSLng: &lng}
	answers := []*Answer{
		{Question: "A", Answer: "  "},
		{Question: "B", Answer: "fine", ConfidenceLevel: fptr(0.4)},
		{Question: "C", Answer: "fine", ConfidenceLevel: fptr(0.5)},
	}
	qa, err := svc.Evaluate(sv, answers)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if qa.EmptyAnswerCount != 1 || qa.LowConfidenceCount != 1 {
		t.Fatalf("expected 1 empty and 1 low confidence, got %+v", qa)
	}
	if qa.GPSMissing {
		t.Fatalf("expected GPS present")
	}
	// 0.1*0.20 + (1/6)*0.15 = 0.045
	if qa.Severity != 0.045 {
		t.Fatalf("expected severity 0.045, got %v", qa.Severity)
	}
}

func TestEvaluateGPSOutsideCoverage(t *testing.T) {
	store := newQAStubStore()
	store.geofences[7] = &Geofence{Lat: 0, Lng: 0}
	svc := NewQAService(store)

	// ~11km north of the fence center, past the 5km default radius.
	lat, lng := 0.1, 0.0
	sv := &Survey{ID: 12, CoverageNodeID: 7, GPSLat: &lat, GPSLng: &lng}
	qa, err := svc.Evaluate(sv, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !hasFlag(qa.Flags, FlagGPSOutsideCoverage) {
		t.Fatalf("expected %s flag, got %v", FlagGPSOutsideCoverage, qa.Flags)
	}
	if qa.Severity != 0.15 {
		t.Fatalf("expected severity 0.15, got %v", qa.Severity)
	}
}

func TestEvaluateGeofenceMissingNodeNotFlagged(t *testing.T) {
	svc := NewQAService(newQAStubStore())
	lat, lng := 0.1, 0.0
	sv := &Survey{ID: 13, CoverageNodeID: 99, GPSLat: &lat, GPSLng: &lng}
	qa, err := svc.Evaluate(sv, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if hasFlag(qa.Flags, FlagGPSOutsideCoverage) {
		t.Fatalf("node without geofence must not flag, got %v", qa.Flags)
	}
}

func TestEvaluateSuspiciousValues(t *testing.T) {
	svc := NewQAService(newQAStubStore())
	lat, lng := 9.0, 38.7
	base := &Survey{ID: 14, GPSLat: &lat, GPSLng: &lng}

	qa, err := svc.Evaluate(base, []*Answer{{Question: "Notes", Answer: " N/A "}})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !qa.HasSuspiciousValues || !hasFlag(qa.Flags, FlagSuspiciousValues) {
		t.Fatalf("placeholder answer should be suspicious, got %+v", qa)
	}

	qa, err = svc.Evaluate(base, []*Answer{{Question: "Main challenges faced", Answer: "ok"}})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !qa.HasSuspiciousValues {
		t.Fatalf("near-empty challenge answer should be suspicious")
	}

	qa, err = svc.Evaluate(base, []*Answer{{Question: "Main challenges faced", Answer: "staff shortages"}})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if qa.HasSuspiciousValues {
		t.Fatalf("substantive challenge answer must not be suspicious")
	}
}

func TestMergeFlagsNormalizesAndDedupes(t *testing.T) {
	qa := &QASummary{Flags: []string{FlagGPSMissing}, Severity: 0.20}
	sv := &Survey{QAFlags: " gps_missing , custom_flag ,"}
	MergeFlags(qa, sv)
	want := []string{FlagGPSMissing, "CUSTOM_FLAG"}
	if len(qa.Flags) != len(want) {
		t.Fatalf("expected flags %v, got %v", want, qa.Flags)
	}
	for i, f := range want {
		if qa.Flags[i] != f {
			t.Fatalf("expected flags %v, got %v", want, qa.Flags)
		}
	}
	if qa.Severity != 0.20 {
		t.Fatalf("no boostable flags, severity must be untouched, got %v", qa.Severity)
	}
}

func TestMergeFlagsOutsideBoostAppliesOnce(t *testing.T) {
	qa := &QASummary{Flags: []string{FlagGPSOutsideCoverage}, Severity: 0.40}
	sv := &Survey{QAFlags: FlagGPSOutsideFieldArea}
	MergeFlags(qa, sv)
	if qa.Severity != 0.65 {
		t.Fatalf("both outside flags boost once for 0.65, got %v", qa.Severity)
	}
}

func TestMergeFlagsBooleanFlagsAndClamp(t *testing.T) {
	qa := &QASummary{Flags: []string{}, Severity: 0.90}
	sv := &Survey{GPSMissingFlag: true, DuplicateFlag: true}
	MergeFlags(qa, sv)
	if !hasFlag(qa.Flags, FlagGPSMissing) || !hasFlag(qa.Flags, FlagDuplicateFacility) {
		t.Fatalf("boolean flags must be folded in, got %v", qa.Flags)
	}
	// 0.90 + 0.15 clamps to 1.0.
	if qa.Severity != 1.0 {
		t.Fatalf("expected clamped severity 1.0, got %v", qa.Severity)
	}
}

func TestMergeFlagsUnboostedSeverityNotClamped(t *testing.T) {
	qa := &QASummary{Flags: []string{FlagMissingRequired}, Severity: 1.15}
	MergeFlags(qa, &Survey{})
	if qa.Severity != 1.15 {
		t.Fatalf("without a boost the raw severity stands, got %v", qa.Severity)
	}
}

func TestEvaluateSurveyNotFound(t *testing.T) {
	svc := NewQAService(newQAStubStore())
	_, _, _, err := svc.EvaluateSurvey(404)
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestEvaluateSurveyMergesPersistedFlags(t *testing.T) {
	store := newQAStubStore()
	store.surveys[20] = &Survey{ID: 20, FacilityName: "Adama Clinic", DuplicateFlag: true}
	svc := NewQAService(store)

	_, _, qa, err := svc.EvaluateSurvey(20)
	if err != nil {
		t.Fatalf("EvaluateSurvey returned error: %v", err)
	}
	if !hasFlag(qa.Flags, FlagDuplicateFacility) {
		t.Fatalf("persisted duplicate flag must survive merging, got %v", qa.Flags)
	}
	// GPS missing 0.20 plus duplicate boost 0.15.
	if qa.Severity != 0.35 {
		t.Fatalf("expected severity 0.35, got %v", qa.Severity)
	}
}
