package services

import "time"

// Survey status values. Any status other than COMPLETED is treated as a
// draft by the analytics rollups.
const (
	StatusDraft     = "DRAFT"
	StatusCompleted = "COMPLETED"
)

// QA flag tokens produced by the evaluator or persisted upstream. The merged
// flag set on a record is an open set of strings; these constants cover the
// tokens the scoring logic knows about.
const (
	FlagMissingRequired     = "MISSING_REQUIRED"
	FlagEmptyAnswers        = "EMPTY_ANSWERS"
	FlagLowConfidence       = "LOW_CONFIDENCE"
	FlagGPSMissing          = "GPS_MISSING"
	FlagGPSOutsideCoverage  = "GPS_OUTSIDE_COVERAGE"
	FlagSuspiciousValues    = "SUSPICIOUS_VALUES"
	FlagDuplicateFacility   = "DUPLICATE_FACILITY_DAY"
	FlagGPSOutsideFieldArea = "GPS_OUTSIDE_FIELD_AREA"
	FlagClusterSpike        = "FIELD_AREA_CLUSTER_SPIKE"
	FlagUnlistedFacility    = "UNLISTED_FACILITY_USED"
)

// Survey is one submitted record as read from the record store. Optional id
// references use 0 when absent; optional numerics use nil; optional
// timestamps use the zero time. The QA engine never writes back to it.
type Survey struct {
	ID               int64      `json:"id"`
	FacilityID       int64      `json:"facility_id"`
	FacilityName     string     `json:"facility_name"`
	TemplateID       int64      `json:"template_id,omitempty"`
	SurveyType       string     `json:"survey_type,omitempty"`
	EnumeratorName   string     `json:"enumerator_name"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      time.Time  `json:"completed_at"`
	GPSLat           *float64   `json:"gps_lat,omitempty"`
	GPSLng           *float64   `json:"gps_lng,omitempty"`
	GPSAccuracy      *float64   `json:"gps_accuracy,omitempty"`
	GPSTimestamp     string     `json:"gps_timestamp,omitempty"`
	CoverageNodeID   int64      `json:"coverage_node_id,omitempty"`
	CoverageNodeName string     `json:"coverage_node_name,omitempty"`
	ProjectID        int64      `json:"project_id,omitempty"`
	QAFlags          string     `json:"qa_flags,omitempty"` // comma-joined persisted tokens
	GPSMissingFlag   bool       `json:"gps_missing_flag"`
	DuplicateFlag    bool       `json:"duplicate_flag"`
}

// Answer is one question/response pair within a survey. The question text is
// a denormalized copy taken at submission time. Confidence is nil when the
// source never supplied one or it failed to parse (parse-or-absent policy).
type Answer struct {
	ID                 int64    `json:"id"`
	SurveyID           int64    `json:"survey_id"`
	TemplateQuestionID int64    `json:"template_question_id,omitempty"`
	Question           string   `json:"question"`
	Answer             string   `json:"answer"`
	AnswerSource       string   `json:"answer_source,omitempty"`
	ConfidenceLevel    *float64 `json:"confidence_level,omitempty"`
	IsMissing          bool     `json:"is_missing"`
	MissingReason      string   `json:"missing_reason,omitempty"`
}

// RequiredQuestion is a template question marked required.
type RequiredQuestion struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Geofence is a coverage node's circular zone. RadiusM nil means the caller
// applies the default radius.
type Geofence struct {
	Lat     float64
	Lng     float64
	RadiusM *float64
}

// ProjectMeta is the slice of project metadata the analytics rollups read.
type ProjectMeta struct {
	ID                  int64
	Name                string
	ExpectedSubmissions *int
	CreatedAt           time.Time
}

// SurveyListRow is one row of the store's listing query, ordered most recent
// id first.
type SurveyListRow struct {
	SurveyID       int64     `json:"survey_id"`
	FacilityName   string    `json:"facility_name"`
	TemplateID     int64     `json:"template_id,omitempty"`
	SurveyType     string    `json:"survey_type,omitempty"`
	EnumeratorName string    `json:"enumerator_name"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// SurveyFilter narrows the listing query. Zero values mean "no filter".
// Dates are inclusive calendar days in "2006-01-02" form.
type SurveyFilter struct {
	Status     string
	Enumerator string // case-insensitive substring
	TemplateID int64
	FacilityID int64
	ProjectID  int64
	DateFrom   string
	DateTo     string
	Limit      int
}

// StatsFilter narrows the analytics scan. Same zero-value conventions as
// SurveyFilter.
type StatsFilter struct {
	ProjectID  int64
	TemplateID int64
	Enumerator string // case-insensitive substring
	DateFrom   string
	DateTo     string
}

// SurveyStats is the reduced per-record projection the analytics rollups
// aggregate over. GPSPresent means both coordinates were non-null.
type SurveyStats struct {
	EnumeratorName string
	Status         string
	FacilityID     int64
	TemplateID     int64
	CreatedAt      time.Time
	CompletedAt    time.Time
	GPSPresent     bool
	GPSMissingFlag bool
	DuplicateFlag  bool
}

// QASummary is the computed quality assessment for one record. It is never
// persisted; it is recomputed from raw fields on every read.
type QASummary struct {
	TotalAnswers             int      `json:"total_answers"`
	MissingRequiredCount     int      `json:"missing_required_count"`
	MissingRequiredQuestions []string `json:"missing_required_questions"`
	EmptyAnswerCount         int      `json:"empty_answer_count"`
	LowConfidenceCount       int      `json:"low_confidence_count"`
	GPSMissing               bool     `json:"gps_missing"`
	GPSPresent               bool     `json:"gps_present"`
	HasSuspiciousValues      bool     `json:"has_suspicious_values"`
	Flags                    []string `json:"flags"`
	Severity                 float64  `json:"severity"`
}

// QAAlert is a transient projection of a record selected for quality review.
type QAAlert struct {
	SurveyID       int64    `json:"survey_id"`
	FacilityName   string   `json:"facility_name"`
	EnumeratorName string   `json:"enumerator_name"`
	Flags          []string `json:"flags"`
	Severity       float64  `json:"severity"`
}
