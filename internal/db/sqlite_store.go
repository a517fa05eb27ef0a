package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openfield/collect/internal/api"
	"github.com/openfield/collect/internal/services"
)

// SQLiteStore is the persistent record store. Timestamps are stored as text;
// parsing is best-effort, an unreadable value reads back as the zero time.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database file and applies the pragmas the
// store relies on.
func Open(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path)
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func NewStore(db *sql.DB) (api.Store, error) {
	return NewSQLiteStore(db)
}

var _ api.Store = (*SQLiteStore)(nil)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

const surveyColumns = `s.id, s.facility_id, COALESCE(f.name, ''), COALESCE(s.template_id, 0),
	COALESCE(s.survey_type, ''), COALESCE(s.enumerator_name, ''), COALESCE(s.status, ''),
	COALESCE(s.created_at, ''), COALESCE(s.completed_at, ''),
	s.gps_lat, s.gps_lng, s.gps_accuracy, COALESCE(s.gps_timestamp, ''),
	COALESCE(s.coverage_node_id, 0), COALESCE(n.name, ''), COALESCE(s.project_id, 0),
	COALESCE(s.qa_flags, ''), COALESCE(s.gps_missing_flag, 0), COALESCE(s.duplicate_flag, 0)`

func (s *SQLiteStore) GetSurvey(id int64) (*services.Survey, []*services.Answer, error) {
	query := `SELECT ` + surveyColumns + `
		FROM surveys s
		LEFT JOIN facilities f ON f.id = s.facility_id
		LEFT JOIN coverage_nodes n ON n.id = s.coverage_node_id
		WHERE s.id = ? AND s.deleted_at IS NULL`
	row := s.db.QueryRow(query, id)

	sv := &services.Survey{}
	var created, completed string
	var lat, lng, acc sql.NullFloat64
	var gpsMissing, duplicate int64
	err := row.Scan(&sv.ID, &sv.FacilityID, &sv.FacilityName, &sv.TemplateID,
		&sv.SurveyType, &sv.EnumeratorName, &sv.Status,
		&created, &completed,
		&lat, &lng, &acc, &sv.GPSTimestamp,
		&sv.CoverageNodeID, &sv.CoverageNodeName, &sv.ProjectID,
		&sv.QAFlags, &gpsMissing, &duplicate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get survey %d: %w", id, err)
	}
	sv.CreatedAt = parseTime(created)
	sv.CompletedAt = parseTime(completed)
	sv.GPSLat = fromNullFloat(lat)
	sv.GPSLng = fromNullFloat(lng)
	sv.GPSAccuracy = fromNullFloat(acc)
	sv.GPSMissingFlag = gpsMissing != 0
	sv.DuplicateFlag = duplicate != 0

	answers, err := s.listAnswers(id)
	if err != nil {
		return nil, nil, err
	}
	return sv, answers, nil
}

func (s *SQLiteStore) listAnswers(surveyID int64) ([]*services.Answer, error) {
	rows, err := s.db.Query(`SELECT id, COALESCE(template_question_id, 0), COALESCE(question, ''),
			COALESCE(answer, ''), COALESCE(answer_source, ''), confidence_level,
			COALESCE(is_missing, 0), COALESCE(missing_reason, '')
		FROM survey_answers WHERE survey_id = ? ORDER BY id ASC`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list answers for survey %d: %w", surveyID, err)
	}
	defer rows.Close()

	out := []*services.Answer{}
	for rows.Next() {
		a := &services.Answer{SurveyID: surveyID}
		var conf sql.NullFloat64
		var missing int64
		if err := rows.Scan(&a.ID, &a.TemplateQuestionID, &a.Question,
			&a.Answer, &a.AnswerSource, &conf, &missing, &a.MissingReason); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.ConfidenceLevel = fromNullFloat(conf)
		a.IsMissing = missing != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListRequiredQuestions(templateID int64) ([]*services.RequiredQuestion, error) {
	rows, err := s.db.Query(`SELECT id, COALESCE(question, '')
		FROM template_questions WHERE template_id = ? AND is_required = 1 ORDER BY id ASC`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list required questions for template %d: %w", templateID, err)
	}
	defer rows.Close()

	out := []*services.RequiredQuestion{}
	for rows.Next() {
		rq := &services.RequiredQuestion{}
		if err := rows.Scan(&rq.ID, &rq.Text); err != nil {
			return nil, fmt.Errorf("scan required question: %w", err)
		}
		out = append(out, rq)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetCoverageGeofence(nodeID int64) (*services.Geofence, error) {
	row := s.db.QueryRow(`SELECT center_lat, center_lng, radius_m FROM coverage_nodes WHERE id = ?`, nodeID)
	var lat, lng, radius sql.NullFloat64
	err := row.Scan(&lat, &lng, &radius)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get coverage node %d: %w", nodeID, err)
	}
	// A node without a center cannot fence anything.
	if !lat.Valid || !lng.Valid {
		return nil, nil
	}
	return &services.Geofence{Lat: lat.Float64, Lng: lng.Float64, RadiusM: fromNullFloat(radius)}, nil
}

func (s *SQLiteStore) ListSurveys(f services.SurveyFilter) ([]*services.SurveyListRow, error) {
	where := []string{"s.deleted_at IS NULL"}
	args := []any{}
	if f.Status != "" {
		where = append(where, "UPPER(s.status) = UPPER(?)")
		args = append(args, f.Status)
	}
	if strings.TrimSpace(f.Enumerator) != "" {
		where = append(where, "LOWER(s.enumerator_name) LIKE '%' || LOWER(?) || '%'")
		args = append(args, strings.TrimSpace(f.Enumerator))
	}
	if f.TemplateID != 0 {
		where = append(where, "s.template_id = ?")
		args = append(args, f.TemplateID)
	}
	if f.FacilityID != 0 {
		where = append(where, "s.facility_id = ?")
		args = append(args, f.FacilityID)
	}
	if f.ProjectID != 0 {
		where = append(where, "s.project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.DateFrom != "" {
		where = append(where, "date(s.created_at) >= date(?)")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		where = append(where, "date(s.created_at) <= date(?)")
		args = append(args, f.DateTo)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := `SELECT s.id, COALESCE(f2.name, ''), COALESCE(s.template_id, 0), COALESCE(s.survey_type, ''),
			COALESCE(s.enumerator_name, ''), COALESCE(s.status, ''), COALESCE(s.created_at, '')
		FROM surveys s
		LEFT JOIN facilities f2 ON f2.id = s.facility_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY s.id DESC LIMIT ?`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()

	out := []*services.SurveyListRow{}
	for rows.Next() {
		r := &services.SurveyListRow{}
		var created string
		if err := rows.Scan(&r.SurveyID, &r.FacilityName, &r.TemplateID, &r.SurveyType,
			&r.EnumeratorName, &r.Status, &created); err != nil {
			return nil, fmt.Errorf("scan survey row: %w", err)
		}
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetProjectMeta(projectID int64) (*services.ProjectMeta, error) {
	row := s.db.QueryRow(`SELECT id, COALESCE(name, ''), expected_submissions, COALESCE(created_at, '')
		FROM projects WHERE id = ?`, projectID)
	meta := &services.ProjectMeta{}
	var expected sql.NullInt64
	var created string
	err := row.Scan(&meta.ID, &meta.Name, &expected, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", projectID, err)
	}
	if expected.Valid {
		v := int(expected.Int64)
		meta.ExpectedSubmissions = &v
	}
	meta.CreatedAt = parseTime(created)
	return meta, nil
}

func (s *SQLiteStore) ListSurveyStats(f services.StatsFilter) ([]*services.SurveyStats, error) {
	where := []string{"s.deleted_at IS NULL"}
	args := []any{}
	if f.ProjectID != 0 {
		where = append(where, "s.project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.TemplateID != 0 {
		where = append(where, "s.template_id = ?")
		args = append(args, f.TemplateID)
	}
	if strings.TrimSpace(f.Enumerator) != "" {
		where = append(where, "LOWER(s.enumerator_name) LIKE '%' || LOWER(?) || '%'")
		args = append(args, strings.TrimSpace(f.Enumerator))
	}
	if f.DateFrom != "" {
		where = append(where, "date(s.created_at) >= date(?)")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		where = append(where, "date(s.created_at) <= date(?)")
		args = append(args, f.DateTo)
	}

	query := `SELECT COALESCE(s.enumerator_name, ''), COALESCE(s.status, ''), s.facility_id,
			COALESCE(s.template_id, 0), COALESCE(s.created_at, ''), COALESCE(s.completed_at, ''),
			CASE WHEN s.gps_lat IS NOT NULL AND s.gps_lng IS NOT NULL THEN 1 ELSE 0 END,
			COALESCE(s.gps_missing_flag, 0), COALESCE(s.duplicate_flag, 0)
		FROM surveys s
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY s.id ASC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list survey stats: %w", err)
	}
	defer rows.Close()

	out := []*services.SurveyStats{}
	for rows.Next() {
		st := &services.SurveyStats{}
		var created, completed string
		var gpsPresent, gpsMissing, duplicate int64
		if err := rows.Scan(&st.EnumeratorName, &st.Status, &st.FacilityID, &st.TemplateID,
			&created, &completed, &gpsPresent, &gpsMissing, &duplicate); err != nil {
			return nil, fmt.Errorf("scan survey stats: %w", err)
		}
		st.CreatedAt = parseTime(created)
		st.CompletedAt = parseTime(completed)
		st.GPSPresent = gpsPresent != 0
		st.GPSMissingFlag = gpsMissing != 0
		st.DuplicateFlag = duplicate != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListEnumeratorNames(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`SELECT DISTINCT TRIM(enumerator_name)
		FROM surveys
		WHERE deleted_at IS NULL AND TRIM(COALESCE(enumerator_name, '')) != ''
		ORDER BY 1 ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list enumerator names: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan enumerator name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindSupervisorByEmail(email string) (*services.Supervisor, error) {
	row := s.db.QueryRow(`SELECT id, COALESCE(name, ''), email, pass_hash, COALESCE(created_at, '')
		FROM supervisors WHERE LOWER(email) = LOWER(?)`, strings.TrimSpace(email))
	sup := &services.Supervisor{}
	var created string
	err := row.Scan(&sup.ID, &sup.Name, &sup.Email, &sup.PassHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find supervisor: %w", err)
	}
	sup.CreatedAt = parseTime(created)
	return sup, nil
}

func (s *SQLiteStore) AddSupervisor(sup *services.Supervisor) error {
	_, err := s.db.Exec(`INSERT INTO supervisors (id, name, email, pass_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sup.ID, sup.Name, sup.Email, sup.PassHash, sup.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("add supervisor: %w", err)
	}
	return nil
}
