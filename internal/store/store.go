package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/priorai/priorai/internal/analysis"
)

// MaxPersistedCandidates caps the scored candidates written per analysis.
// Scoring uses the full result set; storage only keeps the top of the
// ranking.
const MaxPersistedCandidates = 20

const (
	StepStarted   = "started"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// StepLog is one append-only record of a pipeline stage execution. Rows are
// never rewritten after reaching a terminal status.
type StepLog struct {
	ID                  int64
	AnalysisID          string
	Stage               string
	Status              string
	OutputSummary       string
	ErrorText           string
	ExternalExecutionID string
	StartedAt           time.Time
	CompletedAt         time.Time
}

type API interface {
	CreateAnalysis(a *analysis.Analysis) error
	GetAnalysis(id string) (*analysis.Analysis, error)
	ListAnalyses() ([]analysis.Analysis, error)
	UpdateAnalysis(a *analysis.Analysis) error

	SaveCandidates(analysisID string, candidates []analysis.Candidate) error
	ListCandidates(analysisID string) ([]analysis.Candidate, error)

	BeginStep(analysisID, stage string) (int64, error)
	CompleteStep(id int64, outputSummary string) error
	FailStep(id int64, errorText string) error
	SetStepExternalID(id int64, executionID string) error
	ListSteps(analysisID string) ([]StepLog, error)
}

// SQLiteStore persists analyses, scored candidates, and step logs with
// write-through semantics. All writes go through one connection guarded by
// a mutex so concurrent runs never interleave on the same row.
type SQLiteStore struct {
	db *sqlx.DB
	mu sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analyses (
	analysis_id              TEXT PRIMARY KEY,
	title                    TEXT NOT NULL DEFAULT '',
	status                   TEXT NOT NULL DEFAULT 'processing',
	claims                   TEXT,
	is_patentable            INTEGER,
	patentability_confidence REAL,
	missing_elements         TEXT,
	novelty_score            REAL,
	recommendation           TEXT NOT NULL DEFAULT '',
	reasoning                TEXT NOT NULL DEFAULT '',
	created_at               TEXT NOT NULL,
	updated_at               TEXT NOT NULL,
	completed_at             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS patents (
	analysis_id          TEXT NOT NULL,
	position             INTEGER NOT NULL,
	patent_id            TEXT NOT NULL,
	title                TEXT NOT NULL DEFAULT '',
	abstract             TEXT NOT NULL DEFAULT '',
	claims               TEXT NOT NULL DEFAULT '[]',
	publication_date     TEXT NOT NULL DEFAULT '',
	assignee             TEXT NOT NULL DEFAULT '',
	inventors            TEXT NOT NULL DEFAULT '[]',
	classifications      TEXT NOT NULL DEFAULT '[]',
	similarity_score     REAL NOT NULL DEFAULT 0,
	overlapping_concepts TEXT NOT NULL DEFAULT '[]',
	key_differences      TEXT NOT NULL DEFAULT '[]',
	source               TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (analysis_id, position)
);

CREATE TABLE IF NOT EXISTS step_logs (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id           TEXT NOT NULL,
	stage                 TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT 'started',
	output_summary        TEXT NOT NULL DEFAULT '',
	error_text            TEXT NOT NULL DEFAULT '',
	external_execution_id TEXT NOT NULL DEFAULT '',
	started_at            TEXT NOT NULL,
	completed_at          TEXT NOT NULL DEFAULT ''
);
`

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- analyses ---

func (s *SQLiteStore) CreateAnalysis(a *analysis.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO analyses (analysis_id, title, status, claims, is_patentable, patentability_confidence,
		missing_elements, novelty_score, recommendation, reasoning, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Title,
		string(a.Status),
		nullableClaims(a.Claims),
		nullableBool(a.IsPatentable),
		nullableFloat(a.PatentabilityConfidence),
		marshalJSON(a.MissingElements),
		nullableFloat(a.NoveltyScore),
		string(a.Recommendation),
		a.Reasoning,
		timeToString(a.CreatedAt),
		timeToString(a.UpdatedAt),
		timeToStringPtr(a.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateAnalysis(a *analysis.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(`UPDATE analyses SET title=?, status=?, claims=?, is_patentable=?, patentability_confidence=?,
		missing_elements=?, novelty_score=?, recommendation=?, reasoning=?, updated_at=?, completed_at=?
		WHERE analysis_id=?`,
		a.Title,
		string(a.Status),
		nullableClaims(a.Claims),
		nullableBool(a.IsPatentable),
		nullableFloat(a.PatentabilityConfidence),
		marshalJSON(a.MissingElements),
		nullableFloat(a.NoveltyScore),
		string(a.Recommendation),
		a.Reasoning,
		timeToString(a.UpdatedAt),
		timeToStringPtr(a.CompletedAt),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("update analysis: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAnalysis(id string) (*analysis.Analysis, error) {
	row := s.db.QueryRow(`SELECT analysis_id, title, status, claims, is_patentable, patentability_confidence,
		missing_elements, novelty_score, recommendation, reasoning, created_at, updated_at, completed_at
		FROM analyses WHERE analysis_id=?`, id)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("analysis %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAnalyses() ([]analysis.Analysis, error) {
	rows, err := s.db.Query(`SELECT analysis_id, title, status, claims, is_patentable, patentability_confidence,
		missing_elements, novelty_score, recommendation, reasoning, created_at, updated_at, completed_at
		FROM analyses ORDER BY created_at DESC, analysis_id`)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()
	out := []analysis.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("list analyses: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(r rowScanner) (*analysis.Analysis, error) {
	var a analysis.Analysis
	var status, recommendation string
	var claimsJSON, missingJSON sql.NullString
	var isPatentable sql.NullInt64
	var confidence, novelty sql.NullFloat64
	var createdAt, updatedAt, completedAt string
	if err := r.Scan(&a.ID, &a.Title, &status, &claimsJSON, &isPatentable, &confidence,
		&missingJSON, &novelty, &recommendation, &a.Reasoning, &createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	a.Status = analysis.Status(status)
	a.Recommendation = analysis.Recommendation(recommendation)
	if claimsJSON.Valid && claimsJSON.String != "" {
		var claims analysis.ExtractedClaims
		if err := json.Unmarshal([]byte(claimsJSON.String), &claims); err == nil {
			a.Claims = &claims
		}
	}
	if isPatentable.Valid {
		v := isPatentable.Int64 != 0
		a.IsPatentable = &v
	}
	if confidence.Valid {
		v := confidence.Float64
		a.PatentabilityConfidence = &v
	}
	if missingJSON.Valid && missingJSON.String != "" {
		_ = json.Unmarshal([]byte(missingJSON.String), &a.MissingElements)
	}
	if novelty.Valid {
		v := novelty.Float64
		a.NoveltyScore = &v
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if completedAt != "" {
		t, _ := time.Parse(time.RFC3339Nano, completedAt)
		a.CompletedAt = &t
	}
	return &a, nil
}

// --- candidates ---

func (s *SQLiteStore) SaveCandidates(analysisID string, candidates []analysis.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(candidates) > MaxPersistedCandidates {
		candidates = candidates[:MaxPersistedCandidates]
	}
	if _, err := s.db.Exec(`DELETE FROM patents WHERE analysis_id=?`, analysisID); err != nil {
		return fmt.Errorf("save candidates: %w", err)
	}
	for i, c := range candidates {
		_, err := s.db.Exec(`INSERT INTO patents (analysis_id, position, patent_id, title, abstract, claims,
			publication_date, assignee, inventors, classifications, similarity_score, overlapping_concepts, key_differences, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			analysisID, i, c.PatentID, c.Title, c.Abstract, marshalJSON(c.Claims),
			c.PublicationDate, c.Assignee, marshalJSON(c.Inventors), marshalJSON(c.Classifications),
			c.SimilarityScore, marshalJSON(c.OverlappingConcepts), marshalJSON(c.KeyDifferences), c.Source,
		)
		if err != nil {
			return fmt.Errorf("save candidate %s: %w", c.PatentID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListCandidates(analysisID string) ([]analysis.Candidate, error) {
	rows, err := s.db.Query(`SELECT patent_id, title, abstract, claims, publication_date, assignee,
		inventors, classifications, similarity_score, overlapping_concepts, key_differences, source
		FROM patents WHERE analysis_id=? ORDER BY position`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()
	out := []analysis.Candidate{}
	for rows.Next() {
		var c analysis.Candidate
		var claimsJSON, inventorsJSON, classJSON, overlapsJSON, diffsJSON string
		if err := rows.Scan(&c.PatentID, &c.Title, &c.Abstract, &claimsJSON, &c.PublicationDate, &c.Assignee,
			&inventorsJSON, &classJSON, &c.SimilarityScore, &overlapsJSON, &diffsJSON, &c.Source); err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		_ = json.Unmarshal([]byte(claimsJSON), &c.Claims)
		_ = json.Unmarshal([]byte(inventorsJSON), &c.Inventors)
		_ = json.Unmarshal([]byte(classJSON), &c.Classifications)
		_ = json.Unmarshal([]byte(overlapsJSON), &c.OverlappingConcepts)
		_ = json.Unmarshal([]byte(diffsJSON), &c.KeyDifferences)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- step logs ---

func (s *SQLiteStore) BeginStep(analysisID, stage string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`INSERT INTO step_logs (analysis_id, stage, status, started_at) VALUES (?, ?, ?, ?)`,
		analysisID, stage, StepStarted, timeToString(time.Now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("begin step %s: %w", stage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("begin step %s: %w", stage, err)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteStep(id int64, outputSummary string) error {
	return s.finishStep(id, StepCompleted, outputSummary, "")
}

func (s *SQLiteStore) FailStep(id int64, errorText string) error {
	return s.finishStep(id, StepFailed, "", errorText)
}

func (s *SQLiteStore) finishStep(id int64, status, outputSummary, errorText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE step_logs SET status=?, output_summary=?, error_text=?, completed_at=?
		WHERE id=? AND status=?`,
		status, outputSummary, errorText, timeToString(time.Now().UTC()), id, StepStarted)
	if err != nil {
		return fmt.Errorf("finish step %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish step %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("step %d already terminal", id)
	}
	return nil
}

func (s *SQLiteStore) SetStepExternalID(id int64, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE step_logs SET external_execution_id=? WHERE id=?`, executionID, id)
	if err != nil {
		return fmt.Errorf("set step external id %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListSteps(analysisID string) ([]StepLog, error) {
	rows, err := s.db.Query(`SELECT id, analysis_id, stage, status, output_summary, error_text, external_execution_id, started_at, completed_at
		FROM step_logs WHERE analysis_id=? ORDER BY id`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()
	out := []StepLog{}
	for rows.Next() {
		var l StepLog
		var startedAt, completedAt string
		if err := rows.Scan(&l.ID, &l.AnalysisID, &l.Stage, &l.Status, &l.OutputSummary, &l.ErrorText, &l.ExternalExecutionID, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("list steps: %w", err)
		}
		l.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if completedAt != "" {
			l.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- helpers ---

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timeToStringPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timeToString(*t)
}

func marshalJSON(v any) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func nullableClaims(c *analysis.ExtractedClaims) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableBool(v *bool) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	n := int64(0)
	if *v {
		n = 1
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// Ensure SQLiteStore satisfies the API interface at compile time.
var _ API = (*SQLiteStore)(nil)
