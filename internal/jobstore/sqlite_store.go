// Package jobstore persists coverage job state and results using SQLite.
package jobstore

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/hexatlas/hexgrid/internal/spatial"
)

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// JobStatus represents the current state of a coverage job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobParams describes the requested coverage.
type JobParams struct {
	North      float64  `json:"north"`
	West       float64  `json:"west"`
	South      float64  `json:"south"`
	East       float64  `json:"east"`
	Resolution int      `json:"resolution"`
	Zoom       *float64 `json:"zoom,omitempty"`
}

// Job is one coverage job.
type Job struct {
	ID         string     `json:"job_id"`
	Status     JobStatus  `json:"status"`
	Params     JobParams  `json:"params"`
	CellCount  int        `json:"cell_count"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Store provides persistent storage for coverage jobs.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore opens (and creates if needed) the job database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{db: db, enc: enc, dec: dec}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS coverage_jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		cell_count INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_coverage_jobs_status ON coverage_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_coverage_jobs_finished ON coverage_jobs(finished_at);

	CREATE TABLE IF NOT EXISTS coverage_results (
		job_id TEXT PRIMARY KEY,
		cells BLOB NOT NULL,
		FOREIGN KEY (job_id) REFERENCES coverage_jobs(job_id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob inserts a new job record.
func (s *Store) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO coverage_jobs (job_id, status, params_json, cell_count, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		string(job.Status),
		string(paramsJSON),
		job.CellCount,
		job.Error,
		job.CreatedAt.Format(time.RFC3339),
		nil,
		nil,
	)
	return err
}

const jobColumns = `job_id, status, params_json, cell_count, error, created_at, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var paramsJSON, createdAtStr string
	var startedAtStr, finishedAtStr sql.NullString

	if err := row.Scan(
		&job.ID,
		&job.Status,
		&paramsJSON,
		&job.CellCount,
		&job.Error,
		&createdAtStr,
		&startedAtStr,
		&finishedAtStr,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}

	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, startedAtStr.String)
		job.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
		job.FinishedAt = &t
	}
	return &job, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(jobID string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM coverage_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return job, err
}

// ListJobs returns the most recent jobs first.
func (s *Store) ListJobs(limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM coverage_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListQueuedJobs returns all queued jobs, oldest first.
func (s *Store) ListQueuedJobs() ([]*Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM coverage_jobs WHERE status = ? ORDER BY created_at ASC`,
		string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJobStarted marks a job as running with start time.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE coverage_jobs SET status = ?, started_at = ? WHERE job_id = ?`,
		string(JobStatusRunning), time.Now().Format(time.RFC3339), jobID)
	return err
}

// UpdateJobStatus sets the status and error message, stamping finished_at for terminal states.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Finished() {
		t := time.Now().Format(time.RFC3339)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE coverage_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// SaveResult stores the compressed cell list and marks the job completed.
func (s *Store) SaveResult(jobID string, cells []spatial.CellID) error {
	blob := s.enc.EncodeAll(encodeCells(cells), nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO coverage_results (job_id, cells) VALUES (?, ?)`, jobID, blob); err != nil {
		return fmt.Errorf("failed to store cells: %w", err)
	}
	res, err := tx.Exec(`
		UPDATE coverage_jobs SET status = ?, cell_count = ?, error = '', finished_at = ?
		WHERE job_id = ?
	`, string(JobStatusCompleted), len(cells), time.Now().Format(time.RFC3339), jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return tx.Commit()
}

// Result returns the cells of a completed job.
func (s *Store) Result(jobID string) ([]spatial.CellID, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT cells FROM coverage_results WHERE job_id = ?`, jobID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no result for %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}

	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress cells: %w", err)
	}
	return decodeCells(raw)
}

// MarkUnfinishedAsFailed fails every queued or running job. Jobs do not
// survive a restart because their computation lived in memory.
func (s *Store) MarkUnfinishedAsFailed(errMsg string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE coverage_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status IN (?, ?)
	`, string(JobStatusFailed), errMsg, time.Now().Format(time.RFC3339),
		string(JobStatusQueued), string(JobStatusRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredJobs deletes jobs that finished more than retention ago.
func (s *Store) DeleteExpiredJobs(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention).Format(time.RFC3339)

	_, err := s.db.Exec(`
		DELETE FROM coverage_results WHERE job_id IN (
			SELECT job_id FROM coverage_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`DELETE FROM coverage_jobs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteJob deletes a job and its result.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM coverage_results WHERE job_id = ?", jobID); err != nil {
		return err
	}
	res, err := s.db.Exec("DELETE FROM coverage_jobs WHERE job_id = ?", jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}

func encodeCells(cells []spatial.CellID) []byte {
	buf := make([]byte, 8*len(cells))
	for i, c := range cells {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(c))
	}
	return buf
}

func decodeCells(buf []byte) ([]spatial.CellID, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("corrupt cell blob: %d bytes", len(buf))
	}
	cells := make([]spatial.CellID, len(buf)/8)
	for i := range cells {
		cells[i] = spatial.CellID(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return cells, nil
}
