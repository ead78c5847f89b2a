// Package store persists measurement readings and patient profiles in a
// local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a reading or patient does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed-width (always nine fractional digits) so the
// lexicographic ORDER BY on the text column matches chronological order.
// RFC3339Nano would drop trailing zeros and break that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ValidKinds are the measurement kinds the store accepts.
var ValidKinds = []string{"bp", "ecg", "spo2", "glucose"}

// IsValidKind reports whether kind names a supported measurement type.
func IsValidKind(kind string) bool {
	for _, k := range ValidKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Reading is a single stored measurement.
type Reading struct {
	ID        int64           `json:"id"`
	DeviceID  string          `json:"device_id"`
	PatientID string          `json:"patient_id,omitempty"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	TakenAt   time.Time       `json:"taken_at"`
}

// Patient is a stored patient profile.
type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilter narrows ListReadings results. Zero values mean no filter.
type ListFilter struct {
	Kind      string
	DeviceID  string
	PatientID string
	Limit     int
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs the schema
// migration.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open readings db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate readings db: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS patients (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS readings (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id  TEXT NOT NULL,
			patient_id TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL,
			payload    TEXT NOT NULL,
			taken_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_readings_kind ON readings(kind, taken_at);
		CREATE INDEX IF NOT EXISTS idx_readings_device ON readings(device_id, taken_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveReading inserts r and fills in its assigned ID. A zero TakenAt is
// replaced with the current time.
func (s *Store) SaveReading(_ context.Context, r *Reading) error {
	if !IsValidKind(r.Kind) {
		return fmt.Errorf("invalid reading kind %q", r.Kind)
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("reading payload cannot be empty")
	}
	if r.TakenAt.IsZero() {
		r.TakenAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		"INSERT INTO readings (device_id, patient_id, kind, payload, taken_at) VALUES (?, ?, ?, ?, ?)",
		r.DeviceID, r.PatientID, r.Kind, string(r.Payload),
		r.TakenAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

// GetReading fetches one reading by id.
func (s *Store) GetReading(_ context.Context, id int64) (*Reading, error) {
	row := s.db.QueryRow(
		"SELECT id, device_id, patient_id, kind, payload, taken_at FROM readings WHERE id = ?", id,
	)
	return scanReading(row)
}

// ListReadings returns readings matching the filter, newest first.
func (s *Store) ListReadings(_ context.Context, f ListFilter) ([]*Reading, error) {
	query := "SELECT id, device_id, patient_id, kind, payload, taken_at FROM readings WHERE 1=1"
	var args []any
	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, f.DeviceID)
	}
	if f.PatientID != "" {
		query += " AND patient_id = ?"
		args = append(args, f.PatientID)
	}
	query += " ORDER BY taken_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []*Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// DeleteReading removes one reading by id.
func (s *Store) DeleteReading(_ context.Context, id int64) error {
	res, err := s.db.Exec("DELETE FROM readings WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePatient inserts a patient profile.
func (s *Store) CreatePatient(_ context.Context, p *Patient) error {
	if p.ID == "" {
		return fmt.Errorf("patient id cannot be empty")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		"INSERT INTO patients (id, name, created_at) VALUES (?, ?, ?)",
		p.ID, p.Name, p.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

// GetPatient fetches one patient by id.
func (s *Store) GetPatient(_ context.Context, id string) (*Patient, error) {
	row := s.db.QueryRow("SELECT id, name, created_at FROM patients WHERE id = ?", id)

	var p Patient
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse patient created_at: %w", err)
	}
	p.CreatedAt = t
	return &p, nil
}

// ListPatients returns all patients, oldest first.
func (s *Store) ListPatients(_ context.Context) ([]*Patient, error) {
	rows, err := s.db.Query("SELECT id, name, created_at FROM patients ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		var p Patient
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse patient created_at: %w", err)
		}
		p.CreatedAt = t
		patients = append(patients, &p)
	}
	return patients, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*Reading, error) {
	var r Reading
	var payload, takenAt string
	err := row.Scan(&r.ID, &r.DeviceID, &r.PatientID, &r.Kind, &payload, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Payload = json.RawMessage(payload)
	t, err := time.Parse(time.RFC3339Nano, takenAt)
	if err != nil {
		return nil, fmt.Errorf("parse reading taken_at: %w", err)
	}
	r.TakenAt = t
	return &r, nil
}
