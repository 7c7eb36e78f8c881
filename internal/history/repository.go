package history

import (
	"database/sql"
	"fmt"
	"time"
)

// Record is one journaled invocation.
type Record struct {
	ID           int64
	InvokedAt    time.Time
	Kind         string
	Name         string
	RequestJSON  string
	ResponseJSON string
	Duration     time.Duration
	IsError      bool
	Error        string
}

// ToolStats aggregates the journal per tool or resource name.
type ToolStats struct {
	Name   string
	Calls  int
	Errors int
}

const recordColumns = `id, invoked_at, kind, name, request_json, response_json, duration_ms, is_error, error`

// Repository persists invocation records.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanRecord(scanner interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	var durationMs float64
	err := scanner.Scan(
		&rec.ID, &rec.InvokedAt, &rec.Kind, &rec.Name,
		&rec.RequestJSON, &rec.ResponseJSON, &durationMs,
		&rec.IsError, &rec.Error,
	)
	rec.Duration = time.Duration(durationMs * float64(time.Millisecond))
	return rec, err
}

// Insert journals one record and returns its row ID.
func (r *Repository) Insert(rec Record) (int64, error) {
	result, err := r.db.Exec(
		`INSERT INTO invocations (invoked_at, kind, name, request_json, response_json, duration_ms, is_error, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.InvokedAt, rec.Kind, rec.Name, rec.RequestJSON, rec.ResponseJSON,
		float64(rec.Duration)/float64(time.Millisecond), rec.IsError, rec.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting invocation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}
	return id, nil
}

// Recent returns the newest records, newest first.
func (r *Repository) Recent(limit int) ([]Record, error) {
	rows, err := r.db.Query(
		`SELECT `+recordColumns+` FROM invocations ORDER BY invoked_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// ByName returns the newest records for one tool or resource, newest first.
func (r *Repository) ByName(name string, limit int) ([]Record, error) {
	rows, err := r.db.Query(
		`SELECT `+recordColumns+` FROM invocations WHERE name = ? ORDER BY invoked_at DESC, id DESC LIMIT ?`,
		name, limit)
	if err != nil {
		return nil, fmt.Errorf("querying invocations by name: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Stats aggregates call and error counts per name, busiest first.
func (r *Repository) Stats() ([]ToolStats, error) {
	rows, err := r.db.Query(
		`SELECT name, COUNT(*), SUM(is_error) FROM invocations GROUP BY name ORDER BY COUNT(*) DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("querying invocation stats: %w", err)
	}
	defer rows.Close()

	var out []ToolStats
	for rows.Next() {
		var s ToolStats
		if err := rows.Scan(&s.Name, &s.Calls, &s.Errors); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneBefore deletes records older than cutoff, returning how many went.
func (r *Repository) PruneBefore(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM invocations WHERE invoked_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning invocations: %w", err)
	}
	return result.RowsAffected()
}

func collect(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invocation row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
