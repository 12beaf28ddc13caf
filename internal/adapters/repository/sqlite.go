// Package repository defines the marker store and event log contracts.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	geo "github.com/okian/beacon/internal/domain/geo"
	marker "github.com/okian/beacon/internal/domain/marker"
	"github.com/okian/beacon/pkg/metrics"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// SQLite-backed Store and EventLog implementation.
//
// Markers and their events live in two tables written inside one
// transaction per vote, so a marker change is never persisted without its
// audit record. Proximity queries narrow the scan with an indexed
// latitude/longitude window; the decision criterion stays the exact
// great-circle distance computed in Go.

//go:embed migrations/*.sql
var migrationsFS embed.FS

const selectMarkerColumns = `id, latitude, longitude, status, created_at, last_action_at,
	confirmation_count, red_press_count, green_press_count`

// SQLiteStore implements Store and EventLog on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens a SQLite marker store at path and applies the embedded
// migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrationsFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// All returns a snapshot of every marker ordered by id.
func (s *SQLiteStore) All(ctx context.Context) ([]marker.Marker, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("all", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	rows, err := s.db.QueryContext(ctx, `SELECT `+selectMarkerColumns+` FROM markers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	defer rows.Close()
	return scanMarkers(rows)
}

// Get returns a single marker by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (marker.Marker, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("get", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	row := s.db.QueryRowContext(ctx, `SELECT `+selectMarkerColumns+` FROM markers WHERE id = ?`, id)
	m, err := scanMarker(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metrics.RecordErrorByComponent("repository", "not_found")
			return marker.Marker{}, ErrNotFound
		}
		return marker.Marker{}, fmt.Errorf("get marker %s: %w", id, err)
	}
	return m, nil
}

// FindWithinRadius returns markers within radiusMeters of the point,
// matched by exact great-circle distance (inclusive bound).
func (s *SQLiteStore) FindWithinRadius(ctx context.Context, lat, lon, radiusMeters float64, statuses ...marker.Status) ([]marker.Marker, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("find", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	if radiusMeters <= 0 {
		metrics.RecordErrorByComponent("repository", "invalid_radius")
		return nil, ErrInvalidRadius
	}

	minLat, maxLat, minLon, maxLon := geo.BoundingBox(lat, lon, radiusMeters)
	query := `SELECT ` + selectMarkerColumns + ` FROM markers
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`
	args := []any{minLat, maxLat, minLon, maxLon}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find markers: %w", err)
	}
	defer rows.Close()

	candidates, err := scanMarkers(rows)
	if err != nil {
		return nil, err
	}

	out := candidates[:0]
	for _, m := range candidates {
		if geo.Distance(lat, lon, m.Latitude, m.Longitude) <= radiusMeters {
			out = append(out, m)
		}
	}
	return out, nil
}

// Create inserts a new marker and appends its creating event in one
// transaction.
func (s *SQLiteStore) Create(ctx context.Context, lat, lon float64, status marker.Status, event marker.VoteEvent) (marker.Marker, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("create", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	if !status.Valid() || !event.Color.Valid() {
		metrics.RecordErrorByComponent("repository", "invalid_marker")
		return marker.Marker{}, fmt.Errorf("create marker: %w", ErrInvalidMarker)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
		event.Timestamp = ts
	}

	m := marker.Marker{
		ID:           uuid.NewString(),
		Latitude:     lat,
		Longitude:    lon,
		Status:       status,
		CreatedAt:    ts,
		LastActionAt: ts,
	}
	if event.Color == marker.ColorRed {
		m.RedPressCount = 1
	} else {
		m.GreenPressCount = 1
	}
	event.MarkerID = m.ID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return marker.Marker{}, fmt.Errorf("begin create tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO markers (
		   id, latitude, longitude, status, created_at, last_action_at,
		   confirmation_count, red_press_count, green_press_count
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Latitude, m.Longitude, string(m.Status),
		toMillis(m.CreatedAt), toMillis(m.LastActionAt),
		m.ConfirmationCount, m.RedPressCount, m.GreenPressCount,
	)
	if err != nil {
		return marker.Marker{}, fmt.Errorf("insert marker: %w", err)
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return marker.Marker{}, err
	}
	if err := tx.Commit(); err != nil {
		return marker.Marker{}, fmt.Errorf("commit create tx: %w", err)
	}
	metrics.IncrementEventLogAppends()
	return m, nil
}

// Update applies a mutation to an existing marker and appends the event in
// one transaction.
func (s *SQLiteStore) Update(ctx context.Context, id string, mut marker.Mutation, event marker.VoteEvent) (marker.Marker, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("update", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	if mut.Status != nil && !mut.Status.Valid() {
		metrics.RecordErrorByComponent("repository", "invalid_marker")
		return marker.Marker{}, fmt.Errorf("update marker %s: %w", id, ErrInvalidMarker)
	}

	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if mut.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*mut.Status))
	}
	if mut.ConfirmationCount != nil {
		sets = append(sets, "confirmation_count = ?")
		args = append(args, *mut.ConfirmationCount)
	}
	if mut.LastActionAt != nil {
		sets = append(sets, "last_action_at = ?")
		args = append(args, toMillis(*mut.LastActionAt))
	}
	if mut.IncrementRed {
		sets = append(sets, "red_press_count = red_press_count + 1")
	}
	if mut.IncrementGreen {
		sets = append(sets, "green_press_count = green_press_count + 1")
	}
	if len(sets) == 0 {
		return s.Get(ctx, id)
	}
	args = append(args, id)

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return marker.Marker{}, fmt.Errorf("begin update tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `UPDATE markers SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return marker.Marker{}, fmt.Errorf("update marker %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return marker.Marker{}, fmt.Errorf("update marker %s: %w", id, err)
	}
	if affected == 0 {
		metrics.RecordErrorByComponent("repository", "not_found")
		return marker.Marker{}, ErrNotFound
	}

	row := tx.QueryRowContext(ctx, `SELECT `+selectMarkerColumns+` FROM markers WHERE id = ?`, id)
	m, err := scanMarker(row)
	if err != nil {
		return marker.Marker{}, fmt.Errorf("reload marker %s: %w", id, err)
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return marker.Marker{}, err
	}
	if err := tx.Commit(); err != nil {
		return marker.Marker{}, fmt.Errorf("commit update tx: %w", err)
	}
	metrics.IncrementEventLogAppends()
	return m, nil
}

// Remove deletes a marker permanently and appends the event in one
// transaction. The marker's event history stays readable.
func (s *SQLiteStore) Remove(ctx context.Context, id string, event marker.VoteEvent) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("remove", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM markers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove marker %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove marker %s: %w", id, err)
	}
	if affected == 0 {
		metrics.RecordErrorByComponent("repository", "not_found")
		return ErrNotFound
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove tx: %w", err)
	}
	metrics.IncrementEventLogAppends()
	return nil
}

// Count returns the number of markers currently stored.
func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM markers`)
	if err := row.Scan(&n); err != nil {
		return 0
	}
	return n
}

// Append records one event without a coupled marker write.
func (s *SQLiteStore) Append(ctx context.Context, event marker.VoteEvent) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("append", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	if event.MarkerID == "" {
		metrics.RecordErrorByComponent("repository", "invalid_marker")
		return fmt.Errorf("append event: %w", ErrInvalidMarker)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vote_events (
		   marker_id, reporter_id, color, prior_status, resulting_status,
		   distance_meters, ts
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.MarkerID, event.ReporterID, string(event.Color),
		string(event.PriorStatus), string(event.ResultingStatus),
		event.DistanceMeters, toMillis(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	metrics.IncrementEventLogAppends()
	return nil
}

// HistoryFor returns the events recorded against a marker in append order.
func (s *SQLiteStore) HistoryFor(ctx context.Context, markerID string) ([]marker.VoteEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("history", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	rows, err := s.db.QueryContext(ctx,
		`SELECT marker_id, reporter_id, color, prior_status, resulting_status,
		   distance_meters, ts
		 FROM vote_events WHERE marker_id = ? ORDER BY seq`, markerID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", markerID, err)
	}
	defer rows.Close()

	out := make([]marker.VoteEvent, 0, 16)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", markerID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history for %s: %w", markerID, err)
	}
	return out, nil
}

// LatestFor returns the most recent event recorded against a marker.
func (s *SQLiteStore) LatestFor(ctx context.Context, markerID string) (marker.VoteEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("latest", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	row := s.db.QueryRowContext(ctx,
		`SELECT marker_id, reporter_id, color, prior_status, resulting_status,
		   distance_meters, ts
		 FROM vote_events WHERE marker_id = ? ORDER BY seq DESC LIMIT 1`, markerID)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return marker.VoteEvent{}, ErrNoEvents
		}
		return marker.VoteEvent{}, fmt.Errorf("latest event for %s: %w", markerID, err)
	}
	return ev, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event marker.VoteEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO vote_events (
		   marker_id, reporter_id, color, prior_status, resulting_status,
		   distance_meters, ts
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.MarkerID, event.ReporterID, string(event.Color),
		string(event.PriorStatus), string(event.ResultingStatus),
		event.DistanceMeters, toMillis(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarker(row rowScanner) (marker.Marker, error) {
	var (
		m          marker.Marker
		status     string
		createdAt  int64
		lastAction int64
	)
	err := row.Scan(&m.ID, &m.Latitude, &m.Longitude, &status, &createdAt,
		&lastAction, &m.ConfirmationCount, &m.RedPressCount, &m.GreenPressCount)
	if err != nil {
		return marker.Marker{}, err
	}
	m.Status = marker.Status(status)
	m.CreatedAt = fromMillis(createdAt)
	m.LastActionAt = fromMillis(lastAction)
	return m, nil
}

func scanMarkers(rows *sql.Rows) ([]marker.Marker, error) {
	out := make([]marker.Marker, 0, 32)
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan markers: %w", err)
	}
	return out, nil
}

func scanEvent(row rowScanner) (marker.VoteEvent, error) {
	var (
		ev        marker.VoteEvent
		color     string
		prior     string
		resulting string
		ts        int64
	)
	err := row.Scan(&ev.MarkerID, &ev.ReporterID, &color, &prior, &resulting,
		&ev.DistanceMeters, &ts)
	if err != nil {
		return marker.VoteEvent{}, err
	}
	ev.Color = marker.Color(color)
	ev.PriorStatus = marker.Status(prior)
	ev.ResultingStatus = marker.Status(resulting)
	ev.Timestamp = fromMillis(ts)
	return ev, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
