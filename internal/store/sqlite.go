package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/shared"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	feed  *feed
	appMu sync.Mutex // serializes event appends so report days are created once
	now   func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, feed: newFeed(), now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// SetClock replaces the clock used for receive times. Call it before first use.
func (s *SQLiteStore) SetClock(c clock.Clock) {
	s.now = c.Now
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chairs (
		chair_id TEXT PRIMARY KEY,
		sensor_json TEXT,
		sensor_at INTEGER,
		state TEXT NOT NULL DEFAULT 'unknown',
		current_timer_minutes REAL NOT NULL DEFAULT 0,
		previous_session_minutes REAL NOT NULL DEFAULT 0,
		total_minutes_today REAL NOT NULL DEFAULT 0,
		position_changes INTEGER NOT NULL DEFAULT 0,
		hydration_alert INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chairs_sensor_at ON chairs(sensor_at) WHERE sensor_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS report_days (
		chair_id TEXT NOT NULL,
		date_key TEXT NOT NULL,
		total_minutes REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (chair_id, date_key)
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_key TEXT NOT NULL UNIQUE,
		chair_id TEXT NOT NULL,
		date_key TEXT NOT NULL,
		type TEXT NOT NULL,
		ts INTEGER NOT NULL,
		payload_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_day ON events(chair_id, date_key, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Subscribe registers fn for changes of topic on the chair.
func (s *SQLiteStore) Subscribe(chairID string, topic Topic, fn func(Change)) func() {
	return s.feed.subscribe(chairID, topic, fn)
}

// SubscriberCount returns the number of live subscriptions for the chair.
func (s *SQLiteStore) SubscriberCount(chairID string) int {
	return s.feed.count(chairID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureChair(ctx context.Context, db execer, chairID string, now int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chairs (chair_id, created_at, updated_at) VALUES (?, ?, ?)`,
		chairID, now, now)
	if err != nil {
		return fmt.Errorf("ensure chair: %w", err)
	}
	return nil
}

// GetChair retrieves the chair record.
func (s *SQLiteStore) GetChair(ctx context.Context, chairID string) (*domain.ChairRecord, error) {
	query := `
		SELECT chair_id, sensor_json, state, current_timer_minutes, previous_session_minutes,
		       total_minutes_today, position_changes, hydration_alert, updated_at
		FROM chairs WHERE chair_id = ?`

	var rec domain.ChairRecord
	var sensorJSON sql.NullString
	var state string
	var hydration int
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, query, chairID).Scan(
		&rec.ChairID, &sensorJSON, &state, &rec.CurrentTimerMinutes, &rec.PreviousSessionMinutes,
		&rec.TotalMinutesToday, &rec.PositionChanges, &hydration, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chair row: %w", err)
	}

	rec.State = domain.ChairState(state)
	rec.HydrationAlert = hydration != 0
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	if sensorJSON.Valid {
		reading, err := domain.DecodeReading([]byte(sensorJSON.String))
		if err != nil {
			slog.Warn("Stored sensor snapshot is unreadable", "chair_id", chairID, "error", err)
		} else {
			rec.Sensor = &reading
		}
	}
	return &rec, nil
}

// ListChairs returns the ids of all known chairs.
func (s *SQLiteStore) ListChairs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT chair_id FROM chairs ORDER BY chair_id`)
}

// ListIdleChairs returns chairs whose last reading is older than ttl.
func (s *SQLiteStore) ListIdleChairs(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := s.now().Add(-ttl).UnixMilli()
	return s.queryIDs(ctx,
		`SELECT chair_id FROM chairs WHERE sensor_at IS NOT NULL AND sensor_at < ? ORDER BY chair_id`,
		threshold)
}

func (s *SQLiteStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chairs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chair rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chair id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chairs: %w", err)
	}
	return ids, nil
}

// PutSensor overwrites the latest sensor snapshot. sensor_at is the receive time.
func (s *SQLiteStore) PutSensor(ctx context.Context, chairID string, reading domain.Reading) error {
	received := s.now()
	if reading.Timestamp.IsZero() {
		reading.Timestamp = received
	}
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	err = shared.RetryOnConflict(ctx, "put sensor", writeRetries, writeBaseDelay, func() error {
		now := received.UnixMilli()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO chairs (chair_id, sensor_json, sensor_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(chair_id) DO UPDATE SET
				sensor_json = excluded.sensor_json,
				sensor_at = excluded.sensor_at,
				updated_at = excluded.updated_at`,
			chairID, string(data), now, now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("put sensor: %w", err)
	}

	s.feed.publish(Change{ChairID: chairID, Topic: TopicSensor, Reading: &reading})
	return nil
}

// UpdateChair merges the non-nil fields of upd into the chair record.
func (s *SQLiteStore) UpdateChair(ctx context.Context, chairID string, upd domain.ChairUpdate) error {
	if upd.Empty() {
		return nil
	}

	var hydration any
	if upd.HydrationAlert != nil {
		if *upd.HydrationAlert {
			hydration = 1
		} else {
			hydration = 0
		}
	}

	err := shared.RetryOnConflict(ctx, "update chair", writeRetries, writeBaseDelay, func() error {
		now := time.Now().UnixMilli()
		if err := ensureChair(ctx, s.db, chairID, now); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE chairs SET
				current_timer_minutes = COALESCE(?, current_timer_minutes),
				previous_session_minutes = COALESCE(?, previous_session_minutes),
				total_minutes_today = COALESCE(?, total_minutes_today),
				position_changes = COALESCE(?, position_changes),
				hydration_alert = COALESCE(?, hydration_alert),
				updated_at = ?
			WHERE chair_id = ?`,
			nullable(upd.CurrentTimerMinutes), nullable(upd.PreviousSessionMinutes),
			nullable(upd.TotalMinutesToday), nullable(upd.PositionChanges),
			hydration, now, chairID)
		return err
	})
	if err != nil {
		return fmt.Errorf("update chair: %w", err)
	}
	return nil
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

// SetState overwrites the persisted chair state.
func (s *SQLiteStore) SetState(ctx context.Context, chairID string, state domain.ChairState) error {
	if !state.Valid() {
		return fmt.Errorf("set state: unknown state %q", state)
	}
	err := shared.RetryOnConflict(ctx, "set state", writeRetries, writeBaseDelay, func() error {
		now := time.Now().UnixMilli()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO chairs (chair_id, state, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(chair_id) DO UPDATE SET
				state = excluded.state,
				updated_at = excluded.updated_at`,
			chairID, string(state), now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}

	s.feed.publish(Change{ChairID: chairID, Topic: TopicState, State: state})
	return nil
}

// GetState returns the persisted chair state.
func (s *SQLiteStore) GetState(ctx context.Context, chairID string) (domain.ChairState, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM chairs WHERE chair_id = ?`, chairID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StateUnknown, nil
	}
	if err != nil {
		return domain.StateUnknown, fmt.Errorf("get state: %w", err)
	}
	return domain.ChairState(state), nil
}

// AppendEvent appends ev to the ordered log of dateKey.
func (s *SQLiteStore) AppendEvent(ctx context.Context, chairID, dateKey string, ev domain.Event) (string, error) {
	if !ValidDateKey(dateKey) {
		return "", fmt.Errorf("append event: %w: %q", ErrInvalidDateKey, dateKey)
	}

	var payload any
	if len(ev.Payload) > 0 {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return "", fmt.Errorf("encode event payload: %w", err)
		}
		payload = string(data)
	}
	minutes, isSession := ev.DurationMinutes()
	isSession = isSession && ev.Type == domain.EventSittingSession && minutes > 0

	s.appMu.Lock()
	defer s.appMu.Unlock()

	key, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate event key: %w", err)
	}

	err = shared.RetryOnConflict(ctx, "append event", writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback()
		}()

		now := time.Now().UnixMilli()
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO report_days (chair_id, date_key, total_minutes, created_at) VALUES (?, ?, 0, ?)`,
			chairID, dateKey, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (event_key, chair_id, date_key, type, ts, payload_json) VALUES (?, ?, ?, ?, ?, ?)`,
			key.String(), chairID, dateKey, string(ev.Type), ev.Timestamp.UnixMilli(), payload); err != nil {
			return err
		}
		if isSession {
			if _, err := tx.ExecContext(ctx,
				`UPDATE report_days SET total_minutes = total_minutes + ? WHERE chair_id = ? AND date_key = ?`,
				minutes, chairID, dateKey); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	return key.String(), nil
}

// GetSummary returns the day summary.
func (s *SQLiteStore) GetSummary(ctx context.Context, chairID, dateKey string) (*domain.DaySummary, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT total_minutes FROM report_days WHERE chair_id = ? AND date_key = ?`,
		chairID, dateKey).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return &domain.DaySummary{Date: dateKey, TotalMinutes: total}, nil
}

// GetReport returns the summary and ordered events of a day.
func (s *SQLiteStore) GetReport(ctx context.Context, chairID, dateKey string) (*domain.ReportDay, error) {
	summary, err := s.GetSummary(ctx, chairID, dateKey)
	if err != nil || summary == nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_key, type, ts, payload_json
		FROM events WHERE chair_id = ? AND date_key = ?
		ORDER BY seq`, chairID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	report := &domain.ReportDay{DateKey: dateKey, Summary: *summary, Events: []domain.Event{}}
	for rows.Next() {
		var ev domain.Event
		var typ string
		var ts int64
		var payload sql.NullString
		if err := rows.Scan(&ev.Key, &typ, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.Timestamp = time.UnixMilli(ts)
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		report.Events = append(report.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return report, nil
}

// ListReports lists report days, newest first.
func (s *SQLiteStore) ListReports(ctx context.Context, chairID string) ([]domain.ReportIndex, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.date_key, d.total_minutes, COUNT(e.seq)
		FROM report_days d
		LEFT JOIN events e ON e.chair_id = d.chair_id AND e.date_key = d.date_key
		WHERE d.chair_id = ?
		GROUP BY d.date_key, d.total_minutes
		ORDER BY d.date_key DESC`, chairID)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close report rows", "error", closeErr)
		}
	}()

	out := []domain.ReportIndex{}
	for rows.Next() {
		var idx domain.ReportIndex
		if err := rows.Scan(&idx.DateKey, &idx.TotalMinutes, &idx.EventCount); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		out = append(out, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

// PruneReports deletes report days older than before.
func (s *SQLiteStore) PruneReports(ctx context.Context, before string) (int64, error) {
	if !ValidDateKey(before) {
		return 0, fmt.Errorf("prune reports: %w: %q", ErrInvalidDateKey, before)
	}

	s.appMu.Lock()
	defer s.appMu.Unlock()

	var deleted int64
	err := shared.RetryOnConflict(ctx, "prune reports", writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE date_key < ?`, before); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM report_days WHERE date_key < ?`, before)
		if err != nil {
			return err
		}
		if deleted, err = result.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	return deleted, nil
}
