package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	// The pure-Go SQLite driver registers itself as "sqlite".
	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

const schemaAlarmEvents = `
CREATE TABLE IF NOT EXISTS alarm_events (
    id TEXT PRIMARY KEY,
    client_id TEXT NOT NULL,
    type TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    sensor_id TEXT,
    payload TEXT,
    inferred BOOLEAN NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);
`

const schemaAlarmEventsIndex = `
CREATE INDEX IF NOT EXISTS idx_alarm_events_client_time
    ON alarm_events (client_id, occurred_at);
`

// OpenDB opens or creates the SQLite journal file and ensures the schema.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// SQLite tolerates a single writer best.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("apply %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	for _, statement := range []string{schemaAlarmEvents, schemaAlarmEventsIndex} {
		if _, err = db.Exec(statement); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	if err = db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

// SQLite persists journal entries in a SQLite database.
type SQLite struct {
	// db is the underlying connection pool.
	db *sql.DB
}

// NewSQLite wraps an open database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Append inserts one entry, generating its ID when empty.
func (r *SQLite) Append(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alarm_events (id, client_id, type, sequence, sensor_id, payload, inferred, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.ClientID,
		entry.Type,
		entry.Sequence,
		entry.SensorID,
		entry.Payload,
		entry.Inferred,
		entry.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}

	return nil
}

// List returns entries matching the filter in ascending time order.
func (r *SQLite) List(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		conditions []string
		args       []any
	)

	if !filter.From.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.From.UTC())
	}

	if !filter.To.IsZero() {
		conditions = append(conditions, "occurred_at <= ?")
		args = append(args, filter.To.UTC())
	}

	if filter.ClientID != "" {
		conditions = append(conditions, "client_id = ?")
		args = append(args, filter.ClientID)
	}

	if eventType := strings.ToUpper(strings.TrimSpace(filter.Type)); eventType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, eventType)
	}

	query := "SELECT id, client_id, type, sequence, sensor_id, payload, inferred, occurred_at FROM alarm_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY occurred_at ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, 64)

	for rows.Next() {
		var (
			entry    Entry
			sensorID sql.NullString
			payload  sql.NullString
		)

		if err = rows.Scan(
			&entry.ID,
			&entry.ClientID,
			&entry.Type,
			&entry.Sequence,
			&sensorID,
			&payload,
			&entry.Inferred,
			&entry.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}

		entry.SensorID = sensorID.String
		entry.Payload = payload.String
		entry.OccurredAt = entry.OccurredAt.UTC()
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}

	return entries, nil
}
