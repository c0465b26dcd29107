package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/workforce/internal/bus"
)

const maxReplayEvents = 1000

// JournalEvent is one recorded broadcast.
type JournalEvent struct {
	EventID   int64           `json:"eventId"`
	TaskID    string          `json:"taskId"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Journal records every task broadcast in sqlite so reconnecting clients
// can replay what they missed.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenJournal opens (creating if needed) the journal database at path.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, logger: logger}
	if err := j.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := j.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, q := range pragma {
		if _, err := j.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journal_events (
			event_id     INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id      TEXT NOT NULL DEFAULT '',
			topic        TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_at   DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_task ON journal_events(task_id, event_id);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_created ON journal_events(created_at);`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init journal schema: %w", err)
		}
	}
	return tx.Commit()
}

// Append records one broadcast and returns its event id.
func (j *Journal) Append(ctx context.Context, taskID, topic string, payload any, at time.Time) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode journal payload: %w", err)
	}
	var id int64
	err = retryOnBusy(ctx, 5, func() error {
		res, err := j.db.ExecContext(ctx, `
			INSERT INTO journal_events (task_id, topic, payload_json, created_at)
			VALUES (?, ?, ?, ?);
		`, taskID, topic, string(data), at.UTC())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("append journal event: %w", err)
	}
	return id, nil
}

// ListFrom returns events for taskID with an id greater than afterID in
// ascending order.
func (j *Journal) ListFrom(ctx context.Context, taskID string, afterID int64, limit int) ([]JournalEvent, error) {
	if limit <= 0 || limit > maxReplayEvents {
		limit = maxReplayEvents
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, task_id, topic, payload_json, created_at
		FROM journal_events
		WHERE task_id = ? AND event_id > ?
		ORDER BY event_id ASC
		LIMIT ?;
	`, taskID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list journal events: %w", err)
	}
	defer rows.Close()

	var out []JournalEvent
	for rows.Next() {
		var (
			ev      JournalEvent
			payload string
		)
		if err := rows.Scan(&ev.EventID, &ev.TaskID, &ev.Topic, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal event rows: %w", err)
	}
	return out, nil
}

// Count returns the number of recorded events.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM journal_events;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("journal event count: %w", err)
	}
	return count, nil
}

// Prune deletes events recorded before cutoff. It is idempotent.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM journal_events WHERE created_at < ?;`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge journal_events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Consume records events from sub until ctx is done or the subscription
// closes. Payloads that are not task scoped are skipped.
func (j *Journal) Consume(ctx context.Context, sub *bus.Subscription, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			scoped, ok := ev.Payload.(bus.TaskScoped)
			if !ok || scoped.TaskRef() == "" {
				continue
			}
			if _, err := j.Append(ctx, scoped.TaskRef(), ev.Topic, ev.Payload, now()); err != nil {
				j.logger.Warn("journal append failed", "topic", ev.Topic, "task_id", scoped.TaskRef(), "error", err)
			}
		}
	}
}
