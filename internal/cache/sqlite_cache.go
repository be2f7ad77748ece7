package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/consultly/mobile-core/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteCache is the on-device file-backed cache (modernc.org/sqlite,
// pure Go, no CGO). One row per message, keyed (session_id, id).
type SQLiteCache struct {
	db *sql.DB

	hits   atomic.Int64
	misses atomic.Int64
}

// NewSQLiteCache opens (or creates) the cache database at path.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access through Go's pool and avoids
	// "database is locked" errors from the debounced sweep racing an
	// explicit persist.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		id         TEXT NOT NULL,
		sender_id  TEXT NOT NULL,
		content    TEXT NOT NULL,
		timestamp  INTEGER NOT NULL,
		status     TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, id)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Close() error { return c.db.Close() }

func (c *SQLiteCache) LoadMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, sender_id, content, timestamp, status
		 FROM messages WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var ts int64
		var status string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Content, &ts, &status); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		m.Status = models.MessageStatus(status)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	return msgs, nil
}

func (c *SQLiteCache) SaveMessages(ctx context.Context, sessionID string, msgs []models.Message) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := insertMessage(ctx, tx, sessionID, m, false); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *SQLiteCache) AddMessage(ctx context.Context, sessionID string, msg models.Message) ([]models.Message, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := insertMessage(ctx, tx, sessionID, msg, true); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c.LoadMessages(ctx, sessionID)
}

func (c *SQLiteCache) MergeMessages(ctx context.Context, sessionID string, incoming []models.Message) ([]models.Message, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for _, m := range incoming {
		if err := insertMessage(ctx, tx, sessionID, m, true); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c.LoadMessages(ctx, sessionID)
}

func (c *SQLiteCache) ClearMessages(ctx context.Context, sessionID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

func (c *SQLiteCache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	row := c.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT session_id), COUNT(*) FROM messages`)
	if err := row.Scan(&st.Sessions, &st.Messages); err != nil {
		return st, err
	}
	return st, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, tx execer, sessionID string, m models.Message, ignoreExisting bool) error {
	verb := "INSERT OR REPLACE"
	if ignoreExisting {
		verb = "INSERT OR IGNORE"
	}
	_, err := tx.ExecContext(ctx, verb+` INTO messages
		(session_id, id, sender_id, content, timestamp, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, m.ID, m.SenderID, m.Content,
		m.Timestamp.UnixNano(), string(m.Status))
	return err
}
