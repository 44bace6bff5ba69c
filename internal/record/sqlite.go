package record

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink buffers events and writes them to an embedded SQLite database in
// one transaction per flush.
type SQLiteSink struct {
	db        *sql.DB
	path      string
	flushSize int

	mu     sync.Mutex
	buffer []Event
}

// NewSQLiteSink opens (creating if needed) the database at path. Events are
// flushed once flushSize are buffered, and on Flush or Close.
func NewSQLiteSink(path string, flushSize int) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if flushSize <= 0 {
		flushSize = 1000
	}
	s := &SQLiteSink{db: db, path: path, flushSize: flushSize}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		person_id INTEGER NOT NULL,
		time REAL NOT NULL,
		region TEXT,
		location TEXT,
		group_id INTEGER,
		infector_id INTEGER,
		hospital_id INTEGER,
		tag TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_kind_time ON events(kind, time);
	CREATE INDEX IF NOT EXISTS idx_events_person ON events(person_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record buffers events, flushing when the buffer is full.
func (s *SQLiteSink) Record(ctx context.Context, events []Event) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, events...)
	full := len(s.buffer) >= s.flushSize
	s.mu.Unlock()
	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered event.
func (s *SQLiteSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, kind, person_id, time, region, location, group_id, infector_id, hospital_id, tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range s.buffer {
		if _, err := stmt.ExecContext(ctx, e.ID.String(), string(e.Kind), e.PersonID, e.Time,
			e.Region, e.Location, e.GroupID, e.InfectorID, e.HospitalID, e.Tag); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}
	s.buffer = s.buffer[:0]
	return nil
}

// Counts tallies stored events by kind. Buffered events are not included.
func (s *SQLiteSink) Counts(ctx context.Context) (map[Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	out := make(map[Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan counts: %w", err)
		}
		out[Kind(kind)] = n
	}
	return out, rows.Err()
}

// Close flushes and closes the database.
func (s *SQLiteSink) Close() error {
	if err := s.Flush(context.Background()); err != nil {
		log.Printf("record: sqlite flush on close failed: %v", err)
	}
	return s.db.Close()
}
