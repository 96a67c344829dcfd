// Package journal keeps a SQLite record of finished utterances. It stores
// text, outcome, counts and timings, never audio.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/example/go-neutts/internal/pipeline"
)

// Entry is one journaled utterance.
type Entry struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Outcome    string    `json:"outcome"`
	Frames     int       `json:"frames"`
	Samples    int       `json:"samples"`
	Tokens     int       `json:"tokens"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// FromReport converts a pipeline report.
func FromReport(r pipeline.Report) Entry {
	e := Entry{
		ID:         r.ID,
		Text:       r.Text,
		Outcome:    string(r.Outcome),
		Frames:     r.Frames,
		Samples:    r.Samples,
		Tokens:     r.Tokens,
		Started:    r.Started,
		DurationMS: r.Duration.Milliseconds(),
	}

	if r.Err != nil {
		e.Error = r.Err.Error()
	}

	return e
}

// Journal is a SQLite-backed utterance log.
type Journal struct {
	db  *sql.DB
	log *slog.Logger

	queue chan Entry
	wg    sync.WaitGroup
	once  sync.Once
}

const queueSize = 64

// Open creates or opens the journal database at path.
func Open(ctx context.Context, path string, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	j := &Journal{
		db:    db,
		log:   log.With(slog.String("component", "journal")),
		queue: make(chan Entry, queueSize),
	}

	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	j.wg.Add(1)
	go j.writer()

	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    outcome TEXT NOT NULL,
    frames INTEGER NOT NULL,
    samples INTEGER NOT NULL,
    tokens INTEGER NOT NULL,
    started_ms INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    error TEXT
);
CREATE INDEX IF NOT EXISTS idx_utterances_started ON utterances(started_ms);
`
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}

	return nil
}

// Record writes e synchronously. An empty ID is assigned a fresh UUID.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.Started.IsZero() {
		e.Started = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO utterances(id, text, outcome, frames, samples, tokens, started_ms, duration_ms, error)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET outcome=excluded.outcome, frames=excluded.frames,
		   samples=excluded.samples, tokens=excluded.tokens, duration_ms=excluded.duration_ms, error=excluded.error`,
		e.ID, e.Text, e.Outcome, e.Frames, e.Samples, e.Tokens, e.Started.UnixMilli(), e.DurationMS, e.Error)
	if err != nil {
		return fmt.Errorf("record utterance %s: %w", e.ID, err)
	}

	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, text, outcome, frames, samples, tokens, started_ms, duration_ms, COALESCE(error, '')
		 FROM utterances ORDER BY started_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e       Entry
			started int64
		)

		if err := rows.Scan(&e.ID, &e.Text, &e.Outcome, &e.Frames, &e.Samples, &e.Tokens, &started, &e.DurationMS, &e.Error); err != nil {
			return nil, err
		}

		e.Started = time.UnixMilli(started).UTC()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Observer journals every finished utterance without blocking the
// pipeline. Entries are dropped with a warning when the write queue is full.
func (j *Journal) Observer() pipeline.Observer {
	return observer{j: j}
}

type observer struct {
	pipeline.NopObserver
	j *Journal
}

func (o observer) UtteranceFinished(r pipeline.Report) {
	select {
	case o.j.queue <- FromReport(r):
	default:
		o.j.log.Warn("journal queue full, dropping entry", slog.String("id", r.ID))
	}
}

func (j *Journal) writer() {
	defer j.wg.Done()

	for e := range j.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := j.Record(ctx, e); err != nil {
			j.log.Error("journal write failed", slog.String("error", err.Error()))
		}
		cancel()
	}
}

// Close flushes queued entries and closes the database. The observer must
// not be used afterwards.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.queue) })
	j.wg.Wait()

	return j.db.Close()
}
