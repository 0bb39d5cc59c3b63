package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/companion/pkg/domain"
	"github.com/nstogner/companion/pkg/store"
)

// Store implements HistoryStore using SQLite.
type Store struct {
	db          *sql.DB
	subscribers []chan domain.FeedbackEvent
	mu          sync.RWMutex
}

// Verify interface compliance at compile time.
var _ store.HistoryStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection and all subscriber channels.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feedback_events (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		window_title TEXT NOT NULL DEFAULT '',
		class_name TEXT NOT NULL DEFAULT '',
		media_status TEXT NOT NULL DEFAULT 'unknown',
		microphone_status TEXT NOT NULL DEFAULT 'unknown',
		user_status TEXT NOT NULL DEFAULT 'active',
		vision_summary TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		persona TEXT NOT NULL DEFAULT '',
		suppressed INTEGER NOT NULL DEFAULT 0,
		capture_count INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_seq ON feedback_events(seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts ev and notifies subscribers.
func (s *Store) Record(ctx context.Context, ev *domain.FeedbackEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_events (id, timestamp, window_title, class_name, media_status, microphone_status,
			user_status, vision_summary, feedback, persona, suppressed, capture_count, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM feedback_events))`,
		ev.ID, ev.Timestamp, ev.WindowTitle, ev.ClassName, ev.MediaStatus, ev.Microphone,
		ev.UserStatus, ev.VisionSummary, ev.Feedback, ev.Persona, ev.Suppressed, ev.CaptureCount,
	)
	if err != nil {
		return err
	}

	s.notifySubscribers(*ev)
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.FeedbackEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, window_title, class_name, media_status, microphone_status,
			user_status, vision_summary, feedback, persona, suppressed, capture_count
		 FROM feedback_events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.FeedbackEvent{}
	for rows.Next() {
		var e domain.FeedbackEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.WindowTitle, &e.ClassName, &e.MediaStatus, &e.Microphone,
			&e.UserStatus, &e.VisionSummary, &e.Feedback, &e.Persona, &e.Suppressed, &e.CaptureCount,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) Subscribe() <-chan domain.FeedbackEvent {
	ch := make(chan domain.FeedbackEvent, 64)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(sub <-chan domain.FeedbackEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ch := range s.subscribers {
		if ch == sub {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (s *Store) notifySubscribers(ev domain.FeedbackEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is not consuming fast enough.
		}
	}
}
