package tuning

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/donBarbos/cpython/vm"
)

// Sink handles SQLite storage for specialization events. Each flush
// writes the counter deltas since the previous flush, tagged with a run
// ID so several processes can share one trace database.
type Sink struct {
	db    *sql.DB
	runID string
	reg   *vm.Registry

	mu   sync.Mutex
	last map[statKey]uint64
}

type statKey struct {
	kind  vm.Opcode
	event vm.Event
}

// NewSink opens or creates the trace database at dbPath.
func NewSink(dbPath string, reg *vm.Registry) (*Sink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening trace database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS specialization_events (
		run_id      TEXT    NOT NULL,
		recorded_at INTEGER NOT NULL,
		family      TEXT    NOT NULL,
		kind        TEXT    NOT NULL,
		event       TEXT    NOT NULL,
		delta       INTEGER NOT NULL,
		total       INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating events table: %w", err)
	}

	return &Sink{
		db:    db,
		runID: uuid.NewString(),
		reg:   reg,
		last:  make(map[statKey]uint64),
	}, nil
}

// RunID returns the identifier this sink tags its rows with.
func (s *Sink) RunID() string {
	return s.runID
}

// Close flushes outstanding deltas and closes the database.
func (s *Sink) Close() error {
	flushErr := s.Flush(context.Background())
	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}

// Flush writes the counter movement since the previous flush. Counters
// that did not move produce no rows.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.reg.Stats().Snapshot()
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning flush: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO specialization_events
		(run_id, recorded_at, family, kind, event, delta, total)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		key := statKey{kind: row.Kind, event: row.Event}
		delta := row.Count - s.last[key]
		if delta == 0 {
			continue
		}
		_, err := stmt.ExecContext(ctx, s.runID, now,
			s.reg.FamilyOf(row.Kind), row.Kind.Name(), row.Event.String(),
			int64(delta), int64(row.Count))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting event row: %w", err)
		}
		s.last[key] = row.Count
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing flush: %w", err)
	}
	return nil
}

// Run flushes on every tick until the context is cancelled, then performs
// a final flush.
func (s *Sink) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.Flush(context.Background())
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				return err
			}
		}
	}
}
