// Package store records client runs in a sqlite database.
package store

import (
	"database/sql"
	"fmt"
	"iter"
	"time"

	"udptime/pkg/results"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite3
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	server     TEXT NOT NULL,
	started_ns INTEGER NOT NULL,
	probes     INTEGER NOT NULL,
	timeout_ns INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS probes (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	seq      INTEGER NOT NULL,
	received INTEGER NOT NULL,
	delay_s  REAL,
	offset_s REAL,
	PRIMARY KEY (run_id, seq)
);`

type Run struct {
	ID      uuid.UUID
	Server  string
	Started time.Time
	Probes  int
	Timeout time.Duration
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes run and its slots in a single transaction. Dropped probes are
// stored with NULL delay and offset.
func (s *Store) Save(run Run, slots iter.Seq2[uint32, results.Slot]) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec("INSERT INTO runs (id, server, started_ns, probes, timeout_ns) VALUES (?, ?, ?, ?, ?)",
		run.ID.String(), run.Server, run.Started.UnixNano(), run.Probes, int64(run.Timeout)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO probes (run_id, seq, received, delay_s, offset_s) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for seq, slot := range slots {
		var delay, offset sql.NullFloat64
		if slot.Received {
			delay = sql.NullFloat64{Float64: slot.Delay, Valid: true}
			offset = sql.NullFloat64{Float64: slot.Offset, Valid: true}
		}
		if _, err = stmt.Exec(run.ID.String(), seq, slot.Received, delay, offset); err != nil {
			return fmt.Errorf("insert probe %d: %w", seq, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads back a run and its probes in sequence order.
func (s *Store) Load(id uuid.UUID) (Run, []results.Slot, error) {
	run := Run{ID: id}
	var started, timeout int64
	err := s.db.QueryRow("SELECT server, started_ns, probes, timeout_ns FROM runs WHERE id = ?", id.String()).
		Scan(&run.Server, &started, &run.Probes, &timeout)
	if err != nil {
		return Run{}, nil, fmt.Errorf("select run %s: %w", id, err)
	}
	run.Started = time.Unix(0, started)
	run.Timeout = time.Duration(timeout)

	rows, err := s.db.Query("SELECT received, delay_s, offset_s FROM probes WHERE run_id = ? ORDER BY seq", id.String())
	if err != nil {
		return Run{}, nil, fmt.Errorf("select probes %s: %w", id, err)
	}
	defer rows.Close()

	var slots []results.Slot
	for rows.Next() {
		var slot results.Slot
		var delay, offset sql.NullFloat64
		if err = rows.Scan(&slot.Received, &delay, &offset); err != nil {
			return Run{}, nil, fmt.Errorf("scan probe: %w", err)
		}
		slot.Delay = delay.Float64
		slot.Offset = offset.Float64
		slots = append(slots, slot)
	}
	if err = rows.Err(); err != nil {
		return Run{}, nil, err
	}
	return run, slots, nil
}
