// Package report keeps a SQLite ledger of check results, one run per
// session, so results from many runs can be compared later.
package report

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// Check is one recorded result.
type Check struct {
	Name     string
	Passed   bool
	Detail   string
	Duration time.Duration
	At       time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id      TEXT PRIMARY KEY,
	target  TEXT NOT NULL,
	started INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS checks (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	seq         INTEGER NOT NULL,
	name        TEXT NOT NULL,
	passed      INTEGER NOT NULL,
	detail      TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	at          INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);`

// Ledger buffers checks for one run and writes them in a transaction on
// Flush. It is flushed and closed at process exit if the caller does not.
type Ledger struct {
	db    *sql.DB
	runID xid.ID

	mu      sync.Mutex
	pending []Check
	seq     int
	closed  bool
}

// Open creates or extends the ledger at path and starts a new run for
// target.
func Open(path, target string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	l := &Ledger{db: db, runID: xid.New()}
	if _, err := db.Exec(`INSERT INTO runs (id, target, started) VALUES (?, ?, ?)`,
		l.runID.String(), target, l.runID.Time().UnixNano()); err != nil {
		db.Close()
		return nil, fmt.Errorf("start run: %w", err)
	}
	atexit.Register(func() { l.Close() })
	return l, nil
}

// RunID identifies this run in the ledger.
func (l *Ledger) RunID() string { return l.runID.String() }

// Record buffers c. A zero At is stamped with the current time.
func (l *Ledger) Record(c Check) {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	l.mu.Lock()
	l.pending = append(l.pending, c)
	l.mu.Unlock()
}

// Flush writes buffered checks.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Ledger) flushLocked() error {
	if len(l.pending) == 0 || l.closed {
		return nil
	}
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO checks (run_id, seq, name, passed, detail, duration_ns, at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	seq := l.seq
	for _, c := range l.pending {
		seq++
		if _, err := stmt.Exec(l.runID.String(), seq, c.Name, c.Passed, c.Detail, int64(c.Duration), c.At.UnixNano()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record check %s: %w", c.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger: %w", err)
	}
	l.seq = seq
	l.pending = nil
	return nil
}

// Close flushes and closes the database. Later calls do nothing.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	err := l.flushLocked()
	l.closed = true
	if cerr := l.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// Checks reads back the flushed checks of run, in recording order.
func (l *Ledger) Checks(run string) ([]Check, error) {
	rows, err := l.db.Query(`SELECT name, passed, detail, duration_ns, at FROM checks WHERE run_id = ? ORDER BY seq`, run)
	if err != nil {
		return nil, fmt.Errorf("query checks: %w", err)
	}
	defer rows.Close()

	var out []Check
	for rows.Next() {
		var (
			c       Check
			dur, at int64
		)
		if err := rows.Scan(&c.Name, &c.Passed, &c.Detail, &dur, &at); err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		c.Duration = time.Duration(dur)
		c.At = time.Unix(0, at)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Runs lists run IDs for target, oldest first.
func (l *Ledger) Runs(target string) ([]string, error) {
	rows, err := l.db.Query(`SELECT id FROM runs WHERE target = ? ORDER BY started, id`, target)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
