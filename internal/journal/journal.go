// Package journal keeps a bounded SQLite history of lifecycle transitions,
// scheduled recoveries and reply outcomes.
//
// The journal is an observer: it records what already happened and never
// influences it. A failed write is logged and dropped.
package journal

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	wabotErrors "github.com/ibetin/wabot/internal/errors"
	"github.com/ibetin/wabot/internal/responder"
	"github.com/ibetin/wabot/internal/session"
	"github.com/ibetin/wabot/internal/supervisor"
)

// DefaultMaxRows bounds the journal; older rows are pruned on insert.
const DefaultMaxRows = 10000

// Kind classifies a journal entry.
type Kind string

const (
	KindTransition Kind = "transition"
	KindRecovery   Kind = "recovery"
	KindReply      Kind = "reply"
)

// Entry is one journal row. Fields that do not apply to Kind are zero.
type Entry struct {
	ID   int64
	Kind Kind

	// Transition fields.
	From    session.Phase
	To      session.Phase
	Version uint64

	// Reply fields.
	Recipient string
	OK        bool
	Code      string

	Detail string
	At     time.Time
}

// Options configures a Store.
type Options struct {
	// MaxRows defaults to DefaultMaxRows. Negative disables pruning.
	MaxRows int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store is the SQLite-backed journal.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	maxRows int
	now     func() time.Time
}

var (
	_ supervisor.Observer       = (*Store)(nil)
	_ responder.OutcomeObserver = (*Store)(nil)
)

// Open opens or creates the journal at path. Use ":memory:" in tests.
func Open(path string, opts Options) (*Store, error) {
	log.Printf("journal: opening database at %s", path)

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, wabotErrors.JournalOpenFailed(path, err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wabotErrors.JournalOpenFailed(path, err)
	}

	s := &Store{db: db, maxRows: opts.MaxRows, now: opts.Now}
	if s.maxRows == 0 {
		s.maxRows = DefaultMaxRows
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, wabotErrors.JournalOpenFailed(path, err)
	}

	log.Printf("journal: ready (schema version %d)", currentSchemaVersion)
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	log.Printf("journal: closing database")
	return s.db.Close()
}

// SaveAndPrune inserts entry and prunes the oldest rows beyond the
// configured maximum in a single transaction. A zero At is stamped with
// the current time.
func (s *Store) SaveAndPrune(entry *Entry) error {
	if entry == nil {
		return wabotErrors.JournalWriteFailed(fmt.Errorf("entry cannot be nil"))
	}
	if entry.At.IsZero() {
		entry.At = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return wabotErrors.JournalWriteFailed(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	const insertQuery = `
		INSERT INTO journal
			(kind, from_phase, to_phase, version, recipient, ok, code, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := tx.Exec(insertQuery,
		string(entry.Kind),
		string(entry.From),
		string(entry.To),
		int64(entry.Version),
		entry.Recipient,
		entry.OK,
		entry.Code,
		entry.Detail,
		entry.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return wabotErrors.JournalWriteFailed(fmt.Errorf("insert: %w", err))
	}

	if s.maxRows > 0 {
		const pruneQuery = `
			DELETE FROM journal
			WHERE id NOT IN (SELECT id FROM journal ORDER BY id DESC LIMIT ?)
		`
		if _, err := tx.Exec(pruneQuery, s.maxRows); err != nil {
			return wabotErrors.JournalWriteFailed(fmt.Errorf("prune: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return wabotErrors.JournalWriteFailed(fmt.Errorf("commit: %w", err))
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(limit int) ([]*Entry, error) {
	return s.list("", limit)
}

// ListKind is List restricted to one kind.
func (s *Store) ListKind(kind Kind, limit int) ([]*Entry, error) {
	return s.list(kind, limit)
}

func (s *Store) list(kind Kind, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, kind, from_phase, to_phase, version, recipient, ok, code, detail, at
		FROM journal
	`
	var args []interface{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wabotErrors.JournalQueryFailed(err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e        Entry
			kindStr  string
			from, to string
			version  int64
			atStr    string
		)
		if err := rows.Scan(&e.ID, &kindStr, &from, &to, &version, &e.Recipient, &e.OK, &e.Code, &e.Detail, &atStr); err != nil {
			return nil, wabotErrors.JournalQueryFailed(fmt.Errorf("scan row: %w", err))
		}
		at, err := time.Parse(time.RFC3339Nano, atStr)
		if err != nil {
			return nil, wabotErrors.JournalQueryFailed(fmt.Errorf("parse at: %w", err))
		}
		e.Kind = Kind(kindStr)
		e.From = session.Phase(from)
		e.To = session.Phase(to)
		e.Version = uint64(version)
		e.At = at
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wabotErrors.JournalQueryFailed(fmt.Errorf("iterate rows: %w", err))
	}
	return entries, nil
}

// Transitioned records a phase transition.
func (s *Store) Transitioned(tr session.Transition, detail string) {
	s.record(&Entry{
		Kind:    KindTransition,
		From:    tr.From.Phase,
		To:      tr.To.Phase,
		Version: tr.To.Version,
		Detail:  detail,
		At:      tr.To.Since,
	})
}

// RecoveryScheduled records a scheduled re-initialize.
func (s *Store) RecoveryScheduled(delay time.Duration) {
	s.record(&Entry{
		Kind:   KindRecovery,
		Detail: "reinitialize in " + delay.String(),
	})
}

// ReplyFinished records a reply outcome.
func (s *Store) ReplyFinished(o responder.Outcome) {
	e := &Entry{
		Kind:      KindReply,
		Recipient: o.To,
		OK:        o.Result.OK(),
	}
	if !e.OK {
		e.Code = wabotErrors.GetCode(o.Result.Err)
		e.Detail = o.Result.Err.Error()
	}
	s.record(e)
}

func (s *Store) record(e *Entry) {
	if err := s.SaveAndPrune(e); err != nil {
		log.Printf("journal: dropping %s entry: %v", e.Kind, err)
	}
}
