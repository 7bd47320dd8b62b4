// Package indexdb keeps a sqlite read-model of contract lifecycle
// events and completed deliveries. It is derived data for history
// queries and dashboards; the JSONL logs and snapshots stay the source
// of truth.
package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"silkroad.gg/internal/contracts"
	"silkroad.gg/internal/transporters"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64

	// event sequencing (assigned in the writer goroutine)
	seq int64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqCompletion
)

type req struct {
	kind       reqKind
	event      contracts.Event
	completion completionRow
}

type completionRow struct {
	Transporter string
	Record      transporters.CompletionRecord
}

func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	var maxSeq int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&maxSeq); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		seq: maxSeq,
		// Buffered so a burst of lifecycle events never stalls the
		// manager; overflow is dropped, JSONL logs keep the full trail.
		ch: make(chan req, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style workload; NORMAL durability is fine
	// for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY,
			contract_id TEXT NOT NULL,
			type TEXT NOT NULL,
			actor TEXT,
			state TEXT NOT NULL,
			bounty REAL NOT NULL,
			reason TEXT,
			at TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_contract ON events(contract_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor, seq);`,
		`CREATE TABLE IF NOT EXISTS completions (
			contract_id TEXT PRIMARY KEY,
			transporter TEXT NOT NULL,
			delivered_at TEXT NOT NULL,
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			item TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			bounty REAL NOT NULL,
			distance REAL NOT NULL,
			travel_time_s REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_completions_transporter ON completions(transporter, delivered_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordContractEvent implements contracts.AuditSink. Non-blocking:
// when the writer falls behind the event is dropped from the index.
func (s *SQLiteIndex) RecordContractEvent(ev contracts.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) RecordCompletion(transporter string, rec transporters.CompletionRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqCompletion, completion: completionRow{Transporter: transporter, Record: rec}}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many writes were discarded due to backpressure.
func (s *SQLiteIndex) Dropped() int64 {
	return s.dropped.Load()
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqEvent:
			s.insertEvent(r.event)
		case reqCompletion:
			s.insertCompletion(r.completion)
		}
	}
}

func (s *SQLiteIndex) insertEvent(ev contracts.Event) {
	s.seq++
	raw, _ := json.Marshal(ev)
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO events (seq, contract_id, type, actor, state, bounty, reason, at, raw_json)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		s.seq, ev.ContractID, ev.Type, ev.Actor, string(ev.State), ev.Bounty, ev.Reason,
		ev.At.UTC().Format(time.RFC3339Nano), string(raw),
	)
}

func (s *SQLiteIndex) insertCompletion(row completionRow) {
	rec := row.Record
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO completions
		 (contract_id, transporter, delivered_at, origin, destination, item, quantity, bounty, distance, travel_time_s)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.ContractID, row.Transporter, rec.DeliveredAt.UTC().Format(time.RFC3339Nano),
		rec.Origin, rec.Destination, rec.Item, rec.Quantity, rec.Bounty, rec.Distance,
		rec.TravelTime.Seconds(),
	)
}

// Flush waits until every queued write has been applied. Test helper;
// the engine never needs to block on the index.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	// A sentinel would race with Close; polling the queue is enough.
	go func() {
		for len(s.ch) > 0 {
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()
	<-done
	time.Sleep(5 * time.Millisecond)
}

// EventsForContract returns the audited lifecycle of one contract in
// insertion order.
func (s *SQLiteIndex) EventsForContract(contractID string) ([]contracts.Event, error) {
	rows, err := s.db.Query(
		`SELECT raw_json FROM events WHERE contract_id = ? ORDER BY seq ASC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contracts.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev contracts.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CompletionsFor lists a transporter's recorded deliveries, most recent
// first.
func (s *SQLiteIndex) CompletionsFor(transporter string, limit int) ([]transporters.CompletionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT contract_id, delivered_at, origin, destination, item, quantity, bounty, distance, travel_time_s
		 FROM completions WHERE transporter = ? ORDER BY delivered_at DESC LIMIT ?`,
		transporter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transporters.CompletionRecord
	for rows.Next() {
		var rec transporters.CompletionRecord
		var deliveredAt string
		var travelSec float64
		if err := rows.Scan(&rec.ContractID, &deliveredAt, &rec.Origin, &rec.Destination,
			&rec.Item, &rec.Quantity, &rec.Bounty, &rec.Distance, &travelSec); err != nil {
			return nil, err
		}
		rec.DeliveredAt, _ = time.Parse(time.RFC3339Nano, deliveredAt)
		rec.TravelTime = time.Duration(travelSec * float64(time.Second))
		out = append(out, rec)
	}
	return out, rows.Err()
}
