package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gyaneshwarpardhi/vitalsync/internal/dedup"
	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

const eventsTable = "events"

// sqliteTimeLayout is fixed-width so that text order equals time order and
// equal instants compare equal in the unique constraint.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

type dialect struct {
	driver   string
	idType   string
	tsType   string
	jsonType string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// timeArg converts an instant into the value bound for a ts column.
	timeArg func(t time.Time) any
	// setup runs once on a freshly opened pool.
	setup func(db *sql.DB)
}

var postgresDialect = dialect{
	driver:      "postgres",
	idType:      "UUID",
	tsType:      "TIMESTAMPTZ",
	// JSON keeps the text verbatim; JSONB rejects \u0000 escapes, which
	// vendor payloads may legitimately contain.
	jsonType:    "JSON",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	timeArg:     func(t time.Time) any { return t.UTC() },
	setup:       func(*sql.DB) {},
}

var sqliteDialect = dialect{
	driver:      "sqlite3",
	idType:      "TEXT",
	tsType:      "TEXT",
	jsonType:    "TEXT",
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
	// SQLite allows one writer; a single connection serializes writes
	// instead of surfacing SQLITE_BUSY.
	setup: func(db *sql.DB) { db.SetMaxOpenConns(1) },
}

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// SQLStore is the relational backend shared by Postgres and SQLite.
// The schema is created lazily on first use and creation is retried after
// a failure.
type SQLStore struct {
	dsn       string
	d         dialect
	opTimeout time.Duration
	openDB    sqlOpenFunc
	now       func() time.Time

	mu sync.Mutex
	db *sql.DB
}

// NewPostgresStore returns a store on the Postgres database at dsn.
func NewPostgresStore(dsn string, opTimeout time.Duration) *SQLStore {
	return newSQLStore(dsn, postgresDialect, opTimeout)
}

// NewSQLiteStore returns a store on the SQLite file at path.
func NewSQLiteStore(path string, opTimeout time.Duration) *SQLStore {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return newSQLStore(dsn, sqliteDialect, opTimeout)
}

func newSQLStore(dsn string, d dialect, opTimeout time.Duration) *SQLStore {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &SQLStore{dsn: dsn, d: d, opTimeout: opTimeout, openDB: sql.Open, now: time.Now}
}

func (s *SQLStore) ensureReady(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := s.openDB(s.d.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrUnavailable, err)
	}
	s.d.setup(db)
	for _, stmt := range s.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: create schema: %w", ErrUnavailable, err)
		}
	}
	s.db = db
	return db, nil
}

func (s *SQLStore) schema() []string {
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id %s PRIMARY KEY,
				user_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				ts %s NOT NULL,
				source TEXT NOT NULL,
				device_vendor TEXT,
				device_model TEXT,
				device_id TEXT,
				fingerprint TEXT NOT NULL,
				body %s NOT NULL,
				raw_payload %s,
				created_at %s NOT NULL,
				CONSTRAINT uq_event_dedupe UNIQUE (user_id, kind, ts, source)
			)`, eventsTable, s.d.idType, s.d.tsType, s.d.jsonType, s.d.jsonType, s.d.tsType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_user_ts ON %s (user_id, ts)`, eventsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_kind_ts ON %s (kind, ts)`, eventsTable),
	}
}

func (s *SQLStore) Insert(ctx context.Context, ev event.Event) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	db, err := s.ensureReady(ctx)
	if err != nil {
		return 0, err
	}

	var dev event.Device
	if ev.Device != nil {
		dev = *ev.Device
	}
	var raw sql.NullString
	if len(ev.RawPayload) > 0 {
		raw = sql.NullString{String: string(ev.RawPayload), Valid: true}
	}
	ph := s.d.placeholder
	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, kind, ts, source, device_vendor, device_model, device_id,
			fingerprint, body, raw_payload, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT DO NOTHING`, eventsTable,
		ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7), ph(8), ph(9), ph(10), ph(11), ph(12))

	res, err := db.ExecContext(ctx, query,
		uuid.NewString(), ev.UserID, string(ev.Kind), s.d.timeArg(ev.Timestamp), string(ev.Source),
		nullable(dev.Vendor), nullable(dev.Model), nullable(dev.ID),
		dedup.Fingerprint(ev), string(body), raw, s.d.timeArg(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %w", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %w", ErrUnavailable, err)
	}
	if n == 0 {
		return DuplicateRejected, nil
	}
	return Inserted, nil
}

func (s *SQLStore) Query(ctx context.Context, q Query) ([]DayBucket, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	db, err := s.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	cond := func(expr string, arg any) {
		args = append(args, arg)
		where = append(where, expr+" "+s.d.placeholder(len(args)))
	}
	if q.Kind != "" {
		cond("kind =", string(q.Kind))
	}
	if q.UserID != "" {
		cond("user_id =", q.UserID)
	}
	if !q.From.IsZero() {
		cond("ts >=", s.d.timeArg(q.From))
	}
	if !q.To.IsZero() {
		cond("ts <", s.d.timeArg(q.To))
	}
	query := fmt.Sprintf("SELECT body, raw_payload FROM %s", eventsTable)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts, source, user_id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var evs []event.Event
	for rows.Next() {
		var (
			body []byte
			raw  sql.NullString
		)
		if err := rows.Scan(&body, &raw); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrUnavailable, err)
		}
		var ev event.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("decode stored event: %w", err)
		}
		if raw.Valid {
			ev.RawPayload = []byte(raw.String)
		}
		evs = append(evs, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrUnavailable, err)
	}
	return groupByDay(evs), nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	db, err := s.ensureReady(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
