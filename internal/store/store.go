// Package store persists canonical events. Every backend enforces
// uniqueness on the identity tuple (user_id, kind, ts, source): the first
// writer wins and later writers observe DuplicateRejected.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// DefaultOpTimeout bounds a single store operation on top of the caller's context.
const DefaultOpTimeout = 5 * time.Second

// ErrUnavailable is wrapped by every storage infrastructure failure.
var ErrUnavailable = errors.New("event store unavailable")

// Outcome is the result of a successful Insert.
type Outcome int

const (
	Inserted Outcome = iota + 1
	DuplicateRejected
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case DuplicateRejected:
		return "duplicate"
	}
	return "unknown"
}

// Query selects events of one kind in [From, To). A zero bound is open.
// An empty Kind matches every kind and an empty UserID every user.
type Query struct {
	Kind   event.Kind
	From   time.Time
	To     time.Time
	UserID string
}

// DayBucket holds the events of one UTC calendar day.
type DayBucket struct {
	Day    string        `json:"day"` // YYYY-MM-DD
	Events []event.Event `json:"events"`
}

// Store is the durable event log.
type Store interface {
	// Insert writes ev unless an event with the same identity exists.
	// Invalid events are refused with an error wrapping event.ErrInvalidEvent.
	Insert(ctx context.Context, ev event.Event) (Outcome, error)
	// Query returns matching events grouped by UTC day, days ascending and
	// events ordered by timestamp within a day.
	Query(ctx context.Context, q Query) ([]DayBucket, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open selects a backend by DSN scheme: postgres:// and postgresql:// use
// Postgres, sqlite:// and sqlite3:// a SQLite file, memory:// the
// in-process store.
func Open(dsn string, opTimeout time.Duration) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store dsn is empty")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse store dsn: %w", err)
	}
	switch u.Scheme {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn, opTimeout), nil
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(dsn, u.Scheme+"://")
		if path == "" {
			return nil, fmt.Errorf("sqlite dsn has no path")
		}
		return NewSQLiteStore(path, opTimeout), nil
	}
	return nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
}

func dayOf(t time.Time) string { return t.UTC().Format(time.DateOnly) }

// groupByDay buckets events already sorted by timestamp.
func groupByDay(evs []event.Event) []DayBucket {
	var out []DayBucket
	for _, ev := range evs {
		day := dayOf(ev.Timestamp)
		if n := len(out); n > 0 && out[n-1].Day == day {
			out[n-1].Events = append(out[n-1].Events, ev)
			continue
		}
		out = append(out, DayBucket{Day: day, Events: []event.Event{ev}})
	}
	return out
}

func (q Query) match(ev event.Event) bool {
	if q.Kind != "" && ev.Kind != q.Kind {
		return false
	}
	if q.UserID != "" && ev.UserID != q.UserID {
		return false
	}
	if !q.From.IsZero() && ev.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !ev.Timestamp.Before(q.To) {
		return false
	}
	return true
}
