package poll_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/vitalsync/internal/config"
	"github.com/gyaneshwarpardhi/vitalsync/internal/ingest"
	"github.com/gyaneshwarpardhi/vitalsync/internal/poll"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []ingest.Delivery
	full bool
}

func (s *recordingSink) ProcessAsync(d ingest.Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.got = append(s.got, d)
	return true
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func fastClient() *poll.Client {
	return poll.NewClient(poll.WithBackoff(3, time.Millisecond))
}

func TestRunOnce(t *testing.T) {
	now := time.Date(2023, 9, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("start") != "2023-09-01T11:30:00Z" || q.Get("end") != "2023-09-01T12:00:00Z" {
			t.Errorf("window = %s..%s", q.Get("start"), q.Get("end"))
		}
		if q.Get("page") != "1" {
			t.Errorf("existing query lost: %v", q)
		}
		w.Write([]byte(`{"user": "u3", "heart_rate": []}`))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	p := poll.New(sink, nil,
		poll.WithClient(fastClient()),
		poll.WithClock(func() time.Time { return now }),
		poll.WithEnv(func(string) string { return "secret" }),
	)
	job := config.PollJob{ID: "oura-hr", Source: "vendor_oura", URL: srv.URL + "/hr?page=1", Interval: 15 * time.Minute, Lookback: 30 * time.Minute, TokenEnv: "OURA_TOKEN"}

	if err := p.RunOnce(context.Background(), job); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d calls, want a retry after 503", calls.Load())
	}
	if sink.count() != 1 {
		t.Fatalf("sink got %d deliveries, want 1", sink.count())
	}
	d := sink.got[0]
	if d.Origin != ingest.OriginPoll || d.Source != "vendor_oura" || string(d.Payload) != `{"user": "u3", "heart_rate": []}` {
		t.Errorf("delivery = %+v", d)
	}
}

func TestRunOnceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/forbidden" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	p := poll.New(sink, nil, poll.WithClient(fastClient()))
	job := config.PollJob{ID: "j", Source: "vendor_oura", URL: srv.URL + "/forbidden", Interval: time.Minute, Lookback: time.Minute}

	var apiErr *poll.APIError
	if err := p.RunOnce(context.Background(), job); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 APIError", err)
	}

	sink.full = true
	job.URL = srv.URL + "/ok"
	if err := p.RunOnce(context.Background(), job); !errors.Is(err, ingest.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestStartReloadStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	jobA := config.PollJob{ID: "a", Source: "vendor_oura", URL: srv.URL, Interval: time.Hour, Lookback: time.Hour}
	jobB := config.PollJob{ID: "b", Source: "vendor_garmin", URL: srv.URL, Interval: time.Hour, Lookback: time.Hour}
	p := poll.New(sink, []config.PollJob{jobA}, poll.WithClient(fastClient()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("job a never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Reload([]config.PollJob{jobB})
	ids := p.Running()
	if !slices.Equal(ids, []string{"b"}) {
		t.Fatalf("running = %v, want [b]", ids)
	}

	p.Stop()
	if len(p.Running()) != 0 {
		t.Fatalf("jobs still running after Stop: %v", p.Running())
	}
}
