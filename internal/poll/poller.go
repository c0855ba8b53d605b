// Package poll periodically fetches vendor endpoints and hands each
// response to the ingest engine. Consecutive windows overlap; the overlap is
// harmless because repeated events collapse on their identity.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/vitalsync/internal/config"
	"github.com/gyaneshwarpardhi/vitalsync/internal/ingest"
	"github.com/gyaneshwarpardhi/vitalsync/internal/metrics"
)

// Sink accepts deliveries without blocking. *ingest.Engine implements it.
type Sink interface {
	ProcessAsync(d ingest.Delivery) bool
}

type running struct {
	job    config.PollJob
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller runs one goroutine per configured job.
type Poller struct {
	sink   Sink
	client *Client
	log    *slog.Logger
	now    func() time.Time
	getenv func(string) string

	mu      sync.Mutex
	ctx     context.Context // nil until Start
	jobs    []config.PollJob
	running map[string]*running
}

// Option configures a Poller.
type Option func(*Poller)

func WithLogger(l *slog.Logger) Option { return func(p *Poller) { p.log = l } }
func WithClient(c *Client) Option      { return func(p *Poller) { p.client = c } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

// WithEnv replaces os.Getenv for token lookup.
func WithEnv(getenv func(string) string) Option { return func(p *Poller) { p.getenv = getenv } }

func New(sink Sink, jobs []config.PollJob, opts ...Option) *Poller {
	p := &Poller{
		sink:    sink,
		client:  NewClient(),
		log:     slog.Default(),
		now:     time.Now,
		getenv:  os.Getenv,
		jobs:    jobs,
		running: make(map[string]*running),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches every configured job. Jobs stop when ctx is cancelled or
// Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
	for _, job := range p.jobs {
		p.startLocked(job)
	}
}

// Reload replaces the job set. Unchanged jobs keep running; changed jobs
// restart with their new settings.
func (p *Poller) Reload(jobs []config.PollJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = jobs
	if p.ctx == nil {
		return
	}
	want := make(map[string]config.PollJob, len(jobs))
	for _, j := range jobs {
		want[j.ID] = j
	}
	for id, r := range p.running {
		if j, ok := want[id]; !ok || !reflect.DeepEqual(j, r.job) {
			r.stop()
			delete(p.running, id)
		}
	}
	for _, j := range jobs {
		if _, ok := p.running[j.ID]; !ok {
			p.startLocked(j)
		}
	}
	p.log.Info("poll jobs reloaded", "jobs", len(jobs))
}

// Stop halts all jobs and waits for in-flight runs to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, r := range p.running {
		r.stop()
		delete(p.running, id)
	}
	p.ctx = nil
}

// Running returns the ids of the jobs currently scheduled.
func (p *Poller) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	return ids
}

func (p *Poller) startLocked(job config.PollJob) {
	ctx, cancel := context.WithCancel(p.ctx)
	r := &running{job: job, cancel: cancel, done: make(chan struct{})}
	p.running[job.ID] = r
	go func() {
		defer close(r.done)
		p.loop(ctx, job)
	}()
}

func (r *running) stop() {
	r.cancel()
	<-r.done
}

func (p *Poller) loop(ctx context.Context, job config.PollJob) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		if err := p.RunOnce(ctx, job); err != nil && ctx.Err() == nil {
			p.log.Warn("poll run failed", "job", job.ID, "source", job.Source, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce fetches the window [now-lookback, now) for job and enqueues the
// response body.
func (p *Poller) RunOnce(ctx context.Context, job config.PollJob) error {
	end := p.now().UTC()
	start := end.Add(-job.Lookback)
	query := url.Values{
		"start": {start.Format(time.RFC3339)},
		"end":   {end.Format(time.RFC3339)},
	}
	var token string
	if job.TokenEnv != "" {
		token = p.getenv(job.TokenEnv)
	}

	body, err := p.client.Get(ctx, job.URL, query, token)
	if err != nil {
		metrics.PollRuns.WithLabelValues(job.ID, "fetch_error").Inc()
		return fmt.Errorf("fetch %s: %w", job.ID, err)
	}
	d := ingest.NewDelivery(job.Source, body, ingest.OriginPoll)
	if !p.sink.ProcessAsync(d) {
		metrics.PollRuns.WithLabelValues(job.ID, "queue_full").Inc()
		return fmt.Errorf("enqueue %s: %w", job.ID, ingest.ErrQueueFull)
	}
	metrics.PollRuns.WithLabelValues(job.ID, "ok").Inc()
	p.log.Debug("poll run enqueued", "job", job.ID, "delivery_id", d.ID, "bytes", len(body))
	return nil
}
