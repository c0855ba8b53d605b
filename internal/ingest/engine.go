package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/vitalsync/internal/config"
	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
	"github.com/gyaneshwarpardhi/vitalsync/internal/metrics"
)

// Origin names the path a delivery arrived by.
type Origin string

const (
	OriginWebhook Origin = "webhook"
	OriginPoll    Origin = "poll"
	OriginDirect  Origin = "direct"
)

// Delivery is one raw payload awaiting ingestion.
type Delivery struct {
	ID         string
	Source     string
	Payload    []byte
	Origin     Origin
	ReceivedAt time.Time
}

// NewDelivery stamps a payload with an id and receive time.
func NewDelivery(source string, payload []byte, origin Origin) Delivery {
	return Delivery{
		ID:         uuid.NewString(),
		Source:     source,
		Payload:    payload,
		Origin:     origin,
		ReceivedAt: time.Now().UTC(),
	}
}

// Outcome is the result of processing one delivery.
type Outcome struct {
	DeliveryID string `json:"delivery_id"`
	Source     string `json:"source"`
	Result
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`

	err error
}

// Err returns the processing error, if any.
func (o *Outcome) Err() error { return o.err }

// Submitter ingests one raw payload. *Pipeline implements it.
type Submitter interface {
	Submit(ctx context.Context, raw []byte, source string) (Result, error)
}

type deliveryWork struct {
	d       Delivery
	resultC chan *Outcome
}

// Engine runs deliveries through a Submitter on a bounded worker pool.
type Engine struct {
	submitter Submitter
	pool      *workerPool[*deliveryWork]
	conf      config.IngestConf
	log       *slog.Logger
}

// NewEngine starts conf.Workers workers; zero fields take their defaults.
// Work stops when ctx is cancelled or Shutdown is called.
func NewEngine(ctx context.Context, s Submitter, conf config.IngestConf, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	conf = conf.Defaults()
	e := &Engine{submitter: s, conf: conf, log: log}
	e.pool = newWorkerPool(ctx, conf.Workers, conf.QueueDepth, func(ctx context.Context, w *deliveryWork) {
		out := e.process(ctx, w.d)
		if w.resultC != nil {
			w.resultC <- out
		}
		metrics.QueueUtilization.Set(e.QueueUtilization())
	})
	return e
}

// ProcessSync processes d and waits for the outcome. It fails with
// ErrQueueFull when the queue is full and ErrTimeout once conf.Timeout
// elapses. The returned error is the outcome's processing error otherwise.
func (e *Engine) ProcessSync(ctx context.Context, d Delivery) (*Outcome, error) {
	resultC := make(chan *Outcome, 1)
	if !e.enqueue(&deliveryWork{d: d, resultC: resultC}) {
		return nil, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.pool.QueueCap())
	}

	timer := time.NewTimer(e.conf.Timeout)
	defer timer.Stop()
	select {
	case out := <-resultC:
		return out, out.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", ErrTimeout, e.conf.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProcessAsync enqueues d for background processing. Returns false if the queue is full.
func (e *Engine) ProcessAsync(d Delivery) bool {
	return e.enqueue(&deliveryWork{d: d})
}

func (e *Engine) enqueue(w *deliveryWork) bool {
	if !e.pool.Submit(w) {
		metrics.DeliveriesDropped.Inc()
		e.log.Warn("ingest queue full", "delivery_id", w.d.ID, "source", w.d.Source, "origin", w.d.Origin)
		return false
	}
	metrics.DeliveriesEnqueued.WithLabelValues(string(w.d.Origin)).Inc()
	metrics.QueueUtilization.Set(e.QueueUtilization())
	return true
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

func (e *Engine) process(ctx context.Context, d Delivery) *Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.conf.Timeout)
	defer cancel()

	res, err := e.submitter.Submit(ctx, d.Payload, d.Source)
	out := &Outcome{
		DeliveryID: d.ID,
		Source:     d.Source,
		Result:     res,
		DurationMs: time.Since(start).Milliseconds(),
		err:        err,
	}
	if err != nil {
		out.Error = err.Error()
	}

	src := sourceLabel(d.Source)
	metrics.IngestDuration.WithLabelValues(src).Observe(float64(out.DurationMs))
	metrics.DeliveriesProcessed.WithLabelValues(src, outcomeLabel(err)).Inc()

	attrs := []any{
		"delivery_id", d.ID, "source", d.Source, "origin", d.Origin,
		"accepted", res.Accepted, "duplicate", res.Duplicate, "rejected", res.Rejected,
		"duration_ms", out.DurationMs,
	}
	if err != nil {
		e.log.Warn("delivery failed", append(attrs, "err", err)...)
	} else {
		e.log.Info("delivery processed", attrs...)
	}
	return out
}

// sourceLabel keeps metric cardinality bounded for unrecognised sources.
func sourceLabel(s string) string {
	if src, ok := event.ParseSource(s); ok {
		return string(src)
	}
	return "unknown"
}

func outcomeLabel(err error) string {
	var verr *ValidationError
	var uerr *UnknownSourceError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &uerr):
		return "unknown_source"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "error"
}

// Shutdown stops intake and waits for queued deliveries to finish.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}
