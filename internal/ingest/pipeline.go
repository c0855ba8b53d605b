// Package ingest turns raw source payloads into persisted canonical events.
//
// A payload moves through source resolution, decoding, envelope validation
// and normalization. Every event it yields is then validated, checked
// against the idempotency cache and written to the store. Duplicates are
// outcomes, not errors, and a cache outage never fails ingestion.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/vitalsync/internal/dedup"
	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
	"github.com/gyaneshwarpardhi/vitalsync/internal/idempotency"
	"github.com/gyaneshwarpardhi/vitalsync/internal/metrics"
	"github.com/gyaneshwarpardhi/vitalsync/internal/normalizer"
	"github.com/gyaneshwarpardhi/vitalsync/internal/schema"
	"github.com/gyaneshwarpardhi/vitalsync/internal/store"
)

const (
	releaseAttempts = 3
	releaseBackoff  = 50 * time.Millisecond
)

// Result counts what happened to the events of one payload.
type Result struct {
	Accepted  int `json:"accepted"`
	Duplicate int `json:"duplicate"`
	Rejected  int `json:"rejected"`
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	registry  *normalizer.Registry
	validator *schema.Validator
	cache     idempotency.Cache
	store     store.Store
	log       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPipeline wires the stages together. A nil cache disables the fast path.
func NewPipeline(reg *normalizer.Registry, v *schema.Validator, cache idempotency.Cache, st store.Store, opts ...Option) *Pipeline {
	if cache == nil {
		cache = idempotency.NopCache{}
	}
	p := &Pipeline{registry: reg, validator: v, cache: cache, store: st, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit ingests one raw payload delivered under source. Source aliases
// such as "garmin" are accepted.
//
// On a store failure Submit stops and returns the counts so far together
// with an error wrapping ErrStoreUnavailable; the sender should redeliver.
func (p *Pipeline) Submit(ctx context.Context, raw []byte, source string) (Result, error) {
	var res Result

	src, ok := event.ParseSource(source)
	if !ok {
		p.log.Error("unknown source", "source", source)
		return res, &UnknownSourceError{Source: source}
	}
	n, err := p.registry.Lookup(string(src))
	if err != nil {
		p.log.Error("no normalizer for source", "source", src, "err", err)
		return res, &UnknownSourceError{Source: source}
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return res, &ValidationError{Source: string(src), Err: err}
	}
	n = normalizer.ForPayload(n, payload)
	if _, canonical := n.(normalizer.Canonical); canonical {
		err = p.validator.ValidateCanonical(src, payload)
	} else {
		err = p.validator.ValidatePayload(src, payload)
	}
	if err != nil {
		return res, &ValidationError{Source: string(src), Err: err}
	}

	for ev, err := range n.Normalize(src, payload) {
		if err == nil {
			err = p.validator.ValidateEvent(ev)
		}
		if err != nil {
			res.Rejected++
			metrics.EventsRejected.WithLabelValues(string(src)).Inc()
			p.log.Warn("sample rejected", "source", src, "err", err)
			continue
		}
		ev.RawPayload = raw

		dup, err := p.persist(ctx, ev)
		if err != nil {
			return res, err
		}
		if dup {
			res.Duplicate++
		} else {
			res.Accepted++
		}
	}
	return res, nil
}

// persist runs the cache check and the store write for one valid event.
func (p *Pipeline) persist(ctx context.Context, ev event.Event) (duplicate bool, err error) {
	fp := dedup.Fingerprint(ev)
	marked, err := p.cache.MarkSeen(ctx, fp)
	switch {
	case err != nil:
		metrics.CacheErrors.Inc()
		p.log.Warn("idempotency cache unavailable, falling back to store", "fingerprint", fp, "err", err)
	case !marked:
		metrics.EventsDuplicate.WithLabelValues(string(ev.Source), "cache").Inc()
		return true, nil
	}

	out, err := p.store.Insert(ctx, ev)
	if err != nil {
		metrics.StoreErrors.Inc()
		if marked {
			// Without the marker a redelivery would be dropped as a duplicate.
			p.release(context.WithoutCancel(ctx), fp)
		}
		p.log.Error("store insert failed", "source", ev.Source, "kind", ev.Kind, "err", err)
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if out == store.DuplicateRejected {
		metrics.EventsDuplicate.WithLabelValues(string(ev.Source), "store").Inc()
		return true, nil
	}
	metrics.EventsAccepted.WithLabelValues(string(ev.Source), string(ev.Kind)).Inc()
	return false, nil
}

// release drops the cache marker for fp, retrying a few times. A marker
// that cannot be dropped hides redeliveries of the event until it expires.
func (p *Pipeline) release(ctx context.Context, fp string) {
	var err error
	for attempt := range releaseAttempts {
		if attempt > 0 {
			time.Sleep(releaseBackoff << (attempt - 1))
		}
		if err = p.cache.Release(ctx, fp); err == nil {
			return
		}
	}
	metrics.CacheErrors.Inc()
	metrics.StaleMarkers.Inc()
	p.log.Error("release cache marker failed, redeliveries will be dropped until it expires",
		"fingerprint", fp, "attempts", releaseAttempts, "err", err)
}

// decodePayload decodes a single JSON object, keeping numbers as json.Number.
func decodePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode json: trailing data after payload")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload must be a JSON object, got %T", v)
	}
	return m, nil
}
