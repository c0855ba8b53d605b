package normalizer

import (
	"encoding/json"
	"fmt"
	"iter"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// Canonical reads a payload that is already one event in the canonical wire
// shape. It is picked by payload shape rather than by source; see ForPayload.
type Canonical struct{}

func (Canonical) Name() string { return "canonical" }

// Accepts reports false: Canonical is never resolved through a Registry.
func (Canonical) Accepts(string) bool { return false }

func (Canonical) Normalize(src event.Source, p map[string]any) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		ev, err := canonicalEvent(src, p)
		push(yield, "canonical event", ev, err)
	}
}

func canonicalEvent(src event.Source, p map[string]any) (event.Event, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return event.Event{}, err
	}
	var ev event.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", event.ErrInvalidEvent, err)
	}
	switch ev.Source {
	case "":
		ev.Source = src
	case src:
	default:
		return event.Event{}, fmt.Errorf("%w: source %q delivered as %q", event.ErrInvalidEvent, ev.Source, src)
	}
	return ev, nil
}

// kindKeyed is implemented by normalizers whose native payloads may carry a
// top-level "kind"; those keep canonical-shaped bodies for their sources.
type kindKeyed interface {
	readsKind()
}

// IsCanonical reports whether payload is in the canonical wire shape.
func IsCanonical(p map[string]any) bool {
	_, ok := p["kind"]
	return ok
}

// ForPayload returns Canonical when p is a canonical event delivered under a
// source whose native payloads never carry "kind". Otherwise it returns n.
func ForPayload(n Normalizer, p map[string]any) Normalizer {
	if _, ok := n.(kindKeyed); ok || !IsCanonical(p) {
		return n
	}
	return Canonical{}
}
