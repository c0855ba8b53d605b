package normalizer

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// ErrUnknownSource is returned by Lookup when no normalizer accepts a source.
var ErrUnknownSource = errors.New("no normalizer accepts source")

// Normalizer translates one vendor's native payload into canonical events.
//
// Normalize returns a lazy sequence. A non-nil error in a pair marks one
// malformed sample; the sequence continues with its siblings. An empty
// sequence is a valid result.
type Normalizer interface {
	// Name is the key the normalizer is registered under.
	Name() string
	// Accepts reports whether payloads tagged with source are handled here.
	Accepts(source string) bool
	// Normalize converts payload, delivered under src, into events.
	Normalize(src event.Source, payload map[string]any) iter.Seq2[event.Event, error]
}

// Registry maps sources to normalizers.
// It is safe for concurrent lookups; Register should only be called at startup.
type Registry struct {
	mu    sync.RWMutex
	names map[string]Normalizer
	order []Normalizer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]Normalizer)}
}

// Default returns a registry holding every built-in normalizer.
func Default() *Registry {
	r := NewRegistry()
	r.Register(Fitbit{})
	r.Register(Garmin{})
	r.Register(Oura{})
	r.Register(Withings{})
	r.Register(BLE{})
	r.Register(Health{})
	return r
}

// Register adds a normalizer. Panics on a duplicate name to surface misconfiguration early.
func (r *Registry) Register(n Normalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.names[n.Name()]; exists {
		panic(fmt.Sprintf("normalizer registry: duplicate name %q", n.Name()))
	}
	r.names[n.Name()] = n
	r.order = append(r.order, n)
}

// Lookup returns the first registered normalizer that accepts source.
func (r *Registry) Lookup(source string) (Normalizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.order {
		if n.Accepts(source) {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownSource, source)
}

// Sources returns every known source that some registered normalizer accepts.
func (r *Registry) Sources() []event.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []event.Source
	for _, src := range event.Sources() {
		for _, n := range r.order {
			if n.Accepts(string(src)) {
				out = append(out, src)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// emit validates ev before it leaves the normalizer and yields it, or the
// validation error, tagged with where in the payload it came from.
func emit(yield func(event.Event, error) bool, ev event.Event, where string) bool {
	if err := ev.Validate(); err != nil {
		return yield(event.Event{}, fmt.Errorf("%s: %w", where, err))
	}
	return yield(ev, nil)
}

// push yields either a sample's parse error or the validated event.
func push(yield func(event.Event, error) bool, where string, ev event.Event, err error) bool {
	if err != nil {
		return yield(event.Event{}, fmt.Errorf("%s: %w", where, err))
	}
	return emit(yield, ev, where)
}
