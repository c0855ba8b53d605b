package event

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidEvent is wrapped by every Validate failure.
var ErrInvalidEvent = errors.New("invalid event")

// Kind tags the measurement an event carries.
type Kind string

const (
	KindHeartRate Kind = "heart_rate"
	KindSteps     Kind = "steps"
	KindSleep     Kind = "sleep"
)

// Kinds lists every supported kind.
func Kinds() []Kind { return []Kind{KindHeartRate, KindSteps, KindSleep} }

// ParseKind returns the Kind for s, or false if s names no known kind.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindHeartRate, KindSteps, KindSleep:
		return k, true
	}
	return "", false
}

// Source is the origin of an event. Two sources reporting the same fact are
// stored separately.
type Source string

const (
	SourceFitbit        Source = "vendor_fitbit"
	SourceGarmin        Source = "vendor_garmin"
	SourceOura          Source = "vendor_oura"
	SourceWithings      Source = "vendor_withings"
	SourceBLE           Source = "ble"
	SourceHealthKit     Source = "healthkit"
	SourceHealthConnect Source = "health_connect"
)

// Sources lists every supported source.
func Sources() []Source {
	return []Source{
		SourceFitbit, SourceGarmin, SourceOura, SourceWithings,
		SourceBLE, SourceHealthKit, SourceHealthConnect,
	}
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	for _, known := range Sources() {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSource accepts canonical names ("vendor_garmin") and short vendor
// aliases ("garmin").
func ParseSource(s string) (Source, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if src := Source(s); src.Valid() {
		return src, true
	}
	if src := Source("vendor_" + s); src.Valid() {
		return src, true
	}
	switch s {
	case "healthconnect", "health-connect":
		return SourceHealthConnect, true
	case "bluetooth":
		return SourceBLE, true
	}
	return "", false
}

// Device is a best-effort descriptor of the reporting hardware.
type Device struct {
	Vendor string `json:"vendor,omitempty"`
	Model  string `json:"model,omitempty"`
	ID     string `json:"id,omitempty"`
}

// IsZero reports whether no device field is set.
func (d *Device) IsZero() bool {
	return d == nil || (d.Vendor == "" && d.Model == "" && d.ID == "")
}

// Event is the canonical, vendor-agnostic representation of one telemetry fact.
// Kind-specific fields are pointers so that "absent" and "zero" differ.
type Event struct {
	UserID    string
	Kind      Kind
	Timestamp time.Time // UTC; start of the window for steps, segment start for sleep
	Source    Source
	Device    *Device

	BPM             *float64 // heart_rate
	Steps           *int64   // steps
	Window          string   // steps, ISO-8601 duration such as "P1D"
	Stage           Stage    // sleep
	DurationSeconds *float64 // sleep

	Meta       map[string]any
	RawPayload []byte // original vendor JSON, attached by the pipeline
}

// NewHeartRate builds a heart_rate event.
func NewHeartRate(userID string, src Source, ts time.Time, bpm float64, dev *Device) Event {
	return Event{UserID: userID, Kind: KindHeartRate, Source: src, Timestamp: NormalizeTime(ts), Device: dev, BPM: &bpm}
}

// NewSteps builds a steps event aggregated over window.
func NewSteps(userID string, src Source, ts time.Time, steps int64, window string, dev *Device) Event {
	return Event{UserID: userID, Kind: KindSteps, Source: src, Timestamp: NormalizeTime(ts), Device: dev, Steps: &steps, Window: window}
}

// NewSleep builds a sleep event for one session or stage segment.
func NewSleep(userID string, src Source, ts time.Time, stage Stage, durationSeconds float64, dev *Device) Event {
	return Event{UserID: userID, Kind: KindSleep, Source: src, Timestamp: NormalizeTime(ts), Device: dev, Stage: stage, DurationSeconds: &durationSeconds}
}

// NormalizeTime converts t to UTC at microsecond resolution, the finest
// resolution every store backend keeps.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

// TimestampString renders the timestamp as ISO-8601 UTC.
func (e Event) TimestampString() string {
	return e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Identity is the uniqueness key of an event.
type Identity struct {
	UserID    string
	Kind      Kind
	Timestamp string
	Source    Source
}

// Identity returns the (user_id, kind, timestamp, source) tuple.
func (e Event) Identity() Identity {
	return Identity{UserID: e.UserID, Kind: e.Kind, Timestamp: e.TimestampString(), Source: e.Source}
}

// Validate checks identity fields and the required field set of the event's kind.
func (e Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: ts is required", ErrInvalidEvent)
	}
	if !e.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, e.Source)
	}
	switch e.Kind {
	case KindHeartRate:
		if e.BPM == nil || !finite(*e.BPM) || *e.BPM < 0 {
			return fmt.Errorf("%w: heart_rate requires a non-negative bpm", ErrInvalidEvent)
		}
	case KindSteps:
		if e.Steps == nil || *e.Steps < 0 {
			return fmt.Errorf("%w: steps requires a non-negative step count", ErrInvalidEvent)
		}
	case KindSleep:
		if !e.Stage.Valid() {
			return fmt.Errorf("%w: sleep requires a stage, got %q", ErrInvalidEvent, e.Stage)
		}
		if e.DurationSeconds == nil || !finite(*e.DurationSeconds) || *e.DurationSeconds < 0 {
			return fmt.Errorf("%w: sleep requires a non-negative dur_s", ErrInvalidEvent)
		}
	case "":
		return fmt.Errorf("%w: kind is required", ErrInvalidEvent)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
