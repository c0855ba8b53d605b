package normalizer

import (
	"fmt"
	"iter"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// healthTypes maps the short canonical names and the platform identifiers
// sent by the HealthKit and Health Connect bridges onto kinds.
var healthTypes = map[string]event.Kind{
	"heart_rate": event.KindHeartRate,
	"steps":      event.KindSteps,
	"sleep":      event.KindSleep,

	"HKQuantityTypeIdentifierHeartRate":     event.KindHeartRate,
	"HKQuantityTypeIdentifierStepCount":     event.KindSteps,
	"HKCategoryTypeIdentifierSleepAnalysis": event.KindSleep,

	"HeartRateRecord":    event.KindHeartRate,
	"StepsRecord":        event.KindSteps,
	"SleepSessionRecord": event.KindSleep,
	"SleepStageRecord":   event.KindSleep,
}

// Health handles single samples from the HealthKit and Health Connect
// bridges. The event keeps the caller's source tag.
type Health struct{}

func (Health) Name() string { return "health" }

func (Health) readsKind() {}

func (Health) Accepts(source string) bool {
	return source == string(event.SourceHealthKit) || source == string(event.SourceHealthConnect)
}

func (Health) Normalize(src event.Source, p map[string]any) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		typ := str(p, "type", "kind")
		kind, ok := healthTypes[typ]
		if !ok {
			// Sample types we do not ingest are skipped, not rejected.
			return
		}
		ev, err := healthSample(src, kind, p)
		push(yield, fmt.Sprintf("%s %s sample", src, typ), ev, err)
	}
}

func healthSample(src event.Source, kind event.Kind, p map[string]any) (event.Event, error) {
	tsRaw, _ := first(p, "ts", "endDate")
	ts, err := parseInstant(tsRaw)
	if err != nil {
		return event.Event{}, err
	}
	user := str(p, "userId", "user_id")
	dev := healthDevice(p)

	switch kind {
	case event.KindHeartRate:
		bpm, err := number(p, "bpm", "value")
		if err != nil {
			return event.Event{}, err
		}
		ev := event.NewHeartRate(user, src, ts, bpm, dev)
		if meta, ok := asMap(p["meta"]); ok {
			ev.Meta = meta
		}
		return ev, nil
	case event.KindSteps:
		count, err := integerOr(p, 0, "steps", "value")
		if err != nil {
			return event.Event{}, err
		}
		return event.NewSteps(user, src, ts, count, str(p, "window"), dev), nil
	default:
		label, ok := first(p, "stage", "value")
		if !ok {
			label = string(event.StageLight)
		}
		st, err := stage(label)
		if err != nil {
			return event.Event{}, err
		}
		secs, err := numberOr(p, 0, "dur_s", "duration")
		if err != nil {
			return event.Event{}, err
		}
		return event.NewSleep(user, src, ts, st, secs, dev), nil
	}
}

func healthDevice(p map[string]any) *event.Device {
	m, _ := asMap(p["device"])
	d := &event.Device{
		Vendor: firstNonEmpty(str(m, "vendor", "manufacturer"), str(p, "sourceName")),
		Model:  str(m, "model"),
		ID:     str(m, "id"),
	}
	if d.IsZero() {
		return nil
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
