package normalizer

import (
	"fmt"
	"iter"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// withingsStepsCategory marks measurement groups that carry step counts.
const withingsStepsCategory = 1

// Withings handles Withings measure and sleep payloads.
type Withings struct{}

func (Withings) Name() string { return "withings" }

func (Withings) Accepts(source string) bool { return source == string(event.SourceWithings) }

func (Withings) Normalize(_ event.Source, p map[string]any) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		user := str(p, "userId", "user_id", "userid")
		dev := device(p["device"], &event.Device{Vendor: "Withings"})

		for i, raw := range asList(p["measuregrps"]) {
			grp, ok := asMap(raw)
			if !ok {
				continue
			}
			if cat, err := integer(grp, "category"); err != nil || cat != withingsStepsCategory {
				continue
			}
			ev, err := withingsSteps(user, dev, grp)
			if !push(yield, fmt.Sprintf("withings measuregrps[%d]", i), ev, err) {
				return
			}
		}
		for i, raw := range asList(p["sleep"]) {
			ev, err := withingsSleep(user, dev, raw)
			if !push(yield, fmt.Sprintf("withings sleep[%d]", i), ev, err) {
				return
			}
		}
	}
}

func withingsSteps(user string, dev *event.Device, grp map[string]any) (event.Event, error) {
	ts, err := parseInstant(grp["date"])
	if err != nil {
		return event.Event{}, err
	}
	count, err := integerOr(grp, 0, "steps")
	if err != nil {
		return event.Event{}, err
	}
	return event.NewSteps(user, event.SourceWithings, ts, count, "P1D", dev), nil
}

func withingsSleep(user string, dev *event.Device, raw any) (event.Event, error) {
	seg, ok := asMap(raw)
	if !ok {
		return event.Event{}, errMissing
	}
	ts, err := parseInstant(seg["startdate"])
	if err != nil {
		return event.Event{}, err
	}
	label, ok := first(seg, "state")
	if !ok {
		label = string(event.StageLight)
	}
	st, err := stage(label)
	if err != nil {
		return event.Event{}, err
	}
	secs, err := numberOr(seg, 0, "duration")
	if err != nil {
		return event.Event{}, err
	}
	return event.NewSleep(user, event.SourceWithings, ts, st, secs, dev), nil
}
