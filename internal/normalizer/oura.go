package normalizer

import (
	"fmt"
	"iter"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// Oura handles Oura ring payloads. Sleep is reported per stage segment and
// each segment becomes its own event.
type Oura struct{}

func (Oura) Name() string { return "oura" }

func (Oura) Accepts(source string) bool { return source == string(event.SourceOura) }

func (Oura) Normalize(_ event.Source, p map[string]any) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		user := str(p, "user", "userId", "user_id")
		dev := device(p["device"], &event.Device{Vendor: "Oura"})

		for i, raw := range asList(p["heart_rate"]) {
			ev, err := ouraHeartRate(user, dev, raw)
			if !push(yield, fmt.Sprintf("oura heart_rate[%d]", i), ev, err) {
				return
			}
		}
		sleep, _ := asMap(p["sleep"])
		for i, raw := range asList(sleep["stages"]) {
			ev, err := ouraSleepSegment(user, dev, raw)
			if !push(yield, fmt.Sprintf("oura sleep.stages[%d]", i), ev, err) {
				return
			}
		}
	}
}

func ouraHeartRate(user string, dev *event.Device, raw any) (event.Event, error) {
	sample, ok := asMap(raw)
	if !ok {
		return event.Event{}, errMissing
	}
	ts, err := parseInstant(sample["timestamp"])
	if err != nil {
		return event.Event{}, err
	}
	bpm, err := number(sample, "bpm")
	if err != nil {
		return event.Event{}, err
	}
	return event.NewHeartRate(user, event.SourceOura, ts, bpm, dev), nil
}

func ouraSleepSegment(user string, dev *event.Device, raw any) (event.Event, error) {
	seg, ok := asMap(raw)
	if !ok {
		return event.Event{}, errMissing
	}
	ts, err := parseInstant(seg["start"])
	if err != nil {
		return event.Event{}, err
	}
	st, err := stage(seg["stage"])
	if err != nil {
		return event.Event{}, err
	}
	secs, err := number(seg, "duration")
	if err != nil {
		return event.Event{}, err
	}
	return event.NewSleep(user, event.SourceOura, ts, st, secs, dev), nil
}
