package normalizer

import (
	"fmt"
	"iter"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// Garmin handles Garmin Health API pushes. Heart-rate samples carry epoch
// seconds; sleep arrives as a list of levels.
type Garmin struct{}

func (Garmin) Name() string { return "garmin" }

func (Garmin) Accepts(source string) bool { return source == string(event.SourceGarmin) }

func (Garmin) Normalize(_ event.Source, p map[string]any) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		user := str(p, "userId", "user_id")
		dev := device(p["device"], nil)

		for i, raw := range asList(p["heartRateSamples"]) {
			ev, err := garminHeartRate(user, dev, raw)
			if !push(yield, fmt.Sprintf("garmin heartRateSamples[%d]", i), ev, err) {
				return
			}
		}
		for i, raw := range asList(p["stepsSummary"]) {
			ev, err := garminSteps(user, dev, raw)
			if !push(yield, fmt.Sprintf("garmin stepsSummary[%d]", i), ev, err) {
				return
			}
		}
		for i, raw := range asList(p["sleepLevels"]) {
			ev, err := garminSleep(user, dev, raw)
			if !push(yield, fmt.Sprintf("garmin sleepLevels[%d]", i), ev, err) {
				return
			}
		}
	}
}

func garminHeartRate(user string, dev *event.Device, raw any) (event.Event, error) {
	sample, ok := asMap(raw)
	if !ok {
		return event.Event{}, errMissing
	}
	secs, err := number(sample, "endTimestampGMT")
	if err != nil {
		return event.Event{}, err
	}
	bpm, err := number(sample, "heartRate")
	if err != nil {
		return event.Event{}, err
	}
	return event.NewHeartRate(user, event.SourceGarmin, epochSeconds(secs), bpm, dev), nil
}

func garminSteps(user string, dev *event.Device, raw any) (event.Event, error) {
	summary, _ := asMap(raw)
	ts, err := parseInstant(summary["calendarDate"])
	if err != nil {
		return event.Event{}, err
	}
	count, err := integerOr(summary, 0, "steps")
	if err != nil {
		return event.Event{}, err
	}
	return event.NewSteps(user, event.SourceGarmin, ts, count, "P1D", dev), nil
}

func garminSleep(user string, dev *event.Device, raw any) (event.Event, error) {
	level, ok := asMap(raw)
	if !ok {
		return event.Event{}, errMissing
	}
	ts, err := parseInstant(level["startGMT"])
	if err != nil {
		return event.Event{}, err
	}
	label := str(level, "activityLevel")
	if label == "" {
		label = string(event.StageLight)
	}
	st, err := stage(label)
	if err != nil {
		return event.Event{}, err
	}
	secs, err := numberOr(level, 0, "durationInSeconds")
	if err != nil {
		return event.Event{}, err
	}
	return event.NewSleep(user, event.SourceGarmin, ts, st, secs, dev), nil
}
