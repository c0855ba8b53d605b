package normalizer

import (
	"fmt"
	"iter"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// Fitbit handles Fitbit Web API payloads: an intraday heart-rate dataset,
// daily step summaries and sleep sessions.
type Fitbit struct{}

func (Fitbit) Name() string { return "fitbit" }

func (Fitbit) Accepts(source string) bool { return source == string(event.SourceFitbit) }

func (Fitbit) Normalize(_ event.Source, p map[string]any) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		user := str(p, "user_id", "userId")
		dev := device(p["device"], nil)
		day := str(p, "dateTime", "date")

		hr, _ := asMap(p["heart_rate"])
		if hr == nil {
			hr, _ = asMap(p["activities-heart-intraday"])
		}
		for i, raw := range asList(hr["dataset"]) {
			ev, err := fitbitHeartRate(user, day, dev, raw)
			if !push(yield, fmt.Sprintf("fitbit heart_rate.dataset[%d]", i), ev, err) {
				return
			}
		}
		for i, raw := range asList(p["steps"]) {
			ev, err := fitbitSteps(user, day, dev, raw)
			if !push(yield, fmt.Sprintf("fitbit steps[%d]", i), ev, err) {
				return
			}
		}
		for i, raw := range asList(p["sleep"]) {
			ev, err := fitbitSleep(user, dev, raw)
			if !push(yield, fmt.Sprintf("fitbit sleep[%d]", i), ev, err) {
				return
			}
		}
	}
}

func fitbitHeartRate(user, day string, dev *event.Device, raw any) (event.Event, error) {
	sample, ok := asMap(raw)
	if !ok {
		return event.Event{}, errMissing
	}
	ts, err := combineDateTime(day, str(sample, "time"))
	if err != nil {
		return event.Event{}, err
	}
	bpm, err := number(sample, "value")
	if err != nil {
		return event.Event{}, err
	}
	return event.NewHeartRate(user, event.SourceFitbit, ts, bpm, dev), nil
}

func fitbitSteps(user, day string, dev *event.Device, raw any) (event.Event, error) {
	summary, _ := asMap(raw)
	date := str(summary, "dateTime")
	if date == "" {
		date = day
	}
	ts, err := parseInstant(date)
	if err != nil {
		return event.Event{}, err
	}
	count, err := integerOr(summary, 0, "value")
	if err != nil {
		return event.Event{}, err
	}
	return event.NewSteps(user, event.SourceFitbit, ts, count, "P1D", dev), nil
}

func fitbitSleep(user string, dev *event.Device, raw any) (event.Event, error) {
	session, _ := asMap(raw)
	ts, err := parseInstant(session["startTime"])
	if err != nil {
		return event.Event{}, err
	}
	st, err := stage(fitbitSessionStage(session))
	if err != nil {
		return event.Event{}, err
	}
	ms, err := integerOr(session, 0, "duration")
	if err != nil {
		return event.Event{}, err
	}
	return event.NewSleep(user, event.SourceFitbit, ts, st, float64(ms)/1000, dev), nil
}

// fitbitSessionStage picks the first stage summary of a session. A session
// really spans several stages; the canonical sleep event here is session-level.
func fitbitSessionStage(session map[string]any) any {
	levels, _ := asMap(session["levels"])
	summary, _ := asMap(levels["summary"])
	if s := str(summary, "stages"); s != "" {
		return s
	}
	if stages := asList(summary["stages"]); len(stages) > 0 {
		if m, ok := asMap(stages[0]); ok {
			return str(m, "stage", "level")
		}
		return stages[0]
	}
	if data := asList(levels["data"]); len(data) > 0 {
		if m, ok := asMap(data[0]); ok {
			if lvl := str(m, "level"); lvl != "" {
				return lvl
			}
		}
	}
	return string(event.StageLight)
}
