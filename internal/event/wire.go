package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEvent is the JSON envelope exchanged with devices and kept in the store.
type wireEvent struct {
	UserID          string         `json:"userId"`
	Kind            Kind           `json:"kind"`
	TS              string         `json:"ts"`
	Source          Source         `json:"source"`
	Device          *Device        `json:"device,omitempty"`
	BPM             *float64       `json:"bpm,omitempty"`
	Steps           *int64         `json:"steps,omitempty"`
	Window          string         `json:"window,omitempty"`
	Stage           Stage          `json:"stage,omitempty"`
	DurationSeconds *float64       `json:"dur_s,omitempty"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// MarshalJSON renders the canonical wire shape. RawPayload is not part of it.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		UserID:          e.UserID,
		Kind:            e.Kind,
		Source:          e.Source,
		BPM:             e.BPM,
		Steps:           e.Steps,
		Window:          e.Window,
		Stage:           e.Stage,
		DurationSeconds: e.DurationSeconds,
		Meta:            e.Meta,
	}
	if !e.Timestamp.IsZero() {
		w.TS = e.TimestampString()
	}
	if !e.Device.IsZero() {
		w.Device = e.Device
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the canonical wire shape.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var ts time.Time
	if w.TS != "" {
		parsed, err := time.Parse(time.RFC3339Nano, w.TS)
		if err != nil {
			return fmt.Errorf("event ts: %w", err)
		}
		ts = NormalizeTime(parsed)
	}
	*e = Event{
		UserID:          w.UserID,
		Kind:            w.Kind,
		Timestamp:       ts,
		Source:          w.Source,
		Device:          w.Device,
		BPM:             w.BPM,
		Steps:           w.Steps,
		Window:          w.Window,
		Stage:           w.Stage,
		DurationSeconds: w.DurationSeconds,
		Meta:            w.Meta,
	}
	return nil
}
