package schema_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
	"github.com/gyaneshwarpardhi/vitalsync/internal/schema"
)

func decode(t *testing.T, doc string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestValidatePayload(t *testing.T) {
	v, err := schema.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cases := []struct {
		name    string
		source  event.Source
		doc     string
		wantErr bool
	}{
		{name: "fitbit ok", source: event.SourceFitbit, doc: `{"user_id": "u1", "steps": [{"value": "10"}]}`},
		{name: "fitbit steps wrong type", source: event.SourceFitbit, doc: `{"steps": "many"}`, wantErr: true},
		{name: "garmin summary object", source: event.SourceGarmin, doc: `{"stepsSummary": {"steps": 5}}`},
		{name: "garmin samples not a list", source: event.SourceGarmin, doc: `{"heartRateSamples": {}}`, wantErr: true},
		{name: "oura ok", source: event.SourceOura, doc: `{"user": "u3", "sleep": {"stages": []}}`},
		{name: "withings ok", source: event.SourceWithings, doc: `{"userid": 42, "measuregrps": []}`},
		{name: "ble frame bytes", source: event.SourceBLE, doc: `{"ts": "2023-09-01T00:00:00Z", "frame": [0, 60]}`},
		{name: "ble frame byte out of range", source: event.SourceBLE, doc: `{"frame": [0, 600]}`, wantErr: true},
		{name: "ble neither bpm nor frame", source: event.SourceBLE, doc: `{"ts": "2023-09-01T00:00:00Z"}`, wantErr: true},
		{name: "health connect typed", source: event.SourceHealthConnect, doc: `{"type": "StepsRecord", "value": 10}`},
		{name: "healthkit untyped", source: event.SourceHealthKit, doc: `{"value": 10}`, wantErr: true},
		{name: "not an object", source: event.SourceOura, doc: `[1, 2]`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidatePayload(tc.source, decode(t, tc.doc))
			if tc.wantErr {
				if !errors.Is(err, schema.ErrInvalid) {
					t.Fatalf("err = %v, want ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidatePayloadUnknownSource(t *testing.T) {
	v, err := schema.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.ValidatePayload("vendor_polar", map[string]any{}); !errors.Is(err, schema.ErrNoSchema) {
		t.Fatalf("err = %v, want ErrNoSchema", err)
	}
}

func TestValidateEvent(t *testing.T) {
	v, err := schema.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := time.Date(2023, 9, 1, 6, 30, 0, 0, time.UTC)

	ok := []event.Event{
		event.NewHeartRate("u1", event.SourceBLE, ts, 72, &event.Device{Vendor: "Polar"}),
		event.NewSteps("u1", event.SourceFitbit, ts, 8000, "P1D", nil),
		event.NewSleep("u1", event.SourceOura, ts, event.StageDeep, 1800, nil),
	}
	for _, ev := range ok {
		if err := v.ValidateEvent(ev); err != nil {
			t.Errorf("ValidateEvent(%s): %v", ev.Kind, err)
		}
	}

	bad := event.NewHeartRate("", event.SourceBLE, ts, 72, nil)
	if err := v.ValidateEvent(bad); !errors.Is(err, event.ErrInvalidEvent) {
		t.Errorf("missing user: err = %v, want ErrInvalidEvent", err)
	}
}
