package normalizer_test

import (
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
	"github.com/gyaneshwarpardhi/vitalsync/internal/normalizer"
)

func payload(t *testing.T, doc string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return m
}

func collect(seq iter.Seq2[event.Event, error]) ([]event.Event, []error) {
	var evs []event.Event
	var errs []error
	for ev, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		evs = append(evs, ev)
	}
	return evs, errs
}

func run(t *testing.T, src event.Source, doc string) ([]event.Event, []error) {
	t.Helper()
	n, err := normalizer.Default().Lookup(string(src))
	if err != nil {
		t.Fatalf("lookup %s: %v", src, err)
	}
	return collect(n.Normalize(src, payload(t, doc)))
}

func TestFitbit(t *testing.T) {
	evs, errs := run(t, event.SourceFitbit, `{
		"user_id": "u1",
		"dateTime": "2023-09-01",
		"heart_rate": {"dataset": [{"time": "06:30:00", "value": 72}]},
		"steps": [{"dateTime": "2023-09-01", "value": "8000"}],
		"sleep": [{"startTime": "2023-08-31T23:10:00.000", "duration": 27000000,
			"levels": {"summary": {"stages": "deep"}}}]
	}`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3", len(evs))
	}

	hr := evs[0]
	if hr.Kind != event.KindHeartRate || *hr.BPM != 72 {
		t.Errorf("heart rate event = %+v", hr)
	}
	if want := time.Date(2023, 9, 1, 6, 30, 0, 0, time.UTC); !hr.Timestamp.Equal(want) {
		t.Errorf("heart rate ts = %v, want %v", hr.Timestamp, want)
	}

	steps := evs[1]
	if steps.Kind != event.KindSteps || *steps.Steps != 8000 || steps.Window != "P1D" {
		t.Errorf("steps event = %+v", steps)
	}

	sleep := evs[2]
	if sleep.Stage != event.StageDeep || *sleep.DurationSeconds != 27000 {
		t.Errorf("sleep event = %+v", sleep)
	}
	for _, ev := range evs {
		if ev.Source != event.SourceFitbit || ev.UserID != "u1" {
			t.Errorf("identity = %s/%s", ev.Source, ev.UserID)
		}
	}
}

func TestGarmin(t *testing.T) {
	evs, errs := run(t, event.SourceGarmin, `{
		"userId": "u2",
		"heartRateSamples": [{"endTimestampGMT": 1693549800, "heartRate": 64}],
		"stepsSummary": {"calendarDate": "2023-09-01", "steps": 1234},
		"sleepLevels": [{"startGMT": "2023-09-01T01:00:00Z", "activityLevel": "REM", "durationInSeconds": 600}]
	}`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3", len(evs))
	}
	if want := time.Date(2023, 9, 1, 6, 30, 0, 0, time.UTC); !evs[0].Timestamp.Equal(want) {
		t.Errorf("epoch ts = %v, want %v", evs[0].Timestamp, want)
	}
	if *evs[1].Steps != 1234 || evs[1].Window != "P1D" {
		t.Errorf("steps event = %+v", evs[1])
	}
	if evs[2].Stage != event.StageREM || *evs[2].DurationSeconds != 600 {
		t.Errorf("sleep event = %+v", evs[2])
	}
}

func TestOuraSleepSegments(t *testing.T) {
	evs, errs := run(t, event.SourceOura, `{
		"user": "u3",
		"sleep": {"stages": [
			{"start": "2023-09-01T00:00:00Z", "stage": "deep", "duration": 1800},
			{"start": "2023-09-01T00:30:00Z", "stage": "rem", "duration": 900}
		]}
	}`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if evs[0].Timestamp.Equal(evs[1].Timestamp) {
		t.Error("segments share a timestamp")
	}
	if evs[0].Device == nil || evs[0].Device.Vendor != "Oura" {
		t.Errorf("device = %+v, want vendor Oura", evs[0].Device)
	}
}

func TestWithingsCategoryFilter(t *testing.T) {
	evs, errs := run(t, event.SourceWithings, `{
		"userid": "u4",
		"measuregrps": [
			{"category": 1, "date": 1693526400, "steps": 5000},
			{"category": 2, "date": 1693526400, "steps": 1}
		]
	}`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(evs) != 1 || *evs[0].Steps != 5000 {
		t.Fatalf("events = %+v, want one 5000-step event", evs)
	}
}

func TestPerSampleErrorIsolation(t *testing.T) {
	evs, errs := run(t, event.SourceGarmin, `{
		"userId": "u2",
		"heartRateSamples": [
			{"endTimestampGMT": 1693549800, "heartRate": "abc"},
			{"endTimestampGMT": 1693549860, "heartRate": 66}
		]
	}`)
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if !strings.Contains(errs[0].Error(), "heartRateSamples[0]") {
		t.Errorf("error %q does not locate the sample", errs[0])
	}
	if len(evs) != 1 || *evs[0].BPM != 66 {
		t.Fatalf("events = %+v, want the valid sibling", evs)
	}
}

func TestMissingUserIsInvalid(t *testing.T) {
	_, errs := run(t, event.SourceOura, `{"heart_rate": [{"timestamp": "2023-09-01T00:00:00Z", "bpm": 60}]}`)
	if len(errs) != 1 || !errors.Is(errs[0], event.ErrInvalidEvent) {
		t.Fatalf("errors = %v, want one ErrInvalidEvent", errs)
	}
}

func TestDecodeHeartRateMeasurement(t *testing.T) {
	cases := []struct {
		name    string
		frame   []byte
		want    uint16
		wantErr bool
	}{
		{name: "uint8", frame: []byte{0x00, 0x3C}, want: 60},
		{name: "uint16", frame: []byte{0x01, 0x0F, 0x00}, want: 15},
		{name: "uint16 high byte", frame: []byte{0x01, 0x2C, 0x01}, want: 300},
		{name: "empty", frame: nil, want: 0},
		{name: "truncated uint16", frame: []byte{0x01, 0x0F}, wantErr: true},
		{name: "flags only", frame: []byte{0x00}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizer.DecodeHeartRateMeasurement(tc.frame)
			if tc.wantErr {
				if !errors.Is(err, normalizer.ErrShortFrame) {
					t.Fatalf("err = %v, want ErrShortFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBLE(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want float64
	}{
		{name: "byte array frame", doc: `{"userId": "u5", "ts": "2023-09-01T06:30:00Z", "frame": [0, 60]}`, want: 60},
		{name: "base64 frame", doc: `{"userId": "u5", "ts": "2023-09-01T06:30:00Z", "frame": "AQ8A"}`, want: 15},
		{name: "bpm wins over frame", doc: `{"userId": "u5", "ts": "2023-09-01T06:30:00Z", "bpm": 81, "frame": [0, 60]}`, want: 81},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evs, errs := run(t, event.SourceBLE, tc.doc)
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if len(evs) != 1 || *evs[0].BPM != tc.want {
				t.Fatalf("events = %+v, want bpm %v", evs, tc.want)
			}
		})
	}

	_, errs := run(t, event.SourceBLE, `{"userId": "u5", "frame": [0, 60]}`)
	if len(errs) != 1 {
		t.Fatalf("missing ts: got %d errors, want 1", len(errs))
	}
}

func TestHealth(t *testing.T) {
	evs, errs := run(t, event.SourceHealthKit, `{
		"type": "HKCategoryTypeIdentifierSleepAnalysis",
		"userId": "u6",
		"ts": "2023-09-01T02:00:00Z",
		"value": 3,
		"duration": 1200
	}`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(evs) != 1 || evs[0].Stage != event.StageREM || *evs[0].DurationSeconds != 1200 {
		t.Fatalf("events = %+v, want one rem segment", evs)
	}

	evs, errs = run(t, event.SourceHealthConnect, `{
		"type": "HeartRateRecord",
		"userId": "u6",
		"endDate": "2023-09-01T06:30:00Z",
		"value": 58,
		"sourceName": "Pixel Watch"
	}`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	if evs[0].Source != event.SourceHealthConnect {
		t.Errorf("source = %s, want caller's tag", evs[0].Source)
	}
	if evs[0].Device == nil || evs[0].Device.Vendor != "Pixel Watch" {
		t.Errorf("device = %+v", evs[0].Device)
	}

	evs, errs = run(t, event.SourceHealthKit, `{"type": "HKQuantityTypeIdentifierBodyMass", "userId": "u6", "value": 70}`)
	if len(evs) != 0 || len(errs) != 0 {
		t.Errorf("unsupported type produced %d events, %d errors", len(evs), len(errs))
	}
}

func TestRegistry(t *testing.T) {
	reg := normalizer.Default()
	if _, err := reg.Lookup("vendor_polar"); !errors.Is(err, normalizer.ErrUnknownSource) {
		t.Errorf("Lookup(vendor_polar) err = %v, want ErrUnknownSource", err)
	}
	if got := len(reg.Sources()); got != len(event.Sources()) {
		t.Errorf("Sources() covers %d sources, want %d", got, len(event.Sources()))
	}

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	reg.Register(normalizer.Fitbit{})
}

func TestForPayload(t *testing.T) {
	canonical := payload(t, `{"kind": "sleep", "userId": "u1", "ts": "2023-09-01T01:00:00+02:00", "stage": "deep", "dur_s": 600}`)
	native := payload(t, `{"user": "u1", "sleep": {"stages": []}}`)

	cases := []struct {
		name string
		n    normalizer.Normalizer
		p    map[string]any
		want string
	}{
		{name: "vendor canonical", n: normalizer.Oura{}, p: canonical, want: "canonical"},
		{name: "vendor native", n: normalizer.Oura{}, p: native, want: "oura"},
		{name: "ble canonical", n: normalizer.BLE{}, p: canonical, want: "canonical"},
		{name: "health keeps kind payloads", n: normalizer.Health{}, p: canonical, want: "health"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizer.ForPayload(tc.n, tc.p).Name(); got != tc.want {
				t.Fatalf("ForPayload = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCanonical(t *testing.T) {
	p := payload(t, `{"kind": "sleep", "userId": "u1", "ts": "2023-09-01T01:00:00+02:00", "stage": "deep", "dur_s": 600}`)
	var evs []event.Event
	for ev, err := range (normalizer.Canonical{}).Normalize(event.SourceOura, p) {
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		evs = append(evs, ev)
	}
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	ev := evs[0]
	if ev.Source != event.SourceOura || ev.Stage != event.StageDeep || !ev.Timestamp.Equal(time.Date(2023, 8, 31, 23, 0, 0, 0, time.UTC)) {
		t.Errorf("event = %+v", ev)
	}

	p["source"] = "vendor_fitbit"
	for _, err := range (normalizer.Canonical{}).Normalize(event.SourceOura, p) {
		if !errors.Is(err, event.ErrInvalidEvent) {
			t.Fatalf("mismatched source: err = %v, want ErrInvalidEvent", err)
		}
	}
}
