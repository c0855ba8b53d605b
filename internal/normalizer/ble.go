package normalizer

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// ErrShortFrame is returned for a Heart Rate Measurement frame that ends
// before its heart-rate field.
var ErrShortFrame = errors.New("heart rate measurement frame too short")

// hrFormatUint16 is bit 0 of the flags byte: the value is a little-endian uint16.
const hrFormatUint16 = 0x01

// DecodeHeartRateMeasurement decodes a Bluetooth GATT Heart Rate Measurement
// characteristic value. An empty frame decodes to 0.
func DecodeHeartRateMeasurement(frame []byte) (uint16, error) {
	if len(frame) == 0 {
		return 0, nil
	}
	if frame[0]&hrFormatUint16 != 0 {
		if len(frame) < 3 {
			return 0, ErrShortFrame
		}
		return binary.LittleEndian.Uint16(frame[1:3]), nil
	}
	if len(frame) < 2 {
		return 0, ErrShortFrame
	}
	return uint16(frame[1]), nil
}

// BLE handles heart-rate notifications relayed by the mobile Bluetooth bridge.
type BLE struct{}

func (BLE) Name() string { return "ble" }

func (BLE) Accepts(source string) bool { return source == string(event.SourceBLE) }

func (BLE) Normalize(_ event.Source, p map[string]any) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		ev, err := bleNotification(p)
		push(yield, "ble notification", ev, err)
	}
}

func bleNotification(p map[string]any) (event.Event, error) {
	ts, err := parseInstant(p["ts"])
	if err != nil {
		return event.Event{}, err
	}
	var bpm float64
	if _, ok := first(p, "bpm"); ok {
		if bpm, err = number(p, "bpm"); err != nil {
			return event.Event{}, err
		}
	} else {
		frame, err := frameBytes(p["frame"])
		if err != nil {
			return event.Event{}, err
		}
		hr, err := DecodeHeartRateMeasurement(frame)
		if err != nil {
			return event.Event{}, err
		}
		bpm = float64(hr)
	}
	ev := event.NewHeartRate(str(p, "userId", "user_id"), event.SourceBLE, ts, bpm, device(p["device"], nil))
	if meta, ok := asMap(p["meta"]); ok {
		ev.Meta = meta
	}
	return ev, nil
}

// frameBytes accepts a frame as base64 text or as a JSON array of bytes.
func frameBytes(v any) ([]byte, error) {
	switch f := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w bpm|frame", errMissing)
	case string:
		return base64.StdEncoding.DecodeString(f)
	case []any:
		out := make([]byte, 0, len(f))
		for _, b := range f {
			n, err := toInt64(b)
			if err != nil || n < 0 || n > 0xff {
				return nil, fmt.Errorf("frame byte %v out of range", b)
			}
			out = append(out, byte(n))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported frame type %T", v)
}
