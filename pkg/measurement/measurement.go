package measurement

import (
	"fmt"
	"math"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigFastest

// Measurement is one decoded sensor reading. Timestamp is the event time in
// milliseconds since the epoch, embedded in the payload by the producer.
type Measurement struct {
	Location  string  `json:"location"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Decode parses a raw JSON payload into a Measurement. Decoding is pure and
// stateless; a malformed payload yields an error, never a panic, and the
// caller decides how to account for it.
func Decode(payload []byte) (Measurement, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Measurement{}, fmt.Errorf("unmarshal measurement: %w", err)
	}
	return FromMap(fields)
}

// FromMap builds a Measurement from already-decoded fields. This is the
// common path for both the JSON decoder and Avro records, whose decoders
// produce map values with differing numeric types.
func FromMap(fields map[string]any) (Measurement, error) {
	rawLocation, ok := fields["location"]
	if !ok {
		return Measurement{}, fmt.Errorf("missing field 'location'")
	}
	location, ok := rawLocation.(string)
	if !ok || location == "" {
		return Measurement{}, fmt.Errorf("field 'location' must be a non-empty string")
	}

	rawTimestamp, ok := fields["timestamp"]
	if !ok {
		return Measurement{}, fmt.Errorf("missing field 'timestamp'")
	}
	timestamp, err := toInt64(rawTimestamp)
	if err != nil {
		return Measurement{}, fmt.Errorf("field 'timestamp': %w", err)
	}

	rawValue, ok := fields["value"]
	if !ok {
		return Measurement{}, fmt.Errorf("missing field 'value'")
	}
	value, err := toFloat64(rawValue)
	if err != nil {
		return Measurement{}, fmt.Errorf("field 'value': %w", err)
	}

	return Measurement{Location: location, Timestamp: timestamp, Value: value}, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("not a finite number: %v", n)
		}
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case time.Time:
		// Avro timestamp-millis decodes to time.Time.
		return n.UnixMilli(), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// toFloat64 also accepts numeric strings: upstream producers serialize the
// value field either as a JSON number or as its textual form.
func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("not a finite number: %v", n)
		}
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric string %q", n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
