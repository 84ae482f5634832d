package aggregate

import (
	"time"

	"github.com/streamwin/streamwin/pkg/window"
)

// AvroSchema is the windowed-measurement record registered for the output
// topic's value subject when Avro output is enabled. Field names match the
// JSON tags on Result.
const AvroSchema = `{
  "type": "record",
  "name": "WindowedMeasurement",
  "fields": [
    {"name": "location", "type": "string"},
    {"name": "windowStart", "type": "long"},
    {"name": "windowEnd", "type": "long"},
    {"name": "sumPerWindow", "type": "double"},
    {"name": "eventsPerWindow", "type": "long"}
  ]
}`

// Result is the immutable summary emitted once per closed window. Field
// names on the wire follow the windowed-measurement schema consumed
// downstream.
type Result struct {
	Location    string  `json:"location"`
	WindowStart int64   `json:"windowStart"`
	WindowEnd   int64   `json:"windowEnd"`
	Sum         float64 `json:"sumPerWindow"`
	Count       int64   `json:"eventsPerWindow"`
}

// FromBucket freezes a drained bucket into its output form. Buckets only
// exist for windows that accepted at least one measurement, so a Result can
// never carry a zero count.
func FromBucket(b *window.Bucket) Result {
	return Result{
		Location:    b.Location,
		WindowStart: b.Start,
		WindowEnd:   b.End,
		Sum:         b.Sum,
		Count:       b.Count,
	}
}

// Fields returns the result as a field map for producers that publish
// map-shaped records.
func (r Result) Fields() map[string]any {
	return map[string]any{
		"location":        r.Location,
		"windowStart":     r.WindowStart,
		"windowEnd":       r.WindowEnd,
		"sumPerWindow":    r.Sum,
		"eventsPerWindow": r.Count,
	}
}

// Lag measures how far behind wall clock a window is being emitted. It is
// diagnostic only and not part of the result payload.
func Lag(windowEnd int64, now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-windowEnd) * time.Millisecond
}
