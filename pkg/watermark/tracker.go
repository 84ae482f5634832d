package watermark

import (
	"fmt"
	"math"
	"time"
)

// Tracker turns the event timestamps of an unordered record stream into a
// monotonically non-decreasing watermark: a promise that no future record
// will carry an event time below the emitted value.
//
// A Tracker is confined to a single key-partition and is not safe for
// concurrent use.
type Tracker struct {
	maxOutOfOrderness int64 // milliseconds
	idleTimeout       int64 // milliseconds

	maxSeenEventTime     int64
	lastEmittedWatermark int64
	lastArrival          int64 // wall-clock millis of the last record, 0 until one arrives
}

// NewTracker validates the two durations and returns a Tracker. Both must be
// non-negative; the engine refuses to run with undefined semantics.
func NewTracker(maxOutOfOrderness, idleTimeout time.Duration) (*Tracker, error) {
	if maxOutOfOrderness < 0 {
		return nil, fmt.Errorf("maxOutOfOrderness cannot be negative, got %v", maxOutOfOrderness)
	}
	if idleTimeout < 0 {
		return nil, fmt.Errorf("idleTimeout cannot be negative, got %v", idleTimeout)
	}

	// Starting at MinInt64 + maxOutOfOrderness keeps the first candidate
	// computation from underflowing before any record has been seen.
	return &Tracker{
		maxOutOfOrderness:    maxOutOfOrderness.Milliseconds(),
		idleTimeout:          idleTimeout.Milliseconds(),
		maxSeenEventTime:     math.MinInt64 + maxOutOfOrderness.Milliseconds(),
		lastEmittedWatermark: math.MinInt64,
	}, nil
}

// OnRecord registers one record's event timestamp and wall-clock arrival.
// The arrival time always counts for idle detection, even when the event
// time is too old to raise the watermark.
func (t *Tracker) OnRecord(eventTime int64, arrival time.Time) {
	t.lastArrival = arrival.UnixMilli()
	if eventTime > t.maxSeenEventTime {
		t.maxSeenEventTime = eventTime
	}
}

// CurrentWatermark computes and returns the watermark for the given
// wall-clock instant. It is meant to be called on a fixed cadence,
// independent of record arrival, so that an idle source still advances time.
//
// When no record has arrived for longer than the idle timeout (including
// before the first record ever), the max seen event time is pulled up to the
// wall clock so downstream windows do not starve. The emitted value never
// decreases, even if the supplied clock runs backwards.
func (t *Tracker) CurrentWatermark(now time.Time) int64 {
	nowMillis := now.UnixMilli()
	if nowMillis-t.lastArrival > t.idleTimeout {
		t.maxSeenEventTime = nowMillis
	}

	candidate := t.maxSeenEventTime - t.maxOutOfOrderness
	if candidate >= t.lastEmittedWatermark {
		t.lastEmittedWatermark = candidate
	}
	return t.lastEmittedWatermark
}

// Last returns the most recently emitted watermark without advancing it.
func (t *Tracker) Last() int64 {
	return t.lastEmittedWatermark
}
