package window

import (
	"fmt"
	"time"

	"github.com/streamwin/streamwin/pkg/measurement"
)

// Span identifies one tumbling window: the half-open event-time interval
// [Start, End) in milliseconds. End is always Start plus the window size.
type Span struct {
	Start int64
	End   int64
}

// Assigner maps event timestamps onto tumbling window spans. Windows are
// contiguous and non-overlapping, so every timestamp belongs to exactly one.
type Assigner struct {
	size int64 // milliseconds
}

func NewAssigner(size time.Duration) (*Assigner, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %v", size)
	}
	return &Assigner{size: size.Milliseconds()}, nil
}

// Assign returns the span whose start is the largest multiple of the window
// size not exceeding eventTime. Plain integer division truncates toward
// zero, so negative timestamps need the floored remainder.
func (a *Assigner) Assign(eventTime int64) Span {
	rem := eventTime % a.size
	if rem < 0 {
		rem += a.size
	}
	start := eventTime - rem
	return Span{Start: start, End: start + a.size}
}

// Size returns the window size in milliseconds.
func (a *Assigner) Size() int64 {
	return a.size
}

// Verdict is the outcome of admitting a measurement into the store.
type Verdict int

const (
	// Accepted means the measurement was folded into its window's bucket.
	Accepted Verdict = iota
	// Late means the watermark already passed the window's end; the
	// measurement was not folded anywhere and belongs on the late output.
	Late
)

// Bucket is the mutable accumulator for one (location, span) pair. It exists
// only while its window is open; CloseReady hands ownership to the caller.
type Bucket struct {
	Location string
	Span
	Sum   float64
	Count int64
}

func (b *Bucket) fold(value float64) {
	b.Sum += value
	b.Count++
}

type bucketKey struct {
	location string
	start    int64
}

// Store owns the open window buckets of a single key-partition. Buckets are
// created lazily on the first accepted measurement, so memory is bounded by
// the number of distinct open (location, window) pairs, not record volume.
//
// A Store is confined to one partition's goroutine and is not safe for
// concurrent use.
type Store struct {
	assigner *Assigner
	buckets  map[bucketKey]*Bucket
	closing  closeIndex
}

func NewStore(windowSize time.Duration) (*Store, error) {
	assigner, err := NewAssigner(windowSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		assigner: assigner,
		buckets:  make(map[bucketKey]*Bucket),
	}, nil
}

// Assigner exposes the store's window assigner, mainly so callers can
// compute a late measurement's target span for reporting.
func (s *Store) Assigner() *Assigner {
	return s.assigner
}

// Admit routes one measurement: late when the watermark has already passed
// its window's close, otherwise folded into the window's bucket. Late
// measurements never touch an accumulator.
func (s *Store) Admit(m measurement.Measurement, currentWatermark int64) Verdict {
	span := s.assigner.Assign(m.Timestamp)
	if m.Timestamp < currentWatermark && span.End <= currentWatermark {
		return Late
	}

	key := bucketKey{location: m.Location, start: span.Start}
	bucket, ok := s.buckets[key]
	if !ok {
		bucket = &Bucket{Location: m.Location, Span: span}
		s.buckets[key] = bucket
		s.closing.add(span.End, key)
	}
	bucket.fold(m.Value)
	return Accepted
}

// CloseReady removes and returns every bucket whose window end is at or
// below the watermark, in ascending window-end order. This is the only way
// buckets leave the store, so each window is emitted exactly once.
func (s *Store) CloseReady(currentWatermark int64) []*Bucket {
	keys := s.closing.drain(currentWatermark)
	if len(keys) == 0 {
		return nil
	}

	closed := make([]*Bucket, 0, len(keys))
	for _, key := range keys {
		bucket, ok := s.buckets[key]
		if !ok {
			continue
		}
		delete(s.buckets, key)
		closed = append(closed, bucket)
	}
	return closed
}

// Open returns the number of currently open buckets.
func (s *Store) Open() int {
	return len(s.buckets)
}
