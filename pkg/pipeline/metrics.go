package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics aggregates counters across all partition processors. All methods
// are safe for concurrent use.
type Metrics struct {
	invalidRecords  atomic.Int64
	acceptedRecords atomic.Int64
	lateRecords     atomic.Int64
	emittedWindows  atomic.Int64
	lastLagMillis   atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncInvalid()  { m.invalidRecords.Add(1) }
func (m *Metrics) IncAccepted() { m.acceptedRecords.Add(1) }
func (m *Metrics) IncLate()     { m.lateRecords.Add(1) }
func (m *Metrics) IncEmitted()  { m.emittedWindows.Add(1) }

// ObserveLag records how far behind wall clock the latest window emission
// ran. Only the most recent observation is kept.
func (m *Metrics) ObserveLag(lag time.Duration) {
	m.lastLagMillis.Store(lag.Milliseconds())
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	InvalidRecords  int64
	AcceptedRecords int64
	LateRecords     int64
	EmittedWindows  int64
	LastLagMillis   int64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		InvalidRecords:  m.invalidRecords.Load(),
		AcceptedRecords: m.acceptedRecords.Load(),
		LateRecords:     m.lateRecords.Load(),
		EmittedWindows:  m.emittedWindows.Load(),
		LastLagMillis:   m.lastLagMillis.Load(),
	}
}

// Log writes the current counters through the given logger.
func (m *Metrics) Log(log zerolog.Logger) {
	s := m.Snapshot()
	log.Info().
		Int64("accepted", s.AcceptedRecords).
		Int64("invalid", s.InvalidRecords).
		Int64("late", s.LateRecords).
		Int64("emittedWindows", s.EmittedWindows).
		Int64("lastLagMillis", s.LastLagMillis).
		Msg("pipeline stats")
}
