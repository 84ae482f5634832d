package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamwin/streamwin/pkg/aggregate"
	"github.com/streamwin/streamwin/pkg/config"
	"github.com/streamwin/streamwin/pkg/logger"
	"github.com/streamwin/streamwin/pkg/measurement"
	"github.com/streamwin/streamwin/pkg/watermark"
	"github.com/streamwin/streamwin/pkg/window"
)

const recordChannelSize = 4096

// ResultSink receives one windowed result per closed window.
type ResultSink interface {
	EmitResult(ctx context.Context, r aggregate.Result) error
}

// LateSink receives measurements whose window had already closed when they
// arrived, together with their raw payload.
type LateSink interface {
	EmitLate(ctx context.Context, m measurement.Measurement, raw []byte) error
}

// DecodeFunc turns a raw payload into a Measurement. The engine ships a JSON
// and an Avro implementation; both are pure.
type DecodeFunc func(payload []byte) (measurement.Measurement, error)

// Record is one raw input record with its transport-assigned arrival time.
type Record struct {
	Key     []byte
	Payload []byte
	Arrival time.Time
}

// Processor runs one key-partition of the engine: it decodes records in
// arrival order, feeds the watermark tracker, buckets measurements into
// tumbling windows and emits each window once the watermark passes its end.
//
// All state is confined to the Run goroutine; the only concurrent entry
// point is Submit, which hands records over through a channel.
type Processor struct {
	id        int
	windowing config.WindowingConfig

	tracker *watermark.Tracker
	store   *window.Store
	decode  DecodeFunc

	results ResultSink
	late    LateSink
	metrics *Metrics

	records chan Record
	log     zerolog.Logger
}

func NewProcessor(
	id int,
	windowing config.WindowingConfig,
	decode DecodeFunc,
	results ResultSink,
	late LateSink,
	metrics *Metrics,
) (*Processor, error) {
	if err := windowing.Validate(); err != nil {
		return nil, err
	}

	tracker, err := watermark.NewTracker(windowing.MaxOutOfOrderness, windowing.IdleTimeout)
	if err != nil {
		return nil, err
	}
	store, err := window.NewStore(windowing.WindowSize)
	if err != nil {
		return nil, err
	}

	return &Processor{
		id:        id,
		windowing: windowing,
		tracker:   tracker,
		store:     store,
		decode:    decode,
		results:   results,
		late:      late,
		metrics:   metrics,
		records:   make(chan Record, recordChannelSize),
		log:       logger.Get("processor").With().Int("partition", id).Logger(),
	}, nil
}

// Submit hands a record to the processor, blocking while its channel is full.
func (p *Processor) Submit(ctx context.Context, rec Record) error {
	select {
	case p.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes records and watermark ticks until the context is canceled.
// The tick cadence is wall-clock driven and independent of record arrival,
// so idle detection keeps working with no input at all. On cancellation all
// unclosed bucket state is discarded.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.windowing.WatermarkInterval)
	defer ticker.Stop()

	p.log.Info().
		Dur("windowSize", p.windowing.WindowSize).
		Dur("maxOutOfOrderness", p.windowing.MaxOutOfOrderness).
		Dur("idleTimeout", p.windowing.IdleTimeout).
		Msg("partition processor started")

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Int("openWindows", p.store.Open()).Msg("partition processor stopped")
			return nil
		case rec := <-p.records:
			p.handleRecord(ctx, rec)
		case now := <-ticker.C:
			p.tick(ctx, now)
		}
	}
}

func (p *Processor) handleRecord(ctx context.Context, rec Record) {
	m, err := p.decode(rec.Payload)
	if err != nil {
		p.metrics.IncInvalid()
		p.log.Debug().Err(err).Msg("dropping invalid record")
		return
	}

	p.tracker.OnRecord(m.Timestamp, rec.Arrival)

	switch p.store.Admit(m, p.tracker.Last()) {
	case window.Accepted:
		p.metrics.IncAccepted()
	case window.Late:
		p.metrics.IncLate()
		if err := p.late.EmitLate(ctx, m, rec.Payload); err != nil {
			p.log.Warn().Err(err).Str("location", m.Location).
				Int64("timestamp", m.Timestamp).Msg("late output failed")
		}
	}
}

// tick advances the watermark for the given wall-clock instant and emits
// every window it confirms closed, in ascending window-end order.
func (p *Processor) tick(ctx context.Context, now time.Time) {
	wm := p.tracker.CurrentWatermark(now)

	for _, bucket := range p.store.CloseReady(wm) {
		result := aggregate.FromBucket(bucket)
		lag := aggregate.Lag(result.WindowEnd, now)
		p.metrics.ObserveLag(lag)
		p.metrics.IncEmitted()

		if err := p.results.EmitResult(ctx, result); err != nil {
			p.log.Warn().Err(err).Str("location", result.Location).
				Int64("windowEnd", result.WindowEnd).Msg("result output failed")
			continue
		}
		p.log.Debug().Str("location", result.Location).
			Int64("windowStart", result.WindowStart).
			Int64("windowEnd", result.WindowEnd).
			Float64("sum", result.Sum).
			Int64("count", result.Count).
			Dur("lag", lag).
			Msg("window emitted")
	}
}

// OpenWindows reports the number of buckets currently held by this
// partition's store. Safe only from the Run goroutine or after Run returns;
// it exists for tests and shutdown logging.
func (p *Processor) OpenWindows() int {
	return p.store.Open()
}
