package kafka

import (
	"context"

	"github.com/streamwin/streamwin/pkg/aggregate"
	"github.com/streamwin/streamwin/pkg/measurement"
)

type mapPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value map[string]any) error
}

type rawPublisher interface {
	PublishRaw(ctx context.Context, topic string, key, payload []byte) error
}

// ResultSink publishes windowed results, keyed by location so downstream
// consumers see each key's windows in emission order.
type ResultSink struct {
	pub   mapPublisher
	topic string
}

func NewResultSink(pub mapPublisher, topic string) *ResultSink {
	return &ResultSink{pub: pub, topic: topic}
}

func (s *ResultSink) EmitResult(ctx context.Context, r aggregate.Result) error {
	return s.pub.Publish(ctx, s.topic, []byte(r.Location), r.Fields())
}

// LateSink forwards measurements that arrived after their window closed,
// in their original raw form, for reprocessing outside the engine.
type LateSink struct {
	pub   rawPublisher
	topic string
}

func NewLateSink(pub rawPublisher, topic string) *LateSink {
	return &LateSink{pub: pub, topic: topic}
}

func (s *LateSink) EmitLate(ctx context.Context, m measurement.Measurement, raw []byte) error {
	return s.pub.PublishRaw(ctx, s.topic, []byte(m.Location), raw)
}
