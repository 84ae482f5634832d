package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/streamwin/streamwin/pkg/aggregate"
	"github.com/streamwin/streamwin/pkg/avro"
	"github.com/streamwin/streamwin/pkg/config"
	"github.com/streamwin/streamwin/pkg/kafka"
	"github.com/streamwin/streamwin/pkg/logger"
	"github.com/streamwin/streamwin/pkg/measurement"
	"github.com/streamwin/streamwin/pkg/pipeline"
	"github.com/streamwin/streamwin/pkg/state"
)

const (
	readTimeout     = 1 * time.Second
	commitBatchSize = 100
	commitInterval  = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	log := logger.Get("engine")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	log.Info().
		Str("inputTopic", cfg.Kafka.InputTopic).
		Str("outputTopic", cfg.Kafka.OutputTopic).
		Int("partitions", cfg.Partitions).
		Dur("windowSize", cfg.Windowing.WindowSize).
		Msg("starting streamwin")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	offsets, err := state.OpenOffsetStore(cfg.State.Offsets.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.State.Offsets.Path).Msg("failed to open offset store")
	}
	defer offsets.Close()

	if cfg.Kafka.UseAvro {
		subject := cfg.Kafka.OutputTopic + "-value"
		codec := avro.NewCodec(cfg.Kafka.SchemaRegistry)
		schemaID, ensureErr := codec.EnsureSchema(subject, aggregate.AvroSchema)
		if ensureErr != nil {
			log.Fatal().Err(ensureErr).Str("subject", subject).Msg("failed to register output schema")
		}
		log.Info().Str("subject", subject).Int("schemaID", schemaID).Msg("output schema registered")
	}

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create producer")
	}
	defer producer.Close()

	results := kafka.NewResultSink(producer, cfg.Kafka.OutputTopic)
	late := newLateSink(producer, cfg.Kafka.LateTopic, log)
	decode := newDecoder(cfg.Kafka)

	metrics := pipeline.NewMetrics()
	procs := make([]*pipeline.Processor, cfg.Partitions)
	for i := range procs {
		procs[i], err = pipeline.NewProcessor(i, cfg.Windowing, decode, results, late, metrics)
		if err != nil {
			log.Fatal().Err(err).Int("partition", i).Msg("failed to create processor")
		}
	}
	router := pipeline.NewRouter(procs)

	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.InputTopic, cfg.Kafka.GroupID, offsets)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create consumer")
	}
	defer consumer.Close()

	g, ctx := errgroup.WithContext(ctx)
	for _, proc := range procs {
		proc := proc
		g.Go(func() error { return proc.Run(ctx) })
	}
	g.Go(func() error { return consume(ctx, consumer, router, log) })
	g.Go(func() error { return statsLoop(ctx, cfg.Stats.Interval, metrics, log) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("engine stopped with error")
		os.Exit(1)
	}
	metrics.Log(log)
	log.Info().Msg("shutdown complete")
}

// consume reads raw records off the input topic, fans them out to the key
// partitions and commits offsets in batches. Offsets are committed once a
// record is enqueued, not once it is processed, so records still buffered in
// partition channels are lost on a crash. Replay of records committed late is
// harmless because closed windows are never reopened.
func consume(ctx context.Context, consumer *kafka.Consumer, router *pipeline.Router, log zerolog.Logger) error {
	var batch []*kafka.Message
	lastCommit := time.Now()

	commit := func() {
		if len(batch) == 0 {
			return
		}
		if err := consumer.CommitBatch(batch); err != nil {
			log.Warn().Err(err).Int("size", len(batch)).Msg("commit batch failed")
		}
		batch = batch[:0]
		lastCommit = time.Now()
	}

	for {
		if ctx.Err() != nil {
			commit()
			return nil
		}

		msg, err := consumer.Read(readTimeout)
		if err != nil {
			log.Warn().Err(err).Msg("read error")
			continue
		}
		if msg == nil {
			if time.Since(lastCommit) > commitInterval {
				commit()
			}
			continue
		}

		rec := pipeline.Record{Key: msg.Key, Payload: msg.Payload, Arrival: msg.Arrival}
		if err := router.Route(ctx, rec); err != nil {
			commit()
			return nil
		}

		batch = append(batch, msg)
		if len(batch) >= commitBatchSize || time.Since(lastCommit) > commitInterval {
			commit()
		}
	}
}

func statsLoop(ctx context.Context, interval time.Duration, metrics *pipeline.Metrics, log zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			metrics.Log(log)
		}
	}
}

// newDecoder picks the payload decoder for the input topic. The Avro path
// unwraps the Confluent wire format before mapping fields; the JSON path
// decodes directly.
func newDecoder(cfg config.KafkaConfig) pipeline.DecodeFunc {
	if !cfg.UseAvro {
		return measurement.Decode
	}
	codec := avro.NewCodec(cfg.SchemaRegistry)
	return func(payload []byte) (measurement.Measurement, error) {
		fields, err := codec.Decode(payload)
		if err != nil {
			return measurement.Measurement{}, err
		}
		return measurement.FromMap(fields)
	}
}

// newLateSink returns the Kafka late sink, or a counting drop sink when no
// late topic is configured.
func newLateSink(producer *kafka.Producer, topic string, log zerolog.Logger) pipeline.LateSink {
	if topic == "" {
		return dropLateSink{log: log}
	}
	return kafka.NewLateSink(producer, topic)
}

type dropLateSink struct {
	log zerolog.Logger
}

func (s dropLateSink) EmitLate(_ context.Context, m measurement.Measurement, _ []byte) error {
	s.log.Debug().Str("location", m.Location).Int64("timestamp", m.Timestamp).
		Msg("no late topic configured, dropping late measurement")
	return nil
}
