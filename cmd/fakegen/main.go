package main

import (
	"context"
	"flag"
	"math/rand" // Using weak random for test data generation only
	"os/signal"
	"syscall"
	"time"

	"github.com/streamwin/streamwin/pkg/config"
	"github.com/streamwin/streamwin/pkg/faker"
	"github.com/streamwin/streamwin/pkg/kafka"
	"github.com/streamwin/streamwin/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between generated measurements")
	corruptRatio := flag.Float64("corrupt-ratio", 0.01, "fraction of payloads emitted as undecodable garbage")
	idleEvery := flag.Int("idle-every", 500, "pause after this many measurements to exercise idle detection (0 disables)")
	idlePause := flag.Duration("idle-pause", 3*time.Second, "length of the idle pause")
	flag.Parse()

	log := logger.Get("fakegen")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	if cfg.Kafka.UseAvro {
		if err := faker.RegisterSchema(cfg.Kafka.SchemaRegistry, cfg.Kafka.InputTopic); err != nil {
			log.Fatal().Err(err).Msg("failed to register schema")
		}
	}

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create producer")
	}
	defer producer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("topic", cfg.Kafka.InputTopic).Dur("interval", *interval).Msg("starting generation")

	sent := 0
	for ctx.Err() == nil {
		if *corruptRatio > 0 && rand.Float64() < *corruptRatio { //nolint:gosec // Using weak random for test data generation only
			if err := producer.PublishRaw(ctx, cfg.Kafka.InputTopic, nil, faker.Corrupt()); err != nil {
				log.Warn().Err(err).Msg("failed to publish corrupt payload")
			}
		} else {
			m := faker.Measurement()
			if cfg.Kafka.UseAvro {
				m = faker.AvroMeasurement()
			}
			key := []byte(m["location"].(string))
			if err := producer.Publish(ctx, cfg.Kafka.InputTopic, key, m); err != nil {
				log.Warn().Err(err).Msg("failed to publish measurement")
			}
		}

		sent++
		if *idleEvery > 0 && sent%*idleEvery == 0 {
			log.Info().Int("sent", sent).Dur("pause", *idlePause).Msg("pausing to simulate idle source")
			sleep(ctx, *idlePause)
		} else {
			sleep(ctx, *interval)
		}
	}

	log.Info().Int("sent", sent).Msg("generation stopped")
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
