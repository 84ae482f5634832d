package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// KafkaConfig groups broker and topic settings shared by consumer and producer.
type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	SchemaRegistry string   `yaml:"schemaRegistry"`
	UseAvro        bool     `yaml:"useAvro"`
	InputTopic     string   `yaml:"inputTopic"`
	OutputTopic    string   `yaml:"outputTopic"`
	LateTopic      string   `yaml:"lateTopic"`
	GroupID        string   `yaml:"groupID"`
}

// WindowingConfig carries the event-time parameters of the engine.
// WindowSize must be positive; the other durations must be non-negative.
type WindowingConfig struct {
	WindowSize        time.Duration `yaml:"windowSize"`
	MaxOutOfOrderness time.Duration `yaml:"maxOutOfOrderness"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	WatermarkInterval time.Duration `yaml:"watermarkInterval"`
}

type AppConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`

	Windowing WindowingConfig `yaml:"windowing"`

	// Partitions is the number of key-partitions the engine fans records
	// out to. Each partition runs its own tracker and bucket store.
	Partitions int `yaml:"partitions"`

	State struct {
		Offsets struct {
			Path string `yaml:"path"`
		} `yaml:"offsets"`
	} `yaml:"state"`

	Stats struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"stats"`
}

// Defaults returns an AppConfig pre-filled with the values the engine uses
// when the YAML file leaves a field unset.
func Defaults() AppConfig {
	cfg := AppConfig{
		Windowing: WindowingConfig{
			WindowSize:        1 * time.Second,
			MaxOutOfOrderness: 250 * time.Millisecond,
			IdleTimeout:       1 * time.Second,
			WatermarkInterval: 1 * time.Second,
		},
		Partitions: 4,
	}
	cfg.Kafka.GroupID = "streamwin"
	cfg.State.Offsets.Path = "data/offsets"
	cfg.Stats.Interval = 15 * time.Second
	return cfg
}

// Load reads and parses a YAML config file into an AppConfig and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with. The windowing
// checks mirror the construction-time checks inside the core packages, so a
// bad file is refused before any component starts.
func (c *AppConfig) Validate() error {
	if err := c.Windowing.Validate(); err != nil {
		return err
	}
	if c.Partitions <= 0 {
		return fmt.Errorf("partitions must be positive, got %d", c.Partitions)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty")
	}
	if c.Kafka.InputTopic == "" {
		return fmt.Errorf("kafka.inputTopic is required")
	}
	if c.Kafka.OutputTopic == "" {
		return fmt.Errorf("kafka.outputTopic is required")
	}
	if c.Kafka.UseAvro && c.Kafka.SchemaRegistry == "" {
		return fmt.Errorf("kafka.schemaRegistry is required when useAvro is set")
	}
	return nil
}

// Validate checks the event-time parameters on their own, so tests and
// embedded uses can validate without a full AppConfig.
func (w *WindowingConfig) Validate() error {
	if w.WindowSize <= 0 {
		return fmt.Errorf("windowing.windowSize must be positive, got %v", w.WindowSize)
	}
	if w.MaxOutOfOrderness < 0 {
		return fmt.Errorf("windowing.maxOutOfOrderness cannot be negative, got %v", w.MaxOutOfOrderness)
	}
	if w.IdleTimeout < 0 {
		return fmt.Errorf("windowing.idleTimeout cannot be negative, got %v", w.IdleTimeout)
	}
	if w.WatermarkInterval <= 0 {
		return fmt.Errorf("windowing.watermarkInterval must be positive, got %v", w.WatermarkInterval)
	}
	return nil
}
