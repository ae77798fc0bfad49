// Package config loads process configuration from the environment and the
// pipeline declarations from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds process-level settings, loaded from environment variables.
type Config struct {
	Logging   LogConfig
	Metrics   MetricsConfig
	Kafka     KafkaConfig
	Postgres  PostgresConfig
	Data      DataConfig
	Offsets   OffsetsConfig
	Pipelines PipelinesConfig
}

type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

type MetricsConfig struct {
	Addr    string `envconfig:"METRICS_ADDR" default:":9109"`
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

type KafkaConfig struct {
	// Brokers is the static fallback; BROKERS_ENV names a variable the
	// resolver re-reads on every restart, so endpoints appearing later are
	// picked up without a process restart.
	Brokers    string `envconfig:"KAFKA_BROKERS" default:""`
	BrokersEnv string `envconfig:"KAFKA_BROKERS_ENV" default:"KAFKA_BROKERS"`
}

type PostgresConfig struct {
	DSN         string `envconfig:"PG_DSN" default:""`
	EventsTable string `envconfig:"PG_EVENTS_TABLE" default:"events"`
}

type DataConfig struct {
	Dir string `envconfig:"DATA_DIR" default:"./data"`
}

// OffsetsConfig selects where pipeline progress is persisted.
type OffsetsConfig struct {
	// Backend is "file", "postgres" or "rocks".
	Backend   string `envconfig:"OFFSET_BACKEND" default:"file"`
	RocksPath string `envconfig:"OFFSET_ROCKS_PATH" default:""`
}

type PipelinesConfig struct {
	File string `envconfig:"PIPELINES_FILE" default:"./pipelines.yaml"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Duration parses YAML scalars like "30s" or "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Pipeline declares one pipeline type and the shards it covers. Each
// (pipeline, shard) pair becomes one independently supervised worker.
type Pipeline struct {
	ID     string  `yaml:"id"`
	Sink   string  `yaml:"sink"` // "kafka" or "postgres"
	Topic  string  `yaml:"topic,omitempty"`
	Table  string  `yaml:"table,omitempty"`
	Shards []Shard `yaml:"shards"`

	// Kafka topic creation settings, used by the one-time prepare barrier.
	Partitions  int32 `yaml:"partitions,omitempty"`  // default 1
	Replication int16 `yaml:"replication,omitempty"` // default 1

	PrepareTimeout Duration `yaml:"prepare_timeout,omitempty"`
	ResolveTimeout Duration `yaml:"resolve_timeout,omitempty"`
	CommitEvery    int      `yaml:"commit_every,omitempty"`
	Backoff        Backoff  `yaml:"backoff,omitempty"`
	RestartDelay   Duration `yaml:"restart_delay,omitempty"`
}

type Shard struct {
	EntityType string   `yaml:"entity_type"`
	Names      []string `yaml:"names"`
}

type Backoff struct {
	Min             Duration `yaml:"min,omitempty"`
	Max             Duration `yaml:"max,omitempty"`
	Jitter          float64  `yaml:"jitter,omitempty"`
	ResetOnProgress *bool    `yaml:"reset_on_progress,omitempty"`
}

type PipelinesFile struct {
	Pipelines []Pipeline `yaml:"pipelines"`
}

// LoadPipelines reads and validates the YAML pipeline declarations.
func LoadPipelines(path string) (*PipelinesFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f PipelinesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(f.Pipelines) == 0 {
		return nil, fmt.Errorf("config: %s declares no pipelines", path)
	}
	for i, p := range f.Pipelines {
		if p.ID == "" {
			return nil, fmt.Errorf("config: pipeline %d has no id", i)
		}
		if p.Sink != "kafka" && p.Sink != "postgres" {
			return nil, fmt.Errorf("config: pipeline %q: unknown sink %q", p.ID, p.Sink)
		}
		if p.Sink == "kafka" && p.Topic == "" {
			return nil, fmt.Errorf("config: pipeline %q: kafka sink needs a topic", p.ID)
		}
		if len(p.Shards) == 0 {
			return nil, fmt.Errorf("config: pipeline %q declares no shards", p.ID)
		}
		for _, s := range p.Shards {
			if s.EntityType == "" || len(s.Names) == 0 {
				return nil, fmt.Errorf("config: pipeline %q: shard needs entity_type and names", p.ID)
			}
		}
	}
	return &f, nil
}
