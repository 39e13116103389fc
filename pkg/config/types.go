package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct. Every tunable named here can
// also be supplied through AGENTBUS_* environment variables; explicit
// flags win over env, env wins over the file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Bus      BusConfig      `yaml:"bus"`
	Store    StoreConfig    `yaml:"store"`
	Ack      AckConfig      `yaml:"ack"`
	Rooms    RoomsConfig    `yaml:"rooms"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Collab   CollabConfig   `yaml:"collab"`
	Routing  RoutingConfig  `yaml:"routing"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StorageConfig locates the durable stores.
type StorageConfig struct {
	DBPath     string `yaml:"db_path"`
	SQLitePath string `yaml:"sqlite_path"`
}

// BusConfig bounds the connection registry.
type BusConfig struct {
	MaxConnections int `yaml:"max_connections"`
	MaxPerClient   int `yaml:"max_per_client"`
	SendBuffer     int `yaml:"send_buffer"`
}

// StoreConfig bounds the in-memory envelope ring and its TTL sweep. The
// durable inbox log is unaffected by the TTL; CompactCron optionally
// schedules removal of durable entries older than CompactAge.
type StoreConfig struct {
	RingCapacity  int      `yaml:"ring_capacity"`
	MessageTTL    Duration `yaml:"message_ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
	CompactCron   string   `yaml:"compact_cron"`
	CompactAge    Duration `yaml:"compact_age"`
}

// AckConfig drives the acknowledgment/retry state machine.
type AckConfig struct {
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
	RetryDelay Duration `yaml:"retry_delay"`
}

// RoomsConfig bounds per-room resources.
type RoomsConfig struct {
	FileCapacity   SizeBytes `yaml:"file_capacity"`
	MaxFileSize    SizeBytes `yaml:"max_file_size"`
	ChannelBacklog int       `yaml:"channel_backlog"`
}

// TasksConfig drives the queued-task bridge.
type TasksConfig struct {
	DefaultTimeout Duration `yaml:"default_timeout"`
	SweepInterval  Duration `yaml:"sweep_interval"`
}

// CollabConfig gates optional collaboration features.
type CollabConfig struct {
	EnableExec bool `yaml:"enable_exec"`
}

// RoutingConfig selects the work-routing strategy: round_robin,
// least_pending, lowest_latency, random, weighted_random or sticky.
type RoutingConfig struct {
	Strategy string `yaml:"strategy"`
}

// SecurityConfig holds CORS and rate-limit settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes is a byte count unmarshaled from human-friendly strings like
// "100MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration wraps time.Duration with YAML parsing from strings like
// "30s" or plain numbers interpreted as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
