package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesHumanFriendlyValues(t *testing.T) {
	path := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 9100
store:
  ring_capacity: 500
  message_ttl: 90s
  sweep_interval: 45s
ack:
  timeout: 10s
  max_retries: 5
rooms:
  file_capacity: 100MB
  max_file_size: 10MB
routing:
  strategy: sticky
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Addr() != "127.0.0.1:9100" {
		t.Fatalf("addr: %s", c.Addr())
	}
	if c.Store.MessageTTL.Duration() != 90*time.Second {
		t.Fatalf("ttl: %v", c.Store.MessageTTL.Duration())
	}
	if c.Ack.MaxRetries != 5 {
		t.Fatalf("retries: %d", c.Ack.MaxRetries)
	}
	if c.Rooms.FileCapacity.Int64() != 100*1000*1000 {
		t.Fatalf("file capacity: %d", c.Rooms.FileCapacity.Int64())
	}
	if c.Rooms.MaxFileSize.Int64() != 10*1000*1000 {
		t.Fatalf("max file size: %d", c.Rooms.MaxFileSize.Int64())
	}
	if c.Routing.Strategy != "sticky" {
		t.Fatalf("strategy: %s", c.Routing.Strategy)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 8765 {
		t.Fatalf("default port: %d", c.Server.Port)
	}
	if c.Store.MessageTTL.Duration() != 5*time.Minute {
		t.Fatalf("default ttl: %v", c.Store.MessageTTL.Duration())
	}
	if c.Ack.Timeout.Duration() != 30*time.Second || c.Ack.MaxRetries != 3 {
		t.Fatalf("ack defaults: %v/%d", c.Ack.Timeout.Duration(), c.Ack.MaxRetries)
	}
	if c.Rooms.FileCapacity.Int64() != 100*1024*1024 || c.Rooms.MaxFileSize.Int64() != 10*1024*1024 {
		t.Fatalf("room defaults: %d/%d", c.Rooms.FileCapacity.Int64(), c.Rooms.MaxFileSize.Int64())
	}
	if c.Routing.Strategy != "round_robin" {
		t.Fatalf("default strategy: %s", c.Routing.Strategy)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
logging:
  level: info
`)
	t.Setenv("AGENTBUS_PORT", "9200")
	t.Setenv("AGENTBUS_LOG_LEVEL", "debug")
	t.Setenv("AGENTBUS_ACK_TIMEOUT", "7s")
	t.Setenv("AGENTBUS_ROUTING_STRATEGY", "least_pending")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 9200 {
		t.Fatalf("env port: %d", c.Server.Port)
	}
	if c.Logging.Level != "debug" {
		t.Fatalf("env log level: %s", c.Logging.Level)
	}
	if c.Ack.Timeout.Duration() != 7*time.Second {
		t.Fatalf("env ack timeout: %v", c.Ack.Timeout.Duration())
	}
	if c.Routing.Strategy != "least_pending" {
		t.Fatalf("env strategy: %s", c.Routing.Strategy)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "store:\n  message_ttl: not-a-duration\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("invalid duration must fail")
	}
}
