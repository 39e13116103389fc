package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied after file and env merging. These mirror the documented
// operational defaults: 5m message TTL, 30s ack timeout, 3 retries, 100MB
// room capacity, 10MB per file.
func applyDefaults(c *Config) {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8765
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "./db"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./db/agentbus.sqlite"
	}
	if c.Bus.MaxConnections == 0 {
		c.Bus.MaxConnections = 1000
	}
	if c.Bus.MaxPerClient == 0 {
		c.Bus.MaxPerClient = 8
	}
	if c.Bus.SendBuffer == 0 {
		c.Bus.SendBuffer = 256
	}
	if c.Store.RingCapacity == 0 {
		c.Store.RingCapacity = 10000
	}
	if c.Store.MessageTTL == 0 {
		c.Store.MessageTTL = Duration(5 * time.Minute)
	}
	if c.Store.SweepInterval == 0 {
		c.Store.SweepInterval = Duration(120 * time.Second)
	}
	if c.Store.CompactAge == 0 {
		c.Store.CompactAge = Duration(7 * 24 * time.Hour)
	}
	if c.Ack.Timeout == 0 {
		c.Ack.Timeout = Duration(30 * time.Second)
	}
	if c.Ack.MaxRetries == 0 {
		c.Ack.MaxRetries = 3
	}
	if c.Ack.RetryDelay == 0 {
		c.Ack.RetryDelay = Duration(2 * time.Second)
	}
	if c.Rooms.FileCapacity == 0 {
		c.Rooms.FileCapacity = SizeBytes(100 * 1024 * 1024)
	}
	if c.Rooms.MaxFileSize == 0 {
		c.Rooms.MaxFileSize = SizeBytes(10 * 1024 * 1024)
	}
	if c.Rooms.ChannelBacklog == 0 {
		c.Rooms.ChannelBacklog = 5000
	}
	if c.Tasks.DefaultTimeout == 0 {
		c.Tasks.DefaultTimeout = Duration(10 * time.Minute)
	}
	if c.Tasks.SweepInterval == 0 {
		c.Tasks.SweepInterval = Duration(60 * time.Second)
	}
	if c.Routing.Strategy == "" {
		c.Routing.Strategy = "round_robin"
	}
}

// applyEnv overlays AGENTBUS_* environment variables onto the config.
func applyEnv(c *Config) {
	if v := os.Getenv("AGENTBUS_ADDR"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("AGENTBUS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("AGENTBUS_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("AGENTBUS_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("AGENTBUS_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Bus.MaxConnections = n
		}
	}
	if v := os.Getenv("AGENTBUS_MAX_CONNECTIONS_PER_CLIENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Bus.MaxPerClient = n
		}
	}
	if v := os.Getenv("AGENTBUS_MESSAGE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Store.MessageTTL = Duration(d)
		}
	}
	if v := os.Getenv("AGENTBUS_ACK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Ack.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("AGENTBUS_ACK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ack.MaxRetries = n
		}
	}
	if v := os.Getenv("AGENTBUS_ACK_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Ack.RetryDelay = Duration(d)
		}
	}
	if v := os.Getenv("AGENTBUS_ROOM_FILE_CAPACITY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Rooms.FileCapacity = SizeBytes(n)
		}
	}
	if v := os.Getenv("AGENTBUS_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Rooms.MaxFileSize = SizeBytes(n)
		}
	}
	if v := os.Getenv("AGENTBUS_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Security.CORS.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("AGENTBUS_ROUTING_STRATEGY"); v != "" {
		c.Routing.Strategy = v
	}
	if v := os.Getenv("AGENTBUS_ENABLE_EXEC"); v != "" {
		c.Collab.EnableExec = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("AGENTBUS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Load reads the YAML config at path (missing file is not an error),
// overlays environment variables and fills defaults.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, err
			}
		} else if !os.IsNotExist(err) {
			return c, err
		}
	}
	applyEnv(&c)
	applyDefaults(&c)
	return c, nil
}

// ParseCommandFlags centralizes flag parsing for the server binary. It
// returns the flag values and a set of flags the user explicitly set, so
// callers can give flags precedence over env and file values.
func ParseCommandFlags() (addr, db, cfg string, set map[string]bool) {
	addrFlag := flag.String("addr", "", "listen address (host:port)")
	dbFlag := flag.String("db", "", "path to the durable store directory")
	cfgFlag := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, set
}

// Addr returns the configured listen address in host:port form.
func (c Config) Addr() string {
	return c.Server.Address + ":" + strconv.Itoa(c.Server.Port)
}
