package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Version  string                 `yaml:"version"`
	Server   ServerConf             `yaml:"server"`
	Logging  LoggingConf            `yaml:"logging"`
	Ingest   IngestConf             `yaml:"ingest"`
	Store    StoreConf              `yaml:"store"`
	Cache    CacheConf              `yaml:"cache"`
	Webhooks map[string]WebhookConf `yaml:"webhooks"` // keyed by source name or alias
	Poll     []PollJob              `yaml:"poll"`
}

// ServerConf holds HTTP listener settings.
type ServerConf struct {
	Addr            string        `yaml:"addr"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConf selects the slog level (debug|info|warn|error) and handler (text|json).
type LoggingConf struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IngestConf holds tunable concurrency settings.
type IngestConf struct {
	Workers    int           `yaml:"workers"`
	QueueDepth int           `yaml:"queue_depth"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StoreConf selects the event store by DSN scheme.
type StoreConf struct {
	DSN       string        `yaml:"dsn"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// CacheConf selects the idempotency cache by URL scheme.
type CacheConf struct {
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl"`
}

// WebhookConf holds per-source webhook rules.
type WebhookConf struct {
	RequiredHeaders []string `yaml:"required_headers"`
}

// PollJob periodically fetches a vendor endpoint and ingests the body.
type PollJob struct {
	ID       string        `yaml:"id"`
	Source   string        `yaml:"source"`
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Lookback time.Duration `yaml:"lookback"` // window length; windows of consecutive runs overlap
	TokenEnv string        `yaml:"token_env"`
}

// Defaults fills zero fields with their default values.
func (c IngestConf) Defaults() IngestConf {
	if c.Workers == 0 {
		c.Workers = 16
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 1000
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.MaxBatchSize == 0 {
		c.Server.MaxBatchSize = 100
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Ingest = c.Ingest.Defaults()
	if c.Store.DSN == "" {
		c.Store.DSN = "memory://"
	}
	if c.Store.OpTimeout == 0 {
		c.Store.OpTimeout = 5 * time.Second
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 24 * time.Hour
	}
	for i := range c.Poll {
		if c.Poll[i].Lookback == 0 {
			c.Poll[i].Lookback = 2 * c.Poll[i].Interval
		}
	}
}
