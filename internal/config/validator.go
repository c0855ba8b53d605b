package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// Validate checks the config for:
//   - Required fields and sane bounds
//   - Known log level, log format and webhook sources
//   - Duplicate poll job IDs and well-formed poll jobs
func Validate(cfg *Config) error {
	var errs []string
	if cfg.Version == "" {
		errs = append(errs, "version is required")
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, "server.max_body_bytes must not be negative")
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be text or json", cfg.Logging.Format))
	}
	if cfg.Ingest.Workers < 1 {
		errs = append(errs, "ingest.workers must be at least 1")
	}
	if cfg.Ingest.QueueDepth < 1 {
		errs = append(errs, "ingest.queue_depth must be at least 1")
	}
	if cfg.Ingest.Timeout <= 0 {
		errs = append(errs, "ingest.timeout must be positive")
	}
	if _, err := url.Parse(cfg.Store.DSN); err != nil {
		errs = append(errs, fmt.Sprintf("store.dsn: %v", err))
	}

	for name, wh := range cfg.Webhooks {
		if _, ok := event.ParseSource(name); !ok {
			errs = append(errs, fmt.Sprintf("webhooks.%s: unknown source", name))
		}
		for i, h := range wh.RequiredHeaders {
			if strings.TrimSpace(h) == "" {
				errs = append(errs, fmt.Sprintf("webhooks.%s.required_headers[%d]: empty header name", name, i))
			}
		}
	}

	ids := make(map[string]int)
	for i, job := range cfg.Poll {
		loc := fmt.Sprintf("poll[%d]", i)
		if job.ID == "" {
			errs = append(errs, loc+": id is required")
		} else if prev, ok := ids[job.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate poll id %q (first seen at poll[%d], again at %s)", job.ID, prev, loc))
		} else {
			ids[job.ID] = i
			loc = "poll " + job.ID
		}
		if _, ok := event.ParseSource(job.Source); !ok {
			errs = append(errs, fmt.Sprintf("%s: unknown source %q", loc, job.Source))
		}
		if u, err := url.Parse(job.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Sprintf("%s: url must be an http(s) URL", loc))
		}
		if job.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("%s: interval must be positive", loc))
		}
		if job.Lookback < job.Interval {
			errs = append(errs, fmt.Sprintf("%s: lookback must cover at least one interval", loc))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseLevel maps a level name onto a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level %q must be debug, info, warn or error", s)
	}
	return lvl, nil
}
