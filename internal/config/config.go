package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"wellbeing-survey-service/internal/scoring"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Storage struct {
		Driver string `yaml:"driver"`
		Dir    string `yaml:"dir"`
	} `yaml:"storage"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	Surveys struct {
		Path string `yaml:"path"`
		TTL  string `yaml:"ttl"`
	} `yaml:"surveys"`
	Collector struct {
		OpenTextMaxRunes int `yaml:"openTextMaxRunes"`
	} `yaml:"collector"`
	// Risk fields left out of the file keep the default policy; an explicit zero is applied.
	Risk struct {
		Window struct {
			Responses *int   `yaml:"responses"`
			Span      string `yaml:"span"`
		} `yaml:"window"`
		CountSeverity    *float64 `yaml:"countSeverity"`
		CountThreshold   *int     `yaml:"countThreshold"`
		HighSeverity     *float64 `yaml:"highSeverity"`
		CriticalKinds    *int     `yaml:"criticalKinds"`
		ScaleThreshold   *float64 `yaml:"scaleThreshold"`
		ProfileSmoothing *float64 `yaml:"profileSmoothing"`
	} `yaml:"risk"`
	Locks struct {
		Timeout string `yaml:"timeout"`
		TTL     string `yaml:"ttl"`
	} `yaml:"locks"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// StorageDriver returns the configured driver, memory when unset.
func (c Config) StorageDriver() string {
	if c.Storage.Driver == "" {
		return DriverMemory
	}
	return c.Storage.Driver
}

// RiskPolicy overlays the configured values on the default policy. A time span takes
// precedence over a response count.
func (c Config) RiskPolicy() (scoring.Policy, error) {
	p := scoring.DefaultPolicy()
	r := c.Risk
	if r.Window.Span != "" {
		span, err := time.ParseDuration(r.Window.Span)
		if err != nil {
			return scoring.Policy{}, fmt.Errorf("risk.window.span: %w", err)
		}
		p.Window = scoring.TimeWindow{Span: span}
	} else if r.Window.Responses != nil {
		p.Window = scoring.LastResponses{N: *r.Window.Responses}
	}
	overlay(&p.CountSeverity, r.CountSeverity)
	overlay(&p.CountThreshold, r.CountThreshold)
	overlay(&p.HighSeverity, r.HighSeverity)
	overlay(&p.CriticalKinds, r.CriticalKinds)
	overlay(&p.ScaleThreshold, r.ScaleThreshold)
	overlay(&p.ProfileSmoothing, r.ProfileSmoothing)
	if err := p.Validate(); err != nil {
		return scoring.Policy{}, err
	}
	return p, nil
}

func overlay[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Logger builds the process logger. Unknown levels fall back to info.
func (c Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if c.Log.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
