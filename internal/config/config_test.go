package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/scoring"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
storage:
  driver: file
  dir: /var/lib/wellbeing
surveys:
  ttl: 15m
risk:
  window:
    responses: 5
  highSeverity: 0.9
locks:
  timeout: 2s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.StorageDriver() != DriverFile || cfg.Storage.Dir != "/var/lib/wellbeing" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if got := TTLDuration(cfg.Surveys.TTL, time.Minute); got != 15*time.Minute {
		t.Fatalf("surveys ttl = %v", got)
	}

	p, err := cfg.RiskPolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if p.Window != (scoring.LastResponses{N: 5}) || p.HighSeverity != 0.9 || p.CountThreshold != scoring.DefaultCountThreshold {
		t.Fatalf("unexpected policy %+v", p)
	}
}

func TestRiskPolicyWindowSpan(t *testing.T) {
	var cfg Config
	cfg.Risk.Window.Span = "720h"
	p, err := cfg.RiskPolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if p.Window != (scoring.TimeWindow{Span: 30 * 24 * time.Hour}) {
		t.Fatalf("window = %#v", p.Window)
	}

	cfg.Risk.Window.Span = "a month"
	if _, err := cfg.RiskPolicy(); err == nil {
		t.Fatal("expected error for bad span")
	}

	cfg.Risk.Window.Span = ""
	scale := 1.5
	cfg.Risk.ScaleThreshold = &scale
	if _, err := cfg.RiskPolicy(); err == nil {
		t.Fatal("expected error for invalid threshold")
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if cfg.StorageDriver() != DriverMemory {
		t.Fatalf("default driver = %s", cfg.StorageDriver())
	}
	if got := TTLDuration("soon", time.Minute); got != time.Minute {
		t.Fatalf("fallback ttl = %v", got)
	}
	if cfg.Logger().GetLevel() != zerolog.InfoLevel {
		t.Fatalf("default log level = %v", cfg.Logger().GetLevel())
	}
}

func TestRiskPolicyAppliesExplicitZero(t *testing.T) {
	path := writeConfig(t, `
risk:
  countSeverity: 0
  profileSmoothing: 0.25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, err := cfg.RiskPolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	def := scoring.DefaultPolicy()
	if p.CountSeverity != 0 || p.ProfileSmoothing != 0.25 {
		t.Fatalf("configured values not applied: %+v", p)
	}
	if p.HighSeverity != def.HighSeverity || p.CountThreshold != def.CountThreshold {
		t.Fatalf("unset values must keep the defaults: %+v", p)
	}

	path = writeConfig(t, `risk:
  countThreshold: 0
`)
	if cfg, err = Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cfg.RiskPolicy(); err == nil {
		t.Fatal("expected an explicit zero countThreshold to be applied and rejected")
	}
}
