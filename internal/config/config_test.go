package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadOverridesFromFlags(t *testing.T) {
	cfg, err := Load([]string{"--listen-addr=:9000", "--max-attempts=5", "--offline-threshold=1m"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("listen addr = %s, want :9000", cfg.ListenAddr)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.OfflineThreshold != time.Minute {
		t.Fatalf("offline threshold = %s, want 1m", cfg.OfflineThreshold)
	}
}

func TestLoadRejectsInvalidMaxAttempts(t *testing.T) {
	_, err := Load([]string{"--max-attempts=0"})
	if err == nil {
		t.Fatalf("expected an error for max-attempts=0")
	}
}
