package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"INCOMING_WINDOW", "ICE_SERVERS", "STATUS_POLL_INTERVAL", "CALL_RATE_LIMIT"} {
		t.Setenv(key, "")
	}
	cfg := LoadConfig()

	if cfg.IncomingWindow != 5*time.Second {
		t.Errorf("IncomingWindow = %v", cfg.IncomingWindow)
	}
	if cfg.StatusPollInterval != 500*time.Millisecond {
		t.Errorf("StatusPollInterval = %v", cfg.StatusPollInterval)
	}
	if cfg.CallRateLimit != 10 {
		t.Errorf("CallRateLimit = %d", cfg.CallRateLimit)
	}
	if len(cfg.ICEServers) != 1 {
		t.Errorf("ICEServers = %v", cfg.ICEServers)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("INCOMING_WINDOW", "8s")
	t.Setenv("SIGNAL_POLL_INTERVAL", "250ms")
	t.Setenv("ICE_SERVERS", " stun:a.example:3478 , ,turn:b.example ")
	t.Setenv("DB_AUTO_MIGRATE", "true")
	t.Setenv("CALL_RATE_LIMIT", "3")
	t.Setenv("OUTBOX_INTERVAL", "-1s")

	cfg := LoadConfig()

	if cfg.IncomingWindow != 8*time.Second {
		t.Errorf("IncomingWindow = %v", cfg.IncomingWindow)
	}
	if cfg.SignalPollInterval != 250*time.Millisecond {
		t.Errorf("SignalPollInterval = %v", cfg.SignalPollInterval)
	}
	if want := []string{"stun:a.example:3478", "turn:b.example"}; !reflect.DeepEqual(cfg.ICEServers, want) {
		t.Errorf("ICEServers = %v, want %v", cfg.ICEServers, want)
	}
	if !cfg.AutoMigrate || cfg.CallRateLimit != 3 {
		t.Errorf("AutoMigrate = %v, CallRateLimit = %d", cfg.AutoMigrate, cfg.CallRateLimit)
	}
	if cfg.OutboxInterval != 250*time.Millisecond {
		t.Errorf("non-positive interval should fall back, got %v", cfg.OutboxInterval)
	}
}
