package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want :8000", cfg.HTTPAddr)
	}
	if cfg.MQTTPort != 1883 {
		t.Errorf("MQTTPort = %d, want 1883", cfg.MQTTPort)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "maestra.yaml")
	data := "nats_url: nats://file:4222\nmqtt_port: 8883\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("MQTT_PORT", "1884")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NATSURL != "nats://env:4222" {
		t.Errorf("NATSURL = %q, env should win over file", cfg.NATSURL)
	}
	if cfg.MQTTPort != 1884 {
		t.Errorf("MQTTPort = %d, env should win over file", cfg.MQTTPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, file should win over default", cfg.LogLevel)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("MQTT_PORT", "99999")
	if _, err := Load(""); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestMQTTAddr(t *testing.T) {
	cfg := Config{MQTTBroker: "broker.local", MQTTPort: 1883}
	if got := cfg.MQTTAddr(); got != "tcp://broker.local:1883" {
		t.Errorf("MQTTAddr = %q", got)
	}
}
