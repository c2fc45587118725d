package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.HTTPPort != "6000" {
		t.Errorf("HTTPPort = %s, want 6000", cfg.HTTPPort)
	}
	if cfg.ChainRetries != 3 {
		t.Errorf("ChainRetries = %d, want 3", cfg.ChainRetries)
	}
	if cfg.RequestTTL != 168*time.Hour {
		t.Errorf("RequestTTL = %s, want 168h", cfg.RequestTTL)
	}
	if cfg.SweepInterval != 0 {
		t.Errorf("SweepInterval = %s, want disabled by default", cfg.SweepInterval)
	}
	if cfg.SuspiciousThreshold != 5 || cfg.SuspiciousWindow != time.Hour {
		t.Errorf("suspicious policy = (%d, %s), want (5, 1h)", cfg.SuspiciousThreshold, cfg.SuspiciousWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "7100")
	t.Setenv("DB_NAME", "custody_test")
	t.Setenv("CHAIN_RETRIES", "5")
	t.Setenv("REQUEST_TTL", "48h")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092,broker-b:9092")
	t.Setenv("SEED_DEMO", "true")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.HTTPPort != "7100" {
		t.Errorf("HTTPPort = %s, want 7100", cfg.HTTPPort)
	}
	if cfg.DatabaseName != "custody_test" {
		t.Errorf("DatabaseName = %s, want custody_test", cfg.DatabaseName)
	}
	if cfg.ChainRetries != 5 {
		t.Errorf("ChainRetries = %d, want 5", cfg.ChainRetries)
	}
	if cfg.RequestTTL != 48*time.Hour {
		t.Errorf("RequestTTL = %s, want 48h", cfg.RequestTTL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "broker-b:9092" {
		t.Errorf("KafkaBrokers = %v, want both brokers", cfg.KafkaBrokers)
	}
	if !cfg.SeedDemo {
		t.Error("SeedDemo should be true")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
node_id: custody-node-test
http_port: "8200"
chain_endpoint: http://chain:5000
request_ttl: 24h
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.NodeID != "custody-node-test" {
		t.Errorf("NodeID = %s, want custody-node-test", cfg.NodeID)
	}
	if cfg.HTTPPort != "8200" {
		t.Errorf("HTTPPort = %s, want 8200", cfg.HTTPPort)
	}
	if cfg.ChainEndpoint != "http://chain:5000" {
		t.Errorf("ChainEndpoint = %s, want http://chain:5000", cfg.ChainEndpoint)
	}
	if cfg.RequestTTL != 24*time.Hour {
		t.Errorf("RequestTTL = %s, want 24h", cfg.RequestTTL)
	}
	// Untouched fields keep their defaults.
	if cfg.DatabaseHost != "localhost" {
		t.Errorf("DatabaseHost = %s, want the default", cfg.DatabaseHost)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(`http_port: "8200"`), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("HTTP_PORT", "9300")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.HTTPPort != "9300" {
		t.Errorf("HTTPPort = %s, environment should win over the file", cfg.HTTPPort)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	cfg.ChainEndpoint = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty chain endpoint should fail validation")
	}

	cfg, _ = LoadConfig("")
	cfg.RequestTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero request TTL should fail validation")
	}

	cfg, _ = LoadConfig("")
	cfg.ChainRetries = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero chain retries should fail validation")
	}
}

func TestGetDSN(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	cfg.DatabaseHost = "db"
	cfg.DatabasePort = "5432"
	cfg.DatabaseName = "custody"

	want := "host=db port=5432 user=postgres password=postgrespassword dbname=custody sslmode=disable"
	if got := cfg.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}
