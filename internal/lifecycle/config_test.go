package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opscache.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if *cfg != (Config{}) {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoadConfigEmptyPathIsEmpty(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("empty path should not error: %v", err)
	}
	if *cfg != (Config{}) {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoadConfigValid(t *testing.T) {
	path := writeConfigFile(t, `{
		"sweepIntervalSeconds": 120,
		"networkTimeoutMillis": 2500,
		"maxReplayAttempts": 7
	}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.SweepIntervalSeconds != 120 {
		t.Fatalf("sweep interval not loaded: %d", cfg.SweepIntervalSeconds)
	}
	if cfg.NetworkTimeoutMillis != 2500 {
		t.Fatalf("network timeout not loaded: %d", cfg.NetworkTimeoutMillis)
	}
	if cfg.MaxReplayAttempts != 7 {
		t.Fatalf("max attempts not loaded: %d", cfg.MaxReplayAttempts)
	}
}

func TestLoadConfigRejectsUnknownField(t *testing.T) {
	path := writeConfigFile(t, `{"sweepInterval": 120}`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("unknown field should fail validation")
	}
}

func TestLoadConfigRejectsOutOfRangeValue(t *testing.T) {
	path := writeConfigFile(t, `{"networkTimeoutMillis": 10}`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("below-minimum value should fail validation")
	}
}

func TestLoadConfigRejectsWrongType(t *testing.T) {
	path := writeConfigFile(t, `{"maxReplayAttempts": "five"}`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("wrong type should fail validation")
	}
}

func TestLoadConfigRejectsMalformedJSON(t *testing.T) {
	path := writeConfigFile(t, `{"sweepIntervalSeconds": `)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("malformed JSON should fail")
	}
}
