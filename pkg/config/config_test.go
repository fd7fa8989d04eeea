package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseTargets(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Target
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"single", "acme:mall", []Target{{"acme", "mall"}}, false},
		{"spaces", " acme : mall , beta:depot ,", []Target{{"acme", "mall"}, {"beta", "depot"}}, false},
		{"missing location", "acme:", nil, true},
		{"no separator", "acme", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTargets(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Target %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestLoadTargetsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.toml")
	content := `
[[targets]]
client = "acme"
location = "mall"

[[targets]]
client = "beta"
location = "depot"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write targets file: %v", err)
	}

	targets, err := LoadTargetsFile(path)
	if err != nil {
		t.Fatalf("LoadTargetsFile failed: %v", err)
	}
	if len(targets) != 2 || targets[1] != (Target{"beta", "depot"}) {
		t.Errorf("Unexpected targets %v", targets)
	}
}

func TestLoadTargetsFile_RejectsIncompleteEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.toml")
	if err := os.WriteFile(path, []byte("[[targets]]\nclient = \"acme\"\n"), 0o644); err != nil {
		t.Fatalf("Failed to write targets file: %v", err)
	}

	if _, err := LoadTargetsFile(path); err == nil {
		t.Fatal("Expected error for entry without location")
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", "/tmp/flow.db")
	t.Setenv("IMPUTATION_LOOKBACK_DAYS", "90")
	t.Setenv("IMPUTATION_DAEMON", "true")
	t.Setenv("IMPUTATION_TARGETS", "acme:mall")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REDIS_LOCK_TTL", "30m")
	t.Setenv("DETECT_SIGMA_LIMIT", "2.5")
	t.Setenv("IMPUTATION_WORKERS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.ConnectionString() != "/tmp/flow.db" {
		t.Errorf("Expected sqlite path, got %q", cfg.Database.ConnectionString())
	}
	if cfg.Imputation.LookbackDays != 90 || !cfg.Imputation.Daemon {
		t.Errorf("Unexpected imputation config %+v", cfg.Imputation)
	}
	if cfg.Imputation.Workers != 1 {
		t.Errorf("Expected default workers on bad value, got %d", cfg.Imputation.Workers)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.LockTTL != 30*time.Minute {
		t.Errorf("Expected 30m lock TTL, got %v", cfg.Redis.LockTTL)
	}
	if cfg.Imputation.Thresholds.SigmaLimit != 2.5 || cfg.Imputation.Thresholds.MinHistory != 3 {
		t.Errorf("Unexpected thresholds %+v", cfg.Imputation.Thresholds)
	}
	if len(cfg.Imputation.Targets) != 1 || cfg.Imputation.Targets[0].Location != "mall" {
		t.Errorf("Unexpected targets %v", cfg.Imputation.Targets)
	}
}
