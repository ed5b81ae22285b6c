package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validTestConfig() Config {
	cfg := *Default()
	cfg.AI.APIKey = "sk-1234567890abcdef1234567890abcdef"
	cfg.Paths.DataDir = "data"
	return cfg
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid API key - too short",
			mutate: func(c *Config) {
				c.AI.APIKey = "short"
			},
			wantErr: true,
			errMsg:  "APIKey",
		},
		{
			name: "invalid base URL",
			mutate: func(c *Config) {
				c.AI.BaseURL = "not-a-url"
			},
			wantErr: true,
			errMsg:  "BaseURL",
		},
		{
			name: "timeout too high",
			mutate: func(c *Config) {
				c.AI.Timeout = 20000
			},
			wantErr: true,
			errMsg:  "Timeout",
		},
		{
			name: "unknown gate policy",
			mutate: func(c *Config) {
				c.Workflow.GatePolicy = "maybe"
			},
			wantErr: true,
			errMsg:  "GatePolicy",
		},
		{
			name: "unknown revision policy",
			mutate: func(c *Config) {
				c.Workflow.RevisionPolicy = "sometimes"
			},
			wantErr: true,
			errMsg:  "RevisionPolicy",
		},
		{
			name: "memory window out of range",
			mutate: func(c *Config) {
				c.Workflow.MemoryWindow = 50
			},
			wantErr: true,
			errMsg:  "MemoryWindow",
		},
		{
			name: "revision rounds out of range",
			mutate: func(c *Config) {
				c.Workflow.MaxRevisionRounds = 99
			},
			wantErr: true,
			errMsg:  "MaxRevisionRounds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}

			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

// TestLoadOfflineHonorsConfigFile covers local-state commands: the config
// file still governs paths and workflow knobs even without an API key.
func TestLoadOfflineHonorsConfigFile(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "novels")
	configPath := filepath.Join(dir, "config.yaml")
	content := "paths:\n  data_dir: " + dataDir + "\nworkflow:\n  min_consistency_score: 80\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NOVELFORGE_API_KEY", "")

	cfg, err := LoadOffline(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Paths.DataDir != dataDir {
		t.Errorf("data dir = %q, want %q from the config file", cfg.Paths.DataDir, dataDir)
	}
	if cfg.Workflow.MinConsistencyScore != 80 {
		t.Errorf("min score = %d, want 80 from the config file", cfg.Workflow.MinConsistencyScore)
	}
	if cfg.AI.APIKey == "" {
		t.Error("offline load should substitute a placeholder key")
	}
}

func TestDefaultsPreserveLegacyBehavior(t *testing.T) {
	cfg := Default()

	if cfg.Workflow.GatePolicy != GateOff {
		t.Errorf("default gate policy = %q, want %q", cfg.Workflow.GatePolicy, GateOff)
	}
	if cfg.Workflow.RevisionPolicy != RevisionNone {
		t.Errorf("default revision policy = %q, want %q", cfg.Workflow.RevisionPolicy, RevisionNone)
	}
	if !cfg.Workflow.EnforceSequential {
		t.Error("sequential safeguard should be on by default")
	}

	cfg.AI.APIKey = "sk-1234567890abcdef1234567890abcdef"
	cfg.Paths.DataDir = "data"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() should produce valid config, got error: %v", err)
	}
}
