package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is constructed once at process start and passed by pointer into the
// engine and its components. Core logic never reads the environment directly.
type Config struct {
	AI       AIConfig       `yaml:"ai" validate:"required"`
	Paths    PathsConfig    `yaml:"paths" validate:"required"`
	Workflow WorkflowConfig `yaml:"workflow" validate:"required"`
	Limits   Limits         `yaml:"limits" validate:"required"`
}

type AIConfig struct {
	APIKey  string `yaml:"api_key" validate:"required,min=20"`
	Model   string `yaml:"model" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Timeout int    `yaml:"timeout" validate:"required,min=10,max=3600"`
}

type PathsConfig struct {
	DataDir string `yaml:"data_dir" validate:"required"`
}

// GatePolicy controls whether chapter reviews can block forward progress.
type GatePolicy string

const (
	GateOff      GatePolicy = "off"
	GateBlocking GatePolicy = "blocking"
)

// RevisionPolicy selects how revision candidates are handled.
type RevisionPolicy string

const (
	RevisionNone          RevisionPolicy = "none"
	RevisionAutoApply     RevisionPolicy = "auto_apply"
	RevisionManualConfirm RevisionPolicy = "manual_confirm"
)

type WorkflowConfig struct {
	MemoryWindow         int            `yaml:"memory_window" validate:"required,min=1,max=20"`
	RetrievalTopK        int            `yaml:"retrieval_top_k" validate:"required,min=1,max=50"`
	RetrievalCategoryCap int            `yaml:"retrieval_category_cap" validate:"required,min=1,max=20"`
	MinConsistencyScore  int            `yaml:"min_consistency_score" validate:"min=0,max=100"`
	MaxRevisionRounds    int            `yaml:"max_revision_rounds" validate:"min=1,max=10"`
	GatePolicy           GatePolicy     `yaml:"gate_policy" validate:"required,gatepolicy"`
	RevisionPolicy       RevisionPolicy `yaml:"revision_policy" validate:"required,revisionpolicy"`
	EnforceSequential    bool           `yaml:"enforce_sequential"`
}

func Load(configPath string) (*Config, error) {
	cfg, err := loadFile(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// offlineAPIKey satisfies the key-length constraint for commands that never
// contact the model.
const offlineAPIKey = "offline-0000000000000000000000"

// LoadOffline loads configuration for commands that read and mutate local
// state only (status, apply/reject). The configured paths still apply; a
// missing API key is replaced with a placeholder so the rest of the file
// validates.
func LoadOffline(configPath string) (*Config, error) {
	cfg, err := loadFile(configPath)
	if err != nil {
		return nil, err
	}

	if cfg.AI.APIKey == "" || strings.HasPrefix(cfg.AI.APIKey, "${") {
		cfg.AI.APIKey = offlineAPIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	_ = godotenv.Load()

	if configPath == "" {
		configPath = defaultConfigPath()
	}

	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if cfg.AI.APIKey == "" || strings.HasPrefix(cfg.AI.APIKey, "${") {
		if apiKey := os.Getenv("NOVELFORGE_API_KEY"); apiKey != "" {
			cfg.AI.APIKey = apiKey
		}
	}

	return cfg, nil
}

// Default returns a config with every workflow knob at its documented
// default: gate off and revision policy none preserve the legacy
// never-blocking behavior.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Model:   "claude-3-5-sonnet-20241022",
			BaseURL: "https://api.anthropic.com",
			Timeout: 900,
		},
		Workflow: WorkflowConfig{
			MemoryWindow:         4,
			RetrievalTopK:        10,
			RetrievalCategoryCap: 5,
			MinConsistencyScore:  70,
			MaxRevisionRounds:    2,
			GatePolicy:           GateOff,
			RevisionPolicy:       RevisionNone,
			EnforceSequential:    true,
		},
		Limits: DefaultLimits(),
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("NOVELFORGE_CONFIG"); path != "" {
		return path
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "novelforge", "config.yaml")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "novelforge", "config.yaml")
}

// expandTilde expands a tilde (~) at the beginning of a path to the user's home directory
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			c.Paths.DataDir = filepath.Join(xdgData, "novelforge")
		} else {
			home, _ := os.UserHomeDir()
			c.Paths.DataDir = filepath.Join(home, ".local", "share", "novelforge")
		}
	} else {
		c.Paths.DataDir = expandTilde(c.Paths.DataDir)
	}

	if c.Limits.MaxRetries == 0 && c.Limits.TotalTimeout == 0 {
		c.Limits = DefaultLimits()
	}

	validate := validator.New()

	validate.RegisterValidation("gatepolicy", func(fl validator.FieldLevel) bool {
		switch GatePolicy(fl.Field().String()) {
		case GateOff, GateBlocking:
			return true
		}
		return false
	})

	validate.RegisterValidation("revisionpolicy", func(fl validator.FieldLevel) bool {
		switch RevisionPolicy(fl.Field().String()) {
		case RevisionNone, RevisionAutoApply, RevisionManualConfirm:
			return true
		}
		return false
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}
