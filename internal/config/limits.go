package config

import "time"

// Limits bounds run cost. The prompt cap is enforced by the AI client; the
// total and per-stage timeouts are applied by the engine.
type Limits struct {
	MaxPromptSize int             `yaml:"max_prompt_size" validate:"required,min=1000,max=1000000"`
	MaxRetries    int             `yaml:"max_retries" validate:"required,min=0,max=10"`
	TotalTimeout  time.Duration   `yaml:"total_timeout" validate:"required,min=1m,max=24h"`
	StageTimeouts StageTimeouts   `yaml:"stage_timeouts"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" validate:"required"`
}

type StageTimeouts struct {
	Bible    time.Duration `yaml:"bible" validate:"min=1m,max=6h"`
	Planning time.Duration `yaml:"planning" validate:"min=1m,max=6h"`
	Writing  time.Duration `yaml:"writing" validate:"min=5m,max=6h"`
	Review   time.Duration `yaml:"review" validate:"min=1m,max=6h"`
	Revision time.Duration `yaml:"revision" validate:"min=1m,max=6h"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"required,min=1,max=1000"`
	BurstSize         int `yaml:"burst_size" validate:"required,min=1,max=100"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxPromptSize: 200000,
		MaxRetries:    5,
		TotalTimeout:  6 * time.Hour,
		StageTimeouts: StageTimeouts{
			Bible:    30 * time.Minute,
			Planning: 45 * time.Minute,
			Writing:  2 * time.Hour,
			Review:   30 * time.Minute,
			Revision: 45 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         15,
		},
	}
}
