// internal/workers/placement/resolve-candidate-return/config.go
package resolvecandidatereturn

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
