// internal/workers/placement/resolve-visa-approval/config.go
package resolvevisaapproval

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
