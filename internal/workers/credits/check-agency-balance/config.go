// internal/workers/credits/check-agency-balance/config.go
package checkagencybalance

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 10 * time.Second,
	}
}
