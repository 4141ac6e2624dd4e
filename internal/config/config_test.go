package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Env:                     "test",
		Port:                    "8481",
		JWTSecret:               "secure-secret-at-least-32-chars-long",
		DBPassword:              "secure-password",
		DBSSLMode:               "disable",
		RedisURL:                "redis://localhost:6379",
		RematchCooldownSeconds:  30,
		SearchKeepaliveSeconds:  15,
		ReportRestrictThreshold: 3,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"valid test config", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"negative rematch cooldown", func(c *Config) { c.RematchCooldownSeconds = -1 }, true},
		{"zero restrict threshold", func(c *Config) { c.ReportRestrictThreshold = 0 }, true},
		{"production default secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = "your-secret-key-change-in-production"
		}, true},
		{"production short secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = "short"
		}, true},
		{"production default db password", func(c *Config) {
			c.Env = "production"
			c.DBPassword = "password"
		}, true},
		{"production valid", func(c *Config) {
			c.Env = "production"
			c.DBSSLMode = "require"
			c.TURNURL = "turn:turn.driftchat.dev:3478"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
