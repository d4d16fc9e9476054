package config

import (
	"strings"
	"time"

	"quitline-realtime/pkg/env"
)

// Config holds the environment-driven settings for the relay daemon.
type Config struct {
	Env            string
	Port           string
	RedisHost      string
	RedisPassword  string
	RedisDB        int
	JWTSecret      string
	MaxConnections int
	AllowedOrigins []string
	ShutdownGrace  time.Duration
}

// LoadConfig reads the configuration from the environment, falling back to
// development defaults.
func LoadConfig() *Config {
	return &Config{
		Env:            env.GetString("ENV", "development"),
		Port:           env.GetString("PORT", "8080"),
		RedisHost:      env.GetString("REDIS_HOST", "localhost"),
		RedisPassword:  env.GetStringFromFile("REDIS_PASSWORD", ""),
		RedisDB:        env.GetInt("REDIS_DB", 0),
		JWTSecret:      env.GetStringFromFile("JWT_SECRET", "secret"),
		MaxConnections: env.GetInt("WS_MAX_CONNECTIONS", 10000),
		AllowedOrigins: splitOrigins(env.GetString("WS_ALLOWED_ORIGINS", "")),
		ShutdownGrace:  env.GetDuration("SHUTDOWN_GRACE", 10*time.Second),
	}
}

func splitOrigins(raw string) []string {
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// GetRedisAddr returns the Redis connection address.
func (c *Config) GetRedisAddr() string {
	return c.RedisHost + ":6379"
}
