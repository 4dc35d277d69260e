// Package config loads daemon configuration from the environment and the
// moderation policy from YAML.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port       string
	LogLevel   string
	DBDriver   string // "postgres" or "sqlite"
	DBURL      string
	RedisAddr  string // empty disables the hot-path event counter
	AppealURL  string
	PolicyPath string // empty uses the compiled-in policy
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	driver := os.Getenv("DB_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "file:trustengine.db?_pragma=busy_timeout(5000)"
	}

	appealURL := os.Getenv("APPEAL_URL")
	if appealURL == "" {
		appealURL = "https://help.taskhive.app/trust/appeals"
	}

	return &Config{
		Port:       port,
		LogLevel:   logLevel,
		DBDriver:   driver,
		DBURL:      dbURL,
		RedisAddr:  os.Getenv("REDIS_ADDR"),
		AppealURL:  appealURL,
		PolicyPath: os.Getenv("POLICY_PATH"),
	}
}
