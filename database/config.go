/*
 * Copyright 2026 the Colibri Authors.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFromEnv builds a configuration from the process environment.
// DATABASE_URL is required; when it is unset or empty the function fails
// before any pool construction is attempted, and the caller decides whether
// that is fatal. DB_* variables override individual components afterwards.
func ConfigFromEnv() (*Config, error) {
	rawURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if rawURL == "" {
		return nil, ErrDatabaseURLNotSet
	}

	cfg := DefaultConfig()
	cfg.ConnectionConfig.URL = rawURL
	if err := applyDatabaseURL(&cfg.ConnectionConfig); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg.ConnectionConfig)

	if err := validateConnectionConfig(&cfg.ConnectionConfig); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file. Missing fields keep their
// defaults; a configured URL is expanded into the discrete connection
// fields, and explicitly set discrete fields win over URL components.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.ConnectionConfig.URL != "" {
		if err := applyDatabaseURL(&cfg.ConnectionConfig); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadDotenv loads environment variables from .env style files before
// ConfigFromEnv runs. With no arguments it loads ./.env when present and
// is a no-op otherwise, so deployments without a file keep working.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); os.IsNotExist(err) {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// applyEnvOverrides overrides configuration values from environment
// variables. Duration variables accept Go duration strings ("90s") or
// plain integer seconds.
func applyEnvOverrides(cfg *ConnectionConfig) {
	// Database connection info
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if username := os.Getenv("DB_USERNAME"); username != "" {
		cfg.Username = username
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.SSLMode = sslmode
	}
	if charset := os.Getenv("DB_CHARSET"); charset != "" {
		cfg.Charset = charset
	}

	// Connection pool config
	if maxIdle := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdle != "" {
		if val, err := strconv.Atoi(maxIdle); err == nil {
			cfg.MaxIdleConns = val
		}
	}
	if maxOpen := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			cfg.MaxOpenConns = val
		}
	}
	if maxLifetime := os.Getenv("DB_CONN_MAX_LIFETIME"); maxLifetime != "" {
		if val, ok := parseDurationOrSeconds(maxLifetime); ok {
			cfg.ConnMaxLifetime = Duration(val)
		}
	}
	if maxIdleTime := os.Getenv("DB_CONN_MAX_IDLE_TIME"); maxIdleTime != "" {
		if val, ok := parseDurationOrSeconds(maxIdleTime); ok {
			cfg.ConnMaxIdleTime = Duration(val)
		}
	}

	// Reconnect config
	if enableReconnect := os.Getenv("DB_ENABLE_RECONNECT"); enableReconnect != "" {
		cfg.EnableReconnect = enableReconnect == "true"
	}
	if reconnectInterval := os.Getenv("DB_RECONNECT_INTERVAL"); reconnectInterval != "" {
		if val, ok := parseDurationOrSeconds(reconnectInterval); ok {
			cfg.ReconnectInterval = Duration(val)
		}
	}

	// Logging config
	if enableQueryLog := os.Getenv("DB_ENABLE_QUERY_LOG"); enableQueryLog != "" {
		cfg.EnableQueryLog = enableQueryLog == "true"
	}
}

func parseDurationOrSeconds(s string) (time.Duration, bool) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, true
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

func validateConnectionConfig(cfg *ConnectionConfig) error {
	switch cfg.Type {
	case "mysql", "postgres", "postgresql", "sqlite", "sqlite3":
		return nil
	default:
		return fmt.Errorf("%w: %s, supported types: [mysql postgres sqlite]", ErrUnsupportedType, cfg.Type)
	}
}
