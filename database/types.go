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
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML and JSON configuration files can
// use human-readable strings such as "30s" or "1h30m".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// AbstractDatabaseManager defines the operations for managing a database
// connection, running migrations, initializing data, and reporting health.
type AbstractDatabaseManager interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	Ping(ctx context.Context) error
	IsConnected() bool
	HealthCheck(ctx context.Context) *HealthStatus
	GetDB() *bun.DB
	GetSQLDB() *sql.DB
	RunMigrations(ctx context.Context) error
	InitData(ctx context.Context) error
	GetStats() *DBStats
	SetLogger(logger Logger)
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql stats returned by the manager.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// ConnectionConfig describes how to connect to a database and tune its pool.
// URL, when set, is parsed first and its components fill the discrete
// fields; explicit fields and DB_* environment overrides win afterwards.
type ConnectionConfig struct {
	URL                 string   `json:"url" yaml:"url"`
	Type                string   `json:"type" yaml:"type"` // mysql, postgres, sqlite
	Host                string   `json:"host" yaml:"host"`
	Port                int      `json:"port" yaml:"port"`
	Username            string   `json:"username" yaml:"username"`
	Password            string   `json:"password" yaml:"password"`
	DBName              string   `json:"dbname" yaml:"dbname"`
	SSLMode             string   `json:"sslmode" yaml:"sslmode"`
	Charset             string   `json:"charset" yaml:"charset"` // MySQL: utf8mb4, Postgres: UTF8
	MaxIdleConns        int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns        int      `json:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime     Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime     Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	ConnectTimeout      Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout         Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout        Duration `json:"write_timeout" yaml:"write_timeout"`
	EnableReconnect     bool     `json:"enable_reconnect" yaml:"enable_reconnect"`
	ReconnectInterval   Duration `json:"reconnect_interval" yaml:"reconnect_interval"`
	MaxReconnectTries   int      `json:"max_reconnect_tries" yaml:"max_reconnect_tries"`
	HealthCheckInterval Duration `json:"health_check_interval" yaml:"health_check_interval"`
	EnableQueryLog      bool     `json:"enable_query_log" yaml:"enable_query_log"`
	SlowQueryTime       Duration `json:"slow_query_time" yaml:"slow_query_time"`
}

// DataMigrateConfig controls schema migration behavior on startup.
type DataMigrateConfig struct {
	EnableMigrateOnStartup bool   `json:"enable_migrate_on_startup" yaml:"enable_migrate_on_startup"`
	EnableForeignKey       bool   `json:"enable_foreign_key" yaml:"enable_foreign_key"`
	ForeignKeyFile         string `json:"foreign_key_file" yaml:"foreign_key_file"`
}

// DataInitConfig controls data seeding behavior and environment selection.
type DataInitConfig struct {
	AutoInitOnStartup   bool   `json:"auto_init_on_startup" yaml:"auto_init_on_startup"`
	AutoInitOnMigration bool   `json:"auto_init_on_migration" yaml:"auto_init_on_migration"`
	Filepath            string `json:"filepath" yaml:"filepath"`
	Environment         string `json:"environment" yaml:"environment"`
}

// Config aggregates connection, migration, and data initialization settings.
type Config struct {
	ConnectionConfig  ConnectionConfig  `json:"connection_config" yaml:"connection_config"`
	DataMigrateConfig DataMigrateConfig `json:"data_migrate_config" yaml:"data_migrate_config"`
	DataInitConfig    DataInitConfig    `json:"data_init_config" yaml:"data_init_config"`
}

// DefaultConnectionConfig returns a connection config with sensible defaults.
// Defaults never stand in for a missing DATABASE_URL; they only tune an
// explicitly configured connection.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     Duration(time.Hour),
		ConnMaxIdleTime:     Duration(time.Minute * 30),
		ConnectTimeout:      Duration(time.Second * 10),
		ReadTimeout:         Duration(time.Second * 30),
		WriteTimeout:        Duration(time.Second * 30),
		EnableReconnect:     true,
		ReconnectInterval:   Duration(time.Second * 5),
		MaxReconnectTries:   3,
		HealthCheckInterval: Duration(time.Minute * 5),
		EnableQueryLog:      false,
		SlowQueryTime:       Duration(time.Second * 2),
	}
}

// DefaultConfig returns a full configuration with default connection
// settings, migrations enabled on startup, and seeding disabled.
func DefaultConfig() *Config {
	return &Config{
		ConnectionConfig: *DefaultConnectionConfig(),
		DataMigrateConfig: DataMigrateConfig{
			EnableMigrateOnStartup: true,
		},
		DataInitConfig: DataInitConfig{
			Environment: "development",
		},
	}
}
