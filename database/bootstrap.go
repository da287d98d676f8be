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
	"fmt"
	"sync"

	"github.com/uptrace/bun"
)

// Client is the shared database handle. It owns one connection pool and one
// Bun facade, created on the first Connect or DB call and reused afterwards.
// Construct it explicitly with New or FromEnv and pass it to the code that
// needs database access; there is no package-level instance.
type Client struct {
	config  *Config
	manager AbstractDatabaseManager
	logger  Logger

	mu       sync.RWMutex
	ready    bool
	migrator *MigrationManager
	pending  []MigrationItem
}

// New creates a Client from the given configuration. The configuration is
// copied, resolved against DATABASE_URL style connection URIs and DB_*
// environment overrides, and validated. No connection is opened yet.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	conf := *cfg
	if conf.ConnectionConfig.URL != "" {
		if err := applyDatabaseURL(&conf.ConnectionConfig); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(&conf.ConnectionConfig)
	if err := validateConnectionConfig(&conf.ConnectionConfig); err != nil {
		return nil, err
	}

	logger := GetLogger()
	manager := NewDatabaseManager(&conf.ConnectionConfig)
	manager.SetLogger(logger)

	return &Client{
		config:  &conf,
		manager: manager,
		logger:  logger,
	}, nil
}

// FromEnv creates a Client from the DATABASE_URL environment variable plus
// DB_* overrides. It fails with ErrDatabaseURLNotSet when DATABASE_URL is
// missing or empty, before any pool is constructed.
func FromEnv() (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Open creates a Client from the environment and connects it. This is the
// one-call bootstrap path: read DATABASE_URL, build the pool, run startup
// migrations and seeding per the default configuration.
func Open(ctx context.Context) (*Client, error) {
	client, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Connect opens the connection pool and prepares the Bun facade. It is safe
// to call from multiple goroutines and after a successful first call it
// returns immediately; exactly one pool is ever created per connected
// lifetime. On failure nothing is kept, so a later call can retry cleanly.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.ready {
		return nil
	}

	if err := c.manager.Connect(ctx); err != nil {
		return err
	}

	db := c.manager.GetDB()
	db.RegisterModel(RegisteredModelInstances()...)

	migrator := NewMigrationManager(db, c.logger)
	migrator.SetMigrateConfig(c.config.DataMigrateConfig)
	migrator.SetInitConfig(c.config.DataInitConfig)
	for _, item := range c.pending {
		if err := migrator.RegisterMigration(item); err != nil {
			_ = c.manager.Disconnect()
			return err
		}
	}

	if c.config.DataMigrateConfig.EnableMigrateOnStartup {
		if err := migrator.RunMigrations(ctx); err != nil {
			_ = c.manager.Disconnect()
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	if c.config.DataInitConfig.AutoInitOnStartup {
		if err := migrator.InitData(ctx); err != nil {
			_ = c.manager.Disconnect()
			return fmt.Errorf("failed to initialize data: %w", err)
		}
	}

	c.migrator = migrator
	c.ready = true
	c.logger.Info("Database initialization completed!")
	return nil
}

// DB returns the shared Bun database, connecting on first use. Concurrent
// first calls block until the single connection attempt finishes and then
// share its outcome.
func (c *Client) DB(ctx context.Context) (*bun.DB, error) {
	c.mu.RLock()
	if c.ready {
		db := c.manager.GetDB()
		c.mu.RUnlock()
		return db, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.manager.GetDB(), nil
}

// MustDB is DB but panics on error. Intended for program startup paths where
// a missing database is fatal anyway.
func (c *Client) MustDB(ctx context.Context) *bun.DB {
	db, err := c.DB(ctx)
	if err != nil {
		panic(err)
	}
	return db
}

// SQLDB returns the underlying sql.DB pool, connecting on first use.
func (c *Client) SQLDB(ctx context.Context) (*sql.DB, error) {
	if _, err := c.DB(ctx); err != nil {
		return nil, err
	}
	return c.manager.GetSQLDB(), nil
}

// RunInTx executes fn inside a database transaction, connecting on first use.
func (c *Client) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	db, err := c.DB(ctx)
	if err != nil {
		return err
	}
	return db.RunInTx(ctx, &sql.TxOptions{}, fn)
}

// RegisterMigration adds a custom migration. Items registered before Connect
// are validated and applied when the client connects. Registrations are kept
// for the client's lifetime, so after Close a reconnect sees them again.
func (c *Client) RegisterMigration(item MigrationItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.migrator != nil {
		if err := c.migrator.RegisterMigration(item); err != nil {
			return err
		}
	}
	c.pending = append(c.pending, item)
	return nil
}

// RunMigrations executes pending migrations on a connected client.
func (c *Client) RunMigrations(ctx context.Context) error {
	migrator := c.Migrator()
	if migrator == nil {
		return ErrNotConnected
	}
	return migrator.RunMigrations(ctx)
}

// InitData seeds initial data from SQL files on a connected client.
func (c *Client) InitData(ctx context.Context) error {
	migrator := c.Migrator()
	if migrator == nil {
		return ErrNotConnected
	}
	return migrator.InitData(ctx)
}

// Migrator returns the migration manager, or nil before Connect.
func (c *Client) Migrator() *MigrationManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.migrator
}

// Ping verifies the database connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.manager.Ping(ctx)
}

// IsConnected reports whether the client holds a live connection.
func (c *Client) IsConnected() bool {
	return c.manager.IsConnected()
}

// HealthCheck runs a connectivity check and returns pool health and stats.
func (c *Client) HealthCheck(ctx context.Context) *HealthStatus {
	return c.manager.HealthCheck(ctx)
}

// Stats returns connection pool statistics.
func (c *Client) Stats() *DBStats {
	return c.manager.GetStats()
}

// Manager returns the underlying database manager.
func (c *Client) Manager() AbstractDatabaseManager {
	return c.manager
}

// Config returns the resolved configuration the client was built with.
func (c *Client) Config() *Config {
	return c.config
}

// SetLogger sets the logger on the client and the underlying manager.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
	c.manager.SetLogger(logger)
	if c.migrator != nil {
		c.migrator.logger = logger
	}
}

// Close releases the connection pool. It is idempotent, and the client can
// connect again afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	c.migrator = nil
	return c.manager.Disconnect()
}
