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
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/uptrace/bun"
)

// MigrationManager coordinates schema migrations and data initialization.
// Behavior is driven by the injected migrate and init configs; the zero
// manager created by NewMigrationManager runs with DefaultConfig settings.
type MigrationManager struct {
	db            *bun.DB
	logger        Logger
	migrateConfig DataMigrateConfig
	initConfig    DataInitConfig

	customMu sync.Mutex
	custom   []MigrationItem
}

// Migration represents an applied migration record stored in the database.
type Migration struct {
	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name"`
	AppliedAt   time.Time `bun:"applied_at"`
	Description string    `bun:"description"`
}

// MigrationFunc is a migration step executed within a transaction.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem describes a single migration version with up/down functions.
type MigrationItem struct {
	Version     string
	Name        string
	Description string
	Up          MigrationFunc
	Down        MigrationFunc
}

// NewMigrationManager constructs a new MigrationManager using the provided Bun
// database and logger.
func NewMigrationManager(db *bun.DB, logger Logger) *MigrationManager {
	defaults := DefaultConfig()
	return &MigrationManager{
		db:            db,
		logger:        logger,
		migrateConfig: defaults.DataMigrateConfig,
		initConfig:    defaults.DataInitConfig,
	}
}

// SetMigrateConfig sets the migration behavior configuration.
func (mm *MigrationManager) SetMigrateConfig(cfg DataMigrateConfig) {
	mm.migrateConfig = cfg
}

// SetInitConfig sets the data initialization configuration.
func (mm *MigrationManager) SetInitConfig(cfg DataInitConfig) {
	mm.initConfig = cfg
}

// SetEnvironment sets the environment used when initializing data from SQL.
func (mm *MigrationManager) SetEnvironment(env string) {
	mm.initConfig.Environment = env
}

// RegisterMigration adds a custom migration to run after the built-in ones.
// Version must be unique and Up must be set.
func (mm *MigrationManager) RegisterMigration(item MigrationItem) error {
	if item.Version == "" {
		return fmt.Errorf("migration version cannot be empty")
	}
	if item.Up == nil {
		return fmt.Errorf("migration %s has no up function", item.Version)
	}

	mm.customMu.Lock()
	defer mm.customMu.Unlock()
	for _, existing := range mm.custom {
		if existing.Version == item.Version {
			return fmt.Errorf("migration %s is already registered", item.Version)
		}
	}
	mm.custom = append(mm.custom, item)
	return nil
}

// RunMigrations creates the migration tracking table if needed and executes all
// registered migrations in ascending version order. Already applied versions
// are skipped.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	// silent migration
	if _, ok := os.LookupEnv("SQL_LOG_MIGRATION"); !ok {
		SetSQLLogSilent(true)
		defer SetSQLLogSilent(false)
	}

	if mm.db == nil {
		return ErrNotConnected
	}

	if err := mm.createMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations := mm.getAllMigrations()

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, migration := range migrations {
		if err := mm.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", migration.Version, err)
		}
	}

	if mm.logger != nil {
		mm.logger.Info("Database migrations completed!")
	}

	return nil
}

func (mm *MigrationManager) createMigrationTable(ctx context.Context) error {
	_, err := mm.db.NewCreateTable().
		Model((*Migration)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (mm *MigrationManager) getAllMigrations() []MigrationItem {
	migrations := []MigrationItem{
		{
			Version:     "001",
			Name:        "create_base_tables",
			Description: "Create base table structure",
			Up:          mm.createBaseTables,
		},
	}
	if mm.migrateConfig.EnableForeignKey {
		migrations = append(migrations, MigrationItem{
			Version:     "002",
			Name:        "add_foreign_keys",
			Description: "Add table foreign key constraints",
			Up:          mm.addForeignKeys,
		})
	}
	if mm.initConfig.AutoInitOnMigration {
		migrations = append(migrations, MigrationItem{
			Version:     "003",
			Name:        "seed_initial_data",
			Description: "Seed initial data",
			Up:          mm.seedInitialData,
		})
	}

	mm.customMu.Lock()
	migrations = append(migrations, mm.custom...)
	mm.customMu.Unlock()

	return migrations
}

func (mm *MigrationManager) runMigration(ctx context.Context, migration MigrationItem) error {
	exists, err := mm.db.NewSelect().
		Model((*Migration)(nil)).
		Where("version = ?", migration.Version).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var committed bool
	defer func(tx bun.Tx) {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				mm.logger.Error("Failed to rollback transaction", "error", rollbackErr)
			}
		}
	}(tx)

	if err := migration.Up(ctx, tx); err != nil {
		return err
	}

	migrationRecord := &Migration{
		Version:     migration.Version,
		Name:        migration.Name,
		AppliedAt:   time.Now(),
		Description: migration.Description,
	}

	_, err = tx.NewInsert().
		Model(migrationRecord).
		Exec(ctx)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	if mm.logger != nil {
		mm.logger.Info("Migration executed successfully", "version", migration.Version, "name", migration.Name)
	}

	return nil
}

func (mm *MigrationManager) createBaseTables(ctx context.Context, db bun.IDB) error {
	for _, model := range RegisteredModelInstances() {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table %T: %w", model, err)
		}
	}
	return nil
}

func (mm *MigrationManager) addForeignKeys(ctx context.Context, db bun.IDB) error {
	configPath := mm.migrateConfig.ForeignKeyFile
	fkManager, err := NewConfigurableForeignKeyManager(mm.logger, configPath)
	if err != nil {
		if mm.logger != nil {
			mm.logger.Debug("Failed to use config-based foreign key manager, falling back to code-defined", "error", err.Error())
		}
		fkManager := NewForeignKeyManager(mm.logger)
		return fkManager.AddAllForeignKeys(ctx, db)
	}

	if errors := fkManager.ValidateConstraints(); len(errors) > 0 {
		for _, err := range errors {
			if mm.logger != nil {
				mm.logger.Debug("Foreign key constraint validation failed", "error", err.Error())
			}
		}
		return fmt.Errorf("foreign key constraint validation failed, %d errors in total", len(errors))
	}

	if mm.logger != nil {
		mm.logger.Debug("Managing foreign key constraints using config file", "config_path", configPath)
	}

	return fkManager.AddAllForeignKeys(ctx, db)
}

// InitData seeds initial data from SQL files outside of the migration flow.
func (mm *MigrationManager) InitData(ctx context.Context) error {
	if mm.db == nil {
		return ErrNotConnected
	}
	return mm.seedInitialData(ctx, mm.db)
}

func (mm *MigrationManager) seedInitialData(ctx context.Context, db bun.IDB) error {
	// Initialize data using SQL files
	return mm.seedDataFromSQL(ctx)
}

func (mm *MigrationManager) seedDataFromSQL(ctx context.Context) error {
	environment := mm.initConfig.Environment
	if environment == "" {
		environment = "development"
	}

	seeder := NewSeedManager(mm.db, environment)
	if mm.initConfig.Filepath != "" {
		seeder.SetSQLRootPath(mm.initConfig.Filepath)
	}

	if mm.logger != nil {
		mm.logger.Info("Starting data initialization using SQL files", "environment", environment)
	}

	if err := seeder.ExecuteInitialization(ctx); err != nil {
		return fmt.Errorf("SQL file initialization failed: %w", err)
	}

	if mm.logger != nil {
		mm.logger.Info("SQL file initialization completed")
	}

	return nil
}

// GetAppliedMigrations returns migration records ordered by version.
func (mm *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]Migration, error) {
	var migrations []Migration
	err := mm.db.NewSelect().
		Model(&migrations).
		Order("version ASC").
		Scan(ctx)
	return migrations, err
}

// RollbackMigration reverts a single applied migration using its Down
// function and removes the migration record. Migrations without a Down
// function cannot be rolled back.
func (mm *MigrationManager) RollbackMigration(ctx context.Context, version string) error {
	if mm.db == nil {
		return ErrNotConnected
	}

	var record Migration
	err := mm.db.NewSelect().
		Model(&record).
		Where("version = ?", version).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("migration %s has not been applied", version)
		}
		return err
	}

	item, ok := mm.lookupMigration(version)
	if !ok {
		return fmt.Errorf("migration %s is not registered", version)
	}
	if item.Down == nil {
		return fmt.Errorf("migration %s has no down function", version)
	}

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var committed bool
	defer func(tx bun.Tx) {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				mm.logger.Error("Failed to rollback transaction", "error", rollbackErr)
			}
		}
	}(tx)

	if err := item.Down(ctx, tx); err != nil {
		return err
	}

	_, err = tx.NewDelete().
		Model((*Migration)(nil)).
		Where("version = ?", version).
		Exec(ctx)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	if mm.logger != nil {
		mm.logger.Info("Migration rolled back", "version", version, "name", item.Name)
	}

	return nil
}

func (mm *MigrationManager) lookupMigration(version string) (MigrationItem, bool) {
	for _, item := range mm.getAllMigrations() {
		if item.Version == version {
			return item, true
		}
	}
	return MigrationItem{}, false
}
