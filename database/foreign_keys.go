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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

// ForeignKeyConstraint describes a foreign key relationship between tables.
type ForeignKeyConstraint struct {
	Table           string
	Column          string
	ReferenceTable  string
	ReferenceColumn string
	OnDelete        string // CASCADE, RESTRICT, SET NULL, NO ACTION
	OnUpdate        string // CASCADE, RESTRICT, SET NULL, NO ACTION
	ConstraintName  string
}

// GenerateConstraintName returns the explicit name or a derived name.
func (fk *ForeignKeyConstraint) GenerateConstraintName() string {
	if fk.ConstraintName != "" {
		return fk.ConstraintName
	}
	return fmt.Sprintf("fk_%s_%s", fk.Table, fk.Column)
}

// GenerateSQL returns the ALTER TABLE statement to add the constraint.
func (fk *ForeignKeyConstraint) GenerateSQL() string {
	constraintName := fk.GenerateConstraintName()
	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s)",
		fk.Table, constraintName, fk.Column, fk.ReferenceTable, fk.ReferenceColumn)

	if fk.OnDelete != "" {
		sql += fmt.Sprintf(" ON DELETE %s", fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		sql += fmt.Sprintf(" ON UPDATE %s", fk.OnUpdate)
	}

	return sql
}

// ForeignKeyManager manages adding and validating foreign key constraints.
type ForeignKeyManager struct {
	constraints []ForeignKeyConstraint
	logger      Logger
}

// NewForeignKeyManager creates a manager with the given constraints.
func NewForeignKeyManager(logger Logger, constraints ...ForeignKeyConstraint) *ForeignKeyManager {
	return &ForeignKeyManager{
		constraints: constraints,
		logger:      logger,
	}
}

// AddAllForeignKeys iterates through all constraints and adds them to the
// database. Constraints that already exist are logged and skipped.
func (fkm *ForeignKeyManager) AddAllForeignKeys(ctx context.Context, db bun.IDB) error {
	for _, constraint := range fkm.constraints {
		if err := fkm.addForeignKey(ctx, db, constraint); err != nil {
			if fkm.logger != nil {
				fkm.logger.Debug("Failed to add foreign key constraint", "constraint", constraint.GenerateConstraintName(), "error", err.Error())
			}
			continue
		}
		if fkm.logger != nil {
			fkm.logger.Debug("Successfully added foreign key constraint", "constraint", constraint.GenerateConstraintName())
		}
	}
	return nil
}

// addForeignKey executes a single constraint addition.
func (fkm *ForeignKeyManager) addForeignKey(ctx context.Context, db bun.IDB, constraint ForeignKeyConstraint) error {
	sql := constraint.GenerateSQL()
	_, err := db.ExecContext(ctx, sql)
	return err
}

// RemoveForeignKey drops a named foreign key from a table.
func (fkm *ForeignKeyManager) RemoveForeignKey(ctx context.Context, db bun.IDB, tableName, constraintName string) error {
	sql := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", tableName, constraintName)
	_, err := db.ExecContext(ctx, sql)
	return err
}

// GetConstraintsByTable returns the constraints defined for a table.
func (fkm *ForeignKeyManager) GetConstraintsByTable(tableName string) []ForeignKeyConstraint {
	var result []ForeignKeyConstraint
	for _, constraint := range fkm.constraints {
		if strings.EqualFold(constraint.Table, tableName) {
			result = append(result, constraint)
		}
	}
	return result
}

// ListAllConstraints returns all configured constraints.
func (fkm *ForeignKeyManager) ListAllConstraints() []ForeignKeyConstraint {
	return fkm.constraints
}

// ValidateConstraints checks the configured constraints for common issues.
func (fkm *ForeignKeyManager) ValidateConstraints() []error {
	var errors []error

	for _, constraint := range fkm.constraints {
		if constraint.Table == "" {
			errors = append(errors, fmt.Errorf("table name cannot be empty"))
		}
		if constraint.Column == "" {
			errors = append(errors, fmt.Errorf("column name cannot be empty: %s", constraint.Table))
		}
		if constraint.ReferenceTable == "" {
			errors = append(errors, fmt.Errorf("reference table name cannot be empty: %s.%s", constraint.Table, constraint.Column))
		}
		if constraint.ReferenceColumn == "" {
			errors = append(errors, fmt.Errorf("reference column name cannot be empty: %s.%s -> %s", constraint.Table, constraint.Column, constraint.ReferenceTable))
		}

		if constraint.OnDelete != "" && !validReferentialAction(constraint.OnDelete) {
			errors = append(errors, fmt.Errorf("invalid delete policy: %s, constraint: %s", constraint.OnDelete, constraint.GenerateConstraintName()))
		}
		if constraint.OnUpdate != "" && !validReferentialAction(constraint.OnUpdate) {
			errors = append(errors, fmt.Errorf("invalid update policy: %s, constraint: %s", constraint.OnUpdate, constraint.GenerateConstraintName()))
		}
	}

	return errors
}

func validReferentialAction(action string) bool {
	for _, valid := range []string{"CASCADE", "RESTRICT", "SET NULL", "NO ACTION"} {
		if strings.EqualFold(action, valid) {
			return true
		}
	}
	return false
}

// ForeignKeyConfig is the YAML structure that lists foreign key constraints.
type ForeignKeyConfig struct {
	ForeignKeys []ForeignKeyConstraintConfig `yaml:"foreign_keys"`
}

// ForeignKeyConstraintConfig describes a single foreign key in configuration.
type ForeignKeyConstraintConfig struct {
	Table           string `yaml:"table"`
	Column          string `yaml:"column"`
	ReferenceTable  string `yaml:"reference_table"`
	ReferenceColumn string `yaml:"reference_column"`
	OnDelete        string `yaml:"on_delete"`
	OnUpdate        string `yaml:"on_update"`
	ConstraintName  string `yaml:"constraint_name"`
	Description     string `yaml:"description"`
}

// ToForeignKeyConstraint converts the config entry into a runtime constraint.
func (fkc *ForeignKeyConstraintConfig) ToForeignKeyConstraint() ForeignKeyConstraint {
	return ForeignKeyConstraint{
		Table:           fkc.Table,
		Column:          fkc.Column,
		ReferenceTable:  fkc.ReferenceTable,
		ReferenceColumn: fkc.ReferenceColumn,
		OnDelete:        fkc.OnDelete,
		OnUpdate:        fkc.OnUpdate,
		ConstraintName:  fkc.ConstraintName,
	}
}

// ConfigurableForeignKeyManager loads foreign key constraints from a YAML
// configuration file.
type ConfigurableForeignKeyManager struct {
	*ForeignKeyManager
	configPath string
}

// NewConfigurableForeignKeyManager creates a foreign key manager using the
// provided YAML configuration file path. A missing or unparsable file
// yields a manager with no constraints and the error for the caller to
// decide on.
func NewConfigurableForeignKeyManager(logger Logger, configPath string) (*ConfigurableForeignKeyManager, error) {
	manager := &ConfigurableForeignKeyManager{
		configPath: configPath,
	}
	constraints, err := manager.loadFromConfig()
	if err != nil {
		if logger != nil {
			logger.Debug("Failed to load foreign key constraints from config", "error", err.Error(), "config_path", configPath)
		}
		manager.ForeignKeyManager = NewForeignKeyManager(logger)
		return manager, err
	}

	manager.ForeignKeyManager = NewForeignKeyManager(logger, constraints...)
	return manager, nil
}

func (cfm *ConfigurableForeignKeyManager) loadFromConfig() ([]ForeignKeyConstraint, error) {
	if _, err := os.Stat(cfm.configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", cfm.configPath)
	}

	data, err := os.ReadFile(cfm.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ForeignKeyConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	var constraints []ForeignKeyConstraint
	for _, fkConfig := range config.ForeignKeys {
		constraints = append(constraints, fkConfig.ToForeignKeyConstraint())
	}

	return constraints, nil
}

// ReloadConfig refreshes constraints from the YAML configuration file.
func (cfm *ConfigurableForeignKeyManager) ReloadConfig() error {
	constraints, err := cfm.loadFromConfig()
	if err != nil {
		return err
	}

	cfm.constraints = constraints
	return nil
}

// ExportToConfig writes the current constraints into a YAML configuration
// file at the given output path, creating directories as needed.
func (cfm *ConfigurableForeignKeyManager) ExportToConfig(outputPath string) error {
	var configConstraints []ForeignKeyConstraintConfig
	for _, constraint := range cfm.constraints {
		configConstraints = append(configConstraints, ForeignKeyConstraintConfig{
			Table:           constraint.Table,
			Column:          constraint.Column,
			ReferenceTable:  constraint.ReferenceTable,
			ReferenceColumn: constraint.ReferenceColumn,
			OnDelete:        constraint.OnDelete,
			OnUpdate:        constraint.OnUpdate,
			ConstraintName:  constraint.ConstraintName,
			Description:     fmt.Sprintf("%s.%s -> %s.%s", constraint.Table, constraint.Column, constraint.ReferenceTable, constraint.ReferenceColumn),
		})
	}

	config := ForeignKeyConfig{
		ForeignKeys: configConstraints,
	}

	data, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the YAML configuration file.
func (cfm *ConfigurableForeignKeyManager) GetConfigPath() string {
	return cfm.configPath
}
