/*
 * Copyright 2025 tomoncle.
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

	"github.com/uptrace/bun"
)

// MigrationManager creates tables for every registered model. Entity schemas
// are a domain concern; the manager only guarantees that registered models
// have a table before the first session opens.
type MigrationManager struct {
	db     *bun.DB
	logger Logger
}

// NewMigrationManager constructs a MigrationManager using the provided Bun
// database and logger.
func NewMigrationManager(db *bun.DB, logger Logger) *MigrationManager {
	return &MigrationManager{
		db:     db,
		logger: logger,
	}
}

// RunMigrations creates the table for every registered model in priority
// order. Existing tables are left untouched.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	// silent migration
	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); !ok {
		EnableBunSqlSilent(true)
		defer EnableBunSqlSilent(false)
	}

	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}

	for _, model := range GetRegisteredModels() {
		_, err := mm.db.NewCreateTable().
			Model(model.Instance()).
			IfNotExists().
			WithForeignKeys().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model.Instance(), err)
		}
	}

	if mm.logger != nil {
		mm.logger.Info("Database migrations completed!", "models", len(GetRegisteredModels()))
	}
	return nil
}

// ResetModels drops and recreates the tables of the given models. Intended
// for tests and throwaway environments, never for production startup.
func (mm *MigrationManager) ResetModels(ctx context.Context, models ...interface{}) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return mm.db.ResetModel(ctx, models...)
}
