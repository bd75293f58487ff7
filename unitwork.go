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

// Package unitwork is a thin facade over the global database manager: it
// initializes the primary and background pools and hands out units of work
// bound to them. Applications that manage their own database.Config and
// manager can skip this package entirely and use database, repository, and
// uow directly.
package unitwork

import (
	"context"
	"fmt"

	"github.com/tomoncle/unitwork/database"
	"github.com/tomoncle/unitwork/uow"
)

// Init connects both pools using cfg and runs migrations for registered
// models when the config asks for it.
func Init(cfg *database.Config) error {
	_, err := database.InitDB(cfg)
	return err
}

// Close releases the global database connections.
func Close() error {
	return database.CloseDB()
}

// New returns a unit of work owning a session from the primary pool.
func New(opts ...uow.Option) *uow.UnitOfWork {
	return uow.New(database.PrimarySessions(), opts...)
}

// NewBackground returns a unit of work owning a session from the background
// pool.
func NewBackground(opts ...uow.Option) (*uow.BackgroundUnitOfWork, error) {
	manager := database.GetDatabaseManager()
	if manager == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return uow.NewBackground(manager, opts...), nil
}

// NewDynamic returns a dynamic unit of work on the primary pool with the
// given repository registry.
func NewDynamic(constructors map[string]uow.Constructor, opts ...uow.Option) *uow.DynamicUnitOfWork {
	return uow.NewDynamic(database.PrimarySessions(), constructors, opts...)
}

// RunInTx runs fn inside a fresh primary-pool unit of work. fn decides the
// outcome: mutations persist only if it calls Commit before returning.
func RunInTx(ctx context.Context, fn func(ctx context.Context, u *uow.UnitOfWork) error) error {
	return New().Run(ctx, fn)
}
