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

package uow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/unitwork/database"
	"github.com/tomoncle/unitwork/repository"
	"github.com/tomoncle/unitwork/types"
	"github.com/tomoncle/unitwork/uow"
)

func taskRegistry() map[string]uow.Constructor {
	return map[string]uow.Constructor{
		"tasks": func(s *database.Session) interface{} {
			return repository.NewRepository[Task](s)
		},
	}
}

func TestDynamicRepositoriesAreBuiltOnEnter(t *testing.T) {
	manager := newTestManager(t, "dyn_enter")
	ctx := context.Background()

	d := uow.NewDynamic(manager.PrimarySessions(), taskRegistry())

	// Before Enter there is nothing to look up.
	_, err := d.Repository("tasks")
	require.Error(t, err)

	err = d.Run(ctx, func(ctx context.Context, d *uow.DynamicUnitOfWork) error {
		repo, err := uow.Typed[repository.Repository[Task]](d, "tasks")
		if err != nil {
			return err
		}
		if _, err := repo.Create(ctx, types.Fields{"title": "dynamic"}); err != nil {
			return err
		}
		return d.Commit(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countTasks(t, manager))
}

func TestDynamicMissEnumeratesRegisteredNames(t *testing.T) {
	manager := newTestManager(t, "dyn_miss")
	ctx := context.Background()

	registry := taskRegistry()
	registry["archive"] = func(s *database.Session) interface{} {
		return repository.NewRepository[Task](s)
	}

	d := uow.NewDynamic(manager.PrimarySessions(), registry)
	err := d.Run(ctx, func(ctx context.Context, d *uow.DynamicUnitOfWork) error {
		_, err := d.Repository("payments")
		require.Error(t, err)
		assert.True(t, database.IsConfiguration(err))
		assert.Contains(t, err.Error(), `"payments"`)
		assert.Contains(t, err.Error(), "registered: archive, tasks")
		return nil
	})
	require.NoError(t, err)
}

func TestTypedRejectsWrongType(t *testing.T) {
	manager := newTestManager(t, "dyn_typed")
	ctx := context.Background()

	d := uow.NewDynamic(manager.PrimarySessions(), taskRegistry())
	err := d.Run(ctx, func(ctx context.Context, d *uow.DynamicUnitOfWork) error {
		_, err := uow.Typed[repository.Repository[Task]](d, "tasks")
		assert.NoError(t, err)

		_, err = uow.Typed[string](d, "tasks")
		require.Error(t, err)
		assert.True(t, database.IsConfiguration(err))
		return nil
	})
	require.NoError(t, err)
}

func TestDynamicTransactionSemanticsMatchBase(t *testing.T) {
	manager := newTestManager(t, "dyn_tx")
	ctx := context.Background()

	// Clean exit without commit discards the write, same as the base unit.
	err := uow.NewDynamic(manager.PrimarySessions(), taskRegistry()).
		Run(ctx, func(ctx context.Context, d *uow.DynamicUnitOfWork) error {
			repo, err := uow.Typed[repository.Repository[Task]](d, "tasks")
			if err != nil {
				return err
			}
			_, err = repo.Create(ctx, types.Fields{"title": "dropped"})
			return err
		})
	require.NoError(t, err)
	assert.Equal(t, 0, countTasks(t, manager))
}

func TestBackgroundDynamicUsesBackgroundPool(t *testing.T) {
	manager := newTestManager(t, "dyn_bg")
	ctx := context.Background()

	d := uow.NewBackgroundDynamic(manager, taskRegistry())
	err := d.Run(ctx, func(ctx context.Context, d *uow.DynamicUnitOfWork) error {
		assert.Equal(t, "background", d.Session().Pool())
		return nil
	})
	require.NoError(t, err)
}
