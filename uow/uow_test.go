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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/unitwork/database"
	"github.com/tomoncle/unitwork/repository"
	"github.com/tomoncle/unitwork/types"
	"github.com/tomoncle/unitwork/uow"
	"github.com/uptrace/bun"
)

type Task struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID        string           `bun:"id,pk"`
	Title     string           `bun:"title,notnull"`
	Done      bool             `bun:"done"`
	Meta      types.JsonObject `bun:"meta,type:text,nullzero"`
	CreatedAt time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func newTestManager(t *testing.T, name string) database.AbstractDatabaseManager {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DBName = fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	manager := database.NewDatabaseManager(cfg)
	require.NoError(t, manager.Connect(context.Background()))
	t.Cleanup(func() { _ = manager.Disconnect() })

	mm := database.NewMigrationManager(manager.GetDB(), nil)
	require.NoError(t, mm.ResetModels(context.Background(), (*Task)(nil)))
	return manager
}

func countTasks(t *testing.T, manager database.AbstractDatabaseManager) int {
	t.Helper()
	session, err := manager.PrimarySessions().NewSession(context.Background())
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	count, err := repository.NewRepository[Task](session).Count(context.Background(), nil)
	require.NoError(t, err)
	return count
}

func TestRunCommitsOnlyWhenAsked(t *testing.T) {
	manager := newTestManager(t, "uow_commit")
	ctx := context.Background()

	err := uow.New(manager.PrimarySessions()).Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		tasks := repository.NewRepository[Task](u.Session())
		if _, err := tasks.Create(ctx, types.Fields{"title": "write"}); err != nil {
			return err
		}
		return u.Commit(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countTasks(t, manager))
}

func TestRunWithoutCommitDiscardsWrites(t *testing.T) {
	manager := newTestManager(t, "uow_nocommit")
	ctx := context.Background()

	err := uow.New(manager.PrimarySessions()).Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		tasks := repository.NewRepository[Task](u.Session())
		_, err := tasks.Create(ctx, types.Fields{"title": "forgotten"})
		return err
	})
	require.NoError(t, err)

	// No implicit commit on clean exit.
	assert.Equal(t, 0, countTasks(t, manager))
}

func TestRunRollsBackOnError(t *testing.T) {
	manager := newTestManager(t, "uow_fault")
	ctx := context.Background()
	boom := errors.New("boom")

	err := uow.New(manager.PrimarySessions()).Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		tasks := repository.NewRepository[Task](u.Session())
		if _, err := tasks.Create(ctx, types.Fields{"title": "doomed"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countTasks(t, manager))
}

func TestReadYourWritesBeforeCommit(t *testing.T) {
	manager := newTestManager(t, "uow_ryw")
	ctx := context.Background()

	err := uow.New(manager.PrimarySessions()).Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		tasks := repository.NewRepository[Task](u.Session())
		created, err := tasks.Create(ctx, types.Fields{
			"title": "pending",
			"meta":  types.JsonObject{"source": "inbox"},
		})
		if err != nil {
			return err
		}
		loaded, err := tasks.GetByID(ctx, created.ID)
		if err != nil {
			return err
		}
		require.NotNil(t, loaded)
		assert.Equal(t, "pending", loaded.Title)
		assert.Equal(t, "inbox", loaded.Meta["source"])
		return nil
	})
	require.NoError(t, err)
}

func TestExplicitRollbackInsideScope(t *testing.T) {
	manager := newTestManager(t, "uow_rollback")
	ctx := context.Background()

	u := uow.New(manager.PrimarySessions())
	require.NoError(t, u.Enter(ctx))
	tasks := repository.NewRepository[Task](u.Session())
	_, err := tasks.Create(ctx, types.Fields{"title": "undone"})
	require.NoError(t, err)
	require.NoError(t, u.Rollback(ctx))
	require.NoError(t, u.Close())

	assert.Equal(t, 0, countTasks(t, manager))
}

func TestEnterIsValidExactlyOnce(t *testing.T) {
	manager := newTestManager(t, "uow_enter")
	ctx := context.Background()

	u := uow.New(manager.PrimarySessions())
	require.NoError(t, u.Enter(ctx))
	assert.Error(t, u.Enter(ctx))
	require.NoError(t, u.Close())
	require.NoError(t, u.Close())
	assert.Error(t, u.Enter(ctx))
	assert.Error(t, u.Commit(ctx))
}

func TestOwnedCloseReleasesSession(t *testing.T) {
	manager := newTestManager(t, "uow_owned")
	ctx := context.Background()

	u := uow.New(manager.PrimarySessions())
	require.NoError(t, u.Enter(ctx))
	assert.True(t, u.Owned())
	session := u.Session()
	require.NoError(t, u.Close())
	assert.Equal(t, database.TxClosed, session.State())
}

func TestBorrowedSessionIsNotClosed(t *testing.T) {
	manager := newTestManager(t, "uow_borrowed")
	ctx := context.Background()

	session, err := manager.PrimarySessions().NewSession(ctx)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	u := uow.NewWithSession(session)
	require.NoError(t, u.Enter(ctx))
	assert.False(t, u.Owned())

	tasks := repository.NewRepository[Task](u.Session())
	_, err = tasks.Create(ctx, types.Fields{"title": "borrowed"})
	require.NoError(t, err)

	// Close rolls uncommitted work back but leaves the session lifecycle
	// with its real owner.
	require.NoError(t, u.Close())
	assert.Equal(t, database.TxRolledBack, session.State())
	assert.NotEqual(t, database.TxClosed, session.State())
}

func TestBorrowedCommittedScopeLeavesSessionCommitted(t *testing.T) {
	manager := newTestManager(t, "uow_borrowed_commit")
	ctx := context.Background()

	session, err := manager.PrimarySessions().NewSession(ctx)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	u := uow.NewWithSession(session)
	err = u.Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		tasks := repository.NewRepository[Task](u.Session())
		if _, err := tasks.Create(ctx, types.Fields{"title": "kept"}); err != nil {
			return err
		}
		return u.Commit(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, database.TxCommitted, session.State())
	assert.Equal(t, 1, countTasks(t, manager))
}

type taskScope struct {
	*uow.UnitOfWork
	Tasks repository.Repository[Task]
}

func newTaskScope(factory database.SessionFactory) *taskScope {
	scope := &taskScope{}
	scope.UnitOfWork = uow.New(factory, uow.WithBinder(func(ctx context.Context, s *database.Session) error {
		scope.Tasks = repository.NewRepository[Task](s)
		return nil
	}))
	return scope
}

func TestStaticCompositionBindsTypedRepositories(t *testing.T) {
	manager := newTestManager(t, "uow_static")
	ctx := context.Background()

	scope := newTaskScope(manager.PrimarySessions())
	err := scope.Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		if _, err := scope.Tasks.Create(ctx, types.Fields{"title": "typed"}); err != nil {
			return err
		}
		return u.Commit(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countTasks(t, manager))
}

func TestBackgroundUnitOfWorkDrawsFromBackgroundPool(t *testing.T) {
	manager := newTestManager(t, "uow_background")
	ctx := context.Background()

	u := uow.NewBackground(manager)
	err := u.Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		assert.Equal(t, "background", u.Session().Pool())
		tasks := repository.NewRepository[Task](u.Session())
		if _, err := tasks.Create(ctx, types.Fields{"title": "bg"}); err != nil {
			return err
		}
		return u.Commit(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countTasks(t, manager))
}
