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

package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/unitwork/database"
	"github.com/tomoncle/unitwork/repository"
	"github.com/tomoncle/unitwork/types"
)

// seedLibrary inserts one author P1 with two books C1 and C2, committed so
// later sessions can read it.
func seedLibrary(t *testing.T, manager database.AbstractDatabaseManager) *Author {
	t.Helper()
	ctx := context.Background()
	session, err := manager.PrimarySessions().NewSession(ctx)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	authors := repository.NewRepository[Author](session)
	books := repository.NewRepository[Book](session)

	author, err := authors.Create(ctx, types.Fields{"name": "P1", "email": "p1@example.com"})
	require.NoError(t, err)
	children, err := books.BulkCreate(ctx, []types.Fields{
		{"title": "C1", "author_id": author.ID},
		{"title": "C2", "author_id": author.ID},
	})
	require.NoError(t, err)
	require.Len(t, children, 2)

	require.NoError(t, session.Commit(ctx))
	return author
}

func TestBatchLoadingIsTwoRoundTrips(t *testing.T) {
	manager := newTestManager(t, "rel_batch")
	author := seedLibrary(t, manager)

	hook := database.NewCountingHook()
	manager.GetDB().AddQueryHook(hook)

	repo := repository.NewRepository[Author](newTestSession(t, manager))
	hook.Reset()

	authors, err := repo.GetAllWith(context.Background(), []string{"Books"}, repository.LoadBatch)
	require.NoError(t, err)

	// One parent query plus one IN-list query, regardless of result size.
	assert.EqualValues(t, 2, hook.Count())

	require.Len(t, authors, 1)
	assert.Equal(t, author.ID, authors[0].ID)
	require.Len(t, authors[0].Books, 2)
	titles := []string{authors[0].Books[0].Title, authors[0].Books[1].Title}
	assert.ElementsMatch(t, []string{"C1", "C2"}, titles)
}

func TestJoinLoadingFoldsToOneRelationIntoParentQuery(t *testing.T) {
	manager := newTestManager(t, "rel_join")
	author := seedLibrary(t, manager)

	hook := database.NewCountingHook()
	manager.GetDB().AddQueryHook(hook)

	repo := repository.NewRepository[Book](newTestSession(t, manager))
	hook.Reset()

	books, err := repo.GetManyWith(context.Background(), nil, []string{"Author"},
		repository.LoadJoin, 0, 0, "title ASC")
	require.NoError(t, err)

	assert.EqualValues(t, 1, hook.Count())

	require.Len(t, books, 2)
	for _, book := range books {
		require.NotNil(t, book.Author)
		assert.Equal(t, author.ID, book.Author.ID)
	}
}

func TestJoinLoadingFallsBackToBatchForToMany(t *testing.T) {
	manager := newTestManager(t, "rel_join_many")
	seedLibrary(t, manager)

	repo := repository.NewRepository[Author](newTestSession(t, manager))

	// Joining a has-many would multiply parent rows, so Books still loads
	// through the batch path.
	authors, err := repo.GetAllWith(context.Background(), []string{"Books"}, repository.LoadJoin)
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.Len(t, authors[0].Books, 2)
}

func TestSubqueryLoading(t *testing.T) {
	manager := newTestManager(t, "rel_subquery")
	seedLibrary(t, manager)

	hook := database.NewCountingHook()
	manager.GetDB().AddQueryHook(hook)

	repo := repository.NewRepository[Author](newTestSession(t, manager))
	hook.Reset()

	authors, err := repo.GetManyWith(context.Background(),
		types.Filters{"name": "P1"}, []string{"Books"}, repository.LoadSubquery, 0, 0)
	require.NoError(t, err)

	assert.EqualValues(t, 2, hook.Count())
	require.Len(t, authors, 1)
	assert.Len(t, authors[0].Books, 2)
}

func TestGetByIDWithLoadsRelations(t *testing.T) {
	manager := newTestManager(t, "rel_byid")
	author := seedLibrary(t, manager)

	repo := repository.NewRepository[Author](newTestSession(t, manager))

	loaded, err := repo.GetByIDWith(context.Background(), author.ID, []string{"Books"}, repository.LoadBatch)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Books, 2)

	missing, err := repo.GetByIDWith(context.Background(), "missing", []string{"Books"}, repository.LoadBatch)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUnknownRelationNameListsKnownRelations(t *testing.T) {
	manager := newTestManager(t, "rel_unknown")
	repo := repository.NewRepository[Author](newTestSession(t, manager))

	_, err := repo.GetAllWith(context.Background(), []string{"Publisher"}, repository.LoadBatch)
	require.Error(t, err)
	assert.True(t, database.IsConfiguration(err))
	assert.Contains(t, err.Error(), "Publisher")
	assert.Contains(t, err.Error(), "Books")
}

func TestNestedRelationNameIsRejected(t *testing.T) {
	manager := newTestManager(t, "rel_nested")
	repo := repository.NewRepository[Author](newTestSession(t, manager))

	_, err := repo.GetAllWith(context.Background(), []string{"Books.Author"}, repository.LoadBatch)
	require.Error(t, err)
	assert.True(t, database.IsConfiguration(err))
	assert.Contains(t, err.Error(), "nested")
}

func TestEagerLoadingSeesUncommittedWrites(t *testing.T) {
	manager := newTestManager(t, "rel_ryw")
	ctx := context.Background()

	session := newTestSession(t, manager)
	authors := repository.NewRepository[Author](session)
	books := repository.NewRepository[Book](session)

	author, err := authors.Create(ctx, types.Fields{"name": "P1", "email": "p1@example.com"})
	require.NoError(t, err)
	_, err = books.Create(ctx, types.Fields{"title": "C1", "author_id": author.ID})
	require.NoError(t, err)

	// Loaders run on the session's transaction, not a fresh connection.
	loaded, err := authors.GetByIDWith(ctx, author.ID, []string{"Books"}, repository.LoadBatch)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Books, 1)
}

func TestLoadStrategyEnum(t *testing.T) {
	assert.Equal(t, "batch", repository.LoadBatch.String())
	assert.Equal(t, "join", repository.LoadJoin.String())
	assert.Equal(t, "subquery", repository.LoadSubquery.String())
	assert.True(t, repository.LoadSubquery.IsValid())
	assert.False(t, repository.LoadStrategy(42).IsValid())

	repo := repository.NewRepository[Author](newTestSession(t, newTestManager(t, "rel_strategy")))
	_, err := repo.GetAllWith(context.Background(), nil, repository.LoadStrategy(42))
	require.Error(t, err)
	assert.True(t, database.IsConfiguration(err))
}
