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

package repository

import (
	"context"

	"github.com/tomoncle/unitwork/database"
	"github.com/tomoncle/unitwork/types"
)

// LoadStrategy selects how related entities are fetched alongside their
// parents.
type LoadStrategy int

const (
	// LoadBatch fetches parents first, then one IN-list query per relation.
	// A fetch with R relations costs 1+R round trips regardless of the
	// number of parents. This is the default.
	LoadBatch LoadStrategy = iota
	// LoadJoin merges to-one relations into the parent query as joins.
	// To-many relations would multiply parent rows, so they silently use
	// the batch loader instead.
	LoadJoin
	// LoadSubquery constrains the relation query with a subquery that
	// re-evaluates the parent predicate, instead of materializing the
	// parent keys client-side.
	LoadSubquery
)

func (s LoadStrategy) String() string {
	switch s {
	case LoadBatch:
		return "batch"
	case LoadJoin:
		return "join"
	case LoadSubquery:
		return "subquery"
	default:
		return "unknown"
	}
}

func (s LoadStrategy) Number() int { return int(s) }

func (s LoadStrategy) IsValid() bool { return s >= LoadBatch && s <= LoadSubquery }

var _ types.BaseEnum = LoadBatch

// CrudRepository defines field-map based CRUD operations for a generic
// entity type. Fields and Filters are keyed by column name. Lookups treat
// absence as a valid nil result; only GetByIDRequired raises NotFoundError.
type CrudRepository[T any] interface {
	Create(ctx context.Context, fields types.Fields) (*T, error)

	// BulkCreate inserts the payloads in order as a single statement.
	// It never commits; a failure leaves nothing persisted once the
	// enclosing transaction rolls back.
	BulkCreate(ctx context.Context, payloads []types.Fields) ([]*T, error)

	GetByID(ctx context.Context, id any) (*T, error)

	GetByIDRequired(ctx context.Context, id any) (*T, error)

	GetOne(ctx context.Context, filters types.Filters) (*T, error)

	GetMany(ctx context.Context, filters types.Filters, skip, limit int, orders ...string) ([]*T, error)

	GetAll(ctx context.Context) ([]*T, error)

	// Update applies a partial update and returns the refreshed entity,
	// or (nil, nil) when no row matches id.
	Update(ctx context.Context, id any, fields types.Fields) (*T, error)

	// Delete reports whether a row was actually removed.
	Delete(ctx context.Context, id any) (bool, error)

	Count(ctx context.Context, filters types.Filters) (int, error)

	Exists(ctx context.Context, filters types.Filters) (bool, error)

	// GetOrCreate returns the entity matching filters, creating it from
	// filters merged with defaults when absent. The boolean reports
	// whether a row was created. When a concurrent writer wins the
	// insert race the read is retried exactly once.
	GetOrCreate(ctx context.Context, filters types.Filters, defaults types.Fields) (*T, bool, error)

	// UpdateOrCreate updates the entity matching filters with defaults,
	// creating it when absent. Same conflict retry as GetOrCreate.
	UpdateOrCreate(ctx context.Context, filters types.Filters, defaults types.Fields) (*T, bool, error)
}

// EagerLoadRepository defines lookups that fetch named relations along with
// the entities. Unknown or nested relation names raise ConfigurationError
// listing the model's relation names.
type EagerLoadRepository[T any] interface {
	GetByIDWith(ctx context.Context, id any, relations []string, strategy LoadStrategy) (*T, error)

	GetManyWith(ctx context.Context, filters types.Filters, relations []string, strategy LoadStrategy, skip, limit int, orders ...string) ([]*T, error)

	GetAllWith(ctx context.Context, relations []string, strategy LoadStrategy) ([]*T, error)
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// RawQueryRepository defines escape hatches for predicates that equality
// filters cannot express.
type RawQueryRepository[T any] interface {
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)
}

// Repository combines CRUD, eager loading, pagination, and raw queries.
// Every operation runs on the bound session's transaction, so uncommitted
// writes are visible to subsequent reads through the same session.
type Repository[T any] interface {
	CrudRepository[T]
	EagerLoadRepository[T]
	PageQueryRepository[T]
	RawQueryRepository[T]
	Session() *database.Session
}
