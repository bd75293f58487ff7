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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"
	"github.com/tomoncle/unitwork/database"
	"github.com/tomoncle/unitwork/types"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

type baseRepositoryImpl[T any] struct {
	session *database.Session
	table   *schema.Table
}

// NewRepository returns a generic repository bound to the provided session.
// T must be the entity struct type (not a pointer).
func NewRepository[T any](session *database.Session) Repository[T] {
	var model T
	return &baseRepositoryImpl[T]{
		session: session,
		table:   session.DB().Table(reflect.TypeOf(model)),
	}
}

func (r *baseRepositoryImpl[T]) Session() *database.Session { return r.session }

func (r *baseRepositoryImpl[T]) entityName() string { return r.table.TypeName }

func (r *baseRepositoryImpl[T]) conn() (bun.IDB, error) {
	conn, err := r.session.Conn()
	if err != nil {
		return nil, database.WrapError(r.entityName(), "acquire connection", err)
	}
	return conn, nil
}

// pk returns the single primary key field. Identity-based operations do not
// support composite keys.
func (r *baseRepositoryImpl[T]) pk() (*schema.Field, error) {
	if len(r.table.PKs) != 1 {
		return nil, &database.ConfigurationError{
			Reason: fmt.Sprintf("%s must have exactly one primary key column, has %d", r.entityName(), len(r.table.PKs)),
		}
	}
	return r.table.PKs[0], nil
}

// setFields writes the column->value payload onto the entity struct,
// converting values when the Go types differ but are convertible.
func (r *baseRepositoryImpl[T]) setFields(entity *T, fields types.Fields) error {
	strct := reflect.ValueOf(entity).Elem()
	for col, v := range fields {
		field, ok := r.table.FieldMap[col]
		if !ok {
			return &database.ConfigurationError{
				Reason: fmt.Sprintf("%s has no column %q", r.entityName(), col),
			}
		}
		if v == nil {
			continue
		}
		dst := field.Value(strct)
		val := reflect.ValueOf(v)
		if !val.Type().AssignableTo(dst.Type()) {
			if !val.Type().ConvertibleTo(dst.Type()) {
				return &database.ConfigurationError{
					Reason: fmt.Sprintf("cannot assign %T to column %q of %s", v, col, r.entityName()),
				}
			}
			val = val.Convert(dst.Type())
		}
		dst.Set(val)
	}
	return nil
}

func (r *baseRepositoryImpl[T]) newEntity(fields types.Fields) (*T, error) {
	entity := new(T)
	if err := r.setFields(entity, fields); err != nil {
		return nil, err
	}
	r.ensureID(entity)
	return entity, nil
}

// ensureID generates a UUID for string primary keys the caller left empty.
// Integer keys stay zero so the database assigns them.
func (r *baseRepositoryImpl[T]) ensureID(entity *T) {
	if len(r.table.PKs) != 1 {
		return
	}
	v := r.table.PKs[0].Value(reflect.ValueOf(entity).Elem())
	if v.Kind() == reflect.String && v.String() == "" {
		v.SetString(uuid.NewString())
	}
}

func (r *baseRepositoryImpl[T]) pkValue(entity *T) (interface{}, error) {
	pk, err := r.pk()
	if err != nil {
		return nil, err
	}
	return pk.Value(reflect.ValueOf(entity).Elem()).Interface(), nil
}

func (r *baseRepositoryImpl[T]) applyFilters(q *bun.SelectQuery, filters types.Filters) *bun.SelectQuery {
	for _, k := range filters.SortedKeys() {
		q = q.Where("? = ?", bun.Ident(k), filters[k])
	}
	return q
}

// defaultOrders is a stable stand-in for creation order: created_at then the
// primary key when the model has a created_at column, else the primary key.
func (r *baseRepositoryImpl[T]) defaultOrders() []string {
	if len(r.table.PKs) != 1 {
		return nil
	}
	// Alias-qualified so join-strategy queries never hit an ambiguous column.
	pk := r.table.Alias + "." + r.table.PKs[0].Name
	if _, ok := r.table.FieldMap["created_at"]; ok {
		return []string{r.table.Alias + ".created_at ASC", pk + " ASC"}
	}
	return []string{pk + " ASC"}
}

func (r *baseRepositoryImpl[T]) applyOrders(q *bun.SelectQuery, orders []string) *bun.SelectQuery {
	if len(orders) == 0 {
		orders = r.defaultOrders()
	}
	if len(orders) > 0 {
		q = q.Order(orders...)
	}
	return q
}

func (r *baseRepositoryImpl[T]) Create(ctx context.Context, fields types.Fields) (*T, error) {
	entity, err := r.newEntity(fields)
	if err != nil {
		return nil, err
	}
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	if _, err := conn.NewInsert().Model(entity).Exec(ctx); err != nil {
		return nil, database.WrapError(r.entityName(), "create", err)
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) BulkCreate(ctx context.Context, payloads []types.Fields) ([]*T, error) {
	entities := make([]*T, 0, len(payloads))
	for _, payload := range payloads {
		entity, err := r.newEntity(payload)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	if len(entities) == 0 {
		return entities, nil
	}
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	// Single multi-row statement: order is preserved and a failure inserts
	// nothing.
	if _, err := conn.NewInsert().Model(&entities).Exec(ctx); err != nil {
		return nil, database.WrapError(r.entityName(), "bulk create", err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) GetByID(ctx context.Context, id any) (*T, error) {
	pk, err := r.pk()
	if err != nil {
		return nil, err
	}
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	entity := new(T)
	err = conn.NewSelect().Model(entity).Where("? = ?", bun.Ident(pk.Name), id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.WrapError(r.entityName(), "get by id", err)
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) GetByIDRequired(ctx context.Context, id any) (*T, error) {
	entity, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, &database.NotFoundError{Entity: r.entityName(), ID: id}
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) GetOne(ctx context.Context, filters types.Filters) (*T, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	entity := new(T)
	q := r.applyFilters(conn.NewSelect().Model(entity), filters)
	err = r.applyOrders(q, nil).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.WrapError(r.entityName(), "get one", err)
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) GetMany(ctx context.Context, filters types.Filters, skip, limit int, orders ...string) ([]*T, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	var entities []*T
	q := r.applyFilters(conn.NewSelect().Model(&entities), filters)
	q = r.applyOrders(q, orders)
	if skip > 0 {
		q = q.Offset(skip)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, database.WrapError(r.entityName(), "get many", err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context) ([]*T, error) {
	return r.GetMany(ctx, nil, 0, 0)
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, id any, fields types.Fields) (*T, error) {
	entity, err := r.GetByID(ctx, id)
	if err != nil || entity == nil {
		return entity, err
	}
	if len(fields) == 0 {
		return entity, nil
	}
	if err := r.setFields(entity, fields); err != nil {
		return nil, err
	}
	columns := make([]string, 0, len(fields))
	for col := range fields {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	if _, err := conn.NewUpdate().Model(entity).Column(columns...).WherePK().Exec(ctx); err != nil {
		return nil, database.WrapError(r.entityName(), "update", err)
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, id any) (bool, error) {
	pk, err := r.pk()
	if err != nil {
		return false, err
	}
	conn, err := r.conn()
	if err != nil {
		return false, err
	}
	res, err := conn.NewDelete().Model((*T)(nil)).Where("? = ?", bun.Ident(pk.Name), id).Exec(ctx)
	if err != nil {
		return false, database.WrapError(r.entityName(), "delete", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, database.WrapError(r.entityName(), "delete", err)
	}
	return rows > 0, nil
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context, filters types.Filters) (int, error) {
	conn, err := r.conn()
	if err != nil {
		return 0, err
	}
	count, err := r.applyFilters(conn.NewSelect().Model((*T)(nil)), filters).Count(ctx)
	if err != nil {
		return 0, database.WrapError(r.entityName(), "count", err)
	}
	return count, nil
}

func (r *baseRepositoryImpl[T]) Exists(ctx context.Context, filters types.Filters) (bool, error) {
	conn, err := r.conn()
	if err != nil {
		return false, err
	}
	exists, err := r.applyFilters(conn.NewSelect().Model((*T)(nil)), filters).Exists(ctx)
	if err != nil {
		return false, database.WrapError(r.entityName(), "exists", err)
	}
	return exists, nil
}

func (r *baseRepositoryImpl[T]) GetOrCreate(ctx context.Context, filters types.Filters, defaults types.Fields) (*T, bool, error) {
	entity, err := r.GetOne(ctx, filters)
	if err != nil || entity != nil {
		return entity, false, err
	}
	entity, err = r.Create(ctx, filters.Fields().Merge(defaults))
	if err == nil {
		return entity, true, nil
	}
	if !database.IsConflict(err) {
		return nil, false, err
	}
	// A concurrent writer won the insert race; read again, exactly once.
	entity, rerr := r.GetOne(ctx, filters)
	if rerr != nil {
		return nil, false, rerr
	}
	if entity == nil {
		return nil, false, err
	}
	return entity, false, nil
}

func (r *baseRepositoryImpl[T]) UpdateOrCreate(ctx context.Context, filters types.Filters, defaults types.Fields) (*T, bool, error) {
	entity, err := r.GetOne(ctx, filters)
	if err != nil {
		return nil, false, err
	}
	if entity == nil {
		entity, err = r.Create(ctx, filters.Fields().Merge(defaults))
		if err == nil {
			return entity, true, nil
		}
		if !database.IsConflict(err) {
			return nil, false, err
		}
		// Same retried read as GetOrCreate, then fall through to update.
		var rerr error
		entity, rerr = r.GetOne(ctx, filters)
		if rerr != nil {
			return nil, false, rerr
		}
		if entity == nil {
			return nil, false, err
		}
	}
	id, err := r.pkValue(entity)
	if err != nil {
		return nil, false, err
	}
	entity, err = r.Update(ctx, id, defaults)
	if err != nil {
		return nil, false, err
	}
	return entity, false, nil
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	var entities []*T
	q := conn.NewSelect().Model(&entities)
	if filter != nil {
		q = q.Where(filter.Schema, filter.Args...)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, database.WrapError(r.entityName(), "list", err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	var entities []*T
	if err := conn.NewSelect().Model(&entities).Where(query, args...).Scan(ctx); err != nil {
		return nil, database.WrapError(r.entityName(), "query", err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	var entities []*T
	q := conn.NewSelect().Model(&entities)
	if pageRequest.GetFilter() != nil {
		q = q.Where(pageRequest.GetFilter().Schema, pageRequest.GetFilter().Args...)
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := q.Count(ctx)
	if err != nil {
		return nil, database.WrapError(r.entityName(), "page count", err)
	}
	if total == 0 {
		return pagination, nil
	}
	err = r.applyOrders(q, pageRequest.GetOrders()).
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		Scan(ctx)
	if err != nil {
		return nil, database.WrapError(r.entityName(), "page", err)
	}
	pagination.Total = total
	pagination.Items = entities
	return pagination, nil
}
