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
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/tomoncle/unitwork/database"
	"github.com/tomoncle/unitwork/types"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

func (r *baseRepositoryImpl[T]) relationNames() []string {
	names := make([]string, 0, len(r.table.Relations))
	for name := range r.table.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveRelations validates the requested relation names against the model
// metadata. The loader supports has-one, belongs-to, and has-many relations
// with single-column join keys.
func (r *baseRepositoryImpl[T]) resolveRelations(names []string) ([]*schema.Relation, error) {
	rels := make([]*schema.Relation, 0, len(names))
	for _, name := range names {
		if strings.Contains(name, ".") {
			return nil, &database.ConfigurationError{
				Reason: fmt.Sprintf("nested relation %q is not supported on %s", name, r.entityName()),
				Known:  r.relationNames(),
			}
		}
		rel, ok := r.table.Relations[name]
		if !ok {
			return nil, &database.ConfigurationError{
				Reason: fmt.Sprintf("%s has no relation %q", r.entityName(), name),
				Known:  r.relationNames(),
			}
		}
		if rel.Type == schema.ManyToManyRelation {
			return nil, &database.ConfigurationError{
				Reason: fmt.Sprintf("relation %q of %s is many-to-many, which the loader does not support", name, r.entityName()),
			}
		}
		if len(rel.BasePKs) != 1 || len(rel.JoinPKs) != 1 {
			return nil, &database.ConfigurationError{
				Reason: fmt.Sprintf("relation %q of %s uses a composite join key, which the loader does not support", name, r.entityName()),
			}
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

func (r *baseRepositoryImpl[T]) GetByIDWith(ctx context.Context, id any, relations []string, strategy LoadStrategy) (*T, error) {
	pk, err := r.pk()
	if err != nil {
		return nil, err
	}
	entities, err := r.fetchWith(ctx, types.Filters{pk.Name: id}, relations, strategy, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

func (r *baseRepositoryImpl[T]) GetManyWith(ctx context.Context, filters types.Filters, relations []string, strategy LoadStrategy, skip, limit int, orders ...string) ([]*T, error) {
	return r.fetchWith(ctx, filters, relations, strategy, skip, limit, orders...)
}

func (r *baseRepositoryImpl[T]) GetAllWith(ctx context.Context, relations []string, strategy LoadStrategy) ([]*T, error) {
	return r.fetchWith(ctx, nil, relations, strategy, 0, 0)
}

func (r *baseRepositoryImpl[T]) fetchWith(ctx context.Context, filters types.Filters, relations []string, strategy LoadStrategy, skip, limit int, orders ...string) ([]*T, error) {
	if !strategy.IsValid() {
		return nil, &database.ConfigurationError{
			Reason: fmt.Sprintf("unknown load strategy %d", strategy.Number()),
		}
	}
	rels, err := r.resolveRelations(relations)
	if err != nil {
		return nil, err
	}
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

	// Join strategy folds to-one relations into the parent round trip.
	// Everything else is loaded after the parent scan.
	var deferred []*schema.Relation
	if strategy == LoadJoin {
		for _, rel := range rels {
			if rel.Type == schema.HasOneRelation || rel.Type == schema.BelongsToRelation {
				q = q.Relation(rel.Field.GoName)
			} else {
				deferred = append(deferred, rel)
			}
		}
	} else {
		deferred = rels
	}

	if err := q.Scan(ctx); err != nil {
		return nil, database.WrapError(r.entityName(), "fetch with relations", err)
	}
	if len(entities) == 0 {
		return entities, nil
	}

	for _, rel := range deferred {
		if strategy == LoadSubquery {
			err = r.subqueryLoad(ctx, conn, entities, rel, filters, skip, limit, orders)
		} else {
			err = r.batchLoad(ctx, conn, entities, rel)
		}
		if err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// batchLoad fetches one relation for all parents with a single IN-list query
// over the parents' join key values.
func (r *baseRepositoryImpl[T]) batchLoad(ctx context.Context, conn bun.IDB, parents []*T, rel *schema.Relation) error {
	baseField := rel.BasePKs[0]
	keys := make([]interface{}, 0, len(parents))
	seen := make(map[string]bool, len(parents))
	for _, p := range parents {
		v := baseField.Value(reflect.ValueOf(p).Elem()).Interface()
		k := fmt.Sprint(v)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, v)
		}
	}

	children := reflect.New(reflect.SliceOf(reflect.PtrTo(rel.JoinTable.Type)))
	err := conn.NewSelect().
		Model(children.Interface()).
		Where("? IN (?)", bun.Ident(rel.JoinPKs[0].Name), bun.In(keys)).
		Scan(ctx)
	if err != nil {
		return database.WrapError(r.entityName(), "load relation "+rel.Field.GoName, err)
	}
	r.attach(parents, rel, children.Elem())
	return nil
}

// subqueryLoad fetches one relation constrained by a subquery re-evaluating
// the parent predicate, so no parent key list crosses the wire.
func (r *baseRepositoryImpl[T]) subqueryLoad(ctx context.Context, conn bun.IDB, parents []*T, rel *schema.Relation, filters types.Filters, skip, limit int, orders []string) error {
	sub := r.applyFilters(conn.NewSelect().Model((*T)(nil)), filters).
		Column(rel.BasePKs[0].Name)
	if skip > 0 || limit > 0 {
		sub = r.applyOrders(sub, orders)
	}
	if skip > 0 {
		sub = sub.Offset(skip)
	}
	if limit > 0 {
		sub = sub.Limit(limit)
	}

	children := reflect.New(reflect.SliceOf(reflect.PtrTo(rel.JoinTable.Type)))
	err := conn.NewSelect().
		Model(children.Interface()).
		Where("? IN (?)", bun.Ident(rel.JoinPKs[0].Name), sub).
		Scan(ctx)
	if err != nil {
		return database.WrapError(r.entityName(), "load relation "+rel.Field.GoName, err)
	}
	r.attach(parents, rel, children.Elem())
	return nil
}

// attach distributes loaded children onto their parents by matching the
// parents' base key against the children's join key.
func (r *baseRepositoryImpl[T]) attach(parents []*T, rel *schema.Relation, children reflect.Value) {
	baseField, joinField := rel.BasePKs[0], rel.JoinPKs[0]

	byKey := make(map[string][]reflect.Value, children.Len())
	for i := 0; i < children.Len(); i++ {
		child := children.Index(i)
		k := fmt.Sprint(joinField.Value(child.Elem()).Interface())
		byKey[k] = append(byKey[k], child)
	}

	for _, p := range parents {
		strct := reflect.ValueOf(p).Elem()
		matches := byKey[fmt.Sprint(baseField.Value(strct).Interface())]
		dst := rel.Field.Value(strct)
		if rel.Type == schema.HasManyRelation {
			slice := reflect.MakeSlice(dst.Type(), 0, len(matches))
			for _, m := range matches {
				if dst.Type().Elem().Kind() == reflect.Ptr {
					slice = reflect.Append(slice, m)
				} else {
					slice = reflect.Append(slice, m.Elem())
				}
			}
			dst.Set(slice)
			continue
		}
		if len(matches) == 0 {
			continue
		}
		if dst.Kind() == reflect.Ptr {
			dst.Set(matches[0])
		} else {
			dst.Set(matches[0].Elem())
		}
	}
}
