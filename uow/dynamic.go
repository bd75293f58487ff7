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

package uow

import (
	"context"
	"fmt"
	"sort"

	"github.com/tomoncle/unitwork/database"
)

// Constructor builds one repository against the scope's session. The result
// is stored as interface{} and retrieved by name, so a typical value is
// repository.NewRepository wrapped for a concrete entity:
//
//	"users": func(s *database.Session) interface{} {
//		return repository.NewRepository[User](s)
//	}
type Constructor func(session *database.Session) interface{}

// DynamicUnitOfWork composes repositories from a name->constructor registry
// supplied at construction. Transaction semantics are identical to the base
// UnitOfWork; only repository access changes from compile-time fields to
// runtime lookup.
type DynamicUnitOfWork struct {
	*UnitOfWork
	constructors map[string]Constructor
	repos        map[string]interface{}
}

// NewDynamic returns a dynamic unit of work that owns its session and builds
// every registered repository on Enter.
func NewDynamic(factory database.SessionFactory, constructors map[string]Constructor, opts ...Option) *DynamicUnitOfWork {
	return &DynamicUnitOfWork{
		UnitOfWork:   New(factory, opts...),
		constructors: constructors,
	}
}

// NewDynamicWithSession is the borrowed-session variant of NewDynamic.
func NewDynamicWithSession(session *database.Session, constructors map[string]Constructor, opts ...Option) *DynamicUnitOfWork {
	return &DynamicUnitOfWork{
		UnitOfWork:   NewWithSession(session, opts...),
		constructors: constructors,
	}
}

// Enter activates the scope and instantiates all registered repositories
// against the acquired session.
func (d *DynamicUnitOfWork) Enter(ctx context.Context) error {
	if err := d.UnitOfWork.Enter(ctx); err != nil {
		return err
	}
	session := d.Session()
	d.repos = make(map[string]interface{}, len(d.constructors))
	for name, build := range d.constructors {
		d.repos[name] = build(session)
	}
	return nil
}

// RegisteredNames returns the registry's repository names in ascending order.
func (d *DynamicUnitOfWork) RegisteredNames() []string {
	names := make([]string, 0, len(d.constructors))
	for name := range d.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Repository returns the repository registered under name. A miss raises a
// ConfigurationError enumerating the registered names.
func (d *DynamicUnitOfWork) Repository(name string) (interface{}, error) {
	if d.repos == nil {
		return nil, fmt.Errorf("unit of work: not entered")
	}
	repo, ok := d.repos[name]
	if !ok {
		return nil, &database.ConfigurationError{
			Reason: fmt.Sprintf("no repository registered under %q", name),
			Known:  d.RegisteredNames(),
		}
	}
	return repo, nil
}

// Run executes fn inside the scope, mirroring UnitOfWork.Run for the dynamic
// variant. fn must call Commit itself.
func (d *DynamicUnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, d *DynamicUnitOfWork) error) (err error) {
	if err := d.Enter(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := d.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(ctx, d)
}

// Typed retrieves a repository by name and asserts its concrete type, so
// call sites get a repository.Repository[T] back instead of interface{}.
func Typed[T any](d *DynamicUnitOfWork, name string) (T, error) {
	var zero T
	repo, err := d.Repository(name)
	if err != nil {
		return zero, err
	}
	typed, ok := repo.(T)
	if !ok {
		return zero, &database.ConfigurationError{
			Reason: fmt.Sprintf("repository %q is %T, not the requested type", name, repo),
		}
	}
	return typed, nil
}
