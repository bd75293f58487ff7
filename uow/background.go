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
	"github.com/tomoncle/unitwork/database"
)

// BackgroundUnitOfWork is a unit of work whose owned sessions come from the
// manager's background pool, keeping long-running jobs from starving the
// request-serving connections. The transactional contract is unchanged.
type BackgroundUnitOfWork struct {
	*UnitOfWork
}

// NewBackground returns a background-pool unit of work.
func NewBackground(manager database.AbstractDatabaseManager, opts ...Option) *BackgroundUnitOfWork {
	return &BackgroundUnitOfWork{
		UnitOfWork: New(manager.BackgroundSessions(), opts...),
	}
}

// NewBackgroundDynamic returns a dynamic unit of work on the background pool.
func NewBackgroundDynamic(manager database.AbstractDatabaseManager, constructors map[string]Constructor, opts ...Option) *DynamicUnitOfWork {
	return NewDynamic(manager.BackgroundSessions(), constructors, opts...)
}
