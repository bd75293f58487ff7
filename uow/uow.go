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
	"sync"

	"github.com/tomoncle/unitwork/database"
)

// Binder runs after the unit of work acquires its session, so typed
// repositories can be constructed against it. Domain structs embed
// *UnitOfWork, declare repository fields, and assign them in the binder:
//
//	type OrderScope struct {
//		*uow.UnitOfWork
//		Orders repository.Repository[Order]
//	}
//
//	scope := &OrderScope{}
//	scope.UnitOfWork = uow.New(factory, uow.WithBinder(func(ctx context.Context, s *database.Session) error {
//		scope.Orders = repository.NewRepository[Order](s)
//		return nil
//	}))
//
// Names outside the declared fields cannot be referenced at all, so the
// available repositories are fixed at compile time.
type Binder func(ctx context.Context, session *database.Session) error

// Option configures a UnitOfWork at construction.
type Option func(*UnitOfWork)

// WithBinder registers a binder invoked by Enter once the session is ready.
func WithBinder(bind Binder) Option {
	return func(u *UnitOfWork) { u.binder = bind }
}

// UnitOfWork scopes a group of repository operations to one transactional
// session. A unit either owns its session (acquired from a factory on Enter,
// closed on Close) or borrows one supplied by the caller (adopted on Enter,
// left open on Close). Ownership is fixed at construction and never changes.
//
// There is no implicit commit: leaving the scope without calling Commit
// discards every pending mutation when Close rolls the transaction back.
type UnitOfWork struct {
	factory database.SessionFactory
	session *database.Session
	owned   bool
	binder  Binder
	logger  database.Logger

	mu      sync.Mutex
	entered bool
	closed  bool
}

// New returns a unit of work that owns its session: Enter acquires a fresh
// session from factory and Close releases it.
func New(factory database.SessionFactory, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		factory: factory,
		owned:   true,
		logger:  database.GetLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// NewWithSession returns a unit of work that borrows the caller's session.
// Close rolls back uncommitted work but never closes the session; its
// lifecycle stays with the caller.
func NewWithSession(session *database.Session, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		session: session,
		owned:   false,
		logger:  database.GetLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Owned reports whether the unit of work owns its session.
func (u *UnitOfWork) Owned() bool { return u.owned }

// Session returns the bound session, or nil before Enter.
func (u *UnitOfWork) Session() *database.Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.session
}

// Enter activates the scope: an owned unit acquires its session from the
// factory, a borrowed unit adopts the supplied one. The binder, if any, runs
// afterwards. Enter is valid exactly once.
func (u *UnitOfWork) Enter(ctx context.Context) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return fmt.Errorf("unit of work: enter after close")
	}
	if u.entered {
		u.mu.Unlock()
		return fmt.Errorf("unit of work: already entered")
	}
	if u.owned {
		session, err := u.factory.NewSession(ctx)
		if err != nil {
			u.mu.Unlock()
			return err
		}
		u.session = session
	} else if u.session == nil {
		u.mu.Unlock()
		return fmt.Errorf("unit of work: no session to borrow")
	}
	u.entered = true
	session := u.session
	u.mu.Unlock()

	if u.binder != nil {
		if err := u.binder(ctx, session); err != nil {
			_ = u.Close()
			return err
		}
	}
	if u.logger != nil {
		u.logger.Debug("Unit of work entered", "pool", session.Pool(), "owned", u.owned)
	}
	return nil
}

func (u *UnitOfWork) activeSession() (*database.Session, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.entered {
		return nil, fmt.Errorf("unit of work: not entered")
	}
	if u.closed {
		return nil, fmt.Errorf("unit of work: closed")
	}
	return u.session, nil
}

// Commit finalizes all pending mutations in the scope.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	session, err := u.activeSession()
	if err != nil {
		return err
	}
	return session.Commit(ctx)
}

// Rollback discards all pending mutations in the scope.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	session, err := u.activeSession()
	if err != nil {
		return err
	}
	return session.Rollback(ctx)
}

// Flush delegates to the session; see Session.Flush.
func (u *UnitOfWork) Flush(ctx context.Context) error {
	session, err := u.activeSession()
	if err != nil {
		return err
	}
	return session.Flush(ctx)
}

// Close leaves the scope exactly once. Uncommitted work is rolled back, and
// an owned session is closed; a borrowed one is handed back still open so the
// caller keeps control of its lifecycle. Calling Close again is a no-op.
func (u *UnitOfWork) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	if u.session == nil {
		return nil
	}
	var err error
	if u.owned {
		err = u.session.Close()
	} else if u.session.Active() {
		err = u.session.Rollback(context.Background())
	}
	if u.logger != nil {
		u.logger.Debug("Unit of work closed", "pool", u.session.Pool(), "owned", u.owned)
	}
	return err
}

// Run executes fn inside the scope: Enter, then Close no matter how fn ends.
// Run never commits on fn's behalf; fn must call Commit itself or its
// mutations are rolled back on Close.
func (u *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, u *UnitOfWork) error) (err error) {
	if err := u.Enter(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := u.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(ctx, u)
}
