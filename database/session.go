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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/tomoncle/unitwork/types"
	"github.com/uptrace/bun"
)

// TxState tracks the lifecycle of a session's transaction.
type TxState int

const (
	TxCreated TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
	TxClosed
)

func (s TxState) String() string {
	switch s {
	case TxCreated:
		return "created"
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled-back"
	case TxClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s TxState) Number() int { return int(s) }

func (s TxState) IsValid() bool { return s >= TxCreated && s <= TxClosed }

var _ types.BaseEnum = TxCreated

// SessionFactory produces an isolated, transaction-scoped session on demand.
// The manager exposes two instances: one per pool.
type SessionFactory interface {
	NewSession(ctx context.Context) (*Session, error)
}

type poolSessionFactory struct {
	pool   string
	db     func() *bun.DB
	logger Logger
}

// NewSessionFactory builds a factory drawing connections from the database
// returned by db. The pool name appears in logs and faults.
func NewSessionFactory(pool string, db func() *bun.DB, logger Logger) SessionFactory {
	return &poolSessionFactory{pool: pool, db: db, logger: logger}
}

func (f *poolSessionFactory) NewSession(ctx context.Context) (*Session, error) {
	db := f.db()
	if db == nil {
		return nil, &StorageFault{Op: "open session (" + f.pool + ")", Err: fmt.Errorf("database not connected")}
	}
	s := &Session{pool: f.pool, db: db, logger: f.logger}
	if err := s.Begin(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Session is an ephemeral handle to one open transaction scope. It is not
// safe for concurrent use by more than one caller; the mutex only protects
// the state transitions against cancellation races.
type Session struct {
	pool   string
	db     *bun.DB
	tx     bun.Tx
	state  TxState
	mu     sync.Mutex
	logger Logger
}

// NewSession opens a session directly on db, outside of any factory. Useful
// when the caller manages the connection and lends the session out.
func NewSession(ctx context.Context, db *bun.DB) (*Session, error) {
	s := &Session{pool: "external", db: db, logger: GetLogger()}
	if err := s.Begin(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Pool returns the name of the pool the session was drawn from.
func (s *Session) Pool() string { return s.pool }

// DB returns the database the session was opened against. Model metadata
// lookups go through here; queries must use Conn.
func (s *Session) DB() *bun.DB { return s.db }

// State returns the current transaction state.
func (s *Session) State() TxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the transaction accepts work.
func (s *Session) Active() bool { return s.State() == TxActive }

// Conn returns the transaction connection. Fails unless the session is active,
// so no query can escape the transaction scope.
func (s *Session) Conn() (bun.IDB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != TxActive {
		return nil, fmt.Errorf("session (%s): not active (state=%s)", s.pool, s.state)
	}
	return s.tx, nil
}

// Begin starts the transaction. Valid only once, from the created state.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != TxCreated {
		return fmt.Errorf("session (%s): begin in state %s", s.pool, s.state)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return &StorageFault{Op: "begin (" + s.pool + ")", Err: err}
	}
	s.tx = tx
	s.state = TxActive
	if s.logger != nil {
		s.logger.Debug("Session started", "pool", s.pool)
	}
	return nil
}

// Commit finalizes all pending mutations. Valid only while active.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != TxActive {
		return fmt.Errorf("session (%s): commit in state %s", s.pool, s.state)
	}
	if err := s.tx.Commit(); err != nil {
		// A failed commit aborts the transaction on the driver side.
		s.state = TxRolledBack
		return &StorageFault{Op: "commit (" + s.pool + ")", Err: err}
	}
	s.state = TxCommitted
	if s.logger != nil {
		s.logger.Debug("Session committed", "pool", s.pool)
	}
	return nil
}

// Rollback discards all pending mutations. Valid only while active. It relies
// on database/sql's context-free rollback, so a cancelled caller context can
// never skip it.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackLocked()
}

func (s *Session) rollbackLocked() error {
	if s.state != TxActive {
		return fmt.Errorf("session (%s): rollback in state %s", s.pool, s.state)
	}
	err := s.tx.Rollback()
	s.state = TxRolledBack
	if err != nil {
		return &StorageFault{Op: "rollback (" + s.pool + ")", Err: err}
	}
	if s.logger != nil {
		s.logger.Debug("Session rolled back", "pool", s.pool)
	}
	return nil
}

// Flush asserts the session is still usable. Bun executes every statement
// eagerly inside the transaction, so pending writes are already visible to
// in-transaction reads and generated identifiers are returned at insert time;
// unlike ORMs with a pending-state buffer there is nothing to push here.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != TxActive {
		return fmt.Errorf("session (%s): flush in state %s", s.pool, s.state)
	}
	if s.logger != nil {
		s.logger.Debug("Session flush (no pending buffer)", "pool", s.pool)
	}
	return nil
}

// Close releases the session exactly once. If the transaction is still active
// it is rolled back first, so no uncommitted mutation survives the scope.
// The closed state is entered unconditionally: a fault during the rollback
// cannot leave the session unreleased. Calling Close again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == TxClosed {
		return nil
	}
	var err error
	if s.state == TxActive {
		err = s.rollbackLocked()
	}
	s.state = TxClosed
	if s.logger != nil {
		s.logger.Debug("Session closed", "pool", s.pool)
	}
	return err
}
