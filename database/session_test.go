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

package database_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/unitwork/database"
)

func newTestManager(t *testing.T, name string) database.AbstractDatabaseManager {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DBName = fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	manager := database.NewDatabaseManager(cfg)
	require.NoError(t, manager.Connect(context.Background()))
	t.Cleanup(func() { _ = manager.Disconnect() })
	return manager
}

func createKVTable(t *testing.T, manager database.AbstractDatabaseManager) {
	t.Helper()
	_, err := manager.GetDB().ExecContext(context.Background(),
		"CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT NOT NULL)")
	require.NoError(t, err)
}

func readValue(t *testing.T, manager database.AbstractDatabaseManager, key string) (string, bool) {
	t.Helper()
	session, err := manager.PrimarySessions().NewSession(context.Background())
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	conn, err := session.Conn()
	require.NoError(t, err)

	var value string
	row := conn.QueryRowContext(context.Background(), "SELECT v FROM kv WHERE k = ?", key)
	if scanErr := row.Scan(&value); scanErr != nil {
		return "", false
	}
	return value, true
}

func TestSessionLifecycle(t *testing.T) {
	manager := newTestManager(t, "session_lifecycle")
	ctx := context.Background()

	session, err := manager.PrimarySessions().NewSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "primary", session.Pool())
	assert.Equal(t, database.TxActive, session.State())
	assert.True(t, session.Active())

	conn, err := session.Conn()
	require.NoError(t, err)
	assert.NotNil(t, conn)

	require.NoError(t, session.Flush(ctx))
	require.NoError(t, session.Commit(ctx))
	assert.Equal(t, database.TxCommitted, session.State())

	// Past the commit the transaction accepts no more work.
	_, err = session.Conn()
	assert.Error(t, err)
	assert.Error(t, session.Commit(ctx))
	assert.Error(t, session.Rollback(ctx))
	assert.Error(t, session.Flush(ctx))

	require.NoError(t, session.Close())
	assert.Equal(t, database.TxClosed, session.State())
}

func TestSessionReadYourWritesAndCommit(t *testing.T) {
	manager := newTestManager(t, "session_ryw")
	createKVTable(t, manager)
	ctx := context.Background()

	session, err := manager.PrimarySessions().NewSession(ctx)
	require.NoError(t, err)
	conn, err := session.Conn()
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "greeting", "hello")
	require.NoError(t, err)

	// The uncommitted write is visible to a read through the same session.
	var value string
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT v FROM kv WHERE k = ?", "greeting").Scan(&value))
	assert.Equal(t, "hello", value)

	require.NoError(t, session.Commit(ctx))
	require.NoError(t, session.Close())

	value, found := readValue(t, manager, "greeting")
	assert.True(t, found)
	assert.Equal(t, "hello", value)
}

func TestSessionRollbackDiscardsWrites(t *testing.T) {
	manager := newTestManager(t, "session_rollback")
	createKVTable(t, manager)
	ctx := context.Background()

	session, err := manager.PrimarySessions().NewSession(ctx)
	require.NoError(t, err)
	conn, err := session.Conn()
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "doomed", "x")
	require.NoError(t, err)

	require.NoError(t, session.Rollback(ctx))
	assert.Equal(t, database.TxRolledBack, session.State())
	require.NoError(t, session.Close())

	_, found := readValue(t, manager, "doomed")
	assert.False(t, found)
}

func TestSessionCloseRollsBackActiveTransaction(t *testing.T) {
	manager := newTestManager(t, "session_close")
	createKVTable(t, manager)
	ctx := context.Background()

	session, err := manager.PrimarySessions().NewSession(ctx)
	require.NoError(t, err)
	conn, err := session.Conn()
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "abandoned", "x")
	require.NoError(t, err)

	// Close without commit discards the write and releases exactly once.
	require.NoError(t, session.Close())
	assert.Equal(t, database.TxClosed, session.State())
	require.NoError(t, session.Close())

	_, found := readValue(t, manager, "abandoned")
	assert.False(t, found)
}

func TestBackgroundSessionsUseBackgroundPool(t *testing.T) {
	manager := newTestManager(t, "session_bg")
	createKVTable(t, manager)
	ctx := context.Background()

	session, err := manager.BackgroundSessions().NewSession(ctx)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	assert.Equal(t, "background", session.Pool())
	assert.Same(t, manager.GetBackgroundDB(), session.DB())

	conn, err := session.Conn()
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "bg", "pool")
	require.NoError(t, err)
	require.NoError(t, session.Commit(ctx))

	value, found := readValue(t, manager, "bg")
	assert.True(t, found)
	assert.Equal(t, "pool", value)
}

func TestManagerDualPoolStats(t *testing.T) {
	manager := newTestManager(t, "manager_stats")

	require.NoError(t, manager.Ping(context.Background()))

	stats := manager.GetStats()
	require.NotNil(t, stats)
	assert.Equal(t, database.DefaultConnectionConfig().Pool.MaxOpenConns, stats.Primary.MaxOpenConns)
	assert.Equal(t, database.DefaultBackgroundPoolConfig().MaxOpenConns, stats.Background.MaxOpenConns)

	status := manager.HealthCheck(context.Background())
	require.NotNil(t, status)
	assert.True(t, status.Healthy)
	assert.True(t, status.Connected)
}
