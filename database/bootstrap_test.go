/*
 * Copyright 2026 the Colibri Authors.
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
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func sqliteClientConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ConnectionConfig = *sqliteTestConfig(t)
	return cfg
}

// countSQLOpens counts driver-level pool constructions for the remainder
// of the test.
func countSQLOpens(t *testing.T) *int32 {
	t.Helper()
	var opens int32
	orig := sqlOpenFn
	sqlOpenFn = func(driverName, dsn string) (*sql.DB, error) {
		atomic.AddInt32(&opens, 1)
		return orig(driverName, dsn)
	}
	t.Cleanup(func() { sqlOpenFn = orig })
	return &opens
}

func TestNewRejectsNilConfig(t *testing.T) {
	client, err := New(nil)
	assert.ErrorIs(t, err, ErrNilConfig)
	assert.Nil(t, client)
}

func TestFromEnvRequiresDatabaseURL(t *testing.T) {
	opens := countSQLOpens(t)

	t.Setenv("DATABASE_URL", "placeholder")
	require.NoError(t, os.Unsetenv("DATABASE_URL"))

	client, err := FromEnv()
	assert.ErrorIs(t, err, ErrDatabaseURLNotSet)
	assert.Nil(t, client)

	t.Setenv("DATABASE_URL", "")
	client, err = FromEnv()
	assert.ErrorIs(t, err, ErrDatabaseURLNotSet)
	assert.Nil(t, client)

	_, err = Open(context.Background())
	assert.ErrorIs(t, err, ErrDatabaseURLNotSet)

	// the configuration error surfaces before any pool is constructed
	assert.Zero(t, atomic.LoadInt32(opens))
}

func TestNewDoesNotConnect(t *testing.T) {
	opens := countSQLOpens(t)

	client, err := New(sqliteClientConfig(t))
	require.NoError(t, err)

	assert.Zero(t, atomic.LoadInt32(opens))
	assert.False(t, client.IsConnected())
	assert.Nil(t, client.Migrator())
	assert.ErrorIs(t, client.Ping(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, client.RunMigrations(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, client.InitData(context.Background()), ErrNotConnected)
	assert.Equal(t, &DBStats{}, client.Stats())
}

func TestDBReturnsSharedHandle(t *testing.T) {
	resetModelRegistry()
	defer resetModelRegistry()

	ctx := context.Background()
	opens := countSQLOpens(t)

	client, err := New(sqliteClientConfig(t))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	db1, err := client.DB(ctx)
	require.NoError(t, err)
	db2, err := client.DB(ctx)
	require.NoError(t, err)

	assert.Same(t, db1, db2)
	assert.EqualValues(t, 1, atomic.LoadInt32(opens))
	assert.True(t, client.IsConnected())
	assert.NoError(t, client.Ping(ctx))

	sqldb, err := client.SQLDB(ctx)
	require.NoError(t, err)
	assert.NotNil(t, sqldb)
	assert.EqualValues(t, 1, atomic.LoadInt32(opens))
}

func TestConcurrentFirstAccessCreatesOnePool(t *testing.T) {
	resetModelRegistry()
	defer resetModelRegistry()

	ctx := context.Background()
	opens := countSQLOpens(t)

	client, err := New(sqliteClientConfig(t))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	const n = 16
	var wg sync.WaitGroup
	dbs := make([]*bun.DB, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dbs[i], errs[i] = client.DB(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, dbs[0], dbs[i])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(opens))
}

func TestConnectFailureLeavesNoState(t *testing.T) {
	resetModelRegistry()
	defer resetModelRegistry()

	ctx := context.Background()
	client, err := New(sqliteClientConfig(t))
	require.NoError(t, err)

	orig := sqlOpenFn
	sqlOpenFn = func(string, string) (*sql.DB, error) {
		return nil, errors.New("connection refused")
	}
	defer func() { sqlOpenFn = orig }()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create database connection")
	assert.False(t, client.IsConnected())
	_, dbErr := client.DB(ctx)
	assert.Error(t, dbErr)

	// once the fault clears the same client connects cleanly
	sqlOpenFn = orig
	require.NoError(t, client.Connect(ctx))
	assert.True(t, client.IsConnected())
	_ = client.Close()
}

func TestStartupMigrationFailureDisconnects(t *testing.T) {
	resetModelRegistry()
	defer resetModelRegistry()

	ctx := context.Background()
	client, err := New(sqliteClientConfig(t))
	require.NoError(t, err)

	require.NoError(t, client.RegisterMigration(MigrationItem{
		Version: "900",
		Name:    "boom",
		Up: func(context.Context, bun.IDB) error {
			return errors.New("boom")
		},
	}))

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to run database migrations")
	assert.False(t, client.IsConnected())
	assert.Nil(t, client.Migrator())
}

func TestEndToEndQueryThroughSharedHandle(t *testing.T) {
	resetModelRegistry()
	defer resetModelRegistry()
	RegisterNamedModel("user", (*registryUser)(nil), 1)

	ctx := context.Background()
	client, err := New(sqliteClientConfig(t))
	require.NoError(t, err)
	client.SetLogger(&captureLogger{})
	defer func() { _ = client.Close() }()

	opens := countSQLOpens(t)

	db, err := client.DB(ctx)
	require.NoError(t, err)

	_, err = db.NewInsert().Model(&registryUser{Name: "grace"}).Exec(ctx)
	require.NoError(t, err)

	// a later access reuses the handle, no re-initialization happens
	var users []registryUser
	require.NoError(t, client.MustDB(ctx).NewSelect().Model(&users).Scan(ctx))
	require.Len(t, users, 1)
	assert.Equal(t, "grace", users[0].Name)
	assert.EqualValues(t, 1, atomic.LoadInt32(opens))
}

func TestRunInTx(t *testing.T) {
	resetModelRegistry()
	defer resetModelRegistry()
	RegisterNamedModel("user", (*registryUser)(nil), 1)

	ctx := context.Background()
	client, err := New(sqliteClientConfig(t))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	err = client.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&registryUser{Name: "kept"}).Exec(ctx)
		return err
	})
	require.NoError(t, err)

	err = client.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&registryUser{Name: "dropped"}).Exec(ctx); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	db, err := client.DB(ctx)
	require.NoError(t, err)
	count, err := db.NewSelect().Model((*registryUser)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegisterMigrationLifecycle(t *testing.T) {
	resetModelRegistry()
	defer resetModelRegistry()

	ctx := context.Background()
	client, err := New(sqliteClientConfig(t))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	// registered before Connect, applied during it
	require.NoError(t, client.RegisterMigration(MigrationItem{
		Version: "101",
		Name:    "add_probe",
		Up: func(ctx context.Context, db bun.IDB) error {
			_, err := db.ExecContext(ctx, "CREATE TABLE probe (id INTEGER PRIMARY KEY)")
			return err
		},
	}))

	require.NoError(t, client.Connect(ctx))
	require.NotNil(t, client.Migrator())

	db, err := client.DB(ctx)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO probe (id) VALUES (1)")
	require.NoError(t, err)

	// registered after Connect, applied by an explicit run
	require.NoError(t, client.RegisterMigration(MigrationItem{
		Version: "102",
		Name:    "add_probe_two",
		Up: func(ctx context.Context, db bun.IDB) error {
			_, err := db.ExecContext(ctx, "CREATE TABLE probe_two (id INTEGER PRIMARY KEY)")
			return err
		},
	}))
	require.NoError(t, client.RunMigrations(ctx))

	_, err = db.ExecContext(ctx, "INSERT INTO probe_two (id) VALUES (1)")
	require.NoError(t, err)
}

func TestCloseIsIdempotentAndReconnectable(t *testing.T) {
	resetModelRegistry()
	defer resetModelRegistry()

	ctx := context.Background()
	opens := countSQLOpens(t)

	client, err := New(sqliteClientConfig(t))
	require.NoError(t, err)

	_, err = client.DB(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(opens))

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
	assert.Nil(t, client.Migrator())

	// a closed client can connect again with a fresh pool
	_, err = client.DB(ctx)
	require.NoError(t, err)
	assert.True(t, client.IsConnected())
	assert.EqualValues(t, 2, atomic.LoadInt32(opens))
	require.NoError(t, client.Close())
}

func TestClientSetLogger(t *testing.T) {
	resetModelRegistry()
	defer resetModelRegistry()

	client, err := New(sqliteClientConfig(t))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	client.SetLogger(nil) // ignored

	lg := &captureLogger{}
	client.SetLogger(lg)
	require.NoError(t, client.Connect(context.Background()))
	assert.Contains(t, lg.all(), "Database initialization completed!")
}

func TestClientConfigIsCopied(t *testing.T) {
	cfg := sqliteClientConfig(t)
	client, err := New(cfg)
	require.NoError(t, err)

	assert.NotSame(t, cfg, client.Config())

	cfg.DataInitConfig.Environment = "mutated"
	assert.Equal(t, "development", client.Config().DataInitConfig.Environment)
}
