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

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/colibri-orm/colibri/types"
)

type book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID     int64  `bun:"id,pk,autoincrement"`
	Title  string `bun:"title,notnull"`
	Author string `bun:"author,notnull"`
	Rating int    `bun:"rating,notnull,default:0"`
}

func openRepoDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, filepath.Join(t.TempDir(), "repository_test.db"))
	require.NoError(t, err)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.NewCreateTable().Model((*book)(nil)).IfNotExists().Exec(context.Background())
	require.NoError(t, err)
	return db
}

func TestRepositoryCrud(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[book](openRepoDB(t))

	first := &book{Title: "The Go Programming Language", Author: "donovan", Rating: 5}
	second := &book{Title: "Go in Action", Author: "kennedy", Rating: 4}
	require.NoError(t, repo.Create(ctx, first, second))
	assert.NotZero(t, first.ID)
	assert.NotZero(t, second.ID)

	got, err := repo.GetOne(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Title, got.Title)

	got.Rating = 3
	require.NoError(t, repo.Update(ctx, got))
	updated, err := repo.GetOne(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Rating)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.Delete(ctx, first.ID))
	_, err = repo.GetOne(ctx, first.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRepositoryListCountExists(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[book](openRepoDB(t))

	require.NoError(t, repo.Create(ctx,
		&book{Title: "a", Author: "ada", Rating: 5},
		&book{Title: "b", Author: "ada", Rating: 2},
		&book{Title: "c", Author: "bob", Rating: 4},
	))

	byAda, err := repo.List(ctx, types.NewQueryFilter("author = ?", "ada"))
	require.NoError(t, err)
	assert.Len(t, byAda, 2)

	everything, err := repo.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, everything, 3)

	highRated, err := repo.Query(ctx, "rating >= ?", 4)
	require.NoError(t, err)
	assert.Len(t, highRated, 2)

	total, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	bobs, err := repo.Count(ctx, types.NewQueryFilter("author = ?", "bob"))
	require.NoError(t, err)
	assert.Equal(t, 1, bobs)

	ok, err := repo.Exists(ctx, types.NewQueryFilter("author = ?", "ada"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, types.NewQueryFilter("author = ?", "carol"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryPage(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[book](openRepoDB(t))

	books := make([]*book, 0, 25)
	for i := 1; i <= 25; i++ {
		author := "ada"
		if i%5 == 0 {
			author = "bob"
		}
		books = append(books, &book{Title: fmt.Sprintf("book-%02d", i), Author: author, Rating: i % 6})
	}
	require.NoError(t, repo.Create(ctx, books...))

	page, err := repo.Page(ctx, types.NewPageRequest(2, 10, nil, []string{"id ASC"}))
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.PageSize)
	assert.Equal(t, 25, page.Total)
	require.Len(t, page.Items, 10)
	assert.Equal(t, "book-11", page.Items[0].Title)
	assert.Equal(t, 3, page.Pages())
	assert.True(t, page.HasNext())

	last, err := repo.Page(ctx, types.NewPageRequest(3, 10, nil, []string{"id ASC"}))
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)
	assert.False(t, last.HasNext())

	filtered, err := repo.Page(ctx, types.NewPageRequestWithFilter(1, 10, types.NewQueryFilter("author = ?", "bob")))
	require.NoError(t, err)
	assert.Equal(t, 5, filtered.Total)
	assert.Len(t, filtered.Items, 5)

	empty, err := repo.Page(ctx, types.NewPageRequestWithFilter(1, 10, types.NewQueryFilter("author = ?", "carol")))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.Items)
}

func TestRepositoryUpsert(t *testing.T) {
	ctx := context.Background()
	db := openRepoDB(t)
	repo := NewRepository[book](db)

	// SQLite upserts through the ON CONFLICT path
	require.True(t, db.Dialect().Features().Has(feature.InsertOnConflict))

	require.NoError(t, repo.Upsert(ctx, []string{"title", "rating"}, nil,
		&book{ID: 1, Title: "v1", Author: "ada", Rating: 1}))

	// same key again: listed fields update, the rest stays
	require.NoError(t, repo.Upsert(ctx, []string{"title", "rating"}, nil,
		&book{ID: 1, Title: "v2", Author: "replaced?", Rating: 9}))

	got, err := repo.GetOne(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Title)
	assert.Equal(t, 9, got.Rating)
	assert.Equal(t, "ada", got.Author)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepositoryUpsertRequiresFields(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[book](openRepoDB(t))

	err := repo.Upsert(ctx, nil, nil, &book{ID: 1, Title: "x", Author: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fields cannot be empty")
}

func TestRepositoryWithTx(t *testing.T) {
	ctx := context.Background()
	db := openRepoDB(t)
	repo := NewRepository[book](db)

	committed := &book{Title: "committed", Author: "ada"}
	err := db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := repo.CreateWithTx(ctx, tx, committed); err != nil {
			return err
		}
		committed.Rating = 5
		return repo.UpdateWithTx(ctx, tx, committed)
	})
	require.NoError(t, err)

	got, err := repo.GetOne(ctx, committed.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Rating)

	err = db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := repo.CreateWithTx(ctx, tx, &book{Title: "rolled back", Author: "bob"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// a nil handle falls back to the repository connection
	require.NoError(t, repo.CreateWithTx(ctx, nil, &book{Title: "direct", Author: "ada"}))
	require.NoError(t, repo.DeleteWithTx(ctx, nil, committed.ID))
	count, err = repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepositoryScopedToTransaction(t *testing.T) {
	ctx := context.Background()
	db := openRepoDB(t)

	err := db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		scoped := NewRepository[book](tx)
		return scoped.Create(ctx, &book{Title: "scoped", Author: "ada"})
	})
	require.NoError(t, err)

	count, err := NewRepository[book](db).Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepositoryBuilders(t *testing.T) {
	repo := NewRepository[book](openRepoDB(t))

	assert.NotNil(t, repo.Dialect())
	assert.NotNil(t, repo.NewSelect())
	assert.NotNil(t, repo.NewInsert())
	assert.NotNil(t, repo.NewUpdate())
	assert.NotNil(t, repo.NewDelete())
}
