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

package colibri

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/colibri-orm/colibri/database"
	"github.com/colibri-orm/colibri/repository"
	"github.com/colibri-orm/colibri/types"
)

type note struct {
	bun.BaseModel `bun:"table:notes,alias:n"`

	ID    int64  `bun:"id,pk,autoincrement"`
	Topic string `bun:"topic,notnull"`
	Body  string `bun:"body,notnull"`
	Pin   bool   `bun:"pin,notnull,default:false"`
}

// newTestService bootstraps a client from DATABASE_URL the way an embedding
// application would and builds a note service on its shared handle.
func newTestService(t *testing.T) (Service[note], *database.Client) {
	t.Helper()

	dbfile := filepath.Join(t.TempDir(), "service_test.db")
	t.Setenv("DATABASE_URL", "sqlite:///"+dbfile)
	database.RegisterNamedModel("note", (*note)(nil), 1)

	client, err := database.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	db, err := client.DB(context.Background())
	require.NoError(t, err)
	return NewService[note](db), client
}

func TestServiceCrud(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	n := &note{Topic: "deploy", Body: "ship it"}
	require.NoError(t, svc.Save(ctx, n))
	require.NotZero(t, n.ID)

	got, err := svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy", got.Topic)

	got.Body = "hold it"
	require.NoError(t, svc.Update(ctx, got))
	updated, err := svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "hold it", updated.Body)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, svc.Delete(ctx, n.ID))
	all, err = svc.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestServiceListPageCount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	notes := make([]*note, 0, 12)
	for i := 1; i <= 12; i++ {
		notes = append(notes, &note{
			Topic: fmt.Sprintf("topic-%02d", i),
			Body:  "text",
			Pin:   i%3 == 0,
		})
	}
	require.NoError(t, svc.Save(ctx, notes...))

	pinned, err := svc.List(ctx, types.NewQueryFilter("pin = ?", true))
	require.NoError(t, err)
	assert.Len(t, pinned, 4)

	count, err := svc.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 12, count)

	ok, err := svc.Exists(ctx, types.NewQueryFilter("topic = ?", "topic-07"))
	require.NoError(t, err)
	assert.True(t, ok)

	page, err := svc.Page(ctx, types.NewPageRequest(2, 5, nil, []string{"id ASC"}))
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	require.Len(t, page.Items, 5)
	assert.Equal(t, "topic-06", page.Items[0].Topic)
	assert.True(t, page.HasNext())
}

func TestServiceSaveOrUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	require.NoError(t, svc.SaveOrUpdate(ctx, []string{"body"}, nil,
		&note{ID: 1, Topic: "deploy", Body: "v1"}))
	require.NoError(t, svc.SaveOrUpdate(ctx, []string{"body"}, nil,
		&note{ID: 1, Topic: "ignored", Body: "v2"}))

	got, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Body)
	assert.Equal(t, "deploy", got.Topic)

	count, err := svc.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestServiceTransactions(t *testing.T) {
	ctx := context.Background()
	svc, client := newTestService(t)

	kept := &note{Topic: "kept", Body: "x"}
	err := client.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := svc.SaveWithTx(ctx, tx, kept); err != nil {
			return err
		}
		kept.Body = "y"
		return svc.UpdateWithTx(ctx, tx, kept)
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, "y", got.Body)

	err = client.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := svc.SaveWithTx(ctx, tx, &note{Topic: "gone", Body: "z"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	count, err := svc.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = client.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return svc.DeleteWithTx(ctx, tx, kept.ID)
	})
	require.NoError(t, err)
	count, err = svc.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestServiceBuilders(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	require.NoError(t, svc.Save(ctx,
		&note{Topic: "a", Body: "x", Pin: true},
		&note{Topic: "b", Body: "x"},
	))

	// builders hand out the raw Bun queries for anything the typed
	// surface does not cover
	var pinned []note
	require.NoError(t, svc.SelectBuilder().Model(&pinned).Where("pin = ?", true).Scan(ctx))
	require.Len(t, pinned, 1)
	assert.Equal(t, "a", pinned[0].Topic)

	assert.NotNil(t, svc.InsertBuilder())
	assert.NotNil(t, svc.UpdateBuilder())
	assert.NotNil(t, svc.DeleteBuilder())
}

func TestNewServiceWithRepository(t *testing.T) {
	ctx := context.Background()
	_, client := newTestService(t)

	db, err := client.DB(ctx)
	require.NoError(t, err)

	svc := NewServiceWithRepository(repository.NewRepository[note](db))
	require.NoError(t, svc.Save(ctx, &note{Topic: "via-repo", Body: "x"}))

	found, err := svc.Query(ctx, "topic = ?", "via-repo")
	require.NoError(t, err)
	require.Len(t, found, 1)
}
