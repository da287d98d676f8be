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
	"fmt"
	"strings"

	"github.com/colibri-orm/colibri/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

type bunRepository[T any] struct {
	db bun.IDB
}

// NewRepository returns a generic repository over the provided handle. The
// handle is usually the shared *bun.DB, but a bun.Tx works too, which scopes
// every repository operation to that transaction.
func NewRepository[T any](db bun.IDB) Repository[T] {
	return &bunRepository[T]{db: db}
}

func (r *bunRepository[T]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *bunRepository[T]) NewSelect() *bun.SelectQuery { return r.db.NewSelect() }

func (r *bunRepository[T]) NewInsert() *bun.InsertQuery { return r.db.NewInsert() }

func (r *bunRepository[T]) NewUpdate() *bun.UpdateQuery { return r.db.NewUpdate() }

func (r *bunRepository[T]) NewDelete() *bun.DeleteQuery { return r.db.NewDelete() }

// idb picks the caller supplied handle when present, falling back to the
// repository handle.
func (r *bunRepository[T]) idb(tx bun.IDB) bun.IDB {
	if tx != nil {
		return tx
	}
	return r.db
}

func entitySlice[T any](entity ...*T) []*T {
	entities := make([]*T, len(entity))
	copy(entities, entity)
	return entities
}

func (r *bunRepository[T]) GetOne(ctx context.Context, id any) (*T, error) {
	var entity T
	err := r.db.NewSelect().Model(&entity).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *bunRepository[T]) GetAll(ctx context.Context) ([]*T, error) {
	var entities []*T
	err := r.db.NewSelect().Model(&entities).Scan(ctx)
	return entities, err
}

func (r *bunRepository[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	var entities []*T
	query := r.db.NewSelect().Model(&entities)
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *bunRepository[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	var entities []*T
	err := r.db.NewSelect().Model(&entities).Where(query, args...).Scan(ctx)
	return entities, err
}

func (r *bunRepository[T]) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	query := r.db.NewSelect().Model((*T)(nil))
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	return query.Count(ctx)
}

func (r *bunRepository[T]) Exists(ctx context.Context, filter *types.QueryFilter) (bool, error) {
	query := r.db.NewSelect().Model((*T)(nil))
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	return query.Exists(ctx)
}

func (r *bunRepository[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	var entities []*T
	query := r.db.NewSelect().Model(&entities)
	if pageRequest.GetFilter() != nil {
		query = query.Where(pageRequest.GetFilter().Schema, pageRequest.GetFilter().Args...)
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := query.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	err = query.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		Order(pageRequest.GetOrders()...).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = entities
	return pagination, nil
}

func (r *bunRepository[T]) Create(ctx context.Context, entity ...*T) error {
	entities := entitySlice(entity...)
	_, err := r.db.NewInsert().Model(&entities).Exec(ctx)
	return err
}

func (r *bunRepository[T]) Upsert(ctx context.Context, fields []string, duplicateKeys []string, entity ...*T) error {
	return r.upsert(ctx, nil, fields, duplicateKeys, entity...)
}

func (r *bunRepository[T]) Update(ctx context.Context, entity *T) error {
	_, err := r.db.NewUpdate().Model(entity).WherePK().Exec(ctx)
	return err
}

func (r *bunRepository[T]) Delete(ctx context.Context, id any) error {
	var entity T
	_, err := r.db.NewDelete().Model(&entity).Where("id = ?", id).Exec(ctx)
	return err
}

func (r *bunRepository[T]) CreateWithTx(ctx context.Context, tx bun.IDB, entity ...*T) error {
	entities := entitySlice(entity...)
	_, err := r.idb(tx).NewInsert().Model(&entities).Exec(ctx)
	return err
}

func (r *bunRepository[T]) UpsertWithTx(ctx context.Context, tx bun.IDB, fields []string, duplicateKeys []string, entity ...*T) error {
	return r.upsert(ctx, tx, fields, duplicateKeys, entity...)
}

func (r *bunRepository[T]) UpdateWithTx(ctx context.Context, tx bun.IDB, entity *T) error {
	_, err := r.idb(tx).NewUpdate().Model(entity).WherePK().Exec(ctx)
	return err
}

func (r *bunRepository[T]) DeleteWithTx(ctx context.Context, tx bun.IDB, id any) error {
	var entity T
	_, err := r.idb(tx).NewDelete().Model(&entity).Where("id = ?", id).Exec(ctx)
	return err
}

// upsert inserts entities and updates the listed fields when the row already
// exists. The SQL form depends on the dialect: MySQL uses ON DUPLICATE KEY
// UPDATE, PostgreSQL and SQLite use ON CONFLICT DO UPDATE with duplicateKeys
// as the conflict target (default "id"), anything else falls back to insert
// then update per entity.
func (r *bunRepository[T]) upsert(ctx context.Context, tx bun.IDB, fields []string, duplicateKeys []string, entity ...*T) error {
	if len(fields) == 0 {
		return fmt.Errorf("fields cannot be empty")
	}

	db := r.idb(tx)
	entities := entitySlice(entity...)
	features := db.Dialect().Features()

	switch {
	case features.Has(feature.InsertOnConflict):
		return r.upsertOnConflict(ctx, db, fields, duplicateKeys, entities)
	case features.Has(feature.InsertOnDuplicateKey):
		return r.upsertOnDuplicateKey(ctx, db, fields, entities)
	default:
		return r.upsertFallback(ctx, db, entities)
	}
}

func (r *bunRepository[T]) upsertOnDuplicateKey(ctx context.Context, db bun.IDB, fields []string, entities []*T) error {
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = VALUES(%s)", bun.Ident(field), bun.Ident(field)))
	}
	_, err := db.NewInsert().
		Model(&entities).
		On("DUPLICATE KEY UPDATE " + strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *bunRepository[T]) upsertOnConflict(ctx context.Context, db bun.IDB, fields []string, duplicateKeys []string, entities []*T) error {
	if len(duplicateKeys) == 0 {
		duplicateKeys = []string{"id"}
	}
	keyNames := strings.Join(duplicateKeys, ",")
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = EXCLUDED.%s", bun.Ident(field), bun.Ident(field)))
	}
	_, err := db.NewInsert().
		Model(&entities).
		On("CONFLICT (" + keyNames + ") DO UPDATE").
		Set(strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *bunRepository[T]) upsertFallback(ctx context.Context, db bun.IDB, entities []*T) error {
	for _, entity := range entities {
		_, err := db.NewInsert().Model(entity).Exec(ctx)
		if err != nil {
			_, updateErr := db.NewUpdate().Model(entity).WherePK().Exec(ctx)
			if updateErr != nil {
				return fmt.Errorf("upsert failed for entity: insert error: %v, update error: %v", err, updateErr)
			}
		}
	}
	return nil
}
