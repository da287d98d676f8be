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

// Package colibri exposes a typed service layer over an injected database
// handle. Bootstrap the handle with the database package, then build one
// Service per entity type on top of it.
package colibri

import (
	"context"

	"github.com/colibri-orm/colibri/repository"
	"github.com/colibri-orm/colibri/types"
	"github.com/uptrace/bun"
)

type Service[T any] interface {
	// Get returns a single entity by its identifier.
	Get(ctx context.Context, id any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Query executes a raw query and maps the results to entities.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Count returns the number of entities matching the filter.
	Count(ctx context.Context, filter *types.QueryFilter) (int, error)

	// Exists reports whether any entity matches the filter.
	Exists(ctx context.Context, filter *types.QueryFilter) (bool, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Update modifies an existing entity.
	Update(ctx context.Context, model *T) error

	// Delete removes an entity by its identifier.
	Delete(ctx context.Context, id any) error

	// Save inserts one or more new entities.
	Save(ctx context.Context, model ...*T) error

	// SaveOrUpdate upserts entities based on fields and duplicate keys.
	SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error

	// SaveWithTx inserts entities within an existing transaction.
	SaveWithTx(ctx context.Context, tx bun.IDB, model ...*T) error

	// SaveOrUpdateWithTx upserts entities within a transaction.
	SaveOrUpdateWithTx(ctx context.Context, tx bun.IDB, fields []string, duplicateKeys []string, model ...*T) error

	// UpdateWithTx updates an entity within a transaction.
	UpdateWithTx(ctx context.Context, tx bun.IDB, model *T) error

	// DeleteWithTx removes an entity within a transaction.
	DeleteWithTx(ctx context.Context, tx bun.IDB, id any) error

	// SelectBuilder returns a Bun select query builder for the entity.
	SelectBuilder() *bun.SelectQuery

	// InsertBuilder returns a Bun insert query builder for the entity.
	InsertBuilder() *bun.InsertQuery

	// UpdateBuilder returns a Bun update query builder for the entity.
	UpdateBuilder() *bun.UpdateQuery

	// DeleteBuilder returns a Bun delete query builder for the entity.
	DeleteBuilder() *bun.DeleteQuery
}

type baseService[T any] struct {
	repo repository.Repository[T]
}

// NewService returns a Service implementation backed by the given database
// handle, typically obtained from database.Client.DB.
func NewService[T any](db bun.IDB) Service[T] {
	return NewServiceWithRepository(repository.NewRepository[T](db))
}

// NewServiceWithRepository returns a Service over a custom repository.
func NewServiceWithRepository[T any](repo repository.Repository[T]) Service[T] {
	return &baseService[T]{repo: repo}
}

func (s *baseService[T]) Save(ctx context.Context, model ...*T) error {
	return s.repo.Create(ctx, model...)
}

func (s *baseService[T]) SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error {
	return s.repo.Upsert(ctx, fields, duplicateKeys, model...)
}

func (s *baseService[T]) Get(ctx context.Context, id any) (*T, error) {
	return s.repo.GetOne(ctx, id)
}

func (s *baseService[T]) All(ctx context.Context) ([]*T, error) {
	return s.repo.GetAll(ctx)
}

func (s *baseService[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return s.repo.List(ctx, filter)
}

func (s *baseService[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	return s.repo.Query(ctx, query, args...)
}

func (s *baseService[T]) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	return s.repo.Count(ctx, filter)
}

func (s *baseService[T]) Exists(ctx context.Context, filter *types.QueryFilter) (bool, error) {
	return s.repo.Exists(ctx, filter)
}

func (s *baseService[T]) Update(ctx context.Context, model *T) error {
	return s.repo.Update(ctx, model)
}

func (s *baseService[T]) Delete(ctx context.Context, id any) error {
	return s.repo.Delete(ctx, id)
}

func (s *baseService[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	return s.repo.Page(ctx, page)
}

func (s *baseService[T]) SaveWithTx(ctx context.Context, tx bun.IDB, model ...*T) error {
	return s.repo.CreateWithTx(ctx, tx, model...)
}

func (s *baseService[T]) SaveOrUpdateWithTx(ctx context.Context, tx bun.IDB, fields []string, duplicateKeys []string, model ...*T) error {
	return s.repo.UpsertWithTx(ctx, tx, fields, duplicateKeys, model...)
}

func (s *baseService[T]) UpdateWithTx(ctx context.Context, tx bun.IDB, model *T) error {
	return s.repo.UpdateWithTx(ctx, tx, model)
}

func (s *baseService[T]) DeleteWithTx(ctx context.Context, tx bun.IDB, id any) error {
	return s.repo.DeleteWithTx(ctx, tx, id)
}

func (s *baseService[T]) SelectBuilder() *bun.SelectQuery {
	return s.repo.NewSelect()
}

func (s *baseService[T]) InsertBuilder() *bun.InsertQuery {
	return s.repo.NewInsert()
}

func (s *baseService[T]) UpdateBuilder() *bun.UpdateQuery {
	return s.repo.NewUpdate()
}

func (s *baseService[T]) DeleteBuilder() *bun.DeleteQuery {
	return s.repo.NewDelete()
}
