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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageRequestNormalization(t *testing.T) {
	page := NewDefaultPageRequest(0, 0)
	assert.Equal(t, 1, page.GetPage())
	assert.Equal(t, 10, page.GetPageSize())
	assert.Equal(t, 0, page.GetOffset())

	page = NewDefaultPageRequest(-3, -1)
	assert.Equal(t, 1, page.GetPage())
	assert.Equal(t, 10, page.GetPageSize())
}

func TestPageRequestOffset(t *testing.T) {
	page := NewDefaultPageRequest(3, 20)
	assert.Equal(t, 40, page.GetOffset())
}

func TestPageRequestFilterAndOrders(t *testing.T) {
	filter := NewQueryFilter("name = ?", "alice")
	page := NewPageRequest(1, 10, filter, []string{"id DESC"})

	assert.Same(t, filter, page.GetFilter())
	assert.Equal(t, []string{"id DESC"}, page.GetOrders())

	withFilter := NewPageRequestWithFilter(1, 10, filter)
	assert.Empty(t, withFilter.GetOrders())

	withOrders := NewPageRequestWithOrders(1, 10, []string{"name ASC"})
	assert.Nil(t, withOrders.GetFilter())
}

func TestPaginationPages(t *testing.T) {
	type row struct{ ID int }

	p := NewDefaultPagination[row](1, 10)
	p.Total = 25
	assert.Equal(t, 3, p.Pages())
	assert.True(t, p.HasNext())

	p.Page = 3
	assert.False(t, p.HasNext())

	p.Total = 30
	assert.Equal(t, 3, p.Pages())

	empty := NewDefaultPagination[row](1, 10)
	assert.Equal(t, 0, empty.Pages())
	assert.False(t, empty.HasNext())
	assert.NotNil(t, empty.Items)
}
