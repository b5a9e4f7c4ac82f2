// Copyright (C) 2023 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package plan

import (
	"fmt"
	"sync"
	"testing"

	"github.com/SnellerInc/relplan/expr"
	"github.com/SnellerInc/relplan/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logbuf struct {
	mu    sync.Mutex
	lines []string
}

func (l *logbuf) Printf(f string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(f, args...))
}

func cachedQuery(age int) *query.Query {
	users, _, _ := testSchemas()
	return query.New(users).
		Where(&expr.Comparison{Op: expr.OpGt,
			Left:  &expr.Field{Ix: 0, Name: "age"},
			Right: &expr.Param{},
		}, query.Param{Value: age, Type: query.FieldType(0, "age")})
}

func TestCacheFlow(t *testing.T) {
	c := NewCache()
	a := newAdapter()

	_, comp, _, err := Plan(cachedQuery(30), query.All, a, c)
	require.NoError(t, err)
	assert.Equal(t, CacheFresh, comp.Status)
	require.NotNil(t, comp.Promote)
	comp.Promote("compiled-artifact")

	// a structurally identical query with a different
	// parameter value hits the cache
	meta, comp, params, err := Plan(cachedQuery(65), query.All, a, c)
	require.NoError(t, err)
	assert.Equal(t, Cached, comp.Status)
	assert.Equal(t, "compiled-artifact", comp.Payload)
	assert.Nil(t, comp.Promote)
	assert.Equal(t, []any{int64(65)}, params)
	require.NotNil(t, meta)
	assert.Len(t, meta.Fields, 7)

	// the adapter compiled exactly once
	assert.Equal(t, 1, a.prepared)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(1), c.Hits())
	assert.Equal(t, int64(1), c.Misses())
}

func TestCacheSkipsUncacheable(t *testing.T) {
	users, _, _ := testSchemas()
	c := NewCache()
	a := newAdapter()
	mk := func() *query.Query {
		return query.New(users).
			Where(&expr.In{Left: &expr.Field{Ix: 0, Name: "id"}, Right: &expr.Param{}},
				query.Param{Value: []any{1, 2}, Type: query.ElemType(query.FieldType(0, "id"))})
	}
	for i := 0; i < 3; i++ {
		_, comp, _, err := Plan(mk(), query.All, a, c)
		require.NoError(t, err)
		assert.Equal(t, Nocache, comp.Status)
		assert.Nil(t, comp.Promote)
	}
	assert.Equal(t, 3, a.prepared, "uncacheable plans compile every time")
	assert.Equal(t, 0, c.Len())
	assert.Zero(t, c.Hits()+c.Misses(), "uncacheable plans never consult the cache")
}

func TestCacheAdapterDecline(t *testing.T) {
	// the adapter can refuse caching per-plan even when
	// the query shape is cacheable
	c := NewCache()
	a := newAdapter()
	a.cacheable = false
	_, comp, _, err := Plan(cachedQuery(1), query.All, a, c)
	require.NoError(t, err)
	assert.Equal(t, Nocache, comp.Status)
	assert.Equal(t, 0, c.Len())
}

func TestCacheFirstWriterWins(t *testing.T) {
	c := NewCache()
	e1 := &cacheEntry{payload: "one"}
	e2 := &cacheEntry{payload: "two"}
	won := c.insertIfAbsent("k", e1)
	assert.Same(t, e1, won)
	won = c.insertIfAbsent("k", e2)
	assert.Same(t, e1, won, "second writer must adopt the first entry")
	assert.Equal(t, 1, c.Len())
}

func TestPromote(t *testing.T) {
	c := NewCache()
	c.insertIfAbsent("k", &cacheEntry{meta: &Meta{Prefix: "p"}, payload: "pending"})
	c.promote("k", "final")
	e, ok := c.lookup("k")
	require.True(t, ok)
	assert.Equal(t, "final", e.payload)
	assert.Equal(t, "p", e.meta.Prefix, "promote must keep the metadata")
	assert.True(t, e.finalized)

	// promoting twice keeps the first finalized payload
	c.promote("k", "other")
	e, _ = c.lookup("k")
	assert.Equal(t, "final", e.payload)
}

func TestPromoteMissing(t *testing.T) {
	lb := &logbuf{}
	c := NewCache()
	c.Logger = lb
	c.promote("never-inserted", "x")
	assert.Equal(t, 0, c.Len())
	require.Len(t, lb.lines, 1)
	assert.Contains(t, lb.lines[0], "promote")
}

func TestCacheConcurrent(t *testing.T) {
	c := NewCache()
	const workers = 16
	statuses := make(chan CacheStatus, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, comp, _, err := Plan(cachedQuery(i), query.All, newAdapter(), c)
			if err != nil {
				t.Error(err)
				return
			}
			if comp.Status == CacheFresh {
				comp.Promote("final")
			}
			statuses <- comp.Status
		}(i)
	}
	wg.Wait()
	close(statuses)

	fresh := 0
	for s := range statuses {
		switch s {
		case CacheFresh:
			fresh++
		case Cached:
		default:
			t.Errorf("unexpected status %s", s)
		}
	}
	assert.Equal(t, 1, fresh, "exactly one caller compiles a given shape")
	assert.Equal(t, 1, c.Len())
}
