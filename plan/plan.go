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

// Package plan is the primary interface to the query
// planner.
//
// Plan turns a declaratively built query into a
// deterministic cache key, a flat parameter list, and
// a validated, join-expanded, normalized query handed
// to the backend adapter for compilation. The stages
// run leaves-first over one cloned query value: source
// resolution, join expansion, parameter merging plus
// cache-key folding, preload validation, then
// normalization.
//
// Planning holds no state of its own between calls;
// the only shared structure is the injected Cache,
// which resolves concurrent first-compilations with
// first-writer-wins semantics.
package plan

import (
	"github.com/SnellerInc/relplan/expr"
	"github.com/SnellerInc/relplan/query"
	"github.com/SnellerInc/relplan/types"
)

// Adapter is the backend contract: it compiles a
// normalized query into an opaque payload and reports
// whether that payload may be cached. Adapters also
// identify themselves to the type system and may
// override value encoding (see types.Dumper).
type Adapter interface {
	types.Adapter

	// Prepare compiles a normalized query.
	// The payload is opaque to the planner.
	Prepare(op query.Op, q *query.Query) (cacheable bool, payload any)
}

// Meta carries the query metadata the executor needs
// alongside the compiled payload.
type Meta struct {
	Op      query.Op
	Prefix  string
	Sources []query.Source
	// Fields is the final projected field list after
	// select expansion; nil for update/delete
	// operations and schemaless whole-row reads.
	Fields   []expr.Node
	Select   *query.Select
	Assocs   []query.Assoc
	Preloads []string
}

// CacheStatus describes how the compiled payload
// relates to the plan cache.
type CacheStatus int

const (
	// Nocache: the query shape is uncacheable and was
	// compiled for this invocation only.
	Nocache CacheStatus = iota
	// Cached: the payload came from (or lost a race
	// into) the cache.
	Cached
	// CacheFresh: the payload was freshly compiled and
	// inserted; the caller should invoke Promote with
	// the finished backend artifact.
	CacheFresh
)

func (s CacheStatus) String() string {
	switch s {
	case Nocache:
		return "nocache"
	case Cached:
		return "cached"
	case CacheFresh:
		return "cache"
	default:
		return "unknown"
	}
}

// Compiled is the compile result of a plan.
type Compiled struct {
	Status  CacheStatus
	Payload any
	// Promote finalizes the cache entry in place;
	// set only when Status is CacheFresh.
	Promote func(payload any)
}

type planner struct {
	adapter Adapter
}

// Plan runs the full pipeline on q for the given
// operation. It returns the executor metadata, the
// compile result, and the flat, ordered backend
// parameter list. The input query is never mutated.
//
// When cache is nil every query is planned as
// uncacheable.
func Plan(q *query.Query, op query.Op, a Adapter, cache *Cache) (*Meta, *Compiled, []any, error) {
	p := &planner{adapter: a}
	cq := q.Clone()
	params, key, err := p.prepare(cq, op)
	if err != nil {
		return nil, nil, nil, err
	}

	if key == NoCache || cache == nil {
		meta, _, payload, err := p.finish(cq, op, len(params))
		if err != nil {
			return nil, nil, nil, err
		}
		return meta, &Compiled{Status: Nocache, Payload: payload}, params, nil
	}

	if e, ok := cache.lookup(key); ok {
		return e.meta, &Compiled{Status: Cached, Payload: e.payload}, params, nil
	}

	meta, cacheable, payload, err := p.finish(cq, op, len(params))
	if err != nil {
		return nil, nil, nil, err
	}
	if !cacheable {
		return meta, &Compiled{Status: Nocache, Payload: payload}, params, nil
	}
	mine := &cacheEntry{meta: meta, payload: payload}
	won := cache.insertIfAbsent(key, mine)
	if won != mine {
		// lost the race; discard ours and adopt the winner
		return won.meta, &Compiled{Status: Cached, Payload: won.payload}, params, nil
	}
	promote := func(final any) { cache.promote(key, final) }
	return meta, &Compiled{Status: CacheFresh, Payload: payload, Promote: promote}, params, nil
}

// prepare runs the leaves-first half of the pipeline:
// source resolution, join expansion, preload
// validation, and the parameter merge / cache-key
// fold. The query comes out Prepared: sources
// resolved, indices flat, per-clause parameters
// consumed into the returned list.
func (p *planner) prepare(q *query.Query, op query.Op) ([]any, Key, error) {
	src, err := p.resolveSource(q.From)
	if err != nil {
		return nil, NoCache, err
	}
	q.Sources = []query.Source{src}
	if err := p.expandJoins(q); err != nil {
		return nil, NoCache, err
	}
	if err := p.validateAssocs(q); err != nil {
		return nil, NoCache, err
	}
	return p.merge(q, op)
}

// finish normalizes a prepared query and hands it to
// the adapter. nparams is the length of the flattened
// parameter list produced by merge; renumbering must
// account for exactly that many slots.
func (p *planner) finish(q *query.Query, op query.Op, nparams int) (*Meta, bool, any, error) {
	fields, err := p.normalize(q, op, nparams)
	if err != nil {
		return nil, false, nil, err
	}
	meta := &Meta{
		Op:       op,
		Prefix:   q.Prefix,
		Sources:  q.Sources,
		Fields:   fields,
		Select:   q.Select,
		Assocs:   q.Assocs,
		Preloads: q.Preloads,
	}
	cacheable, payload := p.adapter.Prepare(op, q)
	return meta, cacheable, payload, nil
}
