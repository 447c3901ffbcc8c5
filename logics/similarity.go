// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logics

import (
	"github.com/gorse-io/mealrec/common/heap"
	"github.com/gorse-io/mealrec/dataset"
	"github.com/jellydator/ttlcache/v3"
	"github.com/samber/lo"
	"go.uber.org/atomic"
)

// Neighbor is a similar user and its cosine similarity.
type Neighbor struct {
	UserId int64   `json:"user_id"`
	Score  float64 `json:"score"`
}

type neighbor struct {
	index int32
	score float64
}

// SimilarityEngine computes rows of the user similarity matrix on demand.
// Every row holds at most topK users in descending similarity, ties broken by
// the lower user id, and is computed once per process.
type SimilarityEngine struct {
	matrix       *dataset.Matrix
	topK         int
	rows         *ttlcache.Cache[int32, []neighbor]
	computations atomic.Int64
}

func NewSimilarityEngine(matrix *dataset.Matrix, topK int) *SimilarityEngine {
	e := &SimilarityEngine{matrix: matrix, topK: topK}
	loader := ttlcache.LoaderFunc[int32, []neighbor](
		func(c *ttlcache.Cache[int32, []neighbor], u int32) *ttlcache.Item[int32, []neighbor] {
			return c.Set(u, e.compute(u), ttlcache.NoTTL)
		})
	e.rows = ttlcache.New[int32, []neighbor](
		ttlcache.WithTTL[int32, []neighbor](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[int32, []neighbor](),
		ttlcache.WithLoader[int32, []neighbor](ttlcache.NewSuppressedLoader[int32, []neighbor](loader, nil)),
	)
	return e
}

// SimilarUsers returns the first min(k, topK) most similar users. A user absent
// from the matrix has no similar users.
func (e *SimilarityEngine) SimilarUsers(userId int64, k int) []Neighbor {
	u, ok := e.matrix.UserIndex(userId)
	if !ok || k <= 0 {
		return []Neighbor{}
	}
	row := e.row(u)
	row = row[:min(k, len(row))]
	return lo.Map(row, func(n neighbor, _ int) Neighbor {
		return Neighbor{UserId: e.matrix.UserId(n.index), Score: n.score}
	})
}

// Computations returns the number of rows computed so far.
func (e *SimilarityEngine) Computations() int64 {
	return e.computations.Load()
}

func (e *SimilarityEngine) row(u int32) []neighbor {
	item := e.rows.Get(u)
	if item == nil {
		return nil
	}
	return item.Value()
}

// compute scores every user sharing at least one item with u. Users without
// overlap are never visited, so they are excluded with similarity 0.
func (e *SimilarityEngine) compute(u int32) []neighbor {
	e.computations.Inc()
	dots := make([]float64, e.matrix.CountUsers())
	var visited []int32
	for _, rating := range e.matrix.UserRatings(u) {
		for _, rater := range e.matrix.ItemRaters(rating.Index) {
			if rater.Index == u {
				continue
			}
			if dots[rater.Index] == 0 {
				visited = append(visited, rater.Index)
			}
			dots[rater.Index] += rating.Value * rater.Value
		}
	}
	norm := e.matrix.Norm(u)
	filter := heap.NewTopKFilter[int32, float64](e.topK)
	for _, v := range visited {
		denominator := norm * e.matrix.Norm(v)
		if denominator == 0 {
			continue
		}
		if score := dots[v] / denominator; score > 0 {
			filter.Push(v, score)
		}
	}
	return lo.Map(filter.PopAll(), func(elem heap.Elem[int32, float64], _ int) neighbor {
		return neighbor{index: elem.Value, score: elem.Weight}
	})
}
