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
	"math"

	"github.com/gorse-io/mealrec/common/heap"
	"github.com/gorse-io/mealrec/storage/data"
	"github.com/samber/lo"
)

// PopularItem is an item profile with its popularity.
type PopularItem struct {
	data.Item
	Score float64 `json:"score"`
}

// Popularity is avg_rating * ln(rating_count + 1). Unrated items score 0.
func Popularity(avgRating float64, ratingCount int) float64 {
	if ratingCount <= 0 || avgRating <= 0 {
		return 0
	}
	return avgRating * math.Log(float64(ratingCount)+1)
}

// PopularityRanker scores items by popularity. A precomputed table shipped with
// the model artifact takes precedence over the item statistics.
type PopularityRanker struct {
	table map[int64]float64
}

func NewPopularityRanker(table map[int64]float64) *PopularityRanker {
	return &PopularityRanker{table: table}
}

func (r *PopularityRanker) Score(item *data.Item) float64 {
	if score, ok := r.table[item.ItemId]; ok {
		return score
	}
	return Popularity(item.AvgRating, item.RatingCount)
}

// Rank returns the n most popular items in descending popularity, ties broken
// by ascending item id.
func (r *PopularityRanker) Rank(items []data.Item, n int) []PopularItem {
	filter := heap.NewTopKFilter[int64, float64](n)
	index := make(map[int64]int, len(items))
	for i := range items {
		index[items[i].ItemId] = i
		filter.Push(items[i].ItemId, r.Score(&items[i]))
	}
	return lo.Map(filter.PopAll(), func(elem heap.Elem[int64, float64], _ int) PopularItem {
		return PopularItem{Item: items[index[elem.Value]], Score: elem.Weight}
	})
}

// Normalize returns the popularity of every item divided by the maximum
// popularity among them. All scores are 0 when the maximum is 0.
func (r *PopularityRanker) Normalize(items []data.Item) []float64 {
	scores := make([]float64, len(items))
	var maximum float64
	for i := range items {
		scores[i] = r.Score(&items[i])
		maximum = max(maximum, scores[i])
	}
	for i := range scores {
		if maximum > 0 {
			scores[i] /= maximum
		} else {
			scores[i] = 0
		}
	}
	return scores
}
