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
	"github.com/gorse-io/mealrec/dataset"
)

// Neighborhood finds users similar to a user.
type Neighborhood interface {
	SimilarUsers(userId int64, k int) []Neighbor
}

// Predictor estimates ratings from the ratings of similar users.
type Predictor struct {
	matrix       *dataset.Matrix
	neighborhood Neighborhood
	k            int
}

func NewPredictor(matrix *dataset.Matrix, neighborhood Neighborhood, k int) *Predictor {
	return &Predictor{matrix: matrix, neighborhood: neighborhood, k: k}
}

// Predict returns the similarity-weighted average rating of the item among the
// similar users who rated it. The second result is false when no similar user
// rated the item.
func (p *Predictor) Predict(userId, itemId int64) (float64, bool) {
	i, ok := p.matrix.ItemIndex(itemId)
	if !ok {
		return 0, false
	}
	var sum, weights float64
	for _, n := range p.neighborhood.SimilarUsers(userId, p.k) {
		v, ok := p.matrix.UserIndex(n.UserId)
		if !ok || !p.matrix.HasRated(v, i) {
			continue
		}
		rating, _ := p.matrix.Rating(v, i)
		sum += n.Score * rating
		weights += n.Score
	}
	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}
