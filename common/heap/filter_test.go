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

package heap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopKFilter(t *testing.T) {
	filter := NewTopKFilter[int64, float64](3)
	for i, w := range []float64{0.1, 0.9, 0.5, 0.7, 0.3} {
		filter.Push(int64(i), w)
	}
	assert.Equal(t, []Elem[int64, float64]{
		{Value: 1, Weight: 0.9},
		{Value: 3, Weight: 0.7},
		{Value: 2, Weight: 0.5},
	}, filter.PopAll())
	assert.Zero(t, filter.Len())
}

func TestTopKFilterTies(t *testing.T) {
	values := []int64{7, 3, 9, 1, 5}
	for trial := 0; trial < 10; trial++ {
		rand.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
		filter := NewTopKFilter[int64, float64](3)
		for _, v := range values {
			filter.Push(v, 0.5)
		}
		elems := filter.PopAll()
		assert.Equal(t, []int64{1, 3, 5}, []int64{elems[0].Value, elems[1].Value, elems[2].Value})
	}
}

func TestTopKFilterZero(t *testing.T) {
	filter := NewTopKFilter[int64, float64](0)
	filter.Push(1, 1)
	assert.Empty(t, filter.PopAll())
}
