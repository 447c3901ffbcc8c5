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

package dataset

// FreqDict maps sparse ids to dense indices and counts how often each id is seen.
type FreqDict struct {
	si  map[int64]int32
	is  []int64
	cnt []int
}

func NewFreqDict() *FreqDict {
	return &FreqDict{si: make(map[int64]int32), is: make([]int64, 0), cnt: make([]int, 0)}
}

func (d *FreqDict) Count() int {
	return len(d.is)
}

// Id returns the index of an id, registering it if absent, and counts the occurrence.
func (d *FreqDict) Id(id int64) int32 {
	y := d.NotCount(id)
	d.cnt[y]++
	return y
}

// NotCount returns the index of an id, registering it if absent, without counting.
func (d *FreqDict) NotCount(id int64) int32 {
	if y, ok := d.si[id]; ok {
		return y
	}
	y := int32(len(d.is))
	d.si[id] = y
	d.is = append(d.is, id)
	d.cnt = append(d.cnt, 0)
	return y
}

// Index looks up an id without registering it.
func (d *FreqDict) Index(id int64) (int32, bool) {
	y, ok := d.si[id]
	return y, ok
}

func (d *FreqDict) Value(index int32) (int64, bool) {
	if index < 0 || int(index) >= len(d.is) {
		return 0, false
	}
	return d.is[index], true
}

func (d *FreqDict) Freq(index int32) int {
	if index < 0 || int(index) >= len(d.cnt) {
		return 0
	}
	return d.cnt[index]
}
