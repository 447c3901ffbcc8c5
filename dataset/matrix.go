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

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

const (
	MinRating = 1.0
	MaxRating = 5.0
)

// Record is a single rating of an item by a user.
type Record struct {
	UserId    int64
	ItemId    int64
	Rating    float64
	Timestamp time.Time
}

// Rating is an entry of a sparse row or column. Index refers to an item in a
// user row and to a user in an item column.
type Rating struct {
	Index int32
	Value float64
}

type Stats struct {
	Users        int `json:"users"`
	Items        int `json:"items"`
	Interactions int `json:"interactions"`
	Duplicates   int `json:"duplicates"`
}

type pair struct {
	userId int64
	itemId int64
}

// Builder collects records and resolves duplicated (user, item) pairs by
// last-write-wins: a later timestamp replaces an earlier one and, for equal
// timestamps, the record added later wins.
type Builder struct {
	index      map[pair]int
	records    []Record
	duplicates int
}

func NewBuilder() *Builder {
	return &Builder{index: make(map[pair]int)}
}

func (b *Builder) Add(record Record) error {
	if math.IsNaN(record.Rating) || record.Rating < MinRating || record.Rating > MaxRating {
		return errors.NotValidf("rating %v of user %d on item %d", record.Rating, record.UserId, record.ItemId)
	}
	key := pair{userId: record.UserId, itemId: record.ItemId}
	if i, exist := b.index[key]; exist {
		b.duplicates++
		if !record.Timestamp.Before(b.records[i].Timestamp) {
			b.records[i] = record
		}
		return nil
	}
	b.index[key] = len(b.records)
	b.records = append(b.records, record)
	return nil
}

// Build freezes the collected records into a matrix. Indices are assigned in
// ascending id order, so comparing indices is the same as comparing ids.
func (b *Builder) Build() *Matrix {
	records := slices.Clone(b.records)
	slices.SortFunc(records, func(a, b Record) int {
		if c := cmp.Compare(a.UserId, b.UserId); c != 0 {
			return c
		}
		return cmp.Compare(a.ItemId, b.ItemId)
	})

	m := &Matrix{
		userDict: NewFreqDict(),
		itemDict: NewFreqDict(),
	}
	for _, userId := range lo.Uniq(lo.Map(records, func(r Record, _ int) int64 { return r.UserId })) {
		m.userDict.NotCount(userId)
	}
	itemIds := lo.Uniq(lo.Map(records, func(r Record, _ int) int64 { return r.ItemId }))
	slices.Sort(itemIds)
	for _, itemId := range itemIds {
		m.itemDict.NotCount(itemId)
	}

	m.userRatings = make([][]Rating, m.userDict.Count())
	m.itemRaters = make([][]Rating, m.itemDict.Count())
	m.raterSets = make([]*bitset.BitSet, m.itemDict.Count())
	for i := range m.raterSets {
		m.raterSets[i] = bitset.New(uint(m.userDict.Count()))
	}
	for _, r := range records {
		u := m.userDict.Id(r.UserId)
		i := m.itemDict.Id(r.ItemId)
		m.userRatings[u] = append(m.userRatings[u], Rating{Index: i, Value: r.Rating})
		m.itemRaters[i] = append(m.itemRaters[i], Rating{Index: u, Value: r.Rating})
		m.raterSets[i].Set(uint(u))
	}

	m.norms = make([]float64, len(m.userRatings))
	for u, ratings := range m.userRatings {
		var sum float64
		for _, r := range ratings {
			sum += r.Value * r.Value
		}
		m.norms[u] = math.Sqrt(sum)
	}
	m.stats = Stats{
		Users:        m.userDict.Count(),
		Items:        m.itemDict.Count(),
		Interactions: len(records),
		Duplicates:   b.duplicates,
	}
	return m
}

// Matrix is a read-only sparse user x item rating matrix. It is safe for
// concurrent use once built.
type Matrix struct {
	userDict    *FreqDict
	itemDict    *FreqDict
	userRatings [][]Rating
	itemRaters  [][]Rating
	raterSets   []*bitset.BitSet
	norms       []float64
	stats       Stats
}

func (m *Matrix) CountUsers() int {
	return m.userDict.Count()
}

func (m *Matrix) CountItems() int {
	return m.itemDict.Count()
}

func (m *Matrix) Stats() Stats {
	return m.stats
}

func (m *Matrix) UserIndex(userId int64) (int32, bool) {
	return m.userDict.Index(userId)
}

func (m *Matrix) ItemIndex(itemId int64) (int32, bool) {
	return m.itemDict.Index(itemId)
}

func (m *Matrix) UserId(u int32) int64 {
	id, _ := m.userDict.Value(u)
	return id
}

func (m *Matrix) ItemId(i int32) int64 {
	id, _ := m.itemDict.Value(i)
	return id
}

// UserRatings returns the ratings of a user sorted by item index.
func (m *Matrix) UserRatings(u int32) []Rating {
	return m.userRatings[u]
}

// ItemRaters returns the users who rated an item sorted by user index.
func (m *Matrix) ItemRaters(i int32) []Rating {
	return m.itemRaters[i]
}

func (m *Matrix) HasRated(u, i int32) bool {
	return m.raterSets[i].Test(uint(u))
}

func (m *Matrix) Rating(u, i int32) (float64, bool) {
	if !m.HasRated(u, i) {
		return 0, false
	}
	ratings := m.userRatings[u]
	pos, found := slices.BinarySearchFunc(ratings, i, func(r Rating, target int32) int {
		return cmp.Compare(r.Index, target)
	})
	if !found {
		return 0, false
	}
	return ratings[pos].Value, true
}

// Norm returns the L2 norm of the full rating vector of a user.
func (m *Matrix) Norm(u int32) float64 {
	return m.norms[u]
}

// ToMap returns the user_id -> {item_id -> rating} view of the matrix.
func (m *Matrix) ToMap() map[int64]map[int64]float64 {
	result := make(map[int64]map[int64]float64, len(m.userRatings))
	for u, ratings := range m.userRatings {
		row := make(map[int64]float64, len(ratings))
		for _, r := range ratings {
			row[m.ItemId(r.Index)] = r.Value
		}
		result[m.UserId(int32(u))] = row
	}
	return result
}

// Records returns the resolved records ordered by user id and item id.
// Timestamps are not retained by the matrix.
func (m *Matrix) Records() []Record {
	records := make([]Record, 0, m.stats.Interactions)
	for u, ratings := range m.userRatings {
		for _, r := range ratings {
			records = append(records, Record{
				UserId: m.UserId(int32(u)),
				ItemId: m.ItemId(r.Index),
				Rating: r.Value,
			})
		}
	}
	return records
}
