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
package data

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchInsertItemsSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mealrec",
		Subsystem: "database",
		Name:      "batch_insert_items_seconds",
	})
	GetItemSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mealrec",
		Subsystem: "database",
		Name:      "get_item_seconds",
	})
	GetItemsSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mealrec",
		Subsystem: "database",
		Name:      "get_items_seconds",
	})
	BatchInsertUsersSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mealrec",
		Subsystem: "database",
		Name:      "batch_insert_users_seconds",
	})
	GetUserSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mealrec",
		Subsystem: "database",
		Name:      "get_user_seconds",
	})
)

// measured records the latency of every call into the wrapped database.
type measured struct {
	Database
}

func (m measured) BatchInsertItems(ctx context.Context, items []Item) error {
	start := time.Now()
	defer func() { BatchInsertItemsSeconds.Observe(time.Since(start).Seconds()) }()
	return m.Database.BatchInsertItems(ctx, items)
}

func (m measured) GetItem(ctx context.Context, itemId int64) (Item, error) {
	start := time.Now()
	defer func() { GetItemSeconds.Observe(time.Since(start).Seconds()) }()
	return m.Database.GetItem(ctx, itemId)
}

func (m measured) GetItems(ctx context.Context, category string) ([]Item, error) {
	start := time.Now()
	defer func() { GetItemsSeconds.Observe(time.Since(start).Seconds()) }()
	return m.Database.GetItems(ctx, category)
}

func (m measured) BatchInsertUsers(ctx context.Context, users []User) error {
	start := time.Now()
	defer func() { BatchInsertUsersSeconds.Observe(time.Since(start).Seconds()) }()
	return m.Database.BatchInsertUsers(ctx, users)
}

func (m measured) GetUser(ctx context.Context, userId int64) (User, error) {
	start := time.Now()
	defer func() { GetUserSeconds.Observe(time.Since(start).Seconds()) }()
	return m.Database.GetUser(ctx, userId)
}
