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
	"encoding/json"
	"strconv"

	"github.com/gorse-io/mealrec/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const (
	prefixItem     = "item/"
	prefixUser     = "user/"
	keyItems       = "items"
	prefixCategory = "items/"
)

// Redis stores profiles as JSON values. Sorted sets scored by id index all
// items and the items of each category.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
}

// Init does nothing.
func (r *Redis) Init() error {
	return nil
}

func (r *Redis) Ping() error {
	return errors.Trace(r.client.Ping(context.Background()).Err())
}

func (r *Redis) Close() error {
	return errors.Trace(r.client.Close())
}

// Purge deletes all keys under the table prefix.
func (r *Redis) Purge() error {
	ctx := context.Background()
	for _, pattern := range []string{prefixItem, prefixUser, keyItems} {
		iter := r.client.Scan(ctx, 0, r.Key(pattern)+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
				return errors.Trace(err)
			}
		}
		if err := iter.Err(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (r *Redis) itemKey(itemId int64) string {
	return r.Key(prefixItem + strconv.FormatInt(itemId, 10))
}

func (r *Redis) userKey(userId int64) string {
	return r.Key(prefixUser + strconv.FormatInt(userId, 10))
}

func (r *Redis) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	// previous categories have to be unindexed
	keys := lo.Map(items, func(item Item, _ int) string { return r.itemKey(item.ItemId) })
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return errors.Trace(err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, item := range items {
			if s, ok := values[i].(string); ok {
				var old Item
				if err := json.Unmarshal([]byte(s), &old); err != nil {
					return errors.Trace(err)
				}
				pipe.ZRem(ctx, r.Key(prefixCategory+old.Category), item.ItemId)
			}
			data, err := json.Marshal(item)
			if err != nil {
				return errors.Trace(err)
			}
			member := redis.Z{Score: float64(item.ItemId), Member: item.ItemId}
			pipe.Set(ctx, keys[i], data, 0)
			pipe.ZAdd(ctx, r.Key(keyItems), member)
			pipe.ZAdd(ctx, r.Key(prefixCategory+item.Category), member)
		}
		return nil
	})
	return errors.Trace(err)
}

func (r *Redis) GetItem(ctx context.Context, itemId int64) (Item, error) {
	data, err := r.client.Get(ctx, r.itemKey(itemId)).Result()
	if errors.Is(err, redis.Nil) {
		return Item{}, errors.Annotatef(ErrItemNotExist, "%d", itemId)
	} else if err != nil {
		return Item{}, errors.Trace(err)
	}
	var item Item
	err = json.Unmarshal([]byte(data), &item)
	return item, errors.Trace(err)
}

func (r *Redis) GetItems(ctx context.Context, category string) ([]Item, error) {
	index := r.Key(keyItems)
	if category != "" {
		index = r.Key(prefixCategory + category)
	}
	members, err := r.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	items := make([]Item, 0, len(members))
	if len(members) == 0 {
		return items, nil
	}
	keys := lo.Map(members, func(member string, _ int) string { return r.Key(prefixItem + member) })
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, value := range values {
		s, ok := value.(string)
		if !ok {
			continue
		}
		var item Item
		if err = json.Unmarshal([]byte(s), &item); err != nil {
			return nil, errors.Trace(err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *Redis) BatchInsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, user := range users {
			data, err := json.Marshal(user)
			if err != nil {
				return errors.Trace(err)
			}
			pipe.Set(ctx, r.userKey(user.UserId), data, 0)
		}
		return nil
	})
	return errors.Trace(err)
}

func (r *Redis) GetUser(ctx context.Context, userId int64) (User, error) {
	data, err := r.client.Get(ctx, r.userKey(userId)).Result()
	if errors.Is(err, redis.Nil) {
		return User{}, errors.Annotatef(ErrUserNotExist, "%d", userId)
	} else if err != nil {
		return User{}, errors.Trace(err)
	}
	var user User
	err = json.Unmarshal([]byte(data), &user)
	return user, errors.Trace(err)
}
