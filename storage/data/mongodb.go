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

	"github.com/gorse-io/mealrec/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB stores profiles as documents keyed by id.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

func (db *MongoDB) items() *mongo.Collection {
	return db.client.Database(db.dbName).Collection(db.ItemsTable())
}

func (db *MongoDB) users() *mongo.Collection {
	return db.client.Database(db.dbName).Collection(db.UsersTable())
}

// Init creates the category index.
func (db *MongoDB) Init() error {
	_, err := db.items().Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.M{"category": 1},
	})
	return errors.Trace(err)
}

func (db *MongoDB) Ping() error {
	return errors.Trace(db.client.Ping(context.Background(), nil))
}

func (db *MongoDB) Close() error {
	return errors.Trace(db.client.Disconnect(context.Background()))
}

func (db *MongoDB) Purge() error {
	ctx := context.Background()
	for _, c := range []*mongo.Collection{db.items(), db.users()} {
		if _, err := c.DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (db *MongoDB) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	models := lo.Map(items, func(item Item, _ int) mongo.WriteModel {
		return mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": item.ItemId}).
			SetReplacement(item).
			SetUpsert(true)
	})
	_, err := db.items().BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (db *MongoDB) GetItem(ctx context.Context, itemId int64) (item Item, err error) {
	r := db.items().FindOne(ctx, bson.M{"_id": itemId})
	if errors.Is(r.Err(), mongo.ErrNoDocuments) {
		return Item{}, errors.Annotatef(ErrItemNotExist, "%d", itemId)
	}
	err = errors.Trace(r.Decode(&item))
	return
}

func (db *MongoDB) GetItems(ctx context.Context, category string) ([]Item, error) {
	filter := bson.M{}
	if category != "" {
		filter["category"] = category
	}
	cur, err := db.items().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	items := make([]Item, 0)
	if err = cur.All(ctx, &items); err != nil {
		return nil, errors.Trace(err)
	}
	return items, nil
}

func (db *MongoDB) BatchInsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	models := lo.Map(users, func(user User, _ int) mongo.WriteModel {
		return mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": user.UserId}).
			SetReplacement(user).
			SetUpsert(true)
	})
	_, err := db.users().BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (db *MongoDB) GetUser(ctx context.Context, userId int64) (user User, err error) {
	r := db.users().FindOne(ctx, bson.M{"_id": userId})
	if errors.Is(r.Err(), mongo.ErrNoDocuments) {
		return User{}, errors.Annotatef(ErrUserNotExist, "%d", userId)
	}
	err = errors.Trace(r.Decode(&user))
	return
}
