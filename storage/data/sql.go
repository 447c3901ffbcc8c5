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
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/mealrec/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

// SQLDatabase stores profiles in a relational database through gorm.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

// Init creates tables and indices.
func (d *SQLDatabase) Init() error {
	db := d.gormDB
	if d.driver == MySQL {
		db = db.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	if err := db.Table(d.ItemsTable()).AutoMigrate(&Item{}); err != nil {
		return errors.Trace(err)
	}
	if err := db.Table(d.UsersTable()).AutoMigrate(&User{}); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *SQLDatabase) Ping() error {
	return errors.Trace(d.client.Ping())
}

func (d *SQLDatabase) Close() error {
	return errors.Trace(d.client.Close())
}

// Purge deletes all profiles.
func (d *SQLDatabase) Purge() error {
	for _, table := range []string{d.ItemsTable(), d.UsersTable()} {
		if err := d.gormDB.Exec("DELETE FROM " + table).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// BatchInsertItems inserts items, replacing existing items with the same id.
func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	err := d.gormDB.WithContext(ctx).Table(d.ItemsTable()).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&items).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetItem(ctx context.Context, itemId int64) (Item, error) {
	var item Item
	err := d.gormDB.WithContext(ctx).Table(d.ItemsTable()).Where("item_id = ?", itemId).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Item{}, errors.Annotatef(ErrItemNotExist, "%d", itemId)
	} else if err != nil {
		return Item{}, errors.Trace(err)
	}
	return item, nil
}

func (d *SQLDatabase) GetItems(ctx context.Context, category string) ([]Item, error) {
	tx := d.gormDB.WithContext(ctx).Table(d.ItemsTable())
	if category != "" {
		tx = tx.Where("category = ?", category)
	}
	items := make([]Item, 0)
	if err := tx.Order("item_id").Find(&items).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return items, nil
}

// BatchInsertUsers inserts users, replacing existing users with the same id.
func (d *SQLDatabase) BatchInsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	err := d.gormDB.WithContext(ctx).Table(d.UsersTable()).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&users).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetUser(ctx context.Context, userId int64) (User, error) {
	var user User
	err := d.gormDB.WithContext(ctx).Table(d.UsersTable()).Where("user_id = ?", userId).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, errors.Annotatef(ErrUserNotExist, "%d", userId)
	} else if err != nil {
		return User{}, errors.Trace(err)
	}
	return user, nil
}
