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
	"strings"

	"github.com/XSAM/otelsql"
	"github.com/gorse-io/mealrec/common/log"
	"github.com/gorse-io/mealrec/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	ErrUserNotExist = errors.NotFoundf("user")
	ErrItemNotExist = errors.NotFoundf("item")
	ErrNoDatabase   = errors.NotAssignedf("database")
)

const (
	GoalWeightLoss  = "weight_loss"
	GoalWeightGain  = "weight_gain"
	GoalMaintenance = "maintenance"
	GoalMuscleGain  = "muscle_gain"
)

// Nutrition is the nutrient content of one serving.
type Nutrition struct {
	Calories float64 `gorm:"column:calories" json:"calories" bson:"calories"`
	ProteinG float64 `gorm:"column:protein_g" json:"protein_g" bson:"protein_g"`
	CarbsG   float64 `gorm:"column:carbs_g" json:"carbs_g" bson:"carbs_g"`
	FatG     float64 `gorm:"column:fat_g" json:"fat_g" bson:"fat_g"`
	FiberG   float64 `gorm:"column:fiber_g" json:"fiber_g" bson:"fiber_g"`
	SugarG   float64 `gorm:"column:sugar_g" json:"sugar_g" bson:"sugar_g"`
	SodiumMg float64 `gorm:"column:sodium_mg" json:"sodium_mg" bson:"sodium_mg"`
}

// Item is the profile of a meal.
type Item struct {
	ItemId       int64     `gorm:"column:item_id;primaryKey;autoIncrement:false" json:"item_id" bson:"_id"`
	Name         string    `gorm:"column:name" json:"name" bson:"name"`
	Description  string    `gorm:"column:description" json:"description" bson:"description"`
	Category     string    `gorm:"column:category;index" json:"category" bson:"category"`
	Nutrition    Nutrition `gorm:"embedded" json:"nutrition" bson:"nutrition"`
	DietaryFlags []string  `gorm:"column:dietary_flags;serializer:json" json:"dietary_flags" bson:"dietary_flags"`
	AvgRating    float64   `gorm:"column:avg_rating" json:"avg_rating" bson:"avg_rating"`
	RatingCount  int       `gorm:"column:rating_count" json:"rating_count" bson:"rating_count"`
}

// Satisfies reports whether the item is flagged as compatible with a restriction.
func (item *Item) Satisfies(restriction string) bool {
	return lo.Contains(item.DietaryFlags, restriction)
}

// MacroTargets are the daily nutrition targets of a user. Zero means unset.
type MacroTargets struct {
	Calories float64 `gorm:"column:calories" json:"calories" bson:"calories"`
	ProteinG float64 `gorm:"column:protein_g" json:"protein_g" bson:"protein_g"`
	CarbsG   float64 `gorm:"column:carbs_g" json:"carbs_g" bson:"carbs_g"`
	FatG     float64 `gorm:"column:fat_g" json:"fat_g" bson:"fat_g"`
}

// User is the profile of a user.
type User struct {
	UserId       int64        `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id" bson:"_id"`
	Restrictions []string     `gorm:"column:restrictions;serializer:json" json:"restrictions" bson:"restrictions"`
	Goal         string       `gorm:"column:goal" json:"goal" bson:"goal"`
	Targets      MacroTargets `gorm:"embedded;embeddedPrefix:target_" json:"targets" bson:"targets"`
	RecentItems  []int64      `gorm:"column:recent_items;serializer:json" json:"recent_items" bson:"recent_items"`
	// PreferredCuisine and FavoriteIngredients are matched against item names
	// and descriptions, case-insensitively.
	PreferredCuisine    string   `gorm:"column:preferred_cuisine" json:"preferred_cuisine" bson:"preferred_cuisine"`
	FavoriteIngredients []string `gorm:"column:favorite_ingredients;serializer:json" json:"favorite_ingredients" bson:"favorite_ingredients"`
	// CategoryHistory holds the categories of meals the user has logged.
	CategoryHistory []string `gorm:"column:category_history;serializer:json" json:"category_history" bson:"category_history"`
	// Today is the intake logged so far today.
	Today MacroTargets `gorm:"embedded;embeddedPrefix:today_" json:"today" bson:"today"`
}

type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	BatchInsertItems(ctx context.Context, items []Item) error
	GetItem(ctx context.Context, itemId int64) (Item, error)
	// GetItems returns items of a category ordered by id. An empty category matches all items.
	GetItems(ctx context.Context, category string) ([]Item, error)
	BatchInsertUsers(ctx context.Context, users []User) error
	GetUser(ctx context.Context, userId int64) (User, error)
}

// Open connects to the database at path. The URL scheme selects the driver.
func Open(path, tablePrefix string, opts ...storage.Option) (Database, error) {
	database, err := open(path, tablePrefix, storage.NewOptions(opts...))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return measured{Database: database}, nil
}

func open(path, tablePrefix string, opt storage.Options) (Database, error) {
	var err error
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"sql_mode":              "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			"transaction_isolation": "'" + opt.IsolationLevel + "'",
			"parseTime":             "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		database := new(SQLDatabase)
		database.driver = MySQL
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("mysql", name,
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		storage.ApplySQLPool(database.client, opt)
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.driver = Postgres
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("postgres", path,
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		storage.ApplySQLPool(database.client, opt)
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{"_pragma", "busy_timeout(10000)"},
			{"_pragma", "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.driver = SQLite
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("sqlite", name,
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		storage.ApplySQLPool(database.client, opt)
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.MongoPrefix) || strings.HasPrefix(path, storage.MongoSrvPrefix) {
		database := new(MongoDB)
		opts := options.Client()
		opts.Monitor = otelmongo.NewMonitor()
		opts.ApplyURI(path)
		if database.client, err = mongo.Connect(context.Background(), opts); err != nil {
			return nil, errors.Trace(err)
		}
		// parse DSN and extract database name
		if cs, err := connstring.ParseAndValidate(path); err != nil {
			return nil, errors.Trace(err)
		} else {
			database.dbName = cs.Database
			database.TablePrefix = storage.TablePrefix(tablePrefix)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.RedisPrefix) || strings.HasPrefix(path, storage.RedissPrefix) {
		redisOpts, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database := new(Redis)
		database.client = redis.NewClient(redisOpts)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if err = redisotel.InstrumentTracing(database.client); err != nil {
			log.Logger().Error("failed to add tracing for redis", zap.Error(err))
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.NotSupportedf("database %s", log.RedactDBURL(path))
}
