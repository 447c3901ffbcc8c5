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

package storage

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestAppendURLParams(t *testing.T) {
	// test windows path
	url, err := AppendURLParams(`c:\\sqlite.db`, []lo.Tuple2[string, string]{{"a", "b"}})
	assert.NoError(t, err)
	assert.Equal(t, `c:\\sqlite.db?a=b`, url)
	// test no scheme
	url, err = AppendURLParams(`sqlite.db`, []lo.Tuple2[string, string]{{"a", "b"}})
	assert.NoError(t, err)
	assert.Equal(t, `sqlite.db?a=b`, url)
}

func TestAppendMySQLParams(t *testing.T) {
	dsn, err := AppendMySQLParams("mealrec:pass@tcp(localhost:3306)/mealrec?foo=bar",
		map[string]string{"foo": "baz", "sql_mode": "'STRICT_TRANS_TABLES'"})
	assert.NoError(t, err)
	assert.Contains(t, dsn, "foo=bar")
	assert.Contains(t, dsn, "sql_mode=")
	assert.NotContains(t, dsn, "foo=baz")
}

func TestTablePrefix(t *testing.T) {
	prefix := TablePrefix("meal_")
	assert.Equal(t, "meal_users", prefix.UsersTable())
	assert.Equal(t, "meal_items", prefix.ItemsTable())
	assert.Equal(t, "meal_item/1", prefix.Key("item/1"))
}

func TestNewOptions(t *testing.T) {
	opt := NewOptions(WithMaxOpenConns(8), WithIsolationLevel("READ-UNCOMMITTED"))
	assert.Equal(t, 8, opt.MaxOpenConns)
	assert.Equal(t, "READ-UNCOMMITTED", opt.IsolationLevel)
	assert.Zero(t, opt.MaxIdleConns)
}
