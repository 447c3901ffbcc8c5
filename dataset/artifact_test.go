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
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonArtifact = `{
  "created_at": "2024-03-01 08:00:00",
  "interactions": [
    {"user_id": 1, "item_id": 100, "rating": 4, "timestamp": 1709280000},
    {"user_id": 1, "item_id": 100, "rating": 2, "timestamp": "2024-03-01T07:00:00Z"},
    {"user_id": 2, "item_id": 100, "rating": 5.0},
    {"user_id": 2, "item_id": 101, "rating": 3, "timestamp": null}
  ],
  "popularity": {"100": 5.5, "101": 2.1}
}`

func TestDecodeJSON(t *testing.T) {
	artifact, err := Decode(strings.NewReader(jsonArtifact), "interactions.json")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), artifact.CreatedAt)
	// 1709280000 is 2024-03-01T08:00:00Z, later than the duplicate
	assert.Equal(t, map[int64]map[int64]float64{
		1: {100: 4},
		2: {100: 5, 101: 3},
	}, artifact.Matrix.ToMap())
	assert.Equal(t, map[int64]float64{100: 5.5, 101: 2.1}, artifact.Popularity)
	assert.Equal(t, 1, artifact.Matrix.Stats().Duplicates)
}

func TestDecodeCSV(t *testing.T) {
	text := "user_id,item_id,rating,timestamp\n" +
		"1,100,4,2024-03-01 08:00:00\n" +
		"1,100,2,2024-02-01 08:00:00\n" +
		"2,101,\"3.5\",\n"
	artifact, err := Decode(strings.NewReader(text), "dump/interactions.CSV")
	require.NoError(t, err)
	assert.Equal(t, map[int64]map[int64]float64{
		1: {100: 4},
		2: {101: 3.5},
	}, artifact.Matrix.ToMap())
	assert.Nil(t, artifact.Popularity)

	// timestamp column is optional
	artifact, err = Decode(strings.NewReader("item_id,user_id,rating\n7,3,1\n"), "a.csv")
	require.NoError(t, err)
	assert.Equal(t, map[int64]map[int64]float64{3: {7: 1}}, artifact.Matrix.ToMap())
}

func TestDecodeCorrupt(t *testing.T) {
	testCases := []struct {
		name string
		text string
	}{
		{"a.json", `{"interactions": [`},
		{"a.json", `{"created_at": "2024-01-01"}`},
		{"a.json", `{"interactions": [{"user_id": 1, "item_id": 1, "rating": 6}]}`},
		{"a.json", `{"interactions": [{"user_id": 1, "item_id": 1, "rating": 3, "timestamp": "yesterday-ish"}]}`},
		{"a.json", `{"interactions": [], "popularity": {"abc": 1}}`},
		{"a.json", `{"interactions": [], "popularity": {"1": -1}}`},
		{"a.csv", ""},
		{"a.csv", "user_id,rating\n1,3\n"},
		{"a.csv", "user_id,item_id,rating\nx,1,3\n"},
		{"a.csv", "user_id,item_id,rating\n1,1,0\n"},
		{"a.csv", "user_id,item_id,rating\n1,1\n"},
		{"a.parquet", "PAR1"},
	}
	for _, tc := range testCases {
		_, err := Decode(strings.NewReader(tc.text), tc.name)
		assert.True(t, IsArtifactCorrupt(err), "%s: %s", tc.name, tc.text)
		assert.False(t, IsArtifactMissing(err))
	}
}

func TestEncode(t *testing.T) {
	artifact, err := Decode(strings.NewReader(jsonArtifact), "interactions.json")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, artifact))
	decoded, err := Decode(&buf, "copy.json")
	require.NoError(t, err)
	assert.Equal(t, artifact.Matrix.ToMap(), decoded.Matrix.ToMap())
	assert.Equal(t, artifact.Popularity, decoded.Popularity)
	assert.True(t, artifact.CreatedAt.Equal(decoded.CreatedAt))
}
