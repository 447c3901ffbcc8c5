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

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/mealrec/dataset"
	"github.com/gorse-io/mealrec/logics"
	"github.com/gorse-io/mealrec/storage/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csvArtifact = `user_id,item_id,rating,timestamp
1,100,5,2024-03-01T08:00:00Z
1,101,3,2024-03-01T09:00:00Z
2,100,4,
2,100,2,2024-03-02T08:00:00Z
`

func TestPublishArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.csv")
	require.NoError(t, os.WriteFile(path, []byte(csvArtifact), 0o644))
	store := blob.NewPOSIX(t.TempDir())

	stats, err := publishArtifact(store, "model.csv", path, false)
	require.NoError(t, err)
	assert.Equal(t, dataset.Stats{Users: 2, Items: 2, Interactions: 3, Duplicates: 1}, stats)

	var list bytes.Buffer
	require.NoError(t, listArtifacts(&list, store))
	assert.Equal(t, "model.csv\n", list.String())

	var out bytes.Buffer
	loader := dataset.NewLoader(store, "model.csv")
	require.NoError(t, inspectArtifact(context.Background(), &out, loader, "model.csv"))
	assert.Contains(t, out.String(), "model.csv")
	assert.Contains(t, out.String(), "interactions")
	assert.Contains(t, out.String(), "duplicates")
}

func TestPublishCorruptArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.csv")
	require.NoError(t, os.WriteFile(path, []byte("user_id,item_id\n1,2\n"), 0o644))
	store := blob.NewPOSIX(t.TempDir())

	_, err := publishArtifact(store, "model.csv", path, false)
	assert.True(t, dataset.IsArtifactCorrupt(err))
	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = publishArtifact(store, "model.csv", filepath.Join(t.TempDir(), "missing.csv"), false)
	assert.Error(t, err)
}

func TestInspectMissingArtifact(t *testing.T) {
	store := blob.NewPOSIX(t.TempDir())
	loader := dataset.NewLoader(store, "model.json")
	var out bytes.Buffer
	err := inspectArtifact(context.Background(), &out, loader, "model.json")
	assert.True(t, dataset.IsArtifactMissing(err))
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printResult(&out, &logics.Result{
		UserId: 1,
		Items: []logics.ScoredItem{
			{ItemId: 3, Name: "Lentil Soup", HybridScore: 0.75, MLScore: 0.8, ContentScore: 0.675, Reason: logics.ReasonSimilarUsers},
		},
	}))
	assert.Contains(t, out.String(), "Lentil Soup")
	assert.Contains(t, out.String(), "0.7500")
	assert.Contains(t, out.String(), logics.ReasonSimilarUsers)

	out.Reset()
	require.NoError(t, printResult(&out, &logics.Result{UserId: 7, NoCandidates: true}))
	assert.Equal(t, "no meal satisfies the restrictions of user 7\n", out.String())

	out.Reset()
	require.NoError(t, printResult(&out, &logics.Result{UserId: 7, Degraded: true}))
	assert.Contains(t, out.String(), "model artifact unavailable")
}
