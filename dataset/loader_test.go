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
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/mealrec/storage/blob"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// flakyStore fails the first reads and optionally blocks until released.
type flakyStore struct {
	blob.Store
	failures atomic.Int32
	release  chan struct{}
}

func (s *flakyStore) Open(name string) (io.ReadCloser, error) {
	if s.release != nil {
		<-s.release
	}
	if s.failures.Dec() >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return s.Store.Open(name)
}

func newTestStore(t *testing.T, name, content string) blob.Store {
	dir := t.TempDir()
	if content != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return blob.NewPOSIX(dir)
}

func noBackOff() backoff.BackOff {
	return &backoff.ZeroBackOff{}
}

func TestLoaderLoadOnce(t *testing.T) {
	loader := NewLoader(newTestStore(t, "interactions.json", jsonArtifact), "interactions.json")
	assert.Equal(t, Status{}, loader.Status())
	_, ok := loader.Loaded()
	assert.False(t, ok)

	var wg sync.WaitGroup
	artifacts := make([]*Artifact, 16)
	for i := range artifacts {
		wg.Go(func() {
			artifact, err := loader.Load(context.Background())
			assert.NoError(t, err)
			artifacts[i] = artifact
		})
	}
	wg.Wait()
	for _, artifact := range artifacts {
		assert.Same(t, artifacts[0], artifact)
	}
	assert.Equal(t, int64(1), loader.Attempts())

	loaded, ok := loader.Loaded()
	assert.True(t, ok)
	assert.Same(t, artifacts[0], loaded)
	status := loader.Status()
	assert.True(t, status.Loaded)
	assert.Empty(t, status.Error)
	assert.Equal(t, Stats{Users: 2, Items: 2, Interactions: 3, Duplicates: 1}, status.Stats)
	assert.False(t, status.LoadedAt.IsZero())
}

func TestLoaderMissing(t *testing.T) {
	loader := NewLoader(newTestStore(t, "interactions.json", ""), "interactions.json", WithBackOff(noBackOff))
	_, err := loader.Load(context.Background())
	assert.True(t, IsArtifactMissing(err))
	// the failure is memoized
	_, err = loader.Load(context.Background())
	assert.True(t, IsArtifactMissing(err))
	assert.Equal(t, int64(1), loader.Attempts())
	status := loader.Status()
	assert.False(t, status.Loaded)
	assert.NotEmpty(t, status.Error)
}

func TestLoaderCorrupt(t *testing.T) {
	loader := NewLoader(newTestStore(t, "interactions.csv", "user_id,item_id,rating\n1,2,9\n"), "interactions.csv",
		WithBackOff(noBackOff))
	_, err := loader.Load(context.Background())
	assert.True(t, IsArtifactCorrupt(err))
	assert.Equal(t, int64(1), loader.Attempts())
}

func TestLoaderRetry(t *testing.T) {
	store := &flakyStore{Store: newTestStore(t, "interactions.json", jsonArtifact)}
	store.failures.Store(2)
	loader := NewLoader(store, "interactions.json", WithRetryTimes(3), WithBackOff(noBackOff))
	artifact, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, artifact.Matrix.CountUsers())
	assert.Equal(t, int64(3), loader.Attempts())

	store = &flakyStore{Store: newTestStore(t, "interactions.json", jsonArtifact)}
	store.failures.Store(5)
	loader = NewLoader(store, "interactions.json", WithRetryTimes(2), WithBackOff(noBackOff))
	_, err = loader.Load(context.Background())
	assert.Error(t, err)
	assert.False(t, IsArtifactMissing(err))
	assert.False(t, IsArtifactCorrupt(err))
	assert.Equal(t, int64(2), loader.Attempts())
}

func TestLoaderContextCancel(t *testing.T) {
	store := &flakyStore{
		Store:   newTestStore(t, "interactions.json", jsonArtifact),
		release: make(chan struct{}),
	}
	loader := NewLoader(store, "interactions.json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loader.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(store.release)
	artifact, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, artifact)
	assert.Equal(t, int64(1), loader.Attempts())
}
