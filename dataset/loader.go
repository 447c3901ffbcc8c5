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
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/mealrec/common/log"
	"github.com/gorse-io/mealrec/storage/blob"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	LoadSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mealrec",
		Subsystem: "artifact",
		Name:      "load_seconds",
	})
	LoadAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mealrec",
		Subsystem: "artifact",
		Name:      "load_attempts_total",
	})
	MatrixInteractions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mealrec",
		Subsystem: "artifact",
		Name:      "interactions",
	})
)

// Status describes the outcome of the artifact load.
type Status struct {
	Loaded    bool      `json:"loaded"`
	Error     string    `json:"error,omitempty"`
	Stats     Stats     `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
	LoadedAt  time.Time `json:"loaded_at"`
}

type loadState struct {
	artifact *Artifact
	err      error
	loadedAt time.Time
}

type LoaderOption func(*Loader)

// WithRetryTimes sets the number of attempts for transient store errors.
func WithRetryTimes(n int) LoaderOption {
	return func(l *Loader) {
		l.retryTimes = uint(max(n, 1))
	}
}

// WithBackOff replaces the exponential backoff between attempts.
func WithBackOff(newBackOff func() backoff.BackOff) LoaderOption {
	return func(l *Loader) {
		l.newBackOff = newBackOff
	}
}

// Loader materializes the model artifact once per process. The first call to
// Load starts the load and every later call shares its outcome, including a
// failure.
type Loader struct {
	store      blob.Store
	name       string
	retryTimes uint
	newBackOff func() backoff.BackOff

	group    singleflight.Group
	state    atomic.Pointer[loadState]
	attempts atomic.Int64
}

func NewLoader(store blob.Store, name string, opts ...LoaderOption) *Loader {
	l := &Loader{
		store:      store,
		name:       name,
		retryTimes: 3,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the artifact. A caller whose context ends first gets the
// context error while the load keeps running for later callers.
func (l *Loader) Load(ctx context.Context) (*Artifact, error) {
	if state := l.state.Load(); state != nil {
		return state.artifact, state.err
	}
	ch := l.group.DoChan("load", func() (any, error) {
		if state := l.state.Load(); state != nil {
			return state, nil
		}
		state := l.load(context.WithoutCancel(ctx))
		l.state.Store(state)
		return state, nil
	})
	select {
	case result := <-ch:
		state := result.Val.(*loadState)
		return state.artifact, state.err
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}

// Loaded returns the artifact if a load has succeeded, without triggering one.
func (l *Loader) Loaded() (*Artifact, bool) {
	state := l.state.Load()
	if state == nil || state.err != nil {
		return nil, false
	}
	return state.artifact, true
}

// Attempts returns how many times the store has been read.
func (l *Loader) Attempts() int64 {
	return l.attempts.Load()
}

func (l *Loader) Status() Status {
	state := l.state.Load()
	if state == nil {
		return Status{}
	}
	if state.err != nil {
		return Status{Error: state.err.Error(), LoadedAt: state.loadedAt}
	}
	return Status{
		Loaded:    true,
		Stats:     state.artifact.Matrix.Stats(),
		CreatedAt: state.artifact.CreatedAt,
		LoadedAt:  state.loadedAt,
	}
}

func (l *Loader) load(ctx context.Context) *loadState {
	start := time.Now()
	artifact, err := backoff.Retry(ctx, func() (*Artifact, error) {
		artifact, err := l.fetch()
		if IsArtifactMissing(err) || IsArtifactCorrupt(err) {
			return nil, backoff.Permanent(err)
		}
		return artifact, err
	},
		backoff.WithBackOff(l.newBackOff()),
		backoff.WithMaxTries(l.retryTimes),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Logger().Warn("failed to read model artifact, retrying",
				zap.String("name", l.name), zap.Duration("next", next), zap.Error(err))
		}))
	if err != nil {
		log.Logger().Warn("model artifact unavailable, serving content-based recommendations",
			zap.String("name", l.name), zap.Error(err))
		return &loadState{err: err, loadedAt: time.Now()}
	}
	stats := artifact.Matrix.Stats()
	LoadSeconds.Set(time.Since(start).Seconds())
	MatrixInteractions.Set(float64(stats.Interactions))
	log.Logger().Info("model artifact loaded",
		zap.String("name", l.name),
		zap.Int("users", stats.Users),
		zap.Int("items", stats.Items),
		zap.Int("interactions", stats.Interactions),
		zap.Int("duplicates", stats.Duplicates),
		zap.Duration("elapsed", time.Since(start)))
	return &loadState{artifact: artifact, loadedAt: time.Now()}
}

// fetch reads the artifact once. Failures of the underlying reader are
// reported as transient instead of corrupt.
func (l *Loader) fetch() (*Artifact, error) {
	l.attempts.Inc()
	LoadAttemptsTotal.Inc()
	r, err := l.store.Open(l.name)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return nil, errors.NewNotFound(err, "model artifact "+l.name)
		}
		return nil, errors.Trace(err)
	}
	defer r.Close()
	reader := &trackedReader{r: r}
	artifact, err := Decode(reader, l.name)
	if reader.err != nil {
		return nil, errors.Annotatef(reader.err, "read model artifact %s", l.name)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return artifact, nil
}

type trackedReader struct {
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
