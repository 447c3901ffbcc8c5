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

package logics

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorse-io/mealrec/common/log"
	"github.com/gorse-io/mealrec/common/parallel"
	"github.com/gorse-io/mealrec/config"
	"github.com/gorse-io/mealrec/dataset"
	"github.com/gorse-io/mealrec/storage/cache"
	"github.com/gorse-io/mealrec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	ReasonSimilarUsers = "similar_users"
	ReasonPopular      = "popular"
	ReasonContentFit   = "content_fit"

	VariantHybrid  = "hybrid"
	VariantContent = "content"
)

var tracer = otel.Tracer("github.com/gorse-io/mealrec/logics")

// DependencyError reports that the persistence layer could not serve a request.
type DependencyError struct {
	Err error
}

func (e *DependencyError) Error() string {
	return "persistence unavailable: " + e.Err.Error()
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// ScoredItem is a ranked recommendation.
type ScoredItem struct {
	ItemId       int64   `json:"item_id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	HybridScore  float64 `json:"hybrid_score"`
	MLScore      float64 `json:"ml_score"`
	ContentScore float64 `json:"content_score"`
	Reason       string  `json:"reason_tag"`
}

// Result is a ranked list of recommendations for a user.
type Result struct {
	UserId   int64        `json:"user_id"`
	Category string       `json:"category"`
	Variant  string       `json:"variant"`
	Items    []ScoredItem `json:"items"`
	// NoCandidates is set when every item was excluded by hard constraints.
	NoCandidates bool `json:"no_candidates"`
	// Degraded is set when collaborative scores were requested but the model
	// artifact is unavailable.
	Degraded  bool      `json:"degraded"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Result) copy(n int, createdAt time.Time) *Result {
	c := *r
	c.Items = slices.Clone(r.Items[:min(max(n, 0), len(r.Items))])
	if c.Items == nil {
		c.Items = []ScoredItem{}
	}
	c.CreatedAt = createdAt
	return &c
}

// model is derived from a loaded artifact.
type model struct {
	artifact   *dataset.Artifact
	similarity *SimilarityEngine
	predictor  *Predictor
	popularity *PopularityRanker
}

// Engine composes collaborative, content and popularity signals into ranked
// recommendations and caches the results.
type Engine struct {
	cfg      config.RecommendConfig
	database data.Database
	loader   *dataset.Loader
	content  *ContentScorer
	results  *cache.Cache[*Result]
	popular  *cache.Cache[[]PopularItem]

	mu      sync.Mutex
	current atomic.Pointer[model]
}

func NewEngine(cfg config.RecommendConfig, database data.Database, loader *dataset.Loader) (*Engine, error) {
	content, err := NewContentScorer(cfg.Content)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Engine{
		cfg:      cfg,
		database: database,
		loader:   loader,
		content:  content,
		results:  cache.New[*Result]("recommend", cfg.Cache.Capacity),
		popular:  cache.New[[]PopularItem]("popular", cfg.Cache.Capacity),
	}, nil
}

// Warm starts loading the model artifact without waiting for it.
func (e *Engine) Warm(ctx context.Context) {
	go func() {
		_, _ = e.model(context.WithoutCancel(ctx))
	}()
}

// ModelStatus reports the state of the model artifact.
func (e *Engine) ModelStatus() dataset.Status {
	return e.loader.Status()
}

// Computations returns how many rankings have been computed.
func (e *Engine) Computations() int64 {
	return e.results.Computations()
}

// Similarity returns the similarity engine of the loaded model, or nil if the
// model is unavailable.
func (e *Engine) Similarity(ctx context.Context) (*SimilarityEngine, error) {
	m, err := e.model(ctx)
	if err != nil || m == nil {
		return nil, err
	}
	return m.similarity, nil
}

// model returns the model built from the artifact, or nil when the artifact
// is missing or corrupt. Only the caller's context ending is an error.
func (e *Engine) model(ctx context.Context) (*model, error) {
	if m := e.current.Load(); m != nil {
		return m, nil
	}
	artifact, err := e.loader.Load(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Trace(err)
		}
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m := e.current.Load(); m != nil {
		return m, nil
	}
	similarity := NewSimilarityEngine(artifact.Matrix, e.cfg.Similarity.TopK)
	m := &model{
		artifact:   artifact,
		similarity: similarity,
		predictor:  NewPredictor(artifact.Matrix, similarity, e.cfg.Similarity.TopK),
		popularity: NewPopularityRanker(artifact.Popularity),
	}
	e.current.Store(m)
	return m, nil
}

// Recommend returns at most n items for a user, optionally restricted to a
// category. With useML unset, or without a model artifact, collaborative
// scores are replaced by normalized popularity.
func (e *Engine) Recommend(ctx context.Context, userId int64, category string, n int, useML bool) (*Result, error) {
	variant := VariantContent
	if useML {
		variant = VariantHybrid
	}
	ctx, span := tracer.Start(ctx, "Engine.Recommend", trace.WithAttributes(
		attribute.Int64("user_id", userId),
		attribute.String("category", category),
		attribute.String("variant", variant)))
	defer span.End()
	key := strconv.FormatInt(userId, 10) + "/" + category + "/" + variant
	result, createdAt, err := e.results.GetOrCompute(ctx, key, e.cfg.Cache.PersonalizedTTL,
		func(ctx context.Context) (*Result, error) {
			return e.rank(ctx, userId, category, useML)
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result.copy(n, createdAt), nil
}

func (e *Engine) rank(ctx context.Context, userId int64, category string, useML bool) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.rank")
	defer span.End()
	start := time.Now()

	var (
		user  data.User
		items []data.Item
		m     *model
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = e.database.GetUser(gctx, userId)
		if errors.Is(err, errors.NotFound) {
			log.Logger().Debug("unknown user, scoring without profile", zap.Int64("user_id", userId))
			user = data.User{UserId: userId}
			return nil
		} else if err != nil {
			return &DependencyError{Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		items, err = e.database.GetItems(gctx, category)
		if err != nil {
			return &DependencyError{Err: err}
		}
		return nil
	})
	if useML {
		g.Go(func() error {
			var err error
			m, err = e.model(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		UserId:   userId,
		Category: category,
		Variant:  VariantContent,
		Items:    []ScoredItem{},
		Degraded: useML && m == nil,
	}
	if useML {
		result.Variant = VariantHybrid
	}
	candidates := lo.Filter(items, func(item data.Item, _ int) bool {
		return e.content.Admit(&user, &item)
	})
	if len(candidates) == 0 {
		result.NoCandidates = true
		NoCandidatesTotal.Inc()
		log.Logger().Info("no candidates", zap.Int64("user_id", userId), zap.String("category", category),
			zap.Int("items", len(items)))
		return result, nil
	}

	ranker := NewPopularityRanker(nil)
	if m != nil {
		ranker = m.popularity
	}
	popularity := ranker.Normalize(candidates)
	scored := make([]ScoredItem, len(candidates))
	if err := parallel.ForEach(ctx, candidates, e.cfg.NumJobs, func(i int, item data.Item) {
		s := ScoredItem{
			ItemId:       item.ItemId,
			Name:         item.Name,
			Category:     item.Category,
			ContentScore: e.content.Score(&user, &item),
		}
		if prediction, ok := e.predict(m, userId, item.ItemId); ok {
			s.MLScore = clamp((clamp(prediction, dataset.MinRating, dataset.MaxRating)-1)/4, 0, 1)
			s.Reason = ReasonSimilarUsers
		} else {
			s.MLScore = popularity[i]
			if s.MLScore > 0 {
				s.Reason = ReasonPopular
			} else {
				s.Reason = ReasonContentFit
			}
		}
		s.HybridScore = clamp(e.cfg.Hybrid.MLWeight*s.MLScore+e.cfg.Hybrid.ContentWeight*s.ContentScore, 0, 1)
		scored[i] = s
	}); err != nil {
		return nil, errors.Trace(err)
	}
	slices.SortFunc(scored, compareScoredItems)
	result.Items = scored[:min(len(scored), e.cfg.CacheSize)]

	RankSeconds.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	return result, nil
}

func (e *Engine) predict(m *model, userId, itemId int64) (float64, bool) {
	if m == nil {
		return 0, false
	}
	return m.predictor.Predict(userId, itemId)
}

// compareScoredItems orders by hybrid score descending, then content score
// descending, then item id ascending.
func compareScoredItems(a, b ScoredItem) int {
	if a.HybridScore != b.HybridScore {
		if a.HybridScore > b.HybridScore {
			return -1
		}
		return 1
	}
	if a.ContentScore != b.ContentScore {
		if a.ContentScore > b.ContentScore {
			return -1
		}
		return 1
	}
	switch {
	case a.ItemId < b.ItemId:
		return -1
	case a.ItemId > b.ItemId:
		return 1
	}
	return 0
}

// Popular returns the n most popular items.
func (e *Engine) Popular(ctx context.Context, n int) ([]PopularItem, error) {
	ctx, span := tracer.Start(ctx, "Engine.Popular", trace.WithAttributes(attribute.Int("n", n)))
	defer span.End()
	items, _, err := e.popular.GetOrCompute(ctx, "popular", e.cfg.Cache.PopularTTL,
		func(ctx context.Context) ([]PopularItem, error) {
			items, err := e.database.GetItems(ctx, "")
			if err != nil {
				return nil, &DependencyError{Err: err}
			}
			m, err := e.model(ctx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			ranker := NewPopularityRanker(nil)
			if m != nil {
				ranker = m.popularity
			}
			return ranker.Rank(items, e.cfg.CacheSize), nil
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	// callers own the returned items, cached flags stay untouched
	return lo.Map(items[:min(max(n, 0), len(items))], func(item PopularItem, _ int) PopularItem {
		item.DietaryFlags = slices.Clone(item.DietaryFlags)
		return item
	}), nil
}
