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
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gorse-io/mealrec/config"
	"github.com/gorse-io/mealrec/dataset"
	"github.com/gorse-io/mealrec/storage"
	"github.com/gorse-io/mealrec/storage/blob"
	"github.com/gorse-io/mealrec/storage/data"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const testArtifact = `{
  "created_at": "2024-05-01T00:00:00Z",
  "interactions": [
    {"user_id": 1, "item_id": 1, "rating": 5},
    {"user_id": 2, "item_id": 1, "rating": 5},
    {"user_id": 2, "item_id": 4, "rating": 2},
    {"user_id": 10, "item_id": 1, "rating": 5},
    {"user_id": 10, "item_id": 4, "rating": 2},
    {"user_id": 10, "item_id": 3, "rating": 4},
    {"user_id": 11, "item_id": 1, "rating": 4},
    {"user_id": 11, "item_id": 3, "rating": 5},
    {"user_id": 11, "item_id": 2, "rating": 5}
  ]
}`

var testItems = []data.Item{
	{
		ItemId:       1,
		Name:         "Tofu Bowl",
		Category:     "lunch",
		Nutrition:    data.Nutrition{Calories: 600, ProteinG: 37.5, CarbsG: 75, FatG: 16.67},
		DietaryFlags: []string{"vegan", "vegetarian"},
		AvgRating:    4.5,
		RatingCount:  20,
	},
	{
		ItemId:       2,
		Name:         "Steak Frites",
		Category:     "dinner",
		Nutrition:    data.Nutrition{Calories: 1100, ProteinG: 60, CarbsG: 70, FatG: 65},
		DietaryFlags: []string{"gluten_free"},
		AvgRating:    4.9,
		RatingCount:  500,
	},
	{
		ItemId:       3,
		Name:         "Lentil Soup",
		Category:     "lunch",
		Nutrition:    data.Nutrition{Calories: 350, ProteinG: 18, CarbsG: 50, FatG: 8},
		DietaryFlags: []string{"vegan", "vegetarian", "gluten_free"},
		AvgRating:    4.0,
		RatingCount:  5,
	},
	{
		ItemId:      4,
		Name:        "Chicken Wrap",
		Category:    "lunch",
		Nutrition:   data.Nutrition{Calories: 550, ProteinG: 35, CarbsG: 45, FatG: 20},
		AvgRating:   3.5,
		RatingCount: 50,
	},
	{
		ItemId:       5,
		Name:         "Fruit Salad",
		Category:     "breakfast",
		Nutrition:    data.Nutrition{Calories: 200, ProteinG: 3, CarbsG: 45, FatG: 1},
		DietaryFlags: []string{"vegan", "vegetarian", "gluten_free"},
		AvgRating:    4.2,
		RatingCount:  99,
	},
}

var testUsers = []data.User{
	{UserId: 1, Restrictions: []string{"vegan"}, Goal: data.GoalWeightLoss, Targets: data.MacroTargets{Calories: 1800}},
	{UserId: 2, Goal: data.GoalMaintenance, Targets: data.MacroTargets{Calories: 2200}, RecentItems: []int64{4}},
	{UserId: 3, Goal: data.GoalMuscleGain},
}

type EngineTestSuite struct {
	suite.Suite
	database    data.Database
	artifactDir string
	cfg         config.RecommendConfig
}

func (suite *EngineTestSuite) SetupSuite() {
	var err error
	suite.database, err = data.Open(storage.SQLitePrefix+filepath.Join(suite.T().TempDir(), "data.db"), "")
	suite.Require().NoError(err)
	suite.Require().NoError(suite.database.Init())
	suite.Require().NoError(suite.database.BatchInsertItems(context.Background(), testItems))
	suite.Require().NoError(suite.database.BatchInsertUsers(context.Background(), testUsers))
	suite.artifactDir = suite.T().TempDir()
	suite.Require().NoError(os.WriteFile(filepath.Join(suite.artifactDir, "interactions.json"), []byte(testArtifact), 0o644))
}

func (suite *EngineTestSuite) TearDownSuite() {
	suite.NoError(suite.database.Close())
}

func (suite *EngineTestSuite) SetupTest() {
	suite.cfg = config.GetDefaultConfig().Recommend
	suite.cfg.NumJobs = 4
}

func (suite *EngineTestSuite) newEngine(name string) *Engine {
	loader := dataset.NewLoader(blob.NewPOSIX(suite.artifactDir), name)
	engine, err := NewEngine(suite.cfg, suite.database, loader)
	suite.Require().NoError(err)
	return engine
}

func (suite *EngineTestSuite) assertRanked(result *Result) {
	for _, item := range result.Items {
		suite.GreaterOrEqual(item.HybridScore, 0.0)
		suite.LessOrEqual(item.HybridScore, 1.0)
		suite.GreaterOrEqual(item.MLScore, 0.0)
		suite.LessOrEqual(item.MLScore, 1.0)
		suite.GreaterOrEqual(item.ContentScore, 0.0)
		suite.LessOrEqual(item.ContentScore, 1.0)
		suite.InDelta(0.6*item.MLScore+0.4*item.ContentScore, item.HybridScore, 1e-12)
	}
	suite.True(slices.IsSortedFunc(result.Items, compareScoredItems))
}

func (suite *EngineTestSuite) TestHybrid() {
	ctx := context.Background()
	engine := suite.newEngine("interactions.json")
	result, err := engine.Recommend(ctx, 2, "", 10, true)
	suite.NoError(err)
	suite.Equal(VariantHybrid, result.Variant)
	suite.False(result.Degraded)
	suite.False(result.NoCandidates)
	suite.Len(result.Items, 5)
	suite.assertRanked(result)

	similarity, err := engine.Similarity(ctx)
	suite.NoError(err)
	neighbors := similarity.SimilarUsers(2, 50)
	scores := make(map[int64]float64)
	for _, n := range neighbors {
		scores[n.UserId] = n.Score
	}
	// lentil soup is rated by users 10 and 11
	prediction := (scores[10]*4 + scores[11]*5) / (scores[10] + scores[11])
	popularity := NewPopularityRanker(nil).Normalize(testItems)
	for _, item := range result.Items {
		switch item.ItemId {
		case 3:
			suite.Equal(ReasonSimilarUsers, item.Reason)
			suite.InDelta((prediction-1)/4, item.MLScore, 1e-12)
		case 5:
			// nobody similar rated the fruit salad
			suite.Equal(ReasonPopular, item.Reason)
			suite.InDelta(popularity[4], item.MLScore, 1e-12)
		default:
			suite.Equal(ReasonSimilarUsers, item.Reason)
		}
	}

	status := engine.ModelStatus()
	suite.True(status.Loaded)
	suite.Equal(dataset.Stats{Users: 4, Items: 4, Interactions: 9}, status.Stats)
}

func (suite *EngineTestSuite) TestHardConstraint() {
	engine := suite.newEngine("interactions.json")
	result, err := engine.Recommend(context.Background(), 1, "", 10, true)
	suite.NoError(err)
	suite.assertRanked(result)
	ids := make([]int64, 0, len(result.Items))
	for _, item := range result.Items {
		ids = append(ids, item.ItemId)
	}
	// steak frites is the most popular item but not vegan
	suite.ElementsMatch([]int64{1, 3, 5}, ids)

	result, err = engine.Recommend(context.Background(), 1, "dinner", 10, true)
	suite.NoError(err)
	suite.True(result.NoCandidates)
	suite.Empty(result.Items)
}

func (suite *EngineTestSuite) TestZeroInteractions() {
	engine := suite.newEngine("interactions.json")
	// user 3 has a profile but no interactions, user 100 has neither
	for _, userId := range []int64{3, 100} {
		result, err := engine.Recommend(context.Background(), userId, "lunch", 10, true)
		suite.NoError(err)
		suite.assertRanked(result)
		candidates := []data.Item{testItems[0], testItems[2], testItems[3]}
		popularity := NewPopularityRanker(nil).Normalize(candidates)
		expected := make(map[int64]float64)
		for i, item := range candidates {
			expected[item.ItemId] = popularity[i]
		}
		suite.Len(result.Items, 3)
		for _, item := range result.Items {
			suite.NotEqual(ReasonSimilarUsers, item.Reason)
			suite.InDelta(expected[item.ItemId], item.MLScore, 1e-12)
		}
	}
}

func (suite *EngineTestSuite) TestContentVariant() {
	engine := suite.newEngine("interactions.json")
	result, err := engine.Recommend(context.Background(), 2, "", 10, false)
	suite.NoError(err)
	suite.Equal(VariantContent, result.Variant)
	suite.False(result.Degraded)
	suite.assertRanked(result)
	for _, item := range result.Items {
		suite.Equal(ReasonPopular, item.Reason)
	}
	suite.Equal(dataset.Status{}, engine.ModelStatus())
}

func (suite *EngineTestSuite) TestMissingArtifact() {
	for _, name := range []string{"missing.json", "corrupt.csv"} {
		suite.Require().NoError(os.WriteFile(filepath.Join(suite.artifactDir, "corrupt.csv"), []byte("user_id\n1\n"), 0o644))
		engine := suite.newEngine(name)
		result, err := engine.Recommend(context.Background(), 2, "", 10, true)
		suite.NoError(err)
		suite.True(result.Degraded)
		suite.Len(result.Items, 5)
		suite.assertRanked(result)
		for _, item := range result.Items {
			suite.Contains([]string{ReasonPopular, ReasonContentFit}, item.Reason)
		}
		status := engine.ModelStatus()
		suite.False(status.Loaded)
		suite.NotEmpty(status.Error)
	}
}

func (suite *EngineTestSuite) TestDeterminism() {
	first, err := suite.newEngine("interactions.json").Recommend(context.Background(), 2, "", 10, true)
	suite.NoError(err)
	second, err := suite.newEngine("interactions.json").Recommend(context.Background(), 2, "", 10, true)
	suite.NoError(err)
	a, err := json.Marshal(first.Items)
	suite.NoError(err)
	b, err := json.Marshal(second.Items)
	suite.NoError(err)
	suite.Equal(string(a), string(b))
}

func (suite *EngineTestSuite) TestCache() {
	ctx := context.Background()
	engine := suite.newEngine("interactions.json")
	first, err := engine.Recommend(ctx, 2, "lunch", 10, true)
	suite.NoError(err)
	second, err := engine.Recommend(ctx, 2, "lunch", 2, true)
	suite.NoError(err)
	suite.Equal(first.CreatedAt, second.CreatedAt)
	suite.Len(second.Items, 2)
	suite.Equal(first.Items[:2], second.Items)
	suite.Equal(int64(1), engine.Computations())

	// results handed out are copies
	second.Items[0].HybridScore = -1
	third, err := engine.Recommend(ctx, 2, "lunch", 10, true)
	suite.NoError(err)
	suite.Equal(first.Items, third.Items)

	// variants and categories are cached separately
	_, err = engine.Recommend(ctx, 2, "lunch", 10, false)
	suite.NoError(err)
	_, err = engine.Recommend(ctx, 2, "", 10, true)
	suite.NoError(err)
	suite.Equal(int64(3), engine.Computations())
}

func (suite *EngineTestSuite) TestCacheExpiry() {
	suite.cfg.Cache.PersonalizedTTL = 50 * time.Millisecond
	engine := suite.newEngine("interactions.json")
	first, err := engine.Recommend(context.Background(), 2, "", 10, true)
	suite.NoError(err)
	time.Sleep(100 * time.Millisecond)
	second, err := engine.Recommend(context.Background(), 2, "", 10, true)
	suite.NoError(err)
	suite.True(second.CreatedAt.After(first.CreatedAt))
	suite.Equal(int64(2), engine.Computations())
}

func (suite *EngineTestSuite) TestCacheSize() {
	suite.cfg.CacheSize = 2
	engine := suite.newEngine("interactions.json")
	result, err := engine.Recommend(context.Background(), 2, "", 10, true)
	suite.NoError(err)
	suite.Len(result.Items, 2)
}

func (suite *EngineTestSuite) TestConcurrent() {
	engine := suite.newEngine("interactions.json")
	var wg sync.WaitGroup
	results := make([]*Result, 16)
	for i := range results {
		wg.Go(func() {
			result, err := engine.Recommend(context.Background(), 2, "lunch", 10, true)
			suite.NoError(err)
			results[i] = result
		})
	}
	wg.Wait()
	suite.Equal(int64(1), engine.Computations())
	for _, result := range results {
		suite.Equal(results[0], result)
	}
}

func (suite *EngineTestSuite) TestPopular() {
	engine := suite.newEngine("interactions.json")
	popular, err := engine.Popular(context.Background(), 3)
	suite.NoError(err)
	suite.Len(popular, 3)
	suite.Equal([]int64{2, 5, 4}, []int64{popular[0].ItemId, popular[1].ItemId, popular[2].ItemId})
	suite.InDelta(Popularity(4.2, 99), popular[1].Score, 1e-12)
	suite.Equal("Fruit Salad", popular[1].Name)
	// modifying a returned item leaves the cached ranking intact
	popular[1].DietaryFlags[0] = "paleo"
	popular[1].Name = "Renamed"
	popular, err = engine.Popular(context.Background(), 3)
	suite.NoError(err)
	suite.Equal("Fruit Salad", popular[1].Name)
	suite.Equal([]string{"vegan", "vegetarian", "gluten_free"}, popular[1].DietaryFlags)
	suite.Equal(int64(1), engine.popular.Computations())

	suite.Require().NoError(os.WriteFile(filepath.Join(suite.artifactDir, "popularity.json"),
		[]byte(`{"interactions": [], "popularity": {"3": 100}}`), 0o644))
	engine = suite.newEngine("popularity.json")
	popular, err = engine.Popular(context.Background(), 1)
	suite.NoError(err)
	suite.Equal(int64(3), popular[0].ItemId)
	suite.Equal(100.0, popular[0].Score)
}

func (suite *EngineTestSuite) TestDependencyError() {
	engine, err := NewEngine(suite.cfg, data.NoDatabase{}, dataset.NewLoader(blob.NewPOSIX(suite.artifactDir), "interactions.json"))
	suite.NoError(err)
	_, err = engine.Recommend(context.Background(), 2, "", 10, true)
	var dependencyError *DependencyError
	suite.ErrorAs(err, &dependencyError)
	suite.True(errors.Is(err, data.ErrNoDatabase))
	_, err = engine.Popular(context.Background(), 10)
	suite.ErrorAs(err, &dependencyError)
	// failures are not cached
	_, err = engine.Recommend(context.Background(), 2, "", 10, true)
	suite.Error(err)
	suite.Equal(int64(2), engine.Computations())
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestNewEngineInvalidFilter(t *testing.T) {
	cfg := config.GetDefaultConfig().Recommend
	cfg.Content.Filters = []string{"item.Nutrition.Calories +"}
	_, err := NewEngine(cfg, data.NoDatabase{}, nil)
	assert.Error(t, err)
}
