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
	"testing"

	"github.com/gorse-io/mealrec/config"
	"github.com/gorse-io/mealrec/storage/data"
	"github.com/jaswdr/faker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tofuBowl = data.Item{
		ItemId:       1,
		Name:         "Tofu Bowl",
		Nutrition:    data.Nutrition{Calories: 600, ProteinG: 37.5, CarbsG: 75, FatG: 16.67, SodiumMg: 800},
		DietaryFlags: []string{"vegan", "vegetarian", "dairy_free"},
	}
	steak = data.Item{
		ItemId:       2,
		Name:         "Steak Frites",
		Nutrition:    data.Nutrition{Calories: 1100, ProteinG: 60, CarbsG: 70, FatG: 65, SodiumMg: 2600},
		DietaryFlags: []string{"gluten_free", "dairy_free"},
	}
	water = data.Item{ItemId: 3, Name: "Sparkling Water", DietaryFlags: []string{"vegan", "vegetarian"}}
)

func newContentScorer(t *testing.T, opts ...func(*config.ContentConfig)) *ContentScorer {
	cfg := config.GetDefaultConfig().Recommend.Content
	for _, opt := range opts {
		opt(&cfg)
	}
	scorer, err := NewContentScorer(cfg)
	require.NoError(t, err)
	return scorer
}

func TestAdmit(t *testing.T) {
	scorer := newContentScorer(t)
	vegan := &data.User{UserId: 1, Restrictions: []string{"vegan"}}
	assert.True(t, scorer.Admit(vegan, &tofuBowl))
	assert.False(t, scorer.Admit(vegan, &steak))
	assert.True(t, scorer.Admit(&data.User{UserId: 2}, &steak))

	// restrictions outside the hard constraints only penalize
	scorer = newContentScorer(t, func(cfg *config.ContentConfig) {
		cfg.HardConstraints = []string{"nut_free"}
	})
	assert.True(t, scorer.Admit(vegan, &steak))
	assert.InDelta(t, 0.5*newContentScorer(t).Score(&data.User{}, &steak), scorer.Score(vegan, &steak), 1e-12)
}

func TestAdmitFilters(t *testing.T) {
	scorer := newContentScorer(t, func(cfg *config.ContentConfig) {
		cfg.Filters = []string{"item.Nutrition.SodiumMg < 2300", `user.Goal != "weight_loss" || item.Nutrition.Calories < 800`}
	})
	user := &data.User{UserId: 1}
	assert.True(t, scorer.Admit(user, &tofuBowl))
	assert.False(t, scorer.Admit(user, &steak))
	user.Goal = data.GoalWeightLoss
	assert.True(t, scorer.Admit(user, &tofuBowl))

	_, err := NewContentScorer(config.ContentConfig{Filters: []string{"item.Name"}})
	assert.Error(t, err)
	_, err = NewContentScorer(config.ContentConfig{Filters: []string{"item.Unknown > 1"}})
	assert.Error(t, err)
}

func TestScore(t *testing.T) {
	scorer := newContentScorer(t)
	user := &data.User{
		UserId:  1,
		Goal:    data.GoalMaintenance,
		Targets: data.MacroTargets{Calories: 2000},
	}
	// 600 kcal matches 30% of 2000 and the macro split is close to 25/50/25,
	// no preference points are earned
	fit := scorer.Score(user, &tofuBowl)
	assert.InDelta(t, 0.7, fit, 1e-3)
	assert.Less(t, scorer.Score(user, &steak), fit)

	// no energy information
	assert.InDelta(t, 0.7, scorer.Score(user, &water), 1e-12)

	// recently eaten items lose the variety term
	user.RecentItems = []int64{3}
	assert.InDelta(t, 0.6, scorer.Score(user, &water), 1e-12)

	// deterministic
	for i := 0; i < 5; i++ {
		assert.Equal(t, fit, scorer.Score(&data.User{UserId: 1, Goal: data.GoalMaintenance, Targets: data.MacroTargets{Calories: 2000}}, &tofuBowl))
	}
}

func TestScoreTargets(t *testing.T) {
	scorer := newContentScorer(t, func(cfg *config.ContentConfig) {
		cfg.MacroWeight = 1
		cfg.VarietyWeight = 0
		cfg.PreferenceWeight = 0
	})
	// explicit targets override the goal defaults
	user := &data.User{Goal: data.GoalWeightGain, Targets: data.MacroTargets{ProteinG: 37.5, CarbsG: 75, FatG: 16.67}}
	assert.InDelta(t, 1, scorer.Score(user, &tofuBowl), 1e-3)
	user.Targets = data.MacroTargets{}
	// 25/50/25 against 20/55/25
	assert.InDelta(t, 0.95, scorer.Score(user, &tofuBowl), 1e-3)
	user.Goal = "unknown"
	assert.InDelta(t, 1, scorer.Score(user, &tofuBowl), 1e-3)
}

func TestScoreBounds(t *testing.T) {
	scorer := newContentScorer(t, func(cfg *config.ContentConfig) {
		cfg.HardConstraints = []string{}
	})
	users := []data.User{
		{},
		{Restrictions: []string{"vegan", "halal", "kosher"}, Targets: data.MacroTargets{Calories: 100}},
		{Goal: data.GoalMuscleGain, Targets: data.MacroTargets{Calories: 5000, ProteinG: 300}},
	}
	for _, user := range users {
		for _, item := range []data.Item{tofuBowl, steak, water} {
			score := scorer.Score(&user, &item)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	}
}

func TestScoreRandomProfiles(t *testing.T) {
	fake := faker.New()
	scorer := newContentScorer(t)
	goals := []string{"", data.GoalWeightLoss, data.GoalWeightGain, data.GoalMaintenance, data.GoalMuscleGain}
	randomFlags := func() []string {
		var flags []string
		for _, restriction := range config.Restrictions {
			if fake.Boolean().Bool() {
				flags = append(flags, restriction)
			}
		}
		return flags
	}
	for i := 0; i < 1000; i++ {
		item := data.Item{
			ItemId: fake.Int64Between(1, 100),
			Nutrition: data.Nutrition{
				Calories: fake.Float64(2, 0, 2000),
				ProteinG: fake.Float64(2, 0, 150),
				CarbsG:   fake.Float64(2, 0, 250),
				FatG:     fake.Float64(2, 0, 120),
			},
			DietaryFlags: randomFlags(),
		}
		user := data.User{
			UserId:       fake.Int64Between(1, 100),
			Restrictions: randomFlags(),
			Goal:         fake.RandomStringElement(goals),
			Targets: data.MacroTargets{
				Calories: fake.Float64(2, 0, 3000),
				ProteinG: fake.Float64(2, 0, 200),
			},
			RecentItems:         []int64{fake.Int64Between(1, 100)},
			PreferredCuisine:    fake.Lorem().Word(),
			FavoriteIngredients: fake.Lorem().Words(3),
			CategoryHistory:     []string{fake.Lorem().Word()},
		}
		score := scorer.Score(&user, &item)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
		if scorer.Admit(&user, &item) {
			for _, restriction := range user.Restrictions {
				assert.True(t, item.Satisfies(restriction), "item %v admitted for %v", item.DietaryFlags, user.Restrictions)
			}
		}
	}
}

func TestScoreRemainingIntake(t *testing.T) {
	scorer := newContentScorer(t, func(cfg *config.ContentConfig) {
		cfg.MacroWeight = 1
		cfg.VarietyWeight = 0
		cfg.PreferenceWeight = 0
	})
	// calories are fitted against 30% of what is left today
	user := &data.User{Goal: data.GoalMaintenance, Targets: data.MacroTargets{Calories: 2000}}
	assert.InDelta(t, 1, scorer.Score(user, &tofuBowl), 1e-3)
	user.Today.Calories = 1000
	assert.InDelta(t, 0.5, scorer.Score(user, &tofuBowl), 1e-3)
	user.Today.Calories = 2500
	assert.InDelta(t, 1, scorer.Score(user, &tofuBowl), 1e-3)

	// protein is fitted against 40% of the protein still needed today
	shake := &data.Item{ItemId: 4, Name: "Protein Shake", Nutrition: data.Nutrition{ProteinG: 30}}
	user = &data.User{Goal: data.GoalMuscleGain, Targets: data.MacroTargets{ProteinG: 150}}
	// ratio fit: 100/0/0 against 30/45/25
	assert.InDelta(t, (0.3+0.5)/2, scorer.Score(user, shake), 1e-9)
	user.Today.ProteinG = 75
	assert.InDelta(t, (0.3+1)/2, scorer.Score(user, shake), 1e-9)
	user.Today.ProteinG = 150
	assert.InDelta(t, 0.3, scorer.Score(user, shake), 1e-9)
	// other goals ignore protein
	user = &data.User{Goal: data.GoalMaintenance, Targets: data.MacroTargets{ProteinG: 150}}
	assert.InDelta(t, 0.25, scorer.Score(user, shake), 1e-9)
}

func TestScorePreferences(t *testing.T) {
	scorer := newContentScorer(t, func(cfg *config.ContentConfig) {
		cfg.MacroWeight = 0
		cfg.VarietyWeight = 0
		cfg.PreferenceWeight = 1
	})
	curry := &data.Item{
		ItemId:      10,
		Name:        "Thai Green Curry",
		Description: "Coconut milk, basil and tofu.",
		Category:    "dinner",
		Nutrition:   data.Nutrition{Calories: 500, ProteinG: 20},
	}
	chicken := &data.Item{
		ItemId:    11,
		Name:      "Grilled Chicken",
		Category:  "lunch",
		Nutrition: data.Nutrition{Calories: 250, ProteinG: 30},
	}

	// preferred cuisine in the name or the description
	user := &data.User{PreferredCuisine: "THAI"}
	assert.InDelta(t, 0.2/0.3, scorer.Score(user, curry), 1e-9)
	assert.Zero(t, scorer.Score(user, &tofuBowl))
	assert.Greater(t, scorer.Score(user, curry), scorer.Score(user, &steak))

	// every favorite ingredient counts
	user = &data.User{FavoriteIngredients: []string{"basil", " Tofu ", "peanut", ""}}
	assert.InDelta(t, 0.2/0.4, scorer.Score(user, curry), 1e-9)
	assert.InDelta(t, 0.1/0.4, scorer.Score(user, &tofuBowl), 1e-9)

	// categories the user has eaten before
	user = &data.User{CategoryHistory: []string{"dinner", "breakfast"}}
	assert.InDelta(t, 0.2/0.3, scorer.Score(user, curry), 1e-9)
	assert.Zero(t, scorer.Score(user, &tofuBowl))

	// more than 0.1 g protein per kcal
	user = &data.User{}
	assert.Equal(t, 1.0, scorer.Score(user, chicken))
	assert.Zero(t, scorer.Score(user, curry))
	assert.Zero(t, scorer.Score(user, &water))

	user = &data.User{
		PreferredCuisine:    "thai",
		FavoriteIngredients: []string{"basil", "tofu", "peanut"},
		CategoryHistory:     []string{"dinner"},
	}
	assert.InDelta(t, 0.6/0.8, scorer.Score(user, curry), 1e-9)
	assert.LessOrEqual(t, scorer.Score(user, curry), 1.0)
}
