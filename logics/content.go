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
	"math"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gorse-io/mealrec/common/log"
	"github.com/gorse-io/mealrec/config"
	"github.com/gorse-io/mealrec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// energy per gram of protein, carbohydrate and fat
const (
	proteinKcal = 4.0
	carbsKcal   = 4.0
	fatKcal     = 9.0
)

// macroShares are the energy shares of protein, carbohydrate and fat.
type macroShares [3]float64

var goalShares = map[string]macroShares{
	data.GoalWeightLoss:  {0.35, 0.35, 0.30},
	data.GoalMuscleGain:  {0.30, 0.45, 0.25},
	data.GoalWeightGain:  {0.20, 0.55, 0.25},
	data.GoalMaintenance: {0.25, 0.50, 0.25},
}

func sharesOf(proteinG, carbsG, fatG float64) (macroShares, bool) {
	energy := [3]float64{proteinG * proteinKcal, carbsG * carbsKcal, fatG * fatKcal}
	total := energy[0] + energy[1] + energy[2]
	if total <= 0 {
		return macroShares{}, false
	}
	return macroShares{energy[0] / total, energy[1] / total, energy[2] / total}, true
}

// ContentScorer rates how well an item fits the nutrition profile of a user.
type ContentScorer struct {
	cfg     config.ContentConfig
	hard    mapset.Set[string]
	filters []*vm.Program
}

func NewContentScorer(cfg config.ContentConfig) (*ContentScorer, error) {
	s := &ContentScorer{
		cfg:  cfg,
		hard: mapset.NewSet(cfg.HardConstraints...),
	}
	for _, filter := range cfg.Filters {
		program, err := expr.Compile(filter, expr.Env(map[string]any{
			"item": data.Item{},
			"user": data.User{},
		}), expr.AsBool())
		if err != nil {
			return nil, errors.Annotatef(err, "compile filter %q", filter)
		}
		s.filters = append(s.filters, program)
	}
	return s, nil
}

// Admit reports whether the item may be recommended to the user at all: every
// restriction of the user listed as a hard constraint must be satisfied and
// every filter must hold.
func (s *ContentScorer) Admit(user *data.User, item *data.Item) bool {
	for _, restriction := range user.Restrictions {
		if s.hard.Contains(restriction) && !item.Satisfies(restriction) {
			return false
		}
	}
	for _, program := range s.filters {
		result, err := expr.Run(program, map[string]any{
			"item": *item,
			"user": *user,
		})
		if err != nil {
			log.Logger().Warn("failed to evaluate filter", zap.Int64("item_id", item.ItemId), zap.Error(err))
			return false
		}
		if !result.(bool) {
			return false
		}
	}
	return true
}

// Score returns a value in [0,1]. Each violated soft restriction multiplies
// the score by (1 - soft_penalty).
func (s *ContentScorer) Score(user *data.User, item *data.Item) float64 {
	violations := lo.CountBy(user.Restrictions, func(restriction string) bool {
		return !s.hard.Contains(restriction) && !item.Satisfies(restriction)
	})
	penalty := math.Pow(1-s.cfg.SoftPenalty, float64(violations))
	variety := 1.0
	if lo.Contains(user.RecentItems, item.ItemId) {
		variety = 0
	}
	base := 1 - s.cfg.MacroWeight - s.cfg.VarietyWeight - s.cfg.PreferenceWeight
	score := penalty * (base +
		s.cfg.MacroWeight*s.macroFit(user, item) +
		s.cfg.VarietyWeight*variety +
		s.cfg.PreferenceWeight*s.preferenceFit(user, item))
	return clamp(score, 0, 1)
}

// macroFit averages the calorie fit against a single meal's share of the
// calories still needed today, the protein fit for goals that favor protein,
// and the fit of the protein/carbohydrate/fat energy ratio.
func (s *ContentScorer) macroFit(user *data.User, item *data.Item) float64 {
	var fits []float64
	itemShares, hasMacros := sharesOf(item.Nutrition.ProteinG, item.Nutrition.CarbsG, item.Nutrition.FatG)
	calories := item.Nutrition.Calories
	if calories <= 0 && hasMacros {
		calories = item.Nutrition.ProteinG*proteinKcal + item.Nutrition.CarbsG*carbsKcal + item.Nutrition.FatG*fatKcal
	}
	remainingCalories := math.Max(0, user.Targets.Calories-user.Today.Calories)
	if target := remainingCalories * s.cfg.MealShare; target > 0 && calories > 0 {
		fits = append(fits, clamp(1-math.Abs(calories-target)/target, 0, 1))
	}
	if user.Goal == data.GoalMuscleGain || user.Goal == data.GoalWeightLoss {
		if remainingProtein := math.Max(0, user.Targets.ProteinG-user.Today.ProteinG); remainingProtein > 0 {
			fits = append(fits, math.Min(1, item.Nutrition.ProteinG/(remainingProtein*s.cfg.ProteinShare)))
		}
	}
	if hasMacros {
		var (
			targetShares macroShares
			ok           bool
		)
		if user.Targets.ProteinG > 0 && user.Targets.CarbsG > 0 && user.Targets.FatG > 0 {
			targetShares, ok = sharesOf(user.Targets.ProteinG, user.Targets.CarbsG, user.Targets.FatG)
		}
		if !ok {
			if targetShares, ok = goalShares[user.Goal]; !ok {
				targetShares = goalShares[data.GoalMaintenance]
			}
		}
		var deviation float64
		for i := range itemShares {
			deviation += math.Abs(itemShares[i] - targetShares[i])
		}
		fits = append(fits, clamp(1-deviation/2, 0, 1))
	}
	if len(fits) == 0 {
		return 1
	}
	return lo.Mean(fits)
}

// preferenceFit is the share of preference points the item earns out of those
// the user's profile makes attainable.
func (s *ContentScorer) preferenceFit(user *data.User, item *data.Item) float64 {
	var earned, attainable float64
	award := func(points float64, ok bool) {
		attainable += points
		if ok {
			earned += points
		}
	}
	if cuisine := strings.TrimSpace(user.PreferredCuisine); cuisine != "" {
		award(s.cfg.CuisineBonus, mentions(item, cuisine))
	}
	for _, ingredient := range user.FavoriteIngredients {
		if ingredient = strings.TrimSpace(ingredient); ingredient != "" {
			award(s.cfg.IngredientBonus, mentions(item, ingredient))
		}
	}
	if len(user.CategoryHistory) > 0 {
		award(s.cfg.CategoryBonus, item.Category != "" && lo.Contains(user.CategoryHistory, item.Category))
	}
	award(s.cfg.ProteinDensityBonus, item.Nutrition.Calories > 0 &&
		item.Nutrition.ProteinG/item.Nutrition.Calories > s.cfg.ProteinDensity)
	if attainable <= 0 {
		return 0
	}
	return clamp(earned/attainable, 0, 1)
}

// mentions reports whether the name or the description of an item contains a
// keyword, ignoring case.
func mentions(item *data.Item, keyword string) bool {
	keyword = strings.ToLower(keyword)
	return strings.Contains(strings.ToLower(item.Name), keyword) ||
		strings.Contains(strings.ToLower(item.Description), keyword)
}

func clamp(x, lower, upper float64) float64 {
	return math.Max(lower, math.Min(upper, x))
}
