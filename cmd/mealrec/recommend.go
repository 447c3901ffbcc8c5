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
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gorse-io/mealrec/common/log"
	"github.com/gorse-io/mealrec/logics"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recommendCommand = &cobra.Command{
	Use:   "recommend",
	Short: "Print recommended meals for a user.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		userId, _ := cmd.Flags().GetInt64("user")
		category, _ := cmd.Flags().GetString("category")
		n, _ := cmd.Flags().GetInt("n")
		noML, _ := cmd.Flags().GetBool("no-ml")
		engine, database, err := newEngine(cfg)
		if err != nil {
			log.Logger().Fatal("failed to create recommendation engine", zap.Error(err))
		}
		defer database.Close()
		result, err := engine.Recommend(cmd.Context(), userId, category, n, !noML)
		if err != nil {
			log.Logger().Fatal("failed to recommend", zap.Error(err))
		}
		if err = printResult(os.Stdout, result); err != nil {
			log.Logger().Fatal("failed to print result", zap.Error(err))
		}
	},
}

func init() {
	recommendCommand.Flags().Int64("user", 0, "identifier of the user")
	recommendCommand.Flags().String("category", "", "category of meals")
	recommendCommand.Flags().Int("n", 10, "number of recommended meals")
	recommendCommand.Flags().Bool("no-ml", false, "rank by content and popularity only")
	_ = recommendCommand.MarkFlagRequired("user")
}

func printResult(w io.Writer, result *logics.Result) error {
	if result.NoCandidates {
		_, err := fmt.Fprintf(w, "no meal satisfies the restrictions of user %d\n", result.UserId)
		return errors.Trace(err)
	}
	if result.Degraded {
		if _, err := fmt.Fprintln(w, "model artifact unavailable, ranked by content and popularity"); err != nil {
			return errors.Trace(err)
		}
	}
	table := tablewriter.NewWriter(w)
	table.Header("item_id", "name", "hybrid", "ml", "content", "reason_tag")
	for _, item := range result.Items {
		if err := table.Append([]string{
			strconv.FormatInt(item.ItemId, 10),
			item.Name,
			strconv.FormatFloat(item.HybridScore, 'f', 4, 64),
			strconv.FormatFloat(item.MLScore, 'f', 4, 64),
			strconv.FormatFloat(item.ContentScore, 'f', 4, 64),
			item.Reason,
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}
