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
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gorse-io/mealrec/common/log"
	"github.com/gorse-io/mealrec/dataset"
	"github.com/gorse-io/mealrec/storage/blob"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var inspectCommand = &cobra.Command{
	Use:   "inspect",
	Short: "Print statistics of the model artifact.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		store, err := blob.Open(cfg.Artifact)
		if err != nil {
			log.Logger().Fatal("failed to open artifact store", zap.Error(err))
		}
		if list, _ := cmd.Flags().GetBool("list"); list {
			if err = listArtifacts(os.Stdout, store); err != nil {
				log.Logger().Fatal("failed to list artifacts", zap.Error(err))
			}
			return
		}
		loader := dataset.NewLoader(store, cfg.Artifact.Name, dataset.WithRetryTimes(cfg.Artifact.RetryTimes))
		if err = inspectArtifact(cmd.Context(), os.Stdout, loader, cfg.Artifact.Name); err != nil {
			log.Logger().Fatal("failed to inspect artifact", zap.Error(err))
		}
	},
}

func init() {
	inspectCommand.Flags().Bool("list", false, "list objects in the artifact store")
}

func listArtifacts(w io.Writer, store blob.Store) error {
	names, err := store.List()
	if err != nil {
		return errors.Trace(err)
	}
	for _, name := range names {
		if _, err = fmt.Fprintln(w, name); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func inspectArtifact(ctx context.Context, w io.Writer, loader *dataset.Loader, name string) error {
	artifact, err := loader.Load(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	stats := artifact.Matrix.Stats()
	createdAt := "unknown"
	if !artifact.CreatedAt.IsZero() {
		createdAt = artifact.CreatedAt.Format(time.RFC3339)
	}
	table := tablewriter.NewWriter(w)
	table.Header("status", "value")
	rows := [][]string{
		{"name", name},
		{"created_at", createdAt},
		{"users", strconv.Itoa(stats.Users)},
		{"items", strconv.Itoa(stats.Items)},
		{"interactions", strconv.Itoa(stats.Interactions)},
		{"duplicates", strconv.Itoa(stats.Duplicates)},
		{"popularity", strconv.Itoa(len(artifact.Popularity))},
	}
	for _, row := range rows {
		if err = table.Append(row); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}
