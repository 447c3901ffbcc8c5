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

	"github.com/gorse-io/mealrec/cmd/version"
	"github.com/gorse-io/mealrec/common/log"
	"github.com/gorse-io/mealrec/config"
	"github.com/gorse-io/mealrec/dataset"
	"github.com/gorse-io/mealrec/logics"
	"github.com/gorse-io/mealrec/storage"
	"github.com/gorse-io/mealrec/storage/blob"
	"github.com/gorse-io/mealrec/storage/data"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "mealrec",
	Short: "Meal recommendation engine.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.Flags().BoolP("version", "v", false, "mealrec version")
	rootCommand.AddCommand(serveCommand, inspectCommand, publishCommand, recommendCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}

// loadConfig loads the configuration file given by --config, or the defaults
// when the flag is empty.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		cfg := config.GetDefaultConfig()
		return cfg, errors.Trace(cfg.Validate())
	}
	log.Logger().Info("load config", zap.String("config", configPath))
	return config.LoadConfig(configPath)
}

func openDatabase(cfg *config.Config) (data.Database, error) {
	database, err := data.Open(cfg.Database.DataStore, cfg.Database.TablePrefix,
		storage.WithMaxOpenConns(cfg.Database.MaxOpenConns),
		storage.WithMaxIdleConns(cfg.Database.MaxIdleConns),
		storage.WithConnMaxLifetime(cfg.Database.ConnMaxLifetime))
	if err != nil {
		return nil, errors.Annotatef(err, "open database %s", log.RedactDBURL(cfg.Database.DataStore))
	}
	if err = database.Init(); err != nil {
		return nil, errors.Trace(err)
	}
	return database, nil
}

func newLoader(cfg *config.Config) (*dataset.Loader, error) {
	store, err := blob.Open(cfg.Artifact)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return dataset.NewLoader(store, cfg.Artifact.Name, dataset.WithRetryTimes(cfg.Artifact.RetryTimes)), nil
}

func newEngine(cfg *config.Config) (*logics.Engine, data.Database, error) {
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	loader, err := newLoader(cfg)
	if err != nil {
		return nil, nil, err
	}
	engine, err := logics.NewEngine(cfg.Recommend, database, loader)
	if err != nil {
		return nil, nil, err
	}
	return engine, database, nil
}
