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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorse-io/mealrec/common/log"
	"github.com/gorse-io/mealrec/server"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		// setup tracing
		tracerProvider, err := cfg.Tracing.NewTracerProvider(ctx)
		if err != nil {
			log.Logger().Fatal("failed to create tracer provider", zap.Error(err))
		}
		if tracerProvider != nil {
			otel.SetTracerProvider(tracerProvider)
			otel.SetErrorHandler(log.GetErrorHandler())
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					log.Logger().Error("failed to shutdown tracer provider", zap.Error(err))
				}
			}()
		}

		engine, database, err := newEngine(cfg)
		if err != nil {
			log.Logger().Fatal("failed to create recommendation engine", zap.Error(err))
		}
		defer func() {
			if err := database.Close(); err != nil {
				log.Logger().Error("failed to close database", zap.Error(err))
			}
		}()
		// load the model artifact in the background
		engine.Warm(ctx)

		restServer := server.NewRestServer(cfg, engine)
		go func() {
			sigint := make(chan os.Signal, 1)
			signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
			<-sigint
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := restServer.Shutdown(shutdownCtx); err != nil {
				log.Logger().Error("failed to shutdown http server", zap.Error(err))
			}
		}()
		if err = restServer.StartHttpServer(); err != nil {
			log.Logger().Fatal("failed to start http server", zap.Error(err))
		}
		log.Logger().Info("stop mealrec successfully")
	},
}
