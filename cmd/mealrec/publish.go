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
	"io"
	"os"

	"github.com/gorse-io/mealrec/common/log"
	"github.com/gorse-io/mealrec/dataset"
	"github.com/gorse-io/mealrec/storage/blob"
	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var publishCommand = &cobra.Command{
	Use:   "publish <file>",
	Short: "Validate a local model artifact and upload it to the artifact store.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		store, err := blob.Open(cfg.Artifact)
		if err != nil {
			log.Logger().Fatal("failed to open artifact store", zap.Error(err))
		}
		stats, err := publishArtifact(store, cfg.Artifact.Name, args[0], true)
		if err != nil {
			log.Logger().Fatal("failed to publish artifact", zap.Error(err))
		}
		log.Logger().Info("publish artifact successfully",
			zap.String("name", cfg.Artifact.Name),
			zap.Int("users", stats.Users),
			zap.Int("items", stats.Items),
			zap.Int("interactions", stats.Interactions))
	},
}

// publishArtifact decodes a local artifact and, if it is valid, uploads the
// file unchanged under name. The codec of the local file must match name.
func publishArtifact(store blob.Store, name, path string, progress bool) (dataset.Stats, error) {
	file, err := os.Open(path)
	if err != nil {
		return dataset.Stats{}, errors.Trace(err)
	}
	defer file.Close()
	artifact, err := dataset.Decode(file, name)
	if err != nil {
		return dataset.Stats{}, errors.Trace(err)
	}
	info, err := file.Stat()
	if err != nil {
		return dataset.Stats{}, errors.Trace(err)
	}
	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return dataset.Stats{}, errors.Trace(err)
	}

	var reader io.Reader = file
	if progress {
		bar := progressbar.NewReader(file, progressbar.DefaultBytes(info.Size(), "Uploading "+name))
		reader = &bar
	}
	w, done, err := store.Create(name)
	if err != nil {
		return dataset.Stats{}, errors.Trace(err)
	}
	if _, err = io.Copy(w, reader); err != nil {
		_ = w.Close()
		return dataset.Stats{}, errors.Trace(err)
	}
	if err = w.Close(); err != nil {
		return dataset.Stats{}, errors.Trace(err)
	}
	<-done
	return artifact.Matrix.Stats(), nil
}
