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
package blob

import (
	"io"

	"github.com/gorse-io/mealrec/config"
	"github.com/juju/errors"
)

// Store is an object store holding model artifacts. Every implementation reports
// a missing object as a juju NotFound error from Open.
type Store interface {
	// Open an object for reading.
	Open(name string) (io.ReadCloser, error)
	// Create an object for writing. The done channel is closed once the object
	// has been persisted after the writer is closed.
	Create(name string) (io.WriteCloser, chan struct{}, error)
	// List names of all objects.
	List() ([]string, error)
	// Remove an object.
	Remove(name string) error
}

// Open creates the artifact store described by the config.
func Open(cfg config.ArtifactConfig) (Store, error) {
	switch cfg.Storage {
	case "", "posix":
		return NewPOSIX(cfg.Dir), nil
	case "s3":
		return NewS3(cfg.S3)
	case "gcs":
		return NewGCS(cfg.GCS)
	case "azure":
		return NewAzureBlob(cfg.Azure, cfg.Azure.Container, cfg.Azure.Prefix)
	}
	return nil, errors.NotSupportedf("artifact storage %s", cfg.Storage)
}

func notFound(name string, err error) error {
	return errors.NewNotFound(err, "blob "+name)
}
