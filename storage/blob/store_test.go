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
	"testing"

	"github.com/gorse-io/mealrec/config"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestOpen(t *testing.T) {
	store, err := Open(config.ArtifactConfig{Storage: "posix", Dir: t.TempDir()})
	assert.NoError(t, err)
	assert.IsType(t, &POSIX{}, store)

	_, err = Open(config.ArtifactConfig{Storage: "ftp"})
	assert.True(t, errors.Is(err, errors.NotSupported))
}
