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

package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Artifact is a trained model artifact: the interaction matrix and an
// optional precomputed popularity table.
type Artifact struct {
	CreatedAt  time.Time
	Matrix     *Matrix
	Popularity map[int64]float64
}

type artifactDocument struct {
	CreatedAt    timestamp          `json:"created_at"`
	Interactions []recordDocument   `json:"interactions"`
	Popularity   map[string]float64 `json:"popularity,omitempty"`
}

type recordDocument struct {
	UserId    int64     `json:"user_id"`
	ItemId    int64     `json:"item_id"`
	Rating    float64   `json:"rating"`
	Timestamp timestamp `json:"timestamp"`
}

// timestamp accepts any layout understood by dateparse or a Unix time in seconds.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return errors.Trace(err)
		}
		parsed, err := parseTimestamp(text)
		if err != nil {
			return errors.Trace(err)
		}
		t.Time = parsed
		return nil
	}
	parsed, err := parseTimestamp(string(data))
	if err != nil {
		return errors.Trace(err)
	}
	t.Time = parsed
	return nil
}

func (t timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func parseTimestamp(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, nil
	}
	if seconds, err := strconv.ParseFloat(text, 64); err == nil {
		whole := int64(seconds)
		return time.Unix(whole, int64((seconds-float64(whole))*1e9)).UTC(), nil
	}
	parsed, err := dateparse.ParseIn(text, time.UTC)
	if err != nil {
		return time.Time{}, errors.Annotatef(err, "invalid timestamp %q", text)
	}
	return parsed.UTC(), nil
}

// Decode reads an artifact, choosing the codec from the extension of its name.
// Every decoding failure is reported as NotValid.
func Decode(r io.Reader, name string) (*Artifact, error) {
	var (
		artifact *Artifact
		err      error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		artifact, err = decodeJSON(r)
	case ".csv":
		artifact, err = decodeCSV(r)
	default:
		return nil, errors.NotValidf("artifact format of %s", name)
	}
	if err != nil {
		return nil, errors.NewNotValid(err, "corrupt artifact "+name)
	}
	return artifact, nil
}

func decodeJSON(r io.Reader) (*Artifact, error) {
	var document artifactDocument
	if err := json.NewDecoder(r).Decode(&document); err != nil {
		return nil, errors.Trace(err)
	}
	if document.Interactions == nil {
		return nil, errors.New("missing interactions")
	}
	builder := NewBuilder()
	for _, record := range document.Interactions {
		if err := builder.Add(Record{
			UserId:    record.UserId,
			ItemId:    record.ItemId,
			Rating:    record.Rating,
			Timestamp: record.Timestamp.Time,
		}); err != nil {
			return nil, errors.Trace(err)
		}
	}
	artifact := &Artifact{CreatedAt: document.CreatedAt.Time, Matrix: builder.Build()}
	if len(document.Popularity) > 0 {
		artifact.Popularity = make(map[int64]float64, len(document.Popularity))
		for key, score := range document.Popularity {
			itemId, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, errors.Annotatef(err, "invalid item id %q in popularity table", key)
			}
			if score < 0 {
				return nil, errors.Errorf("negative popularity %v of item %d", score, itemId)
			}
			artifact.Popularity[itemId] = score
		}
	}
	return artifact, nil
}

func decodeCSV(r io.Reader) (*Artifact, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("empty csv")
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"user_id", "item_id", "rating"} {
		if _, ok := columns[required]; !ok {
			return nil, errors.Errorf("missing column %s", required)
		}
	}
	timestampColumn, hasTimestamp := columns["timestamp"]

	builder := NewBuilder()
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Trace(err)
		}
		line, _ := reader.FieldPos(0)
		userId, err := strconv.ParseInt(strings.TrimSpace(fields[columns["user_id"]]), 10, 64)
		if err != nil {
			return nil, errors.Annotatef(err, "line %d: invalid user_id", line)
		}
		itemId, err := strconv.ParseInt(strings.TrimSpace(fields[columns["item_id"]]), 10, 64)
		if err != nil {
			return nil, errors.Annotatef(err, "line %d: invalid item_id", line)
		}
		rating, err := strconv.ParseFloat(strings.TrimSpace(fields[columns["rating"]]), 64)
		if err != nil {
			return nil, errors.Annotatef(err, "line %d: invalid rating", line)
		}
		var ts time.Time
		if hasTimestamp {
			if ts, err = parseTimestamp(fields[timestampColumn]); err != nil {
				return nil, errors.Annotatef(err, "line %d", line)
			}
		}
		if err = builder.Add(Record{UserId: userId, ItemId: itemId, Rating: rating, Timestamp: ts}); err != nil {
			return nil, errors.Annotatef(err, "line %d", line)
		}
	}
	return &Artifact{Matrix: builder.Build()}, nil
}

// Encode writes an artifact in the JSON form.
func Encode(w io.Writer, artifact *Artifact) error {
	document := artifactDocument{
		CreatedAt: timestamp{artifact.CreatedAt},
		Interactions: lo.Map(artifact.Matrix.Records(), func(r Record, _ int) recordDocument {
			return recordDocument{UserId: r.UserId, ItemId: r.ItemId, Rating: r.Rating, Timestamp: timestamp{r.Timestamp}}
		}),
	}
	if len(artifact.Popularity) > 0 {
		document.Popularity = make(map[string]float64, len(artifact.Popularity))
		for itemId, score := range artifact.Popularity {
			document.Popularity[strconv.FormatInt(itemId, 10)] = score
		}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return errors.Trace(encoder.Encode(document))
}

// IsArtifactMissing reports whether the artifact does not exist in the store.
func IsArtifactMissing(err error) bool {
	return errors.Is(err, errors.NotFound)
}

// IsArtifactCorrupt reports whether the artifact exists but cannot be decoded.
func IsArtifactCorrupt(err error) bool {
	return errors.Is(err, errors.NotValid)
}
