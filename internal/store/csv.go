// Package store persists the pipeline's durable record table. The backing
// file is a flat CSV snapshot: every save rewrites it whole, so the table
// stays internally consistent even if a prior run died mid-stage.
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"wallpipe/internal/domain"
)

// Store is the record-table contract the orchestrator depends on.
type Store interface {
	// Load returns every known record in file order. A missing backing
	// file is an empty table, not an error.
	Load() ([]domain.PipelineRecord, error)
	// Save rewrites the backing file from the given records.
	Save(records []domain.PipelineRecord) error
}

var header = []string{
	"id", "source", "pageUrl", "imageUrl", "localPath", "compressedPath",
	"remoteUrl", "title", "description", "categories", "tags",
	"aiTags", "aiCategories", "aiColors", "aiCaption", "phash",
	"sha256", "bytes", "ext", "updatedAt",
}

// CSVStore implements Store over a single CSV file.
type CSVStore struct {
	path string
}

func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

func (s *CSVStore) Load() ([]domain.PipelineRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open store %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", s.path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[name] = i
	}

	records := make([]domain.PipelineRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}
		size, _ := strconv.ParseInt(get("bytes"), 10, 64)
		updatedAt, _ := time.Parse(time.RFC3339, get("updatedAt"))
		records = append(records, domain.PipelineRecord{
			ID:             get("id"),
			Source:         get("source"),
			PageURL:        get("pageUrl"),
			ImageURL:       get("imageUrl"),
			LocalPath:      get("localPath"),
			CompressedPath: get("compressedPath"),
			RemoteURL:      get("remoteUrl"),
			Title:          get("title"),
			Description:    get("description"),
			Categories:     DecodeList(get("categories")),
			Tags:           DecodeList(get("tags")),
			AiTags:         DecodeList(get("aiTags")),
			AiCategories:   DecodeList(get("aiCategories")),
			AiColors:       DecodeList(get("aiColors")),
			AiCaption:      get("aiCaption"),
			PerceptualHash: get("phash"),
			SHA256:         get("sha256"),
			Bytes:          size,
			Ext:            get("ext"),
			UpdatedAt:      updatedAt,
		})
	}
	return records, nil
}

func (s *CSVStore) Save(records []domain.PipelineRecord) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create store %s: %w", s.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.Source,
			rec.PageURL,
			rec.ImageURL,
			rec.LocalPath,
			rec.CompressedPath,
			rec.RemoteURL,
			rec.Title,
			rec.Description,
			EncodeList(rec.Categories),
			EncodeList(rec.Tags),
			EncodeList(rec.AiTags),
			EncodeList(rec.AiCategories),
			EncodeList(rec.AiColors),
			rec.AiCaption,
			rec.PerceptualHash,
			rec.SHA256,
			strconv.FormatInt(rec.Bytes, 10),
			rec.Ext,
			rec.UpdatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write store %s: %w", s.path, err)
	}
	return nil
}

// EncodeList serializes a multi-value field into one pipe-delimited cell.
// The pipe never occurs in natural tag/category content, unlike commas.
func EncodeList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.Join(values, " | ")
}

// DecodeList splits a pipe-delimited cell, trimming parts and dropping
// empties. An empty cell decodes to nil: the flat format cannot tell an
// empty list from an absent field, a known lossy edge.
func DecodeList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
