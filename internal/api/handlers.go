package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"wallpipe/internal/domain"
)

const recentRecordLimit = 25

type runRequest struct {
	Targets    []string `json:"targets"`
	SkipAI     bool     `json:"skip_ai"`
	SkipUpload bool     `json:"skip_upload"`
	SkipScrape bool     `json:"skip_scrape"`
	Force      bool     `json:"force"`
}

type recordView struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	PageURL        string    `json:"page_url"`
	ImageURL       string    `json:"image_url"`
	Title          string    `json:"title,omitempty"`
	RemoteURL      string    `json:"remote_url,omitempty"`
	CompressedPath string    `json:"compressed_path,omitempty"`
	AiTags         []string  `json:"ai_tags,omitempty"`
	AiCaption      string    `json:"ai_caption,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type statsView struct {
	Total         int `json:"total"`
	PendingUpload int `json:"pending_upload"`
	WithAI        int `json:"with_ai"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.Load()
	if err != nil {
		s.logger.Error("load records failed", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not load records")
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	if len(records) > recentRecordLimit {
		records = records[:recentRecordLimit]
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			ID:             rec.ID,
			Source:         rec.Source,
			PageURL:        rec.PageURL,
			ImageURL:       rec.ImageURL,
			Title:          rec.Title,
			RemoteURL:      rec.RemoteURL,
			CompressedPath: rec.CompressedPath,
			AiTags:         rec.AiTags,
			AiCaption:      rec.AiCaption,
			UpdatedAt:      rec.UpdatedAt,
		})
	}
	s.respondWithJSON(w, http.StatusOK, views)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.Load()
	if err != nil {
		s.logger.Error("load records failed", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not load records")
		return
	}
	stats := statsView{Total: len(records)}
	for _, rec := range records {
		if rec.RemoteURL == "" {
			stats.PendingUpload++
		}
		if len(rec.AiTags) > 0 {
			stats.WithAI++
		}
	}
	s.respondWithJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s.runPipeline(w, r, domain.RunOptions{
		Targets:    req.Targets,
		SkipAI:     req.SkipAI,
		SkipUpload: req.SkipUpload,
		SkipScrape: req.SkipScrape,
		Force:      req.Force,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.runPipeline(w, r, domain.RunOptions{SkipScrape: true, SkipAI: true})
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request, opts domain.RunOptions) {
	if !s.runMu.TryLock() {
		s.respondWithError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer s.runMu.Unlock()

	records, err := s.runner.Run(r.Context(), opts)
	if err != nil {
		s.logger.Error("pipeline run failed", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]int{"records": len(records)})
}

// handlePreview serves a local asset file. Paths are confined to the
// working tree so the dashboard cannot be used to read arbitrary files.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		s.respondWithError(w, http.StatusBadRequest, "missing path")
		return
	}
	resolved, err := filepath.Abs(p)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "bad path")
		return
	}
	root, err := filepath.Abs(".")
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, "cannot resolve root")
		return
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		s.respondWithError(w, http.StatusForbidden, "forbidden")
		return
	}
	http.ServeFile(w, r, resolved)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.records.Load(); err != nil {
		s.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"store": "unhealthy"})
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"store": "healthy"})
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
