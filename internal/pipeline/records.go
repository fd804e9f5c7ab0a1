package pipeline

import (
	"time"

	"wallpipe/internal/domain"
)

// recordSet is the run's accumulator: an id-keyed, insertion-ordered set
// of records. It is owned exclusively by the orchestrator; stages return
// data and only the merge step writes here.
type recordSet struct {
	index   map[string]int
	records []domain.PipelineRecord
}

func newRecordSet(existing []domain.PipelineRecord) *recordSet {
	s := &recordSet{index: make(map[string]int, len(existing))}
	for _, rec := range existing {
		s.put(rec)
	}
	return s
}

func (s *recordSet) get(id string) (domain.PipelineRecord, bool) {
	i, ok := s.index[id]
	if !ok {
		return domain.PipelineRecord{}, false
	}
	return s.records[i], true
}

// put replaces an existing record in place, keeping its original position
// so the store file stays in a stable order across reruns.
func (s *recordSet) put(rec domain.PipelineRecord) {
	if i, ok := s.index[rec.ID]; ok {
		s.records[i] = rec
		return
	}
	s.index[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
}

func (s *recordSet) list() []domain.PipelineRecord {
	out := make([]domain.PipelineRecord, len(s.records))
	copy(out, s.records)
	return out
}

// merge is the upsert-with-preservation policy. The new record wins for
// identity and byte-level fields, which legitimately change on re-download;
// enrichment-class fields keep the existing value unless the new one is
// present, so an absent value never erases recorded enrichment. The
// timestamp refreshes on every merge, visible change or not.
func merge(base *domain.PipelineRecord, next domain.PipelineRecord, now time.Time) domain.PipelineRecord {
	next.UpdatedAt = now
	if base == nil {
		return next
	}
	next.Categories = keepList(next.Categories, base.Categories)
	next.Tags = keepList(next.Tags, base.Tags)
	next.AiTags = keepList(next.AiTags, base.AiTags)
	next.AiCategories = keepList(next.AiCategories, base.AiCategories)
	next.AiColors = keepList(next.AiColors, base.AiColors)
	next.AiCaption = keep(next.AiCaption, base.AiCaption)
	next.RemoteURL = keep(next.RemoteURL, base.RemoteURL)
	next.CompressedPath = keep(next.CompressedPath, base.CompressedPath)
	next.PerceptualHash = keep(next.PerceptualHash, base.PerceptualHash)
	return next
}

// applyAnalysis folds enrichment output into a record, again letting only
// present values overwrite.
func applyAnalysis(rec domain.PipelineRecord, analysis domain.AiAnalysis, now time.Time) domain.PipelineRecord {
	rec.CompressedPath = keep(analysis.CompressedPath, rec.CompressedPath)
	rec.AiTags = keepList(analysis.Tags, rec.AiTags)
	rec.AiCategories = keepList(analysis.Categories, rec.AiCategories)
	rec.AiColors = keepList(analysis.DominantColors, rec.AiColors)
	rec.AiCaption = keep(analysis.Caption, rec.AiCaption)
	rec.PerceptualHash = keep(analysis.PerceptualHash, rec.PerceptualHash)
	rec.UpdatedAt = now
	return rec
}

func keep(next, base string) string {
	if next != "" {
		return next
	}
	return base
}

func keepList(next, base []string) []string {
	if len(next) > 0 {
		return next
	}
	return base
}
