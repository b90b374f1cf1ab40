package search

import (
	"context"
	"log"
)

// Service fronts the two search backends: Meilisearch when it is up, the
// PostgreSQL full-text fallback otherwise.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured; every query then goes straight to PostgreSQL.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search answers from Meilisearch when possible and silently degrades to the
// PostgreSQL backend on errors, so a search outage never fails a request.
func (s *Service) Search(q Query) Response {
	if s.meiliReady() {
		if results, total, err := s.meili.Search(q); err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		} else {
			log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
		}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		results, total = nil, 0
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// async runs a Meilisearch write off the request path. Failures are logged
// and dropped; the PostgreSQL backend stays authoritative either way.
func (s *Service) async(op string, fn func() error) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := fn(); err != nil {
			log.Printf("search: %s: %v", op, err)
		}
	}()
}

// IndexQuestion pushes a question into Meilisearch without blocking the caller.
func (s *Service) IndexQuestion(q QuestionRecord) {
	s.async("index question "+q.ID, func() error { return s.meili.IndexQuestion(q) })
}

// IndexTag pushes a tag into Meilisearch without blocking the caller.
func (s *Service) IndexTag(t TagRecord) {
	s.async("index tag "+t.ID, func() error { return s.meili.IndexTag(t) })
}

// DeleteQuestion removes a question from Meilisearch without blocking the caller.
func (s *Service) DeleteQuestion(id string) {
	s.async("delete question "+id, func() error { return s.meili.DeleteQuestion(id) })
}

// ReindexAllFromPG rebuilds both Meilisearch indexes from PostgreSQL.
// Called once at startup when Meilisearch is configured.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.meiliReady() || s.pgfts == nil {
		return
	}
	questions, tags, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexQuestions(questions); err != nil {
		log.Printf("search: reindex questions: %v", err)
	}
	if err := s.meili.IndexTags(tags); err != nil {
		log.Printf("search: reindex tags: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
