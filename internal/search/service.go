package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// MatchingIDs returns the ids of annotations on a URI that match the query.
// Thread projection uses the set as its item-level visibility predicate.
func (s *Service) MatchingIDs(uri, text string) map[string]bool {
	resp := s.Search(Query{Text: text, FilterURI: uri, Limit: 1000})
	ids := make(map[string]bool, len(resp.Results))
	for _, r := range resp.Results {
		ids[r.ID] = true
	}
	return ids
}

// IndexAnnotation indexes an annotation (fire-and-forget to Meilisearch).
func (s *Service) IndexAnnotation(record AnnotationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAnnotation(record); err != nil {
			log.Printf("search: index annotation %s: %v", record.ID, err)
		}
	}()
}

// DeleteAnnotation removes an annotation from the search index (fire-and-forget).
func (s *Service) DeleteAnnotation(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAnnotation(id); err != nil {
			log.Printf("search: delete annotation %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reads every annotation from PostgreSQL and pushes it to
// Meilisearch. Called during startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexAnnotations(records); err != nil {
		log.Printf("search: reindex annotations: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
