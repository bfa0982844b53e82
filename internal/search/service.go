package search

import (
	"context"
	"log"
)

// Service is the facade the app layer talks to. It prefers
// Meilisearch and falls back to Postgres per request.
type Service struct {
	meili *Meili
	pg    *PgFTS
}

// NewService wires the facade. meili may be nil when no Meilisearch
// endpoint is configured.
func NewService(meili *Meili, pg *PgFTS) *Service {
	return &Service{meili: meili, pg: pg}
}

func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if s.meili != nil && s.meili.Healthy() {
		resp, err := s.meili.Search(q)
		if err == nil {
			return resp, nil
		}
		log.Printf("search: meilisearch failed, falling back to postgres: %v", err)
	}
	return s.pg.Search(ctx, q)
}

// Index upserts a map into Meilisearch. Indexing failures are logged,
// never surfaced: a save must not fail because search is down.
func (s *Service) Index(doc Document) {
	if s.meili == nil {
		return
	}
	if err := s.meili.IndexMindMap(doc); err != nil {
		log.Printf("search: index mindmap %s: %v", doc.ID, err)
	}
}

func (s *Service) Delete(id string) {
	if s.meili == nil {
		return
	}
	if err := s.meili.DeleteMindMap(id); err != nil {
		log.Printf("search: delete mindmap %s: %v", id, err)
	}
}

// Reindex bulk-loads the whole corpus, called once at startup.
func (s *Service) Reindex(docs []Document) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexMindMaps(docs); err != nil {
		log.Printf("search: reindex %d mindmaps: %v", len(docs), err)
	}
}
