package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxMindMaps = "mindloom_mindmaps"

// Meili serves queries from a Meilisearch index of mind maps.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates the client and configures the index. The instance
// may start unhealthy; the background monitor picks it up once the
// server becomes reachable.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))
	m := &Meili{client: client, done: make(chan struct{})}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxMindMaps,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxMindMaps, err)
	}

	index := m.client.Index(idxMindMaps)
	filterable := []interface{}{"createdBy", "collaborators"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs: %v", err)
	}
	searchable := []string{"title", "description", "labels"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs: %v", err)
	}
	sortable := []string{"updatedAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Printf("search: update sortable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs a scoped query. The access filter mirrors the list
// endpoint: owner or collaborator only.
func (m *Meili) Search(q Query) (Response, error) {
	if !m.healthy.Load() {
		return Response{}, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	req := &meili.SearchRequest{
		Limit:  limit,
		Offset: int64(q.Offset),
		Sort:   []string{"updatedAt:desc"},
	}
	if q.UserID != "" {
		req.Filter = fmt.Sprintf("createdBy = %q OR collaborators = %q", q.UserID, q.UserID)
	}

	resp, err := m.client.Index(idxMindMaps).Search(q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return Response{}, fmt.Errorf("meilisearch search: %w", err)
	}

	out := Response{Total: resp.EstimatedTotalHits, Source: "meilisearch", Hits: []Hit{}}
	for _, hit := range resp.Hits {
		out.Hits = append(out.Hits, Hit{
			ID:          decodeString(hit, "id"),
			Title:       decodeString(hit, "title"),
			Description: decodeString(hit, "description"),
			UpdatedAt:   time.Unix(decodeInt(hit, "updatedAt"), 0).UTC(),
		})
	}
	return out, nil
}

// IndexMindMap adds or updates one map in the index.
func (m *Meili) IndexMindMap(doc Document) error {
	_, err := m.client.Index(idxMindMaps).AddDocuments([]Document{doc}, nil)
	return err
}

// IndexMindMaps bulk-indexes maps, used by the startup reindex.
func (m *Meili) IndexMindMaps(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMindMaps).AddDocuments(docs, nil)
	return err
}

// DeleteMindMap removes a map from the index.
func (m *Meili) DeleteMindMap(id string) error {
	_, err := m.client.Index(idxMindMaps).DeleteDocument(id, nil)
	return err
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}
