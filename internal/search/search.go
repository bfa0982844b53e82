// Package search finds mind maps by text. Meilisearch serves queries
// when it is reachable; otherwise Postgres full-text search answers,
// so search never depends on the sidecar being up.
package search

import (
	"time"

	"mindloom/api/internal/store"
)

// Query is a scoped search request. UserID limits results to maps the
// caller owns or collaborates on.
type Query struct {
	Text   string
	UserID string
	Limit  int
	Offset int
}

// Hit is one search result row.
type Hit struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Response carries hits plus which backend produced them.
type Response struct {
	Hits   []Hit  `json:"hits"`
	Total  int64  `json:"total"`
	Source string `json:"source"`
}

// Document is the denormalized record kept in the search index.
type Document struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Labels        []string `json:"labels"`
	CreatedBy     string   `json:"createdBy"`
	Collaborators []string `json:"collaborators"`
	UpdatedAt     int64    `json:"updatedAt"`
}

// DocumentFromMindMap flattens a map into its searchable form. Node
// labels are indexed so a map is findable by its content, not just its
// title.
func DocumentFromMindMap(m store.MindMap) Document {
	labels := make([]string, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		if n.Data.Label != "" {
			labels = append(labels, n.Data.Label)
		}
	}
	collabs := make([]string, 0, len(m.Collaborators))
	for _, c := range m.Collaborators {
		collabs = append(collabs, c.UserID)
	}
	return Document{
		ID:            m.ID,
		Title:         m.Title,
		Description:   m.Description,
		Labels:        labels,
		CreatedBy:     m.CreatedBy,
		Collaborators: collabs,
		UpdatedAt:     m.UpdatedAt.Unix(),
	}
}
