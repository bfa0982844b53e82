package search

import (
	"testing"
	"time"

	"mindloom/api/internal/store"
)

func TestDocumentFromMindMap(t *testing.T) {
	m := store.MindMap{
		ID:          "map_1",
		Title:       "Trip",
		Description: "Summer planning",
		Nodes: []store.Node{
			{ID: "n1", Data: store.NodeData{Label: "Book flights"}},
			{ID: "n2", Data: store.NodeData{Label: ""}},
			{ID: "n3", Data: store.NodeData{Label: "Pack"}},
		},
		Collaborators: []store.Collaborator{{UserID: "user_2", Role: "editor"}},
		CreatedBy:     "user_1",
		UpdatedAt:     time.Unix(1700000000, 0),
	}

	doc := DocumentFromMindMap(m)
	if doc.ID != "map_1" || doc.Title != "Trip" {
		t.Errorf("unexpected doc: %+v", doc)
	}
	if len(doc.Labels) != 2 || doc.Labels[0] != "Book flights" || doc.Labels[1] != "Pack" {
		t.Errorf("labels = %v, blank labels must be skipped", doc.Labels)
	}
	if len(doc.Collaborators) != 1 || doc.Collaborators[0] != "user_2" {
		t.Errorf("collaborators = %v", doc.Collaborators)
	}
	if doc.UpdatedAt != 1700000000 {
		t.Errorf("updatedAt = %d", doc.UpdatedAt)
	}
}
