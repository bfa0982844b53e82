package store

import (
	"time"

	"mindloom/api/internal/task"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Position is a node's canvas placement in pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData is the renderable payload of a node. Task is nil until the
// node is first opened in the task panel.
type NodeData struct {
	Label string     `json:"label"`
	Task  *task.Task `json:"task,omitempty"`
}

type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Data     NodeData `json:"data"`
	Position Position `json:"position"`
}

// ValidNodeType reports whether t is a renderer the canvas knows.
func ValidNodeType(t string) bool {
	switch t {
	case "default", "input", "output", "custom":
		return true
	}
	return false
}

type Edge struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Type     string `json:"type,omitempty"`
	Animated bool   `json:"animated,omitempty"`
	Label    string `json:"label,omitempty"`
}

type Collaborator struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// MindMap is the whole document: graph, ownership and sharing in one
// record. Nodes, edges and collaborators live as JSONB columns.
type MindMap struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Nodes         []Node         `json:"nodes"`
	Edges         []Edge         `json:"edges"`
	Collaborators []Collaborator `json:"collaborators"`
	CreatedBy     string         `json:"createdBy"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}
