package snapshot

import (
	"context"
	"testing"
)

func TestRecordAndHistory(t *testing.T) {
	svc, err := NewService(t.TempDir())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	c1, err := svc.Record(ctx, "map_1", []byte(`{"title":"v1"}`), "ada", "save")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if c1 == nil || c1.Hash == "" {
		t.Fatal("expected a commit for the first save")
	}

	c2, err := svc.Record(ctx, "map_1", []byte(`{"title":"v2"}`), "grace", "save")
	if err != nil {
		t.Fatalf("Record v2: %v", err)
	}
	if c2 == nil || c2.Hash == c1.Hash {
		t.Fatal("expected a distinct commit for changed content")
	}

	history, err := svc.History(ctx, "map_1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Hash != c2.Hash {
		t.Errorf("newest first: got %q, want %q", history[0].Hash, c2.Hash)
	}
	if history[0].Author != "grace" || history[1].Author != "ada" {
		t.Errorf("authors = %q, %q", history[0].Author, history[1].Author)
	}
}

func TestRecordSkipsUnchangedContent(t *testing.T) {
	svc, err := NewService(t.TempDir())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	doc := []byte(`{"title":"same"}`)
	if _, err := svc.Record(ctx, "map_1", doc, "ada", "save"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	c, err := svc.Record(ctx, "map_1", doc, "ada", "save")
	if err != nil {
		t.Fatalf("Record (repeat): %v", err)
	}
	if c != nil {
		t.Error("identical content should not produce a commit")
	}

	history, err := svc.History(ctx, "map_1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1", len(history))
	}
}

func TestHistoryForUnknownMap(t *testing.T) {
	svc, err := NewService(t.TempDir())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	history, err := svc.History(context.Background(), "map_missing", 5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history, got %d entries", len(history))
	}
}

func TestRevision(t *testing.T) {
	svc, err := NewService(t.TempDir())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	c1, err := svc.Record(ctx, "map_1", []byte(`{"title":"v1"}`), "ada", "save")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := svc.Record(ctx, "map_1", []byte(`{"title":"v2"}`), "ada", "save"); err != nil {
		t.Fatalf("Record v2: %v", err)
	}

	body, err := svc.Revision(ctx, "map_1", c1.Hash)
	if err != nil {
		t.Fatalf("Revision: %v", err)
	}
	if string(body) != `{"title":"v1"}` {
		t.Errorf("revision body = %s", body)
	}
}
