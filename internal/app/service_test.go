package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mindloom/api/internal/auth"
	"mindloom/api/internal/authpw"
	"mindloom/api/internal/export"
	"mindloom/api/internal/rbac"
	"mindloom/api/internal/search"
	"mindloom/api/internal/snapshot"
	"mindloom/api/internal/store"
)

// fakeStore is an in-memory dataStore that also backs authpw.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User // by id
	maps        map[string]store.MindMap
	revoked     map[string]bool
	insertCalls int
	updateCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]store.User{},
		maps:    map[string]store.MindMap{},
		revoked: map[string]bool{},
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateUser(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) EnsureDemoUser(ctx context.Context, username string) (store.User, error) {
	if u, err := f.GetUserByUsername(ctx, username); err == nil {
		return u, nil
	}
	u := store.User{ID: "user_demo", Username: username, Role: "demo", CreatedAt: time.Now()}
	f.CreateUser(ctx, u)
	return u, nil
}

func (f *fakeStore) InsertMindMap(_ context.Context, m store.MindMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	f.maps[m.ID] = m
	return nil
}

func (f *fakeStore) ListMindMapsForUser(_ context.Context, userID string) ([]store.MindMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.MindMap{}
	for _, m := range f.maps {
		if m.CreatedBy == userID {
			out = append(out, m)
			continue
		}
		for _, c := range m.Collaborators {
			if c.UserID == userID {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetMindMapOwned(_ context.Context, id, ownerID string) (store.MindMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.maps[id]
	if !ok || m.CreatedBy != ownerID {
		return store.MindMap{}, sql.ErrNoRows
	}
	return m, nil
}

func (f *fakeStore) GetMindMapForUser(_ context.Context, id, userID string) (store.MindMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.maps[id]
	if !ok {
		return store.MindMap{}, sql.ErrNoRows
	}
	if m.CreatedBy == userID {
		return m, nil
	}
	for _, c := range m.Collaborators {
		if c.UserID == userID {
			return m, nil
		}
	}
	return store.MindMap{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateMindMap(_ context.Context, m store.MindMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.maps[m.ID]
	if !ok || cur.CreatedBy != m.CreatedBy {
		return sql.ErrNoRows
	}
	f.updateCalls++
	f.maps[m.ID] = m
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]string // tokenHash -> userID
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]string{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[hash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.sessions[hash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, hash)
	return nil
}

type fakeSnapshots struct {
	mu      sync.Mutex
	records []string // mapID
}

func (f *fakeSnapshots) Record(_ context.Context, mapID string, _ []byte, _, _ string) (*snapshot.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, mapID)
	return &snapshot.Commit{Hash: "abc"}, nil
}

func (f *fakeSnapshots) History(_ context.Context, mapID string, _ int) ([]snapshot.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []snapshot.Commit{}
	for _, id := range f.records {
		if id == mapID {
			out = append(out, snapshot.Commit{Hash: "abc", Author: "ada"})
		}
	}
	return out, nil
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) (search.Response, error) {
	return search.Response{Hits: []search.Hit{}, Source: "fake"}, nil
}

func (f *fakeSearch) Index(doc search.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, doc.ID)
}

type testEnv struct {
	svc       *Service
	store     *fakeStore
	snapshots *fakeSnapshots
	search    *fakeSearch
}

func newTestEnv() *testEnv {
	fs := newFakeStore()
	snaps := &fakeSnapshots{}
	idx := &fakeSearch{}
	svc := NewService(ServiceConfig{
		Store:      fs,
		Sessions:   newFakeSessions(),
		Passwords:  authpw.NewService(fs, "demo@example.com"),
		Tokens:     auth.NewTokenService("test-secret", time.Hour),
		RefreshTTL: 24 * time.Hour,
		Snapshots:  snaps,
		Search:     idx,
		Exporter:   export.NewService(),
	})
	return &testEnv{svc: svc, store: fs, snapshots: snaps, search: idx}
}

func userSession() Session {
	return Session{UserID: "user_1", Username: "ada", Role: rbac.RoleUser, JTI: "jti_1", ExpiresAt: time.Now().Add(time.Hour)}
}

func demoSession() Session {
	return Session{UserID: "user_demo", Username: "demo@example.com", Role: rbac.RoleDemo, JTI: "jti_d", ExpiresAt: time.Now().Add(time.Hour)}
}

func validInput() CreateMindMapInput {
	return CreateMindMapInput{
		Title: "Trip",
		Nodes: []store.Node{{ID: "n1", Type: "default", Data: store.NodeData{Label: "Book flights"}}},
		Edges: []store.Edge{},
	}
}

func TestCreateMindMap(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	m, err := env.svc.CreateMindMap(ctx, userSession(), validInput())
	if err != nil {
		t.Fatalf("CreateMindMap: %v", err)
	}
	if !strings.HasPrefix(m.ID, "map_") {
		t.Errorf("id = %q", m.ID)
	}
	if m.CreatedBy != "user_1" {
		t.Errorf("createdBy = %q", m.CreatedBy)
	}
	if !m.UpdatedAt.Equal(m.CreatedAt) {
		t.Error("new map must have createdAt == updatedAt")
	}
	if env.store.insertCalls != 1 {
		t.Errorf("insert calls = %d", env.store.insertCalls)
	}
	// A save archives a snapshot and refreshes the index.
	if len(env.snapshots.records) != 1 || env.snapshots.records[0] != m.ID {
		t.Errorf("snapshot records = %v", env.snapshots.records)
	}
	if len(env.search.indexed) != 1 || env.search.indexed[0] != m.ID {
		t.Errorf("indexed = %v", env.search.indexed)
	}

	// An immediate list round-trips the exact document.
	maps, err := env.svc.ListMindMaps(ctx, userSession())
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 1 {
		t.Fatalf("list length = %d", len(maps))
	}
	got := maps[0]
	if got.Title != "Trip" || len(got.Nodes) != 1 || got.Nodes[0].Data.Label != "Book flights" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(got.UpdatedAt) {
		t.Error("fresh map must list with createdAt == updatedAt")
	}
}

func TestCreateMindMapDemoForbidden(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.CreateMindMap(context.Background(), demoSession(), validInput())
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 403 || de.Code != "FORBIDDEN" {
		t.Fatalf("got %v, want 403 FORBIDDEN", err)
	}
	if env.store.insertCalls != 0 {
		t.Error("demo create must never reach the store")
	}
}

func TestCreateMindMapValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.CreateMindMap(ctx, userSession(), CreateMindMapInput{Title: "   "})
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "VALIDATION_ERROR" {
		t.Errorf("blank title: got %v", err)
	}

	in := validInput()
	in.Nodes[0].Type = "hexagon"
	if _, err := env.svc.CreateMindMap(ctx, userSession(), in); !errors.As(err, &de) || de.Code != "VALIDATION_ERROR" {
		t.Errorf("bad node type: got %v", err)
	}
}

func TestUpdateMindMapPatchSemantics(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := userSession()

	m, err := env.svc.CreateMindMap(ctx, sess, validInput())
	if err != nil {
		t.Fatal(err)
	}

	title := "Trip v2"
	updated, err := env.svc.UpdateMindMap(ctx, sess, m.ID, MindMapPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateMindMap: %v", err)
	}
	if updated.Title != "Trip v2" {
		t.Errorf("title = %q", updated.Title)
	}
	// Untouched fields survive a partial patch.
	if len(updated.Nodes) != 1 || updated.Nodes[0].ID != "n1" {
		t.Errorf("nodes changed by title patch: %+v", updated.Nodes)
	}
	if !updated.UpdatedAt.After(m.UpdatedAt) && !updated.UpdatedAt.Equal(m.UpdatedAt) {
		t.Error("updatedAt must not go backwards")
	}

	// A nodes patch replaces the array wholesale.
	nodes := []store.Node{{ID: "n9", Type: "input", Data: store.NodeData{Label: "Fresh"}}}
	updated, err = env.svc.UpdateMindMap(ctx, sess, m.ID, MindMapPatch{Nodes: &nodes})
	if err != nil {
		t.Fatalf("UpdateMindMap nodes: %v", err)
	}
	if len(updated.Nodes) != 1 || updated.Nodes[0].ID != "n9" {
		t.Errorf("nodes = %+v, want wholesale replacement", updated.Nodes)
	}
	if updated.Title != "Trip v2" {
		t.Error("title lost by nodes patch")
	}
}

func TestUpdateMindMapNotOwner(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	// user_2 is a listed collaborator but still not the owner.
	in := validInput()
	in.Collaborators = []store.Collaborator{{UserID: "user_2", Role: "editor"}}
	m, err := env.svc.CreateMindMap(ctx, userSession(), in)
	if err != nil {
		t.Fatal(err)
	}

	other := Session{UserID: "user_2", Username: "grace", Role: rbac.RoleUser}
	title := "Hijack"
	_, err = env.svc.UpdateMindMap(ctx, other, m.ID, MindMapPatch{Title: &title})
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 404 {
		t.Fatalf("collaborator update: got %v, want 404", err)
	}

	// Missing id reads the same as foreign id.
	_, err = env.svc.UpdateMindMap(ctx, userSession(), "map_ghost", MindMapPatch{Title: &title})
	if !errors.As(err, &de) || de.Status != 404 {
		t.Fatalf("missing map: got %v, want 404", err)
	}
}

func TestUpdateMindMapDemoForbidden(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	m, err := env.svc.CreateMindMap(ctx, userSession(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	title := "x"
	_, err = env.svc.UpdateMindMap(ctx, demoSession(), m.ID, MindMapPatch{Title: &title})
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 403 {
		t.Fatalf("got %v, want 403", err)
	}
	if env.store.updateCalls != 0 {
		t.Error("demo update must never reach the store")
	}
}

func TestUpdateMindMapLastWriteWins(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := userSession()

	m, err := env.svc.CreateMindMap(ctx, sess, validInput())
	if err != nil {
		t.Fatal(err)
	}

	// Two sessions hold the same loaded revision. A adds node X and
	// saves; B, still on the pre-A snapshot, adds node Y and saves.
	// Without a compare-and-swap marker both succeed and B's array
	// silently drops X.
	withX := append(append([]store.Node{}, m.Nodes...),
		store.Node{ID: "nX", Type: "default", Data: store.NodeData{Label: "X"}})
	withY := append(append([]store.Node{}, m.Nodes...),
		store.Node{ID: "nY", Type: "default", Data: store.NodeData{Label: "Y"}})

	if _, err := env.svc.UpdateMindMap(ctx, sess, m.ID, MindMapPatch{Nodes: &withX}); err != nil {
		t.Fatalf("session A save: %v", err)
	}
	if _, err := env.svc.UpdateMindMap(ctx, sess, m.ID, MindMapPatch{Nodes: &withY}); err != nil {
		t.Fatalf("session B save: %v", err)
	}

	final, err := env.svc.GetMindMap(ctx, sess, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, n := range final.Nodes {
		ids[n.ID] = true
	}
	if !ids["nY"] || ids["nX"] {
		t.Errorf("final nodes = %v, want Y present and X lost", ids)
	}
}

func TestUpdateMindMapConflictCheck(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := userSession()

	m, err := env.svc.CreateMindMap(ctx, sess, validInput())
	if err != nil {
		t.Fatal(err)
	}

	// First writer advances updatedAt.
	t1 := "From client A"
	if _, err := env.svc.UpdateMindMap(ctx, sess, m.ID, MindMapPatch{Title: &t1}); err != nil {
		t.Fatal(err)
	}

	// Second writer pinned to the stale revision is rejected.
	t2 := "From client B"
	stale := m.UpdatedAt
	_, err = env.svc.UpdateMindMap(ctx, sess, m.ID, MindMapPatch{Title: &t2, ExpectedUpdatedAt: &stale})
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 409 || de.Code != "CONFLICT" {
		t.Fatalf("stale CAS update: got %v, want 409 CONFLICT", err)
	}
}

func TestListMindMapsScopedToCaller(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	mine, err := env.svc.CreateMindMap(ctx, userSession(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	other := Session{UserID: "user_2", Username: "grace", Role: rbac.RoleUser}
	in := validInput()
	in.Title = "Shared"
	in.Collaborators = []store.Collaborator{{UserID: "user_1", Role: "viewer"}}
	shared, err := env.svc.CreateMindMap(ctx, other, in)
	if err != nil {
		t.Fatal(err)
	}
	in2 := validInput()
	in2.Title = "Private"
	if _, err := env.svc.CreateMindMap(ctx, other, in2); err != nil {
		t.Fatal(err)
	}

	maps, err := env.svc.ListMindMaps(ctx, userSession())
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 2 {
		t.Fatalf("list length = %d, want owned + shared", len(maps))
	}
	ids := map[string]bool{}
	for _, m := range maps {
		ids[m.ID] = true
	}
	if !ids[mine.ID] || !ids[shared.ID] {
		t.Errorf("listed ids = %v", ids)
	}
}

func TestAuthRoundTrip(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	res, err := env.svc.SignUp(ctx, "ada", "correct-horse")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	sess, err := env.svc.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if sess.Username != "ada" || sess.Role != rbac.RoleUser {
		t.Errorf("session = %+v", sess)
	}

	// Refresh rotates: the old refresh token dies with the rotation.
	fresh, err := env.svc.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if fresh.Token == res.Token {
		t.Error("refresh must issue a new access token")
	}
	if _, err := env.svc.Refresh(ctx, res.RefreshToken); err == nil {
		t.Error("rotated refresh token must stop working")
	}

	// Logout revokes the access token.
	authSess, err := env.svc.Authenticate(ctx, fresh.Token)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Logout(ctx, authSess, fresh.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, fresh.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("after logout: got %v, want ErrInvalidToken", err)
	}
}

func TestMapHistory(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := userSession()

	m, err := env.svc.CreateMindMap(ctx, sess, validInput())
	if err != nil {
		t.Fatal(err)
	}
	title := "v2"
	if _, err := env.svc.UpdateMindMap(ctx, sess, m.ID, MindMapPatch{Title: &title}); err != nil {
		t.Fatal(err)
	}

	commits, err := env.svc.MapHistory(ctx, sess, m.ID, 10)
	if err != nil {
		t.Fatalf("MapHistory: %v", err)
	}
	if len(commits) != 2 {
		t.Errorf("commits = %d, want 2", len(commits))
	}

	// History of someone else's map is a 404.
	other := Session{UserID: "user_2", Username: "grace", Role: rbac.RoleUser}
	_, err = env.svc.MapHistory(ctx, other, m.ID, 10)
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 404 {
		t.Errorf("got %v, want 404", err)
	}
}
