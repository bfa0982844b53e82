package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"mindloom/api/internal/auth"
	"mindloom/api/internal/authpw"
	"mindloom/api/internal/export"
	"mindloom/api/internal/ocr"
	"mindloom/api/internal/rbac"
	"mindloom/api/internal/search"
	"mindloom/api/internal/snapshot"
	"mindloom/api/internal/store"
	"mindloom/api/internal/task"
	"mindloom/api/internal/util"
)

// dataStore is what the service needs from Postgres. Tests swap in a
// fake.
type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, id string) (store.User, error)
	InsertMindMap(ctx context.Context, m store.MindMap) error
	ListMindMapsForUser(ctx context.Context, userID string) ([]store.MindMap, error)
	GetMindMapOwned(ctx context.Context, id, ownerID string) (store.MindMap, error)
	GetMindMapForUser(ctx context.Context, id, userID string) (store.MindMap, error)
	UpdateMindMap(ctx context.Context, m store.MindMap) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// sessionStore holds refresh sessions, in Redis or Postgres.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type snapshotter interface {
	Record(ctx context.Context, mapID string, doc []byte, author, message string) (*snapshot.Commit, error)
	History(ctx context.Context, mapID string, limit int) ([]snapshot.Commit, error)
}

type searcher interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
	Index(doc search.Document)
}

type exporter interface {
	Export(ctx context.Context, m store.MindMap, format export.Format) (*export.Result, error)
}

type ocrClient interface {
	ExtractLines(ctx context.Context, image []byte, filename string) ([]string, error)
}

type imageArchive interface {
	PutImage(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// Session identifies an authenticated caller for the duration of one
// request.
type Session struct {
	UserID    string
	Username  string
	Role      rbac.Role
	JTI       string
	ExpiresAt time.Time
}

// AuthResult is what sign-up, sign-in and refresh hand back.
type AuthResult struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	User         store.User `json:"user"`
}

// Service implements every API operation. The HTTP layer only parses
// and serializes.
type Service struct {
	store      dataStore
	sessions   sessionStore
	passwords  *authpw.Service
	tokens     *auth.TokenService
	refreshTTL time.Duration

	snapshots snapshotter
	search    searcher
	exporter  exporter
	ocr       ocrClient
	images    imageArchive
}

type ServiceConfig struct {
	Store      dataStore
	Sessions   sessionStore
	Passwords  *authpw.Service
	Tokens     *auth.TokenService
	RefreshTTL time.Duration

	Snapshots snapshotter
	Search    searcher
	Exporter  exporter
	OCR       ocrClient
	Images    imageArchive
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		passwords:  cfg.Passwords,
		tokens:     cfg.Tokens,
		refreshTTL: cfg.RefreshTTL,
		snapshots:  cfg.Snapshots,
		search:     cfg.Search,
		exporter:   cfg.Exporter,
		ocr:        cfg.OCR,
		images:     cfg.Images,
	}
}

func (s *Service) SignUp(ctx context.Context, username, password string) (AuthResult, error) {
	u, err := s.passwords.SignUp(ctx, username, password)
	if err != nil {
		return AuthResult{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) SignIn(ctx context.Context, username, password string) (AuthResult, error) {
	u, err := s.passwords.SignIn(ctx, username, password)
	if err != nil {
		return AuthResult{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) issueSession(ctx context.Context, u store.User) (AuthResult, error) {
	token, _, exp, err := s.tokens.Issue(u.ID, u.Username, string(rbac.Normalize(u.Role)))
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	refresh := util.NewID("rt")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), u.ID, time.Now().Add(s.refreshTTL)); err != nil {
		return AuthResult{}, fmt.Errorf("save refresh session: %w", err)
	}
	return AuthResult{Token: token, RefreshToken: refresh, ExpiresAt: exp, User: u}, nil
}

// Refresh rotates a refresh token: the old one stops working the
// moment the new pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	hash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return AuthResult{}, unauthorizedError("Invalid refresh token")
	}
	if err != nil {
		return AuthResult{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return AuthResult{}, fmt.Errorf("rotate refresh session: %w", err)
	}
	return s.issueSession(ctx, u)
}

// Logout revokes the refresh session and blacklists the access token
// for its remaining lifetime.
func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return fmt.Errorf("revoke refresh session: %w", err)
		}
	}
	if err := s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

// Authenticate turns a bearer token into a Session. Revoked tokens
// fail the same way invalid ones do.
func (s *Service) Authenticate(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		UserID:    claims.Sub,
		Username:  claims.Username,
		Role:      rbac.Normalize(claims.Role),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// CreateMindMapInput is the POST /mindmaps body.
type CreateMindMapInput struct {
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	Nodes         []store.Node         `json:"nodes"`
	Edges         []store.Edge         `json:"edges"`
	Collaborators []store.Collaborator `json:"collaborators"`
}

// MindMapPatch is the PATCH /mindmaps/:id body. Nil fields stay
// untouched; present fields replace the stored value wholesale.
// ExpectedUpdatedAt, when set, turns the save into a compare-and-swap.
type MindMapPatch struct {
	Title             *string               `json:"title"`
	Description       *string               `json:"description"`
	Nodes             *[]store.Node         `json:"nodes"`
	Edges             *[]store.Edge         `json:"edges"`
	Collaborators     *[]store.Collaborator `json:"collaborators"`
	ExpectedUpdatedAt *time.Time            `json:"expectedUpdatedAt"`
}

func (s *Service) CreateMindMap(ctx context.Context, sess Session, in CreateMindMapInput) (store.MindMap, error) {
	if !rbac.Can(sess.Role, rbac.ActionCreate) {
		return store.MindMap{}, forbiddenError("Demo accounts cannot save maps")
	}
	if strings.TrimSpace(in.Title) == "" {
		return store.MindMap{}, validationError("Title is required", nil)
	}
	if err := validateGraph(in.Nodes, in.Edges); err != nil {
		return store.MindMap{}, err
	}

	now := time.Now().UTC()
	m := store.MindMap{
		ID:            util.NewID("map"),
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		Nodes:         in.Nodes,
		Edges:         in.Edges,
		Collaborators: in.Collaborators,
		CreatedBy:     sess.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertMindMap(ctx, m); err != nil {
		return store.MindMap{}, storageError("Could not save map")
	}
	s.afterSave(ctx, sess, m, "create")
	return m, nil
}

func (s *Service) UpdateMindMap(ctx context.Context, sess Session, id string, patch MindMapPatch) (store.MindMap, error) {
	if !rbac.Can(sess.Role, rbac.ActionUpdate) {
		return store.MindMap{}, forbiddenError("Demo accounts cannot save maps")
	}

	m, err := s.store.GetMindMapOwned(ctx, id, sess.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.MindMap{}, notFoundError("Map not found")
	}
	if err != nil {
		return store.MindMap{}, storageError("Could not load map")
	}

	if patch.ExpectedUpdatedAt != nil && !m.UpdatedAt.Equal(*patch.ExpectedUpdatedAt) {
		return store.MindMap{}, conflictError("Map was modified since it was loaded")
	}

	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return store.MindMap{}, validationError("Title is required", nil)
		}
		m.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		m.Description = *patch.Description
	}
	if patch.Nodes != nil {
		m.Nodes = *patch.Nodes
	}
	if patch.Edges != nil {
		m.Edges = *patch.Edges
	}
	if patch.Collaborators != nil {
		m.Collaborators = *patch.Collaborators
	}
	if err := validateGraph(m.Nodes, m.Edges); err != nil {
		return store.MindMap{}, err
	}

	m.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateMindMap(ctx, m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.MindMap{}, notFoundError("Map not found")
		}
		return store.MindMap{}, storageError("Could not save map")
	}
	s.afterSave(ctx, sess, m, "update")
	return m, nil
}

func (s *Service) ListMindMaps(ctx context.Context, sess Session) ([]store.MindMap, error) {
	maps, err := s.store.ListMindMapsForUser(ctx, sess.UserID)
	if err != nil {
		return nil, storageError("Could not list maps")
	}
	return maps, nil
}

func (s *Service) GetMindMap(ctx context.Context, sess Session, id string) (store.MindMap, error) {
	m, err := s.store.GetMindMapForUser(ctx, id, sess.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.MindMap{}, notFoundError("Map not found")
	}
	if err != nil {
		return store.MindMap{}, storageError("Could not load map")
	}
	return m, nil
}

// MapHistory returns archived save commits, newest first.
func (s *Service) MapHistory(ctx context.Context, sess Session, id string, limit int) ([]snapshot.Commit, error) {
	if _, err := s.GetMindMap(ctx, sess, id); err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return []snapshot.Commit{}, nil
	}
	commits, err := s.snapshots.History(ctx, id, limit)
	if err != nil {
		return nil, storageError("Could not read map history")
	}
	return commits, nil
}

func (s *Service) Export(ctx context.Context, sess Session, id string, format export.Format) (*export.Result, error) {
	m, err := s.GetMindMap(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, m, format)
}

// ImportImage runs OCR on an uploaded image and returns nodes laid
// out on the import grid. Nothing is persisted; the client folds the
// nodes into its canvas and saves as usual.
func (s *Service) ImportImage(ctx context.Context, sess Session, filename, contentType string, data []byte) ([]store.Node, error) {
	if s.ocr == nil {
		return nil, &DomainError{Status: http.StatusServiceUnavailable, Code: "SERVER_ERROR", Message: "Image import not configured"}
	}
	if len(data) == 0 {
		return nil, validationError("Image is required", nil)
	}
	lines, err := s.ocr.ExtractLines(ctx, data, filename)
	if err != nil {
		return nil, &DomainError{Status: http.StatusBadGateway, Code: "SERVER_ERROR", Message: "Text recognition failed"}
	}
	if s.images != nil {
		if _, err := s.images.PutImage(ctx, sess.UserID+"-"+filename, data, contentType); err != nil {
			log.Printf("import: archive image: %v", err)
		}
	}
	return ocr.NodesFromLines(lines), nil
}

func (s *Service) Search(ctx context.Context, sess Session, text string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Hits: []search.Hit{}}, nil
	}
	resp, err := s.search.Search(ctx, search.Query{Text: text, UserID: sess.UserID, Limit: limit, Offset: offset})
	if err != nil {
		return search.Response{}, storageError("Search failed")
	}
	return resp, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// afterSave archives the accepted revision and refreshes the search
// index. Both are best-effort; the save already succeeded.
func (s *Service) afterSave(ctx context.Context, sess Session, m store.MindMap, action string) {
	if s.snapshots != nil {
		doc, err := json.MarshalIndent(m, "", "  ")
		if err == nil {
			msg := fmt.Sprintf("%s %q by %s", action, m.Title, sess.Username)
			if _, err := s.snapshots.Record(ctx, m.ID, doc, sess.Username, msg); err != nil {
				log.Printf("snapshot: record %s: %v", m.ID, err)
			}
		}
	}
	if s.search != nil {
		s.search.Index(search.DocumentFromMindMap(m))
	}
}

func validateGraph(nodes []store.Node, edges []store.Edge) error {
	for _, n := range nodes {
		if n.ID == "" {
			return validationError("Node id is required", nil)
		}
		if !store.ValidNodeType(n.Type) {
			return validationError("Unknown node type", map[string]string{"nodeId": n.ID, "type": n.Type})
		}
		if t := n.Data.Task; t != nil {
			if !task.ValidStatus(t.Status) {
				return validationError("Unknown task status", map[string]string{"nodeId": n.ID, "status": string(t.Status)})
			}
			if t.Progress < 0 || t.Progress > 100 {
				return validationError("Task progress out of range", map[string]string{"nodeId": n.ID})
			}
		}
	}
	for _, e := range edges {
		if e.ID == "" || e.Source == "" || e.Target == "" {
			return validationError("Edge id, source and target are required", nil)
		}
	}
	return nil
}
