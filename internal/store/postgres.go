package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mindloom/api/internal/util"
)

// Postgres is the primary data store for users and mind maps.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) CreateUser(ctx context.Context, u User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := p.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (p *Postgres) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := p.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// EnsureDemoUser returns the shared demo account, creating it on first
// use. The demo account has no usable password hash.
func (p *Postgres) EnsureDemoUser(ctx context.Context, username string) (User, error) {
	u, err := p.GetUserByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if err != sql.ErrNoRows {
		return User{}, err
	}
	u = User{
		ID:        util.NewID("user"),
		Username:  username,
		Role:      "demo",
		CreatedAt: time.Now().UTC(),
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1, $2, '', 'demo', $3)
		ON CONFLICT (username) DO NOTHING`,
		u.ID, u.Username, u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ensure demo user: %w", err)
	}
	return p.GetUserByUsername(ctx, username)
}

const mindmapColumns = `id, title, description, nodes, edges, collaborators, created_by, created_at, updated_at`

func (p *Postgres) InsertMindMap(ctx context.Context, m MindMap) error {
	nodes, edges, collabs, err := marshalGraph(m)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO mindmaps (`+mindmapColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Title, m.Description, nodes, edges, collabs,
		m.CreatedBy, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert mindmap: %w", err)
	}
	return nil
}

// ListMindMapsForUser returns maps the user owns or collaborates on,
// most recently updated first.
func (p *Postgres) ListMindMapsForUser(ctx context.Context, userID string) ([]MindMap, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+mindmapColumns+`
		FROM mindmaps
		WHERE created_by = $1
		   OR collaborators @> jsonb_build_array(jsonb_build_object('userId', $1::text))
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list mindmaps: %w", err)
	}
	defer rows.Close()
	return scanMindMaps(rows)
}

// ListAllMindMaps is used by the search reindexer.
func (p *Postgres) ListAllMindMaps(ctx context.Context) ([]MindMap, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+mindmapColumns+` FROM mindmaps`)
	if err != nil {
		return nil, fmt.Errorf("list all mindmaps: %w", err)
	}
	defer rows.Close()
	return scanMindMaps(rows)
}

// GetMindMapOwned fetches a map only when ownerID created it. A map
// that exists but belongs to someone else reads as sql.ErrNoRows, the
// same as a missing one.
func (p *Postgres) GetMindMapOwned(ctx context.Context, id, ownerID string) (MindMap, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+mindmapColumns+`
		FROM mindmaps WHERE id = $1 AND created_by = $2`, id, ownerID)
	return scanMindMap(row)
}

// GetMindMapForUser fetches a map the user owns or collaborates on.
func (p *Postgres) GetMindMapForUser(ctx context.Context, id, userID string) (MindMap, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+mindmapColumns+`
		FROM mindmaps
		WHERE id = $1
		  AND (created_by = $2
		       OR collaborators @> jsonb_build_array(jsonb_build_object('userId', $2::text)))`,
		id, userID)
	return scanMindMap(row)
}

// UpdateMindMap persists the full document. The owner filter repeats
// here so a stolen map id still cannot be written through.
func (p *Postgres) UpdateMindMap(ctx context.Context, m MindMap) error {
	nodes, edges, collabs, err := marshalGraph(m)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE mindmaps
		SET title = $3, description = $4, nodes = $5, edges = $6,
		    collaborators = $7, updated_at = $8
		WHERE id = $1 AND created_by = $2`,
		m.ID, m.CreatedBy, m.Title, m.Description, nodes, edges, collabs, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update mindmap: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mindmap: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *Postgres) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a refresh token hash to its user id.
// Expired sessions read as sql.ErrNoRows.
func (p *Postgres) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash = $1 AND expires_at > now()`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (p *Postgres) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (p *Postgres) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2) ON CONFLICT (jti) DO NOTHING`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (p *Postgres) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM revoked_access_tokens
			WHERE jti = $1 AND expires_at > now())`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func marshalGraph(m MindMap) (nodes, edges, collabs []byte, err error) {
	if nodes, err = json.Marshal(emptySlice(m.Nodes)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal nodes: %w", err)
	}
	if edges, err = json.Marshal(emptySlice(m.Edges)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal edges: %w", err)
	}
	if collabs, err = json.Marshal(emptySlice(m.Collaborators)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal collaborators: %w", err)
	}
	return nodes, edges, collabs, nil
}

// emptySlice keeps JSONB columns as [] instead of null.
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMindMap(row rowScanner) (MindMap, error) {
	var (
		m                    MindMap
		nodes, edges, collab []byte
	)
	err := row.Scan(&m.ID, &m.Title, &m.Description, &nodes, &edges, &collab,
		&m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return MindMap{}, err
	}
	if err := json.Unmarshal(nodes, &m.Nodes); err != nil {
		return MindMap{}, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &m.Edges); err != nil {
		return MindMap{}, fmt.Errorf("unmarshal edges: %w", err)
	}
	if err := json.Unmarshal(collab, &m.Collaborators); err != nil {
		return MindMap{}, fmt.Errorf("unmarshal collaborators: %w", err)
	}
	return m, nil
}

func scanMindMaps(rows *sql.Rows) ([]MindMap, error) {
	maps := []MindMap{}
	for rows.Next() {
		m, err := scanMindMap(rows)
		if err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan mindmaps: %w", err)
	}
	return maps, nil
}
