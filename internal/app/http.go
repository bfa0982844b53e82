package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mindloom/api/internal/export"
	"mindloom/api/internal/util"
)

const maxBodyBytes = 4 << 20
const maxImageBytes = 10 << 20

// Server is the HTTP front of the service: routing, auth extraction
// and JSON framing live here, nothing else.
type Server struct {
	svc        *Service
	corsOrigin string
}

func NewServer(svc *Service, corsOrigin string) *Server {
	return &Server{svc: svc, corsOrigin: corsOrigin}
}

func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.withCORS(http.HandlerFunc(s.handle)))
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = util.NewID("req")
		}
		w.Header().Set("X-Request-Id", reqID)
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf(`{"reqId":%q,"method":%q,"path":%q,"durMs":%d}`,
			reqID, r.Method, r.URL.Path, time.Since(start).Milliseconds())
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case parts[0] == "health" && len(parts) == 1:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case parts[0] == "ready" && len(parts) == 1:
		s.handleReady(w, r)

	case parts[0] == "signup" && len(parts) == 1 && r.Method == http.MethodPost:
		s.handleSignUp(w, r)
	case parts[0] == "signin" && len(parts) == 1 && r.Method == http.MethodPost:
		s.handleSignIn(w, r)
	case parts[0] == "session" && len(parts) == 2 && parts[1] == "refresh" && r.Method == http.MethodPost:
		s.handleRefresh(w, r)
	case parts[0] == "session" && len(parts) == 2 && parts[1] == "logout" && r.Method == http.MethodPost:
		s.handleLogout(w, r)

	case parts[0] == "mindmaps" && len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.handleListMindMaps(w, r)
		case http.MethodPost:
			s.handleCreateMindMap(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "VALIDATION_ERROR", "Method not allowed", nil)
		}
	case parts[0] == "mindmaps" && len(parts) == 2 && parts[1] == "import-image" && r.Method == http.MethodPost:
		s.handleImportImage(w, r)
	case parts[0] == "mindmaps" && len(parts) == 2:
		switch r.Method {
		case http.MethodGet:
			s.handleGetMindMap(w, r, parts[1])
		case http.MethodPatch:
			s.handleUpdateMindMap(w, r, parts[1])
		default:
			writeError(w, http.StatusMethodNotAllowed, "VALIDATION_ERROR", "Method not allowed", nil)
		}
	case parts[0] == "mindmaps" && len(parts) == 3 && parts[2] == "history" && r.Method == http.MethodGet:
		s.handleMapHistory(w, r, parts[1])
	case parts[0] == "mindmaps" && len(parts) == 3 && parts[2] == "export" && r.Method == http.MethodPost:
		s.handleExport(w, r, parts[1])

	case parts[0] == "search" && len(parts) == 1 && r.Method == http.MethodGet:
		s.handleSearch(w, r)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "STORAGE_ERROR", "Database unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := s.svc.SignUp(r.Context(), body.Username, body.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := s.svc.SignIn(r.Context(), body.Username, body.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "refreshToken is required", nil)
		return
	}
	res, err := s.svc.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	// The body is optional; logout with no refresh token still revokes
	// the access token.
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
		return
	}
	if err := s.svc.Logout(r.Context(), sess, body.RefreshToken); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleListMindMaps(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	maps, err := s.svc.ListMindMaps(r.Context(), sess)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maps)
}

func (s *Server) handleCreateMindMap(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var in CreateMindMapInput
	if !decodeBody(w, r, &in) {
		return
	}
	m, err := s.svc.CreateMindMap(r.Context(), sess, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMindMap(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	m, err := s.svc.GetMindMap(r.Context(), sess, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMindMap(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var patch MindMapPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	m, err := s.svc.UpdateMindMap(r.Context(), sess, id, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMapHistory(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	commits, err := s.svc.MapHistory(r.Context(), sess, id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Format string `json:"format"`
	}
	// Format defaults to JSON when the body is empty.
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
		return
	}
	if body.Format == "" {
		body.Format = string(export.FormatJSON)
	}
	res, err := s.svc.Export(r.Context(), sess, id, export.Format(body.Format))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", res.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

func (s *Server) handleImportImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid multipart form", nil)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Image file is required", nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Could not read image", nil)
		return
	}
	nodes, err := s.svc.ImportImage(r.Context(), sess, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Query parameter q is required", nil)
		return
	}
	resp, err := s.svc.Search(r.Context(), sess, q, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// requireSession extracts and verifies the bearer token. A missing
// token is 401; a present but unusable one is 403.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing token", nil)
		return Session{}, false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Invalid token", nil)
		return Session{}, false
	}
	sess, err := s.svc.Authenticate(r.Context(), token)
	if err != nil {
		de := mapError(err)
		if de.Status == http.StatusInternalServerError {
			writeError(w, de.Status, de.Code, de.Message, de.Details)
		} else {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Invalid token", nil)
		}
		return Session{}, false
	}
	return sess, true
}

func splitPath(p string) []string {
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message, "details": details},
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	de := mapError(err)
	if de.Status >= http.StatusInternalServerError {
		log.Printf("http: %s: %v", de.Code, err)
	}
	writeError(w, de.Status, de.Code, de.Message, de.Details)
}
