package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marginalia/api/internal/auth"
	"marginalia/api/internal/export"
	"marginalia/api/internal/search"
)

const writeKeyHeader = "X-Marginalia-Write-Key"

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userName":  session.UserName,
			"userId":    session.UserID,
			"expiresAt": session.ExpiresAt,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/summary" {
		uri := r.URL.Query().Get("uri")
		if uri == "" {
			writeError(w, http.StatusBadRequest, "INVALID_URI", "uri query parameter is required", nil)
			return
		}
		summary, err := s.service.Summary(r.Context(), uri)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"uri":      summary.URI,
			"total":    summary.Total,
			"topLevel": summary.TopLevel,
			"users":    summary.Users,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "annotations" {
		s.handleAnnotations(w, r, parts[2:])
		return
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "thread" {
		s.handleThread(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"redis":    map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingPrefs(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleAnnotations(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		uri := r.URL.Query().Get("uri")
		if uri == "" {
			writeError(w, http.StatusBadRequest, "INVALID_URI", "uri query parameter is required", nil)
			return
		}
		annotations, err := s.service.ListAnnotations(r.Context(), uri)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"annotations": annotations, "total": len(annotations)})

	case len(rest) == 0 && r.Method == http.MethodPost:
		session, ok := s.requireWrite(w, r)
		if !ok {
			return
		}
		var input CreateAnnotationInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ann, err := s.service.CreateAnnotation(r.Context(), session, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, ann)

	case len(rest) == 1 && r.Method == http.MethodGet:
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		ann, err := s.service.GetAnnotation(r.Context(), rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, ann)

	case len(rest) == 1 && r.Method == http.MethodPatch:
		session, ok := s.requireWrite(w, r)
		if !ok {
			return
		}
		var input UpdateAnnotationInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ann, err := s.service.UpdateAnnotation(r.Context(), session, rest[0], input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, ann)

	case len(rest) == 1 && r.Method == http.MethodDelete:
		session, ok := s.requireWrite(w, r)
		if !ok {
			return
		}
		if err := s.service.DeleteAnnotation(r.Context(), session, rest[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})

	case len(rest) == 2 && rest[1] == "history" && r.Method == http.MethodGet:
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		limit := intQuery(r, "limit", 50)
		history, err := s.service.AnnotationHistory(r.Context(), rest[0], limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": history})

	case len(rest) == 3 && rest[1] == "history" && r.Method == http.MethodGet:
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		snapshot, err := s.service.AnnotationSnapshot(r.Context(), rest[0], rest[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleThread(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		root, err := s.service.GetThread(r.Context(), session.UserID, threadQueryFromRequest(r))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, root)

	case len(rest) == 1 && rest[0] == "expand" && r.Method == http.MethodPost:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var input ExpandInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetExpanded(r.Context(), session.UserID, input); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": true})

	case len(rest) == 1 && rest[0] == "force-visible" && r.Method == http.MethodPost:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var input ForceVisibleInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ForceVisible(r.Context(), session.UserID, input); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": true})

	case len(rest) == 1 && rest[0] == "state" && r.Method == http.MethodDelete:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		uri := r.URL.Query().Get("uri")
		if uri == "" {
			writeError(w, http.StatusBadRequest, "INVALID_URI", "uri query parameter is required", nil)
			return
		}
		if err := s.service.ClearViewState(r.Context(), session.UserID, uri); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cleared": true})

	case len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodPost:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body struct {
			URI         string   `json:"uri"`
			Query       string   `json:"q"`
			Selected    []string `json:"selected"`
			Highlighted []string `json:"highlighted"`
			Sort        string   `json:"sort"`
			ReplySort   string   `json:"replySort"`
			Format      string   `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.ExportThread(r.Context(), session.UserID, ThreadQuery{
			URI:         body.URI,
			Query:       body.Query,
			Selected:    body.Selected,
			Highlighted: body.Highlighted,
			Sort:        body.Sort,
			ReplySort:   body.ReplySort,
		}, export.Format(body.Format))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func threadQueryFromRequest(r *http.Request) ThreadQuery {
	params := r.URL.Query()
	return ThreadQuery{
		URI:         params.Get("uri"),
		Query:       params.Get("q"),
		Selected:    csvQuery(params.Get("selected")),
		Highlighted: csvQuery(params.Get("highlighted")),
		Sort:        params.Get("sort"),
		ReplySort:   params.Get("replySort"),
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireSession(w, r); !ok {
		return
	}
	params := r.URL.Query()
	text := strings.TrimSpace(params.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "q query parameter is required", nil)
		return
	}
	response := s.service.SearchAnnotations(search.Query{
		Text:       text,
		FilterURI:  params.Get("uri"),
		FilterUser: params.Get("user"),
		Limit:      intQuery(r, "limit", 20),
		Offset:     intQuery(r, "offset", 0),
	})
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// requireWrite is requireSession plus the deployment write key on mutating
// routes.
func (s *HTTPServer) requireWrite(w http.ResponseWriter, r *http.Request) (Session, bool) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return Session{}, false
	}
	if !s.service.VerifyWriteKey(r.Header.Get(writeKeyHeader)) {
		writeError(w, http.StatusForbidden, "WRITE_KEY_REQUIRED", "Missing or invalid write key", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, "+writeKeyHeader)
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func csvQuery(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func intQuery(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
