package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"marginalia/api/internal/auth"
	"marginalia/api/internal/store"
)

func loginFor(t *testing.T, svc *Service) string {
	t.Helper()
	session, err := svc.Login(context.Background(), "Avery")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return session.Token
}

func doRequest(server *HTTPServer, method, target, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestThreadEndpointRequiresSession(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")

	rr := doRequest(server, http.MethodGet, "/api/thread?uri=https://a", "", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestThreadEndpointReturnsProjectedTree(t *testing.T) {
	fs := &fakeStore{
		listAnnotationsByURIFn: func(_ context.Context, uri string) ([]store.Annotation, error) {
			return []store.Annotation{
				storedAnnotation("A", uri, "Avery", "top"),
				storedAnnotation("B", uri, "Blake", "reply", "A"),
			}, nil
		},
	}
	svc, _, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := loginFor(t, svc)

	rr := doRequest(server, http.MethodGet, "/api/thread?uri=https://a", token, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var root map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &root); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if root["id"] != "__root__" {
		t.Errorf("expected synthetic root, got %v", root["id"])
	}
	children, ok := root["children"].([]any)
	if !ok || len(children) != 1 {
		t.Fatalf("expected one top-level node, got %v", root["children"])
	}
	top := children[0].(map[string]any)
	if top["id"] != "A" {
		t.Errorf("expected node A, got %v", top["id"])
	}
	if top["totalChildren"] != float64(1) {
		t.Errorf("expected totalChildren 1, got %v", top["totalChildren"])
	}
}

func TestThreadExpandPersistsForViewer(t *testing.T) {
	fs := &fakeStore{
		listAnnotationsByURIFn: func(_ context.Context, uri string) ([]store.Annotation, error) {
			return []store.Annotation{
				storedAnnotation("A", uri, "Avery", "top"),
				storedAnnotation("B", uri, "Blake", "reply", "A"),
			}, nil
		},
	}
	svc, _, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := loginFor(t, svc)

	rr := doRequest(server, http.MethodPost, "/api/thread/expand", token,
		`{"uri":"https://a","annotationId":"A","expanded":true}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expand failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(server, http.MethodGet, "/api/thread?uri=https://a", token, "", nil)
	var root map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &root); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	top := root["children"].([]any)[0].(map[string]any)
	if top["collapsed"] != false {
		t.Errorf("expected persisted expansion, got collapsed=%v", top["collapsed"])
	}
}

func TestCreateAnnotationEndpoint(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")
	token := loginFor(t, svc)

	rr := doRequest(server, http.MethodPost, "/api/annotations", token,
		`{"uri":"https://a","text":"a note","tags":["todo"]}`, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if created["user"] != "Avery" {
		t.Errorf("expected session author, got %v", created["user"])
	}
	if created["id"] == "" {
		t.Error("expected generated id")
	}
}

func TestCreateAnnotationValidationErrors(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")
	token := loginFor(t, svc)

	rr := doRequest(server, http.MethodPost, "/api/annotations", token, `{"text":"missing uri"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}

	rr = doRequest(server, http.MethodPost, "/api/annotations", token,
		`{"uri":"https://a","text":"reply","references":["ghost"]}`, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWriteKeyGateOnMutatingRoutes(t *testing.T) {
	hash, err := auth.HashWriteKey("open-sesame")
	if err != nil {
		t.Fatalf("HashWriteKey() error = %v", err)
	}
	svc, _, _, _ := newTestService(&fakeStore{})
	svc.writeKey = auth.NewWriteKey(hash)
	server := NewHTTPServer(svc, "*")
	token := loginFor(t, svc)

	rr := doRequest(server, http.MethodPost, "/api/annotations", token,
		`{"uri":"https://a","text":"a note"}`, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without write key, got %d", rr.Code)
	}

	rr = doRequest(server, http.MethodPost, "/api/annotations", token,
		`{"uri":"https://a","text":"a note"}`, map[string]string{writeKeyHeader: "open-sesame"})
	if rr.Code != http.StatusCreated {
		t.Errorf("expected 201 with write key, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAnnotationHistoryEndpoint(t *testing.T) {
	fs := &fakeStore{
		getAnnotationFn: func(_ context.Context, id string) (store.Annotation, error) {
			return storedAnnotation(id, "https://a", "Avery", "a note"), nil
		},
	}
	svc, _, fr, _ := newTestService(fs)
	if _, err := fr.RecordCreate(toAnnotation(storedAnnotation("ann-1", "https://a", "Avery", "a note"))); err != nil {
		t.Fatalf("RecordCreate() error = %v", err)
	}
	server := NewHTTPServer(svc, "*")
	token := loginFor(t, svc)

	rr := doRequest(server, http.MethodGet, "/api/annotations/ann-1/history", token, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	revisions, ok := response["revisions"].([]any)
	if !ok || len(revisions) != 1 {
		t.Errorf("expected 1 revision, got %v", response["revisions"])
	}
}

func TestAnnotationSnapshotEndpoint(t *testing.T) {
	fs := &fakeStore{
		getAnnotationFn: func(_ context.Context, id string) (store.Annotation, error) {
			return storedAnnotation(id, "https://a", "Avery", "a note"), nil
		},
	}
	svc, _, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := loginFor(t, svc)

	rr := doRequest(server, http.MethodGet, "/api/annotations/ann-1/history/abc1234", token, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var snapshot map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if snapshot["id"] != "ann-1" {
		t.Errorf("expected snapshot of ann-1, got %v", snapshot["id"])
	}
}

func TestAnnotationNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")
	token := loginFor(t, svc)

	rr := doRequest(server, http.MethodGet, "/api/annotations/ghost", token, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestSearchEndpointRequiresQuery(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")
	token := loginFor(t, svc)

	rr := doRequest(server, http.MethodGet, "/api/search", token, "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestExportEndpointReturnsAttachment(t *testing.T) {
	fs := &fakeStore{
		listAnnotationsByURIFn: func(_ context.Context, uri string) ([]store.Annotation, error) {
			return []store.Annotation{storedAnnotation("A", uri, "Avery", "a note")}, nil
		},
	}
	svc, _, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := loginFor(t, svc)

	rr := doRequest(server, http.MethodPost, "/api/thread/export", token,
		`{"uri":"https://a","format":"html"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("unexpected content type %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") {
		t.Errorf("expected attachment disposition, got %q", got)
	}
}
