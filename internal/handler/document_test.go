package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"scrapbook/internal/auth"
	"scrapbook/internal/domain/models"
	"scrapbook/internal/middleware"
	"scrapbook/internal/render"
	"scrapbook/internal/repository/memory"
	serviceAuth "scrapbook/internal/service/auth"
	serviceDocsys "scrapbook/internal/service/docsystem"
)

const testSecret = "handler-test-secret"

type testServer struct {
	t       *testing.T
	handler http.Handler
	sync    *serviceDocsys.IndexSynchronizer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.NewVersionStore()
	index := memory.NewSearchIndex()
	sync := serviceDocsys.NewIndexSynchronizer(store, index, serviceDocsys.SyncConfig{}, nil, logger)
	t.Cleanup(sync.Close)

	verifier, err := auth.NewHMACVerifier(testSecret, logger)
	if err != nil {
		t.Fatalf("NewHMACVerifier() error = %v", err)
	}
	renderer, err := render.New(render.EngineLatex, 0, logger)
	if err != nil {
		t.Fatalf("render.New() error = %v", err)
	}

	repo := serviceDocsys.NewRepository(store, sync, logger)
	ledger := serviceDocsys.NewLedger(store, sync, logger)
	forks := serviceDocsys.NewForkEngine(store, repo, logger)
	guard := serviceAuth.NewGuard(verifier, logger)
	svc := serviceDocsys.NewDocumentService(repo, ledger, forks, guard, index, renderer, logger)

	mux := http.NewServeMux()
	NewDocumentHandler(svc, logger).Register(mux)
	NewIndexHandler(sync, logger).Register(mux)

	return &testServer{t: t, handler: middleware.Auth()(mux), sync: sync}
}

func (s *testServer) token(username string) string {
	s.t.Helper()
	token, err := auth.SignHMAC(testSecret, &models.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "sub-" + username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Username: username,
		Role:     "authenticated",
	})
	if err != nil {
		s.t.Fatalf("SignHMAC() error = %v", err)
	}
	return token
}

// do sends a request as user ("" for anonymous) and returns the recorder
func (s *testServer) do(method, path, user string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(user))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type documentResponse struct {
	Author        string `json:"author"`
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Title         string `json:"title"`
	Text          string `json:"text"`
	HeadVersionID string `json:"head_version_id"`
	HeadSeq       int64  `json:"head_seq"`
	ContentHash   string `json:"content_hash"`
	ForkedFrom    *struct {
		Author    string `json:"author"`
		ID        string `json:"id"`
		VersionID string `json:"version_id"`
	} `json:"forked_from"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %T: %v (body %s)", out, err, rec.Body.String())
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func (s *testServer) create(user, text string) documentResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/documents/new", user, map[string]string{"text": text})
	expectStatus(s.t, rec, http.StatusCreated)
	return decode[documentResponse](s.t, rec)
}

func TestDocumentRoutes_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	// Anonymous create is refused
	rec := s.do(http.MethodPost, "/documents/new", "", map[string]string{"text": "x"})
	expectStatus(t, rec, http.StatusForbidden)
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q", ct)
	}

	doc := s.create("amy", "hello world")
	if doc.Author != "amy" || doc.Text != "hello world" || doc.HeadSeq != 1 {
		t.Fatalf("created = %+v", doc)
	}
	path := "/documents/amy/" + doc.ID

	rec = s.do(http.MethodGet, path, "", nil)
	expectStatus(t, rec, http.StatusOK)
	etag := rec.Header().Get("ETag")
	if etag != `"`+doc.ContentHash+`"` {
		t.Errorf("ETag = %q, want hash %q", etag, doc.ContentHash)
	}
	rec = s.do(http.MethodGet, path, "", nil, "If-None-Match", etag)
	expectStatus(t, rec, http.StatusNotModified)

	// Only the owner may update
	rec = s.do(http.MethodPost, path, "bob", map[string]string{"content": "bob was here"})
	expectStatus(t, rec, http.StatusForbidden)
	rec = s.do(http.MethodPost, path, "amy", map[string]string{"content": "hello there world", "message": "expand"})
	expectStatus(t, rec, http.StatusOK)
	updated := decode[documentResponse](t, rec)
	if updated.HeadSeq != 2 || updated.Text != "hello there world" {
		t.Errorf("updated = %+v", updated)
	}

	// Stale base version conflicts
	rec = s.do(http.MethodPost, path, "amy", map[string]string{"content": "stale", "base_version": doc.HeadVersionID})
	expectStatus(t, rec, http.StatusConflict)
	problem := decode[map[string]interface{}](t, rec)
	if problem["expected_head"] != float64(1) || problem["actual_head"] != float64(2) {
		t.Errorf("conflict problem = %v", problem)
	}

	rec = s.do(http.MethodGet, path+"/history", "", nil)
	expectStatus(t, rec, http.StatusOK)
	history := decode[[][2]string](t, rec)
	if len(history) != 2 || history[0][0] != "expand" || history[1][1] != doc.HeadVersionID {
		t.Errorf("history = %v", history)
	}

	rec = s.do(http.MethodGet, path+"/history?limit=1", "", nil)
	expectStatus(t, rec, http.StatusOK)
	page := decode[struct {
		Entries    []map[string]interface{} `json:"entries"`
		NextBefore int64                    `json:"next_before"`
	}](t, rec)
	if len(page.Entries) != 1 || page.NextBefore != 2 {
		t.Errorf("page = %+v", page)
	}

	rec = s.do(http.MethodGet, path+"/versions/1", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if v := decode[map[string]interface{}](t, rec); v["id"] != doc.HeadVersionID {
		t.Errorf("version 1 = %v", v)
	}

	rec = s.do(http.MethodGet, path+"/diff", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if d := decode[map[string]interface{}](t, rec); d["added"] != float64(len("there ")) {
		t.Errorf("diff = %v", d)
	}

	rec = s.do(http.MethodGet, path+"/pdf", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-tex" {
		t.Errorf("render content type = %q", ct)
	}

	// Fork into bob's namespace
	rec = s.do(http.MethodPost, path+"/fork", "bob", nil)
	expectStatus(t, rec, http.StatusCreated)
	fork := decode[documentResponse](t, rec)
	if fork.Author != "bob" || fork.ForkedFrom == nil || fork.ForkedFrom.ID != doc.ID {
		t.Errorf("fork = %+v", fork)
	}
	if loc := rec.Header().Get("Location"); loc != "/documents/bob/"+fork.ID {
		t.Errorf("Location = %q", loc)
	}

	rec = s.do(http.MethodDelete, path, "bob", nil)
	expectStatus(t, rec, http.StatusForbidden)
	rec = s.do(http.MethodDelete, path, "amy", nil)
	expectStatus(t, rec, http.StatusNoContent)
	rec = s.do(http.MethodGet, path, "", nil)
	expectStatus(t, rec, http.StatusNotFound)

	// The fork survives its source's deletion
	rec = s.do(http.MethodGet, "/documents/bob/"+fork.ID, "", nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestDocumentRoutes_ListByAuthor(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/documents/nobody", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %s, want []", body)
	}

	s.create("amy", "one")
	s.create("amy", "two")
	rec = s.do(http.MethodGet, "/documents/amy", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if docs := decode[[]documentResponse](t, rec); len(docs) != 2 {
		t.Errorf("listed %d documents, want 2", len(docs))
	}
}

func TestDocumentRoutes_BookMissingChild(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/documents/new", "amy", map[string]interface{}{
		"kind":     "book",
		"children": []string{"does-not-exist"},
	})
	expectStatus(t, rec, http.StatusFailedDependency)
	if problem := decode[map[string]interface{}](t, rec); problem["missing"] != "amy/does-not-exist" {
		t.Errorf("problem = %v", problem)
	}

	scrap := s.create("amy", "chapter")
	rec = s.do(http.MethodPost, "/documents/new", "amy", map[string]interface{}{
		"kind":     "book",
		"title":    "Book",
		"children": []string{scrap.ID},
	})
	expectStatus(t, rec, http.StatusCreated)
	book := decode[documentResponse](t, rec)

	expectStatus(t, s.do(http.MethodDelete, "/documents/amy/"+scrap.ID, "amy", nil), http.StatusNoContent)
	expectStatus(t, s.do(http.MethodGet, "/documents/amy/"+book.ID, "", nil), http.StatusFailedDependency)
}

func TestDocumentRoutes_BadRequests(t *testing.T) {
	s := newTestServer(t)
	doc := s.create("amy", "text")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"malformed json", http.MethodPost, "/documents/new", "{not json", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/documents/new", `{"text":"x","owner":"amy"}`, http.StatusBadRequest},
		{"unknown kind", http.MethodPost, "/documents/new", map[string]string{"kind": "poem"}, http.StatusBadRequest},
		{"bad history limit", http.MethodGet, "/documents/amy/" + doc.ID + "/history?limit=ten", nil, http.StatusBadRequest},
		{"bad version ref", http.MethodGet, "/documents/amy/" + doc.ID + "/versions/latest", nil, http.StatusBadRequest},
		{"missing version", http.MethodGet, "/documents/amy/" + doc.ID + "/versions/7", nil, http.StatusNotFound},
		{"unknown document", http.MethodGet, "/documents/amy/nope", nil, http.StatusNotFound},
		{"empty search", http.MethodGet, "/search?q=", nil, http.StatusBadRequest},
		{"search limit too high", http.MethodGet, "/search?q=x&limit=1000", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, "amy", tt.body)
			expectStatus(t, rec, tt.want)
		})
	}
}

func TestDocumentRoutes_SearchAndIndexAdmin(t *testing.T) {
	s := newTestServer(t)
	s.create("amy", "the quick brown fox")
	s.create("bob", "lazy dog")
	s.sync.Close()

	rec := s.do(http.MethodGet, "/search?q=fox", "", nil)
	expectStatus(t, rec, http.StatusOK)
	results := decode[struct {
		Results []struct {
			Document struct {
				Author string `json:"author"`
			} `json:"document"`
		} `json:"results"`
		TotalCount int `json:"total_count"`
	}](t, rec)
	if results.TotalCount != 1 || results.Results[0].Document.Author != "amy" {
		t.Errorf("results = %+v", results)
	}

	rec = s.do(http.MethodGet, "/search?q=dog&author=amy", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if r := decode[map[string]interface{}](t, rec); r["total_count"] != float64(0) {
		t.Errorf("author filter ignored: %v", r)
	}

	rec = s.do(http.MethodGet, "/admin/index/failures", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if r := decode[map[string]interface{}](t, rec); len(r["failures"].([]interface{})) != 0 {
		t.Errorf("failures = %v", r)
	}
	expectStatus(t, s.do(http.MethodPost, "/admin/index/resync", "", nil), http.StatusOK)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if r := decode[map[string]interface{}](t, rec); r["status"] != "ok" {
		t.Errorf("health = %v", r)
	}
}
