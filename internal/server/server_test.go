package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragstore-go/internal/history"
	"github.com/54b3r/ragstore-go/internal/logging"
	"github.com/54b3r/ragstore-go/internal/query"
	"github.com/54b3r/ragstore-go/internal/record"
	"github.com/54b3r/ragstore-go/internal/vectorstore"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeEngine returns resp and records the request it was given.
type fakeEngine struct {
	resp query.Response
	got  query.Request
}

func (f *fakeEngine) ProcessQuery(_ context.Context, req query.Request) query.Response {
	f.got = req
	resp := f.resp
	resp.Query = req.Query
	return resp
}

// fakeVectors implements vectorAdmin with canned results.
type fakeVectors struct {
	stats      vectorstore.Stats
	updateErr  error
	deleteErr  error
	restoreErr error
	backupErr  error
	updated    map[int64]map[string]any
	deleted    []int64
	backups    []string
	compacted  vectorstore.CompactResult
}

func (f *fakeVectors) Stats(context.Context) (vectorstore.Stats, error) { return f.stats, nil }

func (f *fakeVectors) UpdateMetadata(_ context.Context, id int64, updates map[string]any) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.updated == nil {
		f.updated = map[int64]map[string]any{}
	}
	f.updated[id] = updates
	return nil
}

func (f *fakeVectors) DeleteVectors(_ context.Context, ids []int64) error {
	f.deleted = append(f.deleted, ids...)
	return f.deleteErr
}

func (f *fakeVectors) Backup(context.Context, string) (string, error) {
	if f.backupErr != nil {
		return "", f.backupErr
	}
	return "/backups/20250101T000000.000000000Z", nil
}

func (f *fakeVectors) ListBackups(string) ([]string, error) { return f.backups, nil }

func (f *fakeVectors) Restore(context.Context, string) (string, error) {
	if f.restoreErr != nil {
		return "", f.restoreErr
	}
	return "/backups/20250101T000000.000000000Z", nil
}

func (f *fakeVectors) Compact(context.Context) (vectorstore.CompactResult, error) {
	return f.compacted, nil
}

// fakeMeta implements metadataAdmin.
type fakeMeta struct {
	files   []record.Fields
	deleted []int64
}

func (f *fakeMeta) GetAllFiles(context.Context) ([]record.Fields, error) { return f.files, nil }

func (f *fakeMeta) DeleteByVectorIDs(_ context.Context, ids []int64) (int, error) {
	f.deleted = append(f.deleted, ids...)
	return len(ids), nil
}

// newTestServer builds a *Server with inert fakes and a private registry.
func newTestServer() *Server {
	return &Server{
		engine:  &fakeEngine{},
		vectors: &fakeVectors{},
		meta:    &fakeMeta{},
		cfg:     &Config{Port: 8080},
		log:     logging.Discard(),
		metrics: newServerMetrics(prometheus.NewRegistry()),
	}
}

// newRoutedServer builds a Server through New so requests go through the
// full middleware chain.
func newRoutedServer(t *testing.T, deps Deps, apiKey string) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(deps, &Config{
		APIKey:          apiKey,
		Logger:          logging.Discard(),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s, reg
}

func serve(s *Server, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:5555"
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// POST /api/query
// ---------------------------------------------------------------------------

func Test_Server_Query(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{resp: query.Response{
		Response:     "Reset the VPN profile [Source 1].",
		Results:      []vectorstore.SearchResult{{VectorID: 3, SimilarityScore: 0.9, Fields: record.Fields{"doc_id": "kb1"}}},
		TotalResults: 1,
	}}
	s, _ := newRoutedServer(t, Deps{Engine: eng, Vectors: &fakeVectors{}, Metadata: &fakeMeta{}}, "")

	w := serve(s, http.MethodPost, "/api/query", `{"query":"vpn drops","max_results":4}`)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}
	if eng.got.Query != "vpn drops" || eng.got.MaxResults != 4 {
		t.Errorf("engine got %+v", eng.got)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["total_results"] != float64(1) || resp["query"] != "vpn drops" {
		t.Errorf("unexpected body: %v", resp)
	}
	if _, ok := resp["diversity_metrics"]; !ok {
		t.Errorf("diversity_metrics missing: %v", resp)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("X-Request-ID not echoed")
	}
}

func Test_Server_QueryValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `nope`},
		{"missing query", `{"max_results":3}`},
		{"blank query", `{"query":"   "}`},
		{"negative max_results", `{"query":"q","max_results":-1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer()
			req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(tc.body))
			w := httptest.NewRecorder()

			s.handleQuery(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("want 400, got %d", w.Code)
			}
		})
	}
}

func TestQueryOutcome(t *testing.T) {
	t.Parallel()
	hit := []vectorstore.SearchResult{{VectorID: 1}}
	tests := []struct {
		resp query.Response
		want string
	}{
		{query.Response{Results: hit, TotalResults: 1}, "ok"},
		{query.Response{}, "no_results"},
		{query.Response{Error: "embedding failed"}, "error"},
		{query.Response{Results: hit, TotalResults: 1, Error: "model offline"}, "degraded"},
	}
	for _, tc := range tests {
		if got := queryOutcome(tc.resp); got != tc.want {
			t.Errorf("queryOutcome(%+v) = %q, want %q", tc.resp, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Stats, files, vectors, admin
// ---------------------------------------------------------------------------

func Test_Server_StatsAndFiles(t *testing.T) {
	t.Parallel()
	vec := &fakeVectors{stats: vectorstore.Stats{TotalVectors: 5, ActiveVectors: 4, DeletedVectors: 1, Dimension: 8, Backend: "flat"}}
	meta := &fakeMeta{files: []record.Fields{
		{"file_id": "a", "chunk_count": 3},
		{"file_id": "b", "chunk_count": 2},
	}}
	s, _ := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: vec, Metadata: meta}, "")

	w := serve(s, http.MethodGet, "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats: want 200, got %d", w.Code)
	}
	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Files != 2 || stats.Chunks != 5 || stats.Vectors.ActiveVectors != 4 {
		t.Errorf("stats: got %+v", stats)
	}

	w = serve(s, http.MethodGet, "/api/files", "")
	var files filesResponse
	if err := json.NewDecoder(w.Body).Decode(&files); err != nil {
		t.Fatalf("decode files: %v", err)
	}
	if files.Total != 2 || len(files.Files) != 2 {
		t.Errorf("files: got %+v", files)
	}
}

func Test_Server_UpdateVector(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		path   string
		body   string
		err    error
		status int
	}{
		{"ok", "/api/vectors/7", `{"reviewed":true}`, nil, http.StatusNoContent},
		{"bad id", "/api/vectors/seven", `{"reviewed":true}`, nil, http.StatusBadRequest},
		{"empty body", "/api/vectors/7", `{}`, nil, http.StatusBadRequest},
		{"unknown id", "/api/vectors/99", `{"reviewed":true}`, vectorstore.ErrNotFound, http.StatusNotFound},
		{"storage failure", "/api/vectors/7", `{"reviewed":true}`, errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			vec := &fakeVectors{updateErr: tc.err}
			s, _ := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: vec, Metadata: &fakeMeta{}}, "")

			w := serve(s, http.MethodPatch, tc.path, tc.body)

			if w.Code != tc.status {
				t.Fatalf("want %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if tc.status == http.StatusNoContent && vec.updated[7]["reviewed"] != true {
				t.Errorf("update not applied: %v", vec.updated)
			}
			if tc.status == http.StatusInternalServerError && strings.Contains(w.Body.String(), "disk full") {
				t.Errorf("internal error leaked: %s", w.Body.String())
			}
		})
	}
}

func Test_Server_DeleteVectors(t *testing.T) {
	t.Parallel()
	vec := &fakeVectors{}
	meta := &fakeMeta{}
	s, _ := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: vec, Metadata: meta}, "")

	w := serve(s, http.MethodPost, "/api/vectors/delete", `{"ids":[1,2]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	var resp deleteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Requested != 2 || resp.MetadataUpdated != 2 {
		t.Errorf("response: %+v", resp)
	}
	if len(vec.deleted) != 2 || len(meta.deleted) != 2 {
		t.Errorf("both stores must see the delete: vectors %v, metadata %v", vec.deleted, meta.deleted)
	}

	if w := serve(s, http.MethodPost, "/api/vectors/delete", `{"ids":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty ids: want 400, got %d", w.Code)
	}
}

func Test_Server_DeleteVectorsStopsOnVectorFailure(t *testing.T) {
	t.Parallel()
	vec := &fakeVectors{deleteErr: errors.New("write failed")}
	meta := &fakeMeta{}
	s, _ := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: vec, Metadata: meta}, "")

	if w := serve(s, http.MethodPost, "/api/vectors/delete", `{"ids":[1]}`); w.Code != http.StatusInternalServerError {
		t.Errorf("want 500, got %d", w.Code)
	}
	if len(meta.deleted) != 0 {
		t.Errorf("metadata must not be touched when the vector delete fails")
	}
}

func Test_Server_Admin(t *testing.T) {
	t.Parallel()
	vec := &fakeVectors{
		backups:   []string{"20250102T000000.000000000Z", "20250101T000000.000000000Z"},
		compacted: vectorstore.CompactResult{Removed: 3, Kept: 10},
	}
	s, reg := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: vec, Metadata: &fakeMeta{}}, "")

	if w := serve(s, http.MethodPost, "/api/admin/backup", ""); w.Code != http.StatusCreated {
		t.Errorf("backup: want 201, got %d", w.Code)
	}
	w := serve(s, http.MethodGet, "/api/admin/backups", "")
	var list backupsResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil || len(list.Backups) != 2 {
		t.Errorf("list backups: %v %+v", err, list)
	}
	if w := serve(s, http.MethodPost, "/api/admin/restore", ""); w.Code != http.StatusOK {
		t.Errorf("restore: want 200, got %d", w.Code)
	}
	w = serve(s, http.MethodPost, "/api/admin/compact", "")
	var res vectorstore.CompactResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil || res.Removed != 3 {
		t.Errorf("compact: %v %+v", err, res)
	}

	if got := counterValue(t, reg, "ragstore_admin_operations_total", map[string]string{"op": "compact", "outcome": "ok"}); got != 1 {
		t.Errorf("compact counter: want 1, got %v", got)
	}
}

func Test_Server_RestoreWithoutBackup(t *testing.T) {
	t.Parallel()
	vec := &fakeVectors{restoreErr: vectorstore.ErrNoBackup}
	s, _ := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: vec, Metadata: &fakeMeta{}}, "")

	if w := serve(s, http.MethodPost, "/api/admin/restore", ""); w.Code != http.StatusNotFound {
		t.Errorf("want 404, got %d", w.Code)
	}
}

func Test_Server_BackupUnsupportedByBackend(t *testing.T) {
	t.Parallel()
	vec := &fakeVectors{backupErr: vectorstore.ErrBackupUnsupported, restoreErr: vectorstore.ErrBackupUnsupported}
	s, _ := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: vec, Metadata: &fakeMeta{}}, "")

	for _, path := range []string{"/api/admin/backup", "/api/admin/restore"} {
		if w := serve(s, http.MethodPost, path, ""); w.Code != http.StatusNotImplemented {
			t.Errorf("%s: want 501, got %d", path, w.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// Routing and auth
// ---------------------------------------------------------------------------

func Test_Server_AuthProtectsAPIButNotProbes(t *testing.T) {
	t.Parallel()
	s, _ := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: &fakeVectors{}, Metadata: &fakeMeta{}}, "secret")

	if w := serve(s, http.MethodGet, "/api/stats", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("stats without token: want 401, got %d", w.Code)
	}
	if w := serve(s, http.MethodGet, "/api/stats", "", "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("stats with token: want 200, got %d", w.Code)
	}
	for _, path := range []string{"/api/health", "/api/ready", "/metrics"} {
		if w := serve(s, http.MethodGet, path, ""); w.Code != http.StatusOK {
			t.Errorf("%s: want 200 without token, got %d", path, w.Code)
		}
	}
}

func TestNew_RejectsMissingDeps(t *testing.T) {
	t.Parallel()
	full := Deps{Engine: &fakeEngine{}, Vectors: &fakeVectors{}, Metadata: &fakeMeta{}}
	for name, deps := range map[string]Deps{
		"engine":   {Vectors: full.Vectors, Metadata: full.Metadata},
		"vectors":  {Engine: full.Engine, Metadata: full.Metadata},
		"metadata": {Engine: full.Engine, Vectors: full.Vectors},
	} {
		if _, err := New(deps, &Config{Logger: logging.Discard(), MetricsRegistry: prometheus.NewRegistry()}); err == nil {
			t.Errorf("missing %s: want error", name)
		}
	}
}

func Test_RequestID_ReusesValidInbound(t *testing.T) {
	t.Parallel()
	const id = "6f1c2d8e-3b0a-4f59-9a51-0b7d2f3c4e5a"
	s, _ := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: &fakeVectors{}, Metadata: &fakeMeta{}}, "")

	if got := serve(s, http.MethodGet, "/api/health", "", requestIDHeader, id).Header().Get(requestIDHeader); got != id {
		t.Errorf("want inbound id echoed, got %q", got)
	}
	if got := serve(s, http.MethodGet, "/api/health", "", requestIDHeader, "not a uuid\nx").Header().Get(requestIDHeader); got == "" || strings.Contains(got, "not a uuid") {
		t.Errorf("invalid inbound id must be replaced, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// GET /api/history
// ---------------------------------------------------------------------------

func Test_Server_HistoryRecordsQueries(t *testing.T) {
	t.Parallel()
	log, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })

	reg := prometheus.NewRegistry()
	s, err := New(Deps{Engine: &fakeEngine{}, Vectors: &fakeVectors{}, Metadata: &fakeMeta{}}, &Config{
		Logger:          logging.Discard(),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		History:         log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)

	serve(s, http.MethodPost, "/api/query", `{"query":"first"}`)
	serve(s, http.MethodPost, "/api/query", `{"query":"second"}`)

	w := serve(s, http.MethodGet, "/api/history?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	var resp historyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Query != "second" || resp.Entries[0].Outcome != "no_results" {
		t.Errorf("want newest entry only, got %+v", resp.Entries)
	}

	if w := serve(s, http.MethodGet, "/api/history?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0: want 400, got %d", w.Code)
	}
}

func Test_Server_HistoryDisabled(t *testing.T) {
	t.Parallel()
	s, _ := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: &fakeVectors{}, Metadata: &fakeMeta{}}, "")

	if w := serve(s, http.MethodGet, "/api/history", ""); w.Code != http.StatusNotFound {
		t.Errorf("want 404, got %d", w.Code)
	}
}
