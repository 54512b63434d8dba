package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/dataset"
	"github.com/zen-systems/querygate/pkg/orchestrator"
	"github.com/zen-systems/querygate/pkg/retrieval"
	"github.com/zen-systems/querygate/pkg/stats"
	"github.com/zen-systems/querygate/pkg/structured"
	"github.com/zen-systems/querygate/pkg/unify"
)

type fakeAsker struct {
	resp *unify.Response
	err  error
	got  AskRequest
}

func (f *fakeAsker) Ask(_ context.Context, text, method, profileID string) (*unify.Response, error) {
	f.got = AskRequest{Question: text, Method: method, Profile: profileID}
	return f.resp, f.err
}

func (f *fakeAsker) AvailableMethods() []orchestrator.MethodInfo {
	return []orchestrator.MethodInfo{
		{Method: "auto", Available: true},
		{Method: "structured", Available: true},
		{Method: "retrieval", Available: false},
	}
}

func (f *fakeAsker) Stats() map[backend.ID]stats.Summary {
	return map[backend.ID]stats.Summary{backend.Structured: {Attempts: 2, Successes: 1, Failures: 1, SuccessRate: 0.5}}
}

type fakeIndex struct {
	hits    []retrieval.Hit
	gotK    int
	err     error
	rebuilt int
}

func (f *fakeIndex) Search(_ context.Context, _ string, k int, _ string) ([]retrieval.Hit, error) {
	f.gotK = k
	if len(f.hits) > k {
		return f.hits[:k], f.err
	}
	return f.hits, f.err
}

func (f *fakeIndex) Rebuild(context.Context, string) (*retrieval.Collection, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.rebuilt++
	return &retrieval.Collection{Name: "default_data", Chunks: 3}, nil
}

func (f *fakeIndex) Status(context.Context, string) (*retrieval.Collection, error) {
	return nil, nil
}

type fakeDescriber struct{}

func (fakeDescriber) Describe(profileID string) (*structured.Stats, error) {
	return &structured.Stats{Profile: profileID, TotalRows: 2}, nil
}

func newTestCatalog(t *testing.T) *dataset.Catalog {
	t.Helper()
	cat, err := dataset.NewCatalog("", nil)
	require.NoError(t, err)
	p := dataset.DefaultProfile()
	table := dataset.NewTable("sales", p.RequiredColumns, [][]string{
		{"1", "C1", "FrostMax", "Acme", "300", "499.99", "2024-01-02", "North", "1 Main St", "Great"},
		{"2", "C2", "CoolPro", "Polar", "250", "399.00", "2024-01-03", "South", "2 Side St", "Noisy"},
	})
	require.NoError(t, cat.Put(p, table))
	return cat
}

func newTestServer(t *testing.T, asker *fakeAsker, idx *fakeIndex, opts ...Option) *Server {
	t.Helper()
	deps := Deps{Asker: asker, Describer: fakeDescriber{}, Catalog: newTestCatalog(t)}
	if idx != nil {
		deps.Index = idx
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := New(":0", deps, opts...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(":0", Deps{})
	assert.Error(t, err)
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, nil)

	rec := do(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	root := decode[map[string]any](t, rec)
	assert.Equal(t, "running", root["status"])
	assert.Equal(t, Version, root["version"])

	rec = do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "default", health["profile"])
	assert.EqualValues(t, 2, health["data_records"])
	assert.Equal(t, map[string]any{"auto": true, "structured": true, "retrieval": false}, health["engines"])
}

func TestUnknownPathIs404(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, nil)
	rec := do(t, s, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAskDefaultsMethodToAuto(t *testing.T) {
	asker := &fakeAsker{resp: &unify.Response{
		Question:   "How many sales?",
		Answer:     "COUNT: 2",
		Confidence: unify.ConfidenceHigh,
		MethodUsed: "structured",
		Timestamp:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	s := newTestServer(t, asker, nil)

	for _, path := range []string{"/ask", "/ask-api"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, path, AskRequest{Question: "How many sales?"})
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "auto", asker.got.Method)
			assert.Equal(t, "default", asker.got.Profile)

			resp := decode[unify.Response](t, rec)
			assert.Equal(t, "COUNT: 2", resp.Answer)
			assert.Equal(t, unify.ConfidenceHigh, resp.Confidence)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestAskErrors(t *testing.T) {
	failure := &unify.Response{Answer: unify.FailureAnswer, Confidence: unify.ConfidenceNone, MethodUsed: unify.MethodNone, Error: "retrieval: boom"}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", &orchestrator.ValidationError{Field: "question", Reason: "empty"}, http.StatusBadRequest, CodeInvalidRequest},
		{"unknown profile", fmt.Errorf("load: %w", dataset.ErrUnknownProfile), http.StatusNotFound, CodeUnknownProfile},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
		{"all failed", &orchestrator.AllBackendsFailedError{Response: failure}, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeAsker{err: tt.err}, nil)
			rec := do(t, s, http.MethodPost, "/ask", AskRequest{Question: "q"})
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode == "" {
				resp := decode[unify.Response](t, rec)
				assert.Equal(t, unify.FailureAnswer, resp.Answer)
				assert.Equal(t, unify.MethodNone, resp.MethodUsed)
				return
			}
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestAskUnknownProfileIs404(t *testing.T) {
	asker := &fakeAsker{resp: &unify.Response{Answer: "unused"}}
	s := newTestServer(t, asker, nil)

	rec := do(t, s, http.MethodPost, "/ask", AskRequest{Question: "How many sales?", Profile: "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeUnknownProfile, decode[ErrorResponse](t, rec).Code)

	rec = do(t, s, http.MethodPost, "/ask?profile=missing", AskRequest{Question: "How many sales?"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Empty(t, asker.got.Question, "no backend is asked for an unknown profile")
}

func TestAskRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskRejectsGet(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, nil)
	rec := do(t, s, http.MethodGet, "/ask", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSearch(t *testing.T) {
	hits := make([]retrieval.Hit, 20)
	for i := range hits {
		hits[i] = retrieval.Hit{ID: fmt.Sprintf("%d#0", i), Score: 0.9}
	}
	three, zero, big := 3, 0, 51

	tests := []struct {
		name       string
		req        SearchRequest
		wantStatus int
		wantK      int
	}{
		{"default top_k", SearchRequest{Query: "noisy"}, http.StatusOK, DefaultSearchTopK},
		{"explicit top_k", SearchRequest{Query: "noisy", TopK: &three}, http.StatusOK, 3},
		{"zero top_k", SearchRequest{Query: "noisy", TopK: &zero}, http.StatusBadRequest, 0},
		{"top_k too large", SearchRequest{Query: "noisy", TopK: &big}, http.StatusBadRequest, 0},
		{"empty query", SearchRequest{Query: "  "}, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &fakeIndex{hits: hits}
			s := newTestServer(t, &fakeAsker{}, idx)
			rec := do(t, s, http.MethodPost, "/search", tt.req)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decode[SearchResponse](t, rec)
			assert.Equal(t, tt.wantK, idx.gotK)
			assert.Equal(t, tt.wantK, resp.TotalFound)
			assert.Len(t, resp.Results, tt.wantK)
		})
	}
}

func TestSearchWithoutIndex(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, nil)
	rec := do(t, s, http.MethodPost, "/search", SearchRequest{Query: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRebuild(t *testing.T) {
	idx := &fakeIndex{}
	s := newTestServer(t, &fakeAsker{}, idx)

	rec := do(t, s, http.MethodPost, "/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RebuildResponse](t, rec)
	assert.Equal(t, "success", resp.Status)
	require.NotNil(t, resp.Collection)
	assert.Equal(t, "default_data", resp.Collection.Name)
	assert.Equal(t, 1, idx.rebuilt)

	idx.err = errors.New("embedding quota exhausted")
	rec = do(t, s, http.MethodPost, "/rebuild", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp = decode[RebuildResponse](t, rec)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "quota")
}

func TestStatsAndMethods(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, &fakeIndex{})

	rec := do(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[StatsResponse](t, rec)
	assert.Equal(t, "default", st.Profile)
	require.NotNil(t, st.Data)
	assert.Equal(t, 2, st.Data.TotalRows)
	assert.Equal(t, int64(2), st.Methods[backend.Structured].Attempts)
	assert.Nil(t, st.Retrieval)

	rec = do(t, s, http.MethodGet, "/stats?profile=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/methods", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[map[string]any](t, rec)
	assert.Equal(t, []any{"auto", "structured"}, m["available_methods"])
	assert.Equal(t, "default", m["current_profile"])
}

func TestProfile(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, nil)

	rec := do(t, s, http.MethodGet, "/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[ProfileResponse](t, rec)
	assert.Equal(t, "default", p.ActiveProfile)
	assert.Equal(t, []string{"default"}, p.Profiles)
	assert.Contains(t, p.DataSchema.DateColumns, "SALES_DATE")
	assert.Len(t, p.Engines, 3)

	rec = do(t, s, http.MethodGet, "/profile?profile=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeUnknownProfile, decode[ErrorResponse](t, rec).Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, nil, WithRateLimit(0.001, 2))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/", nil).Code)
	rec := do(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decode[ErrorResponse](t, rec).Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, nil, WithCORSOrigins("https://app.example.com"))

	req := httptest.NewRequest(http.MethodOptions, "/ask", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, decode[ErrorResponse](t, rec).Code)
}
