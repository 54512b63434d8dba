package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/orchestrator"
	"github.com/zen-systems/querygate/pkg/retrieval"
	"github.com/zen-systems/querygate/pkg/stats"
	"github.com/zen-systems/querygate/pkg/structured"
)

// Search bounds for /search.
const (
	DefaultSearchTopK = 10
	MaxSearchTopK     = 50
)

// AskRequest is the body of /ask.
type AskRequest struct {
	Question string `json:"question"`
	Method   string `json:"method,omitempty"`
	Profile  string `json:"profile,omitempty"`
}

// SearchRequest is the body of /search.
type SearchRequest struct {
	Query   string `json:"query"`
	TopK    *int   `json:"top_k,omitempty"`
	Profile string `json:"profile,omitempty"`
}

// SearchResponse is returned by /search.
type SearchResponse struct {
	Query      string          `json:"query"`
	Results    []retrieval.Hit `json:"results"`
	TotalFound int             `json:"total_found"`
}

// RebuildResponse is returned by /rebuild.
type RebuildResponse struct {
	Status     string                `json:"status"`
	Message    string                `json:"message"`
	Collection *retrieval.Collection `json:"collection,omitempty"`
}

// StatsResponse is returned by /stats.
type StatsResponse struct {
	Profile   string                       `json:"profile"`
	Data      *structured.Stats            `json:"data,omitempty"`
	Methods   map[backend.ID]stats.Summary `json:"methods"`
	Retrieval *retrieval.Collection        `json:"retrieval,omitempty"`
	Errors    map[string]string            `json:"errors,omitempty"`
}

// ProfileSchema lists a profile's column roles.
type ProfileSchema struct {
	RequiredColumns  []string `json:"required_columns"`
	SensitiveColumns []string `json:"sensitive_columns"`
	DateColumns      []string `json:"date_columns"`
	TextColumns      []string `json:"text_columns"`
	NumericColumns   []string `json:"numeric_columns"`
}

// ProfileResponse is returned by /profile.
type ProfileResponse struct {
	ActiveProfile string                    `json:"active_profile"`
	Description   string                    `json:"profile_name"`
	Language      string                    `json:"language"`
	DataFilePath  string                    `json:"data_file_path"`
	DataSchema    ProfileSchema             `json:"data_schema"`
	Engines       []orchestrator.MethodInfo `json:"engines"`
	Profiles      []string                  `json:"profiles"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, map[string]any{
		"message":     "Unified question answering API",
		"version":     Version,
		"status":      "running",
		"description": "Answers questions over tabular data with structured queries or retrieval-augmented generation",
	}, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	profileID := s.profileParam(r)
	engines := make(map[string]bool)
	for _, m := range s.deps.Asker.AvailableMethods() {
		engines[m.Method] = m.Available
	}

	resp := map[string]any{
		"status":  "healthy",
		"version": Version,
		"profile": profileID,
		"engines": engines,
	}
	if loaded, err := s.deps.Catalog.Load(profileID); err == nil {
		resp["data_records"] = loaded.Table.Len()
	} else {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
	}
	WriteJSON(w, resp, http.StatusOK)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decodeBody(w, r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if req.Method == "" {
		req.Method = string(backend.MethodAuto)
	}
	profileID := req.Profile
	if profileID == "" {
		profileID = s.profileParam(r)
	}
	if _, err := s.deps.Catalog.Profile(profileID); err != nil {
		WriteMappedError(w, err)
		return
	}

	resp, err := s.deps.Asker.Ask(r.Context(), req.Question, req.Method, profileID)
	if err != nil {
		var failed *orchestrator.AllBackendsFailedError
		if errors.As(err, &failed) && failed.Response != nil {
			s.logger.Warn("no backend answered",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err),
			)
			WriteJSON(w, failed.Response, http.StatusOK)
			return
		}
		WriteMappedError(w, err)
		return
	}
	WriteJSON(w, resp, http.StatusOK)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Index == nil {
		WriteError(w, errors.New("retrieval is not configured"), CodeInternal, http.StatusServiceUnavailable)
		return
	}
	var req SearchRequest
	if err := decodeBody(w, r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		BadRequest(w, "query is required")
		return
	}
	k := DefaultSearchTopK
	if req.TopK != nil {
		k = *req.TopK
	}
	if k < 1 || k > MaxSearchTopK {
		BadRequest(w, fmt.Sprintf("top_k must be between 1 and %d", MaxSearchTopK))
		return
	}
	profileID := req.Profile
	if profileID == "" {
		profileID = s.profileParam(r)
	}

	hits, err := s.deps.Index.Search(r.Context(), req.Query, k, profileID)
	if err != nil {
		WriteMappedError(w, err)
		return
	}
	if hits == nil {
		hits = []retrieval.Hit{}
	}
	WriteJSON(w, SearchResponse{Query: req.Query, Results: hits, TotalFound: len(hits)}, http.StatusOK)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.deps.Index == nil {
		WriteError(w, errors.New("retrieval is not configured"), CodeInternal, http.StatusServiceUnavailable)
		return
	}
	profileID := s.profileParam(r)
	c, err := s.deps.Index.Rebuild(r.Context(), profileID)
	if err != nil {
		status, _ := MapErrorToStatus(err)
		s.logger.Error("rebuild failed", zap.String("profile", profileID), zap.Error(err))
		WriteJSON(w, RebuildResponse{Status: "error", Message: err.Error()}, status)
		return
	}
	WriteJSON(w, RebuildResponse{
		Status:     "success",
		Message:    "Vector store rebuilt successfully",
		Collection: c,
	}, http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	profileID := s.profileParam(r)
	if _, err := s.deps.Catalog.Profile(profileID); err != nil {
		WriteMappedError(w, err)
		return
	}
	resp := StatsResponse{
		Profile: profileID,
		Methods: s.deps.Asker.Stats(),
	}
	errs := make(map[string]string)
	if s.deps.Describer != nil {
		data, err := s.deps.Describer.Describe(profileID)
		if err != nil {
			errs["data"] = err.Error()
		}
		resp.Data = data
	}
	if s.deps.Index != nil {
		c, err := s.deps.Index.Status(r.Context(), profileID)
		if err != nil {
			errs["retrieval"] = err.Error()
		}
		resp.Retrieval = c
	}
	if len(errs) > 0 {
		resp.Errors = errs
	}
	WriteJSON(w, resp, http.StatusOK)
}

func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	methods := s.deps.Asker.AvailableMethods()
	var names []string
	for _, m := range methods {
		if m.Available {
			names = append(names, m.Method)
		}
	}
	WriteJSON(w, map[string]any{
		"available_methods": names,
		"methods":           methods,
		"current_profile":   s.profileParam(r),
	}, http.StatusOK)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.Profile(s.profileParam(r))
	if err != nil {
		WriteMappedError(w, err)
		return
	}
	var ids []string
	for _, other := range s.deps.Catalog.Profiles() {
		ids = append(ids, other.ID)
	}
	WriteJSON(w, ProfileResponse{
		ActiveProfile: p.ID,
		Description:   p.Description,
		Language:      p.Language,
		DataFilePath:  p.DataFile,
		DataSchema: ProfileSchema{
			RequiredColumns:  p.RequiredColumns,
			SensitiveColumns: p.SensitiveColumns,
			DateColumns:      p.DateColumns,
			TextColumns:      p.TextColumns,
			NumericColumns:   p.NumericColumns,
		},
		Engines:  s.deps.Asker.AvailableMethods(),
		Profiles: ids,
	}, http.StatusOK)
}

// profileParam returns the ?profile= value or the catalog default.
func (s *Server) profileParam(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("profile")); id != "" {
		return id
	}
	return s.deps.Catalog.DefaultID()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
