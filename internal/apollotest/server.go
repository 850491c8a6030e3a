// Package apollotest implements a minimal in-process contacts API for
// tests: canned people pages, bulk match with per-ID control, and fault
// injection for rate-limit and auth paths.
package apollotest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// Person is the loose API shape returned by the fake search endpoint.
type Person struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Title       string `json:"title"`
	Email       string `json:"email"`
	EmailStatus string `json:"email_status"`
	LinkedInURL string `json:"linkedin_url"`
	Location    string `json:"location"`
	OrgName     string `json:"-"`
}

// Call records one request made against the fake API.
type Call struct {
	Path string
	Page int
	IDs  []string
}

// Server is the fake contacts API. Zero value is not usable; construct
// with New.
type Server struct {
	mu sync.Mutex

	apiKey string

	// pages holds the canned search responses in order. A request for
	// page N serves pages[N-1]; pages beyond the end are empty.
	pages [][]Person

	// matches holds bulk-match responses keyed by ID. IDs absent from the
	// map are simply not matched.
	matches map[string]map[string]any

	// failuresLeft makes the next N requests fail with failStatus.
	failuresLeft int
	failStatus   int
	retryAfter   string

	calls []Call
}

func New() *Server {
	return &Server{matches: make(map[string]map[string]any)}
}

// RequireAPIKey enforces the X-Api-Key header. Empty disables the check.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
}

// SetPages replaces the canned search pages.
func (s *Server) SetPages(pages [][]Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = pages
}

// SetMatch registers a bulk-match hit for an ID.
func (s *Server) SetMatch(id string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fields == nil {
		fields = map[string]any{}
	}
	fields["id"] = id
	s.matches[id] = fields
}

// FailNext makes the next n requests respond with the given status.
// retryAfter, when non-empty, is sent as the Retry-After header.
func (s *Server) FailNext(n, status int, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failuresLeft = n
	s.failStatus = status
	s.retryAfter = retryAfter
}

// Calls returns a copy of the recorded request log.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Server) record(c Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

// Handler returns the fake API's http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/mixed_people/search", s.handleSearch)
	mux.HandleFunc("/v1/people/bulk_match", s.handleBulkMatch)
	return mux
}

// intercept applies auth and fault injection. It reports whether the
// request was already answered.
func (s *Server) intercept(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiKey != "" && r.Header.Get("X-Api-Key") != s.apiKey {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
		return true
	}
	if s.failuresLeft > 0 {
		s.failuresLeft--
		if s.retryAfter != "" {
			w.Header().Set("Retry-After", s.retryAfter)
		}
		w.WriteHeader(s.failStatus)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "injected failure"})
		return true
	}
	return false
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Page    int `json:"page"`
		PerPage int `json:"per_page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.record(Call{Path: r.URL.Path, Page: req.Page})
	if s.intercept(w, r) {
		return
	}

	s.mu.Lock()
	var page []Person
	if req.Page >= 1 && req.Page <= len(s.pages) {
		page = s.pages[req.Page-1]
	}
	s.mu.Unlock()

	people := make([]map[string]any, 0, len(page))
	for _, p := range page {
		people = append(people, map[string]any{
			"id":           p.ID,
			"first_name":   p.FirstName,
			"last_name":    p.LastName,
			"title":        p.Title,
			"email":        p.Email,
			"email_status": p.EmailStatus,
			"linkedin_url": p.LinkedInURL,
			"location":     p.Location,
			"organization": map[string]any{"name": p.OrgName},
		})
	}
	writeJSON(w, map[string]any{"people": people})
}

func (s *Server) handleBulkMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Details []struct {
			ID string `json:"id"`
		} `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ids := make([]string, 0, len(req.Details))
	for _, d := range req.Details {
		ids = append(ids, d.ID)
	}
	s.record(Call{Path: r.URL.Path, IDs: ids})
	if s.intercept(w, r) {
		return
	}

	s.mu.Lock()
	var matches []map[string]any
	for _, id := range ids {
		if m, ok := s.matches[id]; ok {
			matches = append(matches, m)
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"matches": matches})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
