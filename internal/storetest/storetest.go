// Package storetest runs an in-process config store speaking the item,
// items and digest endpoints, for tests.
package storetest

import (
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is one request the store received.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
}

// Endpoint is the path below the config id plus the query,
// e.g. "/item/foo?version=1".
func (r Request) Endpoint() string {
	p := r.Path
	if i := strings.Index(strings.TrimPrefix(p, "/"), "/"); i >= 0 {
		p = p[i+1:]
	}
	if r.RawQuery == "" {
		return p
	}
	return p + "?" + r.RawQuery
}

// Server is a fake config store.
type Server struct {
	*httptest.Server

	ID    string
	Token string

	mu         sync.Mutex
	items      map[string]jsoniter.RawMessage
	digest     string
	etags      bool
	failStatus int
	gate       chan struct{}
	requests   []Request
}

// New starts a store with id "ecfg-test" and token "token-1". It is closed
// when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		ID:     "ecfg-test",
		Token:  "token-1",
		items:  make(map[string]jsoniter.RawMessage),
		digest: "digest-1",
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(func() {
		s.release()
		s.Close()
	})
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Route("/{id}", func(r chi.Router) {
		r.Use(s.authorize)
		r.Get("/item/{key}", s.getItem)
		r.Head("/item/{key}", s.getItem)
		r.Get("/items", s.getItems)
		r.Get("/digest", s.getDigest)
	})
	return r
}

// ConnectionString addresses this store as an external config.
func (s *Server) ConnectionString() string {
	return s.URL + "/" + s.ID + "?token=" + s.Token
}

// Set stores value under key, JSON encoded.
func (s *Server) Set(key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		panic("storetest: encode " + key + ": " + err.Error())
	}
	s.mu.Lock()
	s.items[key] = raw
	s.mu.Unlock()
}

// Delete removes key.
func (s *Server) Delete(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// SetDigest sets the digest served by /digest.
func (s *Server) SetDigest(digest string) {
	s.mu.Lock()
	s.digest = digest
	s.mu.Unlock()
}

// EnableETags makes every successful response carry an ETag and honours
// If-None-Match.
func (s *Server) EnableETags() {
	s.mu.Lock()
	s.etags = true
	s.mu.Unlock()
}

// FailWith answers every request with status. Zero restores normal service.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	s.failStatus = status
	s.mu.Unlock()
}

// Block holds every request after it is recorded until the returned release
// func is called.
func (s *Server) Block() (release func()) {
	s.mu.Lock()
	gate := make(chan struct{})
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *Server) release() {
	s.mu.Lock()
	gate := s.gate
	s.gate = nil
	s.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Endpoints returns Endpoint() of every request received so far.
func (s *Server) Endpoints() []string {
	reqs := s.Requests()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Method + " " + r.Endpoint()
	}
	return out
}

// Count returns the number of requests received so far.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Reset forgets recorded requests.
func (s *Server) Reset() {
	s.mu.Lock()
	s.requests = nil
	s.mu.Unlock()
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:   r.Method,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
			Header:   r.Header.Clone(),
		})
		gate := s.gate
		status := s.failStatus
		s.mu.Unlock()

		if gate != nil {
			<-gate
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != s.ID {
			writeError(w, http.StatusNotFound, "edge_config_not_found")
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.mu.Lock()
	raw, ok := s.items[key]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "edge_config_item_not_found")
		return
	}
	s.writeBody(w, r, raw)
}

func (s *Server) getItems(w http.ResponseWriter, r *http.Request) {
	keys := r.URL.Query()["key"]
	s.mu.Lock()
	out := make(map[string]jsoniter.RawMessage)
	if len(keys) == 0 {
		for k, v := range s.items {
			out[k] = v
		}
	}
	for _, k := range keys {
		if v, ok := s.items[k]; ok {
			out[k] = v
		}
	}
	s.mu.Unlock()

	raw, err := json.Marshal(out)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode")
		return
	}
	s.writeBody(w, r, raw)
}

func (s *Server) getDigest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	digest := s.digest
	s.mu.Unlock()

	raw, _ := json.Marshal(digest)
	s.writeBody(w, r, raw)
}

func (s *Server) writeBody(w http.ResponseWriter, r *http.Request, body []byte) {
	s.mu.Lock()
	etags := s.etags
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if etags {
		h := fnv.New64a()
		h.Write(body)
		etag := `"` + strconv.FormatUint(h.Sum64(), 16) + `"`
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"code":"` + code + `"}}`))
}
