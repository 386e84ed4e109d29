package edgeconfig

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Scope marks one logical unit of work, typically an incoming request.
// Reads made with a context carrying the same Scope share memoised results
// and are coalesced into as few remote calls as possible. Results are never
// shared between scopes.
type Scope struct {
	id string

	mu      sync.Mutex
	loaders map[*Client]*requestCache
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{
		id:      uuid.NewString(),
		loaders: make(map[*Client]*requestCache),
	}
}

// ID returns a random identifier used in log lines.
func (s *Scope) ID() string {
	return s.id
}

// loader returns the request cache for c, creating it on first use.
func (s *Scope) loader(c *Client) *requestCache {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.loaders[c]
	if !ok {
		rc = newRequestCache(c, s)
		s.loaders[c] = rc
	}
	return rc
}

// Flush dispatches every pending batch now and waits for the results.
func (s *Scope) Flush() {
	s.mu.Lock()
	loaders := make([]*requestCache, 0, len(s.loaders))
	for _, rc := range s.loaders {
		loaders = append(loaders, rc)
	}
	s.mu.Unlock()

	for _, rc := range loaders {
		rc.flush()
	}
}

type scopeKey struct{}

// WithScope returns a child context carrying a fresh Scope.
func WithScope(ctx context.Context) context.Context {
	return ContextWithScope(ctx, NewScope())
}

// ContextWithScope returns a child context carrying s.
func ContextWithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the Scope carried by ctx, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// ScopeMiddleware gives every incoming request its own Scope. It fits both
// net/http and chi's r.Use.
func ScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ScopeFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithScope(r.Context())))
	})
}
