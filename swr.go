package edgeconfig

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ambiyansyah-risyal/edgeconfig/internal/singleflight"
)

// Cloner returns a copy of v that shares no mutable memory with it.
type Cloner[T any] func(v T) (T, error)

// DeepCopy is the default Cloner. It copies maps, slices and pointers
// recursively; unexported struct fields are not copied. Interface values are
// copied through their dynamic type.
func DeepCopy[T any](v T) (T, error) {
	var out T
	src := reflect.ValueOf(&v).Elem()
	dst, err := deepCopyValue(src)
	if err != nil {
		return out, fmt.Errorf("deep copy %T: %w", v, err)
	}
	reflect.ValueOf(&out).Elem().Set(dst)
	return out, nil
}

func deepCopyValue(src reflect.Value) (reflect.Value, error) {
	switch src.Kind() {
	case reflect.Interface:
		if src.IsNil() {
			return reflect.Zero(src.Type()), nil
		}
		elem, err := deepCopyValue(src.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(src.Type()).Elem()
		out.Set(elem)
		return out, nil
	case reflect.Ptr:
		if src.IsNil() {
			return src, nil
		}
		elem, err := deepCopyValue(src.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(elem.Type())
		out.Elem().Set(elem)
		return out.Convert(src.Type()), nil
	}

	dst := reflect.New(src.Type())
	if err := copyInto(dst, src); err == nil {
		return dst.Elem(), nil
	}

	// Types copier cannot handle go through a JSON round trip.
	raw, err := json.Marshal(src.Interface())
	if err != nil {
		return reflect.Value{}, err
	}
	dst = reflect.New(src.Type())
	if err := json.Unmarshal(raw, dst.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return dst.Elem(), nil
}

func copyInto(dst, src reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("copier: %v", r)
		}
	}()
	return copier.CopyWithOption(dst.Interface(), src.Interface(), copier.Option{DeepCopy: true})
}

// SWRConfig tunes a stale-while-revalidate wrapper.
type SWRConfig[R any] struct {
	// Name labels log lines and metrics.
	Name string
	// Clone copies results before they are handed out. Defaults to DeepCopy.
	Clone Cloner[R]
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
	// Metrics may be nil.
	Metrics *MetricsCollector
}

// swrCall is a result that may still be in flight.
type swrCall[R any] struct {
	done chan struct{}
	val  R
	err  error
}

func resolvedCall[R any](v R) *swrCall[R] {
	c := &swrCall[R]{done: make(chan struct{}), val: v}
	close(c.done)
	return c
}

func (c *swrCall[R]) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// StaleWhileRevalidate wraps fn with an in-memory map from argument key to the
// last known good result. Once a result exists, calls return it immediately
// and refresh it in the background.
type StaleWhileRevalidate[A, R any] struct {
	fn      func(context.Context, A) (R, error)
	name    string
	clone   Cloner[R]
	log     zerolog.Logger
	metrics *MetricsCollector

	mu      sync.Mutex
	entries map[string]*swrCall[R]

	refresh *singleflight.Group[struct{}]
	pending sync.WaitGroup
}

// NewStaleWhileRevalidate wraps fn.
func NewStaleWhileRevalidate[A, R any](fn func(context.Context, A) (R, error), cfg SWRConfig[R]) *StaleWhileRevalidate[A, R] {
	clone := cfg.Clone
	if clone == nil {
		clone = DeepCopy[R]
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &StaleWhileRevalidate[A, R]{
		fn:      fn,
		name:    cfg.Name,
		clone:   clone,
		log:     logger.With().Str("swr", cfg.Name).Logger(),
		metrics: cfg.Metrics,
		entries: make(map[string]*swrCall[R]),
		refresh: singleflight.New[struct{}](),
	}
}

// SWR is the functional form of NewStaleWhileRevalidate.
func SWR[A, R any](fn func(context.Context, A) (R, error), cfg SWRConfig[R]) func(context.Context, A) (R, error) {
	return NewStaleWhileRevalidate(fn, cfg).Call
}

// Call returns the remembered result for args when there is one, refreshing
// it in the background, or calls fn and remembers a successful result.
// Concurrent first calls for the same args share one call to fn.
func (s *StaleWhileRevalidate[A, R]) Call(ctx context.Context, args A) (R, error) {
	var zero R
	key, err := argsKey(args)
	if err != nil {
		return zero, err
	}

	s.mu.Lock()
	if existing, ok := s.entries[key]; ok {
		s.mu.Unlock()
		if existing.finished() && existing.err == nil {
			s.metrics.RecordStaleServed("swr")
			s.revalidate(ctx, key, args, existing)
		}
		return s.await(ctx, existing)
	}

	call := &swrCall[R]{done: make(chan struct{})}
	s.entries[key] = call
	s.mu.Unlock()

	// fn runs detached from ctx; a caller that stops waiting does not cancel it.
	callCtx := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		call.val, call.err = s.fn(callCtx, args)
		if call.err != nil {
			s.mu.Lock()
			if s.entries[key] == call {
				delete(s.entries, key)
			}
			s.mu.Unlock()
		}
		close(call.done)
	}()

	return s.await(ctx, call)
}

// await waits for call or ctx. A finished call wins over a cancelled ctx.
func (s *StaleWhileRevalidate[A, R]) await(ctx context.Context, call *swrCall[R]) (R, error) {
	var zero R
	if !call.finished() {
		select {
		case <-call.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	if call.err != nil {
		return zero, call.err
	}
	return s.clone(call.val)
}

// revalidate refreshes key in the background unless a refresh is already running.
func (s *StaleWhileRevalidate[A, R]) revalidate(ctx context.Context, key string, args A, stale *swrCall[R]) {
	if s.refresh.InFlight(key) {
		return
	}
	refreshCtx := context.WithoutCancel(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		_, err, started := s.refresh.TryDo(key, func() (struct{}, error) {
			val, err := s.fn(refreshCtx, args)
			if err != nil {
				return struct{}{}, err
			}
			s.mu.Lock()
			if s.entries[key] == stale {
				s.entries[key] = resolvedCall(val)
			}
			s.mu.Unlock()
			return struct{}{}, nil
		})
		if started && err != nil {
			s.metrics.RecordSWRRefreshFailure(s.name)
			s.log.Debug().Err(err).Str("key", key).Msg("background revalidation failed, keeping stale value")
		}
	}()
}

// Wait blocks until all calls and background refreshes started so far have finished.
func (s *StaleWhileRevalidate[A, R]) Wait() {
	s.pending.Wait()
}

// Len returns the number of remembered argument keys.
func (s *StaleWhileRevalidate[A, R]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// argsKey is the canonical JSON encoding of args; map keys are sorted.
func argsKey(args any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode swr arguments: %w", err)
	}
	return string(raw), nil
}
