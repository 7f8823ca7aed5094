package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// MemorySink keeps registrations in process. It is the default sink.
type MemorySink struct {
	mu   sync.Mutex
	live map[string]int // id -> live registrations
}

func NewMemorySink() *MemorySink {
	return &MemorySink{live: make(map[string]int)}
}

func (s *MemorySink) Register(_ context.Context, sub Subscription) (Registration, error) {
	s.mu.Lock()
	s.live[sub.ID]++
	s.mu.Unlock()
	return &memoryRegistration{sink: s, id: sub.ID}, nil
}

// Live returns how many registrations for id are currently held.
func (s *MemorySink) Live(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[id]
}

type memoryRegistration struct {
	sink *MemorySink
	id   string
	done atomic.Bool
}

func (r *memoryRegistration) Unregister(context.Context) error {
	if !r.done.CompareAndSwap(false, true) {
		return ErrAlreadyUnregistered
	}
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	if r.sink.live[r.id]--; r.sink.live[r.id] <= 0 {
		delete(r.sink.live, r.id)
	}
	return nil
}

// MultiSink fans a registration out to several sinks.
type MultiSink []Sink

func (m MultiSink) Register(ctx context.Context, sub Subscription) (Registration, error) {
	regs := make(multiRegistration, 0, len(m))
	for _, s := range m {
		reg, err := s.Register(ctx, sub)
		if err != nil {
			_ = regs.Unregister(ctx)
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// Ping checks every sink that supports it.
func (m MultiSink) Ping(ctx context.Context) error {
	for _, s := range m {
		if p, ok := s.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

type multiRegistration []Registration

// Unregister releases every member. It returns ErrAlreadyUnregistered only
// when every member reports it.
func (m multiRegistration) Unregister(ctx context.Context) error {
	var errs []error
	already := 0
	for _, r := range m {
		err := r.Unregister(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyUnregistered):
			already++
		default:
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if len(m) > 0 && already == len(m) {
		return ErrAlreadyUnregistered
	}
	return nil
}
