package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterOrReplace_ReplacesPrevious(t *testing.T) {
	sink := NewMemorySink()
	r := NewRegistry(sink, quietLogger())
	ctx := context.Background()

	q1 := &model.Query{Raw: "first"}
	q2 := &model.Query{Raw: "second"}
	if err := r.RegisterOrReplace(ctx, "s1", q1, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	first, _ := r.Get("s1")
	if err := r.RegisterOrReplace(ctx, "s1", q2, UpdateDelivery{}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if got := sink.Live("s1"); got != 1 {
		t.Fatalf("live registrations=%d want 1", got)
	}
	if r.Len() != 1 {
		t.Fatalf("Len=%d want 1", r.Len())
	}
	sub, ok := r.Get("s1")
	if !ok || sub.Query != q2 || sub.Token == first.Token {
		t.Fatalf("stored subscription not replaced: %+v", sub)
	}
	if sub.DeliveryKind() != "kml-update" {
		t.Fatalf("delivery=%q", sub.DeliveryKind())
	}
}

type staleReg struct{ calls int }

func (s *staleReg) Unregister(context.Context) error {
	s.calls++
	return ErrAlreadyUnregistered
}

type scriptedSink struct {
	mu   sync.Mutex
	regs []Registration
	err  error
}

func (s *scriptedSink) Register(context.Context, Subscription) (Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	reg := s.regs[0]
	s.regs = s.regs[1:]
	return reg, nil
}

func TestRegisterOrReplace_IgnoresAlreadyUnregistered(t *testing.T) {
	old := &staleReg{}
	sink := &scriptedSink{regs: []Registration{old, &staleReg{}}}
	r := NewRegistry(sink, quietLogger())
	ctx := context.Background()

	if err := r.RegisterOrReplace(ctx, "s", nil, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.RegisterOrReplace(ctx, "s", nil, nil); err != nil {
		t.Fatalf("replace should swallow ErrAlreadyUnregistered: %v", err)
	}
	if old.calls != 1 {
		t.Fatalf("old registration unregistered %d times want 1", old.calls)
	}
}

func TestRegisterOrReplace_SinkErrorKeepsPrevious(t *testing.T) {
	sink := &scriptedSink{regs: []Registration{&staleReg{}}}
	r := NewRegistry(sink, quietLogger())
	ctx := context.Background()
	_ = r.RegisterOrReplace(ctx, "s", &model.Query{Raw: "keep"}, nil)

	sink.err = errors.New("down")
	if err := r.RegisterOrReplace(ctx, "s", &model.Query{Raw: "lost"}, nil); err == nil {
		t.Fatal("expected sink error")
	}
	if sub, _ := r.Get("s"); sub.Query.Raw != "keep" {
		t.Fatalf("previous registration lost: %+v", sub)
	}
	if err := r.RegisterOrReplace(ctx, " ", nil, nil); err == nil {
		t.Fatal("expected error for blank id")
	}
}

func TestUnregister(t *testing.T) {
	sink := NewMemorySink()
	r := NewRegistry(sink, quietLogger())
	ctx := context.Background()
	_ = r.RegisterOrReplace(ctx, "s", nil, nil)

	if err := r.Unregister(ctx, "s"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if sink.Live("s") != 0 || r.Len() != 0 {
		t.Fatalf("live=%d len=%d after unregister", sink.Live("s"), r.Len())
	}
	if err := r.Unregister(ctx, "s"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Unregister err=%v want ErrNotFound", err)
	}
}

func TestMemoryRegistration_SecondUnregisterFails(t *testing.T) {
	reg, _ := NewMemorySink().Register(context.Background(), Subscription{ID: "x"})
	if err := reg.Unregister(context.Background()); err != nil {
		t.Fatalf("first Unregister: %v", err)
	}
	if err := reg.Unregister(context.Background()); !errors.Is(err, ErrAlreadyUnregistered) {
		t.Fatalf("second Unregister err=%v want ErrAlreadyUnregistered", err)
	}
}

func TestRegistry_ConcurrentReplaceKeepsOneLive(t *testing.T) {
	sink := NewMemorySink()
	r := NewRegistry(sink, quietLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%4)
			if err := r.RegisterOrReplace(ctx, id, nil, nil); err != nil {
				t.Errorf("register %s: %v", id, err)
			}
			_, _ = r.Get(id)
		}(i)
	}
	wg.Wait()

	if r.Len() != 4 {
		t.Fatalf("Len=%d want 4", r.Len())
	}
	for i := 0; i < 4; i++ {
		if got := sink.Live(fmt.Sprintf("s%d", i)); got != 1 {
			t.Fatalf("s%d live=%d want 1", i, got)
		}
	}
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len after Close=%d", r.Len())
	}
}

func TestMultiSink_FanOutAndRollback(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	ctx := context.Background()
	reg, err := MultiSink{a, b}.Register(ctx, Subscription{ID: "m"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a.Live("m") != 1 || b.Live("m") != 1 {
		t.Fatal("registration not fanned out")
	}
	if err := reg.Unregister(ctx); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if err := reg.Unregister(ctx); !errors.Is(err, ErrAlreadyUnregistered) {
		t.Fatalf("second Unregister err=%v", err)
	}

	failing := &scriptedSink{err: errors.New("down")}
	if _, err := (MultiSink{a, failing}).Register(ctx, Subscription{ID: "r"}); err == nil {
		t.Fatal("expected error from failing member")
	}
	if a.Live("r") != 0 {
		t.Fatal("partial registration not rolled back")
	}
}
