package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
	"github.com/mohammed-shakir/catalog-kml/internal/core/observability"
)

var ErrNotFound = errors.New("subscription not found")

type live struct {
	sub Subscription
	reg Registration
}

// Registry maps subscription ids to their live registration. It is safe for
// concurrent use; each stored registration is released exactly once, by
// whichever call swaps it out.
type Registry struct {
	sink  Sink
	log   *slog.Logger
	now   func() time.Time
	regs  sync.Map // id -> *live
	count atomic.Int64
}

func NewRegistry(sink Sink, log *slog.Logger) *Registry {
	if sink == nil {
		sink = NewMemorySink()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{sink: sink, log: log, now: time.Now}
}

// RegisterOrReplace registers a subscription for id, releasing any previous
// registration for the same id. A previous registration that was already
// unregistered is not an error.
func (r *Registry) RegisterOrReplace(ctx context.Context, id string, q *model.Query, h DeliveryHandle) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("register subscription: empty id")
	}
	if h == nil {
		h = UpdateDelivery{}
	}
	sub := Subscription{
		ID:        id,
		Token:     uuid.NewString(),
		Query:     q,
		Delivery:  h,
		CreatedAt: r.now().UTC(),
	}
	reg, err := r.sink.Register(ctx, sub)
	if err != nil {
		observability.ObserveSubscription("register", "error")
		return fmt.Errorf("register subscription %q: %w", id, err)
	}

	prev, replaced := r.regs.Swap(id, &live{sub: sub, reg: reg})
	if replaced {
		r.log.DebugContext(ctx, "replacing existing subscription", "subscription_id", id)
		r.release(ctx, id, prev.(*live))
		observability.ObserveSubscription("register", "replaced")
	} else {
		r.count.Add(1)
		observability.ObserveSubscription("register", "ok")
	}
	observability.SetActiveSubscriptions(int(r.count.Load()))
	return nil
}

// Unregister releases the registration stored for id.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	prev, ok := r.regs.LoadAndDelete(id)
	if !ok {
		observability.ObserveSubscription("unregister", "not_found")
		return fmt.Errorf("unregister %q: %w", id, ErrNotFound)
	}
	r.count.Add(-1)
	observability.SetActiveSubscriptions(int(r.count.Load()))
	err := prev.(*live).reg.Unregister(ctx)
	if err != nil && !errors.Is(err, ErrAlreadyUnregistered) {
		observability.ObserveSubscription("unregister", "error")
		return fmt.Errorf("unregister %q: %w", id, err)
	}
	observability.ObserveSubscription("unregister", "ok")
	return nil
}

func (r *Registry) Get(id string) (Subscription, bool) {
	v, ok := r.regs.Load(id)
	if !ok {
		return Subscription{}, false
	}
	return v.(*live).sub, true
}

func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Close releases every registration. Used on shutdown.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	r.regs.Range(func(k, _ any) bool {
		if err := r.Unregister(ctx, k.(string)); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

// Ready reports whether the sink can take registrations.
func (r *Registry) Ready(ctx context.Context) error {
	if p, ok := r.sink.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (r *Registry) release(ctx context.Context, id string, old *live) {
	err := old.reg.Unregister(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyUnregistered):
		r.log.InfoContext(ctx, "previous subscription was already unregistered", "subscription_id", id)
	default:
		r.log.WarnContext(ctx, "failed to unregister previous subscription", "subscription_id", id, "err", err)
	}
}
