// Package subscription tracks live-update registrations for KML network
// links. A Registry keeps exactly one live registration per subscription id
// and hands each registration to a Sink.
package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
)

// ErrAlreadyUnregistered is returned by Registration.Unregister after the
// first call.
var ErrAlreadyUnregistered = errors.New("subscription already unregistered")

// DeliveryHandle names how updates for a subscription reach the client.
type DeliveryHandle interface {
	Kind() string
}

// UpdateDelivery is the network-link pull model: the client re-fetches the
// update URL on its refresh interval.
type UpdateDelivery struct{}

func (UpdateDelivery) Kind() string { return "kml-update" }

type Subscription struct {
	ID        string
	Token     string
	Query     *model.Query
	Delivery  DeliveryHandle
	CreatedAt time.Time
}

// DeliveryKind is the handle's kind, defaulting to UpdateDelivery.
func (s Subscription) DeliveryKind() string {
	if s.Delivery == nil {
		return UpdateDelivery{}.Kind()
	}
	return s.Delivery.Kind()
}

// Sink receives registrations. Implementations must tolerate the same id
// being registered again before the earlier registration is released; the
// Token tells the two apart.
type Sink interface {
	Register(ctx context.Context, sub Subscription) (Registration, error)
}

type Registration interface {
	Unregister(ctx context.Context) error
}

// Pinger is implemented by sinks backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}
