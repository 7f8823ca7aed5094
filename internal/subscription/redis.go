package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mohammed-shakir/catalog-kml/internal/cache/keys"
	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
	"github.com/mohammed-shakir/catalog-kml/internal/mapper"
)

// RedisStore is the subset of redisstore.Client the sink uses.
type RedisStore interface {
	PutIndexed(ctx context.Context, key string, fields map[string]string, member string, index []string) error
	DelIndexedIf(ctx context.Context, key, guard, want, member string, index []string) (bool, error)
	HGet(ctx context.Context, key, field string) ([]byte, error)
	Union(ctx context.Context, sets []string) ([]string, error)
	Ping(ctx context.Context) error
}

// Record is the stored form of a subscription.
type Record struct {
	ID        string       `json:"id"`
	Token     string       `json:"token"`
	Delivery  string       `json:"delivery"`
	Query     *model.Query `json:"query,omitempty"`
	Res       int          `json:"res"`
	Cells     model.Cells  `json:"cells,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

const (
	fieldToken  = "token"
	fieldRecord = "record"
)

// RedisSink persists registrations in Redis and indexes each one under the
// H3 cells covering its query bbox, so updates for an area can find the
// subscriptions watching it.
type RedisSink struct {
	store  RedisStore
	mapper mapper.Interface
	res    int
	log    *slog.Logger
}

func NewRedisSink(store RedisStore, m mapper.Interface, res int, log *slog.Logger) *RedisSink {
	if log == nil {
		log = slog.Default()
	}
	return &RedisSink{store: store, mapper: m, res: res, log: log}
}

func (s *RedisSink) Register(ctx context.Context, sub Subscription) (Registration, error) {
	rec := Record{
		ID:        sub.ID,
		Token:     sub.Token,
		Delivery:  sub.DeliveryKind(),
		Query:     sub.Query,
		Res:       s.res,
		CreatedAt: sub.CreatedAt,
	}
	if sub.Query != nil && sub.Query.BBox != nil && s.mapper != nil {
		cells, err := s.mapper.CellsForBBox(*sub.Query.BBox, s.res)
		if err != nil {
			// still registered, just not discoverable by area
			s.log.WarnContext(ctx, "no cell coverage for subscription bbox", "subscription_id", sub.ID, "err", err)
		} else {
			rec.Cells = cells
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode subscription record: %w", err)
	}

	reg := &redisRegistration{
		store:  s.store,
		key:    keys.Subscription(sub.ID),
		token:  sub.Token,
		member: member(sub.ID, sub.Token),
		index:  keys.Cells(s.res, rec.Cells),
	}
	fields := map[string]string{fieldToken: sub.Token, fieldRecord: string(b)}
	if err := s.store.PutIndexed(ctx, reg.key, fields, reg.member, reg.index); err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Lookup reads the stored record for id.
func (s *RedisSink) Lookup(ctx context.Context, id string) (Record, error) {
	b, err := s.store.HGet(ctx, keys.Subscription(id), fieldRecord)
	if err != nil {
		return Record{}, fmt.Errorf("lookup subscription %q: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode subscription %q: %w", id, err)
	}
	return rec, nil
}

// SubscriptionsInBBox returns the ids of subscriptions whose area shares a
// cell with bb, sorted.
func (s *RedisSink) SubscriptionsInBBox(ctx context.Context, bb model.BBox) ([]string, error) {
	cells, err := s.mapper.CellsForBBox(bb, s.res)
	if err != nil {
		return nil, fmt.Errorf("cells for bbox: %w", err)
	}
	return s.idsIn(ctx, cells)
}

// SubscriptionsAt returns the ids of subscriptions whose area covers the
// cell holding lon/lat.
func (s *RedisSink) SubscriptionsAt(ctx context.Context, lon, lat float64) ([]string, error) {
	cell, err := s.mapper.CellForPoint(lon, lat, s.res)
	if err != nil {
		return nil, err
	}
	return s.idsIn(ctx, model.Cells{cell})
}

// SubscriptionsInCells returns the ids indexed under any of cells, which
// must be at the sink's resolution.
func (s *RedisSink) SubscriptionsInCells(ctx context.Context, cells model.Cells) ([]string, error) {
	return s.idsIn(ctx, cells)
}

// Res is the H3 resolution registrations are indexed at.
func (s *RedisSink) Res() int { return s.res }

func (s *RedisSink) idsIn(ctx context.Context, cells model.Cells) ([]string, error) {
	members, err := s.store.Union(ctx, keys.Cells(s.res, cells))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		id := m
		if i := strings.LastIndexByte(m, '|'); i >= 0 {
			id = m[:i]
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func member(id, token string) string { return id + "|" + token }

type redisRegistration struct {
	store  RedisStore
	key    string
	token  string
	member string
	index  []string
	done   atomic.Bool
}

func (r *redisRegistration) Unregister(ctx context.Context) error {
	if !r.done.CompareAndSwap(false, true) {
		return ErrAlreadyUnregistered
	}
	if _, err := r.store.DelIndexedIf(ctx, r.key, fieldToken, r.token, r.member, r.index); err != nil {
		r.done.Store(false)
		return err
	}
	return nil
}
