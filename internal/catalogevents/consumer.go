package catalogevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
	obs "github.com/mohammed-shakir/catalog-kml/internal/core/observability"
	mylog "github.com/mohammed-shakir/catalog-kml/internal/logger"
	"github.com/mohammed-shakir/catalog-kml/internal/mapper"
)

// Index finds subscriptions by the H3 cells their area covers.
type Index interface {
	SubscriptionsInCells(ctx context.Context, cells model.Cells) ([]string, error)
	Res() int
}

// Notifier is told which subscriptions a change to entryID touched.
type Notifier interface {
	Notify(ctx context.Context, ids []string, entryID string) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	index  Index
	mapper mapper.Interface
	notify Notifier
	zlog   *zerolog.Logger
	dedupe *versionDedupe
}

// New builds a consumer. zl receives one audit line per processed event and
// may be nil.
func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, index Index, m mapper.Interface, n Notifier) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		index:  index,
		mapper: m,
		notify: n,
		zlog:   zl,
		dedupe: newVersionDedupe(cfg.DedupeSize),
	}
}

// Start consumes change events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.index == nil || c.mapper == nil || c.notify == nil {
		return errors.New("catalogevents: missing dependencies (index/mapper/notifier)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "catalog_events")

	c.logger.Info("catalog event consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("catalog event consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, c); err != nil {
				c.logger.Error("consumer error", "err", err)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

var _ sarama.ConsumerGroupHandler = (*Consumer)(nil)

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim runs ProcessOne over one partition in offset order. An offset
// is marked only once its event was handled, so the first failure ends the
// claim and the group redelivers from that message.
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	msgs := claim.Messages()
	for {
		var msg *sarama.ConsumerMessage
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			msg = m
		}
		if err := c.ProcessOne(ctx, msg); err != nil {
			return fmt.Errorf("catalogevents: %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		sess.MarkMessage(msg, "")
	}
}

// ProcessOne handles a single change event. Undecodable, invalid or stale
// events are logged and skipped; index and notifier failures are returned
// so the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.ObserveCatalogEvent("unknown", "decode_error", 0)
		mylog.FromContext(ctx, c.zlog).Error().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("skipping undecodable catalog event")
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.ObserveCatalogEvent(ev.Op, "invalid", 0)
		c.logger.WarnContext(ctx, "skipping invalid catalog event", "entry_id", ev.EntryID, "offset", msg.Offset, "err", err)
		return nil
	}

	ctx = mylog.WithEntry(ctx, ev.EntryID)
	version := ev.TS.UnixNano()
	if c.dedupe.stale(ev.EntryID, version) {
		obs.ObserveCatalogEvent(ev.Op, "duplicate", 0)
		c.logger.DebugContext(ctx, "skipping stale catalog event", "ts", ev.TS)
		return nil
	}

	cells, err := c.cellsForEvent(ev)
	if err != nil {
		obs.ObserveCatalogEvent(ev.Op, "invalid", 0)
		c.logger.WarnContext(ctx, "skipping catalog event without cells", "err", err)
		return nil
	}

	ids, err := c.index.SubscriptionsInCells(ctx, cells)
	if err != nil {
		obs.ObserveCatalogEvent(ev.Op, "index_error", 0)
		return fmt.Errorf("subscription lookup: %w", err)
	}
	if len(ids) == 0 {
		c.dedupe.applied(ev.EntryID, version)
		obs.ObserveCatalogEvent(ev.Op, "ok", 0)
		c.logger.DebugContext(ctx, "no subscriptions affected", "op", ev.Op)
		return nil
	}

	if err := c.notify.Notify(ctx, ids, ev.EntryID); err != nil {
		obs.ObserveCatalogEvent(ev.Op, "notify_error", len(ids))
		return fmt.Errorf("notify: %w", err)
	}

	c.dedupe.applied(ev.EntryID, version)
	obs.ObserveCatalogEvent(ev.Op, "ok", len(ids))
	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "catalog_change").
		Str("op", ev.Op).
		Int("cells", len(cells)).Int("subscriptions", len(ids)).
		Msg("notified subscriptions")
	return nil
}

func (c *Consumer) cellsForEvent(ev Event) (model.Cells, error) {
	res := c.index.Res()
	if ev.BBox != nil {
		cells, err := c.mapper.CellsForBBox(ev.BBox.Model(), res)
		if err != nil {
			return nil, fmt.Errorf("CellsForBBox: %w", err)
		}
		return cells, nil
	}

	g, err := geojson.UnmarshalGeometry(ev.Geometry)
	if err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}
	var polys []orb.Polygon
	switch geo := g.Geometry().(type) {
	case orb.Polygon:
		polys = append(polys, geo)
	case orb.MultiPolygon:
		polys = append(polys, geo...)
	default:
		return nil, fmt.Errorf("unsupported geometry %T", geo)
	}

	seen := make(map[string]struct{})
	var out model.Cells
	for _, p := range polys {
		cells, err := c.mapper.CellsForPolygon(p, res)
		if err != nil {
			return nil, fmt.Errorf("CellsForPolygon: %w", err)
		}
		for _, cell := range cells {
			if _, dup := seen[cell]; !dup {
				seen[cell] = struct{}{}
				out = append(out, cell)
			}
		}
	}
	return out, nil
}

// LogNotifier logs every affected subscription. It serves deployments where
// clients only poll their network link.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, ids []string, entryID string) error {
	ctx = mylog.WithEntry(ctx, entryID)
	for _, id := range ids {
		n.Log.InfoContext(ctx, "subscription area changed", "subscription_id", id)
	}
	return nil
}
