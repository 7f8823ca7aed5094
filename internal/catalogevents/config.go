package catalogevents

import (
	"time"

	"github.com/mohammed-shakir/catalog-kml/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

func FromConfig(c config.CatalogEventsCfg, brokers []string) Config {
	return Config{
		Brokers:             brokers,
		Topic:               c.Topic,
		GroupID:             c.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: c.FromOldest,
		DedupeSize:          c.DedupeSize,
	}
}
