package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "SUBSCRIPTION_SINK", "KML_DEFAULT_INTERVAL", "SUBSCRIPTION_H3_RES", "LOG_CONSOLE", "REDIS_DIAL_TIMEOUT", "CATALOG_EVENTS_ENABLED", "CATALOG_EVENTS_TOPIC", "CATALOG_EVENTS_GROUP_ID"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.Addr != ":8090" || cfg.Subscription.Sink != SinkMemory {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.KML.DefaultInterval != 5.0 || cfg.KML.TemplateCache != 64 {
		t.Fatalf("kml=%+v", cfg.KML)
	}
	if cfg.Subscription.H3Res != 5 || cfg.Subscription.RedisDial != 0 {
		t.Fatalf("subscription=%+v", cfg.Subscription)
	}
	if cfg.LogConsole {
		t.Fatalf("console logging should be off by default")
	}
	if cfg.CatalogEvents.Enabled || cfg.CatalogEvents.Topic != "catalog-changes" || cfg.CatalogEvents.GroupID != "kml-subscription-notifier" {
		t.Fatalf("catalog events=%+v", cfg.CatalogEvents)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SUBSCRIPTION_SINK", "Redis+Kafka")
	t.Setenv("KML_DEFAULT_INTERVAL", "12.5")
	t.Setenv("SUBSCRIPTION_H3_RES", "99")
	t.Setenv("LOG_CONSOLE", "yes")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("REDIS_DIAL_TIMEOUT", "1s")
	t.Setenv("CATALOG_EVENTS_ENABLED", "true")
	t.Setenv("CATALOG_EVENTS_TOPIC", "entries")

	cfg := FromEnv()
	if cfg.Subscription.Sink != SinkRedisKafka {
		t.Fatalf("sink=%q", cfg.Subscription.Sink)
	}
	if cfg.KML.DefaultInterval != 12.5 {
		t.Fatalf("interval=%v", cfg.KML.DefaultInterval)
	}
	if cfg.Subscription.H3Res != 5 {
		t.Fatalf("out of range res should fall back, got %d", cfg.Subscription.H3Res)
	}
	if !cfg.LogConsole {
		t.Fatalf("LOG_CONSOLE=yes should enable console")
	}
	brokers := cfg.Subscription.BrokerList()
	if len(brokers) != 2 || brokers[0] != "a:9092" || brokers[1] != "b:9092" {
		t.Fatalf("brokers=%v", brokers)
	}
	if cfg.Subscription.RedisDial != time.Second {
		t.Fatalf("dial timeout=%v", cfg.Subscription.RedisDial)
	}
	if !cfg.CatalogEvents.Enabled || cfg.CatalogEvents.Topic != "entries" {
		t.Fatalf("catalog events=%+v", cfg.CatalogEvents)
	}
}
