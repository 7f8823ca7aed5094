package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Subscription sink drivers.
const (
	SinkMemory     = "memory"
	SinkRedis      = "redis"
	SinkKafka      = "kafka"
	SinkRedisKafka = "redis+kafka"
)

type SubscriptionCfg struct {
	Sink       string
	RedisAddr  string
	Brokers    string
	Topic      string
	QueueSize  int
	H3Res      int
	RedisPool  int
	RedisDB    int
	RedisDial  time.Duration
	RedisRead  time.Duration
	RedisWrite time.Duration
}

type KMLCfg struct {
	StyleMappings   string
	StyleFile       string
	DefaultStyle    string
	DefaultInterval float64
	TemplateDir     string
	TemplateCache   int
	Platform        string
}

// CatalogEventsCfg configures the catalog change consumer. It shares the
// subscription broker list.
type CatalogEventsCfg struct {
	Enabled    bool
	Topic      string
	GroupID    string
	FromOldest bool
	DedupeSize int
}

type Config struct {
	Addr          string
	LogLevel      string
	LogConsole    bool
	LogSampleN    int
	KML           KMLCfg
	Subscription  SubscriptionCfg
	CatalogEvents CatalogEventsCfg
}

func FromEnv() Config {
	res := getint("SUBSCRIPTION_H3_RES", 5)
	if res < 0 || res > 15 {
		res = 5
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		KML: KMLCfg{
			StyleMappings:   getenv("KML_STYLE_MAPPINGS", ""),
			StyleFile:       getenv("KML_STYLE_FILE", ""),
			DefaultStyle:    getenv("KML_DEFAULT_STYLE", ""),
			DefaultInterval: getfloat("KML_DEFAULT_INTERVAL", 5.0),
			TemplateDir:     getenv("KML_TEMPLATE_DIR", ""),
			TemplateCache:   getint("KML_TEMPLATE_CACHE", 64),
			Platform:        getenv("KML_PLATFORM", ""),
		},
		Subscription: SubscriptionCfg{
			Sink:       strings.ToLower(getenv("SUBSCRIPTION_SINK", SinkMemory)),
			RedisAddr:  getenv("REDIS_ADDR", "localhost:6379"),
			Brokers:    getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:      getenv("KAFKA_SUBSCRIPTION_TOPIC", "kml-subscriptions"),
			QueueSize:  getint("KAFKA_QUEUE_SIZE", 1024),
			H3Res:      res,
			RedisPool:  getint("REDIS_POOL_SIZE", 0),
			RedisDB:    getint("REDIS_DB", 0),
			RedisDial:  getduration("REDIS_DIAL_TIMEOUT", 0),
			RedisRead:  getduration("REDIS_READ_TIMEOUT", 0),
			RedisWrite: getduration("REDIS_WRITE_TIMEOUT", 0),
		},
		CatalogEvents: CatalogEventsCfg{
			Enabled:    getbool("CATALOG_EVENTS_ENABLED", false),
			Topic:      getenv("CATALOG_EVENTS_TOPIC", "catalog-changes"),
			GroupID:    getenv("CATALOG_EVENTS_GROUP_ID", "kml-subscription-notifier"),
			FromOldest: getbool("CATALOG_EVENTS_FROM_OLDEST", false),
			DedupeSize: getint("CATALOG_EVENTS_DEDUPE_SIZE", 4096),
		},
	}
}

// BrokerList splits the comma separated broker setting.
func (c SubscriptionCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
