// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type CacheCfg struct {
	Driver    string // none|memory|redis
	TTL       time.Duration
	Size      int
	OpTimeout time.Duration
	RedisAddr string
}

type HitEventsCfg struct {
	Enabled bool
	Topic   string
	Brokers string
}

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int
	MapFile    string

	FeatureCount    int
	DrillDown       bool
	HitTolerance    float64
	FetchMaxWorkers int
	UpstreamTimeout time.Duration

	Cache        CacheCfg
	KafkaBrokers string
	HitEvents    HitEventsCfg
	Invalidation InvalidationCfg

	H3Res int
	Hot   HotCfg
}

type HotCfg struct {
	HalfLife  time.Duration
	Capacity  int
	Threshold float64 // 0 disables hot cell logging
	LogSample float64
}

func FromEnv() Config {
	res := getint("H3_RES", 8)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	brokers := getenv("KAFKA_BROKERS", "localhost:9092")
	driver := strings.ToLower(getenv("CACHE_DRIVER", "none"))
	switch driver {
	case "none", "memory", "redis":
	default:
		driver = "none"
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		MapFile:    getenv("MAP_FILE", "map.yaml"),

		FeatureCount:    getint("FEATURE_COUNT", 1),
		DrillDown:       getbool("DRILL_DOWN", true),
		HitTolerance:    getfloat("HIT_TOLERANCE", 5),
		FetchMaxWorkers: getint("FETCH_MAX_WORKERS", 8),
		UpstreamTimeout: getduration("UPSTREAM_TIMEOUT", 30*time.Second),

		Cache: CacheCfg{
			Driver:    driver,
			TTL:       getduration("CACHE_TTL", 60*time.Second),
			Size:      getint("CACHE_SIZE", 4096),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
		},
		KafkaBrokers: brokers,
		HitEvents: HitEventsCfg{
			Enabled: getbool("HIT_EVENTS_ENABLED", false),
			Topic:   getenv("HIT_EVENTS_TOPIC", "coordinfo-clicks"),
			Brokers: brokers,
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "feature-info-invalidation"),
			Brokers: brokers,
			GroupID: getenv("KAFKA_GROUP_ID", "coordinfo-invalidator"),
		},

		H3Res: res,
		Hot: HotCfg{
			HalfLife:  getduration("HOT_HALF_LIFE", time.Minute),
			Capacity:  getint("HOT_CAPACITY", 16384),
			Threshold: getfloat("HOT_THRESHOLD", 25),
			LogSample: getfloat("HOT_LOG_SAMPLE", 0.1),
		},
	}
}

// Brokers splits a comma separated broker list
func Brokers(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
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
