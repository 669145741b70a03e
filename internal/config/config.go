package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Data sources. DataBaseURL, when set, takes precedence over DataDir.
	DataDir       string
	DataBaseURL   string
	DataTimeout   time.Duration
	DataRateLimit float64
	DataCacheSize int

	// Map rendering.
	MapWidth        float64
	MapHeight       float64
	RasterMaxWidth  int
	NoDataThreshold float64
	RasterAlpha     uint8
	ColorizeWorkers int
	SessionTTL      time.Duration
	LayerCacheSize  int
	LayerIdleTTL    time.Duration

	// Layer ingestion pipeline.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSinkTopic     string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	dataTimeout, err := parseDuration("DATA_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	sessionTTL, err := parseDuration("SESSION_TTL", "30m")
	if err != nil {
		return nil, err
	}
	layerTTL, err := parseDuration("LAYER_IDLE_TTL", "10m")
	if err != nil {
		return nil, err
	}

	rateLimit, err := parseFloat("DATA_RATE_LIMIT", 20, 0, math.MaxFloat64)
	if err != nil {
		return nil, err
	}
	mapWidth, err := parseFloat("MAP_WIDTH", 560, 1, 1e5)
	if err != nil {
		return nil, err
	}
	mapHeight, err := parseFloat("MAP_HEIGHT", 320, 1, 1e5)
	if err != nil {
		return nil, err
	}
	threshold, err := parseFloat("NODATA_THRESHOLD", 1e20, math.SmallestNonzeroFloat64, math.MaxFloat64)
	if err != nil {
		return nil, err
	}
	alpha, err := parseFloat("RASTER_ALPHA", 0.86, 0, 1)
	if err != nil {
		return nil, err
	}

	cacheSize, err := parseInt("DATA_CACHE_SIZE", 64, 1)
	if err != nil {
		return nil, err
	}
	maxWidth, err := parseInt("RASTER_MAX_WIDTH", 1200, 0)
	if err != nil {
		return nil, err
	}
	workers, err := parseInt("COLORIZE_WORKERS", runtime.NumCPU(), 1)
	if err != nil {
		return nil, err
	}
	layerCacheSize, err := parseInt("LAYER_CACHE_SIZE", 16, 1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DataDir:       sharedcfg.EnvOrDefault("DATA_DIR", "./data"),
		DataBaseURL:   os.Getenv("DATA_BASE_URL"),
		DataTimeout:   dataTimeout,
		DataRateLimit: rateLimit,
		DataCacheSize: cacheSize,

		MapWidth:        mapWidth,
		MapHeight:       mapHeight,
		RasterMaxWidth:  maxWidth,
		NoDataThreshold: threshold,
		RasterAlpha:     uint8(math.Round(alpha * 255)),
		ColorizeWorkers: workers,
		SessionTTL:      sessionTTL,
		LayerCacheSize:  layerCacheSize,
		LayerIdleTTL:    layerTTL,

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "dataset-releases"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "layer-ready"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "climate-dashboard"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
	}

	if cfg.DataDir == "" && cfg.DataBaseURL == "" {
		return nil, errors.New("DATA_DIR or DATA_BASE_URL is required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, minimum)
	}
	return n, nil
}

func parseFloat(key string, def, minimum, maximum float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v < minimum || v > maximum {
		return 0, fmt.Errorf("invalid %s: must be a number in [%g, %g]", key, minimum, maximum)
	}
	return v, nil
}
