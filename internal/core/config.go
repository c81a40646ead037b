package core

import (
	"time"
)

type Config struct {
	Catalog    CatalogConfig
	Features   FeaturesConfig
	LLM        LLMConfig
	Cache      CacheConfig
	Token      TokenConfig
	Engine     EngineConfig
	Server     ServerConfig
	Log        LogConfig
	Background BackgroundConfig
}

type CatalogConfig struct {
	BaseURL           string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	MinInterval       time.Duration
	Markets           []string
}

type FeaturesConfig struct {
	BaseURL           string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	MinInterval       time.Duration
	// MaxConcurrency caps process-wide concurrency against the features
	// service, which misbehaves under parallel load.
	MaxConcurrency int64
}

type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

type CacheConfig struct {
	Backend       string // "memory" or "redis"
	KeyPrefix     string
	MemoryMaxSize int
	RedisURL      string
	RedisPoolSize int
}

type TokenConfig struct {
	StorePath    string
	ClientID     string
	ClientSecret string
	// ExpirySkew is subtracted from the stored expiry when judging validity.
	ExpirySkew time.Duration
}

type EngineConfig struct {
	MaxIterations     int
	CohesionThreshold float64
	TargetCount       int
	MinCount          int
	MaxCount          int
	MaxAnchors        int
	// DiscoveryShare is the generation-time share requested from the
	// artist-discovery strategy; the 98:2 split is enforced later.
	DiscoveryShare float64
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type BackgroundConfig struct {
	PrecomputeEnabled bool
	PollInterval      time.Duration
	PollTimeout       time.Duration
	InterMoodSleep    time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			BaseURL:           "https://api.spotify.com/v1",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequestsPerMinute: 120,
			MinInterval:       50 * time.Millisecond,
			Markets:           []string{"US", "GB", "DE", "FR", "JP"},
		},
		Features: FeaturesConfig{
			BaseURL:           "https://api.reccobeats.com/v1",
			Timeout:           180 * time.Second,
			MaxRetries:        3,
			RequestsPerMinute: 60,
			MinInterval:       200 * time.Millisecond,
			MaxConcurrency:    5,
		},
		LLM: LLMConfig{
			Provider: "none",
		},
		Cache: CacheConfig{
			Backend:       "memory",
			KeyPrefix:     "moodlist:",
			MemoryMaxSize: 10000,
			RedisPoolSize: 50,
		},
		Token: TokenConfig{
			StorePath:  "./moodlist_tokens.db",
			ExpirySkew: 5 * time.Minute,
		},
		Engine: EngineConfig{
			MaxIterations:     2,
			CohesionThreshold: 0.60,
			TargetCount:       20,
			MinCount:          15,
			MaxCount:          25,
			MaxAnchors:        5,
			DiscoveryShare:    0.95,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Background: BackgroundConfig{
			PrecomputeEnabled: false,
			PollInterval:      2 * time.Second,
			PollTimeout:       180 * time.Second,
			InterMoodSleep:    5 * time.Second,
		},
	}
}
