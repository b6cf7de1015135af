package configs

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

var global *Config

type Config struct {
	HTTPPort int `env:"RECALL_PORT" envDefault:"8092"`

	// Database (required, no default)
	DBPostgresqlDSN string `env:"DB_POSTGRESQL_DSN,notEmpty"`

	// Embedding gateway
	EmbeddingServiceURL     string        `env:"EMBEDDING_SERVICE_URL" envDefault:"http://localhost:8091"`
	EmbeddingDimensions     int           `env:"EMBEDDING_DIMENSIONS" envDefault:"1536"`
	EmbeddingMaxChars       int           `env:"EMBEDDING_MAX_CHARS" envDefault:"24000"`
	EmbeddingCacheType      string        `env:"EMBEDDING_CACHE_TYPE" envDefault:"memory"`
	EmbeddingCacheTTL       time.Duration `env:"EMBEDDING_CACHE_TTL" envDefault:"1h"`
	EmbeddingCacheMaxSize   int           `env:"EMBEDDING_CACHE_MAX_SIZE" envDefault:"10000"`
	EmbeddingCacheRedisURL  string        `env:"EMBEDDING_CACHE_REDIS_URL" envDefault:"redis://redis:6379/3"`
	EmbeddingCacheKeyPrefix string        `env:"EMBEDDING_CACHE_KEY_PREFIX" envDefault:"emb:"`

	// Search tuning. The similarity floor is deliberately configuration, not
	// a constant baked into the query layer.
	SearchMinSimilarity float32 `env:"SEARCH_MIN_SIMILARITY" envDefault:"0.4"`

	// Protocol behavior. Strict requires a session on every non-handshake
	// call; lenient auto-creates one, for stateless pass-through deployments.
	SessionMode     string `env:"SESSION_MODE" envDefault:"strict"`
	ProtocolVersion string `env:"PROTOCOL_VERSION" envDefault:"2025-03-26"`

	// Async save queue. Empty REDIS_URL runs finalize synchronously in-process.
	RedisURL     string        `env:"REDIS_URL"`
	SaveQueueKey string        `env:"SAVE_QUEUE_KEY" envDefault:"recall:save_jobs"`
	JobStatusTTL time.Duration `env:"JOB_STATUS_TTL" envDefault:"10m"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`

	APIKey string `env:"RECALL_API_KEY"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.SessionMode = strings.ToLower(strings.TrimSpace(cfg.SessionMode))

	global = cfg
	return cfg, nil
}

func GetGlobal() *Config {
	return global
}

// LenientSessions reports whether the dispatcher should auto-create sessions
// for calls arriving without one.
func (c *Config) LenientSessions() bool {
	return c.SessionMode == "lenient"
}
