package config

import (
	"fmt"
	"time"

	"github.com/RishiKendai/phosphorus/internal/configs/env"
	"github.com/RishiKendai/phosphorus/internal/plagiarism"
)

// Config holds all configuration for the application
type Config struct {
	// MongoDB
	MongoURI    string
	MongoDBName string

	// Redis
	RedisHost               string
	RedisPassword           string
	RedisStreamKey          string
	RedisConsumerGroup      string
	RedisDeadLetterKey      string
	StreamRetentionDuration time.Duration

	// JWT
	JWTSecret string
	JWTIssuer string

	// Rate Limiting
	RateLimitRPS float64

	// Concurrency
	MaxConcurrentCompute int
	WorkerPoolSize       int

	// Computation
	ComputationTimeout time.Duration

	// Comparison tool
	JavaBin          string
	JPlagJarPath     string
	WorkDir          string
	ArchiveDir       string
	ArchiveRetention time.Duration
	ToolTimeout      time.Duration

	// Analysis defaults
	DefaultMinTokens           int
	DefaultSimilarityThreshold float64
	PrimaryMetric              plagiarism.Metric
	Risk                       plagiarism.RiskThresholds
	ResultCacheSize            int

	// Logging
	LogLevel  string
	LogPretty bool

	// Server
	ServerPort  string
	MetricsPort string
}

func Load() (*Config, error) {
	cfg := &Config{}

	// MongoDB
	cfg.MongoURI = env.GetEnv("MONGO_URI", "")
	cfg.MongoDBName = env.GetEnv("MONGO_DB_NAME", "")

	// Redis
	cfg.RedisHost = env.GetEnv("REDIS_HOST", "localhost:6379")
	cfg.RedisPassword = env.GetEnv("REDIS_PASSWORD", "")
	cfg.RedisStreamKey = env.GetEnv("REDIS_STREAM_KEY", "plagiarism:submissions")
	cfg.RedisConsumerGroup = env.GetEnv("REDIS_CONSUMER_GROUP", "plagiarism:group")
	cfg.RedisDeadLetterKey = env.GetEnv("REDIS_DEAD_LETTER_KEY", "plagiarism:dlq")
	cfg.StreamRetentionDuration = env.GetEnvHours("STREAM_RETENTION_DURATION", 24)

	// JWT
	cfg.JWTSecret = env.GetEnv("JWT_SECRET", "")
	cfg.JWTIssuer = env.GetEnv("JWT_ISSUER", "phosphorus")

	// Rate Limiting
	cfg.RateLimitRPS = env.GetEnvFloat("RATE_LIMIT_RPS", 10.0)

	// Concurrency
	cfg.MaxConcurrentCompute = env.GetEnvInt("MAX_CONCURRENT_COMPUTE", 5)
	cfg.WorkerPoolSize = env.GetEnvInt("WORKER_POOL_SIZE", 0)

	// Computation
	timeoutMinutes := env.GetEnvInt("COMPUTATION_TIMEOUT_MINUTES", 30)
	cfg.ComputationTimeout = time.Duration(timeoutMinutes) * time.Minute

	// Comparison tool
	cfg.JavaBin = env.GetEnv("JAVA_BIN", "java")
	cfg.JPlagJarPath = env.GetEnv("JPLAG_JAR_PATH", "")
	cfg.WorkDir = env.GetEnv("WORK_DIR", "/tmp/phosphorus/work")
	cfg.ArchiveDir = env.GetEnv("ARCHIVE_DIR", "/var/lib/phosphorus/archives")
	cfg.ArchiveRetention = env.GetEnvHours("ARCHIVE_RETENTION_HOURS", 0)
	toolSeconds := env.GetEnvInt("TOOL_TIMEOUT_SECONDS", 300)
	cfg.ToolTimeout = time.Duration(toolSeconds) * time.Second

	// Analysis defaults
	cfg.DefaultMinTokens = env.GetEnvInt("DEFAULT_MIN_TOKENS", 9)
	cfg.DefaultSimilarityThreshold = env.GetEnvFloat("DEFAULT_SIMILARITY_THRESHOLD", 0.3)
	cfg.PrimaryMetric = plagiarism.Metric(env.GetEnv("PRIMARY_METRIC", string(plagiarism.MetricAverage)))
	cfg.ResultCacheSize = env.GetEnvInt("RESULT_CACHE_SIZE", 32)

	defaults := plagiarism.DefaultRiskThresholds()
	cfg.Risk = plagiarism.RiskThresholds{
		ClusterHighAverage:   env.GetEnvFloat("CLUSTER_RISK_HIGH_AVERAGE", defaults.ClusterHighAverage),
		ClusterHighStrength:  env.GetEnvFloat("CLUSTER_RISK_HIGH_STRENGTH", defaults.ClusterHighStrength),
		ClusterMediumAverage: env.GetEnvFloat("CLUSTER_RISK_MEDIUM_AVERAGE", defaults.ClusterMediumAverage),
		PairSuspicious:       env.GetEnvFloat("PAIR_RISK_SUSPICIOUS", defaults.PairSuspicious),
		PairHighlySuspicious: env.GetEnvFloat("PAIR_RISK_HIGHLY_SUSPICIOUS", defaults.PairHighlySuspicious),
		PairNearCopy:         env.GetEnvFloat("PAIR_RISK_NEAR_COPY", defaults.PairNearCopy),
	}

	// Logging
	cfg.LogLevel = env.GetEnv("LOG_LEVEL", "info")
	cfg.LogPretty = env.GetEnvBool("LOG_PRETTY", false)

	// Server
	cfg.ServerPort = env.GetEnv("SERVER_PORT", "8080")
	cfg.MetricsPort = env.GetEnv("METRICS_PORT", "9090")

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.MongoDBName == "" {
		return fmt.Errorf("MONGO_DB_NAME is required")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.JPlagJarPath == "" {
		return fmt.Errorf("JPLAG_JAR_PATH is required")
	}
	if c.MaxConcurrentCompute <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_COMPUTE must be greater than 0")
	}
	if c.StreamRetentionDuration <= 0 {
		return fmt.Errorf("STREAM_RETENTION_DURATION must be greater than 0")
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT_SECONDS must be greater than 0")
	}
	if c.DefaultMinTokens < 1 || c.DefaultMinTokens > 100 {
		return fmt.Errorf("DEFAULT_MIN_TOKENS must be between 1 and 100")
	}
	if c.DefaultSimilarityThreshold < 0 || c.DefaultSimilarityThreshold > 1 {
		return fmt.Errorf("DEFAULT_SIMILARITY_THRESHOLD must be between 0 and 1")
	}
	if !c.PrimaryMetric.IsRatio() {
		return fmt.Errorf("PRIMARY_METRIC must be AVG or MAX, got %q", c.PrimaryMetric)
	}
	if c.ResultCacheSize <= 0 {
		return fmt.Errorf("RESULT_CACHE_SIZE must be greater than 0")
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("invalid risk thresholds: %w", err)
	}
	return nil
}
