package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"IP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"IP_DB_MAX_CONNS" default:"8"`

	FingerprintThreshold  float64 `envconfig:"FINGERPRINT_THRESHOLD" default:"0.8"`
	SemanticThreshold     float64 `envconfig:"SEMANTIC_THRESHOLD" default:"0.85"`
	ClusterMergeThreshold float64 `envconfig:"CLUSTER_MERGE_THRESHOLD" default:"0.9"`
	ClusterMergeEnabled   bool    `envconfig:"CLUSTER_MERGE_ENABLED" default:"false"`
	NoveltyWeeks          int     `envconfig:"NOVELTY_WEEKS" default:"4"`

	ExtractionEndpoint  string `envconfig:"EXTRACTION_ENDPOINT" default:"http://127.0.0.1:8861"`
	EmbeddingEndpoint   string `envconfig:"EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8848"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"384"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("IP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("IP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("IP_DB_MIN_CONNS (%d) cannot exceed IP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.FingerprintThreshold <= 0 || c.FingerprintThreshold > 1 {
		return fmt.Errorf("FINGERPRINT_THRESHOLD must be in (0, 1]")
	}
	if c.SemanticThreshold <= 0 || c.SemanticThreshold > 1 {
		return fmt.Errorf("SEMANTIC_THRESHOLD must be in (0, 1]")
	}
	if c.ClusterMergeThreshold <= 0 || c.ClusterMergeThreshold > 1 {
		return fmt.Errorf("CLUSTER_MERGE_THRESHOLD must be in (0, 1]")
	}
	if c.NoveltyWeeks < 1 {
		return fmt.Errorf("NOVELTY_WEEKS must be >= 1")
	}
	if strings.TrimSpace(c.ExtractionEndpoint) == "" {
		return fmt.Errorf("EXTRACTION_ENDPOINT is required")
	}
	if strings.TrimSpace(c.EmbeddingEndpoint) == "" {
		return fmt.Errorf("EMBEDDING_ENDPOINT is required")
	}
	if c.EmbeddingDimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be >= 1")
	}
	return nil
}
