// =============================================================================
// 📦 searchflow defaults
// =============================================================================
package config

import "time"

// DefaultConfig returns the complete default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Search:      DefaultSearchConfig(),
		Cache:       DefaultCacheConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		VectorIndex: DefaultVectorIndexConfig(),
		TextIndex:   DefaultTextIndexConfig(),
		Corpus:      DefaultCorpusConfig(),
		Embedding:   DefaultEmbeddingConfig(),
		Judgment:    DefaultJudgmentConfig(),
		Governance:  DefaultGovernanceConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultSearchConfig returns the default query pipeline settings.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		AuthorizationToken:  "vinapermitecriar",
		DefaultTopK:         8,
		MaxTopK:             50,
		CandidateMultiplier: 2,
		VectorWeight:        0.7,
		TextWeight:          0.3,
		OverlapBonus:        0.2,
		VectorTimeout:       2 * time.Second,
		TextTimeout:         2 * time.Second,
		RerankTimeout:       10 * time.Second,
		RerankCandidates:    20,
	}
}

// DefaultCacheConfig returns the default search cache settings.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:         true,
		Backend:         "memory",
		TTL:             5 * time.Minute,
		CleanupInterval: time.Minute,
		KeyPrefix:       "searchflow:search:",
	}
}

// DefaultRedisConfig returns the default Redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns the default database settings (disabled).
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "searchflow",
		Password:        "",
		Name:            "searchflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultVectorIndexConfig returns the default vector index settings.
func DefaultVectorIndexConfig() VectorIndexConfig {
	return VectorIndexConfig{
		Backend: "memory",
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6333,
			Collection: "searchflow_corpus",
			Timeout:    10 * time.Second,
		},
		PGVector: PGVectorConfig{
			Table:      "corpus_embeddings",
			Dimensions: 1536,
		},
	}
}

// DefaultTextIndexConfig returns the default text index settings.
func DefaultTextIndexConfig() TextIndexConfig {
	return TextIndexConfig{
		Backend: "memory",
		BM25K1:  1.5,
		BM25B:   0.75,
	}
}

// DefaultCorpusConfig returns the default corpus settings.
func DefaultCorpusConfig() CorpusConfig {
	return CorpusConfig{
		Path:        "data/corpus.jsonl",
		IndexOnLoad: true,
	}
}

// DefaultEmbeddingConfig returns the default embedding provider settings.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:   "openai",
		BaseURL:    "https://api.openai.com",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    10 * time.Second,
		MaxRetries: 2,
	}
}

// DefaultJudgmentConfig returns the default judgment provider settings.
func DefaultJudgmentConfig() JudgmentConfig {
	return JudgmentConfig{
		Provider:              "none",
		BaseURL:               "https://api.openai.com",
		Model:                 "gpt-4o-mini",
		Timeout:               10 * time.Second,
		MaxTokensPerCandidate: 256,
		Temperature:           0,
		BreakerThreshold:      5,
		BreakerResetTimeout:   30 * time.Second,
	}
}

// DefaultGovernanceConfig returns the default governance settings.
func DefaultGovernanceConfig() GovernanceConfig {
	return GovernanceConfig{
		Enabled:           true,
		QueueSize:         1024,
		DashboardInterval: 5 * time.Minute,
		ScanWorkers:       4,
		ScanOnStart:       true,
		Coverage: CoverageConfig{
			MinQuality:         0.6,
			MinQueries:         1,
			MinSourcesPerTopic: 3,
			QualityAlpha:       0.2,
			TrendingWindow:     7 * 24 * time.Hour,
			Topics:             DefaultTopics(),
		},
		Sources: SourcesConfig{
			HighValueMinAccess: 10,
			HighValueRecency:   30 * 24 * time.Hour,
			LowUsageThreshold:  5,
			StaleAfter:         365 * 24 * time.Hour,
			ActiveWindow:       30 * 24 * time.Hour,
		},
	}
}

// DefaultTopics is the known topic taxonomy used by the coverage monitor.
func DefaultTopics() []string {
	return []string{
		"react", "nextjs", "typescript", "javascript", "tailwind", "css",
		"nodejs", "express", "fastapi", "python", "authentication", "database",
		"prisma", "mongodb", "postgresql", "redis", "docker", "kubernetes",
		"aws", "vercel", "deployment", "testing", "jest", "playwright",
		"security", "performance", "optimization", "seo", "accessibility",
		"ui", "ux", "design", "components", "hooks", "state-management",
		"api", "rest", "graphql", "websockets", "real-time", "caching",
		"monitoring", "logging", "analytics", "error-handling", "debugging",
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "searchflow",
		SampleRate:   0.1,
	}
}
