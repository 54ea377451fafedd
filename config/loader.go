// =============================================================================
// 📦 searchflow configuration loader
// =============================================================================
// YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("SEARCHFLOW").
//	    Load()
//
// Precedence: defaults → YAML file → environment
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 Core configuration
// =============================================================================

// Config is the complete searchflow configuration. It is built once at startup
// and passed explicitly to every component.
type Config struct {
	Server      ServerConfig      `yaml:"server" env:"SERVER"`
	Search      SearchConfig      `yaml:"search" env:"SEARCH"`
	Cache       CacheConfig       `yaml:"cache" env:"CACHE"`
	Redis       RedisConfig       `yaml:"redis" env:"REDIS"`
	Database    DatabaseConfig    `yaml:"database" env:"DATABASE"`
	VectorIndex VectorIndexConfig `yaml:"vector_index" env:"VECTOR_INDEX"`
	TextIndex   TextIndexConfig   `yaml:"text_index" env:"TEXT_INDEX"`
	Corpus      CorpusConfig      `yaml:"corpus" env:"CORPUS"`
	Embedding   EmbeddingConfig   `yaml:"embedding" env:"EMBEDDING"`
	Judgment    JudgmentConfig    `yaml:"judgment" env:"JUDGMENT"`
	Governance  GovernanceConfig  `yaml:"governance" env:"GOVERNANCE"`
	JWT         JWTConfig         `yaml:"jwt" env:"JWT"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP server settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// API keys accepted on /api routes; empty disables key auth.
	APIKeys            []string `yaml:"api_keys" env:"API_KEYS"`
	AllowQueryAPIKey   bool     `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS       float64  `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// SearchConfig query pipeline settings.
type SearchConfig struct {
	// Fixed secret that unlocks restricted corpus items when present in a query.
	AuthorizationToken  string        `yaml:"authorization_token" env:"AUTHORIZATION_TOKEN"`
	DefaultTopK         int           `yaml:"default_top_k" env:"DEFAULT_TOP_K"`
	MaxTopK             int           `yaml:"max_top_k" env:"MAX_TOP_K"`
	CandidateMultiplier int           `yaml:"candidate_multiplier" env:"CANDIDATE_MULTIPLIER"`
	VectorWeight        float64       `yaml:"vector_weight" env:"VECTOR_WEIGHT"`
	TextWeight          float64       `yaml:"text_weight" env:"TEXT_WEIGHT"`
	OverlapBonus        float64       `yaml:"overlap_bonus" env:"OVERLAP_BONUS"`
	VectorTimeout       time.Duration `yaml:"vector_timeout" env:"VECTOR_TIMEOUT"`
	TextTimeout         time.Duration `yaml:"text_timeout" env:"TEXT_TIMEOUT"`
	RerankTimeout       time.Duration `yaml:"rerank_timeout" env:"RERANK_TIMEOUT"`
	RerankCandidates    int           `yaml:"rerank_candidates" env:"RERANK_CANDIDATES"`
}

// CacheConfig search response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// memory | redis
	Backend         string        `yaml:"backend" env:"BACKEND"`
	TTL             time.Duration `yaml:"ttl" env:"TTL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	KeyPrefix       string        `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RedisConfig Redis connection.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	TLSEnabled   bool   `yaml:"tls_enabled" env:"TLS_ENABLED"`
}

// DatabaseConfig relational store used by the SQL indexes and governance persistence.
type DatabaseConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// postgres | mysql | sqlite
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// VectorIndexConfig selects the vector index provider.
type VectorIndexConfig struct {
	// memory | qdrant | pgvector
	Backend  string         `yaml:"backend" env:"BACKEND"`
	Qdrant   QdrantConfig   `yaml:"qdrant" env:"QDRANT"`
	PGVector PGVectorConfig `yaml:"pgvector" env:"PGVECTOR"`
}

// QdrantConfig Qdrant REST endpoint.
type QdrantConfig struct {
	Host       string        `yaml:"host" env:"HOST"`
	Port       int           `yaml:"port" env:"PORT"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// PGVectorConfig pgvector table settings.
type PGVectorConfig struct {
	Table      string `yaml:"table" env:"TABLE"`
	Dimensions int    `yaml:"dimensions" env:"DIMENSIONS"`
}

// TextIndexConfig selects the keyword index provider.
type TextIndexConfig struct {
	// memory | sql
	Backend string  `yaml:"backend" env:"BACKEND"`
	BM25K1  float64 `yaml:"bm25_k1" env:"BM25_K1"`
	BM25B   float64 `yaml:"bm25_b" env:"BM25_B"`
}

// CorpusConfig ingestion boundary.
type CorpusConfig struct {
	// JSON, JSONL or CSV file, or a directory of them, with pre-embedded items.
	Path string `yaml:"path" env:"PATH"`
	// Index corpus items into the configured backends at startup.
	IndexOnLoad bool `yaml:"index_on_load" env:"INDEX_ON_LOAD"`
}

// EmbeddingConfig query embedding provider.
type EmbeddingConfig struct {
	// openai | none
	Provider   string        `yaml:"provider" env:"PROVIDER"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Extra attempts for retryable upstream failures (5xx, 429, transport).
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// JudgmentConfig rerank judgment provider.
type JudgmentConfig struct {
	// chat | cohere | none
	Provider              string        `yaml:"provider" env:"PROVIDER"`
	BaseURL               string        `yaml:"base_url" env:"BASE_URL"`
	APIKey                string        `yaml:"api_key" env:"API_KEY"`
	Model                 string        `yaml:"model" env:"MODEL"`
	Timeout               time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxTokensPerCandidate int           `yaml:"max_tokens_per_candidate" env:"MAX_TOKENS_PER_CANDIDATE"`
	Temperature           float64       `yaml:"temperature" env:"TEMPERATURE"`
	// Consecutive failures before the judge is skipped; 0 disables the breaker.
	BreakerThreshold      int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerResetTimeout   time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
}

// GovernanceConfig background analytics.
type GovernanceConfig struct {
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	QueueSize         int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	DashboardInterval time.Duration `yaml:"dashboard_interval" env:"DASHBOARD_INTERVAL"`
	ScanWorkers       int           `yaml:"scan_workers" env:"SCAN_WORKERS"`
	ScanOnStart       bool          `yaml:"scan_on_start" env:"SCAN_ON_START"`
	RulesFile         string        `yaml:"rules_file" env:"RULES_FILE"`
	Persist           bool          `yaml:"persist" env:"PERSIST"`

	Coverage CoverageConfig `yaml:"coverage" env:"COVERAGE"`
	Sources  SourcesConfig  `yaml:"sources" env:"SOURCES"`
}

// CoverageConfig coverage monitor thresholds.
type CoverageConfig struct {
	MinQuality         float64       `yaml:"min_quality" env:"MIN_QUALITY"`
	MinQueries         int           `yaml:"min_queries" env:"MIN_QUERIES"`
	MinSourcesPerTopic int           `yaml:"min_sources_per_topic" env:"MIN_SOURCES_PER_TOPIC"`
	QualityAlpha       float64       `yaml:"quality_alpha" env:"QUALITY_ALPHA"`
	TrendingWindow     time.Duration `yaml:"trending_window" env:"TRENDING_WINDOW"`
	Topics             []string      `yaml:"topics" env:"TOPICS"`
}

// SourcesConfig source analyzer thresholds.
type SourcesConfig struct {
	HighValueMinAccess int           `yaml:"high_value_min_access" env:"HIGH_VALUE_MIN_ACCESS"`
	HighValueRecency   time.Duration `yaml:"high_value_recency" env:"HIGH_VALUE_RECENCY"`
	LowUsageThreshold  int           `yaml:"low_usage_threshold" env:"LOW_USAGE_THRESHOLD"`
	StaleAfter         time.Duration `yaml:"stale_after" env:"STALE_AFTER"`
	ActiveWindow       time.Duration `yaml:"active_window" env:"ACTIVE_WINDOW"`
}

// JWTConfig governance admin authentication. Empty secret and public key disable JWT.
type JWTConfig struct {
	Secret    string `yaml:"secret" env:"SECRET"`
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
	// Role claim required on the governance admin routes; empty accepts any valid token.
	AdminRole string `yaml:"admin_role" env:"ADMIN_ROLE"`
}

// Enabled reports whether JWT verification is configured.
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// LogConfig logging.
type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 Loader
// =============================================================================

// Loader builds a Config (builder style).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the SEARCHFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SEARCHFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the configuration.
// Precedence: defaults → YAML file → environment
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile reads YAML; a missing file keeps the defaults.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks struct fields recursively, joining env tags with "_".
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// comma separated
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 Helpers
// =============================================================================

// MustLoad loads the configuration and panics on error.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads defaults plus environment overrides.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	s := c.Search
	if s.AuthorizationToken == "" {
		errs = append(errs, "search.authorization_token must not be empty")
	}
	if s.MaxTopK <= 0 {
		errs = append(errs, "search.max_top_k must be positive")
	}
	if s.DefaultTopK <= 0 || s.DefaultTopK > s.MaxTopK {
		errs = append(errs, "search.default_top_k must be in 1..max_top_k")
	}
	if s.CandidateMultiplier < 1 {
		errs = append(errs, "search.candidate_multiplier must be at least 1")
	}
	if s.TextWeight < 0 || s.VectorWeight <= s.TextWeight {
		errs = append(errs, "search.vector_weight must be greater than search.text_weight >= 0")
	}
	if s.OverlapBonus < 0 {
		errs = append(errs, "search.overlap_bonus must not be negative")
	}
	if s.VectorTimeout <= 0 || s.TextTimeout <= 0 || s.RerankTimeout <= 0 {
		errs = append(errs, "search timeouts must be positive")
	}

	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			errs = append(errs, "cache.ttl must be positive")
		}
		if !oneOf(c.Cache.Backend, "memory", "redis") {
			errs = append(errs, fmt.Sprintf("unknown cache.backend %q", c.Cache.Backend))
		}
	}
	if !oneOf(c.VectorIndex.Backend, "memory", "qdrant", "pgvector") {
		errs = append(errs, fmt.Sprintf("unknown vector_index.backend %q", c.VectorIndex.Backend))
	}
	if !oneOf(c.TextIndex.Backend, "memory", "sql") {
		errs = append(errs, fmt.Sprintf("unknown text_index.backend %q", c.TextIndex.Backend))
	}
	if (c.VectorIndex.Backend == "pgvector" || c.TextIndex.Backend == "sql") && !c.Database.Enabled {
		errs = append(errs, "database must be enabled for pgvector or sql indexes")
	}
	if c.VectorIndex.Backend == "pgvector" && c.Database.Driver != "postgres" {
		errs = append(errs, "pgvector requires database.driver=postgres")
	}
	if !oneOf(c.Embedding.Provider, "openai", "none", "") {
		errs = append(errs, fmt.Sprintf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	if !oneOf(c.Judgment.Provider, "chat", "cohere", "none", "") {
		errs = append(errs, fmt.Sprintf("unknown judgment.provider %q", c.Judgment.Provider))
	}
	if c.Governance.Enabled && c.Governance.QueueSize <= 0 {
		errs = append(errs, "governance.queue_size must be positive")
	}
	if c.Governance.Persist && !c.Database.Enabled {
		errs = append(errs, "governance.persist requires database.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// DSN returns the driver-specific connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
