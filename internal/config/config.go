package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sheetqa/sheetqa/internal/database"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      database.Config
	ObjectStore   ObjectStoreConfig
	Query         QueryConfig
	Ingest        IngestConfig
	Reconciler    ReconcilerConfig
	AI            AIConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type QueryConfig struct {
	DefaultTopK       int
	MaxTopK           int
	AggregateLimit    int
	SampleRows        int
	SampleValueMaxLen int
}

type IngestConfig struct {
	MaxUploadBytes  int64
	CSVHeaderOffset int
	ArchiveEnabled  bool
}

type ReconcilerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// Provider names a language model API.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

type AIConfig struct {
	Provider          Provider
	BaseURL           string
	APIKey            string
	Models            []string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
	JWTSecret  string
	UserClaim  string
}

// DefaultModels is the fallback chain tried in order for Gemini.
var DefaultModels = []string{
	"gemini-2.5-flash",
	"gemini-flash-latest",
	"gemini-2.0-flash",
	"gemini-pro-latest",
	"gemini-pro",
}

var defaultBaseURLs = map[Provider]string{
	ProviderGemini: "https://generativelanguage.googleapis.com",
	ProviderOpenAI: "https://api.openai.com",
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SHEETQA_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SHEETQA_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var (
		driver   = string(cfg.Database.Driver)
		provider = string(cfg.AI.Provider)
		models   = strings.Join(cfg.AI.Models, ",")
	)
	steps := []func() error{
		func() error { return applyString(lookup, "SHEETQA_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "SHEETQA_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "SHEETQA_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "SHEETQA_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "SHEETQA_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "SHEETQA_DB_DRIVER", &driver) },
		func() error { return applyString(lookup, "SHEETQA_DB_DSN", &cfg.Database.DSN) },
		func() error { return applyString(lookup, "SHEETQA_DB_HOST", &cfg.Database.Host) },
		func() error { return applyInt(lookup, "SHEETQA_DB_PORT", &cfg.Database.Port) },
		func() error { return applyString(lookup, "SHEETQA_DB_USER", &cfg.Database.User) },
		func() error { return applyString(lookup, "SHEETQA_DB_PASSWORD", &cfg.Database.Password) },
		func() error { return applyString(lookup, "SHEETQA_DB_NAME", &cfg.Database.Name) },
		func() error { return applyString(lookup, "SHEETQA_DB_SSLMODE", &cfg.Database.SSLMode) },
		func() error { return applyInt(lookup, "SHEETQA_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "SHEETQA_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "SHEETQA_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "SHEETQA_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)
		},

		func() error { return applyString(lookup, "SHEETQA_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "SHEETQA_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "SHEETQA_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error {
			return applyString(lookup, "SHEETQA_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID)
		},
		func() error {
			return applyString(lookup, "SHEETQA_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "SHEETQA_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "SHEETQA_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "SHEETQA_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyInt(lookup, "SHEETQA_QUERY_DEFAULT_TOP_K", &cfg.Query.DefaultTopK) },
		func() error { return applyInt(lookup, "SHEETQA_QUERY_MAX_TOP_K", &cfg.Query.MaxTopK) },
		func() error { return applyInt(lookup, "SHEETQA_QUERY_AGGREGATE_LIMIT", &cfg.Query.AggregateLimit) },
		func() error { return applyInt(lookup, "SHEETQA_QUERY_SAMPLE_ROWS", &cfg.Query.SampleRows) },
		func() error {
			return applyInt(lookup, "SHEETQA_QUERY_SAMPLE_VALUE_MAX_LEN", &cfg.Query.SampleValueMaxLen)
		},

		func() error { return applyInt64(lookup, "SHEETQA_INGEST_MAX_UPLOAD_BYTES", &cfg.Ingest.MaxUploadBytes) },
		func() error { return applyInt(lookup, "SHEETQA_INGEST_CSV_HEADER_OFFSET", &cfg.Ingest.CSVHeaderOffset) },
		func() error { return applyBool(lookup, "SHEETQA_INGEST_ARCHIVE_ENABLED", &cfg.Ingest.ArchiveEnabled) },

		func() error { return applyDuration(lookup, "SHEETQA_RECONCILER_INTERVAL", &cfg.Reconciler.Interval) },
		func() error {
			return applyDuration(lookup, "SHEETQA_RECONCILER_STALE_AFTER", &cfg.Reconciler.StaleAfter)
		},

		func() error { return applyString(lookup, "SHEETQA_AI_PROVIDER", &provider) },
		func() error { return applyString(lookup, "SHEETQA_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "GEMINI_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "SHEETQA_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "SHEETQA_AI_MODELS", &models) },
		func() error { return applyFloat(lookup, "SHEETQA_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "SHEETQA_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyFloat(lookup, "SHEETQA_AI_REQUESTS_PER_SECOND", &cfg.AI.RequestsPerSecond) },
		func() error { return applyInt(lookup, "SHEETQA_AI_BURST", &cfg.AI.Burst) },

		func() error { return applyBool(lookup, "SHEETQA_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "SHEETQA_LOG_LEVEL", &cfg.Observability.LogLevel) },

		func() error { return applyBool(lookup, "SHEETQA_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "SHEETQA_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
		func() error { return applyString(lookup, "SHEETQA_AUTH_JWT_SECRET", &cfg.Auth.JWTSecret) },
		func() error { return applyString(lookup, "SHEETQA_AUTH_USER_CLAIM", &cfg.Auth.UserClaim) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	parsedDriver, err := database.ParseDriver(driver)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SHEETQA_DB_DRIVER: %w", err)
	}
	cfg.Database.Driver = parsedDriver

	cfg.AI.Provider = Provider(strings.ToLower(strings.TrimSpace(provider)))
	baseURL, ok := defaultBaseURLs[cfg.AI.Provider]
	if !ok {
		return Config{}, fmt.Errorf("invalid SHEETQA_AI_PROVIDER: %q", provider)
	}
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = baseURL
	}
	cfg.AI.APIKey = strings.Trim(cfg.AI.APIKey, `"'`)
	cfg.AI.Models = splitList(models)
	if len(cfg.AI.Models) == 0 {
		return Config{}, fmt.Errorf("SHEETQA_AI_MODELS must name at least one model")
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Query.MaxTopK <= 0 || cfg.Query.DefaultTopK <= 0 || cfg.Query.DefaultTopK > cfg.Query.MaxTopK {
		return Config{}, fmt.Errorf("query top-k defaults must satisfy 0 < default <= max")
	}
	if cfg.AI.Timeout <= 0 {
		return Config{}, fmt.Errorf("SHEETQA_AI_TIMEOUT must be positive")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sheetqa-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: database.Config{
			Driver:          database.Postgres,
			Host:            "localhost",
			User:            "postgres",
			Password:        "postgres",
			Name:            "sheetqa",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    20,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "sheetqa",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Query: QueryConfig{
			DefaultTopK:       5,
			MaxTopK:           50,
			AggregateLimit:    100,
			SampleRows:        3,
			SampleValueMaxLen: 100,
		},
		Ingest: IngestConfig{
			MaxUploadBytes:  32 << 20,
			CSVHeaderOffset: 7,
			ArchiveEnabled:  false,
		},
		Reconciler: ReconcilerConfig{
			Interval:   time.Minute,
			StaleAfter: 15 * time.Minute,
		},
		AI: AIConfig{
			Provider:          ProviderGemini,
			Models:            append([]string(nil), DefaultModels...),
			Temperature:       0.1,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
			UserClaim:  "user_id",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Database.Driver = database.DuckDB
		cfg.Database.Name = ""
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
