package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/sheetqa/sheetqa/internal/database"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("sheetqa-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Auth.UserClaim != "user_id" {
		t.Fatalf("Auth.UserClaim = %q", cfg.Auth.UserClaim)
	}
	if cfg.Database.Driver != database.Postgres {
		t.Fatalf("Database.Driver = %q", cfg.Database.Driver)
	}
	if cfg.Database.MaxOpenConns != 20 {
		t.Fatalf("Database.MaxOpenConns = %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Query.DefaultTopK != 5 || cfg.Query.MaxTopK != 50 {
		t.Fatalf("Query top-k = %d/%d", cfg.Query.DefaultTopK, cfg.Query.MaxTopK)
	}
	if cfg.Query.AggregateLimit != 100 {
		t.Fatalf("Query.AggregateLimit = %d", cfg.Query.AggregateLimit)
	}
	if cfg.Query.SampleRows != 3 || cfg.Query.SampleValueMaxLen != 100 {
		t.Fatalf("Query samples = %d/%d", cfg.Query.SampleRows, cfg.Query.SampleValueMaxLen)
	}
	if cfg.Ingest.CSVHeaderOffset != 7 {
		t.Fatalf("Ingest.CSVHeaderOffset = %d", cfg.Ingest.CSVHeaderOffset)
	}
	if cfg.Ingest.ArchiveEnabled {
		t.Fatal("Ingest.ArchiveEnabled should default to false")
	}
	if cfg.AI.Provider != ProviderGemini {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.BaseURL != "https://generativelanguage.googleapis.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if len(cfg.AI.Models) != 5 || cfg.AI.Models[0] != "gemini-2.5-flash" || cfg.AI.Models[4] != "gemini-pro" {
		t.Fatalf("AI.Models = %v", cfg.AI.Models)
	}
	if cfg.AI.Timeout != 30*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.APIKey != "" {
		t.Fatalf("AI.APIKey = %q, want empty", cfg.AI.APIKey)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"SHEETQA_PROFILE": "prod"})
	cfg, err := Load("sheetqa-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadTestProfileUsesDuckDB(t *testing.T) {
	cfg, err := Load("sheetqa-api", mapLookup(map[string]string{"SHEETQA_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != database.DuckDB {
		t.Fatalf("Database.Driver = %q", cfg.Database.Driver)
	}
	if cfg.HTTP.Address != ":18080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SHEETQA_PROFILE":                        "test",
		"SHEETQA_HTTP_ADDR":                      ":9999",
		"SHEETQA_HTTP_READ_TIMEOUT":              "2s",
		"SHEETQA_HTTP_WRITE_TIMEOUT":             "3s",
		"SHEETQA_LOG_LEVEL":                      "error",
		"SHEETQA_AUTH_REQUIRED":                  "true",
		"SHEETQA_AUTH_STATIC_KEYS":               "k1:u1:user",
		"SHEETQA_AUTH_JWT_SECRET":                "shh",
		"SHEETQA_AUTH_USER_CLAIM":                "uid",
		"SHEETQA_SERVICE_NAME":                   "sheetqa-custom",
		"SHEETQA_DB_DRIVER":                      "MySQL",
		"SHEETQA_DB_HOST":                        "db.internal",
		"SHEETQA_DB_PORT":                        "3307",
		"SHEETQA_DB_USER":                        "app",
		"SHEETQA_DB_PASSWORD":                    "pw",
		"SHEETQA_DB_NAME":                        "sheets",
		"SHEETQA_DB_MAX_OPEN_CONNS":              "42",
		"SHEETQA_DB_MAX_IDLE_CONNS":              "17",
		"SHEETQA_DB_CONN_MAX_LIFETIME":           "1h",
		"SHEETQA_OBJECTSTORE_ENDPOINT":           "s3.example.com",
		"SHEETQA_OBJECTSTORE_BUCKET":             "sheetqa-prod",
		"SHEETQA_OBJECTSTORE_USE_SSL":            "true",
		"SHEETQA_OBJECTSTORE_PREFIX":             "tenant-root",
		"SHEETQA_OBJECTSTORE_AUTO_CREATE_BUCKET": "false",
		"SHEETQA_QUERY_DEFAULT_TOP_K":            "10",
		"SHEETQA_QUERY_MAX_TOP_K":                "20",
		"SHEETQA_QUERY_AGGREGATE_LIMIT":          "250",
		"SHEETQA_QUERY_SAMPLE_ROWS":              "5",
		"SHEETQA_INGEST_MAX_UPLOAD_BYTES":        "1048576",
		"SHEETQA_INGEST_CSV_HEADER_OFFSET":       "0",
		"SHEETQA_INGEST_ARCHIVE_ENABLED":         "true",
		"SHEETQA_RECONCILER_INTERVAL":            "30s",
		"SHEETQA_RECONCILER_STALE_AFTER":         "5m",
		"SHEETQA_AI_PROVIDER":                    "openai",
		"SHEETQA_AI_API_KEY":                     "'secret-key'",
		"SHEETQA_AI_MODELS":                      "gpt-4o-mini, gpt-4o ,",
		"SHEETQA_AI_TEMPERATURE":                 "0.3",
		"SHEETQA_AI_TIMEOUT":                     "21s",
		"SHEETQA_AI_REQUESTS_PER_SECOND":         "2.5",
		"SHEETQA_AI_BURST":                       "3",
	})
	cfg, err := Load("sheetqa-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "sheetqa-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP timeouts = %s/%s", cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:u1:user" || cfg.Auth.JWTSecret != "shh" || cfg.Auth.UserClaim != "uid" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Database.Driver != database.MySQL {
		t.Fatalf("Database.Driver = %q", cfg.Database.Driver)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 3307 || cfg.Database.Name != "sheets" {
		t.Fatalf("Database = %+v", cfg.Database)
	}
	if cfg.Database.MaxOpenConns != 42 || cfg.Database.MaxIdleConns != 17 {
		t.Fatalf("Database pool = %d/%d", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime != time.Hour {
		t.Fatalf("Database.ConnMaxLifetime = %s", cfg.Database.ConnMaxLifetime)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Bucket != "sheetqa-prod" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if !cfg.ObjectStore.UseSSL || cfg.ObjectStore.AutoCreateBucket {
		t.Fatalf("ObjectStore flags = %+v", cfg.ObjectStore)
	}
	if cfg.Query.DefaultTopK != 10 || cfg.Query.MaxTopK != 20 || cfg.Query.AggregateLimit != 250 || cfg.Query.SampleRows != 5 {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if cfg.Ingest.MaxUploadBytes != 1<<20 || cfg.Ingest.CSVHeaderOffset != 0 || !cfg.Ingest.ArchiveEnabled {
		t.Fatalf("Ingest = %+v", cfg.Ingest)
	}
	if cfg.Reconciler.Interval != 30*time.Second || cfg.Reconciler.StaleAfter != 5*time.Minute {
		t.Fatalf("Reconciler = %+v", cfg.Reconciler)
	}
	if cfg.AI.Provider != ProviderOpenAI {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.BaseURL != "https://api.openai.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if len(cfg.AI.Models) != 2 || cfg.AI.Models[0] != "gpt-4o-mini" || cfg.AI.Models[1] != "gpt-4o" {
		t.Fatalf("AI.Models = %q", cfg.AI.Models)
	}
	if cfg.AI.Temperature != 0.3 || cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.RequestsPerSecond != 2.5 || cfg.AI.Burst != 3 {
		t.Fatalf("AI rate = %f/%d", cfg.AI.RequestsPerSecond, cfg.AI.Burst)
	}
}

func TestLoadAcceptsLegacyGeminiKey(t *testing.T) {
	cfg, err := Load("sheetqa-api", mapLookup(map[string]string{"GEMINI_KEY": `"abc"`}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "abc" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}

	cfg, err = Load("sheetqa-api", mapLookup(map[string]string{"GEMINI_KEY": "abc", "SHEETQA_AI_API_KEY": "xyz"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "xyz" {
		t.Fatalf("AI.APIKey = %q, want explicit key to win", cfg.AI.APIKey)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"SHEETQA_PROFILE": "oops"},
		{"SHEETQA_HTTP_READ_TIMEOUT": "NaN"},
		{"SHEETQA_DB_DRIVER": "sqlite"},
		{"SHEETQA_DB_MAX_OPEN_CONNS": "oops"},
		{"SHEETQA_QUERY_DEFAULT_TOP_K": "oops"},
		{"SHEETQA_QUERY_DEFAULT_TOP_K": "60"},
		{"SHEETQA_INGEST_MAX_UPLOAD_BYTES": "big"},
		{"SHEETQA_AI_PROVIDER": "bard"},
		{"SHEETQA_AI_MODELS": " , "},
		{"SHEETQA_AI_TEMPERATURE": "bad"},
		{"SHEETQA_AI_TIMEOUT": "0s"},
		{"SHEETQA_AUTH_REQUIRED": "not-bool"},
		{"SHEETQA_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("sheetqa-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
