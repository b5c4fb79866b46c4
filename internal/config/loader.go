package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/taxbinder/taxbinder/internal/db"
)

// Config is the full service configuration. Capability credentials are
// optional: a missing OCR or AI block means that step is skipped at runtime,
// never that startup fails.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Blob     BlobConfig
	OCR      OCRConfig
	AI       AIConfig
	Pipeline PipelineConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// BlobConfig holds blob store settings.
type BlobConfig struct {
	Dir          string
	SignedURLTTL time.Duration
}

// OCRConfig holds Azure Document Intelligence credentials.
type OCRConfig struct {
	Endpoint string
	APIKey   string
}

// AIConfig holds Anthropic classifier credentials.
type AIConfig struct {
	APIKey string
	Model  string
}

// PipelineConfig bounds dispatcher behaviour.
type PipelineConfig struct {
	MaxAttempts     int
	RunTimeout      time.Duration
	BulkConcurrency int
}

// Load reads config.yaml from configPath, with environment overrides.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Blob: BlobConfig{
			Dir:          "data/documents",
			SignedURLTTL: time.Hour,
		},
		AI: AIConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Pipeline: PipelineConfig{
			MaxAttempts:     3,
			RunTimeout:      5 * time.Minute,
			BulkConcurrency: 4,
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("TAXBINDER") // map env vars like TAXBINDER_DATABASE.HOST

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("blob.dir")
	v.BindEnv("ocr.endpoint", "AZURE_DOCUMENT_INTELLIGENCE_ENDPOINT")
	v.BindEnv("ocr.api_key", "AZURE_DOCUMENT_INTELLIGENCE_KEY")
	v.BindEnv("ai.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("ai.model")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("blob.dir") {
		cfg.Blob.Dir = v.GetString("blob.dir")
	}
	if v.IsSet("blob.signed_url_ttl_seconds") {
		cfg.Blob.SignedURLTTL = time.Duration(v.GetInt("blob.signed_url_ttl_seconds")) * time.Second
	}
	if v.IsSet("ocr.endpoint") {
		cfg.OCR.Endpoint = v.GetString("ocr.endpoint")
	}
	if v.IsSet("ocr.api_key") {
		cfg.OCR.APIKey = v.GetString("ocr.api_key")
	}
	if v.IsSet("ai.api_key") {
		cfg.AI.APIKey = v.GetString("ai.api_key")
	}
	if v.IsSet("ai.model") {
		cfg.AI.Model = v.GetString("ai.model")
	}
	if v.IsSet("pipeline.max_attempts") {
		cfg.Pipeline.MaxAttempts = v.GetInt("pipeline.max_attempts")
	}
	if v.IsSet("pipeline.run_timeout_seconds") {
		cfg.Pipeline.RunTimeout = time.Duration(v.GetInt("pipeline.run_timeout_seconds")) * time.Second
	}
	if v.IsSet("pipeline.bulk_concurrency") {
		cfg.Pipeline.BulkConcurrency = v.GetInt("pipeline.bulk_concurrency")
	}

	if cfg.Pipeline.MaxAttempts <= 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.BulkConcurrency <= 0 {
		cfg.Pipeline.BulkConcurrency = 4
	}

	return cfg, nil
}
