package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type MinIOOptions struct {
	Endpoint     string `env:"MINIO_ENDPOINT"`
	AccessKey    string `env:"MINIO_ACCESS_KEY"`
	SecretKey    string `env:"MINIO_SECRET_KEY"`
	UseSSL       bool   `env:"MINIO_USE_SSL" envDefault:"false"`
	BucketImport string `env:"MINIO_BUCKET_IMPORTS" envDefault:"import-sources"`
}

// Enabled reports whether object storage is configured at all.
func (m MinIOOptions) Enabled() bool {
	return strings.TrimSpace(m.Endpoint) != ""
}

type WorkflowOptions struct {
	BaseURL     string        `env:"WORKFLOW_BASE_URL"`
	IntakePath  string        `env:"WORKFLOW_INTAKE_PATH" envDefault:"/api/v1/workflows/import"`
	APIKey      string        `env:"WORKFLOW_API_KEY"`
	Timeout     time.Duration `env:"WORKFLOW_TIMEOUT" envDefault:"30s"`
	MaxAttempts int           `env:"WORKFLOW_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase time.Duration `env:"WORKFLOW_BACKOFF_BASE" envDefault:"1s"`
}

type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	DatabaseURL     string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxOpenConns  int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	DBMaxIdleConns  int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnLifetime  time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL          time.Duration `env:"JWT_TTL" envDefault:"24h"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	AllowOrigins    []string      `env:"ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	LogstashTCPAddr string        `env:"LOGSTASH_TCP_ADDR"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	MinIO MinIOOptions

	UploadDir            string `env:"UPLOAD_DIR" envDefault:"./data/imports"`
	SourceFallbackPolicy string `env:"SOURCE_FALLBACK_POLICY" envDefault:"on_not_found"`
	UploadMaxBytes       int64  `env:"UPLOAD_MAX_BYTES" envDefault:"20971520"`

	Workflow WorkflowOptions

	ImportBatchSize    int `env:"IMPORT_BATCH_SIZE" envDefault:"100"`
	StagingInsertChunk int `env:"STAGING_INSERT_CHUNK" envDefault:"500"`
}

// CallbackURL is the address the workflow engine reports batch results to.
func (c Config) CallbackURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/api/v1/imports/callback"
}

func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	return Parse()
}

// Parse reads the process environment without touching .env files.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.AllowOrigins = trimAll(cfg.AllowOrigins)
	return cfg, nil
}

func (c Config) validate() error {
	switch c.SourceFallbackPolicy {
	case "never", "on_not_found", "on_any_error":
	default:
		return fmt.Errorf("SOURCE_FALLBACK_POLICY must be never, on_not_found or on_any_error, got %q", c.SourceFallbackPolicy)
	}
	if c.Workflow.MaxAttempts < 1 {
		return fmt.Errorf("WORKFLOW_MAX_ATTEMPTS must be at least 1, got %d", c.Workflow.MaxAttempts)
	}
	if c.ImportBatchSize < 1 {
		return fmt.Errorf("IMPORT_BATCH_SIZE must be positive, got %d", c.ImportBatchSize)
	}
	if c.MinIO.Enabled() && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	return nil
}

func trimAll(input []string) []string {
	out := make([]string, 0, len(input))
	for _, p := range input {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
