package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all pipeline configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Worker   WorkerConfig
	OCR      OCRConfig
	Vision   VisionConfig
}

// ServerConfig holds process-level configuration shared by both workers
type ServerConfig struct {
	Environment string
	ServiceName string
	HealthPort  string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// WorkerConfig holds the polling parameters common to both pipeline stages
type WorkerConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// OCRConfig holds settings for the text-extraction stage
type OCRConfig struct {
	Language      string
	EngineOptions string
	MinTextLength int
}

// VisionConfig holds settings for the vision-summarization stage
type VisionConfig struct {
	Model          string
	ModelEndpoint  string
	APIKey         string
	MaxTokens      int
	PromptTemplate string
	RateLimitDelay time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Environment: getEnv("ENVIRONMENT", "development"),
			ServiceName: serviceName,
			HealthPort:  getEnv("HEALTH_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "recall"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 2),
		},
		Worker: WorkerConfig{
			BatchSize:    getEnvAsInt("WORKER_BATCH_SIZE", 10),
			PollInterval: getEnvAsDuration("WORKER_POLL_INTERVAL", 5*time.Second),
			MaxRetries:   getEnvAsInt("WORKER_MAX_RETRIES", 3),
			RetryDelay:   getEnvAsDuration("WORKER_RETRY_DELAY", time.Second),
		},
		OCR: OCRConfig{
			Language:      getEnv("OCR_LANG", "eng"),
			EngineOptions: getEnv("OCR_ENGINE_OPTIONS", ""),
			MinTextLength: getEnvAsInt("OCR_MIN_TEXT_LENGTH", 1),
		},
		Vision: VisionConfig{
			Model:          getEnv("VISION_MODEL", "gpt-4o"),
			ModelEndpoint:  getEnv("VISION_MODEL_ENDPOINT", ""),
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			MaxTokens:      getEnvAsInt("VISION_MAX_TOKENS", 150),
			PromptTemplate: getEnv("VISION_PROMPT", ""),
			RateLimitDelay: getEnvAsDuration("VISION_RATE_LIMIT_DELAY", 500*time.Millisecond),
		},
	}

	if cfg.Worker.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive, got %d", cfg.Worker.BatchSize)
	}
	if cfg.Worker.PollInterval <= 0 {
		return nil, fmt.Errorf("WORKER_POLL_INTERVAL must be positive, got %s", cfg.Worker.PollInterval)
	}
	if cfg.OCR.MinTextLength < 1 {
		cfg.OCR.MinTextLength = 1
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the database connection string in URL form, as consumed by the
// migration tooling.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration parses either a Go duration string ("5s", "500ms") or a bare
// number of seconds, matching how deployments have historically set these.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
