package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// NATS
	NatsURL string

	// Redis (session cache + token replay buffer)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration
	ReplayTTL     time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int

	// OpenAI-compatible inference
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	ChatModel           string
	TitleModel          string
	ExtractionModel     string
	EmbeddingsModel     string
	EmbeddingDimensions int

	// Memory API (called by the generator for personalization)
	MemoryAPIEndpoint string
	MemoryAPITimeout  time.Duration

	// Generator behavior
	MaxConcurrency     int
	MaxToolRounds      int
	SearchLimitDefault int
	SearchLimitMax     int

	// Memory API search
	SearchResultCap int

	// Egress
	FirstTokenTimeout time.Duration
	KeepAliveInterval time.Duration

	// Graceful shutdown
	ServerShutdownTimeoutSeconds    int
	GeneratorShutdownTimeoutSeconds int
	WorkerShutdownTimeoutSeconds    int

	// Ingress user check. Comma-separated allow list; empty accepts any userId.
	KnownUsers []string

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string

	// Prompt templates, overridable via a YAML file.
	Prompts *PromptsConfig `yaml:"prompts"`
}

// PromptsConfig carries the prompt templates used across services. Any empty
// field falls back to the compiled-in default.
type PromptsConfig struct {
	SystemPrompt      string `yaml:"system_prompt"`
	TitlePrompt       string `yaml:"title_prompt"`
	SummaryPrompt     string `yaml:"summary_prompt"`
	ProfilePrompt     string `yaml:"profile_prompt"`
	SearchToolSummary string `yaml:"search_tool_summary"`
}

var AppConfig *Config

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// NATS
		NatsURL: getEnvOrDefault("NATS_URL", "nats://127.0.0.1:4222"),

		// Redis
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		ReplayTTL:     getEnvAsDuration("REPLAY_TTL", 30*time.Second),

		// Database
		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost/chatfabric?sslmode=disable"),
		DBMaxConns:  getEnvAsInt("DB_MAX_CONNS", 15),

		// OpenAI
		OpenAIAPIKey:        getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnvOrDefault("OPENAI_BASE_URL", ""),
		ChatModel:           getEnvOrDefault("CHAT_MODEL", "gpt-4o"),
		TitleModel:          getEnvOrDefault("TITLE_MODEL", "gpt-4o-mini"),
		ExtractionModel:     getEnvOrDefault("EXTRACTION_MODEL", "gpt-4o-mini"),
		EmbeddingsModel:     getEnvOrDefault("EMBEDDINGS_MODEL", "text-embedding-3-large"),
		EmbeddingDimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", 3072),

		// Memory API
		MemoryAPIEndpoint: getEnvOrDefault("MEMORY_API_ENDPOINT", "http://127.0.0.1:8084"),
		MemoryAPITimeout:  getEnvAsDuration("MEMORY_API_TIMEOUT", 2*time.Second),

		// Generator
		MaxConcurrency:     getEnvAsInt("MAX_CONCURRENCY", 10),
		MaxToolRounds:      getEnvAsInt("MAX_TOOL_ROUNDS", 3),
		SearchLimitDefault: getEnvAsInt("SEARCH_LIMIT_DEFAULT", 5),
		SearchLimitMax:     getEnvAsInt("SEARCH_LIMIT_MAX", 20),

		// Memory API search
		SearchResultCap: getEnvAsInt("SEARCH_RESULT_CAP", 50),

		// Egress
		FirstTokenTimeout: getEnvAsDuration("FIRST_TOKEN_TIMEOUT", 60*time.Second),
		KeepAliveInterval: getEnvAsDuration("KEEPALIVE_INTERVAL", 15*time.Second),

		// Graceful shutdown
		ServerShutdownTimeoutSeconds:    getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),
		GeneratorShutdownTimeoutSeconds: getEnvAsInt("GENERATOR_SHUTDOWN_TIMEOUT_SECONDS", 240),
		WorkerShutdownTimeoutSeconds:    getEnvAsInt("WORKER_SHUTDOWN_TIMEOUT_SECONDS", 60),

		// Known users
		KnownUsers: splitList(getEnvOrDefault("KNOWN_USERS", "")),

		// CORS
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// Prompt overrides live in an optional YAML file. Environment variables
	// keep precedence for everything else.
	promptsFilePath := getEnvOrDefault("PROMPTS_FILE", "")
	if promptsFilePath != "" {
		promptsFile, err := os.Open(promptsFilePath)
		if err != nil {
			log.Fatalf("Failed to open prompts file: %v", err)
		}
		defer promptsFile.Close()

		if err := LoadConfigFile(promptsFile, AppConfig); err != nil {
			log.Fatalf("Failed to load prompts file: %v", err)
		}
	}

	if AppConfig.OpenAIAPIKey == "" {
		log.Println("Warning: OpenAI API key is missing. Please set OPENAI_API_KEY environment variable.")
	}

	if len(AppConfig.KnownUsers) == 0 {
		log.Println("KNOWN_USERS is empty, accepting any userId")
	}

	return AppConfig
}

// IsKnownUser reports whether userId passes the ingress user check.
func (c *Config) IsKnownUser(userID string) bool {
	if len(c.KnownUsers) == 0 {
		return true
	}
	for _, u := range c.KnownUsers {
		if u == userID {
			return true
		}
	}
	return false
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
