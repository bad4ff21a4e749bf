package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort         string
	DatabaseURL      string
	StoreDriver      string
	LogLevel         string
	JWTSecret        string
	JWTRefreshSecret string
	AppURL           string

	LLMProvider       string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string
	OpenRouterRPS     int
	GeminiAPIKey      string

	LightServerURL    string
	HeavyServerURL    string
	DatabaseServerURL string
	BackendTimeout    int // seconds
	EvaluationTimeout int // seconds

	Collections         []string
	RetrievalModel      string
	MaxParallelLLMCalls int
	ExchangeTTL         int // minutes
	CORSAllowedOrigins  []string
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", "research_chat.db"),
		StoreDriver:      getEnv("STORE_DRIVER", "sqlite"),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		AppURL:           getEnv("APP_URL", "http://localhost:3000"),

		LLMProvider:       getEnv("LLM_PROVIDER", "openrouter"),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
		OpenRouterRPS:     getEnvAsInt("OPENROUTER_RPS", 0),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),

		LightServerURL:    getEnv("LIGHT_SERVER_URL", "http://localhost:5001"),
		HeavyServerURL:    getEnv("HEAVY_SERVER_URL", "http://localhost:5002"),
		DatabaseServerURL: getEnv("DATABASE_SERVER_URL", "http://localhost:5003"),
		BackendTimeout:    getEnvAsInt("BACKEND_TIMEOUT_SECONDS", 30),
		EvaluationTimeout: getEnvAsInt("EVALUATION_TIMEOUT_SECONDS", 15),

		Collections:         getEnvAsList("COLLECTIONS", nil),
		RetrievalModel:      getEnv("RETRIEVAL_MODEL", "openai/gpt-4o-mini"),
		MaxParallelLLMCalls: getEnvAsInt("MAX_PARALLEL_LLM_CALLS", 8),
		ExchangeTTL:         getEnvAsInt("EXCHANGE_TTL_MINUTES", 60),
		CORSAllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	if AppConfig.JWTRefreshSecret == "" {
		log.Fatal("JWT_REFRESH_SECRET environment variable is required")
	}

	switch AppConfig.LLMProvider {
	case "openrouter":
		if AppConfig.OpenRouterAPIKey == "" {
			log.Fatal("OPENROUTER_API_KEY environment variable is required when LLM_PROVIDER=openrouter")
		}
	case "gemini":
		if AppConfig.GeminiAPIKey == "" {
			log.Fatal("GEMINI_API_KEY environment variable is required when LLM_PROVIDER=gemini")
		}
	default:
		log.Fatalf("Unsupported LLM_PROVIDER %q (expected openrouter or gemini)", AppConfig.LLMProvider)
	}
}

// Debug reports whether verbose payload logging is enabled.
func (c Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "DEBUG")
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
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

// getEnvAsList splits a comma separated variable, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
