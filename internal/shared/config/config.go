package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	Redis     RedisConfig
	Knowledge KnowledgeConfig
	Narrative NarrativeConfig
	Pipeline  PipelineConfig
	LIS       LISConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB), which
// backs the append-only audit stream.
type KurrentDBConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL for cached knowledge retrieval results
	CacheTTL time.Duration
	Enabled  bool
}

// KnowledgeConfig configures the two knowledge retrieval collaborators:
// a web search API (Tavily-compatible) and a local Typesense index.
type KnowledgeConfig struct {
	WebURL        string
	WebAPIKey     string
	WebMaxResults int
	// WebRateLimit is the allowed requests per second against the web API.
	WebRateLimit float64

	LocalURL        string
	LocalAPIKey     string
	LocalCollection string
	LocalTopK       int
}

// NarrativeConfig configures the narrative generation service
// (an OpenAI-compatible chat completions endpoint).
type NarrativeConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// PipelineConfig holds tunables for the analysis pipeline.
type PipelineConfig struct {
	// HistoryReports is how many past reports feed trend computation.
	HistoryReports int
	// LongTrendMinPoints is the minimum series length for a long-term trend.
	LongTrendMinPoints int
	// LongTrendEpsilon is the dead-zone below which a long-term net change
	// counts as stable.
	LongTrendEpsilon float64
}

// LISConfig configures the optional legacy LIS importer (SQL Server).
type LISConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// ResultTable is the LIS table holding historical lab results.
	ResultTable string
	// PollInterval between import sweeps; zero means import once at startup.
	PollInterval time.Duration
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "labinsight"),
			Password: getEnv("DB_PASSWORD", "labinsight"),
			Database: getEnv("DB_NAME", "labinsight"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			CacheTTL: getEnvDuration("REDIS_CACHE_TTL", 15*time.Minute),
			Enabled:  getEnvBool("REDIS_ENABLED", false),
		},
		Knowledge: KnowledgeConfig{
			WebURL:          getEnv("KNOWLEDGE_WEB_URL", "https://api.tavily.com"),
			WebAPIKey:       getEnv("KNOWLEDGE_WEB_API_KEY", ""),
			WebMaxResults:   getEnvInt("KNOWLEDGE_WEB_MAX_RESULTS", 3),
			WebRateLimit:    getEnvFloat("KNOWLEDGE_WEB_RATE_LIMIT", 2.0),
			LocalURL:        getEnv("KNOWLEDGE_LOCAL_URL", "http://localhost:8108"),
			LocalAPIKey:     getEnv("KNOWLEDGE_LOCAL_API_KEY", ""),
			LocalCollection: getEnv("KNOWLEDGE_LOCAL_COLLECTION", "medical_knowledge"),
			LocalTopK:       getEnvInt("KNOWLEDGE_LOCAL_TOP_K", 2),
		},
		Narrative: NarrativeConfig{
			Endpoint:    getEnv("NARRATIVE_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:      getEnv("NARRATIVE_API_KEY", ""),
			Model:       getEnv("NARRATIVE_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvInt("NARRATIVE_MAX_TOKENS", 2048),
			Temperature: getEnvFloat("NARRATIVE_TEMPERATURE", 0.2),
			Timeout:     getEnvDuration("NARRATIVE_TIMEOUT", 120*time.Second),
		},
		Pipeline: PipelineConfig{
			HistoryReports:     getEnvInt("PIPELINE_HISTORY_REPORTS", 5),
			LongTrendMinPoints: getEnvInt("PIPELINE_LONG_TREND_MIN_POINTS", 3),
			LongTrendEpsilon:   getEnvFloat("PIPELINE_LONG_TREND_EPSILON", 0.1),
		},
		LIS: LISConfig{
			Enabled:      getEnvBool("LIS_ENABLED", false),
			Host:         getEnv("LIS_HOST", "localhost"),
			Port:         getEnvInt("LIS_PORT", 1433),
			User:         getEnv("LIS_USER", ""),
			Password:     getEnv("LIS_PASSWORD", ""),
			Database:     getEnv("LIS_DATABASE", "lis"),
			SSLMode:      getEnv("LIS_SSLMODE", "disable"),
			ResultTable:  getEnv("LIS_RESULT_TABLE", "dbo.LabResults"),
			PollInterval: getEnvDuration("LIS_POLL_INTERVAL", 0),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
