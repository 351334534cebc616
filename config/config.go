package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mossy-p/meshcall/internal/logger"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	Log            logger.LogConfig
	Client         ClientConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ClientConfig configures the meshcall client.
type ClientConfig struct {
	// SignalBackend is "websocket" (through the relay server) or "redis"
	// (direct pub/sub).
	SignalBackend string
	// SignalURL is the relay's websocket endpoint, without the topic.
	SignalURL string
	// ServerURL is the relay's HTTP root, used for login and presence.
	ServerURL   string
	Codec       string
	STUNServers []string
	// CallMode is "eager" or "manual".
	CallMode string
}

// Load reads the environment, after merging an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	// Parse allowed origins (comma-separated)
	origins := splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Log: logger.LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Filename:   getEnv("LOG_FILE", ""),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 7),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		},
		Client: ClientConfig{
			SignalBackend: getEnv("SIGNAL_BACKEND", "websocket"),
			SignalURL:     getEnv("SIGNAL_URL", "ws://localhost:8080/ws/signal"),
			ServerURL:     getEnv("SERVER_URL", "http://localhost:8080"),
			Codec:         getEnv("SIGNAL_CODEC", "json"),
			STUNServers:   splitList(getEnv("STUN_SERVERS", "stun:stun.l.google.com:19302")),
			CallMode:      getEnv("CALL_MODE", "eager"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
