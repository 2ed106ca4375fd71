// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	RequestTimeout     time.Duration
	AllowedOrigins     []string

	// JWT settings
	JWTSecret string

	// MongoDB settings. An empty URI selects the in-memory stores.
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize int

	// Redis settings. An empty address disables the shared cache and cluster presence.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// NATS settings. An empty URL keeps fan-out local to this node.
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Mobile push
	FCMCredentialsFile string
	PushTimeout        time.Duration

	// Push channel
	WSAuthTimeout  time.Duration
	WSPingInterval time.Duration
	WSSendBuffer   int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
	SendRateLimit     int
	SearchRateLimit   int

	// Uploads
	UploadDir      string
	UploadBaseURL  string
	MaxUploadBytes int64

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
		RequestTimeout:     getDurationEnv("REQUEST_TIMEOUT", 30*time.Second),
		AllowedOrigins:     getListEnv("CORS_ALLOWED_ORIGINS"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// MongoDB
		MongoURI:         getEnv("MONGO_URI", ""),
		MongoDatabase:    getEnv("MONGO_DATABASE", "freetalk"),
		MongoMaxPoolSize: getIntEnv("MONGO_MAX_POOL_SIZE", 100),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CacheTTL:      getDurationEnv("CACHE_TTL", 2*time.Minute),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Mobile push
		FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),
		PushTimeout:        getDurationEnv("PUSH_TIMEOUT", 5*time.Second),

		// Push channel
		WSAuthTimeout:  getDurationEnv("WS_AUTH_TIMEOUT", 10*time.Second),
		WSPingInterval: getDurationEnv("WS_PING_INTERVAL", 25*time.Second),
		WSSendBuffer:   getIntEnv("WS_SEND_BUFFER", 64),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 300),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		SendRateLimit:     getIntEnv("SEND_RATE_LIMIT", 30),
		SearchRateLimit:   getIntEnv("SEARCH_RATE_LIMIT", 30),

		// Uploads
		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		UploadBaseURL:  getEnv("UPLOAD_BASE_URL", "/uploads"),
		MaxUploadBytes: int64(getIntEnv("MAX_UPLOAD_BYTES", 25<<20)),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getListEnv splits a comma separated value, dropping blanks.
func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
