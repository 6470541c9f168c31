package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Notes     NotesConfig
	SoftSync  SoftSyncConfig
	Client    ClientConfig
	Cache     CacheConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
	MaxConnPerLesson  int
	SendBufferPerConn int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

// NotesConfig drives the autosave path.
type NotesConfig struct {
	MaxBytes        int
	SaveDebounce    time.Duration
	PollInterval    time.Duration
	RequestTimeout  time.Duration
	FinalSaveWindow time.Duration
}

// SoftSyncConfig holds the broadcast pacing thresholds. They are product-tuned
// and safe to change.
type SoftSyncConfig struct {
	Enabled     bool
	TinyChars   int
	TinyGate    time.Duration
	Debounce    time.Duration
	MaxWait     time.Duration
	SendTimeout time.Duration
}

type ClientConfig struct {
	BaseURL       string
	WSURL         string
	Token         string
	LeaseTTL      time.Duration
	ProbeInterval time.Duration
}

type CacheConfig struct {
	Path    string
	Timeout time.Duration
}

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := time.ParseDuration(getEnv("JWT_EXPIRATION", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "lesson_notes"),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration: jwtExp,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:    getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize:   getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:    int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
			WriteWait:         10 * time.Second,
			PongWait:          60 * time.Second,
			PingPeriod:        54 * time.Second,
			MaxConnPerLesson:  getEnvAsInt("WS_MAX_CONN_PER_LESSON", 50),
			SendBufferPerConn: getEnvAsInt("WS_SEND_BUFFER", 256),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,PUT,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Notes: NotesConfig{
			MaxBytes:        getEnvAsInt("NOTES_MAX_BYTES", DefaultMaxNoteBytes),
			SaveDebounce:    getEnvAsDuration("NOTES_SAVE_DEBOUNCE", time.Second),
			PollInterval:    getEnvAsDuration("NOTES_POLL_INTERVAL", 15*time.Second),
			RequestTimeout:  getEnvAsDuration("NOTES_REQUEST_TIMEOUT", 10*time.Second),
			FinalSaveWindow: getEnvAsDuration("NOTES_FINAL_SAVE_WINDOW", 5*time.Second),
		},
		SoftSync: SoftSyncConfig{
			Enabled:     getEnvAsBool("SOFTSYNC_ENABLED", true),
			TinyChars:   getEnvAsInt("SOFTSYNC_TINY_CHARS", 2),
			TinyGate:    getEnvAsDuration("SOFTSYNC_TINY_GATE", 300*time.Millisecond),
			Debounce:    getEnvAsDuration("SOFTSYNC_DEBOUNCE", 200*time.Millisecond),
			MaxWait:     getEnvAsDuration("SOFTSYNC_MAX_WAIT", 1200*time.Millisecond),
			SendTimeout: getEnvAsDuration("SOFTSYNC_SEND_TIMEOUT", 5*time.Second),
		},
		Client: ClientConfig{
			BaseURL:       getEnv("NOTES_API_URL", "http://localhost:8080/api/v1"),
			WSURL:         getEnv("NOTES_WS_URL", "ws://localhost:8080/ws"),
			Token:         getEnv("NOTES_TOKEN", ""),
			LeaseTTL:      getEnvAsDuration("NOTES_LEASE_TTL", 30*time.Second),
			ProbeInterval: getEnvAsDuration("NOTES_PROBE_INTERVAL", 5*time.Second),
		},
		Cache: CacheConfig{
			Path:    getEnv("NOTES_CACHE_PATH", "lesson-notes-cache.db"),
			Timeout: getEnvAsDuration("NOTES_CACHE_TIMEOUT", 2*time.Second),
		},
	}

	if cfg.Notes.MaxBytes <= 0 {
		return nil, fmt.Errorf("invalid NOTES_MAX_BYTES: %d", cfg.Notes.MaxBytes)
	}

	return cfg, nil
}

// DefaultMaxNoteBytes is the hard cap on a note's UTF-8 size.
const DefaultMaxNoteBytes = 256 * 1024

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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
