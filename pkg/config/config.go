package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"github.com/luli-tech/taskPadi-be/pkg/env"
)

// Relay backends
const (
	RelayBackendNone   = "none"
	RelayBackendNATS   = "nats"
	RelayBackendRedis  = "redis"
	RelayBackendMemory = "memory"
)

// Relay frame modes
const (
	FrameModeBinary = "binary"
	FrameModeText   = "text"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	NATS      NATSConfig
	MinIO     MinIOConfig
	JWT       JWTConfig
	Log       LogConfig
	Realtime  RealtimeConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host        string
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// Addr returns host:port for the HTTP listener
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds CockroachDB configuration. URL wins over the discrete fields.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Enabled     bool
	Hosts       []string
	Keyspace    string
	Consistency string
	Username    string
	Password    string
	Timeout     time.Duration
}

// NATSConfig holds NATS configuration. An empty URL disables NATS.
type NATSConfig struct {
	URL       string
	CredsFile string
	Name      string
}

// MinIOConfig holds MinIO configuration. An empty endpoint disables image presigning.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	URLExpiry time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	Issuer            string
	Audience          string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// RealtimeConfig tunes the signaling and relay connections
type RealtimeConfig struct {
	RelayBackend      string
	RelayFrameMode    string
	SendBuffer        int
	HeartbeatInterval time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	RingingDelay      time.Duration
}

// CORSConfig holds the allowed browser origins for HTTP and WebSocket upgrades
type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig bounds REST calls per user. Zero requests disables limiting.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load loads configuration from environment variables, after pulling in a .env file when present
func Load() (*Config, error) {
	_ = godotenv.Load()

	natsURL := env.GetString("NATS_URL", "")
	defaultBackend := RelayBackendNone
	if natsURL != "" {
		defaultBackend = RelayBackendNATS
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        env.GetString("HOST", "0.0.0.0"),
			Port:        env.GetInt("PORT", 8080),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "realtime-service"),
		},
		Database: DatabaseConfig{
			URL:      env.GetStringFromFile("DATABASE_URL", ""),
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "taskpadi"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Cassandra: CassandraConfig{
			Enabled:     env.GetBool("CASSANDRA_ENABLED", true),
			Hosts:       env.GetSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:    env.GetString("CASSANDRA_KEYSPACE", "taskpadi"),
			Consistency: env.GetString("CASSANDRA_CONSISTENCY", "QUORUM"),
			Username:    env.GetString("CASSANDRA_USER", ""),
			Password:    env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Timeout:     env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
		},
		NATS: NATSConfig{
			URL:       natsURL,
			CredsFile: env.GetString("NATS_CREDS", ""),
			Name:      env.GetString("NATS_NAME", "realtime-service"),
		},
		MinIO: MinIOConfig{
			Endpoint:  env.GetString("MINIO_ENDPOINT", ""),
			AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", ""),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", ""),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Bucket:    env.GetString("MINIO_BUCKET", "chat-images"),
			URLExpiry: env.GetDuration("MINIO_URL_EXPIRY", time.Hour),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			Issuer:            env.GetString("JWT_ISSUER", "taskpadi-auth"),
			Audience:          env.GetString("JWT_AUDIENCE", "taskpadi-api"),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/realtime.log"),
		},
		Realtime: RealtimeConfig{
			RelayBackend:      env.GetString("RELAY_BACKEND", defaultBackend),
			RelayFrameMode:    env.GetString("RELAY_FRAME_MODE", FrameModeBinary),
			SendBuffer:        env.GetInt("WS_SEND_BUFFER", 256),
			HeartbeatInterval: env.GetDuration("HEARTBEAT_INTERVAL", 30*time.Second),
			PongWait:          env.GetDuration("WS_PONG_WAIT", 60*time.Second),
			WriteWait:         env.GetDuration("WS_WRITE_WAIT", 10*time.Second),
			MaxMessageSize:    int64(env.GetInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
			RingingDelay:      env.GetDuration("RINGING_DELAY", 100*time.Millisecond),
		},
		CORS: CORSConfig{
			AllowedOrigins: env.GetSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		RateLimit: RateLimitConfig{
			Requests: env.GetInt("RATE_LIMIT_REQUESTS", 60),
			Window:   env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Server.Environment == "production" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}

	switch c.Realtime.RelayBackend {
	case RelayBackendNone, RelayBackendRedis, RelayBackendMemory:
	case RelayBackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("RELAY_BACKEND=nats requires NATS_URL")
		}
	default:
		return fmt.Errorf("unknown RELAY_BACKEND %q", c.Realtime.RelayBackend)
	}

	switch c.Realtime.RelayFrameMode {
	case FrameModeBinary, FrameModeText:
	default:
		return fmt.Errorf("unknown RELAY_FRAME_MODE %q", c.Realtime.RelayFrameMode)
	}

	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	if c.Realtime.HeartbeatInterval <= 0 || c.Realtime.PongWait <= c.Realtime.HeartbeatInterval {
		return fmt.Errorf("WS_PONG_WAIT must exceed HEARTBEAT_INTERVAL")
	}

	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}

	return nil
}
