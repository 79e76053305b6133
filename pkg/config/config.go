package config

import (
	"fmt"
	"time"

	"emphealth-backend/pkg/env"
)

// Config holds all configuration for the call service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	JWT       JWTConfig
	Log       LogConfig
	Signaling SignalingConfig
	Push      PushConfig
	Tracing   TracingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// IsProduction reports whether the service runs with production guarantees
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
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
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
}

// JWTConfig holds JWT configuration. An empty secret disables socket authentication.
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// SignalingConfig holds limits of the real-time call layer
type SignalingConfig struct {
	// InviteTimeout bounds how long a call may ring; zero disables expiry
	InviteTimeout time.Duration
	// PersistTimeout bounds every fire-and-forget collaborator write
	PersistTimeout  time.Duration
	MaxConnections  int
	EventsPerSecond float64
	EventBurst      int
	AllowedOrigins  []string
	StatsInterval   time.Duration
}

// PushConfig selects the missed-call notification provider
type PushConfig struct {
	Provider                string // firebase, apns, mock
	FirebaseProjectID       string
	FirebaseCredentialsPath string
	APNsKeyPath             string
	APNsKeyID               string
	APNsTeamID              string
	APNsTopic               string
	APNsProduction          bool
}

// TracingConfig holds OpenTelemetry exporter configuration
type TracingConfig struct {
	Enabled        bool
	JaegerEndpoint string
	SampleRatio    float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8085),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "call-service"),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "emphealth"),
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
			Hosts:       env.GetStringSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:    env.GetString("CASSANDRA_KEYSPACE", "emphealth"),
			Username:    env.GetString("CASSANDRA_USERNAME", ""),
			Password:    env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Consistency: env.GetString("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:     env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
		Signaling: SignalingConfig{
			InviteTimeout:   env.GetDuration("CALL_INVITE_TIMEOUT", 45*time.Second),
			PersistTimeout:  env.GetDuration("CALL_PERSIST_TIMEOUT", 3*time.Second),
			MaxConnections:  env.GetInt("WS_MAX_SIGNALING_CONNECTIONS", 1000),
			EventsPerSecond: env.GetFloat("WS_EVENTS_PER_SECOND", 20),
			EventBurst:      env.GetInt("WS_EVENT_BURST", 40),
			AllowedOrigins:  env.GetStringSlice("WS_ALLOWED_ORIGINS", nil),
			StatsInterval:   env.GetDuration("CALL_STATS_INTERVAL", 30*time.Second),
		},
		Push: PushConfig{
			Provider:                env.GetString("PUSH_PROVIDER", "mock"),
			FirebaseProjectID:       env.GetStringFromFile("FIREBASE_PROJECT_ID", ""),
			FirebaseCredentialsPath: env.GetString("FIREBASE_CREDENTIALS_PATH", ""),
			APNsKeyPath:             env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:               env.GetStringFromFile("APNS_KEY_ID", ""),
			APNsTeamID:              env.GetStringFromFile("APNS_TEAM_ID", ""),
			APNsTopic:               env.GetString("APNS_TOPIC", ""),
			APNsProduction:          env.GetBool("APNS_PRODUCTION", false),
		},
		Tracing: TracingConfig{
			Enabled:        env.GetBool("TRACING_ENABLED", false),
			JaegerEndpoint: env.GetString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRatio:    env.GetFloat("TRACING_SAMPLE_RATIO", 1.0),
		},
	}

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.IsProduction() {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Push.Provider == "mock" {
			return fmt.Errorf("PUSH_PROVIDER=mock is not allowed in production")
		}
	}

	if c.Signaling.InviteTimeout < 0 {
		return fmt.Errorf("CALL_INVITE_TIMEOUT must not be negative")
	}
	if c.Signaling.PersistTimeout <= 0 {
		return fmt.Errorf("CALL_PERSIST_TIMEOUT must be positive")
	}
	if c.Signaling.MaxConnections <= 0 {
		return fmt.Errorf("WS_MAX_SIGNALING_CONNECTIONS must be positive")
	}
	if c.Signaling.EventsPerSecond <= 0 || c.Signaling.EventBurst <= 0 {
		return fmt.Errorf("WS_EVENTS_PER_SECOND and WS_EVENT_BURST must be positive")
	}

	switch c.Push.Provider {
	case "firebase", "apns", "mock":
	default:
		return fmt.Errorf("unknown PUSH_PROVIDER %q", c.Push.Provider)
	}

	return nil
}
