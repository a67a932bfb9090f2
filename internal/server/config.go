// Package server provides configuration helpers that define runtime defaults,
// validation, and per-connection limits for the presence hub.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/presencehub/internal/rooms"
)

// Authentication modes.
const (
	AuthModeNone     = "none"
	AuthModeJWT      = "jwt"
	AuthModeMongo    = "mongo"
	AuthModeJWTMongo = "jwt+mongo"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// AuthConfig selects and configures the identity validator.
type AuthConfig struct {
	Mode      string
	Timeout   time.Duration
	JWTSecret string
	JWTAlg    string
}

// MongoConfig locates the user directory.
type MongoConfig struct {
	URI             string
	Database        string
	UsersCollection string
}

// RedisConfig configures the presence mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

// NATSConfig configures the NATS ingress. No servers disables it.
type NATSConfig struct {
	Servers []string
	Subject string
	Queue   string
}

// KafkaConfig configures the Kafka ingress. No brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Group   string
	Topics  []string
}

// TypingConfig bounds typing indicators. A zero TTL disables expiry.
type TypingConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	SendBufferSize int
	RateLimit      RateLimitConfig
	Rooms          rooms.Options
	Typing         TypingConfig
	Auth           AuthConfig
	Mongo          MongoConfig
	Redis          RedisConfig
	NATS           NATSConfig
	Kafka          KafkaConfig
	GRPCHealthAddr string
	Log            LogConfig
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		Rooms: rooms.DefaultOptions(),
		Typing: TypingConfig{
			TTL:           8 * time.Second,
			SweepInterval: time.Second,
		},
		Auth: AuthConfig{
			Mode:    AuthModeNone,
			Timeout: 5 * time.Second,
			JWTAlg:  "HS256",
		},
		Mongo: MongoConfig{
			Database:        "app",
			UsersCollection: "users",
		},
		Redis: RedisConfig{
			PresenceTTL: 24 * time.Hour,
		},
		NATS: NATSConfig{
			Subject: "presencehub.rooms.>",
		},
		Kafka: KafkaConfig{
			Group: "presencehub",
		},
		GRPCHealthAddr: ":50051",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Sanitized returns a copy of cfg with out-of-range values replaced by
// defaults and the auth mode normalized.
func (cfg Config) Sanitized() Config { return sanitizeConfig(cfg) }

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if cfg.Typing.TTL < 0 {
		cfg.Typing.TTL = 0
	}

	if cfg.Typing.SweepInterval <= 0 {
		cfg.Typing.SweepInterval = def.Typing.SweepInterval
	}

	cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeNone
	}

	if cfg.Auth.Timeout <= 0 {
		cfg.Auth.Timeout = def.Auth.Timeout
	}

	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = def.Mongo.Database
	}

	if cfg.Mongo.UsersCollection == "" {
		cfg.Mongo.UsersCollection = def.Mongo.UsersCollection
	}

	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = def.NATS.Subject
	}

	if cfg.Kafka.Group == "" {
		cfg.Kafka.Group = def.Kafka.Group
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if limit := os.Getenv("MAX_ROOMS_PER_CONNECTION"); limit != "" {
		cfg.Rooms.MaxRoomsPerConnection = parseSignedInt(limit, cfg.Rooms.MaxRoomsPerConnection)
	}

	if limit := os.Getenv("MAX_ROOM_ID_LENGTH"); limit != "" {
		cfg.Rooms.MaxRoomIDLength = parseSignedInt(limit, cfg.Rooms.MaxRoomIDLength)
	}

	if ttl := os.Getenv("TYPING_TTL"); ttl != "" {
		cfg.Typing.TTL = parseDuration(ttl, cfg.Typing.TTL, true)
	}

	if interval := os.Getenv("TYPING_SWEEP_INTERVAL"); interval != "" {
		cfg.Typing.SweepInterval = parseDuration(interval, cfg.Typing.SweepInterval, false)
	}

	if mode := os.Getenv("AUTH_MODE"); mode != "" {
		cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(mode))
	}

	if timeout := os.Getenv("AUTH_TIMEOUT"); timeout != "" {
		cfg.Auth.Timeout = parseDuration(timeout, cfg.Auth.Timeout, false)
	}

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.JWTAlg, "JWT_ALG")
	setString(&cfg.Mongo.URI, "MONGO_URI")
	setString(&cfg.Mongo.Database, "MONGO_DATABASE")
	setString(&cfg.Mongo.UsersCollection, "MONGO_USERS_COLLECTION")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	if db := os.Getenv("REDIS_DB"); db != "" {
		cfg.Redis.DB = parseSignedInt(db, cfg.Redis.DB)
	}

	if ttl := os.Getenv("PRESENCE_TTL"); ttl != "" {
		cfg.Redis.PresenceTTL = parseDuration(ttl, cfg.Redis.PresenceTTL, true)
	}

	if servers := os.Getenv("NATS_SERVERS"); servers != "" {
		cfg.NATS.Servers = parseList(servers)
	}
	setString(&cfg.NATS.Subject, "NATS_SUBJECT")
	setString(&cfg.NATS.Queue, "NATS_QUEUE")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = parseList(brokers)
	}
	setString(&cfg.Kafka.Group, "KAFKA_GROUP")
	if topics := os.Getenv("KAFKA_TOPICS"); topics != "" {
		cfg.Kafka.Topics = parseList(topics)
	}

	if addr, ok := os.LookupEnv("GRPC_HEALTH_ADDR"); ok {
		cfg.GRPCHealthAddr = strings.TrimSpace(addr)
	}

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	return &cfg
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseList splits a comma separated value and drops empty items.
func parseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSignedInt accepts zero and negative values, which disable a limit.
func parseSignedInt(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration, allowZero bool) time.Duration {
	value = strings.TrimSpace(value)
	d, err := time.ParseDuration(value)
	if err != nil {
		seconds, convErr := strconv.Atoi(value)
		if convErr != nil {
			return defaultValue
		}
		d = time.Duration(seconds) * time.Second
	}
	if d < 0 || (d == 0 && !allowZero) {
		return defaultValue
	}
	return d
}
