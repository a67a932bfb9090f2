package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/presencehub/internal/server"
)

const defaultShutdownTimeout = 10 * time.Second

// flagValues holds command line overrides. Only flags that were set replace
// the environment configuration.
type flagValues struct {
	port            string
	allowedOrigins  []string
	authMode        string
	redisAddr       string
	natsServers     []string
	kafkaBrokers    []string
	kafkaTopics     []string
	grpcHealthAddr  string
	typingTTL       time.Duration
	logLevel        string
	logFormat       string
	shutdownTimeout time.Duration
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var fv flagValues

	cmd := &cobra.Command{
		Use:   "presencehub",
		Short: "Real-time presence and room messaging hub",
		Long: `presencehub keeps WebSocket connections, tracks which users are online,
fans typing indicators out to chat sessions and relays messages published by
backend services to the rooms they address.

Configuration is read from the environment; flags override it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), loadConfig(cmd.Flags(), &fv), fv.shutdownTimeout)
		},
	}

	bindFlags(cmd.Flags(), &fv)
	return cmd
}

func bindFlags(f *pflag.FlagSet, fv *flagValues) {
	f.StringVarP(&fv.port, "port", "p", "", "listen address, e.g. :8080 (SERVER_PORT)")
	f.StringSliceVar(&fv.allowedOrigins, "allowed-origins", nil, "WebSocket origin allow-list (ALLOWED_ORIGINS)")
	f.StringVar(&fv.authMode, "auth-mode", "", "none, jwt, mongo or jwt+mongo (AUTH_MODE)")
	f.StringVar(&fv.redisAddr, "redis-addr", "", "presence mirror address (REDIS_ADDR)")
	f.StringSliceVar(&fv.natsServers, "nats-servers", nil, "NATS ingress servers (NATS_SERVERS)")
	f.StringSliceVar(&fv.kafkaBrokers, "kafka-brokers", nil, "Kafka ingress brokers (KAFKA_BROKERS)")
	f.StringSliceVar(&fv.kafkaTopics, "kafka-topics", nil, "Kafka ingress topics (KAFKA_TOPICS)")
	f.StringVar(&fv.grpcHealthAddr, "grpc-health-addr", "", "gRPC health address, empty disables (GRPC_HEALTH_ADDR)")
	f.DurationVar(&fv.typingTTL, "typing-ttl", 0, "typing indicator lifetime, 0 disables expiry (TYPING_TTL)")
	f.StringVar(&fv.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	f.StringVar(&fv.logFormat, "log-format", "", "console or json (LOG_FORMAT)")
	f.DurationVar(&fv.shutdownTimeout, "shutdown-timeout", defaultShutdownTimeout, "graceful shutdown limit")
}

// loadConfig reads the environment, applies the flags that were set and
// sanitizes the result.
func loadConfig(f *pflag.FlagSet, fv *flagValues) server.Config {
	cfg := server.NewConfigFromEnv()
	applyFlags(f, fv, cfg)
	return cfg.Sanitized()
}

func applyFlags(f *pflag.FlagSet, fv *flagValues, cfg *server.Config) {
	if f.Changed("port") {
		cfg.Port = fv.port
	}
	if f.Changed("allowed-origins") {
		cfg.AllowedOrigins = fv.allowedOrigins
	}
	if f.Changed("auth-mode") {
		cfg.Auth.Mode = fv.authMode
	}
	if f.Changed("redis-addr") {
		cfg.Redis.Addr = fv.redisAddr
	}
	if f.Changed("nats-servers") {
		cfg.NATS.Servers = fv.natsServers
	}
	if f.Changed("kafka-brokers") {
		cfg.Kafka.Brokers = fv.kafkaBrokers
	}
	if f.Changed("kafka-topics") {
		cfg.Kafka.Topics = fv.kafkaTopics
	}
	if f.Changed("grpc-health-addr") {
		cfg.GRPCHealthAddr = fv.grpcHealthAddr
	}
	if f.Changed("typing-ttl") {
		cfg.Typing.TTL = fv.typingTTL
	}
	if f.Changed("log-level") {
		cfg.Log.Level = fv.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = fv.logFormat
	}
}
