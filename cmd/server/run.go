package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/auth"
	"github.com/Tyrowin/presencehub/internal/ingress"
	"github.com/Tyrowin/presencehub/internal/logger"
	"github.com/Tyrowin/presencehub/internal/server"
	"github.com/Tyrowin/presencehub/internal/store"
)

const mirrorQueueSize = 1024

func run(parent context.Context, cfg server.Config, shutdownTimeout time.Duration) error {
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting presence hub", zap.String("port", cfg.Port), zap.String("auth_mode", cfg.Auth.Mode))

	validator, mongoClient, err := buildValidator(ctx, cfg)
	if err != nil {
		return err
	}
	if mongoClient != nil {
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	}

	opts := server.Options{Validator: validator, Logger: log}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts.Registry = reg

	var writer *store.AsyncWriter
	if cfg.Redis.Addr != "" {
		rdb, err := store.ConnectRedis(ctx, store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()

		mirror := store.NewRedisMirror(rdb, cfg.Redis.PresenceTTL)
		writer = store.NewAsyncWriter(mirror, log.Named("mirror"), mirrorQueueSize, 0)
		opts.Mirror = mirror
		opts.Sink = writer
		log.Info("presence mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}

	srv := server.NewServer(cfg, opts)
	srv.Start()

	var natsSub *ingress.NATSSubscriber
	if len(cfg.NATS.Servers) > 0 {
		nc, err := ingress.ConnectNATS(ingress.NATSConfig{Servers: cfg.NATS.Servers, Name: "presencehub"}, log.Named("nats"))
		if err != nil {
			_ = srv.Shutdown(shutdownTimeout)
			return err
		}
		defer nc.Close()
		natsSub = ingress.NewNATSSubscriber(nc, srv.Hub(), log, srv.Metrics())
		if err := natsSub.Subscribe(cfg.NATS.Subject, cfg.NATS.Queue); err != nil {
			_ = natsSub.Close()
			_ = srv.Shutdown(shutdownTimeout)
			return err
		}
	}

	var kafka *ingress.KafkaConsumer
	kafkaDone := make(chan struct{})
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err = ingress.NewKafkaConsumer(ingress.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Group:   cfg.Kafka.Group,
			Topics:  cfg.Kafka.Topics,
		}, srv.Hub(), log, srv.Metrics())
		if err != nil {
			_ = natsSub.Close()
			_ = srv.Shutdown(shutdownTimeout)
			return err
		}
		go func() {
			defer close(kafkaDone)
			kafka.Run(ctx)
		}()
	} else {
		close(kafkaDone)
	}

	if cfg.GRPCHealthAddr != "" {
		gs, err := srv.StartGRPCHealth(cfg.GRPCHealthAddr)
		if err != nil {
			log.Error("gRPC health disabled", zap.Error(err))
		} else {
			defer gs.GracefulStop()
		}
	}

	httpServer := server.CreateServer(cfg.Port, srv.SetupRoutes())
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.StartServer(httpServer, log) }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err = <-serveErr:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}

	// Ingress first so nothing is published into a stopping hub, then the
	// HTTP listener, then the hub itself.
	if natsSub != nil {
		if cerr := natsSub.Close(); cerr != nil {
			log.Warn("closing NATS ingress", zap.Error(cerr))
		}
	}
	if kafka != nil {
		if cerr := kafka.Close(); cerr != nil {
			log.Warn("closing Kafka ingress", zap.Error(cerr))
		}
	}
	stop()
	<-kafkaDone

	_ = server.ShutdownServer(httpServer, shutdownTimeout, log)
	if herr := srv.Shutdown(shutdownTimeout); herr != nil {
		log.Warn("hub shutdown incomplete", zap.Error(herr))
	}
	if writer != nil {
		writer.Close()
	}

	log.Info("server stopped")
	return err
}

func buildValidator(ctx context.Context, cfg server.Config) (auth.Validator, *mongo.Client, error) {
	var (
		chain auth.Chain
		cli   *mongo.Client
	)

	switch cfg.Auth.Mode {
	case server.AuthModeNone:
		return auth.AllowAll, nil, nil
	case server.AuthModeJWT, server.AuthModeMongo, server.AuthModeJWTMongo:
	default:
		return nil, nil, errors.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}

	if cfg.Auth.Mode == server.AuthModeJWT || cfg.Auth.Mode == server.AuthModeJWTMongo {
		jv, err := auth.NewJWTValidator([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTAlg)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, jv)
	}

	if cfg.Auth.Mode == server.AuthModeMongo || cfg.Auth.Mode == server.AuthModeJWTMongo {
		var err error
		cli, err = auth.ConnectMongo(ctx, auth.MongoConfig{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		coll := cli.Database(cfg.Mongo.Database).Collection(cfg.Mongo.UsersCollection)
		chain = append(chain, auth.NewMongoDirectory(coll))
	}

	if len(chain) == 1 {
		return chain[0], cli, nil
	}
	return chain, cli, nil
}
