package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"epochbook/api/grpcserver"
	"epochbook/api/httpserver"
	"epochbook/config"
	"epochbook/infra/kafka"
	"epochbook/infra/logger"
	"epochbook/infra/metrics"
	"epochbook/infra/outbox"
	"epochbook/jobs/broadcaster"
	"epochbook/service"
)

func main() {
	boot := logrus.NewEntry(logrus.StandardLogger())

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		boot.WithError(err).Warn("error loading .env file")
	}

	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.WithError(err).Fatal("failed to load configuration")
	}

	base, err := logger.New(cfg.Logging)
	if err != nil {
		boot.WithError(err).Fatal("failed to configure logger")
	}
	log := logger.WithComponent(base, "main")

	if err := run(cfg, base); err != nil {
		log.WithError(err).Fatal("epochbook exited")
	}
	log.Info("epochbook stopped")
}

func run(cfg *config.Config, base *logrus.Logger) error {
	log := logger.WithComponent(base, "main")
	m := metrics.New()

	// ---------------- Outbox ----------------

	var (
		sink service.ChangeSink
		ob   *outbox.Outbox
	)
	if cfg.Outbox.Enabled {
		var err error
		ob, err = outbox.Open(cfg.Outbox.Dir)
		if err != nil {
			return err
		}
		defer ob.Close()
		sink = ob
	}

	// ---------------- Engine ----------------

	engine, err := service.New(service.Config{
		DataDir:          cfg.Storage.DataDir,
		EpochWindow:      cfg.Storage.EpochWindow,
		QueryParallelism: cfg.Query.Parallelism,
	}, logger.WithComponent(base, "engine"), sink, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.WithError(err).Error("engine close failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// ---------------- Broadcaster ----------------

	if cfg.Broadcast.Enabled {
		pub, err := newPublisher(cfg.Broadcast)
		if err != nil {
			return err
		}
		defer pub.Close()

		bc := broadcaster.New(ob, pub, broadcaster.Options{
			Interval:      cfg.Broadcast.Interval,
			RatePerSecond: cfg.Broadcast.RatePerSecond,
			MaxRetries:    cfg.Broadcast.MaxRetries,
		}, logger.WithComponent(base, "broadcaster"), m)
		g.Go(func() error { return bc.Run(ctx) })
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	grpcLog := logger.WithComponent(base, "grpc")
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLogger(grpcLog)))
	grpcserver.NewServer(engine, grpcLog).Register(grpcSrv)

	g.Go(func() error {
		log.WithField("addr", cfg.Server.GRPCAddr).Info("grpc listening")
		return grpcSrv.Serve(lis)
	})

	// ---------------- HTTP ----------------

	httpSrv := httpserver.New(cfg.Server.HTTPAddr, httpserver.Config{
		Engine:  engine,
		Metrics: m,
		Log:     logger.WithComponent(base, "http"),
	})
	g.Go(func() error {
		log.WithField("addr", cfg.Server.HTTPAddr).Info("http listening")
		return httpSrv.ListenAndServe()
	})

	log.WithFields(logrus.Fields{
		"data_dir":     cfg.Storage.DataDir,
		"epoch_window": cfg.Storage.EpochWindow,
		"outbox":       cfg.Outbox.Enabled,
		"broadcast":    cfg.Broadcast.Enabled,
	}).Info("epochbook started")

	// ---------------- Shutdown ----------------

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newPublisher(cfg config.BroadcastConfig) (broadcaster.Publisher, error) {
	if cfg.Driver == config.DriverKafkaGo {
		return kafka.NewProducer(cfg.Brokers, cfg.Topic), nil
	}
	return broadcaster.NewSaramaPublisher(cfg.Brokers, cfg.Topic)
}
