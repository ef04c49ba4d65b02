// Command ingest loads one order log file into a data directory and exits.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"epochbook/config"
	"epochbook/infra/logger"
	"epochbook/infra/outbox"
	"epochbook/service"
)

func main() {
	boot := logrus.NewEntry(logrus.StandardLogger())

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		boot.WithError(err).Warn("error loading .env file")
	}

	configPath := flag.String("config", "", "path to configuration file")
	symbol := flag.String("symbol", "", "symbol the log belongs to")
	file := flag.String("file", "", "order log to ingest")
	flag.Parse()

	if *symbol == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.WithError(err).Fatal("failed to load configuration")
	}
	base, err := logger.New(cfg.Logging)
	if err != nil {
		boot.WithError(err).Fatal("failed to configure logger")
	}
	log := logger.WithComponent(base, "ingest").WithFields(logrus.Fields{
		"symbol": *symbol,
		"file":   *file,
	})

	if err := run(cfg, base, *symbol, *file); err != nil {
		log.WithError(err).Error("ingest failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, base *logrus.Logger, symbol, file string) error {
	var sink service.ChangeSink
	if cfg.Outbox.Enabled {
		ob, err := outbox.Open(cfg.Outbox.Dir)
		if err != nil {
			return err
		}
		defer ob.Close()
		sink = ob
	}

	engine, err := service.New(service.Config{
		DataDir:          cfg.Storage.DataDir,
		EpochWindow:      cfg.Storage.EpochWindow,
		QueryParallelism: cfg.Query.Parallelism,
	}, logger.WithComponent(base, "engine"), sink, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	n, err := engine.IngestFile(ctx, file, symbol)
	if cerr := engine.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "after %d events", n)
	}

	logger.WithComponent(base, "ingest").WithFields(logrus.Fields{
		"symbol":   symbol,
		"ingested": n,
		"duration": time.Since(start),
	}).Info("ingest complete")
	return nil
}
