package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/rewards-go/internal/appconfig"
	"github.com/lisanmuaddib/rewards-go/pkg/db"
	"github.com/lisanmuaddib/rewards-go/pkg/interfaces/twitter"
	"github.com/lisanmuaddib/rewards-go/pkg/ledger"
	"github.com/lisanmuaddib/rewards-go/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Only log warning since .env is optional
		logrus.WithError(err).Warn("Error loading .env file")
	}

	// Initialize logger
	log := logrus.New()
	log.SetFormatter(logging.NewColoredJSONFormatter())

	// Get log level from environment
	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithFields(logrus.Fields{
			"attempted_level": logLevel,
			"default_level":   "INFO",
		}).Warn("Invalid log level specified, defaulting to INFO")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	database, err := db.SetupDatabase(log)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up database")
	}

	// Initialize Twitter config and client
	twitterConfig, err := twitter.NewTwitterConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to create Twitter config")
	}
	// Override logger to use our main logger
	twitterConfig.Logger = log

	twitterClient, err := twitter.NewTwitterClient(twitterConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Twitter client")
	}

	// Initialize the on-chain ledger
	ledgerConfig, err := ledger.NewLedgerConfig(log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create ledger config")
	}

	chainLedger, err := ledger.NewChainLedger(ctx, ledgerConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect chain ledger")
	}
	defer chainLedger.Close()

	// Wire the campaign pipeline
	pipeline, err := appconfig.ConfigurePipeline(appconfig.PipelineConfig{
		TwitterClient: twitterClient,
		Ledger:        chainLedger,
		DB:            database,
		Logger:        log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to configure pipeline")
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Received shutdown signal")
		cancel()
	}()

	log.Info("Starting campaign reward pipeline")

	if err := pipeline.Start(ctx, log); err != nil {
		log.WithError(err).Fatal("Pipeline failed to start")
	}

	<-ctx.Done()

	pipeline.Stop(log)
	log.Info("Pipeline shutdown complete")
}
