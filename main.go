package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharmachain/audit"
	"pharmachain/chainclient"
	"pharmachain/config"
	"pharmachain/custody"
	"pharmachain/logger"
	"pharmachain/notifier"
	"pharmachain/repository"
	"pharmachain/server"
	"pharmachain/srvreg"
)

func main() {
	// Parse command line flags (optional, for overriding env vars)
	configFile := flag.String("config", "", "Config file path (optional)")
	flag.Parse()

	log.Println("===========================================")
	log.Println("   Batch Custody Node - Starting Up")
	log.Println("===========================================")

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Configuration validation failed: %v", err)
	}

	logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	log.Printf("✓ Configuration loaded")
	log.Printf("   Node ID: %s", cfg.NodeID)
	log.Printf("   HTTP Port: %s", cfg.HTTPPort)
	log.Printf("   Chain Endpoint: %s", cfg.ChainEndpoint)
	log.Printf("   Database: %s:%s/%s", cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseName)

	// Initialize repository
	log.Println("\n📦 Initializing database...")
	repo := repository.NewRepository()
	if err := repo.ConnectDB(cfg.GetDSN()); err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	if cfg.SeedDemo {
		repo.Seed()
	}

	// Initialize chain client
	log.Println("\n🔗 Initializing chain client...")
	chain := chainclient.NewHTTPClient(cfg.ChainEndpoint,
		chainclient.WithRetry(cfg.ChainRetries, cfg.ChainBackoff),
		chainclient.WithTimeout(cfg.ChainTimeout),
	)

	// Test chain connection
	healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := chain.Health(healthCtx); err != nil {
		log.Printf("⚠️  Warning: chain health check failed: %v", err)
		log.Println("   Node will start anyway, but on-chain mirroring will fail until the chain is available")
	} else {
		log.Println("✓ Chain connection verified")
	}
	healthCancel()

	// Initialize notification dispatch
	var sink notifier.Sink
	if len(cfg.KafkaBrokers) > 0 {
		sink, err = notifier.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, nil)
		if err != nil {
			log.Fatalf("❌ Failed to create kafka sink: %v", err)
		}
		log.Printf("✓ Notifications via kafka topic %s", cfg.KafkaTopic)
	} else {
		sink = notifier.NewSlogSink(nil)
		log.Println("✓ Notifications via log only (no kafka brokers configured)")
	}
	events := notifier.NewQueue(sink, 256, nil)

	// Initialize custody engine
	recorder := audit.NewRecorder(
		audit.WithSuspiciousPolicy(cfg.SuspiciousThreshold, cfg.SuspiciousWindow),
	)
	engine := custody.NewEngine(repo, chain, recorder, events, custody.Options{
		RequestTTL: cfg.RequestTTL,
	})

	// Optional background sweep of expired transfer requests
	sweepDone := make(chan struct{})
	if cfg.SweepInterval > 0 {
		log.Printf("✓ Expired request sweep every %s", cfg.SweepInterval)
		go func() {
			ticker := time.NewTicker(cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-sweepDone:
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if _, err := engine.SweepExpiredRequests(ctx, time.Now()); err != nil {
						log.Printf("⚠️  Expired request sweep failed: %v", err)
					}
					cancel()
				}
			}
		}()
	}

	// Initialize service registry
	log.Println("\nSetting up service registry...")
	serviceRegistry := srvreg.NewServiceRegistry(engine, cfg.NodeID)
	serviceRegistry.RegisterDefaultServices()

	// Initialize web server
	log.Println("\nStarting web server...")
	identity := server.NewIdentity(cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		log.Println("⚠️  No JWT secret configured, trusting X-Caller-* headers (dev mode)")
	}
	webServer := server.NewWebServer(cfg.HTTPPort, serviceRegistry, cfg.NodeID, identity)
	if err := webServer.Start(); err != nil {
		log.Fatalf("❌ Failed to start web server: %v", err)
	}

	log.Println("\n===========================================")
	log.Printf("   Batch Custody Node Ready!")
	log.Printf("   Node: %s", cfg.NodeID)
	log.Printf("   Listening on: http://localhost:%s", cfg.HTTPPort)
	log.Println("===========================================")
	log.Println("")

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutdown signal received, gracefully shutting down...")

	close(sweepDone)

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown web server
	if err := webServer.Shutdown(ctx); err != nil {
		log.Printf("❌ Error during server shutdown: %v", err)
	}

	// Flush pending notifications
	if err := events.Close(); err != nil {
		log.Printf("❌ Error closing notification queue: %v", err)
	}
	if err := chain.Close(); err != nil {
		log.Printf("❌ Error closing chain client: %v", err)
	}

	log.Println("✓ Batch Custody Node stopped")
	log.Println("Goodbye! 👋")
}
