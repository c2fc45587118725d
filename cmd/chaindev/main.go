package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"pharmachain/chaindev"
)

func main() {
	httpPort := flag.String("http-port", "5000", "HTTP port for the chain node")
	dataDir := flag.String("data-dir", "./chaindev-data", "Path to the badger data directory")
	flag.Parse()

	log.Println("===========================================")
	log.Println("   Development Chain Node - Starting Up")
	log.Println("===========================================")

	// Initialize Badger DB for token storage
	db, err := badger.Open(badger.DefaultOptions(*dataDir))
	if err != nil {
		log.Fatalf("❌ Opening badger database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("❌ Closing badger database: %v", err)
		}
	}()

	node := chaindev.NewNode(db)

	httpServer := &http.Server{
		Addr:    ":" + *httpPort,
		Handler: node.Handler(),
	}

	go func() {
		log.Printf("🚀 Chain node listening on http://localhost:%s", *httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ Chain node server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("❌ Error during server shutdown: %v", err)
	}

	log.Println("✓ Development chain node stopped")
}
