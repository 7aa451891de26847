package main

import (
	"flag"
	"log"
	"os"

	"AstroCal/internal/di"
	"AstroCal/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s storage=%s ephemeris=%s", cfg.Environment, cfg.Storage.Type, cfg.Ephemeris.BaseURL)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if cfg.Kafka.Enabled {
		log.Printf("kafka: brokers=%v jobs=%s events=%s", cfg.Kafka.Brokers, cfg.Kafka.Topics.SearchJobs, cfg.Kafka.Topics.Events)
	}

	// blocks until SIGINT/SIGTERM
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
