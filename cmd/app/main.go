package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"Guardrail/internal/di"
	"Guardrail/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	checkOnly := flag.Bool("check-config", false, "load and validate the config, then exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *checkOnly {
		fmt.Printf("config ok: env=%s ledger=%s anchors=%s\n", cfg.Environment, cfg.Ledger.Backend, cfg.Staleness.Store)
		return
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("guardrail init failed: %v", err)
	}

	// blocks until SIGINT or SIGTERM
	if err := app.Run(); err != nil {
		log.Printf("guardrail stopped with error: %v", err)
		os.Exit(1)
	}
}
