package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"trade_exec_go/config"
	"trade_exec_go/logs"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the config.yaml file")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: .env file not found, will continue using system environment variables.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Fatal error: Unable to load config file '%s': %v\n", *configPath, err)
		return
	}

	// Load environment variables (API keys, etc.)
	envCfg := config.LoadEnvConfig()

	logFilename := fmt.Sprintf("%s/%s_exec.log", cfg.Normal.LogDirectory, strings.ToUpper(cfg.Symbol))
	if err := logs.Init(cfg.Logs, logFilename); err != nil {
		fmt.Printf("Fatal error: Failed to initialize logging system: %v\n", err)
		return
	}
	defer logs.Close()

	logs.Infof("Configuration loaded successfully, logs will be written to: %s", logFilename)

	orchestrator, err := NewOrchestrator(cfg, envCfg)
	if err != nil {
		logs.Fatalf("Failed to initialize Orchestrator: %v", err)
	}
	orchestrator.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	orchestrator.Stop()
}
