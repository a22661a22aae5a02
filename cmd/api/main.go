package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/solstream/keygate/internal/config"
	"github.com/solstream/keygate/internal/server"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

func main() {
	// Load environment files explicitly
	envFiles := []string{".env.local", ".env.development", ".env"}
	config.LoadEnvFiles(envFiles)

	cfg, err := config.LoadFromFile("config.yaml")
	if err != nil {
		fiberlog.Fatalf("Failed to load config: %v", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		fiberlog.Fatalf("Failed to build server: %v", err)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		if err := srv.Shutdown(); err != nil {
			fiberlog.Errorf("Shutdown error: %v", err)
		}
	}()

	log.Println("Starting keygate server...")
	if err := srv.Run(); err != nil {
		fiberlog.Fatalf("Server failed: %v", err)
	}
}
