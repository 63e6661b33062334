package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"sautai-client/internal/config"
	"sautai-client/internal/mockapi"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	cfg := config.New()

	api := mockapi.New(mockapi.Options{
		Secret:        cfg.MockAPISecret,
		RotateRefresh: true,
	})
	id := api.AddUser("demo", "demo")
	api.AddUser("chef", "chef")
	api.SetChef("chef", true)
	log.Printf("👤 Seeded users demo/demo (id %d) and chef/chef", id)

	srv := &http.Server{
		Addr:    cfg.MockAPIAddr,
		Handler: api.Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()
	log.Printf("🧪 Mock sautAI backend listening on %s", cfg.MockAPIAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh

	log.Println("🔌 Mock backend shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("❌ Server shutdown error: %v", err)
	}
}
