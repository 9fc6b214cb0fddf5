package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailrouter/internal/analytics"
	"github.com/ignite/mailrouter/internal/api"
	"github.com/ignite/mailrouter/internal/config"
	"github.com/ignite/mailrouter/internal/dispatch"
	"github.com/ignite/mailrouter/internal/license"
	"github.com/ignite/mailrouter/internal/provider"
	"github.com/ignite/mailrouter/internal/ratelimit"
	"github.com/ignite/mailrouter/internal/store"
	"github.com/ignite/mailrouter/internal/template"
	"github.com/ignite/mailrouter/internal/vault"
	"github.com/ignite/mailrouter/internal/whatsapp"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Database unreachable: %v", err)
	}
	pingCancel()

	v, err := vault.New(cfg.Vault.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	st := store.New(db, v)
	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	// Redis burst limiter is optional; a missing Redis never blocks sends.
	var burst *ratelimit.Burst
	if cfg.Redis.Enabled && cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — burst limiting disabled", cfg.Redis.Addr, err)
			redisClient.Close()
		} else {
			burst = ratelimit.NewBurst(redisClient, cfg.Redis.BurstLimit, cfg.Redis.BurstWindow())
			log.Printf("Redis connected: %s (burst limit %d/%s)", cfg.Redis.Addr, cfg.Redis.BurstLimit, cfg.Redis.BurstWindow())
		}
		pingCancel()
	} else {
		log.Println("Redis not configured — burst limiting disabled")
	}

	registry := provider.NewRegistry(v, st, cfg.Provider)
	renderer := template.NewRenderer(st)
	tracker := analytics.New(st, cfg.Tracking.SigningSecret, cfg.Tracking.BaseURL)

	var gate license.Checker
	if cfg.License.Enabled {
		gate = license.New(cfg.License)
		log.Printf("License enforcement enabled: %s", cfg.License.BaseURL)
	} else {
		log.Println("License enforcement disabled")
	}

	var wa whatsapp.Gateway
	if cfg.WhatsApp.Enabled {
		wa = whatsapp.New(cfg.WhatsApp)
		log.Printf("WhatsApp gateway configured: %s", cfg.WhatsApp.GatewayURL)
	}

	engine := dispatch.New(st, registry, renderer, tracker, gate, burst, wa)
	handlers := api.NewHandlers(st, engine, tracker, gate)
	router := api.SetupRoutes(handlers)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	db.Close()
	log.Println("Server stopped")
}
