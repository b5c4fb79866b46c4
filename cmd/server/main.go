package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/taxbinder/taxbinder/internal/ai"
	"github.com/taxbinder/taxbinder/internal/blob"
	"github.com/taxbinder/taxbinder/internal/clients"
	"github.com/taxbinder/taxbinder/internal/config"
	"github.com/taxbinder/taxbinder/internal/db"
	"github.com/taxbinder/taxbinder/internal/documents"
	"github.com/taxbinder/taxbinder/internal/export"
	"github.com/taxbinder/taxbinder/internal/middleware"
	"github.com/taxbinder/taxbinder/internal/ocr"
	"github.com/taxbinder/taxbinder/internal/pipeline"
	"github.com/taxbinder/taxbinder/internal/repository"

	"github.com/rs/cors"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, conn.Pool, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	orgRepo := repository.NewOrganizationRepository(conn.Pool)
	clientRepo := repository.NewClientRepository(conn.Pool)
	documentRepo := repository.NewDocumentRepository(conn.Pool)
	auditRepo := repository.NewAuditLogRepository(conn.Pool)

	// Blob store backing uploaded payloads and signed download URLs
	store, err := blob.NewLocalStore(cfg.Blob.Dir, baseURL(cfg.Server.Addr), cfg.Blob.SignedURLTTL)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}

	// Capability adapters; missing credentials mean the step is skipped,
	// never that startup fails.
	engine := ocr.NewAzureClient(cfg.OCR.Endpoint, cfg.OCR.APIKey)
	if !engine.Configured() {
		log.Println("OCR credentials not configured, layout analysis will be skipped")
	}
	classifier := ai.NewAnthropicClient(cfg.AI.APIKey, cfg.AI.Model)
	if !classifier.Configured() {
		log.Println("AI credentials not configured, classification will be skipped")
	}

	// Pipeline runner and dispatcher
	runner := pipeline.NewRunner(documentRepo, auditRepo, store, engine, classifier, cfg.Blob.SignedURLTTL)
	dispatcher := pipeline.NewDispatcher(runner, cfg.Pipeline.MaxAttempts, cfg.Pipeline.RunTimeout, cfg.Pipeline.BulkConcurrency)

	// Services
	documentService := documents.NewService(documentRepo, clientRepo, auditRepo, store, dispatcher, cfg.Blob.SignedURLTTL)
	clientService := clients.NewService(orgRepo, clientRepo)
	exportService := export.NewService(documentRepo, clientRepo)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	wrap := func(h http.Handler) http.Handler {
		return corsHandler.Handler(middleware.LoggingMiddleware(h))
	}

	mux := http.NewServeMux()
	documentHandler := wrap(documents.NewHTTPHandler(documentService))
	mux.Handle("/api/documents", documentHandler)
	mux.Handle("/api/documents/", documentHandler)
	clientHandler := wrap(clients.NewHTTPHandler(clientService))
	mux.Handle("/api/organizations", clientHandler)
	mux.Handle("/api/clients", clientHandler)
	mux.Handle("/api/exports/", wrap(export.NewHTTPHandler(exportService)))
	mux.Handle("/files/", wrap(blob.NewHTTPHandler(store)))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting intake server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Let in-flight pipeline runs finish before the pool closes.
	if err := dispatcher.Drain(shutdownCtx); err != nil {
		log.Printf("Pipeline drain interrupted: %v", err)
	}

	log.Println("Server exited")
}

// baseURL derives the externally visible root for signed URLs from the
// listen address.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
