package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/config"
	"lesson-notes-sync/internal/handler"
	"lesson-notes-sync/internal/middleware"
	"lesson-notes-sync/internal/repository"
	"lesson-notes-sync/internal/service"
	"lesson-notes-sync/internal/websocket"
	"lesson-notes-sync/pkg/response"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	couch, err := openNotesDB(context.Background(), cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open notes database: %v", err)
	}
	defer couch.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hub := websocket.NewManager(websocket.ManagerConfig{
		MaxConnPerLesson: cfg.WebSocket.MaxConnPerLesson,
		SendBuffer:       cfg.WebSocket.SendBufferPerConn,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		WriteWait:        cfg.WebSocket.WriteWait,
		PongWait:         cfg.WebSocket.PongWait,
		PingPeriod:       cfg.WebSocket.PingPeriod,
	})
	hub.SetMessageHandler(handler.NewWebSocketMessageHandler(hub))
	go hub.Run(ctx)

	notes := service.NewNoteService(
		repository.NewLessonNoteRepository(couch, cfg.Database.Name),
		cfg.Notes.MaxBytes,
		clock.New(),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      newRouter(cfg, notes, hub, couch),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting lesson notes server on %s (env: %s)", srv.Addr, cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	// Closes every lesson room.
	stop()

	log.Println("Server stopped gracefully")
}

// openNotesDB connects to CouchDB and creates the notes database on first run.
func openNotesDB(ctx context.Context, db config.DatabaseConfig) (*kivik.Client, error) {
	couchURL := fmt.Sprintf("http://%s:%s@%s:%s", db.User, db.Password, db.Host, db.Port)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, db.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, db.Name); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		log.Printf("Created database: %s", db.Name)
	}

	log.Printf("Connected to CouchDB at %s:%s/%s", db.Host, db.Port, db.Name)
	return client, nil
}

func newRouter(cfg *config.Config, notes *service.NoteService, hub *websocket.Manager, couch *kivik.Client) *mux.Router {
	noteHandler := handler.NewNoteHandler(notes, cfg.Notes.MaxBytes)
	wsHandler := handler.NewWebSocketHandler(hub, cfg.JWT.Secret, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)

	r := mux.NewRouter()
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	lessons := r.PathPrefix("/api/v1/lessons/{lessonId}").Subrouter()
	lessons.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	lessons.HandleFunc("/notes", noteHandler.Get).Methods(http.MethodGet, http.MethodOptions)
	lessons.HandleFunc("/notes", noteHandler.Put).Methods(http.MethodPut, http.MethodOptions)

	r.HandleFunc("/ws", wsHandler.HandleConnection)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := couch.Ping(ctx); err != nil {
			response.Error(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		response.Success(w, map[string]string{
			"status":  "healthy",
			"service": "lesson-notes-sync",
		})
	}).Methods(http.MethodGet)

	return r
}
