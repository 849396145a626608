// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mimbot/tradingcore/internal/db"
	"github.com/mimbot/tradingcore/internal/position"
	"github.com/mimbot/tradingcore/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server is the HTTP/WebSocket API server: a read-only observability
// surface over the running engine (positions, recent signals, metrics)
// plus a pub-sub WebSocket feed for signal and position events.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub

	watcher *position.Watcher
	db      *gorm.DB
}

// NewServer creates a new API server wired to the running engine's
// position watcher and persistence handle.
func NewServer(logger *zap.Logger, config *types.ServerConfig, watcher *position.Watcher, gdb *gorm.DB) *Server {
	server := &Server{
		logger:  logger,
		config:  config,
		router:  mux.NewRouter(),
		hub:     NewHub(logger),
		watcher: watcher,
		db:      gdb,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // allow all origins; this is a local observability surface
			},
		},
	}

	server.setupRoutes()
	go server.hub.Run()
	return server
}

// Router exposes the underlying mux.Router, used by tests to drive
// the server via httptest without binding a real port.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/signals/recent", s.handleRecentSignals).Methods("GET")
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server. It blocks until the server stops
// (ListenAndServe returns).
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server. Idempotent: safe to call even if
// Start was never called.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	httpServer := s.httpServer
	s.mu.RUnlock()

	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

// NotifySignal broadcasts a dispatched signal to subscribed clients.
func (s *Server) NotifySignal(symbol string, sig interface{}) {
	s.hub.BroadcastSignal(symbol, sig)
}

// NotifyPositionClosed broadcasts a position's exit to subscribed
// clients. Intended to be wired into position.Watcher.OnClose.
func (s *Server) NotifyPositionClosed(event position.CloseEvent) {
	s.hub.BroadcastPositionClosed(event.Position.Symbol, event)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.watcher.Positions()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Server) handleRecentSignals(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var parsed int
		if _, err := fmt.Sscanf(raw, "%d", &parsed); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var records []db.SignalRecord
	err := s.db.WithContext(r.Context()).
		Preload("Trade").Preload("Snapshot").
		Order("created_at desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"signals": records,
		"count":   len(records),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client

	s.logger.Info("websocket client connected", zap.String("id", client.id))

	go client.WritePump()
	go client.ReadPump()
}
