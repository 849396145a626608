// Package main provides the entry point for the trading engine server:
// a real-time signal-generation and paper-trading loop over Binance
// Futures USDT-margined perpetuals, with a read-only HTTP/WebSocket
// observability surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mimbot/tradingcore/internal/api"
	"github.com/mimbot/tradingcore/internal/config"
	"github.com/mimbot/tradingcore/internal/db"
	"github.com/mimbot/tradingcore/internal/dispatch"
	"github.com/mimbot/tradingcore/internal/history"
	"github.com/mimbot/tradingcore/internal/logging"
	"github.com/mimbot/tradingcore/internal/notify"
	"github.com/mimbot/tradingcore/internal/orchestrator"
	"github.com/mimbot/tradingcore/internal/position"
	"github.com/mimbot/tradingcore/internal/store"
	"github.com/mimbot/tradingcore/internal/stream"
	"github.com/mimbot/tradingcore/internal/strategy"
	"github.com/mimbot/tradingcore/pkg/types"
	"go.uber.org/zap"
)

func main() {
	host := flag.String("host", "0.0.0.0", "API server host")
	port := flag.Int("port", 8080, "API server port")
	configDir := flag.String("config-dir", ".", "Directory to search for config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		panic(fmt.Sprintf("loading config: %v", err))
	}

	logger := logging.New(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	logger.Info("starting trading engine",
		zap.String("active_strategy", cfg.ActiveStrategy),
		zap.String("env", cfg.Env),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gdb, err := db.Open(cfg.DBUrl)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	restClient := &http.Client{Timeout: 15 * time.Second}
	symbols := orchestrator.FetchActiveSymbols(ctx, restClient, "https://fapi.binance.com", cfg.TopVolumeLimit, logger)
	logger.Info("loaded active symbols", zap.Int("count", len(symbols)))

	memStore := store.NewMemoryStore(200)

	sink := notify.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID, logger)

	watcher := position.NewWatcher(memStore, gdb, sink, logger, cfg.TradeControlInterval(), cfg.TimeStop())

	dispatcher := dispatch.NewDispatcher(gdb, sink, watcher, logger)

	serverConfig := &types.ServerConfig{
		Host:           *host,
		Port:           *port,
		WebSocketPath:  "/ws",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxConnections: 100,
	}
	apiServer := api.NewServer(logger, serverConfig, watcher, gdb)

	watcher.OnClose(func(event position.CloseEvent) {
		apiServer.NotifyPositionClosed(event)
	})
	dispatcher.OnDispatch(func(sig *strategy.Signal) {
		apiServer.NotifySignal(sig.Symbol, sig)
	})

	streamClient := stream.NewClient(memStore, logger, cfg.WSKlineTimeframes, cfg.WSReconnectBackoff())

	loader := history.NewLoader(logger, 20)

	strategyCfg := strategy.StrategyConfig{
		EMAFast:             cfg.EMAFast,
		EMASlow:             cfg.EMASlow,
		VolumeSpikeMin:      cfg.VolumeSpikeMin,
		VolumeSpikeMax:      cfg.VolumeSpikeMax,
		BreakoutRangePeriod: cfg.BreakoutRangePeriod,
		RRRatio:             cfg.RRRatio,
		MaxStopPercent:      cfg.MaxStopPercent,
		StopOffset:          cfg.StopOffset,
		VolumeMA:            cfg.VolumeMA,
		MinSpike:            cfg.MinSpike,
		MaxSpike:            cfg.MaxSpike,
	}
	registry := strategy.NewDefaultRegistry(strategyCfg)
	logger.Info("registered strategies", zap.Strings("strategies", registry.List()))

	strat, err := registry.Create(cfg.ActiveStrategy, memStore)
	if err != nil {
		logger.Fatal("failed to create active strategy", zap.Error(err))
	}

	orch := orchestrator.New(cfg, logger, memStore, streamClient, loader, watcher, dispatcher, strat)
	orch.SetSymbols(symbols)

	go orch.Start(ctx)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	dispatcher.SendNotification(ctx, "mimbot engine started")

	logger.Info("engine started",
		zap.String("http", fmt.Sprintf("http://%s:%d/healthz", *host, *port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", *host, *port)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	orch.Stop()

	dispatcher.SendNotification(context.Background(), "mimbot engine shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during api server shutdown", zap.Error(err))
	}

	if err := db.Close(gdb); err != nil {
		logger.Error("error closing database", zap.Error(err))
	}

	logger.Info("engine stopped")
}
