package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/crabzie/swarm-coordinator/config/logger"
	config "github.com/crabzie/swarm-coordinator/config/utils"
	"github.com/crabzie/swarm-coordinator/internal/adapter/monitoring/prometheus"
	"github.com/crabzie/swarm-coordinator/internal/app"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// 1. Init Config & Logger
	appConfig := config.New()
	baseLogger, err := logger.Build(appConfig.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logger.Watch()

	nodeID := app.NodeID(appConfig.Node)
	baseLogger = baseLogger.With(zap.String("service", "worker"), zap.String("node", nodeID))
	baseLogger.Info("Starting Swarm Node")

	// 2. Init Adapters
	infra, err := app.Connect(rootCtx, appConfig, baseLogger)
	if err != nil {
		baseLogger.Fatal("Failed to init infrastructure", zap.Error(err))
	}
	defer infra.Close()

	// 3. Init Member (peer, worker & optional replica). Exclusions are
	// acted upon by the coordinator; a plain node only evicts the peer.
	var member *app.Member
	onExclude := func(id string) {
		baseLogger.Warn("Validator excluded", zap.String("excluded", id))
		if member != nil {
			member.Peer.Evict(id)
		}
	}
	recorder := prometheus.NewRecorder()
	member, err = app.NewMember(appConfig, infra, nodeID, recorder, onExclude, baseLogger)
	if err != nil {
		baseLogger.Fatal("Failed to init member", zap.Error(err))
	}

	// 4. Start Member
	if err := member.Start(rootCtx); err != nil {
		baseLogger.Fatal("Failed to start member", zap.Error(err))
	}
	baseLogger.Info("Node joined the swarm. Waiting for tasks...",
		zap.Strings("neighbors", member.Peer.Neighbors()),
		zap.Bool("validator", member.Replica != nil))

	// 5. Expose metrics
	router := chi.NewRouter()
	router.Method(http.MethodGet, "/metrics", recorder.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := infra.Healthy(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	server := &http.Server{Addr: appConfig.HTTP.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// 6. Wait for Shutdown
	<-rootCtx.Done()
	baseLogger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	member.Stop(ctx)

	time.Sleep(1 * time.Second)
	baseLogger.Info("Shutdown complete")
}
