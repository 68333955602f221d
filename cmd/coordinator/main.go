package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crabzie/swarm-coordinator/config/logger"
	config "github.com/crabzie/swarm-coordinator/config/utils"
	httpHandler "github.com/crabzie/swarm-coordinator/internal/adapter/handler/http"
	"github.com/crabzie/swarm-coordinator/internal/adapter/monitoring/prometheus"
	"github.com/crabzie/swarm-coordinator/internal/adapter/monitoring/system"
	"github.com/crabzie/swarm-coordinator/internal/adapter/queue/rabbitmq"
	redisAdapter "github.com/crabzie/swarm-coordinator/internal/adapter/storage/redis"
	"github.com/crabzie/swarm-coordinator/internal/app"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	"github.com/crabzie/swarm-coordinator/internal/core/service/coordinator"
	"github.com/crabzie/swarm-coordinator/internal/core/service/healing"
	"github.com/crabzie/swarm-coordinator/internal/core/service/notify"
	"github.com/crabzie/swarm-coordinator/internal/core/service/optimizer"
	"go.uber.org/zap"
)

// _shutdownPeriod is time to wait before gracefully shutting server
// _shutdownHardPeriod is time to wait beofre force closing server
// _readinessDrainDelay is time to sleep while context shutdown message propagate
// _heartbeatInterval is the intake loop's enrollment and status period
const (
	_shutdownPeriod      = 10 * time.Second
	_shutdownHardPeriod  = 3 * time.Second
	_readinessDrainDelay = 5 * time.Second
	_heartbeatInterval   = 10 * time.Second
)

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// Init config
	appConfig := config.New()
	baseLogger, err := logger.Build(appConfig.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logger.Watch()
	zap.L().Debug("Logger Builded successfully")

	zap.L().Info("Starting the application", zap.String("app", appConfig.App.Name), zap.String("env", appConfig.App.Env), zap.String("owner", appConfig.App.Owner))

	// Init database, cache & broker
	infra, err := app.Connect(rootCtx, appConfig, baseLogger)
	if err != nil {
		zap.L().Error("Error initializing infrastructure", zap.Error(err))
		os.Exit(1)
	}
	defer infra.Close()

	recorder := prometheus.NewRecorder()
	nodeID := app.NodeID(appConfig.Node)
	probe := system.NewProbe(nodeID)

	// Swarm member: peer network, consensus replica & local worker
	var coord *coordinator.Coordinator
	onExclude := func(id string) {
		if coord != nil {
			coord.HandleExclusion(context.Background(), id)
		}
	}
	member, err := app.NewMember(appConfig, infra, nodeID, recorder, onExclude, baseLogger)
	if err != nil {
		zap.L().Error("Error initializing swarm member", zap.Error(err))
		os.Exit(1)
	}

	// Self-healing
	var source port.MetricsSource = probe
	if appConfig.Prometheus.URL != "" {
		source = prometheus.NewSource(appConfig.Prometheus.URL, prometheus.DefaultQueries(), baseLogger)
	}
	healNotifier := notify.New("healing", infra.Publisher, baseLogger)
	defer healNotifier.Close()
	heal, err := healing.NewManager(appConfig.Healing, baseLogger,
		healing.WithMetricsSource(source),
		healing.WithController(redisAdapter.NewController(infra.Registry, baseLogger)),
		healing.WithRecoveryRepository(infra.Repo),
		healing.WithMetrics(recorder),
		healing.WithNotifier(healNotifier))
	if err != nil {
		zap.L().Error("Error initializing self-healing", zap.Error(err))
		os.Exit(1)
	}

	// Coordinator
	opt, err := optimizer.New(appConfig.Optimizer)
	if err != nil {
		zap.L().Error("Error initializing optimizer", zap.Error(err))
		os.Exit(1)
	}
	coordNotifier := notify.New("coordinator", infra.Publisher, baseLogger)
	defer coordNotifier.Close()
	opts := []coordinator.Option{
		coordinator.WithPlanRepository(infra.Repo),
		coordinator.WithNegotiator(member.Peer),
		coordinator.WithHealing(heal),
		coordinator.WithMemoryProbe(probe),
		coordinator.WithNotifier(coordNotifier),
		coordinator.WithMetrics(recorder),
		coordinator.WithMinConfidence(appConfig.Optimizer.MinConfidence),
	}
	if member.Replica != nil {
		opts = append(opts, coordinator.WithConsensus(member.Replica))
	}
	coord, err = coordinator.New(appConfig.Coordinator, infra.Registry, member.Peer, opt, baseLogger, opts...)
	if err != nil {
		zap.L().Error("Error initializing coordinator", zap.Error(err))
		os.Exit(1)
	}

	if err := member.Start(rootCtx); err != nil {
		zap.L().Error("Error joining the swarm", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Joined the swarm", zap.String("node", nodeID), zap.Bool("validator", member.Replica != nil))

	// Task intake
	tasks, err := rabbitmq.NewTaskQueue(infra.Broker, baseLogger)
	if err != nil {
		zap.L().Error("Error initializing task queue", zap.Error(err))
		os.Exit(1)
	}
	defer tasks.Close()

	go heal.Run(rootCtx)
	go func() {
		if err := coord.Serve(rootCtx, tasks, _heartbeatInterval); err != nil {
			zap.L().Error("Coordinator loop stopped", zap.Error(err))
			rootCtxCancel()
		}
	}()

	// HTTP API
	api := httpHandler.New(coord, baseLogger,
		httpHandler.WithHealer(heal),
		httpHandler.WithPlans(infra.Repo),
		httpHandler.WithSubmitter(tasks),
		httpHandler.WithMetricsHandler(recorder.Handler()))
	server := &http.Server{
		Addr:              appConfig.HTTP.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", appConfig.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("HTTP server failed", zap.Error(err))
			rootCtxCancel()
		}
	}()

	// Wait for ctx cancelation
	<-rootCtx.Done()
	rootCtxCancel()

	// Wait for signal propagation
	time.Sleep(_readinessDrainDelay)
	zap.L().Info("Readiness check propagated, now waiting for ongoing requests to finish")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdownPeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Failed to wait for ongoing requests to finish, waiting for forced cancellation", zap.Error(err))
		time.Sleep(_shutdownHardPeriod)
	}
	member.Stop(shutdownCtx)
	heal.Wait()

	zap.L().Info("Graceful shutdown complete.")
}
