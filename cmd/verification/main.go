package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/crabzie/swarm-coordinator/config/logger"
	postgresConfig "github.com/crabzie/swarm-coordinator/config/storage/postgresql"
	redisConfig "github.com/crabzie/swarm-coordinator/config/storage/redis"
	config "github.com/crabzie/swarm-coordinator/config/utils"
	"github.com/crabzie/swarm-coordinator/internal/adapter/monitoring/prometheus"
	"github.com/crabzie/swarm-coordinator/internal/adapter/queue/rabbitmq"
	"github.com/crabzie/swarm-coordinator/internal/adapter/storage/postgres"
	redisAdapter "github.com/crabzie/swarm-coordinator/internal/adapter/storage/redis"
	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	// 1. Setup Logger & Config
	appConfig := config.New()
	baseLogger, err := logger.Build(appConfig.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	ctx := context.Background()

	baseLogger.Info("Starting Verification...")
	runID := uuid.NewString()[:8]

	// 2. Test Postgres
	baseLogger.Info("--- Testing Postgres ---")
	dbService, err := postgresConfig.New(ctx, appConfig.DB, baseLogger)
	if err != nil {
		baseLogger.Fatal("Failed to connect to DB", zap.Error(err))
	}
	defer dbService.Close()
	if err := dbService.Migrate(); err != nil {
		baseLogger.Fatal("Failed to migrate DB", zap.Error(err))
	}
	repo := postgres.NewRepository(dbService.Pool, baseLogger)

	plan := &domain.ExecutionPlan{
		TaskID:      "verify-" + runID,
		Mode:        domain.ModeCentralized,
		Assignments: []domain.Assignment{{TaskID: "verify-" + runID, WorkerID: "verify-node", Confidence: 1}},
		CreatedAt:   time.Now(),
	}
	if err := repo.SavePlan(ctx, plan); err != nil {
		baseLogger.Error("X Postgres: Save Plan Failed", zap.Error(err))
	} else {
		baseLogger.Info("✓ Postgres: Save Plan Success")
	}
	if fetched, err := repo.GetPlan(ctx, plan.TaskID); err != nil {
		baseLogger.Error("X Postgres: Get Plan Failed", zap.Error(err))
	} else {
		baseLogger.Info("✓ Postgres: Get Plan Success", zap.String("FetchedID", fetched.TaskID), zap.Int("Assignments", len(fetched.Assignments)))
	}
	if err := repo.UpdateStatus(ctx, plan.TaskID, domain.TaskStatusCompleted, "verify-node"); err != nil {
		baseLogger.Error("X Postgres: Update Status Failed", zap.Error(err))
	} else {
		baseLogger.Info("✓ Postgres: Update Status Success")
	}

	// 3. Test Redis
	baseLogger.Info("--- Testing Redis ---")
	cache, err := redisConfig.New(ctx, appConfig.Redis)
	if err != nil {
		baseLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer cache.Close()
	registry := redisAdapter.NewRegistry(cache.Client, time.Minute, baseLogger)

	w := &domain.Worker{
		ID:           "verify-node-" + runID,
		Capabilities: domain.Capabilities{Domains: []string{"verification"}, MaxComplexity: 5, MaxParallel: 1},
		Status:       domain.WorkerStatusActive,
		LastSeen:     time.Now(),
	}
	if err := registry.RegisterWorker(ctx, w); err != nil {
		baseLogger.Error("X Redis: Register Worker Failed", zap.Error(err))
	} else {
		baseLogger.Info("✓ Redis: Register Worker Success")
	}
	workers, err := registry.GetActiveWorkers(ctx)
	if err != nil {
		baseLogger.Error("X Redis: Get Workers Failed", zap.Error(err))
	} else {
		baseLogger.Info("✓ Redis: Get Workers Success", zap.Int("Count", len(workers)))
	}
	views := redisAdapter.NewViews(cache.Storage, time.Minute)
	if err := views.SaveView(ctx, w.ID, []byte(`{"states":[]}`)); err != nil {
		baseLogger.Error("X Redis: Save View Failed", zap.Error(err))
	} else {
		baseLogger.Info("✓ Redis: Save View Success")
	}
	_ = registry.MarkInactive(ctx, w.ID)

	// 4. Test RabbitMQ
	baseLogger.Info("--- Testing RabbitMQ ---")
	conn, err := rabbitmq.Dial(appConfig.AMQP.URL, baseLogger)
	if err != nil {
		baseLogger.Error("X RabbitMQ: Connection Failed", zap.Error(err))
	} else {
		defer conn.Close()
		publisher, err := rabbitmq.NewPublisher(conn, appConfig.AMQP.EventsExchange, baseLogger)
		if err != nil {
			baseLogger.Error("X RabbitMQ: Publisher Failed", zap.Error(err))
		} else {
			ev := domain.Event{ID: uuid.NewString(), Type: domain.EventHealthAlert, Source: "verification", Timestamp: time.Now()}
			if err := publisher.Publish(ctx, ev); err != nil {
				baseLogger.Error("X RabbitMQ: Publish Event Failed", zap.Error(err))
			} else {
				baseLogger.Info("✓ RabbitMQ: Publish Event Success", zap.String("key", rabbitmq.RoutingKey(ev)))
			}
			publisher.Close()
		}
		if _, err := rabbitmq.NewTaskQueue(conn, baseLogger); err != nil {
			baseLogger.Error("X RabbitMQ: Task Queue Declare Failed", zap.Error(err))
		} else {
			baseLogger.Info("✓ RabbitMQ: Task Queue Declare Success", zap.String("queue", rabbitmq.TasksQueue))
		}
	}

	// 5. Test Prometheus
	baseLogger.Info("--- Testing Prometheus ---")
	url := appConfig.Prometheus.URL
	if url == "" {
		url = "http://localhost:9090"
	}
	source := prometheus.NewSource(url, prometheus.DefaultQueries(), baseLogger)
	m, err := source.GetComponentMetrics(ctx, w.ID)
	if err != nil {
		baseLogger.Warn("! Prometheus: Query Failed (Expected if bad connection or no data)", zap.Error(err))
	} else {
		baseLogger.Info("✓ Prometheus: Query Success",
			zap.Float64("CPU", m.CPUUsage),
			zap.Float64("Mem", m.MemoryUsage),
			zap.String("Response", fmt.Sprint(m.ResponseTime)))
	}

	baseLogger.Info("Verification Complete.")
}
