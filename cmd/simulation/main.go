package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/adapter/crypto/libp2p"
	"github.com/crabzie/swarm-coordinator/internal/adapter/executor/simulated"
	"github.com/crabzie/swarm-coordinator/internal/adapter/monitoring/prometheus"
	"github.com/crabzie/swarm-coordinator/internal/adapter/queue/inproc"
	"github.com/crabzie/swarm-coordinator/internal/adapter/storage/memory"
	"github.com/crabzie/swarm-coordinator/internal/adapter/transport"
	"github.com/crabzie/swarm-coordinator/internal/adapter/transport/local"
	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/service/consensus"
	"github.com/crabzie/swarm-coordinator/internal/core/service/coordinator"
	"github.com/crabzie/swarm-coordinator/internal/core/service/healing"
	"github.com/crabzie/swarm-coordinator/internal/core/service/network"
	"github.com/crabzie/swarm-coordinator/internal/core/service/notify"
	"github.com/crabzie/swarm-coordinator/internal/core/service/optimizer"
	"go.uber.org/zap"
)

const (
	simulationDuration = 2 * time.Minute
	injectionInterval  = 3 * time.Second
	swarmSize          = 5
	faultyNode         = "node-5"
)

var domains = []string{"backend", "frontend", "security", "data", "infra"}

type member struct {
	peer    *network.Peer
	replica *consensus.Replica
	mux     *transport.Mux
}

type stats struct {
	injected, completed, failed, fallbacks atomic.Int64

	mu    sync.Mutex
	modes map[domain.CoordinationMode]int
}

func (s *stats) record(out *domain.TaskAssignment) {
	if out.Success {
		s.completed.Add(1)
	} else {
		s.failed.Add(1)
	}
	if out.FallbackUsed {
		s.fallbacks.Add(1)
	}
	s.mu.Lock()
	s.modes[out.Mode]++
	s.mu.Unlock()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	baseLogger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	baseLogger = baseLogger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))

	ids := make([]string, swarmSize)
	for i := range ids {
		ids[i] = fmt.Sprintf("node-%d", i+1)
	}
	signers, keyring, err := libp2p.Cluster(ids...)
	if err != nil {
		log.Fatal("Failed to generate validator keys:", err)
	}

	hub := local.NewHub(baseLogger)
	fleet := simulated.NewFleet(simulated.DefaultProfile(), time.Now().UnixNano())
	registry := memory.NewRegistry()
	recorder := prometheus.NewRecorder()
	bus := inproc.NewBus()
	defer bus.Close()

	consensusCfg := consensus.DefaultConfig()
	consensusCfg.Validators = ids
	consensusCfg.HeartbeatInterval = 0

	netCfg := network.DefaultConfig()
	netCfg.Seeds = ids[:1]

	// Swarm members
	members := make(map[string]*member, swarmSize)
	for i, id := range ids {
		w := &domain.Worker{
			ID: id,
			Capabilities: domain.Capabilities{
				Domains:       []string{domains[i%len(domains)], domains[(i+1)%len(domains)]},
				MaxComplexity: 6 + i%5,
				MaxParallel:   2,
			},
			Reputation: 0.8,
			Status:     domain.WorkerStatusActive,
			LastSeen:   time.Now(),
		}
		if err := registry.RegisterWorker(ctx, w); err != nil {
			log.Fatal("Failed to register worker:", err)
		}

		mux := transport.NewMux(hub.Join(id))
		peer, err := network.NewPeer(netCfg, w, mux.Channel("network"), baseLogger,
			network.WithViewStore(memory.NewViews()),
			network.WithExecutor(fleet.Add(id)))
		if err != nil {
			log.Fatal("Failed to create peer:", err)
		}

		fault := consensus.FaultNone
		if id == faultyNode {
			fault = consensus.FaultAlwaysReject
		}
		replica, err := consensus.NewReplica(consensusCfg, mux.Channel("consensus"), signers[id], keyring, baseLogger,
			consensus.WithCheckpointStore(memory.NewCheckpoints()),
			consensus.WithMetrics(recorder),
			consensus.WithNotifier(notify.New(id, bus, baseLogger)),
			consensus.WithFault(fault))
		if err != nil {
			log.Fatal("Failed to create replica:", err)
		}
		members[id] = &member{peer: peer, replica: replica, mux: mux}
	}
	for _, id := range ids {
		m := members[id]
		if err := m.replica.Start(ctx); err != nil {
			log.Fatal("Failed to start replica:", err)
		}
		if err := m.peer.Start(ctx); err != nil {
			log.Fatal("Failed to start peer:", err)
		}
	}

	// Self-healing over the simulated fleet
	heal, err := healing.NewManager(healing.DefaultConfig(), baseLogger,
		healing.WithMetricsSource(fleet),
		healing.WithController(fleet),
		healing.WithRecoveryRepository(memory.NewRecoveries()),
		healing.WithMetrics(recorder),
		healing.WithNotifier(notify.New("healing", bus, baseLogger)))
	if err != nil {
		log.Fatal("Failed to create healing manager:", err)
	}
	for _, id := range ids {
		_ = heal.RegisterForMonitoring("worker", id)
	}
	go heal.Run(ctx)

	// Coordinator on the first node
	opt, err := optimizer.New(optimizer.DefaultConfig())
	if err != nil {
		log.Fatal("Failed to create optimizer:", err)
	}
	entry := members[ids[0]]
	coord, err := coordinator.New(coordinator.DefaultConfig(), registry, entry.peer, opt, baseLogger,
		coordinator.WithPlanRepository(memory.NewPlans()),
		coordinator.WithNegotiator(entry.peer),
		coordinator.WithConsensus(entry.replica),
		coordinator.WithHealing(heal),
		coordinator.WithNotifier(notify.New("coordinator", bus, baseLogger)),
		coordinator.WithMetrics(recorder))
	if err != nil {
		log.Fatal("Failed to create coordinator:", err)
	}

	fmt.Printf("🚀 Starting %s Swarm Simulation (%d nodes, %s rejects every proposal)...\n", simulationDuration, swarmSize, faultyNode)
	fmt.Println("   Monitoring coordination decisions...")

	events, unsubscribe := bus.Subscribe(64,
		domain.EventNodeExcluded, domain.EventViewChanged, domain.EventHealthAlert,
		domain.EventRecoveryCompleted, domain.EventRecoveryFailed)
	defer unsubscribe()
	go monitorEvents(events)

	st := &stats{modes: make(map[domain.CoordinationMode]int)}
	var inflight sync.WaitGroup

	endTime := time.Now().Add(simulationDuration)
	ticker := time.NewTicker(injectionInterval)
	defer ticker.Stop()

	taskCount := 0
loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n⚠️  Simulation interrupted.")
			break loop
		case <-ticker.C:
			if time.Now().After(endTime) {
				fmt.Println("\n✅ Simulation Complete.")
				break loop
			}

			// Generate a batch of tasks
			batchSize := rand.Intn(5) + 1 // 1-5 tasks
			fmt.Printf("\n[Generator] Injecting %d new tasks...\n", batchSize)

			for i := 0; i < batchSize; i++ {
				taskCount++
				task := randomTask(fmt.Sprintf("sim-task-%d", taskCount))
				st.injected.Add(1)

				inflight.Add(1)
				go func() {
					defer inflight.Done()
					out, err := coord.CoordinateTask(ctx, task)
					if err != nil {
						fmt.Printf("   ❌ %s rejected: %v\n", task.ID, err)
						st.failed.Add(1)
						return
					}
					st.record(out)
					mark := "👀"
					if !out.Success {
						mark = "❌"
					}
					fmt.Printf("   %s %s (complexity %d, %d subtasks) -> %s%s in %s\n",
						mark, task.ID, task.Complexity, len(task.Subtasks), out.Mode, fallbackNote(out), out.Duration.Round(time.Millisecond))
				}()
			}

			injectFault(fleet, ids)
		}
	}

	inflight.Wait()
	cancel()
	heal.Wait()
	for _, id := range ids {
		m := members[id]
		m.peer.Stop(context.Background())
		m.replica.Stop()
		_ = m.mux.Close()
	}

	printSummary(st, coord, heal)
}

func randomTask(id string) *domain.Task {
	task := &domain.Task{
		ID:          id,
		Description: "simulated job",
		Complexity:  rand.Intn(10) + 1,
		Domains:     []string{domains[rand.Intn(len(domains))]},
		Priority:    []domain.Priority{domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityCritical}[rand.Intn(4)],
		Status:      domain.TaskStatusPending,
	}
	// Complex tasks get a chain of subtasks
	if task.Complexity >= 7 {
		n := rand.Intn(3) + 2
		for i := 0; i < n; i++ {
			sub := &domain.Task{
				ID:         fmt.Sprintf("%s.%d", id, i+1),
				Complexity: rand.Intn(task.Complexity) + 1,
				Domains:    []string{domains[rand.Intn(len(domains))]},
				Priority:   task.Priority,
				Status:     domain.TaskStatusPending,
			}
			if i > 0 {
				sub.Dependencies = []string{task.Subtasks[i-1].ID}
			}
			task.Subtasks = append(task.Subtasks, sub)
		}
	}
	return task
}

// injectFault crashes a worker or inflates its memory now and then
func injectFault(fleet *simulated.Fleet, ids []string) {
	r := rand.Float64()
	id := ids[rand.Intn(len(ids))]
	exec, ok := fleet.Get(id)
	if !ok {
		return
	}
	switch {
	case r < 0.1:
		fmt.Printf("[Chaos] 💥 Crashing %s\n", id)
		exec.Crash()
	case r < 0.2:
		fmt.Printf("[Chaos] 🐘 Memory pressure on %s\n", id)
		p := exec.Profile()
		p.MemoryUsage = 0.97
		exec.SetProfile(p)
	case r < 0.3:
		fmt.Printf("[Chaos] 🐌 Degrading %s\n", id)
		p := exec.Profile()
		p.FailureRate = 0.6
		exec.SetProfile(p)
	}
}

func monitorEvents(events <-chan domain.Event) {
	for ev := range events {
		switch ev.Type {
		case domain.EventNodeExcluded:
			fmt.Printf("   🚫 Node %v excluded (suspicion %v)\n", ev.Payload["node_id"], ev.Payload["suspicion"])
		case domain.EventViewChanged:
			fmt.Printf("   🔄 View changed to %v, primary %v\n", ev.Payload["view"], ev.Payload["primary"])
		case domain.EventHealthAlert:
			fmt.Printf("   🩺 %v issue on %v (%v)\n", ev.Payload["kind"], ev.Payload["component_id"], ev.Payload["severity"])
		case domain.EventRecoveryCompleted, domain.EventRecoveryFailed:
			fmt.Printf("   🔧 %v on %v success=%v\n", ev.Payload["strategy"], ev.Payload["component_id"], ev.Payload["success"])
		}
	}
}

func fallbackNote(out *domain.TaskAssignment) string {
	if out.FallbackUsed {
		return " (fallback)"
	}
	return ""
}

func printSummary(st *stats, coord *coordinator.Coordinator, heal *healing.Manager) {
	fmt.Println("\n📊 Summary")
	fmt.Printf("   Tasks injected:  %d\n", st.injected.Load())
	fmt.Printf("   Completed:       %d\n", st.completed.Load())
	fmt.Printf("   Failed:          %d\n", st.failed.Load())
	fmt.Printf("   Fallbacks used:  %d\n", st.fallbacks.Load())
	st.mu.Lock()
	for mode, n := range st.modes {
		fmt.Printf("   Mode %-14s %d\n", mode+":", n)
	}
	st.mu.Unlock()

	history := heal.History()
	recovered := 0
	for _, r := range history {
		if r.Success {
			recovered++
		}
	}
	fmt.Printf("   Recoveries:      %d/%d successful\n", recovered, len(history))
	fmt.Printf("   System health:   %.2f\n", heal.SystemHealth())
	report := coord.Health(context.Background())
	fmt.Printf("   Coordinator:     %+v\n", report)
}
