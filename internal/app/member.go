package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	config "github.com/crabzie/swarm-coordinator/config/utils"
	"github.com/crabzie/swarm-coordinator/internal/adapter/crypto/libp2p"
	"github.com/crabzie/swarm-coordinator/internal/adapter/executor/simulated"
	"github.com/crabzie/swarm-coordinator/internal/adapter/storage/bolt"
	"github.com/crabzie/swarm-coordinator/internal/adapter/transport"
	rmqTransport "github.com/crabzie/swarm-coordinator/internal/adapter/transport/rabbitmq"
	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	"github.com/crabzie/swarm-coordinator/internal/core/service/consensus"
	"github.com/crabzie/swarm-coordinator/internal/core/service/network"
	"github.com/crabzie/swarm-coordinator/internal/core/service/notify"
	"github.com/crabzie/swarm-coordinator/internal/core/service/worker"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Member is the local swarm member: its peer, its worker service and, when
// it is a validator, its consensus replica.
type Member struct {
	Peer    *network.Peer
	Worker  *worker.Service
	Replica *consensus.Replica // nil unless the node is a validator

	mux         *transport.Mux
	checkpoints *bolt.Checkpoints
	notifiers   []*notify.Notifier
	log         *zap.Logger
}

// NodeID returns the configured node id or a generated one
func NodeID(cfg *config.Node) string {
	if cfg.ID != "" {
		return cfg.ID
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "node-" + uuid.NewString()[:8]
}

// LocalWorker describes the local node from its config section
func LocalWorker(id string, cfg *config.Node) *domain.Worker {
	return &domain.Worker{
		ID: id,
		Capabilities: domain.Capabilities{
			Domains:       cfg.Domains,
			Skills:        cfg.Skills,
			MaxComplexity: cfg.MaxComplexity,
			MaxParallel:   cfg.MaxParallel,
		},
		Reputation: 0.5,
		Status:     domain.WorkerStatusActive,
		LastSeen:   time.Now(),
	}
}

// Keys loads the node's signing key and a keyring with every configured validator key
func Keys(id string, cfg *config.Node) (*libp2p.Signer, *libp2p.Keyring, error) {
	path := cfg.KeyFile
	if path == "" {
		path = filepath.Join(cfg.DataDir, id+".key")
	}
	signer, err := libp2p.LoadOrGenerate(id, path)
	if err != nil {
		return nil, nil, err
	}
	ring := libp2p.NewKeyring()
	ring.AddSigner(signer)
	for peerID, key := range cfg.PeerKeys {
		if err := ring.AddBase64(peerID, key); err != nil {
			return nil, nil, err
		}
	}
	return signer, ring, nil
}

// NewMember joins the peer exchange as id and builds the member services.
// onExclude is called when consensus excludes a validator.
func NewMember(cfg *config.AppConfig, in *Infra, id string, metrics port.Metrics, onExclude func(string), log *zap.Logger) (*Member, error) {
	if err := os.MkdirAll(cfg.Node.DataDir, 0o700); err != nil {
		return nil, err
	}
	base, err := rmqTransport.New(in.Broker, id, cfg.AMQP.PeerExchange, log)
	if err != nil {
		return nil, fmt.Errorf("peer transport: %w", err)
	}
	m := &Member{mux: transport.NewMux(base), log: log}

	var peer *network.Peer
	exec := simulated.NewExecutor(id, simulated.DefaultProfile(), time.Now().UnixNano())
	m.Worker, err = worker.NewService(func() *domain.Worker { return peer.Self() }, in.Registry, exec, log,
		worker.WithPlanRepository(in.Repo))
	if err != nil {
		m.Close()
		return nil, err
	}
	peer, err = network.NewPeer(cfg.Network, LocalWorker(id, cfg.Node), m.mux.Channel("network"), log,
		network.WithViewStore(in.Views),
		network.WithExecutor(m.Worker))
	if err != nil {
		m.Close()
		return nil, err
	}
	m.Peer = peer

	if !slices.Contains(cfg.Consensus.Validators, id) {
		log.Info("Node is not a validator, consensus disabled", zap.String("id", id))
		return m, nil
	}
	signer, ring, err := Keys(id, cfg.Node)
	if err != nil {
		m.Close()
		return nil, err
	}
	store, err := m.checkpointStore(cfg, in, id)
	if err != nil {
		m.Close()
		return nil, err
	}
	n := notify.New("consensus", in.Publisher, log)
	m.notifiers = append(m.notifiers, n)
	m.Replica, err = consensus.NewReplica(cfg.Consensus, m.mux.Channel("consensus"), signer, ring, log,
		consensus.WithCheckpointStore(store),
		consensus.WithMetrics(metrics),
		consensus.WithNotifier(n),
		consensus.WithOnExclude(onExclude))
	if err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Member) checkpointStore(cfg *config.AppConfig, in *Infra, id string) (port.CheckpointStore, error) {
	if cfg.Node.Checkpoints == "postgres" {
		return in.Repo, nil
	}
	var err error
	m.checkpoints, err = bolt.Open(filepath.Join(cfg.Node.DataDir, "checkpoints-"+id+".db"), 0, m.log)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	return m.checkpoints, nil
}

// Start registers the worker, restores consensus state and joins the swarm
func (m *Member) Start(ctx context.Context) error {
	if m.Replica != nil {
		switch _, err := m.Replica.Restore(ctx); {
		case errors.Is(err, domain.ErrCheckpointNotFound):
			m.log.Info("No local checkpoint, starting from genesis")
		case err != nil:
			m.log.Warn("Local checkpoint rejected", zap.Error(err))
		}
		if err := m.Replica.Start(ctx); err != nil {
			return err
		}
		// Catch up with validators that finalized proposals while we were away
		if cp, err := m.Replica.RequestCheckpoint(ctx); err != nil {
			m.log.Debug("No checkpoint vouched by peers", zap.Error(err))
		} else {
			m.log.Info("Adopted peer checkpoint", zap.Uint64("sequence", cp.Sequence))
		}
	}
	if err := m.Peer.Start(ctx); err != nil {
		return err
	}
	return m.Worker.Start(ctx)
}

// Stop leaves the swarm and releases the member's resources
func (m *Member) Stop(ctx context.Context) {
	m.Peer.Leave(ctx)
	m.Peer.Stop(ctx)
	if m.Replica != nil {
		m.Replica.Stop()
	}
	m.Worker.Wait()
	m.Close()
}

// Close releases transports and stores without the leave handshake
func (m *Member) Close() {
	for _, n := range m.notifiers {
		n.Close()
	}
	if m.mux != nil {
		m.mux.Close()
	}
	if m.checkpoints != nil {
		m.checkpoints.Close()
	}
}
