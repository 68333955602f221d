package consensus

import (
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// penalties added to a node's suspicion per piece of evidence
var penalties = map[domain.EvidenceKind]float64{
	domain.EvidenceDoubleVoting:     0.5,
	domain.EvidenceInvalidSignature: 0.3,
	domain.EvidenceCorruptDigest:    0.3,
	domain.EvidenceSilence:          0.15,
}

type score struct {
	mu    sync.Mutex
	value float64
}

// suspicionTable holds per-node scores, each updated under its own lock
type suspicionTable struct {
	scores sync.Map // node id -> *score
}

// raise adds the penalty for kind and returns the old and new score
func (s *suspicionTable) raise(nodeID string, kind domain.EvidenceKind) (float64, float64) {
	v, _ := s.scores.LoadOrStore(nodeID, &score{})
	sc := v.(*score)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	old := sc.value
	sc.value = domain.Clamp01(sc.value + penalties[kind])
	return old, sc.value
}

func (s *suspicionTable) get(nodeID string) float64 {
	v, ok := s.scores.Load(nodeID)
	if !ok {
		return 0
	}
	sc := v.(*score)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.value
}

type voteKey struct {
	sender string
	view   uint64
	seq    uint64
	phase  domain.MessageType
}

type castVote struct {
	digest string
	accept bool
}

// voteLog remembers the first vote of every sender per (view, sequence, phase)
type voteLog struct {
	mu    sync.Mutex
	votes map[voteKey]castVote
}

func newVoteLog() *voteLog {
	return &voteLog{votes: make(map[voteKey]castVote)}
}

type voteStatus int

const (
	voteFirst voteStatus = iota
	voteDuplicate
	voteConflict
)

// record classifies m against the sender's earlier vote for the same slot
func (l *voteLog) record(m *domain.Message) (voteStatus, castVote) {
	k := voteKey{m.SenderID, m.View, m.Sequence, m.Type}
	v := castVote{m.Digest, m.Accept}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, ok := l.votes[k]
	switch {
	case !ok:
		l.votes[k] = v
		return voteFirst, v
	case prev == v:
		return voteDuplicate, prev
	default:
		return voteConflict, prev
	}
}

// prune forgets votes for sequences at or below seq
func (l *voteLog) prune(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.votes {
		if k.seq <= seq {
			delete(l.votes, k)
		}
	}
}
