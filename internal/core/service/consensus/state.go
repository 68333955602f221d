package consensus

import "sort"

const stateLogCompactAt = 1024

type logEntry struct {
	seq    uint64
	digest string
}

// stateLog chains finalized digests in sequence order, so replicas that
// finalize concurrent proposals in different orders still agree on the
// state digest.
type stateLog struct {
	base    string // Digest of the compacted prefix
	baseSeq uint64
	entries []logEntry
	head    string
}

// append inserts a finalized digest and returns the new state digest
func (l *stateLog) append(seq uint64, digest string) string {
	if seq <= l.baseSeq {
		return l.head
	}
	i := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].seq >= seq })
	if i < len(l.entries) && l.entries[i].seq == seq {
		return l.head
	}
	l.entries = append(l.entries, logEntry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = logEntry{seq, digest}

	l.head = l.base
	for _, e := range l.entries {
		l.head = chainDigest(l.head, e.seq, e.digest)
	}
	if len(l.entries) > stateLogCompactAt {
		half := len(l.entries) / 2
		for _, e := range l.entries[:half] {
			l.base = chainDigest(l.base, e.seq, e.digest)
		}
		l.baseSeq = l.entries[half-1].seq
		l.entries = append([]logEntry(nil), l.entries[half:]...)
	}
	return l.head
}

// reset adopts a state digest vouched for by a checkpoint
func (l *stateLog) reset(seq uint64, stateDigest string) {
	l.base = stateDigest
	l.baseSeq = seq
	l.entries = nil
	l.head = stateDigest
}

func (l *stateLog) lastSeq() uint64 {
	if n := len(l.entries); n > 0 {
		return l.entries[n-1].seq
	}
	return l.baseSeq
}
