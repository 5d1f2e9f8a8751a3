package correlation

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// DefaultKeyLockStripes is the shard count used when none is configured.
const DefaultKeyLockStripes = 256

type keyLock struct {
	mu   sync.Mutex
	refs int // holders plus waiters
}

type keyLockShard struct {
	mu    sync.Mutex
	locks map[models.CorrelationKey]*keyLock
}

// KeyLocks serializes work per correlation key. Only callers holding the
// same key wait for each other; distinct keys never share a mutex. Entries
// are created on demand and dropped once nobody holds or waits for them.
type KeyLocks struct {
	shards []keyLockShard
}

// NewKeyLocks creates a lock table split into n shards.
func NewKeyLocks(n int) *KeyLocks {
	if n <= 0 {
		n = DefaultKeyLockStripes
	}
	l := &KeyLocks{shards: make([]keyLockShard, n)}
	for i := range l.shards {
		l.shards[i].locks = make(map[models.CorrelationKey]*keyLock)
	}
	return l
}

func (l *KeyLocks) shard(key models.CorrelationKey) *keyLockShard {
	return &l.shards[xxhash.Sum64String(key.String())%uint64(len(l.shards))]
}

// Lock acquires the lock for key and returns its release function.
func (l *KeyLocks) Lock(key models.CorrelationKey) (unlock func()) {
	s := l.shard(key)

	s.mu.Lock()
	kl, ok := s.locks[key]
	if !ok {
		kl = &keyLock{}
		s.locks[key] = kl
	}
	kl.refs++
	s.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		s.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (l *KeyLocks) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
