package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/whisperlink/crypto"
)

const (
	// DefaultGuardTTL is how long a handshake salt stays remembered.
	// A replayed handshake recording is only useful to an attacker
	// while the original exchange is still plausible, so a short
	// window is enough.
	DefaultGuardTTL = 10 * time.Minute

	// DefaultGuardCapacity bounds the number of remembered salts.
	DefaultGuardCapacity = 4096
)

// HandshakeGuard rejects replayed handshake attempts by remembering the
// random salt of every handshake it has accepted. Salts are 16 random
// bytes, so two honest handshakes never collide; a repeated salt means
// a recorded handshake is being played back.
//
// The guard is memory-only. A restart forgets all salts, which is
// acceptable: old sessions died with the process, so a replayed
// handshake against the restarted listener yields keys the attacker
// still cannot compute.
type HandshakeGuard struct {
	mu       sync.Mutex
	seen     map[[crypto.SaltSize]byte]time.Time
	ttl      time.Duration
	capacity int
}

// NewHandshakeGuard creates a guard with the default TTL and capacity.
func NewHandshakeGuard() *HandshakeGuard {
	return &HandshakeGuard{
		seen:     make(map[[crypto.SaltSize]byte]time.Time),
		ttl:      DefaultGuardTTL,
		capacity: DefaultGuardCapacity,
	}
}

// NewHandshakeGuardWithLimits creates a guard with explicit bounds.
// Non-positive values fall back to the defaults.
func NewHandshakeGuardWithLimits(ttl time.Duration, capacity int) *HandshakeGuard {
	g := NewHandshakeGuard()
	if ttl > 0 {
		g.ttl = ttl
	}
	if capacity > 0 {
		g.capacity = capacity
	}
	return g
}

// CheckAndStore reports whether the salt is fresh, recording it if so.
// A false return means the salt was seen before within the TTL and the
// handshake must be rejected.
func (g *HandshakeGuard) CheckAndStore(salt [crypto.SaltSize]byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.pruneLocked(now)

	if _, dup := g.seen[salt]; dup {
		logrus.WithFields(logrus.Fields{
			"function": "CheckAndStore",
			"tracked":  len(g.seen),
		}).Warn("Replayed handshake salt rejected")
		return false
	}

	if len(g.seen) >= g.capacity {
		g.evictOldestLocked()
	}
	g.seen[salt] = now
	return true
}

// Len returns the number of salts currently tracked.
func (g *HandshakeGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *HandshakeGuard) pruneLocked(now time.Time) {
	for salt, at := range g.seen {
		if now.Sub(at) > g.ttl {
			delete(g.seen, salt)
		}
	}
}

// evictOldestLocked drops the stalest entry to make room. Evicting an
// unexpired salt slightly widens the replay window under sustained
// handshake floods, which beats unbounded growth.
func (g *HandshakeGuard) evictOldestLocked() {
	var (
		oldest   [crypto.SaltSize]byte
		oldestAt time.Time
		found    bool
	)
	for salt, at := range g.seen {
		if !found || at.Before(oldestAt) {
			oldest, oldestAt, found = salt, at, true
		}
	}
	if found {
		delete(g.seen, oldest)
	}
}
