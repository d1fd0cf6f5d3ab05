package replay

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TTL is how long a processed message ID stays recorded. SAML responses are
// only valid for minutes, so 24 hours comfortably outlives any response an
// IdP could still legitimately deliver.
const TTL = 24 * time.Hour

// Guard is an atomic check-and-record store for previously seen protocol
// message identifiers. CheckAndRecord returns true when messageID was already
// recorded; under concurrent calls with the same new messageID exactly one
// caller observes false.
type Guard interface {
	CheckAndRecord(ctx context.Context, messageID string) (alreadyUsed bool, err error)
}

// MemoryGuard is an in-process Guard with per-entry TTL. It is the default
// backend when no durable store is configured; records do not survive a
// restart.
type MemoryGuard struct {
	clock clockwork.Clock

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryGuard creates an in-memory guard. A nil clock uses the wall clock.
func NewMemoryGuard(clock clockwork.Clock) *MemoryGuard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryGuard{
		clock: clock,
		seen:  make(map[string]time.Time),
	}
}

// CheckAndRecord implements Guard. The mutex makes the lookup and insert a
// single atomic step.
func (g *MemoryGuard) CheckAndRecord(_ context.Context, messageID string) (bool, error) {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if expiresAt, ok := g.seen[messageID]; ok && now.Before(expiresAt) {
		return true, nil
	}
	g.seen[messageID] = now.Add(TTL)
	return false, nil
}

// Sweep removes expired records and returns how many were dropped.
func (g *MemoryGuard) Sweep() int {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	dropped := 0
	for id, expiresAt := range g.seen {
		if !now.Before(expiresAt) {
			delete(g.seen, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live records, expired ones included until the
// next sweep.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
