package syncer

import (
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// DefaultCooldown is the minimum time between two completed syncs of one date.
const DefaultCooldown = 50 * time.Second

// Gate debounces work per key. A key is either idle or in flight; moving
// to in flight requires that no run is active and that the cooldown since
// the last completed run has elapsed.
type Gate struct {
	clock    quartz.Clock
	cooldown time.Duration

	mu       sync.Mutex
	inFlight map[string]time.Time
	lastDone map[string]time.Time
}

// NewGate returns a Gate. A zero cooldown uses DefaultCooldown.
func NewGate(clock quartz.Clock, cooldown time.Duration) *Gate {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{
		clock:    clock,
		cooldown: cooldown,
		inFlight: make(map[string]time.Time),
		lastDone: make(map[string]time.Time),
	}
}

// TryAcquire reserves key and reports whether the caller may run. force
// skips the cooldown but never an in-flight run. Every successful call
// must be paired with Release.
func (g *Gate) TryAcquire(key string, force bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[key]; busy {
		return false
	}
	now := g.clock.Now()
	if last, ok := g.lastDone[key]; ok && !force && now.Sub(last) < g.cooldown {
		return false
	}
	g.inFlight[key] = now
	return true
}

// Release marks key idle and starts its cooldown, whether or not the run
// succeeded.
func (g *Gate) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inFlight, key)
	g.lastDone[key] = g.clock.Now()
}

// InFlight returns the keys currently running, sorted.
func (g *Gate) InFlight() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]string, 0, len(g.inFlight))
	for k := range g.inFlight {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LastCompleted returns when key last finished.
func (g *Gate) LastCompleted(key string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.lastDone[key]
	return t, ok
}
