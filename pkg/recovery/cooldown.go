package recovery

import (
	"fmt"
	"sync"
	"time"
)

// Operation names tracked by the service's cooldown table.
const (
	OpSave     = "save"
	OpRecovery = "recovery"
)

// Default throttles.
const (
	DefaultSaveCooldown     = 10 * time.Second
	DefaultRecoveryCooldown = 30 * time.Second
)

// DefaultCooldowns maps each operation to its minimum spacing.
var DefaultCooldowns = map[string]time.Duration{
	OpSave:     DefaultSaveCooldown,
	OpRecovery: DefaultRecoveryCooldown,
}

// CooldownEntry tracks the last run of one operation.
type CooldownEntry struct {
	LastRun time.Time
	Count   int64
}

// CooldownTable throttles named operations. A call inside an operation's
// cooldown window is refused; callers treat a refusal as a no-op.
// Safe for concurrent use.
type CooldownTable struct {
	mu        sync.Mutex
	entries   map[string]*CooldownEntry
	durations map[string]time.Duration
	now       func() time.Time

	totalChecks  int64
	totalBlocked int64
	totalAllowed int64
}

// CooldownStats summarizes throttling decisions.
type CooldownStats struct {
	TotalEntries int64
	TotalChecks  int64
	TotalBlocked int64
	TotalAllowed int64
	BlockRate    float64
}

// CooldownOption configures a CooldownTable.
type CooldownOption func(*CooldownTable)

// WithCooldown sets the window for op. A zero or negative duration disables
// throttling for that operation.
func WithCooldown(op string, d time.Duration) CooldownOption {
	return func(ct *CooldownTable) {
		ct.durations[op] = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CooldownOption {
	return func(ct *CooldownTable) {
		if now != nil {
			ct.now = now
		}
	}
}

// NewCooldownTable creates a table seeded with DefaultCooldowns.
func NewCooldownTable(opts ...CooldownOption) *CooldownTable {
	ct := &CooldownTable{
		entries:   make(map[string]*CooldownEntry),
		durations: make(map[string]time.Duration, len(DefaultCooldowns)),
		now:       time.Now,
	}
	for op, d := range DefaultCooldowns {
		ct.durations[op] = d
	}
	for _, opt := range opts {
		opt(ct)
	}
	return ct
}

// CanRun reports whether op is outside its cooldown window.
func (ct *CooldownTable) CanRun(op string) bool {
	ok, _ := ct.CanRunWithReason(op)
	return ok
}

// CanRunWithReason is CanRun plus a human readable explanation for logs.
func (ct *CooldownTable) CanRunWithReason(op string) (bool, string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.checkLocked(op)
}

func (ct *CooldownTable) checkLocked(op string) (bool, string) {
	ct.totalChecks++
	entry, ok := ct.entries[op]
	if !ok {
		ct.totalAllowed++
		return true, "first run"
	}

	window := ct.durations[op]
	elapsed := ct.now().Sub(entry.LastRun)
	if window <= 0 || elapsed >= window {
		ct.totalAllowed++
		return true, fmt.Sprintf("cooldown expired (elapsed: %s, required: %s)", elapsed.Round(time.Millisecond), window)
	}

	ct.totalBlocked++
	return false, fmt.Sprintf("cooldown active (remaining: %s)", (window - elapsed).Round(time.Millisecond))
}

// Record stamps op as having run now.
func (ct *CooldownTable) Record(op string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.recordLocked(op, ct.now())
}

// RecordAt stamps op as having run at t.
func (ct *CooldownTable) RecordAt(op string, t time.Time) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.recordLocked(op, t)
}

func (ct *CooldownTable) recordLocked(op string, t time.Time) {
	entry, ok := ct.entries[op]
	if !ok {
		entry = &CooldownEntry{}
		ct.entries[op] = entry
	}
	entry.LastRun = t
	entry.Count++
}

// TryRun checks and records op atomically. It returns false, with the
// reason, when op is still cooling down.
func (ct *CooldownTable) TryRun(op string) (bool, string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ok, reason := ct.checkLocked(op)
	if ok {
		ct.recordLocked(op, ct.now())
	}
	return ok, reason
}

// TimeUntilAllowed returns how long until op may run again; 0 when allowed.
func (ct *CooldownTable) TimeUntilAllowed(op string) time.Duration {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	entry, ok := ct.entries[op]
	if !ok {
		return 0
	}
	window := ct.durations[op]
	elapsed := ct.now().Sub(entry.LastRun)
	if window <= 0 || elapsed >= window {
		return 0
	}
	return window - elapsed
}

// Cooldown returns the window configured for op.
func (ct *CooldownTable) Cooldown(op string) time.Duration {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.durations[op]
}

// Entry returns a copy of op's entry, or nil if it never ran.
func (ct *CooldownTable) Entry(op string) *CooldownEntry {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	entry, ok := ct.entries[op]
	if !ok {
		return nil
	}
	return &CooldownEntry{LastRun: entry.LastRun, Count: entry.Count}
}

// Clear forgets every entry and resets the counters.
func (ct *CooldownTable) Clear() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.entries = make(map[string]*CooldownEntry)
	ct.totalChecks = 0
	ct.totalBlocked = 0
	ct.totalAllowed = 0
}

// Stats returns a snapshot of the counters.
func (ct *CooldownTable) Stats() CooldownStats {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	stats := CooldownStats{
		TotalEntries: int64(len(ct.entries)),
		TotalChecks:  ct.totalChecks,
		TotalBlocked: ct.totalBlocked,
		TotalAllowed: ct.totalAllowed,
	}
	if stats.TotalChecks > 0 {
		stats.BlockRate = float64(stats.TotalBlocked) / float64(stats.TotalChecks)
	}
	return stats
}
