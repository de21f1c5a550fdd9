// Package recovery keeps a flow's edges durable across editor sessions.
//
// A Service owns the snapshot store for one flow. It saves the live edge set
// after edits (debounced and throttled) and periodically reconciles the live
// graph with the last snapshot: edges that vanished from the graph while both
// endpoints still exist are restored through the engine's own validation
// path, and the snapshot is healed when it carried orphans or stale handle
// forms.
//
// Failures never reach the caller. A missing or corrupt snapshot, an
// unreachable store, or a panic inside a timer callback is logged and the
// engine keeps running in memory.
//
// Example:
//
//	svc, err := recovery.New(engine, recovery.Options{Store: store, FlowID: "42"})
//	if err != nil {
//	    return err
//	}
//	cancel := engine.Subscribe(svc.HandleEvent)
//	defer cancel()
//	go svc.Run(ctx)
package recovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/flowkeeper/pkg/flow"
	"github.com/orneryd/flowkeeper/pkg/graph"
	"github.com/orneryd/flowkeeper/pkg/storage"
)

// Default timers.
const (
	DefaultMountDelay = 2 * time.Second
	DefaultInterval   = 10 * time.Second
	DefaultSaveDelay  = 1 * time.Second
)

// Snapshot keys.
const (
	PrimaryKeyPrefix  = "flowkeeper-edges-"
	FallbackKey       = "flowkeeper-flow-edges"
	LegacyKeyPrefix   = "plubot-edges-"
	LegacyFallbackKey = "plubot-flow-edges"
)

var (
	ErrNilGraph       = errors.New("recovery: graph is required")
	ErrNilStore       = errors.New("recovery: store is required")
	ErrAlreadyRunning = errors.New("recovery: service already running")
)

// NodeExistsFunc reports whether a node id is present in the live graph.
type NodeExistsFunc = graph.NodeExistsFunc

// Graph is the part of the engine the service reads and restores into.
type Graph interface {
	Nodes() []*graph.Node
	Edges() []*graph.Edge
	HasNode(id string) bool
	RestoreEdges(edges []*graph.Edge) flow.RestoreResult
}

// PrimaryKey returns the per-flow snapshot key.
func PrimaryKey(flowID string) string {
	return PrimaryKeyPrefix + flowID
}

// ReadKeys lists the keys a recovery pass tries, in order.
func ReadKeys(flowID string) []string {
	if flowID == "" {
		return []string{FallbackKey, LegacyFallbackKey}
	}
	return []string{PrimaryKey(flowID), FallbackKey, LegacyKeyPrefix + flowID, LegacyFallbackKey}
}

// WriteKeys lists the keys a save writes. Legacy keys are never written.
func WriteKeys(flowID string) []string {
	if flowID == "" {
		return []string{FallbackKey}
	}
	return []string{PrimaryKey(flowID), FallbackKey}
}

// Options configures a Service. Zero durations use the defaults; a negative
// cooldown disables that throttle.
type Options struct {
	Store  storage.Store
	FlowID string

	// NodeExists filters recovered edges. Nil uses the graph's HasNode.
	NodeExists NodeExistsFunc

	// Logger receives pass and save outcomes. Nil discards them.
	Logger *zerolog.Logger

	SaveCooldown     time.Duration
	RecoveryCooldown time.Duration
	MountDelay       time.Duration
	Interval         time.Duration
	SaveDelay        time.Duration

	// Now overrides the clock for cooldowns and snapshot timestamps.
	Now func() time.Time
}

// Result describes one recovery pass.
type Result struct {
	// Skipped is non-empty when the pass did nothing, with the reason.
	Skipped string
	// Key is the snapshot key the edges were read from.
	Key string
	// Found counts edges in the snapshot, Valid those that survived
	// filtering and Dropped those that did not.
	Found   int
	Valid   int
	Dropped int
	Restore flow.RestoreResult
	// Rewritten is set when the healed survivors were written back.
	Rewritten bool
}

// Stats counts service activity.
type Stats struct {
	Passes        int64
	EdgesRestored int64
	Saves         int64
	WriteFailures int64
	Cooldowns     CooldownStats
}

// Service reconciles one flow's live edges with its snapshot store.
type Service struct {
	graph      Graph
	store      storage.Store
	flowID     string
	nodeExists NodeExistsFunc
	log        zerolog.Logger
	cooldowns  *CooldownTable
	now        func() time.Time

	mountDelay time.Duration
	interval   time.Duration
	saveDelay  time.Duration

	// opMu serializes passes and saves; the service is the only writer of
	// its keys.
	opMu sync.Mutex

	saveMu    sync.Mutex
	saveTimer *time.Timer
	saveGen   uint64
	closed    bool

	force   chan struct{}
	running atomic.Bool

	passes        atomic.Int64
	edgesRestored atomic.Int64
	saves         atomic.Int64
	writeFailures atomic.Int64
}

// New creates a service for g backed by opts.Store. It starts no goroutines;
// call Run for the timed passes.
func New(g Graph, opts Options) (*Service, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if opts.Store == nil {
		return nil, ErrNilStore
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	s := &Service{
		graph:      g,
		store:      opts.Store,
		flowID:     opts.FlowID,
		nodeExists: opts.NodeExists,
		log:        log.With().Str("component", "recovery").Str("flow", opts.FlowID).Logger(),
		now:        now,
		mountDelay: orDefault(opts.MountDelay, DefaultMountDelay),
		interval:   orDefault(opts.Interval, DefaultInterval),
		saveDelay:  orDefault(opts.SaveDelay, DefaultSaveDelay),
		force:      make(chan struct{}, 1),
	}
	if s.nodeExists == nil {
		s.nodeExists = g.HasNode
	}
	s.cooldowns = NewCooldownTable(
		WithClock(now),
		WithCooldown(OpSave, orDefault(opts.SaveCooldown, DefaultSaveCooldown)),
		WithCooldown(OpRecovery, orDefault(opts.RecoveryCooldown, DefaultRecoveryCooldown)),
	)
	return s, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

// Run performs the first pass after the mount delay and then one pass per
// interval until ctx is done. ForceRecovery requests are served in between.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	mount := time.NewTimer(s.mountDelay)
	defer mount.Stop()

	var tick <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-mount.C:
			s.safePass(ctx, false)
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			tick = ticker.C
		case <-tick:
			s.safePass(ctx, false)
		case <-s.force:
			s.safePass(ctx, true)
		}
	}
}

// ForceRecovery asks the running service for an immediate pass that ignores
// the recovery cooldown once. Requests made while one is pending collapse.
func (s *Service) ForceRecovery() {
	select {
	case s.force <- struct{}{}:
	default:
	}
}

// RecoverNow runs a forced pass synchronously.
func (s *Service) RecoverNow(ctx context.Context) Result {
	return s.pass(ctx, true)
}

func (s *Service) safePass(ctx context.Context, force bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("recovery pass panicked")
		}
	}()
	s.pass(ctx, force)
}

func (s *Service) pass(ctx context.Context, force bool) Result {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if force {
		s.cooldowns.Record(OpRecovery)
	} else if ok, reason := s.cooldowns.TryRun(OpRecovery); !ok {
		s.log.Debug().Str("reason", reason).Msg("recovery skipped")
		return Result{Skipped: reason}
	}
	s.passes.Add(1)

	snap, key := s.readSnapshot(ctx)
	if snap == nil {
		return Result{Skipped: "no snapshot"}
	}

	res := Result{Key: key, Found: len(snap.Edges)}
	valid, dropped := graph.FilterOrphans(graph.DedupByID(snap.Edges), s.nodeExists)
	valid = graph.NormalizeEdges(valid)
	res.Valid, res.Dropped = len(valid), dropped
	if dropped > 0 {
		s.log.Debug().Int("dropped", dropped).Str("key", key).Msg("snapshot edges reference missing nodes")
	}
	if len(valid) == 0 {
		return res
	}

	res.Restore = s.graph.RestoreEdges(valid)
	if res.Restore.Added > 0 {
		s.edgesRestored.Add(int64(res.Restore.Added))
		s.log.Info().
			Int("restored", res.Restore.Added).
			Bool("replaced", res.Restore.Replaced).
			Str("key", key).
			Msg("restored edges from snapshot")
	}

	sum, err := storage.EdgesChecksum(valid)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to checksum recovered edges")
		return res
	}
	if sum != snap.Checksum {
		res.Rewritten = s.write(ctx, valid)
	}
	return res
}

// readSnapshot returns the first decodable snapshot in read order.
func (s *Service) readSnapshot(ctx context.Context) (*storage.Snapshot, string) {
	for _, key := range ReadKeys(s.flowID) {
		if ctx.Err() != nil {
			return nil, ""
		}
		snap, err := storage.LoadSnapshot(ctx, s.store, key)
		switch {
		case err == nil:
			return snap, key
		case errors.Is(err, storage.ErrNotFound):
			continue
		default:
			s.log.Warn().Err(err).Str("key", key).Msg("skipping unreadable snapshot")
		}
	}
	return nil, ""
}

// Save writes the live edges to every write key. It does nothing when the
// live set is empty or a save ran within the save cooldown, and reports
// whether any key was written.
func (s *Service) Save(ctx context.Context) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	edges := s.graph.Edges()
	if len(edges) == 0 {
		return false
	}
	if ok, reason := s.cooldowns.TryRun(OpSave); !ok {
		s.log.Debug().Str("reason", reason).Msg("save skipped")
		return false
	}
	return s.write(ctx, graph.PrepareForBackend(edges))
}

func (s *Service) write(ctx context.Context, edges []*graph.Edge) bool {
	snap, err := storage.NewSnapshot(s.flowID, s.graph.Nodes(), edges, s.now())
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to build snapshot")
		s.writeFailures.Add(1)
		return false
	}

	wrote := false
	for _, key := range WriteKeys(s.flowID) {
		if err := storage.SaveSnapshot(ctx, s.store, key, snap); err != nil {
			s.writeFailures.Add(1)
			s.log.Warn().Err(err).Str("key", key).Msg("snapshot write dropped")
			continue
		}
		wrote = true
	}
	if wrote {
		s.saves.Add(1)
		s.log.Debug().Int("edges", len(edges)).Msg("snapshot saved")
	}
	return wrote
}

// ScheduleSave (re)starts the save debounce timer. When it fires inside the
// save cooldown it re-arms for the remaining window, so the last edit is
// always persisted.
func (s *Service) ScheduleSave() {
	s.armSave(s.saveDelay)
}

func (s *Service) armSave(d time.Duration) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.closed {
		return
	}
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveGen++
	gen := s.saveGen
	s.saveTimer = time.AfterFunc(d, func() { s.fireSave(gen) })
}

func (s *Service) fireSave(gen uint64) {
	s.saveMu.Lock()
	if s.closed || gen != s.saveGen {
		s.saveMu.Unlock()
		return
	}
	s.saveTimer = nil
	s.saveMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("save timer panicked")
		}
	}()
	if wait := s.cooldowns.TimeUntilAllowed(OpSave); wait > 0 {
		s.armSave(wait)
		return
	}
	s.Save(context.Background())
}

// SavePending reports whether a debounced save is armed.
func (s *Service) SavePending() bool {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.saveTimer != nil && !s.closed
}

// HandleEvent is a flow.Listener: structural edge changes schedule a save,
// drag geometry does not.
func (s *Service) HandleEvent(ev flow.Event) {
	if ev.Kind == flow.EventEdges && !ev.GeometryOnly {
		s.ScheduleSave()
	}
}

// Close cancels a pending save. Run is stopped through its context.
func (s *Service) Close() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.closed = true
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
}

// Cooldowns exposes the throttle table.
func (s *Service) Cooldowns() *CooldownTable {
	return s.cooldowns
}

// Stats returns activity counters.
func (s *Service) Stats() Stats {
	return Stats{
		Passes:        s.passes.Load(),
		EdgesRestored: s.edgesRestored.Load(),
		Saves:         s.saves.Load(),
		WriteFailures: s.writeFailures.Load(),
		Cooldowns:     s.cooldowns.Stats(),
	}
}
