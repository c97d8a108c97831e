package geolocate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matchwise/location-agent/pkg/store"
	"github.com/rs/zerolog"
)

// Default policy values. They apply whenever the corresponding Config field
// is zero.
const (
	// DefaultFreshnessWindow is the max age at which a cached reading is used
	// without re-querying the sensor.
	DefaultFreshnessWindow = 5 * time.Minute

	// DefaultSyncThresholdMeters is the minimum movement distance that
	// justifies a new backend write.
	DefaultSyncThresholdMeters = 200.0

	// DefaultSensorTimeout bounds a single position request.
	DefaultSensorTimeout = 8 * time.Second
)

// syncTimeout bounds the fire-and-forget backend write.
const syncTimeout = 10 * time.Second

// Snapshot is the engine's externally visible state: the best currently
// known coordinates, whether a mandatory sensor read is still in flight, and
// a non-fatal error string when the last read failed.
type Snapshot struct {
	Coordinates *Coordinates
	Loading     bool
	Err         string
}

// Syncer pushes a confirmed reading to the backend. Failures are swallowed
// by the engine; the cached value stays authoritative locally.
type Syncer interface {
	Sync(ctx context.Context, coords Coordinates) error
}

// Config holds the engine's policy knobs and the optional update callback.
type Config struct {
	FreshnessWindow     time.Duration
	SyncThresholdMeters float64
	SensorTimeout       time.Duration

	// OnUpdate is invoked after every snapshot change, outside the engine's
	// lock. It lets callers observe asynchronous transitions without polling.
	OnUpdate func(Snapshot)
}

// Engine owns the full lifecycle of a location reading: load the persisted
// cache, decide freshness, decide whether to trigger a live sensor read,
// decide whether to push an update to the backend, and expose the best
// currently known coordinates at every stage without blocking the caller.
type Engine struct {
	freshness     time.Duration
	syncThreshold float64
	sensorTimeout time.Duration
	onUpdate      func(Snapshot)

	store    store.Store
	provider Provider
	syncer   Syncer
	logger   zerolog.Logger

	now func() time.Time

	mu         sync.Mutex
	active     bool
	generation uint64
	snapshot   Snapshot
	ctx        context.Context
	cancel     context.CancelFunc

	// synced guarantees at most one backend write per activation; it resets
	// on Refresh and on re-activation. lastSynced is the last reading
	// actually delivered to the backend for this engine instance; nil means
	// never synced.
	synced     bool
	lastSynced *Coordinates
}

// NewEngine creates an Engine. provider may be nil when the device has no
// position source (every activation then surfaces the unsupported error);
// syncer may be nil to disable backend writes entirely.
func NewEngine(cfg Config, s store.Store, provider Provider, syncer Syncer, logger zerolog.Logger) *Engine {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.SyncThresholdMeters <= 0 {
		cfg.SyncThresholdMeters = DefaultSyncThresholdMeters
	}
	if cfg.SensorTimeout <= 0 {
		cfg.SensorTimeout = DefaultSensorTimeout
	}

	return &Engine{
		freshness:     cfg.FreshnessWindow,
		syncThreshold: cfg.SyncThresholdMeters,
		sensorTimeout: cfg.SensorTimeout,
		onUpdate:      cfg.OnUpdate,
		store:         s,
		provider:      provider,
		syncer:        syncer,
		logger:        logger,
		now:           time.Now,
	}
}

// Activate runs the decision procedure once. With skip set the engine stays
// inert (no sensor request, no network traffic) until it is deactivated and
// activated again; callers use it to hold the engine back until a
// precondition such as an authenticated session is met.
func (e *Engine) Activate(skip bool) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return errors.New("location engine is already active")
	}
	e.active = true
	e.generation++
	gen := e.generation
	e.synced = false
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if skip {
		e.snapshot = Snapshot{}
		e.mu.Unlock()
		e.notify()
		return nil
	}

	if e.provider == nil {
		e.snapshot = Snapshot{Err: ErrUnsupported.Error()}
		e.mu.Unlock()
		e.notify()
		return nil
	}

	reading, ok := loadCachedReading(e.store)
	switch {
	case ok && e.now().Sub(reading.CapturedAt) < e.freshness:
		// Fresh cache: expose it immediately and sync best-effort. No sensor
		// request, so no permission prompt on this path.
		coords := reading.Coordinates
		e.snapshot = Snapshot{Coordinates: &coords}
		e.mu.Unlock()
		e.notify()
		go e.sync(gen, coords)
	case ok:
		// Stale cache: show it right away to avoid a blank flash, and let a
		// concurrent live read supersede it.
		coords := reading.Coordinates
		e.snapshot = Snapshot{Coordinates: &coords}
		e.mu.Unlock()
		e.notify()
		go e.requestPosition(gen)
	default:
		// No cache at all: a live read is mandatory.
		e.snapshot = Snapshot{Loading: true}
		e.mu.Unlock()
		e.notify()
		go e.requestPosition(gen)
	}

	return nil
}

// Refresh forces a new sensor read regardless of cache freshness and clears
// the one-shot sync flag so a materially different position can propagate
// again. It is a no-op while the engine is inactive.
func (e *Engine) Refresh() {
	e.mu.Lock()
	if !e.active || e.provider == nil {
		e.mu.Unlock()
		return
	}
	e.synced = false
	e.generation++
	gen := e.generation
	// Keep showing the last known value while the read is in flight.
	if e.snapshot.Coordinates == nil {
		e.snapshot.Loading = true
	}
	e.mu.Unlock()
	e.notify()

	go e.requestPosition(gen)
}

// Deactivate makes the engine inert. Any in-flight sensor or sync result is
// discarded when it arrives.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.generation++
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close deactivates the engine and releases the position source.
func (e *Engine) Close() error {
	e.Deactivate()
	if e.provider != nil {
		return e.provider.Close()
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copySnapshot(e.snapshot)
}

// requestPosition performs one live sensor read and folds the outcome back
// into the snapshot. gen pins the result to the activation (or refresh) that
// requested it; a stale generation means the engine moved on and the result
// is dropped.
func (e *Engine) requestPosition(gen uint64) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, e.sensorTimeout)
	defer cancel()

	coords, err := e.provider.GetPosition(reqCtx, PositionOptions{
		HighAccuracy: false,
		Timeout:      e.sensorTimeout,
		MaximumAge:   e.freshness,
	})

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}

	if err != nil {
		reason := reasonString(err)
		if reading, ok := loadCachedReading(e.store); ok {
			// Degraded-but-present beats nothing: fall back to the cached
			// value even when it is stale.
			fallback := reading.Coordinates
			e.snapshot = Snapshot{Coordinates: &fallback, Err: reason}
		} else {
			e.snapshot = Snapshot{Err: reason}
		}
		e.mu.Unlock()

		e.logger.Warn().Err(err).Msg("Position request failed")
		e.notify()
		return
	}

	if saveErr := saveCachedReading(e.store, coords, e.now()); saveErr != nil {
		e.logger.Warn().Err(saveErr).Msg("Failed to persist location reading")
	}

	confirmed := coords
	e.snapshot = Snapshot{Coordinates: &confirmed}
	e.mu.Unlock()
	e.notify()

	e.sync(gen, coords)
}

// sync pushes coords to the backend unless this activation already wrote
// one, or the movement since the last delivered reading is below the sync
// threshold. Skipping on distance leaves the flag unset so a later, bigger
// move within the same activation can still sync.
func (e *Engine) sync(gen uint64, coords Coordinates) {
	e.mu.Lock()
	if gen != e.generation || e.synced || e.syncer == nil {
		e.mu.Unlock()
		return
	}
	if e.lastSynced != nil {
		if d := Haversine(*e.lastSynced, coords); d < e.syncThreshold {
			e.mu.Unlock()
			e.logger.Debug().
				Float64("distance_m", d).
				Msg("Movement below sync threshold, skipping backend update")
			return
		}
	}
	e.synced = true
	ctx := e.ctx
	e.mu.Unlock()

	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	if err := e.syncer.Sync(syncCtx, coords); err != nil {
		// Best-effort: the locally cached value stays authoritative and the
		// failure is never surfaced to the caller.
		e.logger.Warn().Err(err).Msg("Failed to push location to backend")
		return
	}

	e.mu.Lock()
	delivered := coords
	e.lastSynced = &delivered
	e.mu.Unlock()

	e.logger.Info().
		Float64("latitude", coords.Latitude).
		Float64("longitude", coords.Longitude).
		Msg("Location pushed to backend")
}

func (e *Engine) notify() {
	if e.onUpdate == nil {
		return
	}
	e.mu.Lock()
	snap := copySnapshot(e.snapshot)
	e.mu.Unlock()
	e.onUpdate(snap)
}

func copySnapshot(s Snapshot) Snapshot {
	if s.Coordinates != nil {
		coords := *s.Coordinates
		s.Coordinates = &coords
	}
	return s
}
