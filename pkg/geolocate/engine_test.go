package geolocate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matchwise/location-agent/pkg/store"
)

// MockProvider is a mock implementation of the Provider interface.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetPosition(ctx context.Context, opts PositionOptions) (Coordinates, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(Coordinates), args.Error(1)
}

func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockSyncer is a mock implementation of the Syncer interface.
type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) Sync(ctx context.Context, coords Coordinates) error {
	args := m.Called(ctx, coords)
	return args.Error(0)
}

var (
	basePoint = Coordinates{Latitude: 12.9716, Longitude: 77.5946}
	// ~100 m and ~300 m north of basePoint.
	nearPoint = Coordinates{Latitude: 12.9716 + 0.0009, Longitude: 77.5946}
	farPoint  = Coordinates{Latitude: 12.9716 + 0.0027, Longitude: 77.5946}
)

const eventuallyTimeout = 2 * time.Second

func seedCache(t *testing.T, s store.Store, coords Coordinates, age time.Duration) {
	t.Helper()
	require.NoError(t, saveCachedReading(s, coords, time.Now().Add(-age)))
}

func countingSync(syncer *MockSyncer, calls *atomic.Int32) *mock.Call {
	return syncer.On("Sync", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { calls.Add(1) }).
		Return(nil)
}

func countingPosition(provider *MockProvider, calls *atomic.Int32, coords Coordinates, err error) *mock.Call {
	return provider.On("GetPosition", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { calls.Add(1) }).
		Return(coords, err)
}

func TestEngine_SkipIsInert(t *testing.T) {
	provider := new(MockProvider)
	syncer := new(MockSyncer)
	e := NewEngine(Config{}, store.NewMemoryStore(), provider, syncer, zerolog.Nop())

	require.NoError(t, e.Activate(true))

	snap := e.Snapshot()
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Coordinates)
	assert.Empty(t, snap.Err)

	time.Sleep(50 * time.Millisecond)
	provider.AssertNotCalled(t, "GetPosition", mock.Anything, mock.Anything)
	syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestEngine_NilProviderIsUnsupported(t *testing.T) {
	syncer := new(MockSyncer)
	e := NewEngine(Config{}, store.NewMemoryStore(), nil, syncer, zerolog.Nop())

	require.NoError(t, e.Activate(false))

	snap := e.Snapshot()
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Coordinates)
	assert.Equal(t, ErrUnsupported.Error(), snap.Err)

	time.Sleep(50 * time.Millisecond)
	syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestEngine_FreshCacheSkipsSensor(t *testing.T) {
	s := store.NewMemoryStore()
	seedCache(t, s, basePoint, time.Minute)

	provider := new(MockProvider)
	syncer := new(MockSyncer)
	var syncCalls atomic.Int32
	countingSync(syncer, &syncCalls)

	e := NewEngine(Config{}, s, provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))

	// The cached value is exposed immediately, before any async work.
	snap := e.Snapshot()
	require.NotNil(t, snap.Coordinates)
	assert.Equal(t, basePoint, *snap.Coordinates)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Err)

	require.Eventually(t, func() bool { return syncCalls.Load() == 1 }, eventuallyTimeout, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	provider.AssertNotCalled(t, "GetPosition", mock.Anything, mock.Anything)
	syncer.AssertCalled(t, "Sync", mock.Anything, basePoint)
}

func TestEngine_StaleCacheShownThenSuperseded(t *testing.T) {
	s := store.NewMemoryStore()
	seedCache(t, s, basePoint, 10*time.Minute)

	provider := new(MockProvider)
	syncer := new(MockSyncer)
	var sensorCalls, syncCalls atomic.Int32
	countingPosition(provider, &sensorCalls, farPoint, nil)
	countingSync(syncer, &syncCalls)

	e := NewEngine(Config{}, s, provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))

	// Stale value is shown right away, no loading flash.
	snap := e.Snapshot()
	require.NotNil(t, snap.Coordinates)
	assert.Equal(t, basePoint, *snap.Coordinates)
	assert.False(t, snap.Loading)

	// The live reading supersedes it.
	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return snap.Coordinates != nil && *snap.Coordinates == farPoint
	}, eventuallyTimeout, 10*time.Millisecond)

	require.Eventually(t, func() bool { return syncCalls.Load() == 1 }, eventuallyTimeout, 10*time.Millisecond)
	assert.EqualValues(t, 1, sensorCalls.Load())
	syncer.AssertCalled(t, "Sync", mock.Anything, farPoint)

	// The live reading was persisted.
	reading, ok := loadCachedReading(s)
	require.True(t, ok)
	assert.Equal(t, farPoint, reading.Coordinates)
}

func TestEngine_NoCacheRequiresSensor(t *testing.T) {
	s := store.NewMemoryStore()

	provider := new(MockProvider)
	syncer := new(MockSyncer)
	var sensorCalls, syncCalls atomic.Int32
	countingPosition(provider, &sensorCalls, basePoint, nil)
	countingSync(syncer, &syncCalls)

	e := NewEngine(Config{}, s, provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))

	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return !snap.Loading && snap.Coordinates != nil && *snap.Coordinates == basePoint
	}, eventuallyTimeout, 10*time.Millisecond)

	// First sync ever always writes.
	require.Eventually(t, func() bool { return syncCalls.Load() == 1 }, eventuallyTimeout, 10*time.Millisecond)
	assert.EqualValues(t, 1, sensorCalls.Load())

	_, ok := loadCachedReading(s)
	assert.True(t, ok)
}

func TestEngine_NoCacheSensorFailure(t *testing.T) {
	provider := new(MockProvider)
	syncer := new(MockSyncer)
	var sensorCalls atomic.Int32
	countingPosition(provider, &sensorCalls, Coordinates{}, ErrPermissionDenied)

	e := NewEngine(Config{}, store.NewMemoryStore(), provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))

	assert.True(t, e.Snapshot().Loading)

	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return !snap.Loading && snap.Err != ""
	}, eventuallyTimeout, 10*time.Millisecond)

	snap := e.Snapshot()
	assert.Nil(t, snap.Coordinates)
	assert.Equal(t, ErrPermissionDenied.Error(), snap.Err)
	syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestEngine_StaleCacheSensorFailureFallsBack(t *testing.T) {
	s := store.NewMemoryStore()
	seedCache(t, s, basePoint, time.Hour)

	provider := new(MockProvider)
	syncer := new(MockSyncer)
	var sensorCalls atomic.Int32
	countingPosition(provider, &sensorCalls, Coordinates{}, ErrTimeout)

	e := NewEngine(Config{}, s, provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))

	require.Eventually(t, func() bool {
		return e.Snapshot().Err != ""
	}, eventuallyTimeout, 10*time.Millisecond)

	// Degraded-but-present: the stale value survives the failure.
	snap := e.Snapshot()
	require.NotNil(t, snap.Coordinates)
	assert.Equal(t, basePoint, *snap.Coordinates)
	assert.False(t, snap.Loading)
	assert.Equal(t, ErrTimeout.Error(), snap.Err)
	syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestEngine_MovementBelowThresholdSkipsSync(t *testing.T) {
	provider := new(MockProvider)
	syncer := new(MockSyncer)
	var sensorCalls, syncCalls atomic.Int32
	countingPosition(provider, &sensorCalls, basePoint, nil).Once()
	countingPosition(provider, &sensorCalls, nearPoint, nil)
	countingSync(syncer, &syncCalls)

	e := NewEngine(Config{}, store.NewMemoryStore(), provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))

	require.Eventually(t, func() bool { return syncCalls.Load() == 1 }, eventuallyTimeout, 10*time.Millisecond)

	// ~100 m of movement is not materially different; no second write.
	e.Refresh()
	require.Eventually(t, func() bool { return sensorCalls.Load() == 2 }, eventuallyTimeout, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, syncCalls.Load())
}

func TestEngine_MovementAboveThresholdSyncsAgain(t *testing.T) {
	provider := new(MockProvider)
	syncer := new(MockSyncer)
	var sensorCalls, syncCalls atomic.Int32
	countingPosition(provider, &sensorCalls, basePoint, nil).Once()
	countingPosition(provider, &sensorCalls, farPoint, nil)
	countingSync(syncer, &syncCalls)

	e := NewEngine(Config{}, store.NewMemoryStore(), provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))

	require.Eventually(t, func() bool { return syncCalls.Load() == 1 }, eventuallyTimeout, 10*time.Millisecond)

	e.Refresh()
	require.Eventually(t, func() bool { return syncCalls.Load() == 2 }, eventuallyTimeout, 10*time.Millisecond)
	syncer.AssertCalled(t, "Sync", mock.Anything, farPoint)
}

func TestEngine_RefreshForcesSensorRead(t *testing.T) {
	s := store.NewMemoryStore()
	seedCache(t, s, basePoint, time.Minute)

	provider := new(MockProvider)
	syncer := new(MockSyncer)
	var sensorCalls, syncCalls atomic.Int32
	countingPosition(provider, &sensorCalls, basePoint, nil)
	countingSync(syncer, &syncCalls)

	e := NewEngine(Config{}, s, provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))

	require.Eventually(t, func() bool { return syncCalls.Load() == 1 }, eventuallyTimeout, 10*time.Millisecond)
	assert.EqualValues(t, 0, sensorCalls.Load())

	// Refresh bypasses the freshness check entirely.
	e.Refresh()
	require.Eventually(t, func() bool { return sensorCalls.Load() == 1 }, eventuallyTimeout, 10*time.Millisecond)

	// The new reading landed on the same spot, so the reset sync flag alone
	// does not produce a second backend write.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, syncCalls.Load())
}

func TestEngine_SyncFailureIsSwallowed(t *testing.T) {
	provider := new(MockProvider)
	syncer := new(MockSyncer)
	var sensorCalls, syncCalls atomic.Int32
	countingPosition(provider, &sensorCalls, basePoint, nil)
	syncer.On("Sync", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { syncCalls.Add(1) }).
		Return(assert.AnError)

	e := NewEngine(Config{}, store.NewMemoryStore(), provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))

	require.Eventually(t, func() bool { return syncCalls.Load() == 1 }, eventuallyTimeout, 10*time.Millisecond)

	// The caller never sees the sync failure.
	snap := e.Snapshot()
	require.NotNil(t, snap.Coordinates)
	assert.Empty(t, snap.Err)

	// And it is not retried within the same activation.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, syncCalls.Load())
}

func TestEngine_LateSensorResultDiscarded(t *testing.T) {
	s := store.NewMemoryStore()
	release := make(chan struct{})

	provider := new(MockProvider)
	syncer := new(MockSyncer)
	provider.On("GetPosition", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(basePoint, nil)

	e := NewEngine(Config{}, s, provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))

	e.Deactivate()
	close(release)
	time.Sleep(100 * time.Millisecond)

	// The late result must not surface or persist.
	snap := e.Snapshot()
	assert.Nil(t, snap.Coordinates)
	_, ok := loadCachedReading(s)
	assert.False(t, ok)
	syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestEngine_ReactivationAllowsNewSync(t *testing.T) {
	s := store.NewMemoryStore()

	provider := new(MockProvider)
	syncer := new(MockSyncer)
	var sensorCalls, syncCalls atomic.Int32
	countingPosition(provider, &sensorCalls, basePoint, nil)
	countingSync(syncer, &syncCalls)
	provider.On("Close").Return(nil)

	e := NewEngine(Config{}, s, provider, syncer, zerolog.Nop())
	require.NoError(t, e.Activate(false))
	require.Error(t, e.Activate(false)) // double activation is rejected

	require.Eventually(t, func() bool { return syncCalls.Load() == 1 }, eventuallyTimeout, 10*time.Millisecond)

	e.Deactivate()
	require.NoError(t, e.Activate(false))

	// Fresh cache now, same position: the flag reset by re-activation does
	// not matter because the movement gate still suppresses the write.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, syncCalls.Load())
}
