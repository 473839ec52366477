package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/instrument-provider/internal/currency"
	"github.com/Checker-Finance/instrument-provider/internal/jobs"
	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

// --- mock loader ---

type mockLoader struct {
	loadAllCalls atomic.Int32
	loadIDsCalls atomic.Int32
	loadCalls    atomic.Int32

	release chan struct{} // when set, LoadAll blocks until closed or ctx is done
	started chan struct{} // closed on the first LoadAll call
	once    sync.Once
	err     error
	idsSeen []model.InstrumentID
	active  atomic.Int32
	overlap atomic.Bool
}

func (m *mockLoader) enter() func() {
	if m.active.Add(1) > 1 {
		m.overlap.Store(true)
	}
	return func() { m.active.Add(-1) }
}

func (m *mockLoader) LoadAll(ctx context.Context, sink Sink, filters Filters) error {
	defer m.enter()()
	m.loadAllCalls.Add(1)
	if m.started != nil {
		m.once.Do(func() { close(m.started) })
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.err != nil {
		return m.err
	}
	if err := sink.AddBulk([]model.Instrument{instrument("BTCUSDT", "BINANCE"), instrument("ETHUSDT", "BINANCE")}); err != nil {
		return err
	}
	return sink.AddCurrency(model.Currency{Code: "USDT", Precision: 8, Type: model.CurrencyCrypto})
}

func (m *mockLoader) LoadIDs(ctx context.Context, sink Sink, ids []model.InstrumentID, filters Filters) error {
	defer m.enter()()
	m.loadIDsCalls.Add(1)
	m.idsSeen = ids
	for _, id := range ids {
		if err := sink.Add(model.Instrument{ID: id}); err != nil {
			return err
		}
	}
	return m.err
}

func (m *mockLoader) Load(ctx context.Context, sink Sink, id model.InstrumentID, filters Filters) error {
	defer m.enter()()
	m.loadCalls.Add(1)
	return sink.Add(model.Instrument{ID: id})
}

// onlyAll supports LoadAll and nothing else.
type onlyAll struct {
	UnimplementedLoader
}

func (onlyAll) LoadAll(ctx context.Context, sink Sink, filters Filters) error {
	return sink.Add(instrument("BTCUSDT", "BINANCE"))
}

func newProvider(t *testing.T, loader Loader, cfg Config, opts ...Option) *Provider {
	t.Helper()
	if cfg.Venue == "" {
		cfg.Venue = "BINANCE"
	}
	p, err := New(zap.NewNop(), loader, currency.NewRegistry(), cfg, opts...)
	require.NoError(t, err)
	return p
}

// --- construction ---

func TestNew_Validation(t *testing.T) {
	reg := currency.NewRegistry()
	_, err := New(nil, nil, reg, Config{Venue: "X"})
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))

	_, err = New(nil, &mockLoader{}, nil, Config{Venue: "X"})
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))

	_, err = New(nil, &mockLoader{}, reg, Config{})
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))

	p, err := New(nil, &mockLoader{}, reg, Config{Venue: "X", LoadIDs: []string{"A.X", "A.X", "B.X"}})
	require.NoError(t, err)
	assert.Equal(t, StateUnloaded, p.State())
	assert.Equal(t, 0, p.Count())
	assert.Equal(t, []string{"A.X", "B.X"}, p.loadIDsOnStart)
	assert.Equal(t, DefaultLoadTimeout, p.loadTimeout)
}

// --- Initialize ---

func TestInitialize_LoadAll(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{LoadAll: true})

	require.NoError(t, p.Initialize(context.Background()))

	assert.Equal(t, StateLoaded, p.State())
	assert.Equal(t, 2, p.Count())
	btc := model.NewInstrumentID("BTCUSDT", "BINANCE")
	got, ok := p.Find(btc)
	require.True(t, ok)
	assert.Equal(t, btc, got.ID)

	ids := []model.InstrumentID{}
	for _, inst := range p.ListAll() {
		ids = append(ids, inst.ID)
	}
	assert.ElementsMatch(t, []model.InstrumentID{btc, model.NewInstrumentID("ETHUSDT", "BINANCE")}, ids)
}

func TestInitialize_TwiceLoadsOnce(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{LoadAll: true})

	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.Initialize(context.Background()))

	assert.EqualValues(t, 1, loader.loadAllCalls.Load())
}

func TestInitialize_ConcurrentCallersShareOneLoad(t *testing.T) {
	loader := &mockLoader{release: make(chan struct{}), started: make(chan struct{})}
	p := newProvider(t, loader, Config{LoadAll: true})

	const callers = 25
	errs := make(chan error, callers)
	counts := make(chan int, callers)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- p.Initialize(context.Background())
		counts <- p.Count()
	}()
	<-loader.started
	assert.Equal(t, StateLoading, p.State())
	assert.True(t, p.IsLoading())
	assert.False(t, p.IsLoaded())

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Initialize(context.Background())
			counts <- p.Count()
		}()
	}

	close(loader.release)
	wg.Wait()
	close(errs)
	close(counts)

	for err := range errs {
		assert.NoError(t, err)
	}
	for n := range counts {
		assert.Equal(t, 2, n, "every caller observes the populated cache")
	}
	assert.EqualValues(t, 1, loader.loadAllCalls.Load())
	assert.Equal(t, StateLoaded, p.State())
}

func TestInitialize_LoadIDs(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{Venue: "XNAS", LoadIDs: []string{"AAPL.XNAS", "MSFT.XNAS"}})

	require.NoError(t, p.Initialize(context.Background()))

	assert.EqualValues(t, 0, loader.loadAllCalls.Load())
	assert.EqualValues(t, 1, loader.loadIDsCalls.Load())
	assert.ElementsMatch(t, []model.InstrumentID{
		model.NewInstrumentID("AAPL", "XNAS"),
		model.NewInstrumentID("MSFT", "XNAS"),
	}, loader.idsSeen)
	assert.Equal(t, 2, p.Count())
}

func TestInitialize_LoadAllTakesPrecedence(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{LoadAll: true, LoadIDs: []string{"BTCUSDT.BINANCE"}})

	require.NoError(t, p.Initialize(context.Background()))
	assert.EqualValues(t, 1, loader.loadAllCalls.Load())
	assert.EqualValues(t, 0, loader.loadIDsCalls.Load())
}

func TestInitialize_NothingConfigured(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{})

	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, StateLoaded, p.State())
	assert.Equal(t, 0, p.Count())
	assert.EqualValues(t, 0, loader.loadAllCalls.Load()+loader.loadIDsCalls.Load())
}

func TestInitialize_MismatchedVenueFailsBeforeLoading(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{Venue: "XNAS", LoadIDs: []string{"AAPL.XNYS"}})

	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	assert.EqualValues(t, 0, loader.loadIDsCalls.Load())
	assert.Equal(t, 0, p.Count())
	assert.Equal(t, StateUnloaded, p.State())
}

func TestInitialize_MalformedConfiguredID(t *testing.T) {
	p := newProvider(t, &mockLoader{}, Config{Venue: "XNAS", LoadIDs: []string{"AAPL"}})
	err := p.Initialize(context.Background())
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
}

// A failed attempt leaves the provider Unloaded so a later call retries.
func TestInitialize_FailureAllowsRetry(t *testing.T) {
	boom := errors.New("venue unavailable")
	loader := &mockLoader{err: boom}
	p := newProvider(t, loader, Config{LoadAll: true})

	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateUnloaded, p.State())

	loader.err = nil
	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, StateLoaded, p.State())
	assert.EqualValues(t, 2, loader.loadAllCalls.Load())
}

func TestInitialize_ConcurrentCallersShareFailure(t *testing.T) {
	boom := errors.New("venue unavailable")
	loader := &mockLoader{err: boom, release: make(chan struct{}), started: make(chan struct{})}
	p := newProvider(t, loader, Config{LoadAll: true})

	first := make(chan error, 1)
	go func() { first <- p.Initialize(context.Background()) }()
	<-loader.started

	second := make(chan error, 1)
	go func() { second <- p.Initialize(context.Background()) }()
	// give the second caller time to join the flight
	time.Sleep(20 * time.Millisecond)
	close(loader.release)

	assert.ErrorIs(t, <-first, boom)
	assert.ErrorIs(t, <-second, boom)
	assert.Equal(t, StateUnloaded, p.State())
}

func TestInitialize_WaiterCancellationDoesNotStrandLoading(t *testing.T) {
	loader := &mockLoader{release: make(chan struct{}), started: make(chan struct{})}
	p := newProvider(t, loader, Config{LoadAll: true})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- p.Initialize(ctx) }()
	<-loader.started

	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)
	assert.Equal(t, StateLoading, p.State(), "load keeps running for other callers")

	close(loader.release)
	require.Eventually(t, p.IsLoaded, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, p.Count())
}

func TestInitialize_LoadTimeoutReleasesLoading(t *testing.T) {
	loader := &mockLoader{release: make(chan struct{})} // never released
	p := newProvider(t, loader, Config{LoadAll: true, LoadTimeout: 20 * time.Millisecond})

	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateUnloaded, p.State())
}

// --- explicit loads ---

func TestLoadAllAsync_BypassesLoadedGuard(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{LoadAll: true})

	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.LoadAllAsync(context.Background(), nil))

	assert.EqualValues(t, 2, loader.loadAllCalls.Load())
	assert.Equal(t, StateLoaded, p.State())
}

func TestLoadIDsAsync_Validation(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{Venue: "XNAS"})

	err := p.LoadIDsAsync(context.Background(), nil, nil)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))

	err = p.LoadIDsAsync(context.Background(), []model.InstrumentID{
		model.NewInstrumentID("AAPL", "XNAS"),
		model.NewInstrumentID("AAPL", "XNYS"),
	}, nil)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))

	err = p.LoadIDsAsync(context.Background(), []model.InstrumentID{{Venue: "XNAS"}}, nil)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))

	assert.EqualValues(t, 0, loader.loadIDsCalls.Load())
	assert.Equal(t, 0, p.Count())
}

func TestLoadAsync(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{Venue: "XNAS"})

	aapl := model.NewInstrumentID("AAPL", "XNAS")
	require.NoError(t, p.LoadAsync(context.Background(), aapl, nil))
	_, ok := p.Find(aapl)
	assert.True(t, ok)

	err := p.LoadAsync(context.Background(), model.NewInstrumentID("AAPL", "XNYS"), nil)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	assert.EqualValues(t, 1, loader.loadCalls.Load())
}

func TestUnimplementedHooks(t *testing.T) {
	p := newProvider(t, onlyAll{}, Config{})

	require.NoError(t, p.LoadAllAsync(context.Background(), nil))

	err := p.LoadAsync(context.Background(), model.NewInstrumentID("BTCUSDT", "BINANCE"), nil)
	assert.True(t, errors.Is(err, model.ErrNotImplemented))

	err = p.LoadIDsAsync(context.Background(), []model.InstrumentID{model.NewInstrumentID("BTCUSDT", "BINANCE")}, nil)
	assert.True(t, errors.Is(err, model.ErrNotImplemented))
}

func TestHooksNeverOverlap(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{LoadAll: true})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = p.LoadAllAsync(context.Background(), nil) }()
		go func() {
			defer wg.Done()
			_ = p.LoadAsync(context.Background(), model.NewInstrumentID("SOLUSDT", "BINANCE"), nil)
		}()
		go func() { defer wg.Done(); _ = p.Initialize(context.Background()) }()
	}
	wg.Wait()

	assert.False(t, loader.overlap.Load())
}

func TestRunHook_HonorsContextWhileWaiting(t *testing.T) {
	loader := &mockLoader{release: make(chan struct{}), started: make(chan struct{})}
	p := newProvider(t, loader, Config{})

	go func() { _ = p.LoadAllAsync(context.Background(), nil) }()
	<-loader.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.LoadAsync(ctx, model.NewInstrumentID("SOLUSDT", "BINANCE"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 0, loader.loadCalls.Load())

	close(loader.release)
}

// --- synchronous adapters ---

func TestLoadAll_WithoutSchedulerRunsInline(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{})

	res := p.LoadAll(context.Background(), nil)
	assert.False(t, res.Pending())
	require.NoError(t, res.Err())
	assert.Equal(t, 2, p.Count())
}

func TestLoadAll_InlineSurfacesError(t *testing.T) {
	boom := errors.New("venue down")
	p := newProvider(t, &mockLoader{err: boom}, Config{})

	res := p.LoadAll(context.Background(), nil)
	assert.False(t, res.Pending())
	assert.ErrorIs(t, res.Err(), boom)
}

func TestLoadAll_WithRunningSchedulerReturnsImmediately(t *testing.T) {
	runner := jobs.NewRunner(zap.NewNop(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)
	require.Eventually(t, runner.Running, time.Second, 5*time.Millisecond)

	loader := &mockLoader{release: make(chan struct{}), started: make(chan struct{})}
	p := newProvider(t, loader, Config{}, WithScheduler(runner))

	res := p.LoadAll(context.Background(), nil)
	assert.True(t, res.Pending(), "fire-and-forget while the scheduler runs")

	<-loader.started
	assert.Equal(t, 0, p.Count())
	close(loader.release)

	require.NoError(t, res.Wait(context.Background()))
	assert.Equal(t, 2, p.Count())
}

func TestLoadAll_StoppedSchedulerRunsInline(t *testing.T) {
	runner := jobs.NewRunner(zap.NewNop(), 8) // never started
	p := newProvider(t, &mockLoader{}, Config{}, WithScheduler(runner))

	res := p.LoadAll(context.Background(), nil)
	assert.False(t, res.Pending())
	require.NoError(t, res.Err())
	assert.Equal(t, 2, p.Count())
}

// stoppingScheduler reports running but has stopped by the time work arrives.
type stoppingScheduler struct{ submits atomic.Int32 }

func (s *stoppingScheduler) Running() bool { return true }

func (s *stoppingScheduler) Submit(string, func(context.Context) error) *jobs.Result {
	s.submits.Add(1)
	return jobs.Completed(jobs.ErrRunnerStopped)
}

func TestLoadAll_SchedulerStoppingDuringSubmitRunsInline(t *testing.T) {
	sched := &stoppingScheduler{}
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{}, WithScheduler(sched))

	res := p.LoadAll(context.Background(), nil)
	assert.False(t, res.Pending())
	require.NoError(t, res.Err())
	assert.EqualValues(t, 1, sched.submits.Load())
	assert.EqualValues(t, 1, loader.loadAllCalls.Load())
	assert.Equal(t, 2, p.Count())
}

func TestLoadIDs_AsyncFailureIsObservable(t *testing.T) {
	runner := jobs.NewRunner(zap.NewNop(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)
	require.Eventually(t, runner.Running, time.Second, 5*time.Millisecond)

	boom := errors.New("venue down")
	p := newProvider(t, &mockLoader{err: boom}, Config{}, WithScheduler(runner))

	res := p.LoadIDs(context.Background(), []model.InstrumentID{model.NewInstrumentID("BTCUSDT", "BINANCE")}, nil)
	assert.ErrorIs(t, res.Wait(context.Background()), boom)
}

func TestLoadIDsAndLoad_ValidateBeforeScheduling(t *testing.T) {
	loader := &mockLoader{}
	p := newProvider(t, loader, Config{})

	res := p.LoadIDs(context.Background(), nil, nil)
	assert.True(t, errors.Is(res.Err(), model.ErrInvalidArgument))

	res = p.Load(context.Background(), model.NewInstrumentID("AAPL", "XNAS"), nil)
	assert.True(t, errors.Is(res.Err(), model.ErrInvalidArgument))

	res = p.Load(context.Background(), model.NewInstrumentID("BTCUSDT", "BINANCE"), nil)
	require.NoError(t, res.Err())
	assert.EqualValues(t, 1, loader.loadCalls.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unloaded", StateUnloaded.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "loaded", StateLoaded.String())
}
