package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-watch/internal/domain"
)

// scriptedSource returns one scripted response per call, then empty batches.
type scriptedSource struct {
	mu        sync.Mutex
	responses []response
	calls     int
	reauths   int
	reauthErr error
}

type response struct {
	batch []domain.RawActivity
	err   error
}

func (s *scriptedSource) FetchRecent(ctx context.Context, _ string) ([]domain.RawActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.responses) == 0 {
		return nil, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r.batch, r.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type reauthSource struct{ *scriptedSource }

func (s reauthSource) Reauthenticate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reauths++
	return s.reauthErr
}

// passthrough emits one trade per raw activity.
type passthrough struct{}

func (passthrough) Process(_ context.Context, batch []domain.RawActivity) []domain.Trade {
	out := make([]domain.Trade, 0, len(batch))
	for _, r := range batch {
		out = append(out, domain.Trade{TxID: r.TxID})
	}
	return out
}

type panicProcessor struct{}

func (panicProcessor) Process(context.Context, []domain.RawActivity) []domain.Trade {
	panic("boom")
}

type recordingNotifier struct {
	mu      sync.Mutex
	got     []string
	failOn  map[string]bool
	panicOn map[string]bool
}

func (n *recordingNotifier) Deliver(_ context.Context, t domain.Trade) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.panicOn[t.TxID] {
		panic("notifier exploded")
	}
	if n.failOn[t.TxID] {
		return fmt.Errorf("%w: chat unreachable", domain.ErrNotify)
	}
	n.got = append(n.got, t.TxID)
	return nil
}

func (n *recordingNotifier) Delivered() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.got...)
}

type countingRecorder struct {
	mu          sync.Mutex
	cycles      int
	fetchErrors int
	authErrors  int
	notifyErrs  int
	successes   int
}

func (r *countingRecorder) ObserveCycle(string, int, int, float64) {
	r.mu.Lock()
	r.cycles++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveFetchError(_ string, auth bool) {
	r.mu.Lock()
	r.fetchErrors++
	if auth {
		r.authErrors++
	}
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveNotifyError(string) {
	r.mu.Lock()
	r.notifyErrs++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveSuccess(string) {
	r.mu.Lock()
	r.successes++
	r.mu.Unlock()
}

func batch(ids ...string) []domain.RawActivity {
	out := make([]domain.RawActivity, len(ids))
	for i, id := range ids {
		out[i] = domain.RawActivity{TxID: id}
	}
	return out
}

func newLoop(t *testing.T, src DataSource, proc Processor, n Notifier, rec Recorder) *Loop {
	t.Helper()
	logger, _ := test.NewNullLogger()
	l, err := New(Options{
		Target:    "mint",
		Source:    src,
		Processor: proc,
		Notifier:  n,
		Recorder:  rec,
		Interval:  5 * time.Millisecond,
		Logger:    logger,
	})
	require.NoError(t, err)
	return l
}

// runUntil runs the loop in the background and stops it once cond holds.
func runUntil(t *testing.T, l *Loop, cond func() bool) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
	l.Stop()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
		return nil
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Source: &scriptedSource{}, Processor: passthrough{}})
	assert.Error(t, err)

	l, err := New(Options{Source: &scriptedSource{}, Processor: passthrough{}, Notifier: &recordingNotifier{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, l.interval)
	assert.Equal(t, DefaultMaxAuthFailures, l.maxAuthFailures)
}

func TestRun_DeliversInOrder(t *testing.T) {
	src := &scriptedSource{responses: []response{
		{batch: batch("a", "b")},
		{batch: batch("c")},
	}}
	n := &recordingNotifier{}
	rec := &countingRecorder{}
	l := newLoop(t, src, passthrough{}, n, rec)

	err := runUntil(t, l, func() bool { return len(n.Delivered()) == 3 })
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, n.Delivered())
	stats := l.Stats()
	assert.GreaterOrEqual(t, stats.Cycles, int64(2))
	assert.Equal(t, int64(3), stats.TradesEmitted)
	assert.False(t, stats.LastSuccessAt.IsZero())
	assert.False(t, l.Running())
}

func TestRun_FetchErrorIsEmptyBatch(t *testing.T) {
	src := &scriptedSource{responses: []response{
		{err: fmt.Errorf("%w: HTTP 503", domain.ErrFetch)},
		{batch: batch("a")},
	}}
	n := &recordingNotifier{}
	rec := &countingRecorder{}
	l := newLoop(t, src, passthrough{}, n, rec)

	err := runUntil(t, l, func() bool { return len(n.Delivered()) == 1 })
	require.NoError(t, err)

	assert.Equal(t, int64(1), l.Stats().FetchErrors)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.fetchErrors)
	assert.Equal(t, 0, rec.authErrors)
}

func TestRun_NotifierFailureIsolated(t *testing.T) {
	src := &scriptedSource{responses: []response{
		{batch: batch("a", "fail", "panic", "b")},
		{batch: batch("c")},
	}}
	n := &recordingNotifier{failOn: map[string]bool{"fail": true}, panicOn: map[string]bool{"panic": true}}
	rec := &countingRecorder{}
	l := newLoop(t, src, passthrough{}, n, rec)

	err := runUntil(t, l, func() bool { return len(n.Delivered()) == 3 })
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, n.Delivered())
	assert.Equal(t, int64(2), l.Stats().NotifyErrors)
}

func TestRun_ProcessorPanicSkipsBatch(t *testing.T) {
	src := &scriptedSource{responses: []response{{batch: batch("a")}}}
	l := newLoop(t, src, panicProcessor{}, &recordingNotifier{}, nil)

	err := runUntil(t, l, func() bool { return src.Calls() >= 3 })
	assert.NoError(t, err)
}

func TestRun_AuthFailuresWithoutReauthAreFatal(t *testing.T) {
	authErr := fmt.Errorf("%w: HTTP 401", domain.ErrAuth)
	src := &scriptedSource{responses: []response{{err: authErr}, {err: authErr}, {err: authErr}}}
	l := newLoop(t, src, passthrough{}, &recordingNotifier{}, nil)

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, 3, src.Calls())
}

func TestRun_ReauthenticatesAfterRepeatedAuthFailures(t *testing.T) {
	authErr := fmt.Errorf("%w: HTTP 401", domain.ErrAuth)
	inner := &scriptedSource{responses: []response{
		{err: authErr}, {err: authErr}, {err: authErr},
		{batch: batch("a")},
	}}
	n := &recordingNotifier{}
	l := newLoop(t, reauthSource{inner}, passthrough{}, n, nil)

	err := runUntil(t, l, func() bool { return len(n.Delivered()) == 1 })
	require.NoError(t, err)

	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.Equal(t, 1, inner.reauths)
}

func TestRun_ReauthFailureStopsLoop(t *testing.T) {
	authErr := fmt.Errorf("%w: HTTP 401", domain.ErrAuth)
	inner := &scriptedSource{
		responses: []response{{err: authErr}, {err: authErr}, {err: authErr}},
		reauthErr: fmt.Errorf("%w: token endpoint rejected credentials", domain.ErrAuth),
	}
	l := newLoop(t, reauthSource{inner}, passthrough{}, &recordingNotifier{}, nil)

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestRun_FetchErrorResetsAuthCount(t *testing.T) {
	authErr := fmt.Errorf("%w: HTTP 401", domain.ErrAuth)
	fetchErr := fmt.Errorf("%w: HTTP 502", domain.ErrFetch)
	src := &scriptedSource{responses: []response{
		{err: authErr}, {err: authErr}, {err: fetchErr}, {err: authErr}, {err: authErr},
	}}
	l := newLoop(t, src, passthrough{}, &recordingNotifier{}, nil)

	err := runUntil(t, l, func() bool { return src.Calls() >= 7 })
	assert.NoError(t, err)
	assert.Equal(t, int64(5), l.Stats().FetchErrors)
}

func TestRun_ContextCancel(t *testing.T) {
	src := &scriptedSource{}
	l := newLoop(t, src, passthrough{}, &recordingNotifier{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return src.Calls() >= 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on cancel")
	}
}

func TestRun_StopBeforeStartFetchesNothing(t *testing.T) {
	src := &scriptedSource{}
	l := newLoop(t, src, passthrough{}, &recordingNotifier{}, nil)

	l.Stop()
	l.Stop()
	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, 0, src.Calls())
}

func TestRun_AlreadyRunning(t *testing.T) {
	src := &scriptedSource{}
	l := newLoop(t, src, passthrough{}, &recordingNotifier{}, nil)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	require.Eventually(t, l.Running, time.Second, time.Millisecond)

	assert.Error(t, l.Run(context.Background()))

	l.Stop()
	assert.NoError(t, <-done)
}

func TestRun_RecorderObservesCycles(t *testing.T) {
	src := &scriptedSource{responses: []response{{batch: batch("a")}}}
	n := &recordingNotifier{}
	rec := &countingRecorder{}
	l := newLoop(t, src, passthrough{}, n, rec)

	err := runUntil(t, l, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.cycles >= 2
	})
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.GreaterOrEqual(t, rec.successes, 2)
	assert.Zero(t, rec.notifyErrs)
}
