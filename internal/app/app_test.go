package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-watch/internal/config"
	"solana-swap-watch/internal/domain"
)

const (
	mint = "9gyfbPVwwZx4y1hotNSLcqXCQNpNqqz6ZRvo8yTLpump"
	wsol = "So11111111111111111111111111111111111111112"
)

func intPtr(v int) *int { return &v }

// staticSource returns the same batch on every poll.
type staticSource struct {
	batch []domain.RawActivity
}

func (s staticSource) FetchRecent(context.Context, string) ([]domain.RawActivity, error) {
	return s.batch, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p.Text)
	return &models.Message{}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func swapBatch() []domain.RawActivity {
	return []domain.RawActivity{
		{
			ActivityType: domain.ActivityAggTokenSwap,
			TxID:         "big",
			BlockTime:    1717000000,
			FromAddress:  "Wallet1",
			Routers: &domain.RouterLegs{
				Token1: mint, Token1Decimals: intPtr(6), Amount1: "5000000000",
				Token2: wsol, Token2Decimals: intPtr(9), Amount2: "1000000000",
			},
			Platform: []string{"jupiter"},
		},
		{
			ActivityType: domain.ActivityAggTokenSwap,
			TxID:         "small",
			BlockTime:    1717000001,
			Routers: &domain.RouterLegs{
				Token1: mint, Token1Decimals: intPtr(6), Amount1: "4500000",
				Token2: wsol, Token2Decimals: intPtr(9), Amount2: "1",
			},
		},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Solscan.APIKey = "key"
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Metrics.Addr = ""
	cfg.Targets = []config.Target{{Mint: mint, Threshold: decimal.NewFromInt(4000)}}
	cfg.Notify.Store = config.StoreConfig{Enabled: true, Backend: config.StoreMemory}
	return cfg
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Targets = nil

	_, err := New(context.Background(), cfg, nil, WithRegistry(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targets")
}

func TestRun_EndToEnd(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sender := &fakeSender{}
	writer := &fakeWriter{}

	cfg := testConfig()
	cfg.Notify.Telegram = config.TelegramConfig{Enabled: true, BotToken: "token", ChatID: 7}
	cfg.Notify.Kafka = config.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "alerts"}

	a, err := New(context.Background(), cfg, logger,
		WithSource(staticSource{batch: swapBatch()}),
		WithRegistry(prometheus.NewRegistry()),
		WithTelegramSender(sender),
		WithKafkaWriter(writer),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		alerts, err := a.Alerts().ListRecent(context.Background(), mint, 10)
		return err == nil && len(alerts) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Let a few more cycles see the same batch.
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, a.Close())

	alerts, err := a.Alerts().ListRecent(context.Background(), mint, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "big", alerts[0].Trade.TxID)
	assert.True(t, alerts[0].Trade.Amount.Equal(decimal.NewFromInt(5000)))

	assert.Equal(t, 1, sender.count())
	writer.mu.Lock()
	assert.Len(t, writer.msgs, 1)
	assert.True(t, writer.closed)
	writer.mu.Unlock()
}

// slowWriter holds each write for delay unless ctx ends first.
type slowWriter struct {
	delay   time.Duration
	started chan struct{}
	once    sync.Once

	mu        sync.Mutex
	delivered int
	aborted   []error
}

func (w *slowWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.once.Do(func() { close(w.started) })
	select {
	case <-time.After(w.delay):
		w.mu.Lock()
		w.delivered += len(msgs)
		w.mu.Unlock()
		return nil
	case <-ctx.Done():
		w.mu.Lock()
		w.aborted = append(w.aborted, ctx.Err())
		w.mu.Unlock()
		return ctx.Err()
	}
}

func (w *slowWriter) Close() error { return nil }

func TestStop_FinishesInFlightDelivery(t *testing.T) {
	logger, _ := test.NewNullLogger()
	writer := &slowWriter{delay: 100 * time.Millisecond, started: make(chan struct{})}

	cfg := testConfig()
	cfg.Notify.Kafka = config.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "alerts"}

	a, err := New(context.Background(), cfg, logger,
		WithSource(staticSource{batch: swapBatch()}),
		WithRegistry(prometheus.NewRegistry()),
		WithKafkaWriter(writer),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case <-writer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never started")
	}
	a.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
	require.NoError(t, a.Close())

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Equal(t, 1, writer.delivered)
	assert.Empty(t, writer.aborted)

	alerts, err := a.Alerts().ListRecent(context.Background(), mint, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestStop_IdleLoops(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil,
		WithSource(staticSource{}),
		WithRegistry(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	time.Sleep(30 * time.Millisecond)
	a.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestRun_MetricsServerStopsAfterLoops(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"

	a, err := New(context.Background(), cfg, logger,
		WithSource(staticSource{}),
		WithRegistry(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	time.Sleep(30 * time.Millisecond)
	a.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestHandler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	a, err := New(context.Background(), testConfig(), logger,
		WithSource(staticSource{batch: swapBatch()}),
		WithRegistry(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	require.Eventually(t, func() bool {
		alerts, _ := a.Alerts().ListRecent(context.Background(), mint, 10)
		return len(alerts) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "swap_watch_poller_trades_emitted_total")
	assert.Contains(t, string(body), `reason="below_threshold"`)
}
