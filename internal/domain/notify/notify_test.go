package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kaledukampelis/internal/domain/guard"
	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

// --- Mock implementations ---

type mockClaimer struct {
	mu       sync.Mutex
	claimed  map[string]time.Duration
	released []string
}

func newMockClaimer() *mockClaimer {
	return &mockClaimer{claimed: make(map[string]time.Duration)}
}

func (m *mockClaimer) Claim(_ context.Context, key string, ttl time.Duration) guard.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claimed[key]; ok {
		return guard.Duplicate
	}
	m.claimed[key] = ttl
	return guard.Admitted
}

func (m *mockClaimer) Release(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, key)
	m.released = append(m.released, key)
}

type mockSender struct {
	mu   sync.Mutex
	sent []*order.Notification
	err  error
}

func (m *mockSender) SendOrder(_ context.Context, n *order.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

type mockLedger struct {
	records []*order.Record
	err     error
}

func (m *mockLedger) Create(_ context.Context, rec *order.Record) error {
	m.records = append(m.records, rec)
	return m.err
}

// --- Helpers ---

func newTestNotification(orderNumber string) *order.Notification {
	return &order.Notification{
		Provider:    provider.Stripe,
		OrderNumber: orderNumber,
		Total:       decimal.RequireFromString("33.49"),
		Currency:    "EUR",
		Customer:    order.Customer{Name: "Ona", Email: "ona@example.lt"},
	}
}

func newTestDispatcher(t *testing.T, claims Claimer, sender Sender, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(claims, sender, 24*time.Hour, opts...)
	require.NoError(t, err)
	return d
}

// --- Tests ---

func TestDispatch_SendsOnce(t *testing.T) {
	claims := newMockClaimer()
	sender := &mockSender{}
	d := newTestDispatcher(t, claims, sender)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, newTestNotification("ORD-1-1"))
	require.NoError(t, err)
	assert.Equal(t, ResultSent, res)

	res, err = d.Dispatch(ctx, newTestNotification("ORD-1-1"))
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)

	assert.Len(t, sender.sent, 1)
	assert.Equal(t, 24*time.Hour, claims.claimed["notify:order:ORD-1-1"])
}

func TestDispatch_DifferentOrdersBothSent(t *testing.T) {
	sender := &mockSender{}
	d := newTestDispatcher(t, newMockClaimer(), sender)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, newTestNotification("ORD-1-1"))
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, newTestNotification("ORD-1-2"))
	require.NoError(t, err)

	assert.Len(t, sender.sent, 2)
}

func TestDispatch_ConcurrentDuplicatesSendOnce(t *testing.T) {
	sender := &mockSender{}
	d := newTestDispatcher(t, newMockClaimer(), sender)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), newTestNotification("ORD-9-9"))
		}()
	}
	wg.Wait()

	assert.Len(t, sender.sent, 1)
}

func TestDispatch_SendFailureReleasesClaim(t *testing.T) {
	claims := newMockClaimer()
	sender := &mockSender{err: errors.New("discord 500")}
	d := newTestDispatcher(t, claims, sender)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, newTestNotification("ORD-1-1"))
	require.Error(t, err)
	assert.Equal(t, []string{"notify:order:ORD-1-1"}, claims.released)

	// A retry after the channel recovers delivers.
	sender.err = nil
	res, err := d.Dispatch(ctx, newTestNotification("ORD-1-1"))
	require.NoError(t, err)
	assert.Equal(t, ResultSent, res)
	assert.Len(t, sender.sent, 1)
}

func TestDispatch_NotConfigured(t *testing.T) {
	claims := newMockClaimer()
	d := newTestDispatcher(t, claims, nil)

	res, err := d.Dispatch(context.Background(), newTestNotification("ORD-1-1"))
	assert.Equal(t, ResultSkipped, res)

	var cfgErr *provider.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "DISCORD_WEBHOOK_URL", cfgErr.Variable)
	assert.Empty(t, claims.claimed)
}

func TestDispatch_InvalidNotification(t *testing.T) {
	sender := &mockSender{}
	d := newTestDispatcher(t, newMockClaimer(), sender)

	_, err := d.Dispatch(context.Background(), &order.Notification{Total: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, order.ErrMissingOrderNumber)

	_, err = d.Dispatch(context.Background(), &order.Notification{OrderNumber: "ORD-1-1"})
	require.ErrorIs(t, err, order.ErrInvalidAmount)

	assert.Empty(t, sender.sent)
}

func TestDispatch_RecordsInLedger(t *testing.T) {
	ledger := &mockLedger{}
	d := newTestDispatcher(t, newMockClaimer(), &mockSender{}, WithLedger(ledger))
	ctx := context.Background()

	_, err := d.Dispatch(ctx, newTestNotification("ORD-1-1"))
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, newTestNotification("ORD-1-1"))
	require.NoError(t, err)

	require.Len(t, ledger.records, 1)
	assert.Equal(t, "ORD-1-1", ledger.records[0].OrderNumber)
}

func TestDispatch_LedgerErrorDoesNotBlockDelivery(t *testing.T) {
	sender := &mockSender{}
	d := newTestDispatcher(t, newMockClaimer(), sender, WithLedger(&mockLedger{err: errors.New("db down")}))

	res, err := d.Dispatch(context.Background(), newTestNotification("ORD-1-1"))
	require.NoError(t, err)
	assert.Equal(t, ResultSent, res)
	assert.Len(t, sender.sent, 1)
}
