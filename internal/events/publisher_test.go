package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/discount-monitor/internal/database"
	"github.com/maltedev/discount-monitor/internal/models"
)

// fakeTx runs fn with a nil transaction and reports whether it "committed".
type fakeTx struct {
	committed bool
}

func (f *fakeTx) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if err := fn(nil); err != nil {
		return err
	}
	f.committed = true
	return nil
}

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixtures() (*models.Product, *models.PriceSnapshot, *models.NotificationEvent) {
	product := &models.Product{ID: 5, Name: "Espresso Machine Deluxe", URL: "https://www.amazon.com/dp/B0ESPRESSO", Platform: models.PlatformAmazon}
	snap := &models.PriceSnapshot{ProductID: 5, Price: 49.99, OriginalPrice: 99.99, DiscountPercent: 50, Available: true}
	n := &models.NotificationEvent{
		ProductID: 5,
		Type:      models.EventPriceDrop,
		Message:   "Great deal! 50% off - now $49.99 (was $99.99)",
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	return product, snap, n
}

func TestRecordNotification(t *testing.T) {
	tx := &fakeTx{}
	outbox := new(MockOutbox)
	insert := func(ctx context.Context, _ pgx.Tx, n *models.NotificationEvent) error {
		n.ID = 77
		return nil
	}

	var staged *database.OutboxEvent
	outbox.On("InsertWithTx", mock.Anything, mock.Anything, mock.AnythingOfType("*database.OutboxEvent")).
		Run(func(args mock.Arguments) { staged = args.Get(2).(*database.OutboxEvent) }).
		Return(nil)

	p := newPublisher(tx, outbox, insert, "", testLogger())
	product, snap, n := fixtures()

	require.NoError(t, p.RecordNotification(context.Background(), product, snap, n))
	assert.True(t, tx.committed)
	assert.Equal(t, int64(77), n.ID)

	require.NotNil(t, staged)
	assert.Equal(t, "product", staged.AggregateType)
	assert.Equal(t, "5", staged.AggregateID)
	assert.Equal(t, "price_drop", staged.EventType)
	assert.Equal(t, database.DefaultTargetStream, staged.TargetStream)

	var payload NotificationPayload
	require.NoError(t, json.Unmarshal(staged.Payload, &payload))
	assert.Equal(t, int64(77), payload.NotificationID)
	assert.Equal(t, 50, payload.DiscountPercent)
	assert.Equal(t, n.Message, payload.Message)
	assert.Equal(t, "discount-monitor", payload.Source)
	assert.NotEmpty(t, payload.EventID)
}

func TestRecordNotificationInsertFails(t *testing.T) {
	tx := &fakeTx{}
	outbox := new(MockOutbox)
	insert := func(context.Context, pgx.Tx, *models.NotificationEvent) error {
		return errors.New("unique violation")
	}

	p := newPublisher(tx, outbox, insert, "stream:custom", testLogger())
	product, snap, n := fixtures()

	err := p.RecordNotification(context.Background(), product, snap, n)
	assert.Error(t, err)
	assert.False(t, tx.committed)
	outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordNotificationOutboxFails(t *testing.T) {
	tx := &fakeTx{}
	outbox := new(MockOutbox)
	outbox.On("InsertWithTx", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("outbox full"))

	p := newPublisher(tx, outbox, func(context.Context, pgx.Tx, *models.NotificationEvent) error { return nil }, "stream:custom", testLogger())
	product, snap, n := fixtures()

	err := p.RecordNotification(context.Background(), product, snap, n)
	assert.Error(t, err)
	assert.False(t, tx.committed, "notification must roll back with its outbox event")
}
