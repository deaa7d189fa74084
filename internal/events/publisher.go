package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/discount-monitor/internal/database"
	"github.com/maltedev/discount-monitor/internal/models"
)

const (
	AggregateProduct = "product"
	source           = "discount-monitor"
)

// NotificationPayload is the stream message announcing a recorded
// notification to the dispatcher.
type NotificationPayload struct {
	EventID         string           `json:"event_id"`
	EventType       models.EventType `json:"event_type"`
	Timestamp       time.Time        `json:"timestamp"`
	NotificationID  int64            `json:"notification_id"`
	ProductID       int64            `json:"product_id"`
	ProductName     string           `json:"product_name"`
	ProductURL      string           `json:"product_url"`
	Platform        models.Platform  `json:"platform"`
	ImageURL        string           `json:"image_url,omitempty"`
	Message         string           `json:"message"`
	Price           float64          `json:"price"`
	OriginalPrice   float64          `json:"original_price"`
	DiscountPercent int              `json:"discount_percentage"`
	Source          string           `json:"source"`
}

// Transactor runs fn inside a database transaction.
type Transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// OutboxWriter stages an outbox event inside a transaction.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher records notifications together with their outbox events so the
// relay can never announce an event that was rolled back.
type Publisher struct {
	db     Transactor
	outbox OutboxWriter
	insert func(ctx context.Context, tx pgx.Tx, n *models.NotificationEvent) error
	stream string
	logger *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewOutboxRepository(db), database.InsertNotificationWithTx, stream, logger)
}

func newPublisher(db Transactor, outbox OutboxWriter, insert func(context.Context, pgx.Tx, *models.NotificationEvent) error, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultTargetStream
	}
	return &Publisher{
		db:     db,
		outbox: outbox,
		insert: insert,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// RecordNotification persists n and stages its stream message in one
// transaction. n.ID is set on success.
func (p *Publisher) RecordNotification(ctx context.Context, product *models.Product, snap *models.PriceSnapshot, n *models.NotificationEvent) error {
	err := p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.insert(ctx, tx, n); err != nil {
			return err
		}

		payload := NotificationPayload{
			EventID:         uuid.New().String(),
			EventType:       n.Type,
			Timestamp:       n.CreatedAt,
			NotificationID:  n.ID,
			ProductID:       product.ID,
			ProductName:     product.Name,
			ProductURL:      product.URL,
			Platform:        product.Platform,
			ImageURL:        product.ImageURL,
			Message:         n.Message,
			Price:           snap.Price,
			OriginalPrice:   snap.OriginalPrice,
			DiscountPercent: snap.DiscountPercent,
			Source:          source,
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		return p.outbox.InsertWithTx(ctx, tx, &database.OutboxEvent{
			AggregateType: AggregateProduct,
			AggregateID:   strconv.FormatInt(product.ID, 10),
			EventType:     string(n.Type),
			Payload:       data,
			TargetStream:  p.stream,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}

	p.logger.Info("notification recorded",
		"notification_id", n.ID,
		"product_id", product.ID,
		"type", n.Type,
		"message", n.Message)

	return nil
}
