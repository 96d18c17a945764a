package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cuongbtq/voice-journal/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// startMessageDispatcher turns RabbitMQ wake-up messages into drain signals.
// The message only says that work exists; the claim step decides which jobs
// this worker actually gets, so the delivery is acknowledged straight away.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed, continuing on sweep only")
				return
			}
			w.handleDelivery(delivery)
		}
	}
}

func (w *Worker) handleDelivery(delivery amqp.Delivery) {
	var msg domain.WakeupMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// Malformed messages go to the dead letter exchange, if any
		w.reject(delivery)
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		w.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		w.reject(delivery)
		return
	}

	if err := delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}

	w.logger.Debug("Wake-up received",
		slog.String("job_id", msg.JobID),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)
	w.signal()
}

func (w *Worker) reject(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", err.Error()),
		)
	}
}
