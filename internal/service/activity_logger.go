package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"estate-auth/internal/bucketing"
	"estate-auth/internal/client"
	"estate-auth/internal/models"
	"estate-auth/internal/util"
)

// ActivityLogger publishes security events to the activity topic. Logging is
// strictly fire-and-forget: publish errors are logged and swallowed so the
// auth path never stalls or fails because of the audit pipeline.
type ActivityLogger struct {
	producer  *client.KafkaProducer
	bucketing *bucketing.Manager
	logger    *zap.Logger
}

func NewActivityLogger(producer *client.KafkaProducer, buckets *bucketing.Manager, logger *zap.Logger) *ActivityLogger {
	return &ActivityLogger{
		producer:  producer,
		bucketing: buckets,
		logger:    logger,
	}
}

// Log fills in event identity fields and publishes asynchronously. Safe to
// call with a nil producer (audit pipeline disabled in dev).
func (a *ActivityLogger) Log(event models.SecurityEvent) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	event.EventBucket = a.bucketing.GetEventBucket(event.EventID)

	if a.producer == nil {
		a.logger.Debug("Activity logging disabled, dropping event",
			util.String("event_type", event.EventType),
		)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		a.logger.Error("failed to marshal security event", zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.producer.ProduceMessage(ctx, []byte(event.EventID), payload); err != nil {
			a.logger.Error("failed to publish security event",
				zap.Error(err),
				util.String("event_type", event.EventType),
			)
		}
	}()
}
