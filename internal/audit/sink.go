// Package audit drains the activity topic into long-term storage. Events go
// to ClickHouse in batches for analytics; high and critical events are also
// indexed into Elasticsearch for the admin activity search.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"estate-auth/internal/client"
	"estate-auth/internal/config"
	"estate-auth/internal/models"
	"estate-auth/internal/util"
)

const (
	batchSize     = 500
	flushInterval = 5 * time.Second

	insertQuery = `INSERT INTO security_events
		(event_id, event_bucket, event_time, event_type, severity,
		 user_id, phone_number, ip_address, session_id, details)`
)

type Sink struct {
	consumer   *client.KafkaConsumer
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
	eventIndex string
	logger     *zap.Logger
}

func NewSink(consumer *client.KafkaConsumer, ch *client.ClickHouseClient, es *client.ESClient, cfg *config.Config, logger *zap.Logger) *Sink {
	return &Sink{
		consumer:   consumer,
		clickhouse: ch,
		es:         es,
		eventIndex: cfg.Elasticsearch.EventIndex,
		logger:     logger,
	}
}

// Run consumes until ctx is cancelled, flushing buffered events on batch
// size or interval, whichever comes first. A final flush happens on exit.
func (s *Sink) Run(ctx context.Context) {
	util.Info("Audit sink started")

	buffer := make([]models.SecurityEvent, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	eventCh := make(chan models.SecurityEvent)
	go s.consume(ctx, eventCh)

	var events <-chan models.SecurityEvent = eventCh
	for {
		select {
		case <-ctx.Done():
			s.flush(buffer)
			util.Info("Audit sink stopped")
			return
		case <-ticker.C:
			s.flush(buffer)
			buffer = buffer[:0]
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			buffer = append(buffer, event)
			if len(buffer) >= batchSize {
				s.flush(buffer)
				buffer = buffer[:0]
			}
		}
	}
}

func (s *Sink) consume(ctx context.Context, out chan<- models.SecurityEvent) {
	for {
		msg, err := s.consumer.ConsumeMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				close(out)
				return
			}
			s.logger.Error("failed to consume activity message", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var event models.SecurityEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			s.logger.Warn("dropping malformed activity message", zap.Error(err))
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			close(out)
			return
		}
	}
}

// flush writes a batch to ClickHouse and mirrors severe events to
// Elasticsearch. The two writes run in parallel; a failure on either side is
// logged and the batch is dropped, matching the lossy audit contract.
func (s *Sink) flush(events []models.SecurityEvent) {
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows := make([][]interface{}, 0, len(events))
		for _, e := range events {
			details, _ := json.Marshal(e.Details)
			rows = append(rows, []interface{}{
				e.EventID, e.EventBucket, e.EventTime, e.EventType, e.Severity,
				e.UserID, e.PhoneNumber, e.IPAddress, e.SessionID, string(details),
			})
		}
		return s.clickhouse.BatchInsert(gctx, insertQuery, rows)
	})

	if s.es != nil {
		g.Go(func() error {
			for _, e := range events {
				if e.Severity != models.SeverityHigh && e.Severity != models.SeverityCritical {
					continue
				}
				if err := s.es.IndexDocument(gctx, s.eventIndex, e.EventID, e); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("audit flush failed",
			zap.Error(err),
			util.Int("batch_size", len(events)),
		)
		return
	}

	s.logger.Debug("Audit batch flushed", util.Int("batch_size", len(events)))
}
