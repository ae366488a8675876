package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"docqa-gateway/internal/model"
	"docqa-gateway/internal/platform/rabbitmq"
)

// Reindexer re-embeds one tenant's documents.
type Reindexer interface {
	Reindex(ctx context.Context, tenantID uint) (int, error)
}

type ReindexWorker struct {
	conn      *amqp.Connection
	reindexer Reindexer
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReindexWorker(conn *amqp.Connection, reindexer Reindexer, queueName string, logger *zap.Logger) *ReindexWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReindexWorker{
		conn:      conn,
		reindexer: reindexer,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *ReindexWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	// One job at a time; a reindex can be long.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				if err := w.handle(workerCtx, d.Body); err != nil {
					// Requeue once; a second failure drops the job.
					_ = d.Nack(false, !d.Redelivered)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *ReindexWorker) handle(ctx context.Context, body []byte) error {
	var job model.ReindexJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.logger.Error("decode reindex job failed", zap.Error(err))
		return err
	}
	if job.TenantID == 0 {
		w.logger.Error("reindex job without tenant", zap.String("request_id", job.RequestID))
		return fmt.Errorf("reindex job without tenant")
	}

	n, err := w.reindexer.Reindex(ctx, job.TenantID)
	if err != nil {
		w.logger.Error("reindex tenant failed",
			zap.Uint("tenant_id", job.TenantID),
			zap.String("request_id", job.RequestID),
			zap.Error(err))
		return err
	}
	w.logger.Info("reindex job done",
		zap.Uint("tenant_id", job.TenantID),
		zap.String("request_id", job.RequestID),
		zap.Int("documents", n))
	return nil
}

func (w *ReindexWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
