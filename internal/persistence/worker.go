package persistence

import (
	"context"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"

	"github.com/rs/zerolog"
)

// BatchWriter persists a batch of envelopes atomically.
type BatchWriter interface {
	WriteBatch(ctx context.Context, envs []event.Envelope) error
}

// JournalWorker drains the journal channel and batch-writes to Postgres.
// The processor sends to the channel with a blocking send, so if this worker
// falls behind the processor stalls and no envelope is lost.
type JournalWorker struct {
	writer       BatchWriter
	inputChan    <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewJournalWorker(
	writer BatchWriter,
	inputChan <-chan event.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *JournalWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &JournalWorker{
		writer:       writer,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming envelopes and flushes when the batch is full or the
// flush timeout expires. It returns when ctx is cancelled or the channel is
// closed, flushing whatever is buffered first.
func (jw *JournalWorker) Run(ctx context.Context) error {
	batch := make([]event.Envelope, 0, jw.batchSize)

	timer := time.NewTimer(jw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := jw.flush(context.Background(), batch); err != nil {
					jw.logger.Error().Err(err).Int("operations", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-jw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := jw.flushWithRetry(context.Background(), batch); err != nil {
						jw.logger.Error().Err(err).Int("operations", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, env)
			if jw.metrics != nil {
				jw.metrics.SetChannelMetrics("journal", len(jw.inputChan), cap(jw.inputChan))
			}

			if len(batch) >= jw.batchSize {
				if err := jw.flushWithRetry(ctx, batch); err != nil {
					jw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(jw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := jw.flushWithRetry(ctx, batch); err != nil {
					jw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(jw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds or
// ctx is cancelled, in which case one last attempt is made without ctx.
func (jw *JournalWorker) flushWithRetry(ctx context.Context, batch []event.Envelope) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			jw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("operations", len(batch)).
				Msg("journal write retry")
			if jw.metrics != nil {
				jw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return jw.flush(context.Background(), batch)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > jw.maxBackoff {
				backoff = jw.maxBackoff
			}
		}

		err := jw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				jw.logger.Info().Int("retries", attempt).Msg("journal write succeeded after retries")
			}
			return nil
		}
		jw.logger.Warn().Err(err).Msg("journal write failed")
	}
}

func (jw *JournalWorker) flush(ctx context.Context, batch []event.Envelope) error {
	start := time.Now()

	if err := jw.writer.WriteBatch(ctx, batch); err != nil {
		if jw.metrics != nil {
			jw.metrics.PersistErrors.WithLabelValues("write_operations").Inc()
		}
		return err
	}

	if jw.metrics != nil {
		jw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		jw.metrics.PersistBatchSize.Observe(float64(len(batch)))
		jw.metrics.PersistOpsWritten.Add(float64(len(batch)))
		jw.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Sequence))
	}
	return nil
}
