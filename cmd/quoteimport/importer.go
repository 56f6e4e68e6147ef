package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alim08/finql/pkg/database"
	"github.com/alim08/finql/pkg/logger"
	"github.com/alim08/finql/pkg/metrics"
	"github.com/alim08/finql/pkg/models"
	"github.com/alim08/finql/pkg/redisclient"
	"github.com/alim08/finql/pkg/validation"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// streamClient is the subset of *redisclient.Client the importer needs.
type streamClient interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	AddToStream(ctx context.Context, stream string, values map[string]interface{}) error
	ClaimPending(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]redisclient.PendingMessage, error)
}

type quoteInserter interface {
	InsertQuote(ctx context.Context, quote *models.Quote) error
}

type importer struct {
	streams    streamClient
	quotes     quoteInserter
	stream     string
	group      string
	consumer   string
	deadStream string
	workers    int
	batchSize  int64
	block      time.Duration

	// pending entries are claimed every claimEvery; those of other consumers
	// only after claimIdle. Entries delivered more than maxDeliveries times
	// are dead-lettered.
	maxDeliveries int64
	claimIdle     time.Duration
	claimEvery    time.Duration
}

// run consumes the stream until ctx is cancelled.
func (im *importer) run(ctx context.Context) error {
	if err := im.streams.EnsureGroup(ctx, im.stream, im.group); err != nil {
		return err
	}
	logger.Log.Info("quote import started",
		zap.String("stream", im.stream),
		zap.String("group", im.group),
		zap.String("consumer", im.consumer))

	var lastClaim time.Time
	for ctx.Err() == nil {
		if time.Since(lastClaim) >= im.claimEvery {
			im.reclaim(ctx)
			lastClaim = time.Now()
		}

		msgs, err := im.streams.ReadGroup(ctx, im.stream, im.group, im.consumer, im.batchSize, im.block)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Log.Warn("XREADGROUP error", zap.Error(err))
			metrics.ImportErrors.WithLabelValues("read").Inc()
			sleep(ctx, 200*time.Millisecond)
			continue
		}
		im.processBatch(ctx, msgs)
	}
	logger.Log.Info("quote import stopped")
	return nil
}

// reclaim retries entries left pending by store errors or by consumers that
// went away.
func (im *importer) reclaim(ctx context.Context) {
	pending, err := im.streams.ClaimPending(ctx, im.stream, im.group, im.consumer, im.claimIdle, im.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			logger.Log.Warn("failed to claim pending quotes", zap.Error(err))
			metrics.ImportErrors.WithLabelValues("claim").Inc()
		}
		return
	}
	if len(pending) == 0 {
		return
	}
	logger.Log.Info("retrying pending quotes", zap.Int("count", len(pending)))

	var (
		retry []redis.XMessage
		acks  []string
	)
	for _, p := range pending {
		if p.Deliveries > im.maxDeliveries {
			metrics.ImportErrors.WithLabelValues("max_deliveries").Inc()
			if im.deadLetter(ctx, p.XMessage, fmt.Errorf("not stored after %d deliveries", im.maxDeliveries)) {
				acks = append(acks, p.ID)
			}
			continue
		}
		retry = append(retry, p.XMessage)
	}
	im.ack(ctx, acks)
	im.processBatch(ctx, retry)
}

// processBatch imports msgs with at most im.workers in flight and acks every
// entry that was stored or dead-lettered. Entries hitting a store error stay
// pending until reclaim picks them up again.
func (im *importer) processBatch(ctx context.Context, msgs []redis.XMessage) {
	if len(msgs) == 0 {
		return
	}

	var (
		mu   sync.Mutex
		acks []string
		wg   sync.WaitGroup
		sem  = make(chan struct{}, im.workers)
	)
	for _, msg := range msgs {
		sem <- struct{}{}
		wg.Add(1)
		go func(m redis.XMessage) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if im.importOne(ctx, m) {
				mu.Lock()
				acks = append(acks, m.ID)
				mu.Unlock()
			}
		}(msg)
	}
	wg.Wait()
	im.ack(ctx, acks)
}

func (im *importer) ack(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := im.streams.Ack(ctx, im.stream, im.group, ids...); err != nil {
		logger.Log.Error("failed to ack imported quotes", zap.Int("count", len(ids)), zap.Error(err))
		metrics.ImportErrors.WithLabelValues("ack").Inc()
	}
}

// importOne reports whether msg is done with and may be acked.
func (im *importer) importOne(ctx context.Context, msg redis.XMessage) bool {
	start := time.Now()
	defer func() { metrics.ImportLatency.Observe(time.Since(start).Seconds()) }()

	quote, err := models.QuoteFromMap(msg.Values)
	if err != nil {
		logger.Log.Warn("quote parse error", zap.String("id", msg.ID), zap.Error(err))
		metrics.ImportErrors.WithLabelValues("parse").Inc()
		return im.deadLetter(ctx, msg, err)
	}

	err = im.quotes.InsertQuote(ctx, &quote)
	var verrs validation.ValidationErrors
	switch {
	case err == nil:
		metrics.ImportCounter.Inc()
		return true
	case errors.As(err, &verrs):
		metrics.ImportErrors.WithLabelValues("validate").Inc()
		return im.deadLetter(ctx, msg, err)
	case errors.Is(err, database.ErrInvalidReference):
		// retrying cannot help until the ticker exists
		metrics.ImportErrors.WithLabelValues("reference").Inc()
		return im.deadLetter(ctx, msg, err)
	default:
		logger.Log.Error("failed to store quote",
			zap.String("id", msg.ID),
			zap.Int64("ticker_id", quote.Ticker),
			zap.Error(err))
		metrics.ImportErrors.WithLabelValues("store").Inc()
		return false
	}
}

// deadLetter copies a rejected entry with the reason to the dead-letter stream.
func (im *importer) deadLetter(ctx context.Context, msg redis.XMessage, cause error) bool {
	if im.deadStream == "" {
		return true
	}
	values := make(map[string]interface{}, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["source_id"] = msg.ID
	values["error"] = cause.Error()

	if err := im.streams.AddToStream(ctx, im.deadStream, values); err != nil {
		logger.Log.Error("failed to dead-letter quote", zap.String("id", msg.ID), zap.Error(err))
		metrics.ImportErrors.WithLabelValues("dead_letter").Inc()
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
