package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alim08/finql/pkg/logger"
	"github.com/alim08/finql/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

const (
	stateClosed int32 = iota
	stateOpen
	stateHalfOpen
)

const (
	failureThreshold = 5
	openCooldown     = 30 * time.Second
)

type Client struct {
	rdb *redis.Client

	failureCount int64
	lastFailure  int64
	state        int32
}

// New parses redisURL and returns a pooled client. No connection is made
// until the first command.
func New(redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.IdleTimeout = 5 * time.Minute
	return &Client{rdb: redis.NewClient(opt)}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) withMetrics(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RedisOperationDuration.WithLabelValues(operation, metrics.Status(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RedisErrors.WithLabelValues(operation).Inc()
	}
	return err
}

// allow reports whether a command may be sent. An open breaker lets a single
// probe through once the cooldown has passed; everything else is refused
// until that probe is recorded.
func (c *Client) allow() bool {
	switch atomic.LoadInt32(&c.state) {
	case stateClosed:
		return true
	case stateHalfOpen:
		return false
	}
	last := time.Unix(atomic.LoadInt64(&c.lastFailure), 0)
	if time.Since(last) < openCooldown {
		return false
	}
	return atomic.CompareAndSwapInt32(&c.state, stateOpen, stateHalfOpen)
}

func (c *Client) record(err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		atomic.StoreInt64(&c.failureCount, 0)
		atomic.StoreInt32(&c.state, stateClosed)
		return
	}
	atomic.StoreInt64(&c.lastFailure, time.Now().Unix())
	if atomic.AddInt64(&c.failureCount, 1) >= failureThreshold || atomic.LoadInt32(&c.state) == stateHalfOpen {
		if atomic.SwapInt32(&c.state, stateOpen) != stateOpen {
			logger.Log.Warn("circuit breaker opened", zap.String("backend", "redis"))
		}
	}
}

// AddToStream appends values to stream, retrying transient failures with
// exponential backoff.
func (c *Client) AddToStream(ctx context.Context, stream string, values map[string]interface{}) error {
	return c.withMetrics("xadd", func() error {
		if !c.allow() {
			return ErrCircuitBreakerOpen
		}
		op := func() error {
			ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			defer cancel()
			err := c.rdb.XAdd(ctx, &redis.XAddArgs{
				Stream: stream,
				Values: values,
			}).Err()
			c.record(err)
			return err
		}
		return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx))
	})
}

// EnsureGroup creates the consumer group on stream, creating the stream if
// needed. An existing group is not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	return c.withMetrics("xgroup_create", func() error {
		err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	})
}

// ReadGroup blocks up to block for at most count new entries of stream
// delivered to consumer. It returns nil messages when the wait times out.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	var messages []redis.XMessage
	err := c.withMetrics("xreadgroup", func() error {
		if !c.allow() {
			return ErrCircuitBreakerOpen
		}
		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    count,
			Block:    block,
		}).Result()
		c.record(err)
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, s := range res {
			messages = append(messages, s.Messages...)
		}
		return nil
	})
	return messages, err
}

// PendingMessage is a stream entry that was delivered before but never acked.
type PendingMessage struct {
	redis.XMessage
	// Deliveries counts every delivery of the entry, the claim included.
	Deliveries int64
}

// ClaimPending moves up to count unacknowledged entries of group to consumer
// and returns them. Entries consumer already owns are always taken. Entries
// owned by other consumers are taken once they have been idle for minIdle.
func (c *Client) ClaimPending(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]PendingMessage, error) {
	var claimed []PendingMessage
	err := c.withMetrics("xclaim", func() error {
		if !c.allow() {
			return ErrCircuitBreakerOpen
		}
		pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  group,
			Start:  "-",
			End:    "+",
			Count:  count,
		}).Result()
		c.record(err)
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		deliveries := make(map[string]int64, len(pending))
		var ids []string
		for _, p := range pending {
			if p.Consumer != consumer && p.Idle < minIdle {
				continue
			}
			ids = append(ids, p.ID)
			deliveries[p.ID] = p.RetryCount
		}
		if len(ids) == 0 {
			return nil
		}

		msgs, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: consumer,
			Messages: ids,
		}).Result()
		c.record(err)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			claimed = append(claimed, PendingMessage{XMessage: m, Deliveries: deliveries[m.ID] + 1})
		}
		return nil
	})
	return claimed, err
}

// Ack acknowledges processed entries.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.withMetrics("xack", func() error {
		return c.rdb.XAck(ctx, stream, group, ids...).Err()
	})
}

func (c *Client) Ping(ctx context.Context) error {
	return c.withMetrics("ping", func() error {
		return c.rdb.Ping(ctx).Err()
	})
}

// Close closes the underlying connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}
