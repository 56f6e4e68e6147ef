package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	redismock "github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAddToStream_Success verifies that AddToStream writes on the first attempt.
func TestAddToStream_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewFromClient(db)

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "quotes:import:dead",
		Values: map[string]interface{}{"ticker_id": "7"},
	}).SetVal("0-1")

	err := client.AddToStream(context.Background(), "quotes:import:dead", map[string]interface{}{"ticker_id": "7"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestAddToStream_RetryOnError ensures a transient error is retried.
func TestAddToStream_RetryOnError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewFromClient(db)

	mock.ExpectXAdd(&redis.XAddArgs{Stream: "s", Values: map[string]interface{}{}}).SetErr(errors.New("LOADING"))
	mock.ExpectXAdd(&redis.XAddArgs{Stream: "s", Values: map[string]interface{}{}}).SetVal("0-2")

	require.NoError(t, client.AddToStream(context.Background(), "s", map[string]interface{}{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddToStream_OpenBreakerRejects(t *testing.T) {
	db, _ := redismock.NewClientMock()
	client := NewFromClient(db)

	for i := 0; i < failureThreshold; i++ {
		client.record(errors.New("connection refused"))
	}
	err := client.AddToStream(context.Background(), "s", map[string]interface{}{})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	client := &Client{}
	for i := 0; i < failureThreshold; i++ {
		client.record(errors.New("connection refused"))
	}
	assert.False(t, client.allow())

	client.lastFailure = time.Now().Add(-2 * openCooldown).Unix()
	assert.True(t, client.allow())
	// only one probe is let through
	assert.False(t, client.allow())

	client.record(nil)
	assert.True(t, client.allow())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	client := &Client{}
	for i := 0; i < failureThreshold; i++ {
		client.record(errors.New("connection refused"))
	}
	client.lastFailure = time.Now().Add(-2 * openCooldown).Unix()
	require.True(t, client.allow())

	client.record(errors.New("connection refused"))
	assert.Equal(t, stateOpen, client.state)
	assert.False(t, client.allow())
}

func TestClaimPending(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewFromClient(db)

	mock.ExpectXPendingExt(&redis.XPendingExtArgs{
		Stream: "quotes:import",
		Group:  "finql",
		Start:  "-",
		End:    "+",
		Count:  10,
	}).SetVal([]redis.XPendingExt{
		{ID: "1-0", Consumer: "c1", Idle: time.Second, RetryCount: 1},
		// still being worked on by a live peer
		{ID: "2-0", Consumer: "c2", Idle: time.Second, RetryCount: 1},
		{ID: "3-0", Consumer: "c2", Idle: 2 * time.Minute, RetryCount: 4},
	})
	mock.ExpectXClaim(&redis.XClaimArgs{
		Stream:   "quotes:import",
		Group:    "finql",
		Consumer: "c1",
		Messages: []string{"1-0", "3-0"},
	}).SetVal([]redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"ticker_id": "7"}},
		{ID: "3-0", Values: map[string]interface{}{"ticker_id": "8"}},
	})

	msgs, err := client.ClaimPending(context.Background(), "quotes:import", "finql", "c1", time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1-0", msgs[0].ID)
	assert.Equal(t, int64(2), msgs[0].Deliveries)
	assert.Equal(t, "3-0", msgs[1].ID)
	assert.Equal(t, int64(5), msgs[1].Deliveries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPending_NothingToClaim(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewFromClient(db)

	mock.ExpectXPendingExt(&redis.XPendingExtArgs{
		Stream: "quotes:import",
		Group:  "finql",
		Start:  "-",
		End:    "+",
		Count:  10,
	}).SetVal([]redis.XPendingExt{})

	msgs, err := client.ClaimPending(context.Background(), "quotes:import", "finql", "c1", time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureGroup_ExistingGroupIsFine(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewFromClient(db)

	mock.ExpectXGroupCreateMkStream("quotes:import", "finql", "0").
		SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))
	require.NoError(t, client.EnsureGroup(context.Background(), "quotes:import", "finql"))

	mock.ExpectXGroupCreateMkStream("quotes:import", "finql", "0").SetErr(errors.New("NOAUTH"))
	assert.Error(t, client.EnsureGroup(context.Background(), "quotes:import", "finql"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadGroupAndAck(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewFromClient(db)

	args := &redis.XReadGroupArgs{
		Group:    "finql",
		Consumer: "c1",
		Streams:  []string{"quotes:import", ">"},
		Count:    10,
		Block:    time.Second,
	}
	mock.ExpectXReadGroup(args).SetVal([]redis.XStream{{
		Stream: "quotes:import",
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]interface{}{"ticker_id": "7", "price": "0.92", "time": "2024-03-01T12:00:00Z"}},
		},
	}})
	mock.ExpectXAck("quotes:import", "finql", "1-0").SetVal(1)

	msgs, err := client.ReadGroup(context.Background(), "quotes:import", "finql", "c1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1-0", msgs[0].ID)

	require.NoError(t, client.Ack(context.Background(), "quotes:import", "finql", "1-0"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadGroup_TimeoutYieldsNoMessages(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewFromClient(db)

	mock.ExpectXReadGroup(&redis.XReadGroupArgs{
		Group:    "finql",
		Consumer: "c1",
		Streams:  []string{"quotes:import", ">"},
		Count:    10,
		Block:    time.Second,
	}).RedisNil()

	msgs, err := client.ReadGroup(context.Background(), "quotes:import", "finql", "c1", 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
