package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discovery/internal/logger"
)

func testOptions(addr string) ConnectOptions {
	return ConnectOptions{
		Addr:           addr,
		DialTimeout:    50 * time.Millisecond,
		ReadTimeout:    50 * time.Millisecond,
		WriteTimeout:   50 * time.Millisecond,
		PoolSize:       2,
		ConnectTimeout: 300 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
		MaxWait:        50 * time.Millisecond,
		PingTimeout:    50 * time.Millisecond,
		WarnThreshold:  1,
	}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), testOptions(mr.Addr()), logger.Nop())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	require.NoError(t, client.Ping(context.Background()).Err())
}

func TestConnectTimesOut(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	start := time.Now()
	_, err := Connect(context.Background(), testOptions(addr), logger.Nop())
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestConnectRejectsInvalidOptions(t *testing.T) {
	opts := testOptions("localhost:0")
	opts.RetryInterval = 0

	_, err := Connect(context.Background(), opts, logger.Nop())
	require.ErrorContains(t, err, "RetryInterval")
}

func TestBackoffCaps(t *testing.T) {
	b := &backoff{wait: time.Second, max: 3 * time.Second}
	require.Equal(t, time.Second, b.next())
	require.Equal(t, 2*time.Second, b.next())
	require.Equal(t, 3*time.Second, b.next())
	require.Equal(t, 3*time.Second, b.next())
}
