package cache

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

var redisAddr string

func mustStartRedisContainer() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, err
	}

	host, err := c.Host(context.Background())
	if err != nil {
		return c.Terminate, err
	}
	port, err := c.MappedPort(context.Background(), "6379/tcp")
	if err != nil {
		return c.Terminate, err
	}
	redisAddr = host + ":" + port.Port()
	return c.Terminate, nil
}

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		os.Exit(0)
	}

	teardown, err := mustStartRedisContainer()
	if err != nil {
		os.Exit(0)
	}

	code := m.Run()

	if teardown != nil {
		teardown(context.Background())
	}
	os.Exit(code)
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func newService(t *testing.T) Service {
	t.Helper()
	srv, err := New(context.Background(), Options{Addr: redisAddr}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

type collected struct {
	mu     sync.Mutex
	events []string
	data   []json.RawMessage
}

func (c *collected) Broadcast(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.data = append(c.data, payload.(json.RawMessage))
}

func (c *collected) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestHealth(t *testing.T) {
	stats := newService(t).Health()
	assert.Equal(t, "up", stats["status"])
	assert.Equal(t, "Redis is healthy", stats["message"])
	assert.NotContains(t, stats, "error")
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(context.Background(), Options{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestRelayStoresSnapshotAndForwards(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newService(t)

	leader := NewRoundRelay(srv.Client(), zap.NewNop())
	follower := NewRoundRelay(srv.Client(), zap.NewNop())
	go leader.Run(ctx)

	local, remote := &collected{}, &collected{}
	require.NoError(t, leader.Subscribe(ctx, local))
	require.NoError(t, follower.Subscribe(ctx, remote))

	leader.Broadcast("state", map[string]string{"round_id": "r1", "phase": "betting"})
	leader.Broadcast("tick", map[string]string{"round_id": "r1", "multiplier": "1.25"})

	require.Eventually(t, func() bool { return remote.count() == 2 }, 5*time.Second, 10*time.Millisecond)
	remote.mu.Lock()
	assert.Equal(t, []string{"state", "tick"}, remote.events)
	assert.JSONEq(t, `{"round_id":"r1","multiplier":"1.25"}`, string(remote.data[1]))
	remote.mu.Unlock()
	assert.Zero(t, local.count(), "own events are not echoed back")

	snap, err := follower.Snapshot(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"round_id":"r1","phase":"betting"}`, string(snap))
}

func TestSnapshotMissing(t *testing.T) {
	srv := newService(t)
	require.NoError(t, srv.Client().Del(context.Background(), SnapshotKey).Err())

	snap, err := NewRoundRelay(srv.Client(), zap.NewNop()).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestLeaseSingleHolder(t *testing.T) {
	ctx := context.Background()
	client := newService(t).Client()
	key := LeaseKey + ":" + t.Name()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	a := NewLease(client, key, 5*time.Second)
	b := NewLease(client, key, 5*time.Second)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = b.Renew(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, b.Release(ctx))

	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "holder re-acquires its own lease")

	require.NoError(t, a.Release(ctx))
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.Renew(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaseExpires(t *testing.T) {
	ctx := context.Background()
	client := newService(t).Client()
	key := LeaseKey + ":" + t.Name()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	a := NewLease(client, key, 200*time.Millisecond)
	b := NewLease(client, key, time.Second)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		ok, err := b.TryAcquire(ctx)
		return err == nil && ok
	}, 3*time.Second, 50*time.Millisecond)

	ok, err = a.Renew(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
