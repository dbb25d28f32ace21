package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidecrate/storefront/pkg/config"
)

// fakeCommands keeps values and counters in maps and records expiries.
type fakeCommands struct {
	values    map[string]string
	counters  map[string]int64
	ttls      map[string]time.Duration
	expires   int
	published []string
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{values: map[string]string{}, counters: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCommands) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeCommands) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.values[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCommands) Get(_ context.Context, key string) *redis.StringCmd {
	if v, ok := f.values[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeCommands) SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.Set(ctx, key, value, ttl)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCommands) Incr(_ context.Context, key string) *redis.IntCmd {
	f.counters[key]++
	return redis.NewIntResult(f.counters[key], nil)
}

func (f *fakeCommands) TTL(_ context.Context, key string) *redis.DurationCmd {
	ttl, ok := f.ttls[key]
	if !ok {
		return redis.NewDurationResult(-1, nil)
	}
	return redis.NewDurationResult(ttl, nil)
}

func (f *fakeCommands) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.expires++
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCommands) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.values, k)
		delete(f.ttls, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeCommands) Publish(_ context.Context, channel string, _ any) *redis.IntCmd {
	f.published = append(f.published, channel)
	return redis.NewIntResult(1, nil)
}

func TestIncrWithTTLStartsWindowOnce(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCommands()
	client := &Client{cmd: fake}

	for want := int64(1); want <= 3; want++ {
		got, err := client.IncrWithTTL(ctx, "rl:ip:signin:10.0.0.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 1, fake.expires)
	assert.Equal(t, time.Minute, fake.ttls["rl:ip:signin:10.0.0.1"])
}

func TestIncrWithTTLRepairsMissingExpiry(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCommands()
	fake.counters["stuck"] = 4
	client := &Client{cmd: fake}

	got, err := client.IncrWithTTL(ctx, "stuck", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)
	assert.Equal(t, 1, fake.expires, "a counter without ttl should get one")
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	client := &Client{cmd: newFakeCommands()}
	key := client.AccessSessionKey("jti-1")

	require.NoError(t, client.Set(ctx, key, "refresh-value", 10*time.Minute))
	got, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "refresh-value", got)

	ok, err := client.SetNX(ctx, key, "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestPublishRecordsChannel(t *testing.T) {
	fake := newFakeCommands()
	client := &Client{cmd: fake}

	require.NoError(t, client.Publish(context.Background(), "tc:changes:orders", []byte(`{"op":"update"}`)))
	assert.Equal(t, []string{"tc:changes:orders"}, fake.published)
}

func TestUninitializedClient(t *testing.T) {
	var nilClient *Client
	assert.ErrorIs(t, nilClient.Ping(context.Background()), errNotInitialized)
	assert.NoError(t, nilClient.Close())

	client := &Client{}
	_, err := client.IncrWithTTL(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, errNotInitialized)
	_, _, err = client.Subscribe(context.Background(), "x")
	assert.ErrorIs(t, err, errNotInitialized)
}

func TestKeys(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "tc:idempotency:u-1|POST|/api/v1/orders:abc", client.IdempotencyKey("u-1|POST|/api/v1/orders", "abc"))
	assert.Equal(t, "tc:session:access:abc", client.AccessSessionKey("abc"))
	assert.Equal(t, "tc:housekeeping:lock:dev", Key("housekeeping", " ", "lock", "dev"))
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@cache:6380/3", PoolSize: 12, DialTimeout: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 12, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, opts.DB)

	_, err = optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)
}
