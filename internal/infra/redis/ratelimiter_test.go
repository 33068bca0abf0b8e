package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllowWindows(t *testing.T) {
	t.Parallel()

	type call struct {
		key     string
		advance time.Duration
		want    bool
	}

	tests := []struct {
		name  string
		limit int64
		calls []call
	}{
		{
			name:  "cap resets each second",
			limit: 2,
			calls: []call{
				{key: "whatsapp", want: true},
				{key: "whatsapp", want: true},
				{key: "whatsapp", advance: 400 * time.Millisecond, want: false},
				{key: "whatsapp", advance: 600 * time.Millisecond, want: true},
			},
		},
		{
			name:  "sender numbers are capped separately",
			limit: 1,
			calls: []call{
				{key: "whatsapp:+27110000001", want: true},
				{key: "whatsapp:+27110000002", want: true},
				{key: "whatsapp:+27110000001", want: false},
			},
		},
		{
			name:  "keys are case and space insensitive",
			limit: 1,
			calls: []call{
				{key: "WhatsApp", want: true},
				{key: " whatsapp ", want: false},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, rdb := newTestRedis(t)
			now := time.Unix(1_700_000_000, 0)
			limiter, err := newRedisRateLimiter(rdb, tt.limit, func() time.Time { return now }, sleepWithContext)
			if err != nil {
				t.Fatalf("newRedisRateLimiter() error = %v", err)
			}

			for i, c := range tt.calls {
				now = now.Add(c.advance)
				got, err := limiter.Allow(context.Background(), c.key)
				if err != nil {
					t.Fatalf("call %d: Allow(%q) error = %v", i, c.key, err)
				}
				if got != c.want {
					t.Fatalf("call %d: Allow(%q) = %v, want %v", i, c.key, got, c.want)
				}
			}
		})
	}
}

func TestRedisRateLimiterWindowKeysExpire(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	now := time.Unix(1_700_000_500, 0)
	limiter, err := newRedisRateLimiter(rdb, 5, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	if _, err := limiter.Allow(context.Background(), "whatsapp"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	const key = "ratelimit:send:whatsapp:1700000500"
	if !mr.Exists(key) {
		t.Fatalf("keys = %v, want %s", mr.Keys(), key)
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > windowSeconds*time.Second {
		t.Fatalf("ttl = %v, want within one window", ttl)
	}

	mr.FastForward(2 * time.Second)
	if mr.Exists(key) {
		t.Fatal("window key should expire")
	}
}

func TestRedisRateLimiterRejectsBlankKey(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	limiter, err := NewRedisRateLimiter(rdb, 80)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("Allow() should reject a blank key")
	}
	if _, err := NewRedisRateLimiter(nil, 80); err == nil {
		t.Fatal("NewRedisRateLimiter() should require a client")
	}
}

func TestRedisRateLimiterWaitSleepsToNextWindow(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	now := time.Unix(1_700_000_200, int64(300*time.Millisecond))
	var slept []time.Duration
	limiter, err := newRedisRateLimiter(rdb, 1, func() time.Time { return now }, func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	})
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := limiter.Wait(context.Background(), "whatsapp"); err != nil {
			t.Fatalf("Wait() #%d error = %v", i, err)
		}
	}

	want := []time.Duration{700 * time.Millisecond, time.Second}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Fatalf("slept = %v, want %v", slept, want)
	}
}

func TestRedisRateLimiterUntilNextWindow(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{name: "window start", now: time.Unix(1_700_000_400, 0), want: time.Second},
		{name: "mid window", now: time.Unix(1_700_000_400, int64(250*time.Millisecond)), want: 750 * time.Millisecond},
		{name: "window edge", now: time.Unix(1_700_000_400, int64(999*time.Millisecond)), want: minWindowWait},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			limiter, err := newRedisRateLimiter(rdb, 1, func() time.Time { return tt.now }, sleepWithContext)
			if err != nil {
				t.Fatalf("newRedisRateLimiter() error = %v", err)
			}
			if got := limiter.untilNextWindow(); got != tt.want {
				t.Fatalf("untilNextWindow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedisRateLimiterWaitStopsOnDeadline(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	now := time.Unix(1_700_000_300, 0)
	limiter, err := newRedisRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), "whatsapp"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "whatsapp"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()

	_, rdb := newTestRedis(t)
	return rdb
}
