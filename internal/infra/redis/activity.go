package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	activityKeyPrefix = "activity:last_inbound:"
	// Entries outlive the messaging window so a late read still sees a stale timestamp.
	defaultActivityTTL = 72 * time.Hour
)

// ActivityStore keeps the last inbound message time per phone number.
type ActivityStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewActivityStore(client *goredis.Client, ttl time.Duration) (*ActivityStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultActivityTTL
	}
	return &ActivityStore{client: client, ttl: ttl}, nil
}

// RecordInbound stores at as the last inbound time unless a newer one is already stored.
func (s *ActivityStore) RecordInbound(ctx context.Context, phone string, at time.Time) error {
	key, err := activityKey(phone)
	if err != nil {
		return err
	}

	current, err := s.GetLastInboundAt(ctx, phone)
	if err != nil {
		return err
	}
	if current != nil && current.After(at) {
		return nil
	}

	if err := s.client.Set(ctx, key, at.UTC().Unix(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record inbound activity: %w", err)
	}
	return nil
}

// GetLastInboundAt returns nil when no inbound message is known.
func (s *ActivityStore) GetLastInboundAt(ctx context.Context, phone string) (*time.Time, error) {
	key, err := activityKey(phone)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inbound activity: %w", err)
	}

	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid inbound activity value %q: %w", raw, err)
	}
	at := time.Unix(seconds, 0).UTC()
	return &at, nil
}

func activityKey(phone string) (string, error) {
	normalized := strings.TrimSpace(phone)
	if normalized == "" {
		return "", fmt.Errorf("phone is required")
	}
	return activityKeyPrefix + normalized, nil
}
