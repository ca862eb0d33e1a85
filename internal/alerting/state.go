package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const mirrorKeyPrefix = "flood:alert:active:"

// RedisMirror keeps a copy of the active alert registry in Redis so a
// restarted forecaster can restore it. Entries expire with their alert.
type RedisMirror struct {
	redis redis.Cmdable
	now   func() time.Time
}

// NewRedisMirror creates a mirror on the given client
func NewRedisMirror(client redis.Cmdable) *RedisMirror {
	return &RedisMirror{redis: client, now: time.Now}
}

func mirrorKey(locationKey string) string {
	return mirrorKeyPrefix + locationKey
}

// mirrorTTL is the time left until the alert expires
func mirrorTTL(a Alert, now time.Time) time.Duration {
	return a.Expires.Sub(now)
}

func encodeAlert(a Alert) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}
	return data, nil
}

func decodeAlert(data []byte) (*Alert, error) {
	var a Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
	}
	return &a, nil
}

// Save stores the alert under its location key. An already expired alert
// removes the entry instead.
func (m *RedisMirror) Save(ctx context.Context, a Alert) error {
	key := mirrorKey(a.Location.Key())

	ttl := mirrorTTL(a, m.now())
	if ttl <= 0 || a.Status != StatusActive {
		return m.redis.Del(ctx, key).Err()
	}

	data, err := encodeAlert(a)
	if err != nil {
		return err
	}
	if err := m.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set alert in Redis: %w", err)
	}
	return nil
}

// Get returns the mirrored alert for a location key, or nil when there is none
func (m *RedisMirror) Get(ctx context.Context, locationKey string) (*Alert, error) {
	data, err := m.redis.Get(ctx, mirrorKey(locationKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert from Redis: %w", err)
	}
	return decodeAlert(data)
}

// Delete removes the mirrored alert for a location key
func (m *RedisMirror) Delete(ctx context.Context, locationKey string) error {
	return m.redis.Del(ctx, mirrorKey(locationKey)).Err()
}

// LoadAll returns every mirrored alert. Entries that vanish or fail to
// decode during the scan are skipped.
func (m *RedisMirror) LoadAll(ctx context.Context) ([]Alert, error) {
	var alerts []Alert

	iter := m.redis.Scan(ctx, 0, mirrorKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := m.redis.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		a, err := decodeAlert(data)
		if err != nil {
			continue
		}
		alerts = append(alerts, *a)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan alerts: %w", err)
	}
	return alerts, nil
}
