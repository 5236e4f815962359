// Package prefs stores per-viewer thread presentation state in Redis so
// expand/collapse choices and forced-visible annotations survive re-renders
// and devices.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ViewState is everything a viewer has overridden for one document URI.
type ViewState struct {
	// Expanded maps annotation id to the explicit expand/collapse choice.
	// An absent id means the viewer never touched that node.
	Expanded map[string]bool `json:"expanded"`
	// ForceVisible lists annotation ids the viewer opted to see even when
	// an active filter would hide them.
	ForceVisible []string  `json:"force_visible"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RedisStore keeps view state as TTL'd JSON values, one key per viewer+URI.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "viewstate:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(viewerID, uri string) string {
	return s.prefix + viewerID + ":" + uri
}

// Get returns the viewer's stored state for a URI. A viewer with no stored
// state gets the zero state, not an error.
func (s *RedisStore) Get(ctx context.Context, viewerID, uri string) (ViewState, error) {
	jsonData, err := s.client.Get(ctx, s.key(viewerID, uri)).Result()
	if errors.Is(err, redis.Nil) {
		return ViewState{Expanded: map[string]bool{}}, nil
	}
	if err != nil {
		return ViewState{}, fmt.Errorf("lookup view state: %w", err)
	}

	var state ViewState
	if err := json.Unmarshal([]byte(jsonData), &state); err != nil {
		return ViewState{}, fmt.Errorf("unmarshal view state: %w", err)
	}
	if state.Expanded == nil {
		state.Expanded = map[string]bool{}
	}
	return state, nil
}

// SetExpanded records an explicit expand/collapse override for one node.
func (s *RedisStore) SetExpanded(ctx context.Context, viewerID, uri, annotationID string, expanded bool) error {
	state, err := s.Get(ctx, viewerID, uri)
	if err != nil {
		return err
	}
	state.Expanded[annotationID] = expanded
	return s.save(ctx, viewerID, uri, state)
}

// AddForceVisible marks an annotation as always shown for this viewer.
func (s *RedisStore) AddForceVisible(ctx context.Context, viewerID, uri, annotationID string) error {
	state, err := s.Get(ctx, viewerID, uri)
	if err != nil {
		return err
	}
	for _, id := range state.ForceVisible {
		if id == annotationID {
			return nil
		}
	}
	state.ForceVisible = append(state.ForceVisible, annotationID)
	return s.save(ctx, viewerID, uri, state)
}

// Clear drops the viewer's stored state for a URI.
func (s *RedisStore) Clear(ctx context.Context, viewerID, uri string) error {
	if err := s.client.Del(ctx, s.key(viewerID, uri)).Err(); err != nil {
		return fmt.Errorf("clear view state: %w", err)
	}
	return nil
}

func (s *RedisStore) save(ctx context.Context, viewerID, uri string, state ViewState) error {
	state.UpdatedAt = time.Now()
	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal view state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(viewerID, uri), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("save view state: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
