package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"boardsync/internal/model"
)

// boardSnapshot is the persisted durable state of one room
type boardSnapshot struct {
	BoardID  string              `json:"boardId"`
	Elements []model.Element     `json:"elements"`
	Chat     []model.ChatMessage `json:"chatMessages,omitempty"`
	SavedAt  time.Time           `json:"savedAt"`
}

const snapshotTTL = 24 * time.Hour

// RedisClient wraps the Redis client for board snapshot storage
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client and verifies connectivity
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisClient{client: client}, nil
}

func snapshotKey(boardID string) string {
	return "board:" + boardID + ":snapshot"
}

// SaveBoard stores the room's durable state, replacing any prior snapshot.
// An empty element list is stored as-is so a cleared board stays cleared.
func (r *RedisClient) SaveBoard(ctx context.Context, boardID string, elements []model.Element, chat []model.ChatMessage) error {
	snap := boardSnapshot{
		BoardID:  boardID,
		Elements: elements,
		Chat:     chat,
		SavedAt:  time.Now(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, snapshotKey(boardID), data, snapshotTTL).Err(); err != nil {
		log.Printf("[Redis] Failed to save snapshot for %s: %v", boardID, err)
		return err
	}
	return nil
}

// LoadBoard retrieves a board's snapshot. A missing key is not an error;
// the room simply starts empty.
func (r *RedisClient) LoadBoard(ctx context.Context, boardID string) ([]model.Element, []model.ChatMessage, error) {
	val, err := r.client.Get(ctx, snapshotKey(boardID)).Result()
	if err == redis.Nil {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var snap boardSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, nil, err
	}
	return snap.Elements, snap.Chat, nil
}

// DeleteBoard drops a board's snapshot
func (r *RedisClient) DeleteBoard(ctx context.Context, boardID string) error {
	return r.client.Del(ctx, snapshotKey(boardID)).Err()
}

// Ping verifies the connection, used by the health endpoint
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool
func (r *RedisClient) Close() error {
	return r.client.Close()
}
