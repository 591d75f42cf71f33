package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"study-gateway/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	historyKeep = 20
	historyTTL  = 7 * 24 * time.Hour
)

// HistoryRepository 在 Redis 中缓存每个 (用户, 助手) 最近的对话轮次，供无状态协议回放。
type HistoryRepository interface {
	Get(ctx context.Context, userID, assistant string) ([]model.ChatMessage, error)
	Append(ctx context.Context, userID, assistant string, msgs ...model.ChatMessage) error
	Clear(ctx context.Context, userID, assistant string) error
}

type redisHistoryRepository struct {
	redisClient *redis.Client
}

// NewHistoryRepository 创建一个新的 HistoryRepository 实例。
func NewHistoryRepository(redisClient *redis.Client) HistoryRepository {
	return &redisHistoryRepository{redisClient: redisClient}
}

func historyKey(userID, assistant string) string {
	return fmt.Sprintf("history:%s:%s", assistant, userID)
}

// Get 从 Redis 列表读取对话历史，按时间正序。
func (r *redisHistoryRepository) Get(ctx context.Context, userID, assistant string) ([]model.ChatMessage, error) {
	items, err := r.redisClient.LRange(ctx, historyKey(userID, assistant), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	messages := make([]model.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Append 在一个 MULTI 中 RPUSH、LTRIM、EXPIRE，并发追加不会互相覆盖，只保留最近 20 条。
func (r *redisHistoryRepository) Append(ctx context.Context, userID, assistant string, msgs ...model.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation history: %w", err)
		}
		values = append(values, b)
	}
	key := historyKey(userID, assistant)
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -historyKeep, -1)
		pipe.Expire(ctx, key, historyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append conversation history: %w", err)
	}
	return nil
}

func (r *redisHistoryRepository) Clear(ctx context.Context, userID, assistant string) error {
	return r.redisClient.Del(ctx, historyKey(userID, assistant)).Err()
}
