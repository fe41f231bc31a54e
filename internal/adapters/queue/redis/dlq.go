package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"clawbounty.market/internal/core/domain"
)

const (
	dlqKey        = "clawbounty:webhook:dlq"
	dlqMetaPrefix = "clawbounty:webhook:dlq:meta:"
)

// DeadLetterQueue keeps webhooks that exhausted their retries, newest first,
// for operators to inspect. Entries are never redelivered.
type DeadLetterQueue struct {
	client *redis.Client
}

func NewDeadLetterQueue(client *redis.Client) *DeadLetterQueue {
	return &DeadLetterQueue{client: client}
}

// Add stores a dead letter, assigning an id when it has none.
func (dlq *DeadLetterQueue) Add(ctx context.Context, letter *domain.DeadLetter) error {
	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	_, err = dlq.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, dlqMetaPrefix+letter.ID, data, 0)
		pipe.ZAdd(ctx, dlqKey, redis.Z{
			Score:  float64(letter.FailedAt.UnixMilli()),
			Member: letter.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add dead letter: %w", err)
	}
	return nil
}

// Get retrieves one dead letter
func (dlq *DeadLetterQueue) Get(ctx context.Context, id string) (*domain.DeadLetter, error) {
	data, err := dlq.client.Get(ctx, dlqMetaPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("dead letter %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}

	var letter domain.DeadLetter
	if err := json.Unmarshal(data, &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return &letter, nil
}

// List returns dead letters newest first
func (dlq *DeadLetterQueue) List(ctx context.Context, offset, limit int64) ([]*domain.DeadLetter, error) {
	ids, err := dlq.client.ZRevRange(ctx, dlqKey, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	letters := make([]*domain.DeadLetter, 0, len(ids))
	for _, id := range ids {
		letter, err := dlq.Get(ctx, id)
		if err != nil {
			// Skip if metadata not found
			continue
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// Count returns the number of stored dead letters
func (dlq *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	count, err := dlq.client.ZCard(ctx, dlqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}
