package bankgo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher emits an event for every committed ledger entry. Publishing
// happens after commit and is best effort: the ledger, not the stream,
// is the source of truth.
type Publisher interface {
	PublishTransaction(ctx context.Context, txn *Transaction) error
}

type TransactionEvent struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	Type       TransactionType `json:"type"`
	Amount     string          `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type RedisPublisher struct {
	client *redis.Client
	stream string
}

var (
	_ Publisher = (*RedisPublisher)(nil)
)

func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		stream: stream,
	}
}

func (p *RedisPublisher) PublishTransaction(ctx context.Context, txn *Transaction) error {
	event := TransactionEvent{
		ID:         txn.ID.String(),
		AccountID:  txn.AcctID.String(),
		Type:       txn.Type,
		Amount:     txn.Amount.String(),
		OccurredAt: txn.OccurredAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"event": payload},
	}
	return p.client.XAdd(ctx, args).Err()
}

// NopPublisher drops every event. Used where no stream is configured.
type NopPublisher struct{}

var (
	_ Publisher = NopPublisher{}
)

func (NopPublisher) PublishTransaction(context.Context, *Transaction) error {
	return nil
}
