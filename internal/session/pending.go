package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatflow/internal/chat"
	"chatflow/internal/crypto"
)

// PendingStore keeps at most one interrupted send per client in redis, sealed
// with the crypto manager since it carries message content.
type PendingStore struct {
	redis    *redis.Client
	crypto   *crypto.Manager
	clientID string
	ttl      time.Duration
}

var _ chat.PendingStore = (*PendingStore)(nil)

func NewPendingStore(rdb *redis.Client, cm *crypto.Manager, clientID string, ttl time.Duration) *PendingStore {
	return &PendingStore{redis: rdb, crypto: cm, clientID: clientID, ttl: ttl}
}

func (p *PendingStore) key() string {
	return "chatflow:pending:" + p.clientID
}

// SavePending replaces any earlier descriptor.
func (p *PendingStore) SavePending(ctx context.Context, ps chat.PendingSend) error {
	sealed, err := p.crypto.SealJSON(ps, p.key())
	if err != nil {
		return fmt.Errorf("seal pending send: %w", err)
	}
	if err := p.redis.Set(ctx, p.key(), sealed, p.ttl).Err(); err != nil {
		return fmt.Errorf("store pending send: %w", err)
	}
	return nil
}

// TakePending returns and removes the descriptor, or nil when none is stored
// or it has expired.
func (p *PendingStore) TakePending(ctx context.Context) (*chat.PendingSend, error) {
	raw, err := p.redis.GetDel(ctx, p.key()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take pending send: %w", err)
	}
	var ps chat.PendingSend
	if err := p.crypto.OpenJSON(raw, p.key(), &ps); err != nil {
		return nil, fmt.Errorf("open pending send: %w", err)
	}
	return &ps, nil
}

func (p *PendingStore) Clear(ctx context.Context) error {
	return p.redis.Del(ctx, p.key()).Err()
}
