package inbound

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper は同じ配信IDのWebhookを一度だけ処理するための判定を行う。
type Deduper interface {
	// First はidを初めて受け取った場合にtrueを返し、以後ttlの間はfalseを返す。
	First(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

const dedupeKeyPrefix = "cambiacromos:inbound:"

// RedisDeduper はSETNXで配信IDを記録するDeduper。複数のインスタンスで共有できる。
type RedisDeduper struct {
	client *redis.Client
}

// NewRedisDeduper はRedisに接続してRedisDeduperを生成する。
func NewRedisDeduper(ctx context.Context, addr, password string, db int) (*RedisDeduper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return &RedisDeduper{client: client}, nil
}

// First はSETNXでidを記録する。
func (d *RedisDeduper) First(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupeKeyPrefix+id, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("配信IDの記録に失敗: %w", err)
	}
	return ok, nil
}

// Close は接続を閉じる。
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

// MemoryDeduper はプロセス内で配信IDを記録するDeduper。Redisがない環境で使う。
type MemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	now     func() time.Time
	maxSize int
}

// NewMemoryDeduper は新しいMemoryDeduperを生成する。
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{
		seen:    make(map[string]time.Time),
		now:     time.Now,
		maxSize: 10000,
	}
}

// First はidを記録する。期限切れのidは新しいものとして扱う。
func (d *MemoryDeduper) First(_ context.Context, id string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	if len(d.seen) >= d.maxSize {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
	}
	d.seen[id] = now.Add(ttl)
	return true, nil
}
