package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/nearverify/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore はRedisを使用したセッションストア。
// 値はJSONで保存し、失効はRedisのEXに任せる。
type RedisSessionStore struct {
	client redis.UniversalClient
}

// NewRedisSessionStore はRedisSessionStoreを生成する。
func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// Get は指定IDのセッションを取得する。キーが存在しない場合はnilを返す。
func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session model.VerificationSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Set はセッションをStatusSessionTTL付きで保存する。
func (s *RedisSessionStore) Set(ctx context.Context, sessionID string, session *model.VerificationSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sessionID), raw, StatusSessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

// Delete は指定IDのセッションを削除する。
func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。ヘルスチェックで使用する。
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// compile-time interface check
var _ SessionStore = (*RedisSessionStore)(nil)
