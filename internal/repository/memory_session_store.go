package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/nearverify/internal/model"
)

type memoryEntry struct {
	session   model.VerificationSession
	expiresAt time.Time
}

// MemorySessionStore はプロセス内メモリのセッションストア。
// 単一インスタンスでの開発用とテスト用。
type MemorySessionStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemorySessionStore はMemorySessionStoreを生成する。
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get は指定IDのセッションのコピーを返す。期限切れのエントリはその場で削除する。
func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
	key := sessionKey(sessionID)

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		// ロック取得までに再設定されている可能性があるため再確認する
		if current, ok := s.entries[key]; ok && !s.now().Before(current.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, nil
	}

	session := entry.session
	return &session, nil
}

// Set はセッションのコピーを保存する。
func (s *MemorySessionStore) Set(ctx context.Context, sessionID string, session *model.VerificationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionKey(sessionID)] = memoryEntry{
		session:   *session,
		expiresAt: s.now().Add(StatusSessionTTL),
	}
	return nil
}

// Delete は指定IDのセッションを削除する。
func (s *MemorySessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionKey(sessionID))
	return nil
}

// Len は保持しているエントリ数を返す。テスト用。
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// compile-time interface check
var _ SessionStore = (*MemorySessionStore)(nil)
