// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/nearverify/internal/model"
)

// StatusSessionTTL は検証ステータスセッションの有効期限。
// 呼び出しごとには変更できない固定値で、失効はストア側で行う。
const StatusSessionTTL = 72 * time.Hour

// SessionKeyPrefix はセッションキーの名前空間。
const SessionKeyPrefix = "verification:status:"

// SessionStore は検証セッションの永続化インターフェース。
// キー単位のアクセスのみで、キーをまたぐトランザクションは持たない（後勝ち）。
type SessionStore interface {
	// Get は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	Get(ctx context.Context, sessionID string) (*model.VerificationSession, error)
	// Set はセッションを保存する。有効期限はStatusSessionTTLにリセットされる。
	Set(ctx context.Context, sessionID string, session *model.VerificationSession) error
	// Delete は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	Delete(ctx context.Context, sessionID string) error
}

// sessionKey はセッションIDをストアのキーに変換する。
func sessionKey(sessionID string) string {
	return SessionKeyPrefix + sessionID
}
