package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/nearverify/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションストア。
// 期限切れの行は読み取り時に除外し、物理削除はworkerのクリーンアップジョブが行う。
type PostgresSessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, now: time.Now}
}

// Get は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) Get(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data
		 FROM verification_sessions
		 WHERE id = $1 AND expires_at > now()`,
		sessionKey(sessionID),
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var session model.VerificationSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Set はセッションをUPSERTし、有効期限をStatusSessionTTLにリセットする。
func (r *PostgresSessionRepo) Set(ctx context.Context, sessionID string, session *model.VerificationSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	now := r.now()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO verification_sessions (id, data, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		sessionKey(sessionID), raw, now.Add(StatusSessionTTL), now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// Delete は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_sessions WHERE id = $1`,
		sessionKey(sessionID),
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresSessionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// compile-time interface check
var _ SessionStore = (*PostgresSessionRepo)(nil)
