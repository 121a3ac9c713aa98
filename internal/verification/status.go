package verification

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/hitoshi/nearverify/internal/metrics"
	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/near"
	"github.com/hitoshi/nearverify/internal/repository"
)

var (
	uuidV4Pattern          = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	legacySessionIDPattern = regexp.MustCompile(`^[a-z0-9]{16,24}$`)
)

// ValidSessionID はセッションIDがUUID v4または旧形式（英小文字・数字16〜24文字）かどうかを返す。
func ValidSessionID(sessionID string) bool {
	return uuidV4Pattern.MatchString(sessionID) || legacySessionIDPattern.MatchString(sessionID)
}

// defaultWriteBackTimeout は自己修復の書き戻しのタイムアウト。
const defaultWriteBackTimeout = 5 * time.Second

// StatusResponse はポーリングのレスポンス。
type StatusResponse struct {
	Status        model.SessionStatus    `json:"status"`
	AccountID     string                 `json:"accountId,omitempty"`
	AttestationID string                 `json:"attestationId,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ErrorCode     model.SessionErrorCode `json:"errorCode,omitempty"`
}

func statusFromSession(s *model.VerificationSession) *StatusResponse {
	return &StatusResponse{
		Status:        s.Status,
		AccountID:     s.AccountID,
		AttestationID: s.AttestationID,
		Error:         s.Error,
		ErrorCode:     s.ErrorCode,
	}
}

// StatusService はブラウザからのポーリングに検証セッションの状態を返す。
//
// 検証の書き込みは成功したがセッションの更新が失われた場合に備え、
// pendingのセッションはコントラクトを直接確認して success に自己修復する。
type StatusService struct {
	store        repository.SessionStore
	contract     ContractReader
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	writeTimeout time.Duration
	now          func() time.Time

	wg sync.WaitGroup
}

// NewStatusService はStatusServiceの新しいインスタンスを生成する。
func NewStatusService(
	store repository.SessionStore,
	contract ContractReader,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *StatusService {
	return &StatusService{
		store:        store,
		contract:     contract,
		metrics:      mc,
		logger:       logger,
		writeTimeout: defaultWriteBackTimeout,
		now:          time.Now,
	}
}

// GetStatus はセッションの状態を返す。
//
// セッションIDの形式が不正な場合はストアを参照せずに INVALID_SESSION を返す。
// セッションが存在しない場合は SESSION_NOT_FOUND を返す。
func (s *StatusService) GetStatus(ctx context.Context, sessionID, accountID string) (*StatusResponse, error) {
	if !ValidSessionID(sessionID) {
		return nil, model.NewInvalidSessionError()
	}

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError()
	}

	if session.Status == model.SessionStatusPending &&
		accountID != "" &&
		accountID == session.AccountID &&
		near.ValidAccountID(accountID) {
		if healed := s.selfHeal(ctx, sessionID, session); healed != nil {
			return healed, nil
		}
	}

	return statusFromSession(session), nil
}

// selfHeal はコントラクト上で検証済みであれば success のレスポンスを返し、
// セッションの更新をバックグラウンドで書き戻す。
// 検証済みでない場合や途中でエラーが起きた場合は nil を返す。
func (s *StatusService) selfHeal(ctx context.Context, sessionID string, session *model.VerificationSession) *StatusResponse {
	accountID := session.AccountID

	verified, err := s.contract.IsVerified(ctx, accountID)
	if err != nil {
		s.logger.Warn("自己修復: 検証状態の確認に失敗しました",
			slog.String("account_id", accountID),
			slog.String("kind", near.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordSelfHeal(metrics.SelfHealFailed)
		return nil
	}
	if !verified {
		s.metrics.RecordSelfHeal(metrics.SelfHealNotHealed)
		return nil
	}

	record, err := s.contract.GetVerification(ctx, accountID)
	if err != nil || record == nil {
		attrs := []any{slog.String("account_id", accountID)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		s.logger.Warn("自己修復: 検証レコードの取得に失敗しました", attrs...)
		s.metrics.RecordSelfHeal(metrics.SelfHealFailed)
		return nil
	}

	healed := *session
	healed.Status = model.SessionStatusSuccess
	healed.AttestationID = record.AttestationID
	healed.Error = ""
	healed.ErrorCode = ""
	healed.UpdatedAt = s.now()

	s.writeBack(ctx, sessionID, healed)
	s.metrics.RecordSelfHeal(metrics.SelfHealHealed)
	s.logger.Info("自己修復: セッションを success に更新しました",
		slog.String("session_id", sessionID),
		slog.String("account_id", accountID),
	)

	return statusFromSession(&healed)
}

// writeBack はセッションをバックグラウンドで保存する。
// リクエストのキャンセルの影響を受けないよう、切り離したコンテキストで実行する。
// 失敗はログに記録するだけで、レスポンスには影響しない。
func (s *StatusService) writeBack(ctx context.Context, sessionID string, session model.VerificationSession) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
		defer cancel()

		if err := s.store.Set(writeCtx, sessionID, &session); err != nil {
			s.logger.Error("自己修復: セッションの書き戻しに失敗しました",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			s.metrics.RecordSelfHeal(metrics.SelfHealWriteError)
		}
	}()
}

// Wait は実行中の書き戻しがすべて終わるか、ctxが終了するまで待つ。
func (s *StatusService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
