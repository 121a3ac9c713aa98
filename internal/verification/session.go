package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/nearverify/internal/events"
	"github.com/hitoshi/nearverify/internal/metrics"
	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/near"
	"github.com/hitoshi/nearverify/internal/repository"
	"github.com/hitoshi/nearverify/internal/security"
)

// Outcome は検証プロバイダのコールバックが報告する検証結果。
type Outcome struct {
	Status        model.SessionStatus    `json:"status"`
	AccountID     string                 `json:"accountId"`
	AttestationID string                 `json:"attestationId"`
	Error         string                 `json:"error"`
	ErrorCode     model.SessionErrorCode `json:"errorCode"`
}

// validate は結果のペイロードを検証する。
func (o Outcome) validate() error {
	switch o.Status {
	case model.SessionStatusSuccess:
		if !near.ValidAccountID(o.AccountID) {
			return model.NewInvalidOutcomeError("accountId is required for success")
		}
		if o.ErrorCode != "" {
			return model.NewInvalidOutcomeError("errorCode must be empty for success")
		}
	case model.SessionStatusError:
		if o.ErrorCode != "" && !o.ErrorCode.Valid() {
			return model.NewInvalidOutcomeError(fmt.Sprintf("unknown errorCode %q", o.ErrorCode))
		}
		if o.AccountID != "" && !near.ValidAccountID(o.AccountID) {
			return model.NewInvalidOutcomeError("invalid accountId")
		}
	default:
		return model.NewInvalidOutcomeError("status must be success or error")
	}
	return nil
}

// SessionService は検証セッションの作成と確定を扱う。
type SessionService struct {
	store     repository.SessionStore
	cache     CacheInvalidator
	publisher events.Publisher
	sanitizer security.MessageSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewSessionService はSessionServiceの新しいインスタンスを生成する。
func NewSessionService(
	store repository.SessionStore,
	cache CacheInvalidator,
	publisher events.Publisher,
	sanitizer security.MessageSanitizer,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		sanitizer: sanitizer,
		metrics:   mc,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateSession はpendingのセッションを作成し、セッションIDを返す。
// accountIDは省略可能。指定された場合は自己修復の対象になる。
func (s *SessionService) CreateSession(ctx context.Context, accountID string) (string, *model.VerificationSession, error) {
	if accountID != "" && !near.ValidAccountID(accountID) {
		return "", nil, model.NewInvalidAccountIDError(accountID)
	}

	now := s.now().UTC()
	session := &model.VerificationSession{
		Status:    model.SessionStatusPending,
		AccountID: accountID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sessionID := s.newID()

	if err := s.store.Set(ctx, sessionID, session); err != nil {
		return "", nil, fmt.Errorf("セッションの作成に失敗しました: %w", err)
	}

	s.logger.Info("検証セッションを作成しました",
		slog.String("session_id", sessionID),
		slog.String("account_id", accountID),
	)
	return sessionID, session, nil
}

// Finalize はプロバイダのコールバック結果でセッションを終端状態にする。
// 終端済みのセッションは上書きしない。
func (s *SessionService) Finalize(ctx context.Context, sessionID string, outcome Outcome) (*model.VerificationSession, error) {
	if !ValidSessionID(sessionID) {
		return nil, model.NewInvalidSessionError()
	}
	if err := outcome.validate(); err != nil {
		return nil, err
	}

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError()
	}
	if session.Status.IsTerminal() {
		return nil, model.NewSessionAlreadyFinalizedError()
	}
	if outcome.Status == model.SessionStatusSuccess && session.AccountID != "" && session.AccountID != outcome.AccountID {
		return nil, model.NewInvalidOutcomeError("accountId does not match session")
	}

	updated := *session
	updated.Status = outcome.Status
	updated.UpdatedAt = s.now().UTC()
	if outcome.AccountID != "" {
		updated.AccountID = outcome.AccountID
	}
	switch outcome.Status {
	case model.SessionStatusSuccess:
		updated.AttestationID = outcome.AttestationID
		updated.Error = ""
		updated.ErrorCode = ""
	case model.SessionStatusError:
		updated.ErrorCode = outcome.ErrorCode
		if updated.ErrorCode == "" {
			updated.ErrorCode = model.SessionErrVerificationFailed
		}
		updated.Error = s.sanitizer.Sanitize(outcome.Error)
		if updated.Error == "" {
			updated.Error = "Verification failed."
		}
	}

	if err := s.store.Set(ctx, sessionID, &updated); err != nil {
		return nil, fmt.Errorf("セッションの更新に失敗しました: %w", err)
	}
	s.metrics.RecordSessionFinalized(string(updated.Status))
	s.logger.Info("検証セッションを確定しました",
		slog.String("session_id", sessionID),
		slog.String("status", string(updated.Status)),
		slog.String("error_code", string(updated.ErrorCode)),
	)

	if updated.Status == model.SessionStatusSuccess {
		s.cache.InvalidateCache()
		event := events.VerificationCompleted{
			SessionID:     sessionID,
			AccountID:     updated.AccountID,
			AttestationID: updated.AttestationID,
			CompletedAt:   updated.UpdatedAt,
		}
		if err := s.publisher.PublishVerificationCompleted(ctx, event); err != nil {
			s.logger.Warn("検証完了イベントを配信できませんでした",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	return &updated, nil
}
