package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/nearverify/internal/middleware"
	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/verification"
)

// --- モック定義 ---

// mockStatusService はStatusServiceInterfaceのモック実装。
type mockStatusService struct {
	getStatusFn func(ctx context.Context, sessionID, accountID string) (*verification.StatusResponse, error)
}

func (m *mockStatusService) GetStatus(ctx context.Context, sessionID, accountID string) (*verification.StatusResponse, error) {
	if m.getStatusFn != nil {
		return m.getStatusFn(ctx, sessionID, accountID)
	}
	return &verification.StatusResponse{Status: model.SessionStatusPending}, nil
}

// mockSessionService はSessionServiceInterfaceのモック実装。
type mockSessionService struct {
	createSessionFn func(ctx context.Context, accountID string) (string, *model.VerificationSession, error)
	finalizeFn      func(ctx context.Context, sessionID string, outcome verification.Outcome) (*model.VerificationSession, error)
}

func (m *mockSessionService) CreateSession(ctx context.Context, accountID string) (string, *model.VerificationSession, error) {
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, accountID)
	}
	return "00000000-0000-4000-8000-000000000000", &model.VerificationSession{Status: model.SessionStatusPending}, nil
}

func (m *mockSessionService) Finalize(ctx context.Context, sessionID string, outcome verification.Outcome) (*model.VerificationSession, error) {
	if m.finalizeFn != nil {
		return m.finalizeFn(ctx, sessionID, outcome)
	}
	return &model.VerificationSession{Status: outcome.Status, AccountID: outcome.AccountID}, nil
}

// mockAccountService はAccountServiceInterfaceのモック実装。
type mockAccountService struct {
	listFn            func(ctx context.Context, page, pageSize int) (*model.AccountPage, error)
	getAccountFn      func(ctx context.Context, accountID string) (*model.AccountWithVerification, error)
	invalidateCacheFn func() int
}

func (m *mockAccountService) List(ctx context.Context, page, pageSize int) (*model.AccountPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, page, pageSize)
	}
	return &model.AccountPage{Accounts: []model.AccountWithVerification{}, Page: page, PageSize: pageSize}, nil
}

func (m *mockAccountService) GetAccount(ctx context.Context, accountID string) (*model.AccountWithVerification, error) {
	if m.getAccountFn != nil {
		return m.getAccountFn(ctx, accountID)
	}
	return nil, model.NewAccountNotVerifiedError(accountID)
}

func (m *mockAccountService) InvalidateCache() int {
	if m.invalidateCacheFn != nil {
		return m.invalidateCacheFn()
	}
	return 0
}

// decodeErrorBody は統一エラーフォーマットのボディを読む。
func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v (raw: %s)", err, w.Body.String())
	}
	return body
}
