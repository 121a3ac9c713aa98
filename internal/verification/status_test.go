package verification

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/nearverify/internal/metrics"
	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/near"
	"github.com/hitoshi/nearverify/internal/repository"
)

const testSessionID = "6f1c2f3e-1d2b-4c5a-8b9c-0a1b2c3d4e5f"

func pendingSession(accountID string) *model.VerificationSession {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &model.VerificationSession{
		Status:    model.SessionStatusPending,
		AccountID: accountID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func verifiedContract(attestationID string) *mockContract {
	return &mockContract{
		isVerifiedFn: func(ctx context.Context, accountID string) (bool, error) {
			return true, nil
		},
		getVerificationFn: func(ctx context.Context, accountID string) (*model.VerifiedAccountRecord, error) {
			r := testRecord(accountID)
			r.AttestationID = attestationID
			return &r, nil
		},
	}
}

func newTestStatusService(store repository.SessionStore, contract ContractReader) *StatusService {
	logger, _ := newTestLogger()
	return NewStatusService(store, contract, metrics.Noop{}, logger)
}

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{testSessionID, true},
		{strings.ToUpper(testSessionID), true},
		{"abcdefghij0123456789", true},
		{"abcdefghij012345", true},
		{"abcdefghij0123456789abcd", true},
		{"abcdefghij01234", false},
		{"abcdefghij0123456789abcde", false},
		{"ABCDEFGHIJ0123456789", false},
		{"6f1c2f3e-1d2b-3c5a-8b9c-0a1b2c3d4e5f", false}, // version 3
		{"6f1c2f3e-1d2b-4c5a-7b9c-0a1b2c3d4e5f", false}, // variant
		{"", false},
		{"../../etc/passwd", false},
	}

	for _, tt := range tests {
		if got := ValidSessionID(tt.id); got != tt.want {
			t.Errorf("ValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestStatusService_GetStatus_InvalidIDSkipsStore(t *testing.T) {
	store := &countingStore{
		getFn: func(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
			return pendingSession(""), nil
		},
	}
	s := newTestStatusService(store, verifiedContract("1"))

	_, err := s.GetStatus(context.Background(), "not-a-session", "")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidSession {
		t.Fatalf("err = %v, want INVALID_SESSION", err)
	}
	if apiErr.Message != "Invalid request." {
		t.Errorf("Message = %q, 汎用メッセージであるべき", apiErr.Message)
	}
	if n := store.gets.Load(); n != 0 {
		t.Errorf("store.Get calls = %d, want 0", n)
	}
}

func TestStatusService_GetStatus_NotFound(t *testing.T) {
	store := repository.NewMemorySessionStore()
	s := newTestStatusService(store, verifiedContract("1"))

	_, err := s.GetStatus(context.Background(), testSessionID, "")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSessionNotFound {
		t.Errorf("err = %v, want SESSION_NOT_FOUND", err)
	}
}

func TestStatusService_GetStatus_StoreError(t *testing.T) {
	store := &countingStore{
		getFn: func(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
			return nil, errors.New("connection refused")
		},
	}
	s := newTestStatusService(store, verifiedContract("1"))

	_, err := s.GetStatus(context.Background(), testSessionID, "")

	var apiErr *model.APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("err = %v, want non-API error", err)
	}
}

func TestStatusService_GetStatus_ReturnsCachedTerminal(t *testing.T) {
	store := repository.NewMemorySessionStore()
	session := pendingSession("alice.near")
	session.Status = model.SessionStatusError
	session.Error = "Proof invalid"
	session.ErrorCode = model.SessionErrProofInvalid
	store.Set(context.Background(), testSessionID, session)

	contract := verifiedContract("1")
	called := false
	contract.isVerifiedFn = func(ctx context.Context, accountID string) (bool, error) {
		called = true
		return true, nil
	}
	s := newTestStatusService(store, contract)

	got, err := s.GetStatus(context.Background(), testSessionID, "alice.near")
	if err != nil {
		t.Fatalf("GetStatus がエラーを返した: %v", err)
	}
	if got.Status != model.SessionStatusError || got.ErrorCode != model.SessionErrProofInvalid || got.Error != "Proof invalid" {
		t.Errorf("got = %+v", got)
	}
	if called {
		t.Error("終端状態のセッションは自己修復しない")
	}
}

func TestStatusService_GetStatus_SelfHeal(t *testing.T) {
	store := repository.NewMemorySessionStore()
	store.Set(context.Background(), testSessionID, pendingSession("alice.near"))
	s := newTestStatusService(store, verifiedContract("2"))

	got, err := s.GetStatus(context.Background(), testSessionID, "alice.near")
	if err != nil {
		t.Fatalf("GetStatus がエラーを返した: %v", err)
	}
	if got.Status != model.SessionStatusSuccess || got.AttestationID != "2" || got.AccountID != "alice.near" {
		t.Errorf("got = %+v, want success with attestation 2", got)
	}

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait がエラーを返した: %v", err)
	}
	stored, _ := store.Get(context.Background(), testSessionID)
	if stored.Status != model.SessionStatusSuccess || stored.AttestationID != "2" {
		t.Errorf("書き戻されたセッション = %+v", stored)
	}
}

func TestStatusService_GetStatus_SelfHealWriteBackSurvivesCancel(t *testing.T) {
	writes := make(chan error, 1)
	store := &countingStore{
		getFn: func(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
			return pendingSession("alice.near"), nil
		},
		setFn: func(ctx context.Context, sessionID string, session *model.VerificationSession) error {
			time.Sleep(10 * time.Millisecond)
			writes <- ctx.Err()
			return nil
		},
	}
	s := newTestStatusService(store, verifiedContract("1"))

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.GetStatus(ctx, testSessionID, "alice.near"); err != nil {
		t.Fatalf("GetStatus がエラーを返した: %v", err)
	}
	cancel()

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait がエラーを返した: %v", err)
	}
	if err := <-writes; err != nil {
		t.Errorf("書き戻しのコンテキスト = %v, リクエストのキャンセルから切り離されるべき", err)
	}
}

func TestStatusService_GetStatus_WriteBackFailureDoesNotAffectResponse(t *testing.T) {
	store := &countingStore{
		getFn: func(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
			return pendingSession("alice.near"), nil
		},
		setFn: func(ctx context.Context, sessionID string, session *model.VerificationSession) error {
			return errors.New("redis down")
		},
	}
	logger, logs := newTestLogger()
	s := NewStatusService(store, verifiedContract("1"), metrics.Noop{}, logger)

	got, err := s.GetStatus(context.Background(), testSessionID, "alice.near")
	if err != nil {
		t.Fatalf("GetStatus がエラーを返した: %v", err)
	}
	if got.Status != model.SessionStatusSuccess {
		t.Errorf("Status = %s, want success", got.Status)
	}
	s.Wait(context.Background())
	if !strings.Contains(logs.String(), "書き戻しに失敗") {
		t.Error("書き戻しの失敗はログに記録されるべき")
	}
}

func TestStatusService_GetStatus_NoSelfHeal(t *testing.T) {
	tests := []struct {
		name           string
		sessionAccount string
		queryAccount   string
		contract       func() *mockContract
		wantCalls      bool
	}{
		{
			name:           "accountId not supplied",
			sessionAccount: "alice.near",
			queryAccount:   "",
			contract:       func() *mockContract { return verifiedContract("1") },
		},
		{
			name:           "accountId does not match session",
			sessionAccount: "alice.near",
			queryAccount:   "bob.near",
			contract:       func() *mockContract { return verifiedContract("1") },
		},
		{
			name:           "accountId is malformed",
			sessionAccount: "Alice Near",
			queryAccount:   "Alice Near",
			contract:       func() *mockContract { return verifiedContract("1") },
		},
		{
			name:           "not verified on chain",
			sessionAccount: "alice.near",
			queryAccount:   "alice.near",
			contract: func() *mockContract {
				c := verifiedContract("1")
				c.isVerifiedFn = func(ctx context.Context, accountID string) (bool, error) { return false, nil }
				return c
			},
			wantCalls: true,
		},
		{
			name:           "isVerified fails",
			sessionAccount: "alice.near",
			queryAccount:   "alice.near",
			contract: func() *mockContract {
				c := verifiedContract("1")
				c.isVerifiedFn = func(ctx context.Context, accountID string) (bool, error) {
					return false, &near.ContractError{Kind: near.KindUnavailable, Method: "is_account_verified"}
				}
				return c
			},
			wantCalls: true,
		},
		{
			name:           "getVerification fails",
			sessionAccount: "alice.near",
			queryAccount:   "alice.near",
			contract: func() *mockContract {
				c := verifiedContract("1")
				c.getVerificationFn = func(ctx context.Context, accountID string) (*model.VerifiedAccountRecord, error) {
					return nil, &near.ContractError{Kind: near.KindContractPanic, Method: "get_account_with_proof"}
				}
				return c
			},
			wantCalls: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &countingStore{
				getFn: func(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
					return pendingSession(tt.sessionAccount), nil
				},
			}
			contract := tt.contract()
			var calls atomic.Int32
			isVerified := contract.isVerifiedFn
			contract.isVerifiedFn = func(ctx context.Context, accountID string) (bool, error) {
				calls.Add(1)
				return isVerified(ctx, accountID)
			}
			s := newTestStatusService(store, contract)

			got, err := s.GetStatus(context.Background(), testSessionID, tt.queryAccount)
			if err != nil {
				t.Fatalf("GetStatus がエラーを返した: %v", err)
			}
			if got.Status != model.SessionStatusPending {
				t.Errorf("Status = %s, want pending", got.Status)
			}
			if (calls.Load() > 0) != tt.wantCalls {
				t.Errorf("IsVerified calls = %d, wantCalls %v", calls.Load(), tt.wantCalls)
			}
			s.Wait(context.Background())
			if n := store.sets.Load(); n != 0 {
				t.Errorf("store.Set calls = %d, want 0", n)
			}
		})
	}
}

func TestStatusService_Wait_RespectsContext(t *testing.T) {
	block := make(chan struct{})
	store := &countingStore{
		getFn: func(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
			return pendingSession("alice.near"), nil
		},
		setFn: func(ctx context.Context, sessionID string, session *model.VerificationSession) error {
			<-block
			return nil
		},
	}
	s := newTestStatusService(store, verifiedContract("1"))
	defer close(block)

	if _, err := s.GetStatus(context.Background(), testSessionID, "alice.near"); err != nil {
		t.Fatalf("GetStatus がエラーを返した: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want DeadlineExceeded", err)
	}
}
