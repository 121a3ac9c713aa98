package verification

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/nearverify/internal/events"
	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/signature"
	"github.com/hitoshi/nearverify/internal/zkverify"
)

// mockContract はContractReaderのモック実装。
type mockContract struct {
	isVerifiedFn          func(ctx context.Context, accountID string) (bool, error)
	getVerificationFn     func(ctx context.Context, accountID string) (*model.VerifiedAccountRecord, error)
	getVerifiedAccountsFn func(ctx context.Context, from, limit int) ([]model.VerifiedAccountRecord, int, error)

	listCalls atomic.Int32
}

func (m *mockContract) IsVerified(ctx context.Context, accountID string) (bool, error) {
	return m.isVerifiedFn(ctx, accountID)
}

func (m *mockContract) GetVerification(ctx context.Context, accountID string) (*model.VerifiedAccountRecord, error) {
	return m.getVerificationFn(ctx, accountID)
}

func (m *mockContract) GetVerifiedAccounts(ctx context.Context, from, limit int) ([]model.VerifiedAccountRecord, int, error) {
	m.listCalls.Add(1)
	return m.getVerifiedAccountsFn(ctx, from, limit)
}

// mockProofVerifier はProofVerifierのモック実装。
type mockProofVerifier struct {
	verifyFn func(ctx context.Context, proof model.SelfProof, attestationID string) (*zkverify.Result, error)
}

func (m *mockProofVerifier) Verify(ctx context.Context, proof model.SelfProof, attestationID string) (*zkverify.Result, error) {
	return m.verifyFn(ctx, proof, attestationID)
}

// mockSignatureVerifier はSignatureVerifierのモック実装。
type mockSignatureVerifier struct {
	verifyFn func(ctx context.Context, in signature.Input) (bool, string)
}

func (m *mockSignatureVerifier) Verify(ctx context.Context, in signature.Input) (bool, string) {
	return m.verifyFn(ctx, in)
}

// mockReconciler はAccountReconcilerのモック実装。
type mockReconciler struct {
	reconcileFn func(ctx context.Context, record model.VerifiedAccountRecord) model.AccountWithVerification
}

func (m *mockReconciler) Reconcile(ctx context.Context, record model.VerifiedAccountRecord) model.AccountWithVerification {
	return m.reconcileFn(ctx, record)
}

// mockInvalidator はCacheInvalidatorのモック実装。
type mockInvalidator struct {
	calls atomic.Int32
}

func (m *mockInvalidator) InvalidateCache() int {
	m.calls.Add(1)
	return 0
}

// recordingPublisher は配信されたイベントを記録するPublisher。
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *recordingPublisher) PublishVerificationCompleted(ctx context.Context, event events.VerificationCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.AccountID)
	return p.err
}

func (p *recordingPublisher) accountIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// countingStore はSessionStoreへの呼び出し回数を数える。
type countingStore struct {
	getFn func(ctx context.Context, sessionID string) (*model.VerificationSession, error)
	setFn func(ctx context.Context, sessionID string, session *model.VerificationSession) error

	gets atomic.Int32
	sets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
	s.gets.Add(1)
	return s.getFn(ctx, sessionID)
}

func (s *countingStore) Set(ctx context.Context, sessionID string, session *model.VerificationSession) error {
	s.sets.Add(1)
	if s.setFn == nil {
		return nil
	}
	return s.setFn(ctx, sessionID, session)
}

func (s *countingStore) Delete(ctx context.Context, sessionID string) error {
	return nil
}

// noopSanitizer は入力をそのまま返すMessageSanitizer。
type noopSanitizer struct{}

func (noopSanitizer) Sanitize(message string) string { return message }

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
