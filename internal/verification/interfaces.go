// Package verification は検証済みアカウントの再検証、一覧、ポーリング状態、
// セッションのライフサイクルを扱うサービス層を提供する。
package verification

import (
	"context"

	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/near"
	"github.com/hitoshi/nearverify/internal/signature"
	"github.com/hitoshi/nearverify/internal/zkverify"
)

// ContractReader は検証コントラクトのview関数。*near.VerificationContract が実装する。
type ContractReader interface {
	IsVerified(ctx context.Context, accountID string) (bool, error)
	GetVerification(ctx context.Context, accountID string) (*model.VerifiedAccountRecord, error)
	GetVerifiedAccounts(ctx context.Context, from, limit int) ([]model.VerifiedAccountRecord, int, error)
}

// ProofVerifier はZK証明の検証。*zkverify.Verifier が実装する。
type ProofVerifier interface {
	Verify(ctx context.Context, proof model.SelfProof, attestationID string) (*zkverify.Result, error)
}

// SignatureVerifier はNEP-413署名の検証。*signature.Verifier が実装する。
type SignatureVerifier interface {
	Verify(ctx context.Context, in signature.Input) (bool, string)
}

// AccountReconciler は1件の検証レコードを再検証する。
type AccountReconciler interface {
	Reconcile(ctx context.Context, record model.VerifiedAccountRecord) model.AccountWithVerification
}

// CacheInvalidator は一覧キャッシュを無効化する。
type CacheInvalidator interface {
	InvalidateCache() int
}

// コンパイル時のインターフェース実装チェック
var (
	_ ContractReader    = (*near.VerificationContract)(nil)
	_ ProofVerifier     = (*zkverify.Verifier)(nil)
	_ SignatureVerifier = (*signature.Verifier)(nil)
	_ AccountReconciler = (*Reconciler)(nil)
	_ CacheInvalidator  = (*Lister)(nil)
)
