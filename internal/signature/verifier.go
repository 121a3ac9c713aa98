package signature

import (
	"context"
	"crypto/ed25519"
	"log/slog"

	"github.com/hitoshi/nearverify/internal/near"
)

// AccessKeyViewer はアカウントのアクセスキーを参照する。
type AccessKeyViewer interface {
	ViewAccessKey(ctx context.Context, accountID, publicKey string) (*near.AccessKey, error)
}

// Input は検証対象の署名。
type Input struct {
	Challenge string
	Signature string
	PublicKey string
	Nonce     string
	AccountID string
	Recipient string // 空の場合はVerifierの既定値
}

// Verifier はNEP-413署名を検証する。
// keysが設定されている場合は、公開鍵がアカウントのフルアクセスキーであることも確認する。
type Verifier struct {
	recipient string
	keys      AccessKeyViewer
	logger    *slog.Logger
}

// NewVerifier はVerifierの新しいインスタンスを生成する。
// keysにnilを渡すと鍵の所有確認を行わない。
func NewVerifier(recipient string, keys AccessKeyViewer, logger *slog.Logger) *Verifier {
	return &Verifier{recipient: recipient, keys: keys, logger: logger}
}

// Verify は署名を検証し、結果と不一致の理由を返す。
func (v *Verifier) Verify(ctx context.Context, in Input) (bool, string) {
	pub, err := parsePublicKey(in.PublicKey)
	if err != nil {
		return false, reasonInvalidPublicKey
	}
	sig, err := parseSignature(in.Signature)
	if err != nil {
		return false, reasonInvalidSignature
	}
	nonce, err := parseNonce(in.Nonce)
	if err != nil {
		return false, reasonInvalidNonce
	}

	recipient := in.Recipient
	if recipient == "" {
		recipient = v.recipient
	}

	hash, err := payloadHash(in.Challenge, nonce, recipient)
	if err != nil {
		return false, "Failed to build signed payload"
	}
	if !ed25519.Verify(pub, hash, sig) {
		return false, reasonMismatch
	}

	if v.keys == nil {
		return true, ""
	}
	return v.checkOwnership(ctx, in.AccountID, in.PublicKey)
}

// checkOwnership は公開鍵がアカウントのフルアクセスキーかどうかを確認する。
// RPCに到達できない場合は暗号学的な検証結果を維持する。
func (v *Verifier) checkOwnership(ctx context.Context, accountID, publicKey string) (bool, string) {
	key, err := v.keys.ViewAccessKey(ctx, accountID, publicKey)
	if err != nil {
		switch near.KindOf(err) {
		case near.KindAccessKeyNotFound, near.KindAccountNotFound:
			return false, reasonKeyNotRegistered
		default:
			v.logger.Warn("アクセスキーの確認をスキップしました",
				slog.String("account_id", accountID),
				slog.String("error", err.Error()),
			)
			return true, ""
		}
	}
	if !key.FullAccess {
		return false, reasonNotFullAccess
	}
	return true, ""
}
