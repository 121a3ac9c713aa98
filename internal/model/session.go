// Package model はドメインモデルを定義する。
package model

import "time"

// SessionStatus は検証セッションの状態を表す。
type SessionStatus string

const (
	// SessionStatusPending は外部プロバイダでの審査待ち。
	SessionStatusPending SessionStatus = "pending"
	// SessionStatusSuccess は検証完了（コントラクトへの書き込み済み）。
	SessionStatusSuccess SessionStatus = "success"
	// SessionStatusError は検証失敗。
	SessionStatusError SessionStatus = "error"
	// SessionStatusExpired はセッションが存在しないか期限切れ。
	// ストアには保存されず、ポーリングのレスポンスでのみ使用する。
	SessionStatusExpired SessionStatus = "expired"
)

// IsTerminal は状態が終端（success / error）かどうかを返す。
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusSuccess || s == SessionStatusError
}

// SessionErrorCode はセッション失敗時の機械可読なエラーコード。
type SessionErrorCode string

const (
	SessionErrVerificationFailed     SessionErrorCode = "VERIFICATION_FAILED"
	SessionErrProofInvalid           SessionErrorCode = "PROOF_INVALID"
	SessionErrSignatureInvalid       SessionErrorCode = "SIGNATURE_INVALID"
	SessionErrNullifierAlreadyUsed   SessionErrorCode = "NULLIFIER_ALREADY_USED"
	SessionErrAccountAlreadyVerified SessionErrorCode = "ACCOUNT_ALREADY_VERIFIED"
	SessionErrContractError          SessionErrorCode = "CONTRACT_ERROR"
	SessionErrTimeout                SessionErrorCode = "TIMEOUT"
	SessionErrInternal               SessionErrorCode = "INTERNAL_ERROR"
)

// Valid はエラーコードが定義済みの値かどうかを返す。
func (c SessionErrorCode) Valid() bool {
	switch c {
	case SessionErrVerificationFailed,
		SessionErrProofInvalid,
		SessionErrSignatureInvalid,
		SessionErrNullifierAlreadyUsed,
		SessionErrAccountAlreadyVerified,
		SessionErrContractError,
		SessionErrTimeout,
		SessionErrInternal:
		return true
	}
	return false
}

// VerificationSession はブラウザのポーリングと非同期の検証フローを橋渡しする一時レコード。
// 有効期限はストア側で管理する。
type VerificationSession struct {
	Status        SessionStatus    `json:"status"`
	AccountID     string           `json:"accountId,omitempty"`
	AttestationID string           `json:"attestationId,omitempty"`
	Error         string           `json:"error,omitempty"`
	ErrorCode     SessionErrorCode `json:"errorCode,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}
