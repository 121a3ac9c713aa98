package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, verification, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidSession          = "INVALID_SESSION"
	ErrCodeSessionNotFound         = "SESSION_NOT_FOUND"
	ErrCodeSessionAlreadyFinalized = "SESSION_ALREADY_FINALIZED"
	ErrCodeInvalidAccountID        = "INVALID_ACCOUNT_ID"
	ErrCodeInvalidPagination       = "INVALID_PAGINATION"
	ErrCodeInvalidOutcome          = "INVALID_OUTCOME"
	ErrCodeAccountNotVerified      = "ACCOUNT_NOT_VERIFIED"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
)

// NewInvalidSessionError はセッションID形式エラーを生成する。
// 列挙攻撃を避けるため、形式のどこが誤っているかは含めない。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "Invalid request.",
		Category: "validation",
		Action:   "Restart the verification flow.",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
// 存在しなかったセッションと期限切れのセッションを区別しない。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "Session not found or expired.",
		Category: "verification",
		Action:   "Restart the verification flow.",
	}
}

// NewSessionAlreadyFinalizedError は終端状態のセッションを上書きしようとした場合のエラーを生成する。
func NewSessionAlreadyFinalizedError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionAlreadyFinalized,
		Message:  "Session has already been finalized.",
		Category: "verification",
		Action:   "No further action is required.",
	}
}

// NewInvalidAccountIDError はNEARアカウントID形式エラーを生成する。
func NewInvalidAccountIDError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAccountID,
		Message:  fmt.Sprintf("Invalid NEAR account ID: %q", accountID),
		Category: "validation",
		Action:   "Use a valid NEAR account ID such as alice.near.",
	}
}

// NewInvalidPaginationError はページネーション指定エラーを生成する。
func NewInvalidPaginationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPagination,
		Message:  fmt.Sprintf("Invalid pagination: %s", reason),
		Category: "validation",
		Action:   "page must be >= 0 and pageSize between 1 and 100.",
	}
}

// NewInvalidOutcomeError はコールバックの結果ペイロードが不正な場合のエラーを生成する。
func NewInvalidOutcomeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOutcome,
		Message:  fmt.Sprintf("Invalid verification outcome: %s", reason),
		Category: "validation",
		Action:   "Check the callback payload.",
	}
}

// NewAccountNotVerifiedError は検証済みアカウントが見つからない場合のエラーを生成する。
func NewAccountNotVerifiedError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotVerified,
		Message:  fmt.Sprintf("Account is not verified: %s", accountID),
		Category: "verification",
		Action:   "Complete identity verification for this account.",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Provide valid credentials.",
	}
}
