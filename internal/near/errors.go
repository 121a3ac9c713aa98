package near

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind はコントラクト呼び出し失敗の機械可読な分類。
type ErrorKind int

const (
	// KindUnavailable はRPCに到達できない、またはノード側の一時的な障害。
	KindUnavailable ErrorKind = iota + 1
	// KindAccountNotFound は対象アカウントがチェーン上に存在しない。
	KindAccountNotFound
	// KindAccessKeyNotFound は公開鍵がアカウントのアクセスキーとして登録されていない。
	KindAccessKeyNotFound
	// KindNotCitizen は検証済み市民でないアカウントによる操作。
	KindNotCitizen
	// KindAlreadyVoted は同一提案への二重投票。
	KindAlreadyVoted
	// KindVotingClosed は投票期間外の操作。
	KindVotingClosed
	// KindContractPanic は上記以外のコントラクトのpanic。
	KindContractPanic
	// KindInvalidResponse はRPCレスポンスを解釈できない。
	KindInvalidResponse
)

// String はログ出力用の名前を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindAccountNotFound:
		return "account_not_found"
	case KindAccessKeyNotFound:
		return "access_key_not_found"
	case KindNotCitizen:
		return "not_citizen"
	case KindAlreadyVoted:
		return "already_voted"
	case KindVotingClosed:
		return "voting_closed"
	case KindContractPanic:
		return "contract_panic"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// ContractError はNEAR RPC / コントラクト呼び出しのエラー。
// 呼び出し側はメッセージ文字列ではなくKindで分岐する。
type ContractError struct {
	Kind    ErrorKind
	Method  string
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("near %s (%s): %s: %v", e.Method, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("near %s (%s): %s", e.Method, e.Kind, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *ContractError) Unwrap() error {
	return e.Err
}

// KindOf はerrに含まれるContractErrorのKindを返す。ContractErrorでなければ0を返す。
func KindOf(err error) ErrorKind {
	var cerr *ContractError
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return 0
}

// panicKinds はコントラクトのpanicメッセージとKindの対応。
// 文字列の照合はこのパッケージ内のclassifyPanicだけで行う。
var panicKinds = []struct {
	fragment string
	kind     ErrorKind
}{
	{"not a verified citizen", KindNotCitizen},
	{"not a citizen", KindNotCitizen},
	{"account is not verified", KindNotCitizen},
	{"already voted", KindAlreadyVoted},
	{"voting is closed", KindVotingClosed},
	{"voting period has ended", KindVotingClosed},
	{"voting has not started", KindVotingClosed},
}

// classifyPanic はコントラクトのpanicメッセージからKindを決定する。
func classifyPanic(message string) ErrorKind {
	lower := strings.ToLower(message)
	for _, pk := range panicKinds {
		if strings.Contains(lower, pk.fragment) {
			return pk.kind
		}
	}
	return KindContractPanic
}

// classifyCause はRPCエラーのcause名からKindを決定する。
func classifyCause(cause, message string) ErrorKind {
	switch cause {
	case "UNKNOWN_ACCOUNT":
		return KindAccountNotFound
	case "UNKNOWN_ACCESS_KEY":
		return KindAccessKeyNotFound
	case "CONTRACT_EXECUTION_ERROR":
		return classifyPanic(message)
	case "INVALID_ACCOUNT", "PARSE_ERROR", "NO_CONTRACT_CODE":
		return KindContractPanic
	default:
		return KindUnavailable
	}
}

// classifyLegacyError は旧形式（result.error文字列）のエラーからKindを決定する。
func classifyLegacyError(message string) ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "does not exist while viewing"):
		if strings.Contains(lower, "access key") {
			return KindAccessKeyNotFound
		}
		return KindAccountNotFound
	case strings.Contains(lower, "smart contract panicked"), strings.Contains(lower, "wasm execution failed"):
		return classifyPanic(message)
	default:
		return KindContractPanic
	}
}
