package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/nearverify/internal/middleware"
	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/near"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError はコード、near.ContractError はKindで判定し、それ以外は詳細をログのみに残して500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var contractErr *near.ContractError
	if errors.As(err, &contractErr) {
		status := mapContractErrorToHTTPStatus(contractErr.Kind)
		slog.Warn("contract error",
			slog.String("path", r.URL.Path),
			slog.String("kind", contractErr.Kind.String()),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, status, contractAPIError(contractErr.Kind))
		return
	}

	slog.Error("internal server error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidSession,
		model.ErrCodeInvalidAccountID,
		model.ErrCodeInvalidPagination,
		model.ErrCodeInvalidOutcome:
		return http.StatusBadRequest
	case model.ErrCodeSessionNotFound, model.ErrCodeAccountNotVerified:
		return http.StatusNotFound
	case model.ErrCodeSessionAlreadyFinalized:
		return http.StatusConflict
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// mapContractErrorToHTTPStatus はコントラクトエラーの種別からHTTPステータスコードにマッピングする。
func mapContractErrorToHTTPStatus(kind near.ErrorKind) int {
	switch kind {
	case near.KindNotCitizen:
		return http.StatusForbidden
	case near.KindAlreadyVoted, near.KindVotingClosed:
		return http.StatusConflict
	case near.KindAccountNotFound, near.KindAccessKeyNotFound:
		return http.StatusNotFound
	case near.KindUnavailable:
		return http.StatusServiceUnavailable
	case near.KindContractPanic, near.KindInvalidResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// contractAPIError はコントラクトエラーの種別に対応するクライアント向けエラーを返す。
// コントラクトのpanicメッセージはそのまま返さない。
func contractAPIError(kind near.ErrorKind) *model.APIError {
	apiErr := &model.APIError{
		Code:     "CONTRACT_" + kindCode(kind),
		Category: "system",
	}
	switch kind {
	case near.KindNotCitizen:
		apiErr.Message = "Account is not a verified citizen."
		apiErr.Category = "verification"
		apiErr.Action = "Complete identity verification first."
	case near.KindAlreadyVoted:
		apiErr.Message = "Vote has already been cast."
		apiErr.Category = "verification"
		apiErr.Action = "No further action is required."
	case near.KindVotingClosed:
		apiErr.Message = "Voting is not open."
		apiErr.Category = "verification"
		apiErr.Action = "Check the voting period."
	case near.KindAccountNotFound:
		apiErr.Message = "NEAR account does not exist."
		apiErr.Category = "validation"
		apiErr.Action = "Check the account ID."
	case near.KindAccessKeyNotFound:
		apiErr.Message = "Public key is not an access key of the account."
		apiErr.Category = "validation"
		apiErr.Action = "Sign with a key registered on the account."
	case near.KindUnavailable:
		apiErr.Message = "NEAR RPC is unavailable."
		apiErr.Action = "Please try again later."
	case near.KindContractPanic, near.KindInvalidResponse:
		apiErr.Message = "Unexpected response from the verification contract."
		apiErr.Action = "Please try again later."
	default:
		apiErr.Message = "Unexpected response from the verification contract."
		apiErr.Action = "Please try again later."
	}
	return apiErr
}

func kindCode(kind near.ErrorKind) string {
	switch kind {
	case near.KindNotCitizen:
		return "NOT_CITIZEN"
	case near.KindAlreadyVoted:
		return "ALREADY_VOTED"
	case near.KindVotingClosed:
		return "VOTING_CLOSED"
	case near.KindAccountNotFound:
		return "ACCOUNT_NOT_FOUND"
	case near.KindAccessKeyNotFound:
		return "ACCESS_KEY_NOT_FOUND"
	case near.KindUnavailable:
		return "UNAVAILABLE"
	case near.KindContractPanic:
		return "PANIC"
	case near.KindInvalidResponse:
		return "INVALID_RESPONSE"
	default:
		return "UNKNOWN"
	}
}
