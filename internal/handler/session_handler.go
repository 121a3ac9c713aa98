package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/nearverify/internal/middleware"
	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/verification"
)

// maxRequestBodyBytes はリクエストボディの上限。
const maxRequestBodyBytes = 16 << 10

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	// CreateSession は pending のセッションを作成し、そのIDを返す。
	CreateSession(ctx context.Context, accountID string) (string, *model.VerificationSession, error)
	// Finalize は検証プロバイダの結果でセッションを確定する。
	Finalize(ctx context.Context, sessionID string, outcome verification.Outcome) (*model.VerificationSession, error)
}

// SessionHandler は検証セッションの作成と結果受信を処理する。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// createSessionRequest はセッション作成リクエストのボディ。ボディ自体を省略してもよい。
type createSessionRequest struct {
	AccountID string `json:"accountId"`
}

// sessionResponse はセッションのAPIレスポンス。
type sessionResponse struct {
	SessionID     string                 `json:"sessionId"`
	Status        model.SessionStatus    `json:"status"`
	AccountID     string                 `json:"accountId,omitempty"`
	AttestationID string                 `json:"attestationId,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ErrorCode     model.SessionErrorCode `json:"errorCode,omitempty"`
}

func toSessionResponse(id string, s *model.VerificationSession) sessionResponse {
	return sessionResponse{
		SessionID:     id,
		Status:        s.Status,
		AccountID:     s.AccountID,
		AttestationID: s.AttestationID,
		Error:         s.Error,
		ErrorCode:     s.ErrorCode,
	}
}

// CreateSession は新しい検証セッションを作成する。
// POST /api/verification/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidBodyError())
		return
	}

	id, session, err := h.service.CreateSession(r.Context(), req.AccountID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(id, session))
}

// SubmitResult は検証プロバイダからの結果コールバックを受け取る。
// POST /api/verification/sessions/{sessionId}/result
func (h *SessionHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var outcome verification.Outcome
	if err := decodeJSON(r, &outcome); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidBodyError())
		return
	}

	session, err := h.service.Finalize(r.Context(), sessionID, outcome)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(sessionID, session))
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(v)
}

// decodeOptionalJSON は空ボディを許容する decodeJSON。
func decodeOptionalJSON(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func invalidBodyError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST_BODY",
		Message:  "Request body is not valid JSON.",
		Category: "validation",
		Action:   "Check the request payload.",
	}
}
