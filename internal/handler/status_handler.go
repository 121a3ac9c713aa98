package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/verification"
)

// StatusServiceInterface はステータスハンドラーが必要とするサービスインターフェース。
type StatusServiceInterface interface {
	// GetStatus はセッションの状態を返す。accountID が一致すれば自己修復を試みる。
	GetStatus(ctx context.Context, sessionID, accountID string) (*verification.StatusResponse, error)
}

// StatusHandler は検証ステータスのポーリングを処理する。
type StatusHandler struct {
	service StatusServiceInterface
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(service StatusServiceInterface) *StatusHandler {
	return &StatusHandler{service: service}
}

// statusErrorResponse はポーリングのエラー応答。
// クライアントは status だけで分岐できるよう、エラー時も同じ形で返す。
type statusErrorResponse struct {
	Status model.SessionStatus `json:"status"`
	Error  string              `json:"error"`
}

const statusStatusError model.SessionStatus = "error"

// GetStatus はセッションのステータスを返す。
// GET /api/verification/status?sessionId=...&accountId=...
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.service.GetStatus(r.Context(), q.Get("sessionId"), q.Get("accountId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeInvalidSession:
			writeJSON(w, http.StatusBadRequest, statusErrorResponse{
				Status: statusStatusError,
				Error:  apiErr.Message,
			})
			return
		case model.ErrCodeSessionNotFound:
			writeJSON(w, http.StatusNotFound, statusErrorResponse{
				Status: model.SessionStatusExpired,
				Error:  apiErr.Message,
			})
			return
		}
	}

	slog.Error("status lookup failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, statusErrorResponse{
		Status: statusStatusError,
		Error:  "Internal server error.",
	})
}
