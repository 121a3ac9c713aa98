package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/nearverify/internal/middleware"
	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/verification"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	// List は検証済みアカウントを再検証してページ単位で返す。
	List(ctx context.Context, page, pageSize int) (*model.AccountPage, error)
	// GetAccount は1件の検証済みアカウントを再検証して返す。
	GetAccount(ctx context.Context, accountID string) (*model.AccountWithVerification, error)
	// InvalidateCache は一覧キャッシュを無効化し、削除件数を返す。
	InvalidateCache() int
}

// AccountHandler は検証済みアカウントの参照を処理する。
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

const defaultPageSize = 10

// ListAccounts は検証済みアカウントの一覧を返す。
// GET /api/verification/accounts?page=0&pageSize=10
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	page, ok := queryInt(r, "page", 0)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPaginationError("page must be an integer"))
		return
	}
	pageSize, ok := queryInt(r, "pageSize", defaultPageSize)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPaginationError("pageSize must be an integer"))
		return
	}

	result, err := h.service.List(r.Context(), page, pageSize)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetAccount は1件の検証済みアカウントを返す。
// GET /api/verification/accounts/{accountId}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// invalidateResponse はキャッシュ無効化のAPIレスポンス。
type invalidateResponse struct {
	Removed int `json:"removed"`
}

// InvalidateCache は一覧キャッシュを無効化する。
// POST /api/verification/cache/invalidate
func (h *AccountHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, invalidateResponse{Removed: h.service.InvalidateCache()})
}

// queryInt はクエリパラメータを整数として読む。未指定なら def を返す。
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

var _ AccountServiceInterface = (*verification.Lister)(nil)
