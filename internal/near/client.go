// Package near はNEAR JSON-RPCとの連携機能を提供する。
// view関数の呼び出し、アクセスキーの参照、エラーの分類を含む。
package near

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultRPCURL はNEARメインネットのRPCエンドポイント。
	DefaultRPCURL = "https://rpc.mainnet.near.org"
	// maxResponseBytes はRPCレスポンスボディの上限。
	maxResponseBytes = 8 << 20
)

// Client はNEAR JSON-RPCのクライアント。
// すべてのクエリは finality=final で実行する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(endpoint string, httpClient *http.Client, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultRPCURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// NewHTTPClient はトレース計装済みのHTTPクライアントを生成する。
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcErrorCause struct {
	Name string          `json:"name"`
	Info json.RawMessage `json:"info"`
}

type rpcError struct {
	Name    string          `json:"name"`
	Cause   *rpcErrorCause  `json:"cause"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// detail はエラーの詳細メッセージを取り出す。
// vm_error、data（文字列）、messageの順に参照する。
func (e *rpcError) detail() string {
	if e.Cause != nil && len(e.Cause.Info) > 0 {
		var info struct {
			VMError      string `json:"vm_error"`
			ErrorMessage string `json:"error_message"`
		}
		if err := json.Unmarshal(e.Cause.Info, &info); err == nil {
			if info.VMError != "" {
				return info.VMError
			}
			if info.ErrorMessage != "" {
				return info.ErrorMessage
			}
		}
	}
	var data string
	if err := json.Unmarshal(e.Data, &data); err == nil && data != "" {
		return data
	}
	return e.Message
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// query はRPCの query メソッドを呼び出し、resultフィールドを返す。
// 旧形式の result.error もここでContractErrorに変換する。
func (c *Client) query(ctx context.Context, label string, params map[string]any) (json.RawMessage, error) {
	params["finality"] = "final"
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "nearverify",
		Method:  "query",
		Params:  params,
	})
	if err != nil {
		return nil, &ContractError{Kind: KindInvalidResponse, Method: label, Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &ContractError{Kind: KindUnavailable, Method: label, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("NEAR RPCの呼び出しに失敗しました",
			slog.String("method", label),
			slog.String("error", err.Error()),
		)
		return nil, &ContractError{Kind: KindUnavailable, Method: label, Message: "rpc request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ContractError{Kind: KindUnavailable, Method: label, Message: "failed to read response", Err: err}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			c.logger.Error("NEAR RPCがエラーステータスを返しました",
				slog.String("method", label),
				slog.Int("http_status", resp.StatusCode),
			)
			return nil, &ContractError{Kind: KindUnavailable, Method: label, Message: fmt.Sprintf("rpc returned status %d", resp.StatusCode)}
		}
		return nil, &ContractError{Kind: KindInvalidResponse, Method: label, Message: "malformed rpc response", Err: err}
	}

	if rpcResp.Error != nil {
		cause := rpcResp.Error.Name
		if rpcResp.Error.Cause != nil {
			cause = rpcResp.Error.Cause.Name
		}
		detail := rpcResp.Error.detail()
		kind := classifyCause(cause, detail)
		c.logger.Warn("NEAR RPCがエラーを返しました",
			slog.String("method", label),
			slog.String("cause", cause),
			slog.String("kind", kind.String()),
		)
		return nil, &ContractError{Kind: kind, Method: label, Message: detail}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ContractError{Kind: KindUnavailable, Method: label, Message: fmt.Sprintf("rpc returned status %d", resp.StatusCode)}
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil, &ContractError{Kind: KindInvalidResponse, Method: label, Message: "empty rpc result"}
	}

	var legacy struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rpcResp.Result, &legacy); err == nil && legacy.Error != "" {
		kind := classifyLegacyError(legacy.Error)
		c.logger.Warn("NEAR RPCがエラーを返しました",
			slog.String("method", label),
			slog.String("kind", kind.String()),
		)
		return nil, &ContractError{Kind: kind, Method: label, Message: legacy.Error}
	}

	return rpcResp.Result, nil
}

// CallView はコントラクトのview関数を呼び出し、戻り値のJSONをoutにデコードする。
func (c *Client) CallView(ctx context.Context, contractID, method string, args any, out any) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return &ContractError{Kind: KindInvalidResponse, Method: method, Message: "failed to encode arguments", Err: err}
	}

	result, err := c.query(ctx, method, map[string]any{
		"request_type": "call_function",
		"account_id":   contractID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
	})
	if err != nil {
		return err
	}

	// 戻り値はバイト列が数値配列として返る
	var call struct {
		Result []int `json:"result"`
	}
	if err := json.Unmarshal(result, &call); err != nil {
		return &ContractError{Kind: KindInvalidResponse, Method: method, Message: "malformed call_function result", Err: err}
	}
	raw := make([]byte, len(call.Result))
	for i, b := range call.Result {
		if b < 0 || b > 255 {
			return &ContractError{Kind: KindInvalidResponse, Method: method, Message: "result byte out of range"}
		}
		raw[i] = byte(b)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ContractError{Kind: KindInvalidResponse, Method: method, Message: "failed to decode return value", Err: err}
	}
	return nil
}

// AccessKey はアカウントに登録されたアクセスキー。
type AccessKey struct {
	Nonce      uint64
	FullAccess bool
}

// ViewAccessKey はアカウントに登録された公開鍵のアクセスキー情報を取得する。
// 登録されていない場合は KindAccessKeyNotFound のContractErrorを返す。
func (c *Client) ViewAccessKey(ctx context.Context, accountID, publicKey string) (*AccessKey, error) {
	const label = "view_access_key"
	result, err := c.query(ctx, label, map[string]any{
		"request_type": "view_access_key",
		"account_id":   accountID,
		"public_key":   publicKey,
	})
	if err != nil {
		return nil, err
	}

	var view struct {
		Nonce      uint64          `json:"nonce"`
		Permission json.RawMessage `json:"permission"`
	}
	if err := json.Unmarshal(result, &view); err != nil {
		return nil, &ContractError{Kind: KindInvalidResponse, Method: label, Message: "malformed access key view", Err: err}
	}

	// permission は "FullAccess" か {"FunctionCall": {...}}
	var permission string
	fullAccess := json.Unmarshal(view.Permission, &permission) == nil && permission == "FullAccess"

	return &AccessKey{Nonce: view.Nonce, FullAccess: fullAccess}, nil
}
