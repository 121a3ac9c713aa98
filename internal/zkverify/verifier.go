// Package zkverify はCelo上のSelf検証コントラクトでZK証明を再検証する。
package zkverify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hitoshi/nearverify/internal/model"
)

// DefaultRPCURLs はCeloメインネットの公開RPCエンドポイント。
var DefaultRPCURLs = []string{
	"https://forno.celo.org",
	"https://rpc.ankr.com/celo",
}

// DefaultHubAddress はSelfのIdentityVerificationHubのアドレス（Celoメインネット）。
const DefaultHubAddress = "0xe57F4773bd9c9d8b6Cd70431117d353298B9f5BF"

// revertErrorCode はeth_callのrevertを示すJSON-RPCエラーコード。
const revertErrorCode = 3

// ErrAllRPCFailed はすべてのRPCエンドポイントに到達できなかった場合のエラー。
var ErrAllRPCFailed = errors.New("all celo rpc endpoints failed")

// ContractCaller はeth_callを実行する。*ethclient.Client が実装する。
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dialer はRPCエンドポイントへのクライアントを生成する。
type Dialer func(ctx context.Context, rpcURL string) (ContractCaller, error)

// DialEthClient はgo-ethereumのethclientでRPCに接続する。
func DialEthClient(ctx context.Context, rpcURL string) (ContractCaller, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Result はZK証明の検証結果。
// RPCURL はサーバーログ専用で、クライアントへのレスポンスには含めない。
type Result struct {
	IsValid bool
	Error   string
	RPCURL  string
}

// Config はVerifierの設定。
type Config struct {
	RPCURLs    []string
	HubAddress string
	Timeout    time.Duration // 1エンドポイントあたりのタイムアウト
}

// Verifier はSelfのハブから検証コントラクトを引き、verifyProof を eth_call する。
// RPCエンドポイントは設定順に試し、通信エラーの場合のみ次のエンドポイントに進む。
type Verifier struct {
	rpcURLs []string
	hub     common.Address
	timeout time.Duration
	dial    Dialer
	logger  *slog.Logger

	mu      sync.Mutex
	callers map[string]ContractCaller
}

// NewVerifier はVerifierの新しいインスタンスを生成する。
func NewVerifier(cfg Config, dial Dialer, logger *slog.Logger) *Verifier {
	urls := cfg.RPCURLs
	if len(urls) == 0 {
		urls = DefaultRPCURLs
	}
	hub := cfg.HubAddress
	if hub == "" {
		hub = DefaultHubAddress
	}
	if dial == nil {
		dial = DialEthClient
	}
	return &Verifier{
		rpcURLs: urls,
		hub:     common.HexToAddress(hub),
		timeout: cfg.Timeout,
		dial:    dial,
		logger:  logger,
		callers: make(map[string]ContractCaller),
	}
}

// Verify は証明を検証する。
// revertやfalseは確定した無効結果として返し、全エンドポイントへの到達失敗のみエラーを返す。
func (v *Verifier) Verify(ctx context.Context, proof model.SelfProof, attestationID string) (*Result, error) {
	call, err := buildVerifyCall(proof)
	if err != nil {
		return &Result{IsValid: false, Error: fmt.Sprintf("Malformed proof: %v", err)}, nil
	}
	attestation, err := attestationKey(attestationID)
	if err != nil {
		return &Result{IsValid: false, Error: fmt.Sprintf("Invalid attestation ID: %v", err)}, nil
	}

	var lastErr error
	for _, rpcURL := range v.rpcURLs {
		result, err := v.verifyWith(ctx, rpcURL, attestation, call)
		if err == nil {
			result.RPCURL = rpcURL
			return result, nil
		}
		lastErr = err
		v.logger.Warn("Celo RPCでの検証に失敗しました",
			slog.String("rpc_url", rpcURL),
			slog.String("error", err.Error()),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllRPCFailed, lastErr)
}

// verifyWith は1つのエンドポイントで検証する。
// 戻り値のエラーは通信エラーのみ。
func (v *Verifier) verifyWith(ctx context.Context, rpcURL string, attestation [32]byte, call []byte) (*Result, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	caller, err := v.caller(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	hubCall, err := discloseVerifierCall(attestation)
	if err != nil {
		return nil, err
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &v.hub, Data: hubCall}, nil)
	if err != nil {
		if isRevert(err) {
			return &Result{IsValid: false, Error: "No verifier registered for attestation"}, nil
		}
		return nil, err
	}
	verifierAddr, err := unpackAddress(out)
	if err != nil || verifierAddr == (common.Address{}) {
		return &Result{IsValid: false, Error: "No verifier registered for attestation"}, nil
	}

	out, err = caller.CallContract(ctx, ethereum.CallMsg{To: &verifierAddr, Data: call}, nil)
	if err != nil {
		if isRevert(err) {
			return &Result{IsValid: false, Error: "Proof rejected by verifier"}, nil
		}
		return nil, err
	}
	ok, err := unpackBool(out)
	if err != nil {
		return &Result{IsValid: false, Error: "Unexpected verifier response"}, nil
	}
	if !ok {
		return &Result{IsValid: false, Error: "Proof verification failed"}, nil
	}
	return &Result{IsValid: true}, nil
}

func (v *Verifier) caller(ctx context.Context, rpcURL string) (ContractCaller, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if c, ok := v.callers[rpcURL]; ok {
		return c, nil
	}
	c, err := v.dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	v.callers[rpcURL] = c
	return c, nil
}

// isRevert はeth_callのエラーがrevertかどうかを判定する。
func isRevert(err error) bool {
	var coded interface{ ErrorCode() int }
	return errors.As(err, &coded) && coded.ErrorCode() == revertErrorCode
}

var (
	pairTy, _     = abi.NewType("uint256[2]", "", nil)
	pairPairTy, _ = abi.NewType("uint256[2][2]", "", nil)
	bytes32Ty, _  = abi.NewType("bytes32", "", nil)
	addressTy, _  = abi.NewType("address", "", nil)
	boolTy, _     = abi.NewType("bool", "", nil)
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func discloseVerifierCall(attestation [32]byte) ([]byte, error) {
	args, err := abi.Arguments{{Type: bytes32Ty}}.Pack(attestation)
	if err != nil {
		return nil, fmt.Errorf("discloseVerifier の引数エンコードに失敗しました: %w", err)
	}
	return append(selector("discloseVerifier(bytes32)"), args...), nil
}

// buildVerifyCall は verifyProof(uint256[2],uint256[2][2],uint256[2],uint256[N]) のcalldataを作る。
// snarkjsの pi_b は座標の順序がSolidityと逆なので入れ替える。
func buildVerifyCall(proof model.SelfProof) ([]byte, error) {
	if len(proof.PublicSignals) == 0 {
		return nil, errors.New("no public signals")
	}

	a, err := parsePair(proof.Proof.A)
	if err != nil {
		return nil, fmt.Errorf("a: %w", err)
	}
	b0, err := parsePair([2]string{proof.Proof.B[0][1], proof.Proof.B[0][0]})
	if err != nil {
		return nil, fmt.Errorf("b: %w", err)
	}
	b1, err := parsePair([2]string{proof.Proof.B[1][1], proof.Proof.B[1][0]})
	if err != nil {
		return nil, fmt.Errorf("b: %w", err)
	}
	c, err := parsePair(proof.Proof.C)
	if err != nil {
		return nil, fmt.Errorf("c: %w", err)
	}
	signals := make([]*big.Int, len(proof.PublicSignals))
	for i, s := range proof.PublicSignals {
		n, err := parseUint256(s)
		if err != nil {
			return nil, fmt.Errorf("public signal %d: %w", i, err)
		}
		signals[i] = n
	}

	signalsType := fmt.Sprintf("uint256[%d]", len(signals))
	signalsTy, err := abi.NewType(signalsType, "", nil)
	if err != nil {
		return nil, err
	}
	args, err := abi.Arguments{
		{Type: pairTy},
		{Type: pairPairTy},
		{Type: pairTy},
		{Type: signalsTy},
	}.Pack(a, [2][2]*big.Int{b0, b1}, c, signals)
	if err != nil {
		return nil, fmt.Errorf("verifyProof の引数エンコードに失敗しました: %w", err)
	}

	signature := "verifyProof(uint256[2],uint256[2][2],uint256[2]," + signalsType + ")"
	return append(selector(signature), args...), nil
}

func parsePair(p [2]string) ([2]*big.Int, error) {
	var out [2]*big.Int
	for i, s := range p {
		n, err := parseUint256(s)
		if err != nil {
			return out, err
		}
		out[i] = n
	}
	return out, nil
}

// maxUint256 は 2^256 - 1。
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// parseUint256 は10進または0x付き16進の文字列をuint256として解釈する。
func parseUint256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok || n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("not a uint256: %q", s)
	}
	return n, nil
}

// attestationKey は数値のattestation IDをbytes32に変換する。
func attestationKey(attestationID string) ([32]byte, error) {
	var key [32]byte
	n, err := parseUint256(attestationID)
	if err != nil {
		return key, err
	}
	n.FillBytes(key[:])
	return key, nil
}

func unpackAddress(out []byte) (common.Address, error) {
	values, err := abi.Arguments{{Type: addressTy}}.Unpack(out)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("unexpected address type")
	}
	return addr, nil
}

func unpackBool(out []byte) (bool, error) {
	values, err := abi.Arguments{{Type: boolTy}}.Unpack(out)
	if err != nil {
		return false, err
	}
	ok, isBool := values[0].(bool)
	if !isBool {
		return false, errors.New("unexpected bool type")
	}
	return ok, nil
}
