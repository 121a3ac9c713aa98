// Package signature はNEP-413ウォレット署名の検証機能を提供する。
package signature

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/nearverify/internal/model"
)

// selfHeaderHexLength はSelfのuserContextDataの先頭（chain id 32バイト + user identifier 32バイト）のhex長。
const selfHeaderHexLength = 128

// ErrInvalidContextData はuserContextDataから署名バンドルを取り出せない場合のエラー。
var ErrInvalidContextData = errors.New("invalid user context data")

// ParseUserContextData はuserContextDataから署名バンドルを取り出す。
// Selfのhex形式（ヘッダ64バイトの後にhex化したJSON）と、生のJSONの両方を受け付ける。
func ParseUserContextData(data string) (*model.SignatureData, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidContextData)
	}

	var raw []byte
	if strings.HasPrefix(data, "{") {
		raw = []byte(data)
	} else {
		decoded, err := decodeSelfContextData(data)
		if err != nil {
			return nil, err
		}
		raw = decoded
	}

	var sig model.SignatureData
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContextData, err)
	}
	if sig.AccountID == "" || sig.PublicKey == "" || sig.Signature == "" || sig.Nonce == "" {
		return nil, fmt.Errorf("%w: missing signature fields", ErrInvalidContextData)
	}
	return &sig, nil
}

func decodeSelfContextData(data string) ([]byte, error) {
	data = strings.TrimPrefix(strings.TrimPrefix(data, "0x"), "0X")
	if len(data) <= selfHeaderHexLength {
		return nil, fmt.Errorf("%w: too short", ErrInvalidContextData)
	}
	payload, err := hex.DecodeString(data[selfHeaderHexLength:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContextData, err)
	}
	// 固定長フィールドのゼロ埋めを除去
	return bytes.Trim(payload, "\x00"), nil
}
