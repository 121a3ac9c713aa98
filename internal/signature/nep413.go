package signature

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
)

const (
	// Challenge はウォレットに署名させるメッセージ。
	Challenge = "Identify myself"
	// nep413Tag は NEP-413 ペイロードの接頭辞 (2^31 + 413)。
	nep413Tag        uint32 = 1<<31 + 413
	nonceSize               = 32
	ed25519KeyPrefix        = "ed25519:"
)

// payload はNEP-413で署名対象となるborshシリアライズ構造体。フィールド順が仕様。
type payload struct {
	Tag         uint32
	Message     string
	Nonce       [nonceSize]byte
	Recipient   string
	CallbackURL *string
}

// payloadHash は署名対象のSHA-256ハッシュを返す。
func payloadHash(message string, nonce [nonceSize]byte, recipient string) ([]byte, error) {
	encoded, err := borsh.Serialize(payload{
		Tag:       nep413Tag,
		Message:   message,
		Nonce:     nonce,
		Recipient: recipient,
	})
	if err != nil {
		return nil, fmt.Errorf("NEP-413ペイロードのシリアライズに失敗しました: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return sum[:], nil
}

// 不一致の理由。VerificationResult.SignatureError にそのまま入る。
const (
	reasonInvalidPublicKey = "Invalid public key format"
	reasonInvalidSignature = "Invalid signature encoding"
	reasonInvalidNonce     = "Invalid nonce: must be 32 bytes"
	reasonMismatch         = "Signature does not match"
	reasonKeyNotRegistered = "Public key is not registered to account"
	reasonNotFullAccess    = "Public key is not a full access key"
)

var (
	errInvalidPublicKey = errors.New("invalid public key")
	errInvalidSignature = errors.New("invalid signature")
	errInvalidNonce     = errors.New("invalid nonce")
)

// parsePublicKey は "ed25519:<base58>" 形式の公開鍵をデコードする。
func parsePublicKey(s string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(s, ed25519KeyPrefix) {
		return nil, errInvalidPublicKey
	}
	key, err := base58.Decode(strings.TrimPrefix(s, ed25519KeyPrefix))
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, errInvalidPublicKey
	}
	return ed25519.PublicKey(key), nil
}

func parseSignature(s string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, errInvalidSignature
	}
	return sig, nil
}

func parseNonce(s string) ([nonceSize]byte, error) {
	var nonce [nonceSize]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != nonceSize {
		return nonce, errInvalidNonce
	}
	copy(nonce[:], raw)
	return nonce, nil
}
