package signature

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"log/slog"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/hitoshi/nearverify/internal/near"
)

// mockAccessKeyViewer はAccessKeyViewerのモック実装。
type mockAccessKeyViewer struct {
	viewFn func(ctx context.Context, accountID, publicKey string) (*near.AccessKey, error)
}

func (m *mockAccessKeyViewer) ViewAccessKey(ctx context.Context, accountID, publicKey string) (*near.AccessKey, error) {
	return m.viewFn(ctx, accountID, publicKey)
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

type testWallet struct {
	priv      ed25519.PrivateKey
	publicKey string
}

func newTestWallet() testWallet {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	pub := priv.Public().(ed25519.PublicKey)
	return testWallet{priv: priv, publicKey: "ed25519:" + base58.Encode(pub)}
}

var testNonce = bytes.Repeat([]byte{0xAB}, nonceSize)

// sign はウォレットと同じ手順でNEP-413署名を作る。
func (w testWallet) sign(t *testing.T, message, recipient string) Input {
	t.Helper()
	var nonce [nonceSize]byte
	copy(nonce[:], testNonce)
	hash, err := payloadHash(message, nonce, recipient)
	if err != nil {
		t.Fatalf("payloadHash: %v", err)
	}
	return Input{
		Challenge: message,
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(w.priv, hash)),
		PublicKey: w.publicKey,
		Nonce:     base64.StdEncoding.EncodeToString(testNonce),
		AccountID: "alice.near",
		Recipient: recipient,
	}
}

func TestPayloadHash_MatchesManualEncoding(t *testing.T) {
	var nonce [nonceSize]byte
	copy(nonce[:], testNonce)

	got, err := payloadHash(Challenge, nonce, "app.near")
	if err != nil {
		t.Fatalf("payloadHash: %v", err)
	}

	var expected bytes.Buffer
	expected.Write([]byte{0x9D, 0x01, 0x00, 0x80})
	binary.Write(&expected, binary.LittleEndian, uint32(len(Challenge)))
	expected.WriteString(Challenge)
	expected.Write(nonce[:])
	binary.Write(&expected, binary.LittleEndian, uint32(len("app.near")))
	expected.WriteString("app.near")
	expected.WriteByte(0) // callbackUrl: None
	want := sha256.Sum256(expected.Bytes())

	if !bytes.Equal(got, want[:]) {
		t.Errorf("payloadHash = %x, want %x", got, want)
	}
}

func TestVerifier_Verify_ValidSignature(t *testing.T) {
	w := newTestWallet()
	v := NewVerifier("app.near", nil, newTestLogger())

	in := w.sign(t, Challenge, "app.near")
	valid, reason := v.Verify(context.Background(), in)
	if !valid {
		t.Fatalf("Verify = false (%s), want true", reason)
	}
}

func TestVerifier_Verify_DefaultRecipient(t *testing.T) {
	w := newTestWallet()
	v := NewVerifier("app.near", nil, newTestLogger())

	in := w.sign(t, Challenge, "app.near")
	in.Recipient = ""
	if valid, reason := v.Verify(context.Background(), in); !valid {
		t.Fatalf("Verify = false (%s), want true", reason)
	}
}

func TestVerifier_Verify_Rejects(t *testing.T) {
	w := newTestWallet()
	other := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{9}, ed25519.SeedSize))

	tests := []struct {
		name   string
		mutate func(in *Input)
		reason string
	}{
		{"wrong challenge", func(in *Input) { in.Challenge = "Identify yourself" }, reasonMismatch},
		{"wrong recipient", func(in *Input) { in.Recipient = "evil.near" }, reasonMismatch},
		{"other key", func(in *Input) { in.PublicKey = "ed25519:" + base58.Encode(other.Public().(ed25519.PublicKey)) }, reasonMismatch},
		{"missing key prefix", func(in *Input) { in.PublicKey = in.PublicKey[len("ed25519:"):] }, reasonInvalidPublicKey},
		{"bad base58", func(in *Input) { in.PublicKey = "ed25519:0OIl" }, reasonInvalidPublicKey},
		{"bad signature encoding", func(in *Input) { in.Signature = "!!!" }, reasonInvalidSignature},
		{"short nonce", func(in *Input) { in.Nonce = base64.StdEncoding.EncodeToString([]byte("short")) }, reasonInvalidNonce},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier("app.near", nil, newTestLogger())
			in := w.sign(t, Challenge, "app.near")
			tt.mutate(&in)

			valid, reason := v.Verify(context.Background(), in)
			if valid {
				t.Fatal("Verify = true, want false")
			}
			if reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

func TestVerifier_Verify_KeyOwnership(t *testing.T) {
	w := newTestWallet()

	tests := []struct {
		name      string
		viewFn    func(ctx context.Context, accountID, publicKey string) (*near.AccessKey, error)
		wantValid bool
		reason    string
	}{
		{
			name: "full access key",
			viewFn: func(ctx context.Context, accountID, publicKey string) (*near.AccessKey, error) {
				return &near.AccessKey{FullAccess: true}, nil
			},
			wantValid: true,
		},
		{
			name: "function call key",
			viewFn: func(ctx context.Context, accountID, publicKey string) (*near.AccessKey, error) {
				return &near.AccessKey{FullAccess: false}, nil
			},
			reason: reasonNotFullAccess,
		},
		{
			name: "unknown key",
			viewFn: func(ctx context.Context, accountID, publicKey string) (*near.AccessKey, error) {
				return nil, &near.ContractError{Kind: near.KindAccessKeyNotFound, Method: "view_access_key"}
			},
			reason: reasonKeyNotRegistered,
		},
		{
			name: "rpc unavailable keeps cryptographic result",
			viewFn: func(ctx context.Context, accountID, publicKey string) (*near.AccessKey, error) {
				return nil, &near.ContractError{Kind: near.KindUnavailable, Method: "view_access_key"}
			},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAccount, gotKey string
			keys := &mockAccessKeyViewer{
				viewFn: func(ctx context.Context, accountID, publicKey string) (*near.AccessKey, error) {
					gotAccount, gotKey = accountID, publicKey
					return tt.viewFn(ctx, accountID, publicKey)
				},
			}
			v := NewVerifier("app.near", keys, newTestLogger())

			valid, reason := v.Verify(context.Background(), w.sign(t, Challenge, "app.near"))
			if valid != tt.wantValid {
				t.Errorf("valid = %v, want %v", valid, tt.wantValid)
			}
			if reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
			if gotAccount != "alice.near" || gotKey != w.publicKey {
				t.Errorf("ViewAccessKey(%q, %q)", gotAccount, gotKey)
			}
		})
	}
}

func TestVerifier_Verify_BadSignatureSkipsOwnershipCheck(t *testing.T) {
	w := newTestWallet()
	called := false
	keys := &mockAccessKeyViewer{
		viewFn: func(ctx context.Context, accountID, publicKey string) (*near.AccessKey, error) {
			called = true
			return &near.AccessKey{FullAccess: true}, nil
		},
	}
	v := NewVerifier("app.near", keys, newTestLogger())

	in := w.sign(t, Challenge, "app.near")
	in.Challenge = "tampered"
	if valid, _ := v.Verify(context.Background(), in); valid {
		t.Error("Verify = true, want false")
	}
	if called {
		t.Error("署名不一致の場合はアクセスキーを参照してはならない")
	}
}
