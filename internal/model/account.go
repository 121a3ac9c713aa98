package model

// ZKProof はGroth16証明の (a, b, c) 三つ組。snarkjs形式の10進文字列で保持する。
type ZKProof struct {
	A [2]string    `json:"a"`
	B [2][2]string `json:"b"`
	C [2]string    `json:"c"`
}

// SelfProof はSelfのZK証明と公開シグナル。
type SelfProof struct {
	Proof         ZKProof  `json:"proof"`
	PublicSignals []string `json:"public_signals"`
}

// VerifiedAccountRecord はコントラクトに保存された検証済みアカウント。
// このサービスからは読み取り専用。nullifierの一意性はコントラクトが保証する。
type VerifiedAccountRecord struct {
	NearAccountID   string    `json:"near_account_id"`
	Nullifier       string    `json:"nullifier"`
	UserID          string    `json:"user_id"`
	AttestationID   string    `json:"attestation_id"`
	VerifiedAt      uint64    `json:"verified_at"` // ナノ秒（NEARのブロックタイムスタンプ）
	SelfProof       SelfProof `json:"self_proof"`
	UserContextData string    `json:"user_context_data"`
}

// ZKStatus はZK再検証の結果区分。
type ZKStatus string

const (
	ZKStatusValid       ZKStatus = "valid"
	ZKStatusInvalid     ZKStatus = "invalid"
	ZKStatusUnavailable ZKStatus = "unavailable" // 検証サービスに到達できなかった
)

// VerificationResult は1件の再検証結果。永続化しない。
//
// Error はZKのエラーを優先し、なければ署名のエラーを入れる。
// 両方の失敗を区別したいクライアントは ZKError / SignatureError を参照する。
type VerificationResult struct {
	ZKValid        bool     `json:"zkValid"`
	SignatureValid bool     `json:"signatureValid"`
	ZKStatus       ZKStatus `json:"zkStatus"`
	Error          string   `json:"error,omitempty"`
	ZKError        string   `json:"zkError,omitempty"`
	SignatureError string   `json:"signatureError,omitempty"`
}

// SignatureData はuserContextDataに埋め込まれたNEP-413署名バンドル。
type SignatureData struct {
	AccountID string `json:"accountId"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
	Recipient string `json:"recipient,omitempty"`
}

// SignatureView は表示用の署名情報。
type SignatureView struct {
	AccountID string `json:"accountId"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
	Challenge string `json:"challenge"`
	Recipient string `json:"recipient"`
}

// ProofData はUI表示用に整形した証明と署名のメタデータ。
type ProofData struct {
	Nullifier     string        `json:"nullifier"`
	UserID        string        `json:"userId"`
	AttestationID string        `json:"attestationId"`
	VerifiedAt    uint64        `json:"verifiedAt"`
	ZKProof       ZKProof       `json:"zkProof"`
	PublicSignals []string      `json:"publicSignals"`
	Signature     SignatureView `json:"signature"`
}

// AccountWithVerification は検証済みアカウントと再検証結果の組。
type AccountWithVerification struct {
	Account      VerifiedAccountRecord `json:"account"`
	Verification VerificationResult    `json:"verification"`
	ProofData    *ProofData            `json:"proofData"`
}

// AccountPage はページネーションされた一覧結果。
type AccountPage struct {
	Accounts []AccountWithVerification `json:"accounts"`
	Total    int                       `json:"total"`
	Page     int                       `json:"page"`
	PageSize int                       `json:"pageSize"`
}
