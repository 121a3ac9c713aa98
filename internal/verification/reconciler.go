package verification

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/nearverify/internal/metrics"
	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/security"
	"github.com/hitoshi/nearverify/internal/signature"
)

// クライアントに返す固定メッセージ
const (
	msgInvalidAttestationID = "Invalid attestation ID: must be numeric"
	msgZKUnavailable        = "ZK verification service unavailable, please retry later"
	msgProofInvalid         = "Proof verification failed"
	msgInvalidContextData   = "Invalid user context data"
	msgAccountMismatch      = "Signature account ID does not match verified account"
	msgSignatureInvalid     = "Signature verification failed"
)

var numericPattern = regexp.MustCompile(`^\d+$`)

// Reconciler はオンチェーンの検証レコードを独立に再検証する。
// ZK証明とウォレット署名のチェックは並行に実行する。
type Reconciler struct {
	zk        ProofVerifier
	sig       SignatureVerifier
	sanitizer security.MessageSanitizer
	recipient string
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
// recipientは表示用の既定のNEP-413 recipient。
func NewReconciler(
	zk ProofVerifier,
	sig SignatureVerifier,
	sanitizer security.MessageSanitizer,
	recipient string,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		zk:        zk,
		sig:       sig,
		sanitizer: sanitizer,
		recipient: recipient,
		metrics:   mc,
		logger:    logger,
	}
}

type zkOutcome struct {
	status model.ZKStatus
	err    string
}

type signatureOutcome struct {
	valid bool
	err   string
	data  *model.SignatureData
}

// Reconcile はレコードを再検証する。エラーを返さず、panicも外に出さない。
func (r *Reconciler) Reconcile(ctx context.Context, record model.VerifiedAccountRecord) (result model.AccountWithVerification) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			result = r.failed(record, fmt.Sprintf("%v", p))
		}
		r.metrics.RecordReconcileLatency(time.Since(start))
	}()

	var (
		zk  zkOutcome
		sig signatureOutcome
		g   errgroup.Group
	)
	g.Go(func() (err error) {
		defer recoverInto(&err)
		zk = r.checkZK(ctx, record)
		return nil
	})
	g.Go(func() (err error) {
		defer recoverInto(&err)
		sig = r.checkSignature(ctx, record)
		return nil
	})
	if err := g.Wait(); err != nil {
		return r.failed(record, err.Error())
	}

	verification := model.VerificationResult{
		ZKValid:        zk.status == model.ZKStatusValid,
		SignatureValid: sig.valid,
		ZKStatus:       zk.status,
		ZKError:        zk.err,
		SignatureError: sig.err,
	}
	verification.Error = zk.err
	if verification.Error == "" {
		verification.Error = sig.err
	}

	var proofData *model.ProofData
	if sig.data != nil {
		proofData = r.buildProofData(record, sig.data)
	}

	return model.AccountWithVerification{
		Account:      record,
		Verification: verification,
		ProofData:    proofData,
	}
}

// checkZK はZK証明をCeloの検証コントラクトで再検証する。
func (r *Reconciler) checkZK(ctx context.Context, record model.VerifiedAccountRecord) zkOutcome {
	if !numericPattern.MatchString(record.AttestationID) {
		r.metrics.RecordCheck(metrics.CheckZK, string(model.ZKStatusInvalid))
		return zkOutcome{status: model.ZKStatusInvalid, err: msgInvalidAttestationID}
	}

	res, err := r.zk.Verify(ctx, record.SelfProof, record.AttestationID)
	if err != nil {
		r.logger.Warn("ZK証明の検証サービスに到達できませんでした",
			slog.String("account_id", record.NearAccountID),
			slog.String("error", err.Error()),
		)
		r.metrics.RecordCheck(metrics.CheckZK, string(model.ZKStatusUnavailable))
		return zkOutcome{status: model.ZKStatusUnavailable, err: msgZKUnavailable}
	}

	r.logger.Debug("ZK証明を検証しました",
		slog.String("account_id", record.NearAccountID),
		slog.Bool("valid", res.IsValid),
		slog.String("rpc_url", res.RPCURL),
	)
	if res.IsValid {
		r.metrics.RecordCheck(metrics.CheckZK, string(model.ZKStatusValid))
		return zkOutcome{status: model.ZKStatusValid}
	}

	r.metrics.RecordCheck(metrics.CheckZK, string(model.ZKStatusInvalid))
	msg := r.sanitizer.Sanitize(res.Error)
	if msg == "" {
		msg = msgProofInvalid
	}
	return zkOutcome{status: model.ZKStatusInvalid, err: msg}
}

// checkSignature はuserContextDataに埋め込まれたNEP-413署名を再検証する。
func (r *Reconciler) checkSignature(ctx context.Context, record model.VerifiedAccountRecord) signatureOutcome {
	data, err := signature.ParseUserContextData(record.UserContextData)
	if err != nil {
		r.metrics.RecordCheck(metrics.CheckSignature, "invalid")
		return signatureOutcome{err: msgInvalidContextData}
	}

	if data.AccountID != record.NearAccountID {
		r.metrics.RecordCheck(metrics.CheckSignature, "invalid")
		return signatureOutcome{err: msgAccountMismatch, data: data}
	}

	valid, reason := r.sig.Verify(ctx, signature.Input{
		Challenge: signature.Challenge,
		Signature: data.Signature,
		PublicKey: data.PublicKey,
		Nonce:     data.Nonce,
		AccountID: data.AccountID,
		Recipient: data.Recipient,
	})
	if !valid {
		r.metrics.RecordCheck(metrics.CheckSignature, "invalid")
		msg := r.sanitizer.Sanitize(reason)
		if msg == "" {
			msg = msgSignatureInvalid
		}
		return signatureOutcome{err: msg, data: data}
	}

	r.metrics.RecordCheck(metrics.CheckSignature, "valid")
	return signatureOutcome{valid: true, data: data}
}

func (r *Reconciler) buildProofData(record model.VerifiedAccountRecord, data *model.SignatureData) *model.ProofData {
	recipient := data.Recipient
	if recipient == "" {
		recipient = r.recipient
	}
	signals := record.SelfProof.PublicSignals
	if signals == nil {
		signals = []string{}
	}
	return &model.ProofData{
		Nullifier:     record.Nullifier,
		UserID:        record.UserID,
		AttestationID: record.AttestationID,
		VerifiedAt:    record.VerifiedAt,
		ZKProof:       record.SelfProof.Proof,
		PublicSignals: signals,
		Signature: model.SignatureView{
			AccountID: data.AccountID,
			PublicKey: data.PublicKey,
			Signature: data.Signature,
			Nonce:     data.Nonce,
			Challenge: signature.Challenge,
			Recipient: recipient,
		},
	}
}

// failed は予期しない失敗時の結果を作る。
func (r *Reconciler) failed(record model.VerifiedAccountRecord, msg string) model.AccountWithVerification {
	r.logger.Error("再検証中に予期しないエラーが発生しました",
		slog.String("account_id", record.NearAccountID),
		slog.String("error", msg),
	)
	return model.AccountWithVerification{
		Account: record,
		Verification: model.VerificationResult{
			ZKValid:        false,
			SignatureValid: false,
			ZKStatus:       model.ZKStatusInvalid,
			Error:          r.sanitizer.Sanitize(msg),
		},
		ProofData: nil,
	}
}

// recoverInto はgoroutine内のpanicをエラーに変換する。
func recoverInto(err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("%v", p)
	}
}
