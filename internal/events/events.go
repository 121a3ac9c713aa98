// Package events は検証完了イベントのNATS配信を提供する。
// 複数インスタンス構成で一覧キャッシュの無効化を伝播するために使う。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectVerificationCompleted は検証完了イベントのサブジェクト。
const SubjectVerificationCompleted = "verification.completed"

// VerificationCompleted はセッションが success で終端したことを表すイベント。
type VerificationCompleted struct {
	SessionID     string    `json:"session_id"`
	AccountID     string    `json:"account_id"`
	AttestationID string    `json:"attestation_id,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Publisher は検証完了イベントを配信する。
type Publisher interface {
	PublishVerificationCompleted(ctx context.Context, event VerificationCompleted) error
}

// connection はnats.Connのうち使用するメソッド。
type connection interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// Bus はNATS上のPublisher / Subscriber実装。
type Bus struct {
	conn   connection
	logger *slog.Logger
}

// Connect はNATSに接続してBusを生成する。
func Connect(url string, logger *slog.Logger) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name("nearverify"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATSから切断されました", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATSに再接続しました", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("NATSへの接続に失敗しました: %w", err)
	}

	logger.Info("NATSに接続しました", slog.String("url", url))
	return &Bus{conn: conn, logger: logger}, nil
}

// PublishVerificationCompleted は検証完了イベントを配信する。
func (b *Bus) PublishVerificationCompleted(ctx context.Context, event VerificationCompleted) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("検証完了イベントのシリアライズに失敗しました: %w", err)
	}

	if err := b.conn.Publish(SubjectVerificationCompleted, data); err != nil {
		b.logger.Error("検証完了イベントの配信に失敗しました",
			slog.String("session_id", event.SessionID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("検証完了イベントの配信に失敗しました: %w", err)
	}

	b.logger.Debug("検証完了イベントを配信しました", slog.String("session_id", event.SessionID))
	return nil
}

// SubscribeVerificationCompleted は検証完了イベントを購読する。
// デコードできないメッセージはログに記録して読み捨てる。
func (b *Bus) SubscribeVerificationCompleted(handler func(VerificationCompleted)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(SubjectVerificationCompleted, func(msg *nats.Msg) {
		var event VerificationCompleted
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("検証完了イベントのデコードに失敗しました", slog.String("error", err.Error()))
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("検証完了イベントの購読に失敗しました: %w", err)
	}
	return sub, nil
}

// Close はNATS接続を閉じる。
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
		b.logger.Info("NATS接続を閉じました")
	}
}

// Noop はNATS未設定時のPublisher。何も配信しない。
type Noop struct{}

// PublishVerificationCompleted はPublisherインターフェースを実装する。
func (Noop) PublishVerificationCompleted(ctx context.Context, event VerificationCompleted) error {
	return nil
}
