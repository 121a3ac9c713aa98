package near

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/nearverify/internal/model"
)

// VerificationContract は検証済みアカウントを保持するコントラクトのview関数を呼び出す。
type VerificationContract struct {
	client     *Client
	contractID string
}

// NewVerificationContract はVerificationContractの新しいインスタンスを生成する。
func NewVerificationContract(client *Client, contractID string) *VerificationContract {
	return &VerificationContract{client: client, contractID: contractID}
}

type accountArgs struct {
	NearAccountID string `json:"near_account_id"`
}

type pageArgs struct {
	FromIndex int `json:"from_index"`
	Limit     int `json:"limit"`
}

// IsVerified はアカウントが検証済みかどうかを返す。
func (c *VerificationContract) IsVerified(ctx context.Context, accountID string) (bool, error) {
	var verified bool
	if err := c.client.CallView(ctx, c.contractID, "is_account_verified", accountArgs{NearAccountID: accountID}, &verified); err != nil {
		return false, err
	}
	return verified, nil
}

// GetVerification は検証レコードを証明付きで取得する。
// レコードが存在しない場合は nil, nil を返す。
func (c *VerificationContract) GetVerification(ctx context.Context, accountID string) (*model.VerifiedAccountRecord, error) {
	var record *model.VerifiedAccountRecord
	if err := c.client.CallView(ctx, c.contractID, "get_account_with_proof", accountArgs{NearAccountID: accountID}, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetVerifiedAccounts は [from, from+limit) の検証済みアカウントと総件数を返す。
// 一覧と件数は並行に取得する。
func (c *VerificationContract) GetVerifiedAccounts(ctx context.Context, from, limit int) ([]model.VerifiedAccountRecord, int, error) {
	var (
		accounts []model.VerifiedAccountRecord
		total    int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.client.CallView(gctx, c.contractID, "get_verified_accounts", pageArgs{FromIndex: from, Limit: limit}, &accounts)
	})
	g.Go(func() error {
		return c.client.CallView(gctx, c.contractID, "get_verified_count", struct{}{}, &total)
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	if accounts == nil {
		accounts = []model.VerifiedAccountRecord{}
	}
	return accounts, total, nil
}
