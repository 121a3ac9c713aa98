package verification

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/nearverify/internal/metrics"
	"github.com/hitoshi/nearverify/internal/model"
	"github.com/hitoshi/nearverify/internal/near"
)

const (
	// MaxPageSize は1ページの最大件数。
	MaxPageSize = 100
	// maxFromIndex はコントラクトの from_index（u32）の上限。
	maxFromIndex = math.MaxUint32
	// CacheTag は一覧キャッシュのすべてのエントリに付くタグ。
	CacheTag = "verified-accounts"
	// DefaultCacheTTL は一覧キャッシュの有効期間。
	DefaultCacheTTL = 60 * time.Second
	// DefaultMaxConcurrency は再検証の同時実行数の既定値。
	DefaultMaxConcurrency = 8
)

// ListerConfig はListerの設定。
type ListerConfig struct {
	CacheTTL       time.Duration
	CacheSize      int
	MaxConcurrency int
}

// Lister は検証済みアカウントをページ単位で取得し、各レコードを再検証して返す。
// 結果はタグ付きのTTLキャッシュに保存する。
type Lister struct {
	contract    ContractReader
	reconciler  AccountReconciler
	cache       *TaggedCache[any]
	concurrency int
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// NewLister はListerの新しいインスタンスを生成する。
func NewLister(
	contract ContractReader,
	reconciler AccountReconciler,
	cfg ListerConfig,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Lister {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = DefaultMaxConcurrency
	}
	return &Lister{
		contract:    contract,
		reconciler:  reconciler,
		cache:       NewTaggedCache[any](cfg.CacheSize, ttl),
		concurrency: concurrency,
		metrics:     mc,
		logger:      logger,
	}
}

// List は page*pageSize から pageSize 件の検証済みアカウントを再検証して返す。
// 再検証はレコードごとに並行に実行し、結果は入力の順序を保つ。
func (l *Lister) List(ctx context.Context, page, pageSize int) (*model.AccountPage, error) {
	if page < 0 {
		return nil, model.NewInvalidPaginationError("page must be >= 0")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, model.NewInvalidPaginationError(fmt.Sprintf("pageSize must be between 1 and %d", MaxPageSize))
	}
	if int64(page) > (maxFromIndex-int64(pageSize))/int64(pageSize) {
		return nil, model.NewInvalidPaginationError("page is out of range")
	}

	key := fmt.Sprintf("accounts:%d:%d", page, pageSize)
	if cached, ok := l.cache.Get(key); ok {
		if result, ok := cached.(*model.AccountPage); ok {
			l.metrics.RecordListingCache(true)
			return result, nil
		}
	}
	l.metrics.RecordListingCache(false)
	generation := l.cache.Generation()

	records, total, err := l.contract.GetVerifiedAccounts(ctx, page*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("検証済みアカウントの取得に失敗しました: %w", err)
	}

	result := &model.AccountPage{
		Accounts: l.reconcileAll(ctx, records),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}

	// 取得途中でキャンセルされた結果は不完全なのでキャッシュしない
	if ctx.Err() == nil {
		l.cache.Add(key, result, generation, CacheTag)
	}
	return result, nil
}

// reconcileAll はレコードを並行に再検証する。
// Reconcileは失敗を結果に含めて返すため、1件の失敗が他を止めることはない。
func (l *Lister) reconcileAll(ctx context.Context, records []model.VerifiedAccountRecord) []model.AccountWithVerification {
	results := make([]model.AccountWithVerification, len(records))

	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for i, record := range records {
		g.Go(func() error {
			results[i] = l.reconciler.Reconcile(ctx, record)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// GetAccount は1件の検証済みアカウントを再検証して返す。
func (l *Lister) GetAccount(ctx context.Context, accountID string) (*model.AccountWithVerification, error) {
	if !near.ValidAccountID(accountID) {
		return nil, model.NewInvalidAccountIDError(accountID)
	}

	key := "account:" + accountID
	if cached, ok := l.cache.Get(key); ok {
		if result, ok := cached.(*model.AccountWithVerification); ok {
			l.metrics.RecordListingCache(true)
			return result, nil
		}
	}
	l.metrics.RecordListingCache(false)
	generation := l.cache.Generation()

	record, err := l.contract.GetVerification(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("検証レコードの取得に失敗しました: %w", err)
	}
	if record == nil {
		return nil, model.NewAccountNotVerifiedError(accountID)
	}

	result := l.reconciler.Reconcile(ctx, *record)
	if ctx.Err() == nil {
		l.cache.Add(key, &result, generation, CacheTag)
	}
	return &result, nil
}

// InvalidateCache は一覧キャッシュをすべて無効化し、削除件数を返す。
func (l *Lister) InvalidateCache() int {
	removed := l.cache.InvalidateTag(CacheTag)
	l.logger.Info("一覧キャッシュを無効化しました", slog.Int("removed", removed))
	return removed
}
