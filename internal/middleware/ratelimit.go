package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	StatusRate      rate.Limit    // ステータスポーリングのレート（req/sec）
	StatusBurst     int           // ステータスポーリングのバーストサイズ
	SessionRate     rate.Limit    // セッション作成のレート（req/sec）
	SessionBurst    int           // セッション作成のバーストサイズ
	AccountsRate    rate.Limit    // アカウント一覧・詳細のレート（req/sec）
	AccountsBurst   int           // アカウント一覧・詳細のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// ステータス 60 req/min/IP（数秒間隔のポーリングを想定）、セッション作成 10 req/min/IP、
// アカウント一覧 30 req/min/IP（キャッシュミスごとに全件の再検証が走るため）。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		StatusRate:      rate.Limit(60.0 / 60.0),
		StatusBurst:     30,
		SessionRate:     rate.Limit(10.0 / 60.0),
		SessionBurst:    10,
		AccountsRate:    rate.Limit(30.0 / 60.0),
		AccountsBurst:   10,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は同じレート設定を共有するクライアント別リミッターの集合。
type limiterSet struct {
	name  string
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func newLimiterSet(name string, limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		name:     name,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

// get はクライアントのリミッターを取得または作成する。
func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cl, ok := s.limiters[key]; ok {
		cl.lastAccess = now
		return cl.limiter
	}

	cl := &clientLimiter{
		limiter:    rate.NewLimiter(s.limit, s.burst),
		lastAccess: now,
	}
	s.limiters[key] = cl
	return cl.limiter
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// evict は最終アクセスが cutoff より前のエントリを削除する。
func (s *limiterSet) evict(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cl := range s.limiters {
		if cl.lastAccess.Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
// ステータスポーリング、セッション作成、アカウント参照の3種類を独立に提供する。
type RateLimiter struct {
	config   RateLimiterConfig
	status   *limiterSet
	session  *limiterSet
	accounts *limiterSet
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// アカウント参照のレートが未設定の場合はデフォルトを使う。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.AccountsRate <= 0 || config.AccountsBurst <= 0 {
		config.AccountsRate = defaults.AccountsRate
		config.AccountsBurst = defaults.AccountsBurst
	}
	rl := &RateLimiter{
		config:   config,
		status:   newLimiterSet("status", config.StatusRate, config.StatusBurst),
		session:  newLimiterSet("session_create", config.SessionRate, config.SessionBurst),
		accounts: newLimiterSet("accounts", config.AccountsRate, config.AccountsBurst),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// StatusMiddleware はステータスポーリング用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) StatusMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.status)
}

// SessionMiddleware はセッション作成用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) SessionMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.session)
}

// AccountsMiddleware はアカウント一覧・詳細用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) AccountsMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.accounts)
}

// StatusLimiterCount は現在管理されているステータス用リミッターのエントリ数を返す。
func (rl *RateLimiter) StatusLimiterCount() int {
	return rl.status.len()
}

// SessionLimiterCount は現在管理されているセッション作成用リミッターのエントリ数を返す。
func (rl *RateLimiter) SessionLimiterCount() int {
	return rl.session.len()
}

// AccountsLimiterCount は現在管理されているアカウント参照用リミッターのエントリ数を返す。
func (rl *RateLimiter) AccountsLimiterCount() int {
	return rl.accounts.len()
}

func (rl *RateLimiter) middleware(set *limiterSet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !set.get(ip, rl.now()).Allow() {
				writeRateLimitResponse(w, set.limit)
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", set.name),
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	cutoff := rl.now().Add(-2 * rl.config.CleanupInterval)
	rl.status.evict(cutoff)
	rl.session.evict(cutoff)
	rl.accounts.evict(cutoff)
}

// ClientIP はリクエスト元のIPアドレスを返す。
// プロキシ配下では chi の RealIP ミドルウェアで RemoteAddr を書き換えてから使う。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = max(int(math.Ceil(1.0/float64(r))), 1)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Wait for the Retry-After interval and retry.",
	})
}
