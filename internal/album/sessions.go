package album

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sessions はユーザーIDごとのセッションを管理する。
// 一定時間使われていないセッションは破棄し、次のアクセスで読み込み直す。
type Sessions struct {
	mu      sync.Mutex
	items   map[string]*Session
	factory GatewayFactory
	hooks   func(userID string) Hooks
	idleTTL time.Duration
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewSessions は新しいSessionsを生成する。hooksはユーザーごとの通知先を返す。
// remoteTimeoutはバックグラウンドで行うバックエンド呼び出しのタイムアウト。
func NewSessions(factory GatewayFactory, hooks func(userID string) Hooks, idleTTL, remoteTimeout time.Duration, logger *zap.SugaredLogger) *Sessions {
	if hooks == nil {
		hooks = func(string) Hooks { return Hooks{} }
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sessions{
		items:   make(map[string]*Session),
		factory: factory,
		hooks:   hooks,
		idleTTL: idleTTL,
		timeout: remoteTimeout,
		logger:  logger,
	}
}

// Get はユーザーのセッションを返す。なければ生成してサーバーから読み込む。
// 既存のセッションにはリクエストのアクセストークンを設定し直す。
func (r *Sessions) Get(ctx context.Context, userID, accessToken string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.items[userID]
	if !ok {
		s = NewSession(userID, accessToken, r.factory, r.hooks(userID), r.timeout, r.logger)
		r.items[userID] = s
	}
	r.mu.Unlock()

	s.SetToken(accessToken)
	s.touch()
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Len は保持しているセッション数を返す。
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Evict はnow時点でidleTTLより長く使われていないセッションを破棄し、破棄した数を返す。
func (r *Sessions) Evict(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.items {
		if now.Sub(s.LastUsed()) > r.idleTTL {
			delete(r.items, id)
			n++
		}
	}
	return n
}

// Wait はすべてのセッションのバックグラウンド処理の完了を待つ。
func (r *Sessions) Wait() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.items))
	for _, s := range r.items {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Wait()
	}
}

// RunJanitor はctxが終了するまで定期的にEvictを実行する。終了時は実行中の呼び出しを待つ。
func (r *Sessions) RunJanitor(ctx context.Context) error {
	interval := r.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Wait()
			return nil
		case now := <-ticker.C:
			if n := r.Evict(now); n > 0 {
				r.logger.Infof("使われていないセッションを%d件破棄しました", n)
			}
		}
	}
}
