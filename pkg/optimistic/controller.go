// Package optimistic はローカルキャッシュに対する楽観的更新とロールバックを提供する。
//
// 変更をまずローカルに適用してから遠隔呼び出しを行い、失敗した場合は適用前の
// スナップショットを正確に復元する。成功時はバックグラウンドでサーバーから再取得し、
// サーバー側で計算される項目を反映する。
//
// 同じキーに対する並行した変更は調整しない。次のリフレッシュまでは最後のローカル書き込みが優先される。
// 自動リトライは行わない。
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUndeclaredKey はMutation.Keysで宣言していないキーを変更しようとしたことを表す。
	ErrUndeclaredKey = errors.New("宣言されていないキーは変更できません")
	// ErrInvalidMutation はApplyまたはRemoteが設定されていないことを表す。
	ErrInvalidMutation = errors.New("mutationにApplyとRemoteが必要です")
)

// Mutation は1回の楽観的更新を表す。
type Mutation[K comparable, V any] struct {
	// Name はログやトースト通知で使う操作名。
	Name string
	// Keys は変更対象のキー。ロールバックはこのキーの範囲で行う。
	Keys []K
	// Apply はローカルキャッシュへの変更。同期的に実行される。
	// エラーを返した場合はローカル変更を取り消し、Remoteは呼ばない。
	Apply func(tx *Tx[K, V]) error
	// Remote はサーバーへの変更呼び出し。
	Remote func(ctx context.Context) error
}

// RollbackError は遠隔呼び出しの失敗によりローカル変更を取り消したことを表す。
type RollbackError struct {
	// Mutation は失敗した操作名。
	Mutation string
	// Err は遠隔呼び出しのエラー。
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%s: 遠隔呼び出しに失敗したためロールバックしました: %v", e.Mutation, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// Reporter はロールバックをユーザーに通知する（UIのトーストに相当）。
type Reporter interface {
	Report(mutation string, err error)
}

// ReporterFunc は関数をReporterとして扱うアダプタ。
type ReporterFunc func(mutation string, err error)

// Report はfを呼び出す。
func (f ReporterFunc) Report(mutation string, err error) {
	f(mutation, err)
}

// RefreshFunc はサーバーから最新の状態を取得する。
type RefreshFunc[K comparable, V any] func(ctx context.Context) (map[K]V, error)

// Controller はStoreに対する楽観的更新を実行する。
type Controller[K comparable, V any] struct {
	store         *Store[K, V]
	refresh       RefreshFunc[K, V]
	reporter      Reporter
	onRefreshed   func()
	logger        *zap.SugaredLogger
	remoteTimeout time.Duration
	wg            sync.WaitGroup
}

// Option はControllerの設定を変更する。
type Option[K comparable, V any] func(*Controller[K, V])

// WithRefresh は成功時のバックグラウンドリフレッシュを設定する。
func WithRefresh[K comparable, V any](fn RefreshFunc[K, V]) Option[K, V] {
	return func(c *Controller[K, V]) { c.refresh = fn }
}

// WithReporter はロールバック通知先を設定する。
func WithReporter[K comparable, V any](r Reporter) Option[K, V] {
	return func(c *Controller[K, V]) { c.reporter = r }
}

// WithRefreshHook はリフレッシュ完了時に呼ばれる関数を設定する。
func WithRefreshHook[K comparable, V any](fn func()) Option[K, V] {
	return func(c *Controller[K, V]) { c.onRefreshed = fn }
}

// WithLogger はロガーを設定する。
func WithLogger[K comparable, V any](l *zap.SugaredLogger) Option[K, V] {
	return func(c *Controller[K, V]) { c.logger = l }
}

// WithRemoteTimeout はバックグラウンドで実行する遠隔呼び出しとリフレッシュのタイムアウトを設定する。
func WithRemoteTimeout[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Controller[K, V]) { c.remoteTimeout = d }
}

// NewController は新しいControllerを生成する。
func NewController[K comparable, V any](store *Store[K, V], opts ...Option[K, V]) *Controller[K, V] {
	c := &Controller[K, V]{
		store:         store,
		reporter:      ReporterFunc(func(string, error) {}),
		logger:        zap.NewNop().Sugar(),
		remoteTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store は管理対象のStoreを返す。
func (c *Controller[K, V]) Store() *Store[K, V] {
	return c.store
}

// Execute は変更をローカルに適用し、遠隔呼び出しの完了まで待つ。
// 遠隔呼び出しが失敗した場合はスナップショットを復元し、*RollbackErrorを返す。
func (c *Controller[K, V]) Execute(ctx context.Context, m Mutation[K, V]) error {
	snap, err := c.apply(m)
	if err != nil {
		return err
	}
	return c.commit(ctx, m, snap)
}

// Dispatch は変更をローカルに適用した時点で戻る。
// 遠隔呼び出し以降はバックグラウンドで実行され、失敗はReporterに通知される。
// 呼び出し元のコンテキストがキャンセルされても遠隔呼び出しは継続する。
func (c *Controller[K, V]) Dispatch(ctx context.Context, m Mutation[K, V]) error {
	snap, err := c.apply(m)
	if err != nil {
		return err
	}

	detached := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		rctx, cancel := context.WithTimeout(detached, c.remoteTimeout)
		defer cancel()
		_ = c.commit(rctx, m, snap)
	}()
	return nil
}

// Wait は実行中のバックグラウンド処理（遠隔呼び出しとリフレッシュ）の完了を待つ。
func (c *Controller[K, V]) Wait() {
	c.wg.Wait()
}

// Refresh はサーバーから取得した状態でStoreを置き換える。初回読み込みにも使う。
func (c *Controller[K, V]) Refresh(ctx context.Context) error {
	if c.refresh == nil {
		return nil
	}
	items, err := c.refresh(ctx)
	if err != nil {
		return fmt.Errorf("リフレッシュに失敗: %w", err)
	}
	c.store.Replace(items)
	if c.onRefreshed != nil {
		c.onRefreshed()
	}
	return nil
}

// apply はスナップショットの取得とローカル適用を1つのロック区間で行う。
func (c *Controller[K, V]) apply(m Mutation[K, V]) (map[K]entry[V], error) {
	if m.Apply == nil || m.Remote == nil {
		return nil, ErrInvalidMutation
	}

	allowed := make(map[K]struct{}, len(m.Keys))
	for _, k := range m.Keys {
		allowed[k] = struct{}{}
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	snap := c.store.snapshotLocked(m.Keys)
	tx := &Tx[K, V]{store: c.store, allowed: allowed}
	if err := m.Apply(tx); err != nil {
		c.store.restoreLocked(snap)
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}
	return snap, nil
}

// commit は遠隔呼び出しを行い、結果に応じてロールバックまたはリフレッシュする。
func (c *Controller[K, V]) commit(ctx context.Context, m Mutation[K, V], snap map[K]entry[V]) error {
	if err := m.Remote(ctx); err != nil {
		c.store.restore(snap)
		c.logger.Warnf("楽観的更新をロールバック: mutation=%s, error=%v", m.Name, err)
		c.reporter.Report(m.Name, err)
		return &RollbackError{Mutation: m.Name, Err: err}
	}

	c.scheduleRefresh(ctx)
	return nil
}

// scheduleRefresh は非同期でサーバーから再取得する。呼び出し元はブロックしない。
func (c *Controller[K, V]) scheduleRefresh(ctx context.Context) {
	if c.refresh == nil {
		return
	}

	detached := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		rctx, cancel := context.WithTimeout(detached, c.remoteTimeout)
		defer cancel()
		if err := c.Refresh(rctx); err != nil {
			c.logger.Warnf("バックグラウンドリフレッシュに失敗: %v", err)
		}
	}()
}
