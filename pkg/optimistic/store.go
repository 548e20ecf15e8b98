package optimistic

import "sync"

// Store は楽観的更新の対象となるキー付きローカルキャッシュ。
// 1つのセッション（ユーザー）が所有する。値の読み出し・スナップショット・復元の
// すべてでcloneを通すため、呼び出し側が返された値を書き換えてもキャッシュには影響しない。
type Store[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
	clone func(V) V
}

// NewStore は新しいStoreを生成する。
// cloneには値を十分な深さでコピーする関数を渡す。mapやsliceを含む値では必須。
// nilの場合は値をそのまま代入する（値型のみを含む構造体向け）。
func NewStore[K comparable, V any](clone func(V) V) *Store[K, V] {
	if clone == nil {
		clone = func(v V) V { return v }
	}
	return &Store[K, V]{
		items: make(map[K]V),
		clone: clone,
	}
}

// Get は指定キーの値のコピーを返す。
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return s.clone(v), true
}

// Items は全要素のコピーを返す。
func (s *Store[K, V]) Items() map[K]V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[K]V, len(s.items))
	for k, v := range s.items {
		out[k] = s.clone(v)
	}
	return out
}

// Len は要素数を返す。
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Select はpredを満たす要素のキーを返す。順序は不定。
func (s *Store[K, V]) Select(pred func(K, V) bool) []K {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []K
	for k, v := range s.items {
		if pred(k, v) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Replace はキャッシュ全体をサーバーから取得した内容で置き換える。
// バックグラウンドリフレッシュから呼び出される。
func (s *Store[K, V]) Replace(items map[K]V) {
	next := make(map[K]V, len(items))
	for k, v := range items {
		next[k] = s.clone(v)
	}

	s.mu.Lock()
	s.items = next
	s.mu.Unlock()
}

// entry はスナップショット内の1キー分の状態。presentがfalseならキーは存在しなかった。
type entry[V any] struct {
	value   V
	present bool
}

// snapshotLocked は指定キーの現在の状態を記録する。書き込みロック保持中に呼ぶこと。
func (s *Store[K, V]) snapshotLocked(keys []K) map[K]entry[V] {
	snap := make(map[K]entry[V], len(keys))
	for _, k := range keys {
		v, ok := s.items[k]
		if ok {
			v = s.clone(v)
		}
		snap[k] = entry[V]{value: v, present: ok}
	}
	return snap
}

// restoreLocked はスナップショットの状態にキーを戻す。書き込みロック保持中に呼ぶこと。
func (s *Store[K, V]) restoreLocked(snap map[K]entry[V]) {
	for k, e := range snap {
		if e.present {
			s.items[k] = s.clone(e.value)
		} else {
			delete(s.items, k)
		}
	}
}

// restore はロックを取得してスナップショットを復元する。
func (s *Store[K, V]) restore(snap map[K]entry[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked(snap)
}

// Tx はMutation.Applyに渡されるローカル変更用のハンドル。
// 変更できるのはMutation.Keysで宣言したキーだけで、それ以外はErrUndeclaredKeyになる。
// Apply実行中はStoreの書き込みロックを保持しているため、Apply内でStoreのメソッドを呼ばないこと。
type Tx[K comparable, V any] struct {
	store   *Store[K, V]
	allowed map[K]struct{}
}

// Get は値のコピーを返す。未宣言のキーも読み出せる。
func (tx *Tx[K, V]) Get(key K) (V, bool) {
	v, ok := tx.store.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return tx.store.clone(v), true
}

// Set は宣言済みキーに値を設定する。
func (tx *Tx[K, V]) Set(key K, value V) error {
	if _, ok := tx.allowed[key]; !ok {
		return ErrUndeclaredKey
	}
	tx.store.items[key] = tx.store.clone(value)
	return nil
}

// Delete は宣言済みキーを削除する。
func (tx *Tx[K, V]) Delete(key K) error {
	if _, ok := tx.allowed[key]; !ok {
		return ErrUndeclaredKey
	}
	delete(tx.store.items, key)
	return nil
}
