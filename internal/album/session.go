package album

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/nao1215/cambiacromos/pkg/optimistic"
	pkgvalidation "github.com/nao1215/cambiacromos/pkg/validation"
)

var (
	// ErrNotFound は対象のコレクション・出品・プロフィールがキャッシュにないことを表す。
	ErrNotFound = errors.New("対象が見つかりません")
	// ErrConflict は現在の状態では操作できないことを表す（追加済みのコレクションの追加など）。
	ErrConflict = errors.New("現在の状態ではこの操作はできません")
)

// Mode は変更の実行方法。
type Mode int

const (
	// ModeDispatch はローカルに反映した時点で戻り、バックエンドへの呼び出しはバックグラウンドで行う。
	ModeDispatch Mode = iota
	// ModeWait はバックエンドへの呼び出しの完了まで待つ。
	ModeWait
)

// 変更の名前。トーストの文言とメトリクスのラベルに使う。
const (
	MutationAddCollection      = "add_collection"
	MutationRemoveCollection   = "remove_collection"
	MutationActivateCollection = "activate_collection"
	MutationUpdateNickname     = "update_nickname"
	MutationUpdatePostcode     = "update_postcode"
	MutationMarkSticker        = "mark_sticker"
	MutationUnmarkSticker      = "unmark_sticker"
	MutationDeleteListing      = "delete_listing"
	MutationRestoreListing     = "restore_listing"
)

var toastMessages = map[string]string{
	MutationAddCollection:      "No se pudo añadir la colección",
	MutationRemoveCollection:   "No se pudo eliminar la colección",
	MutationActivateCollection: "No se pudo activar la colección",
	MutationUpdateNickname:     "No se pudo actualizar tu nombre de usuario",
	MutationUpdatePostcode:     "No se pudo actualizar tu código postal",
	MutationMarkSticker:        "No se pudo marcar el cromo",
	MutationUnmarkSticker:      "No se pudo desmarcar el cromo",
	MutationDeleteListing:      "No se pudo eliminar el anuncio",
	MutationRestoreListing:     "No se pudo restaurar el anuncio",
}

// ToastMessage は変更が取り消されたときにユーザーに表示する文言を返す。
func ToastMessage(mutation string) string {
	if msg, ok := toastMessages[mutation]; ok {
		return msg
	}
	return "No se pudieron guardar los cambios"
}

// 各ストアの名前。リフレッシュ通知で使う。
const (
	StoreProfile     = "profile"
	StoreCollections = "collections"
	StoreListings    = "listings"
)

// profileKey はプロフィールストアの唯一のキー。
const profileKey = "me"

// Hooks はセッションで発生した出来事の通知先。
type Hooks struct {
	// OnRollback は変更が取り消されたときに呼ばれる。
	OnRollback func(mutation string, err error)
	// OnRefreshed はストアがサーバーの状態で更新されたときに呼ばれる。
	OnRefreshed func(store string)
}

// Session は1ユーザー分のローカルキャッシュと楽観的更新のコントローラー。
type Session struct {
	userID  string
	factory GatewayFactory
	token   atomic.Pointer[string]
	used    atomic.Int64

	profile     *optimistic.Controller[string, Profile]
	collections *optimistic.Controller[int64, Collection]
	listings    *optimistic.Controller[int64, Listing]

	loadMu sync.Mutex
	loaded bool
}

// NewSession は新しいセッションを生成する。データはLoadで読み込む。
// remoteTimeoutが0以下の場合は30秒になる。
func NewSession(userID, accessToken string, factory GatewayFactory, hooks Hooks, remoteTimeout time.Duration, logger *zap.SugaredLogger) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if remoteTimeout <= 0 {
		remoteTimeout = 30 * time.Second
	}
	logger = logger.With("user_id", userID)

	s := &Session{userID: userID, factory: factory}
	s.SetToken(accessToken)
	s.touch()

	reporter := optimistic.ReporterFunc(func(mutation string, err error) {
		if hooks.OnRollback != nil {
			hooks.OnRollback(mutation, err)
		}
	})
	refreshed := func(store string) func() {
		return func() {
			if hooks.OnRefreshed != nil {
				hooks.OnRefreshed(store)
			}
		}
	}

	s.profile = optimistic.NewController(optimistic.NewStore[string](cloneProfile),
		optimistic.WithRefresh[string, Profile](func(ctx context.Context) (map[string]Profile, error) {
			p, err := s.gateway().LoadProfile(ctx, s.userID)
			if err != nil {
				return nil, err
			}
			return map[string]Profile{profileKey: p}, nil
		}),
		optimistic.WithReporter[string, Profile](reporter),
		optimistic.WithRefreshHook[string, Profile](refreshed(StoreProfile)),
		optimistic.WithLogger[string, Profile](logger),
		optimistic.WithRemoteTimeout[string, Profile](remoteTimeout),
	)
	s.collections = optimistic.NewController(optimistic.NewStore[int64](cloneCollection),
		optimistic.WithRefresh[int64, Collection](func(ctx context.Context) (map[int64]Collection, error) {
			list, err := s.gateway().LoadCollections(ctx, s.userID)
			if err != nil {
				return nil, err
			}
			out := make(map[int64]Collection, len(list))
			for _, c := range list {
				out[c.TemplateID] = c
			}
			return out, nil
		}),
		optimistic.WithReporter[int64, Collection](reporter),
		optimistic.WithRefreshHook[int64, Collection](refreshed(StoreCollections)),
		optimistic.WithLogger[int64, Collection](logger),
		optimistic.WithRemoteTimeout[int64, Collection](remoteTimeout),
	)
	s.listings = optimistic.NewController(optimistic.NewStore[int64](cloneListing),
		optimistic.WithRefresh[int64, Listing](func(ctx context.Context) (map[int64]Listing, error) {
			list, err := s.gateway().LoadListings(ctx, s.userID)
			if err != nil {
				return nil, err
			}
			out := make(map[int64]Listing, len(list))
			for _, l := range list {
				out[l.ID] = l
			}
			return out, nil
		}),
		optimistic.WithReporter[int64, Listing](reporter),
		optimistic.WithRefreshHook[int64, Listing](refreshed(StoreListings)),
		optimistic.WithLogger[int64, Listing](logger),
		optimistic.WithRemoteTimeout[int64, Listing](remoteTimeout),
	)
	return s
}

// UserID はセッションのユーザーIDを返す。
func (s *Session) UserID() string {
	return s.userID
}

// SetToken は以降のバックエンド呼び出しに使うアクセストークンを更新する。
func (s *Session) SetToken(token string) {
	s.token.Store(&token)
}

func (s *Session) gateway() Gateway {
	return s.factory(*s.token.Load())
}

func (s *Session) touch() {
	s.used.Store(time.Now().UnixNano())
}

// LastUsed は最後に使われた日時を返す。
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.used.Load())
}

// Load はまだ読み込んでいなければサーバーから全ストアを読み込む。
// 失敗した場合は次の呼び出しで再試行する。
func (s *Session) Load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loaded {
		return nil
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

// Reload はサーバーから全ストアを読み直す。
func (s *Session) Reload(ctx context.Context) error {
	if err := s.profile.Refresh(ctx); err != nil {
		return err
	}
	if err := s.collections.Refresh(ctx); err != nil {
		return err
	}
	return s.listings.Refresh(ctx)
}

// Wait はバックグラウンドで実行中の呼び出しとリフレッシュの完了を待つ。
func (s *Session) Wait() {
	s.profile.Wait()
	s.collections.Wait()
	s.listings.Wait()
}

// View は現在のローカル状態を返す。
func (s *Session) View() View {
	v := View{
		Collections: slices.Collect(maps.Values(s.collections.Store().Items())),
		Listings:    slices.Collect(maps.Values(s.listings.Store().Items())),
	}
	if p, ok := s.profile.Store().Get(profileKey); ok {
		v.Profile = &p
	}

	slices.SortFunc(v.Collections, func(a, b Collection) int {
		if a.IsActive != b.IsActive {
			if a.IsActive {
				return -1
			}
			return 1
		}
		return cmp.Or(strings.Compare(a.Title, b.Title), cmp.Compare(a.TemplateID, b.TemplateID))
	})
	slices.SortFunc(v.Listings, func(a, b Listing) int { return cmp.Compare(b.ID, a.ID) })
	if v.Collections == nil {
		v.Collections = []Collection{}
	}
	if v.Listings == nil {
		v.Listings = []Listing{}
	}
	return v
}

func run[K comparable, V any](ctx context.Context, c *optimistic.Controller[K, V], m optimistic.Mutation[K, V], mode Mode) error {
	if mode == ModeWait {
		return c.Execute(ctx, m)
	}
	return c.Dispatch(ctx, m)
}

func fieldError(field, code, message string) error {
	return validation.Errors{field: validation.NewError(code, message)}
}

// AddCollection はコレクションを追加する。
func (s *Session) AddCollection(ctx context.Context, templateID int64, title string, mode Mode) error {
	if templateID <= 0 {
		return fieldError("template_id", "validation_template_id", "Colección no válida")
	}
	title = strings.TrimSpace(title)

	return run(ctx, s.collections, optimistic.Mutation[int64, Collection]{
		Name: MutationAddCollection,
		Keys: []int64{templateID},
		Apply: func(tx *optimistic.Tx[int64, Collection]) error {
			if _, ok := tx.Get(templateID); ok {
				return ErrConflict
			}
			return tx.Set(templateID, Collection{TemplateID: templateID, Title: title, OwnedSlots: []int64{}})
		},
		Remote: func(ctx context.Context) error {
			return s.gateway().AddCollection(ctx, templateID)
		},
	}, mode)
}

// RemoveCollection はコレクションを削除する。
func (s *Session) RemoveCollection(ctx context.Context, templateID int64, mode Mode) error {
	return run(ctx, s.collections, optimistic.Mutation[int64, Collection]{
		Name: MutationRemoveCollection,
		Keys: []int64{templateID},
		Apply: func(tx *optimistic.Tx[int64, Collection]) error {
			if _, ok := tx.Get(templateID); !ok {
				return ErrNotFound
			}
			return tx.Delete(templateID)
		},
		Remote: func(ctx context.Context) error {
			return s.gateway().RemoveCollection(ctx, s.userID, templateID)
		},
	}, mode)
}

// ActivateCollection はコレクションをアクティブにし、それまでアクティブだったものを非アクティブにする。
func (s *Session) ActivateCollection(ctx context.Context, templateID int64, mode Mode) error {
	keys := s.collections.Store().Select(func(_ int64, c Collection) bool { return c.IsActive })
	keys = append(keys, templateID)

	return run(ctx, s.collections, optimistic.Mutation[int64, Collection]{
		Name: MutationActivateCollection,
		Keys: keys,
		Apply: func(tx *optimistic.Tx[int64, Collection]) error {
			if _, ok := tx.Get(templateID); !ok {
				return ErrNotFound
			}
			for _, k := range keys {
				c, ok := tx.Get(k)
				if !ok {
					continue
				}
				c.IsActive = k == templateID
				if err := tx.Set(k, c); err != nil {
					return err
				}
			}
			return nil
		},
		Remote: func(ctx context.Context) error {
			return s.gateway().ActivateCollection(ctx, templateID)
		},
	}, mode)
}

// UpdateNickname はニックネームを変更する。検証に失敗した場合はバックエンドを呼ばない。
func (s *Session) UpdateNickname(ctx context.Context, nickname string, mode Mode) error {
	nickname = strings.TrimSpace(nickname)
	if err := pkgvalidation.ValidateNickname(nickname); err != nil {
		return validation.Errors{"nickname": err}
	}
	return s.updateProfile(ctx, MutationUpdateNickname, "nickname", nickname, func(p *Profile) { p.Nickname = nickname }, mode)
}

// UpdatePostcode は郵便番号を変更する。検証に失敗した場合はバックエンドを呼ばない。
func (s *Session) UpdatePostcode(ctx context.Context, postcode string, mode Mode) error {
	postcode = strings.TrimSpace(postcode)
	if err := pkgvalidation.ValidatePostcode(postcode); err != nil {
		return validation.Errors{"postcode": err}
	}
	return s.updateProfile(ctx, MutationUpdatePostcode, "postcode", postcode, func(p *Profile) { p.Postcode = postcode }, mode)
}

func (s *Session) updateProfile(ctx context.Context, name, column, value string, set func(*Profile), mode Mode) error {
	return run(ctx, s.profile, optimistic.Mutation[string, Profile]{
		Name: name,
		Keys: []string{profileKey},
		Apply: func(tx *optimistic.Tx[string, Profile]) error {
			p, ok := tx.Get(profileKey)
			if !ok {
				return ErrNotFound
			}
			set(&p)
			return tx.Set(profileKey, p)
		},
		Remote: func(ctx context.Context) error {
			return s.gateway().UpdateProfile(ctx, s.userID, map[string]any{column: value})
		},
	}, mode)
}

// MarkSticker はスロットを所有済みにする。
func (s *Session) MarkSticker(ctx context.Context, templateID, slotID int64, mode Mode) error {
	return s.setSticker(ctx, MutationMarkSticker, templateID, slotID, true, mode)
}

// UnmarkSticker はスロットを未所有に戻す。
func (s *Session) UnmarkSticker(ctx context.Context, templateID, slotID int64, mode Mode) error {
	return s.setSticker(ctx, MutationUnmarkSticker, templateID, slotID, false, mode)
}

func (s *Session) setSticker(ctx context.Context, name string, templateID, slotID int64, owned bool, mode Mode) error {
	if slotID <= 0 {
		return fieldError("slot_id", "validation_slot_id", "Cromo no válido")
	}
	return run(ctx, s.collections, optimistic.Mutation[int64, Collection]{
		Name: name,
		Keys: []int64{templateID},
		Apply: func(tx *optimistic.Tx[int64, Collection]) error {
			c, ok := tx.Get(templateID)
			if !ok {
				return ErrNotFound
			}
			c.SetOwned(slotID, owned)
			return tx.Set(templateID, c)
		},
		Remote: func(ctx context.Context) error {
			return s.gateway().UpdateSlot(ctx, templateID, slotID, owned)
		},
	}, mode)
}

// DeleteListing は出品を論理削除する。
func (s *Session) DeleteListing(ctx context.Context, listingID int64, mode Mode) error {
	now := time.Now().UTC()
	return run(ctx, s.listings, optimistic.Mutation[int64, Listing]{
		Name: MutationDeleteListing,
		Keys: []int64{listingID},
		Apply: func(tx *optimistic.Tx[int64, Listing]) error {
			l, ok := tx.Get(listingID)
			if !ok {
				return ErrNotFound
			}
			if l.Deleted() {
				return ErrConflict
			}
			l.Status = ListingRemoved
			l.DeletedAt = &now
			return tx.Set(listingID, l)
		},
		Remote: func(ctx context.Context) error {
			return s.gateway().DeleteListing(ctx, listingID)
		},
	}, mode)
}

// RestoreListing は論理削除した出品を元に戻す。
func (s *Session) RestoreListing(ctx context.Context, listingID int64, mode Mode) error {
	return run(ctx, s.listings, optimistic.Mutation[int64, Listing]{
		Name: MutationRestoreListing,
		Keys: []int64{listingID},
		Apply: func(tx *optimistic.Tx[int64, Listing]) error {
			l, ok := tx.Get(listingID)
			if !ok {
				return ErrNotFound
			}
			if !l.Deleted() {
				return ErrConflict
			}
			l.Status = ListingActive
			l.DeletedAt = nil
			return tx.Set(listingID, l)
		},
		Remote: func(ctx context.Context) error {
			return s.gateway().RestoreListing(ctx, listingID)
		},
	}, mode)
}
