package album

import (
	"slices"
	"time"
)

// Profile はユーザーのプロフィール。
type Profile struct {
	// ID はユーザーID。
	ID string `json:"id"`
	// Nickname は表示名。
	Nickname string `json:"nickname"`
	// Postcode は郵便番号。未設定なら空文字。
	Postcode string `json:"postcode"`
	// AvatarURL はアバター画像のURL。
	AvatarURL string `json:"avatar_url"`
	// UpdatedAt はサーバー側の最終更新日時。リフレッシュで反映される。
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Collection はユーザーが追加したコレクション（アルバムのテンプレートのコピー）。
type Collection struct {
	// CopyID はuser_template_copiesの行ID。追加直後でサーバーから未取得の場合は0。
	CopyID int64 `json:"copy_id"`
	// TemplateID はコレクションのテンプレートID。
	TemplateID int64 `json:"template_id"`
	// Title はコレクション名。
	Title string `json:"title"`
	// IsActive は現在選択中のコレクションかどうか。アクティブなコレクションは最大1つ。
	IsActive bool `json:"is_active"`
	// TotalSlots はコレクションの全スロット数。
	TotalSlots int `json:"total_slots"`
	// OwnedSlots は所有済みスロットIDの昇順リスト。
	OwnedSlots []int64 `json:"owned_slots"`
	// OwnedCount は所有済みスロット数。OwnedSlotsから導出する。
	OwnedCount int `json:"owned_count"`
}

// Owns はスロットを所有済みかどうかを返す。
func (c *Collection) Owns(slotID int64) bool {
	_, found := slices.BinarySearch(c.OwnedSlots, slotID)
	return found
}

// SetOwned はスロットの所有状態を変更し、導出項目を再計算する。
func (c *Collection) SetOwned(slotID int64, owned bool) {
	i, found := slices.BinarySearch(c.OwnedSlots, slotID)
	switch {
	case owned && !found:
		c.OwnedSlots = slices.Insert(c.OwnedSlots, i, slotID)
	case !owned && found:
		c.OwnedSlots = slices.Delete(c.OwnedSlots, i, i+1)
	}
	c.recount()
}

func (c *Collection) recount() {
	c.OwnedCount = len(c.OwnedSlots)
}

func cloneCollection(c Collection) Collection {
	out := c
	out.OwnedSlots = slices.Clone(c.OwnedSlots)
	return out
}

func cloneProfile(p Profile) Profile {
	out := p
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// 出品の状態。
const (
	ListingActive    = "active"
	ListingReserved  = "reserved"
	ListingCompleted = "completed"
	ListingRemoved   = "removed"
)

// Listing はユーザーの出品。
type Listing struct {
	// ID は出品ID。
	ID int64 `json:"id"`
	// Title は出品タイトル。
	Title string `json:"title"`
	// Status は出品の状態。
	Status string `json:"status"`
	// DeletedAt は論理削除された日時。削除されていなければnil。
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted は論理削除済みかどうかを返す。
func (l *Listing) Deleted() bool {
	return l.DeletedAt != nil
}

func cloneListing(l Listing) Listing {
	out := l
	if l.DeletedAt != nil {
		t := *l.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// View はクライアントに返すセッションの現在の状態。
type View struct {
	// Profile はプロフィール。未取得の場合はnil。
	Profile *Profile `json:"profile"`
	// Collections はコレクション一覧（アクティブなものが先頭、その後はタイトル順）。
	Collections []Collection `json:"collections"`
	// Listings は出品一覧（新しいID順）。
	Listings []Listing `json:"listings"`
}
