package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind は通知イベントの種類を表す。
type Kind string

const (
	// KindNewMessage はチャットで新しいメッセージを受け取ったことを表す。
	KindNewMessage Kind = "new_message"
	// KindProposalReceived は交換提案を受け取ったことを表す。
	KindProposalReceived Kind = "proposal_received"
	// KindProposalAccepted は送った交換提案が承認されたことを表す。
	KindProposalAccepted Kind = "proposal_accepted"
	// KindProposalRejected は送った交換提案が拒否されたことを表す。
	KindProposalRejected Kind = "proposal_rejected"
	// KindProposalCancelled は受け取った交換提案が取り消されたことを表す。
	KindProposalCancelled Kind = "proposal_cancelled"
	// KindListingReserved は出品が予約されたことを表す。
	KindListingReserved Kind = "listing_reserved"
	// KindListingCompleted は出品の取引が完了したことを表す。
	KindListingCompleted Kind = "listing_completed"
	// KindListingFavorited は出品がお気に入りに追加されたことを表す。
	KindListingFavorited Kind = "listing_favorited"
	// KindUserRated は他のユーザーから評価されたことを表す。
	KindUserRated Kind = "user_rated"
	// KindBadgeEarned はバッジを獲得したことを表す。
	KindBadgeEarned Kind = "badge_earned"
	// KindCollectionCompleted はコレクションを完成させたことを表す。
	KindCollectionCompleted Kind = "collection_completed"
	// KindAdminAction は管理者による操作（モデレーション等）を表す。
	KindAdminAction Kind = "admin_action"
	// KindSystemAnnouncement は運営からのお知らせを表す。
	KindSystemAnnouncement Kind = "system_announcement"
)

var kinds = []Kind{
	KindNewMessage,
	KindProposalReceived,
	KindProposalAccepted,
	KindProposalRejected,
	KindProposalCancelled,
	KindListingReserved,
	KindListingCompleted,
	KindListingFavorited,
	KindUserRated,
	KindBadgeEarned,
	KindCollectionCompleted,
	KindAdminAction,
	KindSystemAnnouncement,
}

// Kinds は既知のすべての通知種別を返す。
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// KindValues はozzo-validationのIn()ルールに渡せる形で既知の種別を返す。
func KindValues() []any {
	out := make([]any, len(kinds))
	for i, k := range kinds {
		out[i] = k
	}
	return out
}

// Known は既知の種別かどうかを返す。
func (k Kind) Known() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Category は通知の分類を表す。クライアントのフィルタタブに対応する。
type Category string

const (
	// CategoryChat はチャット関連。
	CategoryChat Category = "chat"
	// CategoryTrades は交換提案関連。
	CategoryTrades Category = "trades"
	// CategoryMarketplace はマーケットプレイスの出品関連。
	CategoryMarketplace Category = "marketplace"
	// CategorySocial は評価などユーザー間のやり取り。
	CategorySocial Category = "social"
	// CategoryAchievements はバッジやコレクション完成。
	CategoryAchievements Category = "achievements"
	// CategorySystem は運営・管理者からの通知。
	CategorySystem Category = "system"
)

// Payload は通知種別ごとの付加情報。JSONオブジェクトをそのまま保持する。
type Payload map[string]any

// Get はキーの値を文字列として返す。存在しない・空文字・文字列以外の場合は空文字を返す。
// 数値はJSONデコード後のfloat64を整数表記に変換する。
func (p Payload) Get(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// Int はキーの値を整数として返す。
func (p Payload) Int(key string) (int, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

// Raw はフォーマット前の通知イベント。
type Raw struct {
	// Kind は通知種別。
	Kind Kind `json:"kind"`
	// Payload は種別ごとの付加情報。
	Payload Payload `json:"payload"`
}

// Display はクライアントに表示する整形済みの通知。
type Display struct {
	// Title は見出し。
	Title string `json:"title"`
	// Body は本文。
	Body string `json:"body"`
	// Href はアプリ内の遷移先（相対パス）。遷移先がない場合はnil。
	Href *string `json:"href"`
	// Icon はクライアントのアイコン名。
	Icon string `json:"icon"`
	// Category は通知の分類。
	Category Category `json:"category"`
}

// Notification はユーザーごとに保存される通知レコード。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Kind は通知種別。
	Kind Kind `json:"kind"`
	// Payload は種別ごとの付加情報（JSON形式）。
	Payload json.RawMessage `json:"payload"`
	// IsRead は既読かどうか。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知が作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// Raw は保存された通知をフォーマット前の形に変換する。
// Payloadが壊れている場合は空のPayloadとして扱う。
func (n *Notification) Raw() Raw {
	p, err := DecodePayload(n.Payload)
	if err != nil {
		p = Payload{}
	}
	return Raw{Kind: n.Kind, Payload: p}
}

// DecodePayload はJSONのPayloadをデシリアライズする。空やnullの場合は空のPayloadを返す。
func DecodePayload(data []byte) (Payload, error) {
	p := Payload{}
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("通知ペイロードのデシリアライズに失敗: %w", err)
	}
	return p, nil
}
