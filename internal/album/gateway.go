package album

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/cambiacromos/pkg/httpclient"
	"github.com/nao1215/cambiacromos/pkg/supabase"
)

// Gateway はバックエンドへの読み書きを行う。呼び出しはユーザーの権限で実行される。
type Gateway interface {
	LoadProfile(ctx context.Context, userID string) (Profile, error)
	LoadCollections(ctx context.Context, userID string) ([]Collection, error)
	LoadListings(ctx context.Context, userID string) ([]Listing, error)

	AddCollection(ctx context.Context, templateID int64) error
	RemoveCollection(ctx context.Context, userID string, templateID int64) error
	ActivateCollection(ctx context.Context, templateID int64) error
	UpdateProfile(ctx context.Context, userID string, fields map[string]any) error
	UpdateSlot(ctx context.Context, templateID, slotID int64, owned bool) error
	DeleteListing(ctx context.Context, listingID int64) error
	RestoreListing(ctx context.Context, listingID int64) error
}

// GatewayFactory はアクセストークンに対応するGatewayを返す。
type GatewayFactory func(accessToken string) Gateway

// SupabaseGateway はバックエンドのREST APIを使うGateway。
type SupabaseGateway struct {
	client *supabase.Client
}

// NewSupabaseFactory はクライアントにユーザーのトークンを付けたGatewayを返すファクトリを生成する。
// 楽観的更新は失敗時に巻き戻すため、呼び出しは再試行しない。
func NewSupabaseFactory(client *supabase.Client) GatewayFactory {
	base := client.WithOptions(httpclient.WithRetry(httpclient.RetryPolicy{}))
	return func(accessToken string) Gateway {
		return &SupabaseGateway{client: base.WithAccessToken(accessToken)}
	}
}

type profileRow struct {
	ID        string     `json:"id"`
	Nickname  *string    `json:"nickname"`
	Postcode  *string    `json:"postcode"`
	AvatarURL *string    `json:"avatar_url"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// LoadProfile はプロフィールを取得する。
func (g *SupabaseGateway) LoadProfile(ctx context.Context, userID string) (Profile, error) {
	row, err := supabase.Decode[profileRow](g.client.From("profiles").
		Select("id,nickname,postcode,avatar_url,updated_at").
		Eq("id", userID).
		Single().
		Execute(ctx))
	if err != nil {
		return Profile{}, fmt.Errorf("プロフィールの取得に失敗: %w", err)
	}
	return Profile{
		ID:        row.ID,
		Nickname:  deref(row.Nickname),
		Postcode:  deref(row.Postcode),
		AvatarURL: deref(row.AvatarURL),
		UpdatedAt: row.UpdatedAt,
	}, nil
}

type copyRow struct {
	ID         int64  `json:"id"`
	TemplateID int64  `json:"template_id"`
	Title      string `json:"title"`
	IsActive   bool   `json:"is_active"`
	TotalSlots int    `json:"total_slots"`
}

type progressRow struct {
	TemplateID int64 `json:"template_id"`
	SlotID     int64 `json:"slot_id"`
}

// LoadCollections はコレクションと所有済みスロットを取得する。
func (g *SupabaseGateway) LoadCollections(ctx context.Context, userID string) ([]Collection, error) {
	copies, err := supabase.Decode[[]copyRow](g.client.From("user_template_copies").
		Select("id,template_id,title,is_active,total_slots").
		Eq("user_id", userID).
		Order("title", true).
		Execute(ctx))
	if err != nil {
		return nil, fmt.Errorf("コレクションの取得に失敗: %w", err)
	}

	progress, err := supabase.Decode[[]progressRow](g.client.From("user_template_progress").
		Select("template_id,slot_id").
		Eq("user_id", userID).
		Eq("status", "owned").
		Order("slot_id", true).
		Execute(ctx))
	if err != nil {
		return nil, fmt.Errorf("スロットの進捗の取得に失敗: %w", err)
	}

	owned := make(map[int64][]int64)
	for _, p := range progress {
		owned[p.TemplateID] = append(owned[p.TemplateID], p.SlotID)
	}

	out := make([]Collection, 0, len(copies))
	for _, c := range copies {
		col := Collection{
			CopyID:     c.ID,
			TemplateID: c.TemplateID,
			Title:      c.Title,
			IsActive:   c.IsActive,
			TotalSlots: c.TotalSlots,
			OwnedSlots: make([]int64, 0, len(owned[c.TemplateID])),
		}
		for _, slotID := range owned[c.TemplateID] {
			col.SetOwned(slotID, true)
		}
		out = append(out, col)
	}
	return out, nil
}

// LoadListings は出品一覧（論理削除済みを含む）を取得する。
func (g *SupabaseGateway) LoadListings(ctx context.Context, userID string) ([]Listing, error) {
	rows, err := supabase.Decode[[]Listing](g.client.From("trade_listings").
		Select("id,title,status,deleted_at").
		Eq("user_id", userID).
		Order("id", false).
		Execute(ctx))
	if err != nil {
		return nil, fmt.Errorf("出品の取得に失敗: %w", err)
	}
	return rows, nil
}

// AddCollection はテンプレートのコピーを作成する。
func (g *SupabaseGateway) AddCollection(ctx context.Context, templateID int64) error {
	return supabase.Check(g.client.RPC(ctx, "add_template_copy", map[string]any{"p_template_id": templateID}))
}

// RemoveCollection はテンプレートのコピーを削除する。
func (g *SupabaseGateway) RemoveCollection(ctx context.Context, userID string, templateID int64) error {
	return supabase.Check(g.client.From("user_template_copies").
		Eq("user_id", userID).
		Eq("template_id", templateID).
		Delete(ctx))
}

// ActivateCollection はコレクションをアクティブにする。他のコレクションはサーバー側で非アクティブになる。
func (g *SupabaseGateway) ActivateCollection(ctx context.Context, templateID int64) error {
	return supabase.Check(g.client.RPC(ctx, "set_active_template", map[string]any{"p_template_id": templateID}))
}

// UpdateProfile はプロフィールの指定項目を更新する。
func (g *SupabaseGateway) UpdateProfile(ctx context.Context, userID string, fields map[string]any) error {
	return supabase.Check(g.client.From("profiles").Eq("id", userID).Update(ctx, fields))
}

// UpdateSlot はスロットの所有状態を更新する。
func (g *SupabaseGateway) UpdateSlot(ctx context.Context, templateID, slotID int64, owned bool) error {
	status := "missing"
	if owned {
		status = "owned"
	}
	return supabase.Check(g.client.RPC(ctx, "update_slot_progress", map[string]any{
		"p_template_id": templateID,
		"p_slot_id":     slotID,
		"p_status":      status,
	}))
}

// DeleteListing は出品を論理削除する。
func (g *SupabaseGateway) DeleteListing(ctx context.Context, listingID int64) error {
	return supabase.Check(g.client.RPC(ctx, "soft_delete_listing", map[string]any{"p_listing_id": listingID}))
}

// RestoreListing は論理削除した出品を元に戻す。
func (g *SupabaseGateway) RestoreListing(ctx context.Context, listingID int64) error {
	return supabase.Check(g.client.RPC(ctx, "restore_listing", map[string]any{"p_listing_id": listingID}))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
