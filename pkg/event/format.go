package event

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// Format は通知イベントを表示用の文字列（スペイン語）に変換する。
// 副作用はなく、同じ入力には常に同じ結果を返す。
// ペイロードの項目が欠けている場合は中立的な文言で補い、未知の種別は汎用の通知として扱う。
func Format(raw Raw) Display {
	p := raw.Payload
	if p == nil {
		p = Payload{}
	}

	switch raw.Kind {
	case KindNewMessage:
		sender := or(p.Get("sender_nickname"), "Un usuario")
		body := sender + " te ha enviado un mensaje"
		if title := p.Get("listing_title"); title != "" {
			body += " sobre «" + title + "»"
		}
		if preview := p.Get("preview"); preview != "" {
			body += ": " + truncate(preview, 80)
		}
		return Display{
			Title:    "Nuevo mensaje",
			Body:     body,
			Href:     href("/marketplace", p.Get("listing_id"), "chat"),
			Icon:     "message-circle",
			Category: CategoryChat,
		}

	case KindProposalReceived:
		from := or(p.Get("from_nickname"), "Un coleccionista")
		return Display{
			Title:    "Nueva propuesta de intercambio",
			Body:     from + " te ha enviado una propuesta de intercambio",
			Href:     proposalHref(p),
			Icon:     "repeat",
			Category: CategoryTrades,
		}

	case KindProposalAccepted:
		by := or(p.Get("to_nickname"), "El otro coleccionista")
		return Display{
			Title:    "Propuesta aceptada",
			Body:     by + " ha aceptado tu propuesta de intercambio",
			Href:     proposalHref(p),
			Icon:     "check-circle",
			Category: CategoryTrades,
		}

	case KindProposalRejected:
		by := or(p.Get("to_nickname"), "El otro coleccionista")
		return Display{
			Title:    "Propuesta rechazada",
			Body:     by + " ha rechazado tu propuesta de intercambio",
			Href:     proposalHref(p),
			Icon:     "x-circle",
			Category: CategoryTrades,
		}

	case KindProposalCancelled:
		from := or(p.Get("from_nickname"), "El otro coleccionista")
		return Display{
			Title:    "Propuesta cancelada",
			Body:     from + " ha cancelado la propuesta de intercambio",
			Href:     proposalHref(p),
			Icon:     "slash",
			Category: CategoryTrades,
		}

	case KindListingReserved:
		return Display{
			Title:    "Anuncio reservado",
			Body:     strings.Join(nonEmpty("Tu anuncio", quoted(p.Get("listing_title")), "ha sido reservado"), " "),
			Href:     href("/marketplace", p.Get("listing_id")),
			Icon:     "bookmark",
			Category: CategoryMarketplace,
		}

	case KindListingCompleted:
		return Display{
			Title:    "Intercambio completado",
			Body:     "Se ha completado el intercambio de " + listingName(p),
			Href:     href("/marketplace", p.Get("listing_id")),
			Icon:     "package-check",
			Category: CategoryMarketplace,
		}

	case KindListingFavorited:
		who := or(p.Get("user_nickname"), "Alguien")
		return Display{
			Title:    "Nuevo favorito",
			Body:     who + " ha añadido " + listingName(p) + " a favoritos",
			Href:     href("/marketplace", p.Get("listing_id")),
			Icon:     "heart",
			Category: CategoryMarketplace,
		}

	case KindUserRated:
		rater := or(p.Get("rater_nickname"), "Un usuario")
		body := rater + " te ha valorado"
		if rating, ok := p.Int("rating"); ok && rating >= 1 && rating <= 5 {
			body += fmt.Sprintf(" con %d %s", rating, plural(rating, "estrella", "estrellas"))
		}
		return Display{
			Title:    "Nueva valoración",
			Body:     body,
			Href:     href("/users", p.Get("rater_id")),
			Icon:     "star",
			Category: CategorySocial,
		}

	case KindBadgeEarned:
		body := "Has conseguido una nueva insignia"
		if name := p.Get("badge_name"); name != "" {
			body = "Has conseguido la insignia «" + name + "»"
		}
		return Display{
			Title:    "¡Nueva insignia!",
			Body:     body,
			Href:     href("/profile/badges"),
			Icon:     "award",
			Category: CategoryAchievements,
		}

	case KindCollectionCompleted:
		body := "Has completado una colección"
		if title := p.Get("collection_title"); title != "" {
			body = "Has completado la colección «" + title + "»"
		}
		return Display{
			Title:    "¡Colección completada!",
			Body:     body,
			Href:     href("/collections", p.Get("template_id")),
			Icon:     "trophy",
			Category: CategoryAchievements,
		}

	case KindAdminAction:
		body := or(p.Get("message"), "Un administrador ha realizado una acción sobre tu cuenta")
		if reason := p.Get("reason"); reason != "" {
			body += ". Motivo: " + reason
		}
		return Display{
			Title:    "Aviso de moderación",
			Body:     body,
			Href:     nil,
			Icon:     "shield",
			Category: CategorySystem,
		}

	case KindSystemAnnouncement:
		var link *string
		if l := p.Get("link"); ValidHref(l) {
			link = &l
		}
		return Display{
			Title:    or(p.Get("title"), "Anuncio"),
			Body:     or(p.Get("message"), "Hay novedades en CambiaCromos"),
			Href:     link,
			Icon:     "megaphone",
			Category: CategorySystem,
		}
	}

	return Display{
		Title:    "Notificación",
		Body:     "Tienes una notificación nueva",
		Href:     nil,
		Icon:     "bell",
		Category: CategorySystem,
	}
}

// ValidHref はアプリ内の相対パスとして妥当かどうかを返す。
// 先頭は1つの"/"で、スキーム・ホスト・空白・バックスラッシュを含まないこと。
func ValidHref(h string) bool {
	if !strings.HasPrefix(h, "/") || strings.HasPrefix(h, "//") {
		return false
	}
	if strings.ContainsRune(h, '\\') || strings.IndexFunc(h, unicode.IsSpace) >= 0 {
		return false
	}
	u, err := url.Parse(h)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.User == nil
}

// href はbaseにidと後続セグメントを連結した遷移先を返す。
// idが空の場合はbaseを返す。idはパスセグメントとしてエスケープする。
func href(base string, segments ...string) *string {
	path := base
	if len(segments) > 0 {
		if segments[0] == "" {
			return ptr(base)
		}
		for _, s := range segments {
			path += "/" + url.PathEscape(s)
		}
	}
	if !ValidHref(path) {
		return nil
	}
	return ptr(path)
}

func proposalHref(p Payload) *string {
	return href("/trades/proposals", p.Get("proposal_id"))
}

func listingName(p Payload) string {
	return or(quoted(p.Get("listing_title")), "un anuncio")
}

func quoted(s string) string {
	if s == "" {
		return ""
	}
	return "«" + s + "»"
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// truncate はルーン単位でn文字に切り詰める。
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func ptr(s string) *string {
	return &s
}
