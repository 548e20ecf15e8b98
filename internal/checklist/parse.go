package checklist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ページの種類。
const (
	PageTeam    = "team"
	PageSpecial = "special"
)

// Checklist はチェックリストのJSONから読み取ったアルバムの構成。
type Checklist struct {
	Title       string
	Description string
	Pages       []Page
}

// Page はアルバムの1ページ。
type Page struct {
	Number int
	Title  string
	Type   string
	Slots  []Slot
}

// Slot はページ内の1スロット（1枚のシール）。
type Slot struct {
	Number    int
	Label     string
	IsSpecial bool
}

// TotalSlots はスロットの総数を返す。
func (c Checklist) TotalSlots() int {
	n := 0
	for _, p := range c.Pages {
		n += len(p.Slots)
	}
	return n
}

// Parse はチェックリストのJSONを解析する。
// ページは"pages"または"sections"、スロットは"slots"または"stickers"から読む。
// 番号が省略されたページは出現順、スロットはアルバム全体の通し番号で補う。
func Parse(data []byte) (Checklist, error) {
	if !gjson.ValidBytes(data) {
		return Checklist{}, errors.New("チェックリストがJSONではありません")
	}
	root := gjson.ParseBytes(data)

	c := Checklist{
		Title:       strings.TrimSpace(first(root, "title", "name").String()),
		Description: strings.TrimSpace(root.Get("description").String()),
	}
	if c.Title == "" {
		return Checklist{}, errors.New("チェックリストにタイトルがありません")
	}

	pages := first(root, "pages", "sections")
	if !pages.IsArray() || len(pages.Array()) == 0 {
		return Checklist{}, errors.New("チェックリストにページがありません")
	}

	seen := make(map[int]string)
	pageSeen := make(map[int]bool)
	next := 1
	for i, raw := range pages.Array() {
		p := Page{
			Number: int(raw.Get("number").Int()),
			Title:  strings.TrimSpace(first(raw, "title", "name").String()),
			Type:   strings.ToLower(strings.TrimSpace(raw.Get("type").String())),
		}
		if p.Number <= 0 {
			p.Number = i + 1
		}
		if pageSeen[p.Number] {
			return Checklist{}, fmt.Errorf("ページ番号%dが重複しています", p.Number)
		}
		pageSeen[p.Number] = true
		if p.Title == "" {
			p.Title = fmt.Sprintf("Página %d", p.Number)
		}
		if p.Type == "" {
			p.Type = PageTeam
		}
		if p.Type != PageTeam && p.Type != PageSpecial {
			return Checklist{}, fmt.Errorf("ページ%dの種類が不正です: %q", p.Number, p.Type)
		}

		for _, s := range first(raw, "slots", "stickers").Array() {
			slot := Slot{
				Number:    int(first(s, "number", "num").Int()),
				Label:     strings.TrimSpace(first(s, "label", "name").String()),
				IsSpecial: first(s, "is_special", "special").Bool() || p.Type == PageSpecial,
			}
			if slot.Number <= 0 {
				slot.Number = next
			}
			if prev, dup := seen[slot.Number]; dup {
				return Checklist{}, fmt.Errorf("スロット番号%dが重複しています（%sと%s）", slot.Number, prev, p.Title)
			}
			seen[slot.Number] = p.Title
			next = slot.Number + 1
			p.Slots = append(p.Slots, slot)
		}
		c.Pages = append(c.Pages, p)
	}
	return c, nil
}

// first はpathsのうち最初に存在する値を返す。
func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
