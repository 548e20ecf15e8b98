package checklist

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
)

// Generate はテンプレート・ページ・スロットのINSERT文をwに書き出す。
// 全体を1つのトランザクションにまとめ、ページとスロットは番号順に出力する。
func Generate(w io.Writer, m Manifest, c Checklist) error {
	title := m.Title
	if title == "" {
		title = c.Title
	}
	description := m.Description
	if description == "" {
		description = c.Description
	}
	templateSlug := m.Slug
	if templateSlug == "" {
		templateSlug = slug.MakeLang(title, "es")
	}
	if !slug.IsSlug(templateSlug) {
		return fmt.Errorf("スラッグが不正です: %q", templateSlug)
	}

	tid := strconv.FormatInt(m.TemplateID, 10)
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "-- %s (%s): %d páginas, %d cromos\n", oneLine(title), templateSlug, len(c.Pages), c.TotalSlots())
	fmt.Fprintln(bw, "BEGIN;")
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "INSERT INTO collection_templates (id, author_id, title, slug, description, image_url, is_public, total_slots)")
	fmt.Fprintf(bw, "VALUES (%s, %s, %s, %s, %s, %s, %t, %d);\n\n",
		tid, quote(m.AuthorID), quote(title), quote(templateSlug), nullable(description), nullable(m.ImageURL), m.IsPublic, c.TotalSlots())

	fmt.Fprintln(bw, "INSERT INTO template_pages (template_id, page_number, title, type, slots_count) VALUES")
	for i, p := range c.Pages {
		fmt.Fprintf(bw, "  (%s, %d, %s, %s, %d)%s\n", tid, p.Number, quote(p.Title), quote(p.Type), len(p.Slots), sep(i, len(c.Pages)))
	}
	fmt.Fprintln(bw)

	var rows []string
	for _, p := range c.Pages {
		for _, s := range p.Slots {
			rows = append(rows, fmt.Sprintf("  (%d, %d, %s, %t)", p.Number, s.Number, nullable(s.Label), s.IsSpecial))
		}
	}
	if len(rows) > 0 {
		fmt.Fprintln(bw, "INSERT INTO template_slots (template_id, page_id, slot_number, label, is_special)")
		fmt.Fprintf(bw, "SELECT %s, p.id, v.slot_number, v.label, v.is_special\n", tid)
		fmt.Fprintln(bw, "FROM (VALUES")
		fmt.Fprintln(bw, strings.Join(rows, ",\n"))
		fmt.Fprintln(bw, ") AS v(page_number, slot_number, label, is_special)")
		fmt.Fprintf(bw, "JOIN template_pages p ON p.template_id = %s AND p.page_number = v.page_number;\n\n", tid)
	}

	fmt.Fprintln(bw, "COMMIT;")
	return bw.Flush()
}

// quote はSQLの文字列リテラルを返す。
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// nullable は空文字をNULLとして扱う。
func nullable(s string) string {
	if s == "" {
		return "NULL"
	}
	return quote(s)
}

func sep(i, n int) string {
	if i == n-1 {
		return ";"
	}
	return ","
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
