package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// From はテーブルに対するクエリビルダーを返す。
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{
		client: c,
		table:  table,
		params: url.Values{},
	}
}

// QueryBuilder はPostgRESTのクエリを組み立てる。
type QueryBuilder struct {
	client *Client
	table  string
	params url.Values
	single bool
}

// Select は取得する列を指定する。
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.params.Set("select", columns)
	return q
}

// Eq は等価条件を追加する。
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	q.params.Add(column, "eq."+fmt.Sprint(value))
	return q
}

// Neq は非等価条件を追加する。
func (q *QueryBuilder) Neq(column string, value any) *QueryBuilder {
	q.params.Add(column, "neq."+fmt.Sprint(value))
	return q
}

// In はIN条件を追加する。
func (q *QueryBuilder) In(column string, values ...any) *QueryBuilder {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	q.params.Add(column, "in.("+strings.Join(parts, ",")+")")
	return q
}

// Is はIS条件（null、true、false）を追加する。
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	v := "null"
	if value != nil {
		v = fmt.Sprint(value)
	}
	q.params.Add(column, "is."+v)
	return q
}

// Lt は未満条件を追加する。
func (q *QueryBuilder) Lt(column string, value any) *QueryBuilder {
	q.params.Add(column, "lt."+fmt.Sprint(value))
	return q
}

// Order は並び順を追加する。
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	order := column + "." + dir
	if prev := q.params.Get("order"); prev != "" {
		order = prev + "," + order
	}
	q.params.Set("order", order)
	return q
}

// Limit は取得件数の上限を指定する。
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

// Single は結果を単一オブジェクトとして取得する。該当なしの場合は406のAPIErrorになる。
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

func (q *QueryBuilder) path() string {
	p := "/rest/v1/" + url.PathEscape(q.table)
	if len(q.params) > 0 {
		p += "?" + q.params.Encode()
	}
	return p
}

func (q *QueryBuilder) header(prefer string) http.Header {
	h := make(http.Header)
	if q.single {
		h.Set("Accept", "application/vnd.pgrst.object+json")
	}
	if prefer != "" {
		h.Set("Prefer", prefer)
	}
	return h
}

// Execute はSELECTを実行する。
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	return q.client.do(ctx, http.MethodGet, q.path(), nil, q.header(""))
}

// Insert は行を挿入し、挿入された行を返す。
func (q *QueryBuilder) Insert(ctx context.Context, data any) (*Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("挿入データのシリアライズに失敗: %w", err)
	}
	return q.client.do(ctx, http.MethodPost, q.path(), body, q.header("return=representation"))
}

// Update は条件に一致する行を更新し、更新された行を返す。
func (q *QueryBuilder) Update(ctx context.Context, data any) (*Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("更新データのシリアライズに失敗: %w", err)
	}
	return q.client.do(ctx, http.MethodPatch, q.path(), body, q.header("return=representation"))
}

// Delete は条件に一致する行を削除する。
func (q *QueryBuilder) Delete(ctx context.Context) (*Response, error) {
	return q.client.do(ctx, http.MethodDelete, q.path(), nil, q.header("return=minimal"))
}
