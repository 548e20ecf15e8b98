package album

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nao1215/cambiacromos/pkg/supabase"
)

// restRequest はモックのREST APIが受け取ったリクエスト。
type restRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

// setupRESTServer はパスごとに固定のレスポンスを返すREST APIのモックを起動する。
func setupRESTServer(t *testing.T, responses map[string]string) (Gateway, func() []restRequest) {
	t.Helper()

	var (
		mu   sync.Mutex
		reqs []restRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := restRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
		}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &rec.body)
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		body, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if body == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"message":"rechazado","code":"P0001"}`)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	client, err := supabase.New(srv.URL, "anon-key")
	if err != nil {
		t.Fatalf("クライアントの生成に失敗: %v", err)
	}
	gw := NewSupabaseFactory(client)("user-token")
	return gw, func() []restRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]restRequest(nil), reqs...)
	}
}

func TestSupabaseGateway_LoadProfile(t *testing.T) {
	t.Parallel()

	gw, requests := setupRESTServer(t, map[string]string{
		"/rest/v1/profiles": `{"id":"user-1","nickname":"cromero","postcode":null,"avatar_url":null}`,
	})

	p, err := gw.LoadProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if p.Nickname != "cromero" || p.Postcode != "" {
		t.Errorf("プロフィール: got %+v", p)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("リクエスト数: got %d", len(reqs))
	}
	if reqs[0].auth != "Bearer user-token" {
		t.Errorf("Authorization: got %q", reqs[0].auth)
	}
}

func TestSupabaseGateway_LoadCollections(t *testing.T) {
	t.Parallel()

	gw, _ := setupRESTServer(t, map[string]string{
		"/rest/v1/user_template_copies": `[
			{"id":1,"template_id":10,"title":"Liga 2024","is_active":true,"total_slots":500},
			{"id":2,"template_id":20,"title":"Mundial 2022","is_active":false,"total_slots":670}
		]`,
		"/rest/v1/user_template_progress": `[
			{"template_id":10,"slot_id":3},
			{"template_id":10,"slot_id":1},
			{"template_id":99,"slot_id":1}
		]`,
	})

	cols, err := gw.LoadCollections(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("コレクション数: got %d", len(cols))
	}
	if cols[0].OwnedCount != 2 || !cols[0].Owns(1) || !cols[0].Owns(3) {
		t.Errorf("所有スロット: got %+v", cols[0])
	}
	if cols[1].OwnedCount != 0 {
		t.Errorf("所有数: got %d, want 0", cols[1].OwnedCount)
	}
	b, err := json.Marshal(cols[1])
	if err != nil {
		t.Fatalf("JSONへの変換に失敗: %v", err)
	}
	if !strings.Contains(string(b), `"owned_slots":[]`) {
		t.Errorf("所有スロットがない場合は空配列になるべき: %s", b)
	}
}

func TestSupabaseGateway_Writes(t *testing.T) {
	t.Parallel()

	t.Run("スロットの更新はRPCに状態を渡すこと", func(t *testing.T) {
		t.Parallel()

		gw, requests := setupRESTServer(t, nil)
		if err := gw.UpdateSlot(context.Background(), 10, 7, false); err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}

		reqs := requests()
		if len(reqs) != 1 || reqs[0].path != "/rest/v1/rpc/update_slot_progress" {
			t.Fatalf("リクエスト: got %+v", reqs)
		}
		if reqs[0].body["p_status"] != "missing" || reqs[0].body["p_slot_id"] != float64(7) {
			t.Errorf("パラメータ: got %v", reqs[0].body)
		}
	})

	t.Run("プロフィールの更新はPATCHで行うこと", func(t *testing.T) {
		t.Parallel()

		gw, requests := setupRESTServer(t, nil)
		if err := gw.UpdateProfile(context.Background(), "user-1", map[string]any{"postcode": "08001"}); err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}

		reqs := requests()
		if len(reqs) != 1 || reqs[0].method != http.MethodPatch || reqs[0].query != "id=eq.user-1" {
			t.Fatalf("リクエスト: got %+v", reqs)
		}
		if reqs[0].body["postcode"] != "08001" {
			t.Errorf("ボディ: got %v", reqs[0].body)
		}
	})

	t.Run("バックエンドのエラーをAPIErrorとして返すこと", func(t *testing.T) {
		t.Parallel()

		gw, _ := setupRESTServer(t, map[string]string{"/rest/v1/rpc/soft_delete_listing": ""})
		err := gw.DeleteListing(context.Background(), 100)
		if !supabase.IsStatus(err, http.StatusBadRequest) {
			t.Errorf("400のAPIErrorになるべき: %v", err)
		}
	})
	t.Run("失敗した変更は再送せず1回だけ呼び出すこと", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"message":"no disponible"}`)
		}))
		t.Cleanup(srv.Close)

		// 既定のリトライ設定のままのクライアントを渡す
		client, err := supabase.New(srv.URL, "anon-key")
		if err != nil {
			t.Fatalf("クライアントの生成に失敗: %v", err)
		}
		gw := NewSupabaseFactory(client)("user-token")

		err = gw.AddCollection(context.Background(), 10)
		if !supabase.IsStatus(err, http.StatusServiceUnavailable) {
			t.Errorf("503のAPIErrorになるべき: %v", err)
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("呼び出し回数: got %d, want 1", got)
		}
	})
}
