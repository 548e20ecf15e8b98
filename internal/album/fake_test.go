package album

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errBackend = errors.New("backend unavailable")

// fakeGateway はメモリ上でバックエンドを模倣するGateway。
// failに登録したメソッドはエラーを返し、blockが設定されていれば書き込み系の呼び出しはblockが閉じるまで待つ。
type fakeGateway struct {
	mu          sync.Mutex
	profile     Profile
	collections map[int64]Collection
	listings    map[int64]Listing
	catalog     map[int64]int
	fail        map[string]error
	block       chan struct{}
	calls       []string
	tokens      []string
	nextCopyID  int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		profile: Profile{ID: "user-1", Nickname: "cromero", Postcode: "28001"},
		collections: map[int64]Collection{
			10: {CopyID: 1, TemplateID: 10, Title: "Liga 2024", IsActive: true, TotalSlots: 500, OwnedSlots: []int64{1, 2, 3}, OwnedCount: 3},
			20: {CopyID: 2, TemplateID: 20, Title: "Mundial 2022", TotalSlots: 670, OwnedSlots: []int64{}},
		},
		listings: map[int64]Listing{
			100: {ID: 100, Title: "Pack de repetidos", Status: ListingActive},
			101: {ID: 101, Title: "Álbum vacío", Status: ListingRemoved, DeletedAt: ptrTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))},
		},
		catalog:    map[int64]int{10: 500, 20: 670, 30: 240},
		fail:       map[string]error{},
		nextCopyID: 3,
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func (g *fakeGateway) factory(token string) Gateway {
	g.mu.Lock()
	g.tokens = append(g.tokens, token)
	g.mu.Unlock()
	return g
}

func (g *fakeGateway) setFail(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[method] = err
}

func (g *fakeGateway) callCount(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == method {
			n++
		}
	}
	return n
}

// write は書き込み系の呼び出しを記録し、失敗させる場合はエラーを返す。
func (g *fakeGateway) write(method string, apply func()) error {
	g.mu.Lock()
	g.calls = append(g.calls, method)
	block := g.block
	err := g.fail[method]
	g.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	apply()
	return nil
}

func (g *fakeGateway) LoadProfile(context.Context, string) (Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail["LoadProfile"]; err != nil {
		return Profile{}, err
	}
	return g.profile, nil
}

func (g *fakeGateway) LoadCollections(context.Context, string) ([]Collection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Collection, 0, len(g.collections))
	for _, c := range g.collections {
		out = append(out, cloneCollection(c))
	}
	return out, nil
}

func (g *fakeGateway) LoadListings(context.Context, string) ([]Listing, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Listing, 0, len(g.listings))
	for _, l := range g.listings {
		out = append(out, cloneListing(l))
	}
	return out, nil
}

func (g *fakeGateway) AddCollection(_ context.Context, templateID int64) error {
	return g.write("AddCollection", func() {
		g.collections[templateID] = Collection{
			CopyID:     g.nextCopyID,
			TemplateID: templateID,
			Title:      "Plantilla oficial",
			TotalSlots: g.catalog[templateID],
			OwnedSlots: []int64{},
		}
		g.nextCopyID++
	})
}

func (g *fakeGateway) RemoveCollection(_ context.Context, _ string, templateID int64) error {
	return g.write("RemoveCollection", func() { delete(g.collections, templateID) })
}

func (g *fakeGateway) ActivateCollection(_ context.Context, templateID int64) error {
	return g.write("ActivateCollection", func() {
		for id, c := range g.collections {
			c.IsActive = id == templateID
			g.collections[id] = c
		}
	})
}

func (g *fakeGateway) UpdateProfile(_ context.Context, _ string, fields map[string]any) error {
	return g.write("UpdateProfile", func() {
		if v, ok := fields["nickname"].(string); ok {
			g.profile.Nickname = v
		}
		if v, ok := fields["postcode"].(string); ok {
			g.profile.Postcode = v
		}
	})
}

func (g *fakeGateway) UpdateSlot(_ context.Context, templateID, slotID int64, owned bool) error {
	return g.write("UpdateSlot", func() {
		c := g.collections[templateID]
		c.SetOwned(slotID, owned)
		g.collections[templateID] = c
	})
}

func (g *fakeGateway) DeleteListing(_ context.Context, listingID int64) error {
	return g.write("DeleteListing", func() {
		l := g.listings[listingID]
		l.Status = ListingRemoved
		l.DeletedAt = ptrTime(time.Now())
		g.listings[listingID] = l
	})
}

func (g *fakeGateway) RestoreListing(_ context.Context, listingID int64) error {
	return g.write("RestoreListing", func() {
		l := g.listings[listingID]
		l.Status = ListingActive
		l.DeletedAt = nil
		g.listings[listingID] = l
	})
}
