// Package sse はユーザー単位のServer-Sent Eventsブローカーを提供する。
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event はクライアントに送るSSEイベント。
type Event struct {
	// Type はSSEのevent名。
	Type string `json:"type"`
	// Data はJSONとして送るデータ。
	Data any `json:"data"`
}

type subscription struct {
	topic string
	ch    chan []byte
}

type message struct {
	topic string
	raw   []byte
}

type countReq struct {
	topic string
	resp  chan int
}

// Broker はトピック（ユーザーID）ごとにSSEクライアントを管理し、イベントを配信する。
//
// 内部のイベントループ（goroutine）1つがクライアント一覧を所有し、
// 公開メソッドはチャネル経由でループとやり取りするためミューテックスを使わない。
type Broker struct {
	keepAlive time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan subscription
	publishCh     chan message
	countReqCh    chan countReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker は新しいブローカーを生成する。
// keepAliveはコメント行を送る間隔で、0以下ならデフォルトの25秒になる。
func NewBroker(keepAlive time.Duration) *Broker {
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}

	b := &Broker{
		keepAlive:     keepAlive,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan subscription),
		publishCh:     make(chan message, 256),
		countReqCh:    make(chan countReq),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	topics := make(map[string]map[chan []byte]struct{})

	for {
		select {
		case <-b.stopCh:
			for _, clients := range topics {
				for ch := range clients {
					close(ch)
				}
			}
			return

		case sub := <-b.subscribeCh:
			clients, ok := topics[sub.topic]
			if !ok {
				clients = make(map[chan []byte]struct{})
				topics[sub.topic] = clients
			}
			clients[sub.ch] = struct{}{}

		case sub := <-b.unsubscribeCh:
			clients := topics[sub.topic]
			if _, ok := clients[sub.ch]; ok {
				delete(clients, sub.ch)
				close(sub.ch)
				if len(clients) == 0 {
					delete(topics, sub.topic)
				}
			}

		case msg := <-b.publishCh:
			targets := topics[msg.topic]
			if msg.topic == "" {
				targets = nil
				for _, clients := range topics {
					for ch := range clients {
						send(ch, msg.raw)
					}
				}
			}
			for ch := range targets {
				send(ch, msg.raw)
			}

		case req := <-b.countReqCh:
			if req.topic == "" {
				n := 0
				for _, clients := range topics {
					n += len(clients)
				}
				req.resp <- n
			} else {
				req.resp <- len(topics[req.topic])
			}
		}
	}
}

// send はクライアントのバッファが埋まっている場合は送信を諦める。ブローカーのループを止めないため。
func send(ch chan []byte, raw []byte) {
	select {
	case ch <- raw:
	default:
	}
}

// Close はイベントループを停止し、すべてのクライアントのチャネルを閉じる。
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe はトピックに新しいクライアントを登録し、そのチャネルを返す。
func (b *Broker) Subscribe(topic string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{topic: topic, ch: ch}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe はクライアントを登録解除し、チャネルを閉じる。
func (b *Broker) Unsubscribe(topic string, ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- subscription{topic: topic, ch: ch}:
	case <-b.stopped:
	}
}

// ClientCount はトピックの接続数を返す。topicが空なら全体の接続数を返す。
func (b *Broker) ClientCount(topic string) int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- countReq{topic: topic, resp: resp}:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish はトピックの全クライアントにイベントを送る。
func (b *Broker) Publish(topic string, event Event) {
	b.publish(topic, event)
}

// Broadcast はすべてのクライアントにイベントを送る。
func (b *Broker) Broadcast(event Event) {
	b.publish("", event)
}

func (b *Broker) publish(topic string, event Event) {
	if b.closed.Load() {
		return
	}
	raw, err := Encode(event)
	if err != nil {
		return
	}
	select {
	case b.publishCh <- message{topic: topic, raw: raw}:
	case <-b.stopped:
	}
}

// Encode はイベントをSSEのワイヤ形式に変換する。
func Encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("SSEイベントのシリアライズに失敗: %w", err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

// ServeTopic はトピックのSSEストリームを返すハンドラ本体。
// リクエストのコンテキストが終了するかブローカーが閉じられるまで戻らない。
func (b *Broker) ServeTopic(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ch := b.Subscribe(topic)
	defer b.Unsubscribe(topic, ch)

	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
