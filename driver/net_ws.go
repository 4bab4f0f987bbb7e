package driver

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cubesync/netsync"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// EventMessage 推送给观察者的文本 JSON
type EventMessage struct {
	Type   string         `json:"type"`
	Record netsync.Record `json:"record"`
}

// Hub 把诊断记录实时推送给 WebSocket 观察者，实现 netsync.Recorder。
// Record 在 Tick 线程中调用，只做非阻塞入队。
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
	log  *zap.SugaredLogger

	dropped int64
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), log: log}
}

// subscriber 一个观察者连接；direction 为 0 时接收全部方向
type subscriber struct {
	ws        *websocket.Conn
	send      chan []byte
	direction netsync.Direction
}

func (h *Hub) Record(r netsync.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return
	}
	b, err := json.Marshal(EventMessage{Type: "record", Record: r})
	if err != nil {
		h.log.Warnw("marshal record", "error", err)
		return
	}
	for sub := range h.subs {
		if sub.direction != 0 && sub.direction != r.Direction {
			continue
		}
		select {
		case sub.send <- b:
		default:
			// 观察者太慢：丢弃，不阻塞 Tick
			atomic.AddInt64(&h.dropped, 1)
		}
	}
}

// Subscribers 当前观察者数量
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped 因观察者队列满而丢弃的消息数
func (h *Hub) Dropped() int64 { return atomic.LoadInt64(&h.dropped) }

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
}

// remove 关闭发送队列以结束写协程；可重复调用
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.send)
}

// Close 断开所有观察者
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.remove(sub)
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 观察者不发送业务消息，只读控制帧以感知断开
func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)
	sub.ws.SetReadLimit(512)
	_ = sub.ws.SetReadDeadline(time.Now().Add(pongWait))
	sub.ws.SetPongHandler(func(string) error { return sub.ws.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		if _, _, err := sub.ws.ReadMessage(); err != nil {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 仅用于本机调试观察
		return true
	},
}

// HandleEvents WebSocket 接入：/ws/events?direction=client_to_server
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var dir netsync.Direction
	if q := r.URL.Query().Get("direction"); q != "" {
		if err := dir.UnmarshalText([]byte(q)); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade", "error", err)
		return
	}

	sub := &subscriber{ws: ws, send: make(chan []byte, 64), direction: dir}
	h.add(sub)
	h.log.Infow("event observer joined", "remote", r.RemoteAddr, "direction", dir.String())

	go h.writePump(sub)
	go h.readPump(sub)
}
