package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jpt262/dialup/internal/gateway"
	"github.com/jpt262/dialup/internal/mesh"
	"github.com/jpt262/dialup/internal/metrics"
	"github.com/jpt262/dialup/internal/mode"
	"github.com/jpt262/dialup/internal/protocol/framing"
)

const (
	// eventWriteWait 单次写超时
	eventWriteWait = 10 * time.Second
	// eventPongWait 收不到 pong 即判定订阅者失联
	eventPongWait = 60 * time.Second
	// eventPingPeriod 必须小于 eventPongWait
	eventPingPeriod = 54 * time.Second
	// eventSendBuffer 单订阅者积压上限，写满即踢掉慢订阅者
	eventSendBuffer = 32
)

// Event 推送给订阅者的一条事件
type Event struct {
	Type string      `json:"type"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data"`
}

// FrameStatusData 帧状态事件载荷
type FrameStatusData struct {
	Channel   string `json:"channel"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	BufferLen int    `json:"buffer_len"`
}

// ModeChangeData 模式切换事件载荷
type ModeChangeData struct {
	From mode.Mode `json:"from"`
	To   mode.Mode `json:"to"`
}

// PeerLostData 对等体失联事件载荷
type PeerLostData struct {
	ID string `json:"id"`
}

// eventClient 一个 WebSocket 订阅者
type eventClient struct {
	conn   *websocket.Conn
	sendC  chan Event
	closed bool
}

// EventsHandler 通过 WebSocket 广播节点事件。
// 节点的各回调槽位只有一个，事件流是它们的唯一注册方，
// 由 Bind 统一挂接；慢订阅者在缓冲写满时被断开，不拖累发布方。
type EventsHandler struct {
	logger *zap.Logger
	appm   *metrics.AppMetrics

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*eventClient]struct{}
	stopped bool
}

// NewEventsHandler 创建事件流处理器
func NewEventsHandler(logger *zap.Logger, appm *metrics.AppMetrics) *EventsHandler {
	return &EventsHandler{
		logger: logger,
		appm:   appm,
		upgrader: websocket.Upgrader{
			// 面板页面从局域网内任意源访问
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*eventClient]struct{}),
	}
}

// Bind 把节点与网络层的回调挂到事件流上
func (h *EventsHandler) Bind(node *gateway.Node) {
	node.OnMessage(func(m gateway.Message) {
		h.Publish("message", m)
	})
	node.OnStatus(func(ev framing.StatusEvent) {
		// Tracking 每个数据符号都触发一次，不上事件流
		if ev.Status == framing.StatusTracking {
			return
		}
		h.Publish("frame_status", FrameStatusData{
			Channel:   ev.Channel,
			Status:    ev.Status.String(),
			Reason:    ev.Reason,
			BufferLen: ev.BufferLen,
		})
	})
	node.OnModeChange(func(prev, cur mode.Mode) {
		h.Publish("mode_change", ModeChangeData{From: prev, To: cur})
	})

	mm := node.Mesh()
	mm.OnPeerDiscovered(func(p mesh.Peer) {
		h.Publish("peer_discovered", p)
	})
	mm.OnPeerLost(func(id string) {
		h.Publish("peer_lost", PeerLostData{ID: id})
	})
	mm.OnRouteChanged(func(r mesh.Route) {
		h.Publish("route_changed", r)
	})
}

// Publish 向所有订阅者广播一条事件，缓冲写满的订阅者被当场断开
func (h *EventsHandler) Publish(typ string, data interface{}) {
	ev := Event{Type: typ, At: time.Now(), Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	for c := range h.clients {
		select {
		case c.sendC <- ev:
		default:
			h.logger.Warn("event subscriber too slow, dropping",
				zap.String("remote_addr", c.conn.RemoteAddr().String()))
			if h.appm != nil {
				h.appm.EventsDropped.Inc()
			}
			h.removeLocked(c)
		}
	}
}

// Subscribers 当前订阅者数
func (h *EventsHandler) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve 处理 GET /api/events 的 WebSocket 升级
func (h *EventsHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("event stream upgrade failed",
			zap.String("remote_addr", c.ClientIP()), zap.Error(err))
		return
	}

	client := &eventClient{
		conn:  conn,
		sendC: make(chan Event, eventSendBuffer),
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	if h.appm != nil {
		h.appm.EventSubscribers.Inc()
	}
	h.logger.Info("event subscriber connected",
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.Int("subscribers", count))

	go client.writePump()

	// 读循环只为探测断开与响应 ping/pong，入站数据一律忽略
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	h.removeLocked(client)
	h.mu.Unlock()
	h.logger.Info("event subscriber disconnected",
		zap.String("remote_addr", conn.RemoteAddr().String()))
}

// Close 断开所有订阅者并拒绝后续发布
func (h *EventsHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// removeLocked 摘除订阅者，调用方持有 h.mu；关闭发送通道让写泵收尾
func (h *EventsHandler) removeLocked(c *eventClient) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.sendC)
	delete(h.clients, c)
	if h.appm != nil {
		h.appm.EventSubscribers.Dec()
	}
}

// writePump 顺序写出事件并维持 ping 心跳，发送通道关闭后收尾退出
func (c *eventClient) writePump() {
	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sendC:
			_ = c.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
