// Package mesh 提供无基础设施的对等网络层：周期发现、多跳路由、
// 去重与中继。物理传输由调用方注入，网络层只认"把消息交给某个直连
// 对等体"这一个动作。
package mesh

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType 网格消息类型
type MessageType string

const (
	TypeDiscovery         MessageType = "DISCOVERY"
	TypeDiscoveryResponse MessageType = "DISCOVERY_RESPONSE"
	TypeRoute             MessageType = "ROUTE"
	TypeData              MessageType = "DATA"
	TypeAck               MessageType = "ACK"
)

// 洪泛类消息的初始 TTL
const (
	discoveryTTL = 3
	routeAdTTL   = 2
)

// RouteAd ROUTE 消息携带的路由通告：经发送方可达 Destination，
// 距离为 HopCount 跳。
type RouteAd struct {
	Destination string `json:"destination"`
	HopCount    int    `json:"hopCount"`
}

// Message 网格线上格式。字段按类型选用，JSON 命名与线上协议一致。
// 中继会改写 Sender 为中继者自身并在 OriginalSender 里保留源头，
// ID 原样保留以便去重缓存终结环路。
type Message struct {
	Type             MessageType `json:"type"`
	Sender           string      `json:"sender"`
	Timestamp        int64       `json:"timestamp"`
	TTL              int         `json:"ttl,omitempty"`
	ID               string      `json:"id,omitempty"`
	Transports       []string    `json:"transports,omitempty"`
	Version          string      `json:"version,omitempty"`
	Route            *RouteAd    `json:"route,omitempty"`
	FinalDestination string      `json:"finalDestination,omitempty"`
	OriginalSender   string      `json:"originalSender,omitempty"`
	Routed           bool        `json:"routed,omitempty"`
	ReferencedID     string      `json:"referencedMessageId,omitempty"`
	Payload          []byte      `json:"payload,omitempty"`
}

// Origin 消息源头：中继过的消息看 OriginalSender，否则就是 Sender
func (m *Message) Origin() string {
	if m.OriginalSender != "" {
		return m.OriginalSender
	}
	return m.Sender
}

// Encode 序列化为线上 JSON
func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("mesh: encode message: %w", err)
	}
	return b, nil
}

// DecodeMessage 解析线上 JSON 并做最小校验
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("mesh: decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("mesh: message missing type")
	}
	if m.Sender == "" {
		return Message{}, fmt.Errorf("mesh: message missing sender")
	}
	return m, nil
}

// Peer 一个已知对等体
type Peer struct {
	ID                string    `json:"id"`
	Transports        []string  `json:"transports,omitempty"`
	DirectlyConnected bool      `json:"directly_connected"`
	Quality           float64   `json:"quality"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
	MessageCount      uint64    `json:"message_count"`
}

// Route 路由表项
type Route struct {
	Destination string    `json:"destination"`
	NextHop     string    `json:"next_hop"`
	HopCount    int       `json:"hop_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// nowMillis 线上时间戳用 unix 毫秒
func nowMillis(t time.Time) int64 { return t.UnixMilli() }
