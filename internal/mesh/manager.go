package mesh

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BroadcastPeer 尚无已知对等体时的广播占位目标。物理介质本身是
// 广播的，发送实现对这个目标做一次全向发射即可。
const BroadcastPeer = "*"

// Sender 把一条网格消息交给某个直连对等体。由网关的发射管线实现，
// 返回 false 表示本次发送失败（尽力而为，不重试）。
type Sender interface {
	Send(peerID string, msg Message) bool
}

// Config 网络层参数
type Config struct {
	NodeID     string
	Version    string
	Transports []string
	// DiscoveryInterval 周期发现间隔
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	// RouteTimeout 对等体/路由静默过期时长，同时是清扫周期
	RouteTimeout time.Duration `mapstructure:"route_timeout"`
	// DedupTTL 去重缓存保留时长
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
	// RouteRefreshWindow 同跳数路由允许刷新的最小间隔
	RouteRefreshWindow time.Duration `mapstructure:"route_refresh_window"`
	// AckData 对送达本节点的 DATA 回 ACK
	AckData bool `mapstructure:"ack_data"`
}

// DefaultConfig 默认网络层参数
func DefaultConfig(nodeID string) Config {
	return Config{
		NodeID:             nodeID,
		DiscoveryInterval:  30 * time.Second,
		RouteTimeout:       120 * time.Second,
		DedupTTL:           60 * time.Second,
		RouteRefreshWindow: 5 * time.Second,
	}
}

// Counters 网络层累计计数
type Counters struct {
	Sent            uint64 `json:"sent"`
	Received        uint64 `json:"received"`
	Delivered       uint64 `json:"delivered"`
	Relayed         uint64 `json:"relayed"`
	Deduped         uint64 `json:"deduped"`
	RoutingFailures uint64 `json:"routing_failures"`
	AcksReceived    uint64 `json:"acks_received"`
}

// outbound 一次待执行的发送，在锁外统一执行
type outbound struct {
	to  string
	msg Message
}

// Manager 网格网络管理器。对等体表、路由表与去重缓存由互斥锁保护；
// 回调与发送一律在锁外执行，允许发送路径重入（环回测试里
// Send 会同步触发对端的 ProcessMessage）。
type Manager struct {
	cfg    Config
	log    *zap.Logger
	sender Sender
	nowFn  func() time.Time

	mu       sync.Mutex
	peers    map[string]*Peer
	routes   map[string]*Route
	seen     map[string]time.Time
	counters Counters

	cancel context.CancelFunc
	wg     sync.WaitGroup

	onPeerDiscovered func(Peer)
	onPeerLost       func(string)
	onRouteChanged   func(Route)
	onMessage        func(origin string, payload []byte)
}

// NewManager 构造网络管理器
func NewManager(cfg Config, log *zap.Logger, sender Sender) (*Manager, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("mesh: node id required")
	}
	if sender == nil {
		return nil, errors.New("mesh: sender required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig(cfg.NodeID)
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = def.DiscoveryInterval
	}
	if cfg.RouteTimeout <= 0 {
		cfg.RouteTimeout = def.RouteTimeout
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}
	if cfg.RouteRefreshWindow <= 0 {
		cfg.RouteRefreshWindow = def.RouteRefreshWindow
	}
	return &Manager{
		cfg:    cfg,
		log:    log,
		sender: sender,
		nowFn:  time.Now,
		peers:  make(map[string]*Peer),
		routes: make(map[string]*Route),
		seen:   make(map[string]time.Time),
	}, nil
}

// OnPeerDiscovered 注册新对等体回调，每个管理器只有一个
func (m *Manager) OnPeerDiscovered(fn func(Peer)) { m.onPeerDiscovered = fn }

// OnPeerLost 注册对等体过期回调
func (m *Manager) OnPeerLost(fn func(string)) { m.onPeerLost = fn }

// OnRouteChanged 注册路由变化回调，NextHop 为空表示路由被移除
func (m *Manager) OnRouteChanged(fn func(Route)) { m.onRouteChanged = fn }

// OnMessage 注册应用数据回调，origin 是消息源头节点
func (m *Manager) OnMessage(fn func(origin string, payload []byte)) { m.onMessage = fn }

// Start 启动周期发现与清扫。Stop 前只允许调用一次。
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Discover()
		ticker := time.NewTicker(m.cfg.DiscoveryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Discover()
			}
		}
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.RouteTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(m.nowFn())
			}
		}
	}()

	m.log.Info("mesh manager started",
		zap.String("node_id", m.cfg.NodeID),
		zap.Duration("discovery_interval", m.cfg.DiscoveryInterval),
		zap.Duration("route_timeout", m.cfg.RouteTimeout))
}

// Stop 取消定时器并清空全部状态，保证不再有回调泄出
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.mu.Lock()
	m.peers = make(map[string]*Peer)
	m.routes = make(map[string]*Route)
	m.seen = make(map[string]time.Time)
	m.mu.Unlock()
	m.log.Info("mesh manager stopped", zap.String("node_id", m.cfg.NodeID))
}

// Discover 立即广播一轮 DISCOVERY
func (m *Manager) Discover() {
	now := m.nowFn()
	msg := Message{
		Type:       TypeDiscovery,
		Sender:     m.cfg.NodeID,
		Timestamp:  nowMillis(now),
		TTL:        discoveryTTL,
		ID:         uuid.NewString(),
		Transports: m.cfg.Transports,
		Version:    m.cfg.Version,
	}

	m.mu.Lock()
	m.seen[msg.ID] = now
	targets := m.directPeersLocked()
	m.mu.Unlock()

	if len(targets) == 0 {
		targets = []string{BroadcastPeer}
	}
	for _, to := range targets {
		m.sender.Send(to, msg)
	}
	m.log.Debug("discovery broadcast", zap.String("node_id", m.cfg.NodeID), zap.Int("targets", len(targets)))
}

// SendMessage 把应用载荷发往目标节点。直连走一跳，否则查路由表；
// 没有路由返回 false，不排队不重试。
func (m *Manager) SendMessage(payload []byte, dest string) bool {
	now := m.nowFn()
	msg := Message{
		Type:             TypeData,
		Sender:           m.cfg.NodeID,
		OriginalSender:   m.cfg.NodeID,
		Timestamp:        nowMillis(now),
		ID:               uuid.NewString(),
		FinalDestination: dest,
		Payload:          payload,
	}

	m.mu.Lock()
	m.seen[msg.ID] = now
	to, routed, ok := m.pickPathLocked(dest)
	if !ok {
		m.counters.RoutingFailures++
		m.mu.Unlock()
		m.log.Warn("no route to destination", zap.String("dest", dest))
		return false
	}
	msg.Routed = routed
	m.counters.Sent++
	m.mu.Unlock()

	return m.sender.Send(to, msg)
}

// pickPathLocked 为目的地选择下一跳。调用方持有锁。
func (m *Manager) pickPathLocked(dest string) (to string, routed, ok bool) {
	if p, found := m.peers[dest]; found && p.DirectlyConnected {
		return dest, false, true
	}
	if r, found := m.routes[dest]; found {
		return r.NextHop, true, true
	}
	return "", false, false
}

// ProcessMessage 处理一条从物理链路收到的消息，from 是直接听到的邻居。
func (m *Manager) ProcessMessage(msg Message, from string) {
	if msg.Sender == m.cfg.NodeID || msg.Origin() == m.cfg.NodeID {
		return
	}
	now := m.nowFn()

	m.mu.Lock()
	m.counters.Received++
	if msg.ID != "" {
		if _, dup := m.seen[msg.ID]; dup {
			m.counters.Deduped++
			m.mu.Unlock()
			return
		}
		m.seen[msg.ID] = now
	}

	var sends []outbound
	var events []func()

	switch msg.Type {
	case TypeDiscovery, TypeDiscoveryResponse:
		sends, events = m.handleDiscoveryLocked(msg, from, now)
	case TypeRoute:
		sends, events = m.handleRouteLocked(msg, from, now)
	case TypeData, TypeAck:
		sends, events = m.handleDataLocked(msg, from, now)
	default:
		m.log.Debug("unknown message type dropped", zap.String("type", string(msg.Type)))
	}
	m.mu.Unlock()

	for _, ev := range events {
		ev()
	}
	for _, s := range sends {
		m.sender.Send(s.to, s.msg)
	}
}

// handleDiscoveryLocked 处理发现与应答：登记对等体、装路由、应答、中继
func (m *Manager) handleDiscoveryLocked(msg Message, from string, now time.Time) ([]outbound, []func()) {
	var sends []outbound
	var events []func()
	origin := msg.Origin()

	var fromTransports []string
	if origin == from {
		fromTransports = msg.Transports
	}
	events = append(events, m.upsertPeerLocked(from, true, fromTransports, now)...)
	_, evs := m.updateRouteLocked(&sends, from, from, 1, now)
	events = append(events, evs...)

	if origin != from {
		events = append(events, m.upsertPeerLocked(origin, false, msg.Transports, now)...)
		hops := discoveryTTL - msg.TTL + 1
		if hops < 2 {
			hops = 2
		}
		_, evs = m.updateRouteLocked(&sends, origin, from, hops, now)
		events = append(events, evs...)
	}

	// 只应答 DISCOVERY：应答再触发应答会无限往复
	if msg.Type == TypeDiscovery {
		sends = append(sends, outbound{to: from, msg: m.buildReplyLocked(now)})
		if msg.TTL > 1 {
			relay := msg
			relay.TTL--
			relay.Sender = m.cfg.NodeID
			relay.OriginalSender = origin
			targets := m.directPeersLocked(from, origin)
			for _, p := range targets {
				sends = append(sends, outbound{to: p, msg: relay})
			}
			if len(targets) > 0 {
				m.counters.Relayed++
			}
		}
	}
	return sends, events
}

// buildReplyLocked 构造 DISCOVERY_RESPONSE 并把自身 ID 记入去重缓存
func (m *Manager) buildReplyLocked(now time.Time) Message {
	reply := Message{
		Type:       TypeDiscoveryResponse,
		Sender:     m.cfg.NodeID,
		Timestamp:  nowMillis(now),
		TTL:        1,
		ID:         uuid.NewString(),
		Transports: m.cfg.Transports,
		Version:    m.cfg.Version,
	}
	m.seen[reply.ID] = now
	return reply
}

// handleRouteLocked 应用路由通告并继续洪泛
func (m *Manager) handleRouteLocked(msg Message, from string, now time.Time) ([]outbound, []func()) {
	var sends []outbound
	var events []func()

	events = append(events, m.upsertPeerLocked(from, true, nil, now)...)
	if msg.Route != nil && msg.Route.Destination != m.cfg.NodeID {
		_, evs := m.updateRouteLocked(&sends, msg.Route.Destination, from, msg.Route.HopCount, now)
		events = append(events, evs...)
	}
	if msg.TTL > 1 {
		relay := msg
		relay.TTL--
		relay.Sender = m.cfg.NodeID
		relay.OriginalSender = msg.Origin()
		targets := m.directPeersLocked(from, msg.Origin())
		for _, p := range targets {
			sends = append(sends, outbound{to: p, msg: relay})
		}
		if len(targets) > 0 {
			m.counters.Relayed++
		}
	}
	return sends, events
}

// handleDataLocked 投递或中继应用数据与 ACK
func (m *Manager) handleDataLocked(msg Message, from string, now time.Time) ([]outbound, []func()) {
	var sends []outbound
	events := m.upsertPeerLocked(from, true, nil, now)
	dest := msg.FinalDestination

	if dest == "" || dest == m.cfg.NodeID {
		if msg.Type == TypeAck {
			m.counters.AcksReceived++
			m.log.Debug("ack received",
				zap.String("from", msg.Origin()),
				zap.String("ref", msg.ReferencedID))
			return sends, events
		}
		m.counters.Delivered++
		if m.onMessage != nil {
			origin := msg.Origin()
			payload := msg.Payload
			events = append(events, func() { m.onMessage(origin, payload) })
		}
		if m.cfg.AckData && msg.ID != "" && msg.Origin() != "" {
			ack := Message{
				Type:           TypeAck,
				Sender:         m.cfg.NodeID,
				OriginalSender: m.cfg.NodeID,
				Timestamp:      nowMillis(now),
				ID:             uuid.NewString(),
				ReferencedID:   msg.ID,
			}
			m.seen[ack.ID] = now
			if to, routed, ok := m.pickPathLocked(msg.Origin()); ok {
				ack.FinalDestination = msg.Origin()
				ack.Routed = routed
				sends = append(sends, outbound{to: to, msg: ack})
			}
		}
		return sends, events
	}

	if !msg.Routed {
		// 广播介质上听到的他人直发流量，不投递也不中继
		m.log.Debug("overheard foreign data dropped", zap.String("dest", dest))
		return sends, events
	}
	if r, ok := m.routes[dest]; ok {
		relay := msg
		relay.Sender = m.cfg.NodeID
		if relay.OriginalSender == "" {
			relay.OriginalSender = msg.Sender
		}
		sends = append(sends, outbound{to: r.NextHop, msg: relay})
		m.counters.Relayed++
	} else {
		m.counters.RoutingFailures++
		m.log.Warn("relay failed, no route", zap.String("dest", dest))
	}
	return sends, events
}

// UpdateRoute 按规则更新路由：跳数严格更小，或相同且现有表项超过
// 刷新窗口才覆盖。覆盖成功时向直连对等体通告并触发路由事件。
func (m *Manager) UpdateRoute(dest, nextHop string, hops int) bool {
	now := m.nowFn()
	var sends []outbound
	m.mu.Lock()
	changed, events := m.updateRouteLocked(&sends, dest, nextHop, hops, now)
	m.mu.Unlock()

	for _, ev := range events {
		ev()
	}
	for _, s := range sends {
		m.sender.Send(s.to, s.msg)
	}
	return changed
}

// updateRouteLocked 尝试更新一条路由；成功时准备好通告发送与事件回调。
// 调用方持有锁。
func (m *Manager) updateRouteLocked(sends *[]outbound, dest, nextHop string, hops int, now time.Time) (bool, []func()) {
	if dest == m.cfg.NodeID || hops < 1 {
		return false, nil
	}
	if existing, ok := m.routes[dest]; ok {
		if hops > existing.HopCount {
			return false, nil
		}
		if hops == existing.HopCount && now.Sub(existing.UpdatedAt) <= m.cfg.RouteRefreshWindow {
			return false, nil
		}
	}
	r := &Route{Destination: dest, NextHop: nextHop, HopCount: hops, UpdatedAt: now}
	m.routes[dest] = r
	snap := *r

	ad := Message{
		Type:      TypeRoute,
		Sender:    m.cfg.NodeID,
		Timestamp: nowMillis(now),
		TTL:       routeAdTTL,
		ID:        uuid.NewString(),
		Route:     &RouteAd{Destination: dest, HopCount: hops + 1},
	}
	m.seen[ad.ID] = now
	for _, p := range m.directPeersLocked(dest, nextHop) {
		*sends = append(*sends, outbound{to: p, msg: ad})
	}

	if m.onRouteChanged == nil {
		return true, nil
	}
	return true, []func(){func() { m.onRouteChanged(snap) }}
}

// upsertPeerLocked 登记或刷新一个对等体，新对等体返回发现事件。
// 调用方持有锁。
func (m *Manager) upsertPeerLocked(id string, direct bool, transports []string, now time.Time) []func() {
	if id == "" || id == m.cfg.NodeID || id == BroadcastPeer {
		return nil
	}
	p, ok := m.peers[id]
	if !ok {
		p = &Peer{ID: id, FirstSeen: now, Quality: 1.0}
		m.peers[id] = p
	}
	p.LastSeen = now
	p.MessageCount++
	if direct {
		p.DirectlyConnected = true
	}
	if len(transports) > 0 {
		p.Transports = transports
	}
	if ok || m.onPeerDiscovered == nil {
		return nil
	}
	snap := *p
	m.log.Debug("peer discovered", zap.String("peer", id), zap.Bool("direct", direct))
	return []func(){func() { m.onPeerDiscovered(snap) }}
}

// directPeersLocked 直连对等体 ID 列表，except 里的除外。调用方持有锁。
func (m *Manager) directPeersLocked(except ...string) []string {
	out := make([]string, 0, len(m.peers))
	for id, p := range m.peers {
		if !p.DirectlyConnected {
			continue
		}
		skip := false
		for _, e := range except {
			if id == e {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// sweep 过期静默对等体与路由，清理去重缓存
func (m *Manager) sweep(now time.Time) {
	var events []func()
	m.mu.Lock()
	for id, p := range m.peers {
		if now.Sub(p.LastSeen) > m.cfg.RouteTimeout {
			delete(m.peers, id)
			if m.onPeerLost != nil {
				lost := id
				events = append(events, func() { m.onPeerLost(lost) })
			}
			m.log.Debug("peer expired", zap.String("peer", id))
		}
	}
	for dest, r := range m.routes {
		if now.Sub(r.UpdatedAt) > m.cfg.RouteTimeout {
			delete(m.routes, dest)
			if m.onRouteChanged != nil {
				gone := Route{Destination: dest, UpdatedAt: now}
				events = append(events, func() { m.onRouteChanged(gone) })
			}
			m.log.Debug("route expired", zap.String("dest", dest))
		}
	}
	for id, ts := range m.seen {
		if now.Sub(ts) > m.cfg.DedupTTL {
			delete(m.seen, id)
		}
	}
	m.mu.Unlock()
	for _, ev := range events {
		ev()
	}
}

// Peers 对等体快照，按 ID 排序
func (m *Manager) Peers() []Peer {
	m.mu.Lock()
	out := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Routes 路由表快照，按目的地排序
func (m *Manager) Routes() []Route {
	m.mu.Lock()
	out := make([]Route, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, *r)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}

// Counters 计数快照
func (m *Manager) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// NodeID 本节点标识
func (m *Manager) NodeID() string { return m.cfg.NodeID }
