package framing

import (
	"sync"
	"time"

	"github.com/jpt262/dialup/internal/protocol/fec"
	"github.com/jpt262/dialup/internal/protocol/symbol"
	"github.com/jpt262/dialup/internal/signal"
)

// Config 状态机参数
type Config struct {
	// Channel 通道标签，出现在状态事件与日志里
	Channel string
	// MaxSequenceLength 单帧符号数上限，超出立即报错复位
	MaxSequenceLength int
	// SymbolPeriod 预期的单符号时长
	SymbolPeriod time.Duration
	// TimeoutMultiple 静默超时 = SymbolPeriod × TimeoutMultiple
	TimeoutMultiple int
}

// DefaultConfig 默认状态机参数
func DefaultConfig(channel string) Config {
	return Config{
		Channel:           channel,
		MaxSequenceLength: 2048,
		SymbolPeriod:      150 * time.Millisecond,
		TimeoutMultiple:   20,
	}
}

// Stats 状态机累计计数
type Stats struct {
	Decoded  uint64 `json:"decoded"`
	Failed   uint64 `json:"failed"`
	Timeouts uint64 `json:"timeouts"`
}

// StateMachine 单通道接收状态机。IDLE 只认 START；COLLECTING 期间
// SYNC 只刷新活动时间，END 触发解码并无条件回到 IDLE。
// Feed 与 Tick 可能来自不同 goroutine（采样回路与定时器），内部加锁。
type StateMachine struct {
	cfg     Config
	timeout time.Duration
	codec   *fec.Codec

	mu           sync.Mutex
	collecting   bool
	buf          []symbol.Symbol
	lastActivity time.Time
	stats        Stats

	onMessage func(Decoded)
	onStatus  func(StatusEvent)
}

// New 构造状态机。codec 可为 nil 表示不启用冗余层。
func New(cfg Config, codec *fec.Codec) *StateMachine {
	def := DefaultConfig(cfg.Channel)
	if cfg.MaxSequenceLength <= 0 {
		cfg.MaxSequenceLength = def.MaxSequenceLength
	}
	if cfg.SymbolPeriod <= 0 {
		cfg.SymbolPeriod = def.SymbolPeriod
	}
	if cfg.TimeoutMultiple <= 0 {
		cfg.TimeoutMultiple = def.TimeoutMultiple
	}
	return &StateMachine{
		cfg:     cfg,
		timeout: cfg.SymbolPeriod * time.Duration(cfg.TimeoutMultiple),
		codec:   codec,
	}
}

// OnMessage 注册解码成功回调，每台状态机只有一个
func (m *StateMachine) OnMessage(fn func(Decoded)) { m.onMessage = fn }

// OnStatus 注册阶段变化回调，每台状态机只有一个
func (m *StateMachine) OnStatus(fn func(StatusEvent)) { m.onStatus = fn }

// Feed 喂入一个判决事件
func (m *StateMachine) Feed(ev signal.Event) {
	m.mu.Lock()
	if !m.collecting {
		if ev.Marker != signal.MarkerStart {
			m.mu.Unlock()
			return
		}
		m.collecting = true
		m.buf = m.buf[:0]
		m.lastActivity = ev.At
		m.mu.Unlock()
		m.emitStatus(StatusEvent{Channel: m.cfg.Channel, Status: StatusStarted, At: ev.At})
		return
	}

	switch ev.Marker {
	case signal.MarkerSync:
		m.lastActivity = ev.At
		m.mu.Unlock()
	case signal.MarkerEnd:
		frame := m.canonicalFrame()
		m.collecting = false
		m.buf = m.buf[:0]
		m.mu.Unlock()
		m.finish(frame, ev.At)
	default:
		// 收集期间 START 值与普通符号一视同仁，按数据追加
		m.buf = append(m.buf, ev.Symbol)
		m.lastActivity = ev.At
		if len(m.buf) > m.cfg.MaxSequenceLength {
			m.collecting = false
			m.buf = m.buf[:0]
			m.mu.Unlock()
			m.emitStatus(StatusEvent{
				Channel: m.cfg.Channel, Status: StatusError,
				Reason: "sequence too long", At: ev.At,
			})
			m.countFailed()
			return
		}
		n := len(m.buf)
		m.mu.Unlock()
		m.emitStatus(StatusEvent{Channel: m.cfg.Channel, Status: StatusTracking, BufferLen: n, At: ev.At})
	}
}

// Tick 检查静默超时。由所属节点的定时器周期调用。
func (m *StateMachine) Tick(now time.Time) {
	m.mu.Lock()
	if !m.collecting || now.Sub(m.lastActivity) <= m.timeout {
		m.mu.Unlock()
		return
	}
	m.collecting = false
	m.buf = m.buf[:0]
	m.stats.Timeouts++
	m.mu.Unlock()
	m.emitStatus(StatusEvent{
		Channel: m.cfg.Channel, Status: StatusTimeout,
		Reason: "inactivity timeout", At: now,
	})
}

// Reset 丢弃未完成的收集状态
func (m *StateMachine) Reset() {
	m.mu.Lock()
	wasCollecting := m.collecting
	m.collecting = false
	m.buf = m.buf[:0]
	m.mu.Unlock()
	if wasCollecting {
		m.emitStatus(StatusEvent{Channel: m.cfg.Channel, Status: StatusReset, At: time.Now()})
	}
}

// Stats 计数快照
func (m *StateMachine) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// canonicalFrame 由收集缓冲重建规范帧。缓冲依次是元数据、数据与校验和，
// SYNC 在收集时只刷新不入缓冲，这里按固定位置补回。调用方持有锁。
func (m *StateMachine) canonicalFrame() []symbol.Symbol {
	frame := make([]symbol.Symbol, 0, len(m.buf)+4)
	frame = append(frame, symbol.StartMarker)
	if len(m.buf) <= symbol.MetaSymbols {
		frame = append(frame, m.buf...)
		frame = append(frame, symbol.EndMarker)
		return frame
	}
	frame = append(frame, m.buf[:symbol.MetaSymbols]...)
	frame = append(frame, symbol.SyncMarker)
	frame = append(frame, m.buf[symbol.MetaSymbols:]...)
	frame = append(frame, symbol.SyncMarker, symbol.EndMarker)
	return frame
}

// finish 解码一帧并上报结果
func (m *StateMachine) finish(frame []symbol.Symbol, at time.Time) {
	res, err := symbol.Decode(frame)
	if err != nil {
		m.countFailed()
		m.emitStatus(StatusEvent{
			Channel: m.cfg.Channel, Status: StatusError,
			Reason: err.Error(), At: at,
		})
		return
	}
	payload := res.Payload
	fecErrors := 0
	if m.codec != nil {
		fr := m.codec.Decode(payload)
		fecErrors = fr.Errors
		if !fr.Valid {
			m.countFailed()
			m.emitStatus(StatusEvent{
				Channel: m.cfg.Channel, Status: StatusError,
				Reason: "redundancy check failed", At: at,
			})
			return
		}
		payload = fr.Data
	}

	m.mu.Lock()
	m.stats.Decoded++
	m.mu.Unlock()
	m.emitStatus(StatusEvent{Channel: m.cfg.Channel, Status: StatusDecoded, At: at})
	if m.onMessage != nil {
		m.onMessage(Decoded{
			Channel:        m.cfg.Channel,
			Payload:        payload,
			DeclaredLen:    res.DeclaredLen,
			LengthMismatch: res.LengthMismatch,
			FecErrors:      fecErrors,
			At:             at,
		})
	}
}

func (m *StateMachine) countFailed() {
	m.mu.Lock()
	m.stats.Failed++
	m.mu.Unlock()
}

func (m *StateMachine) emitStatus(ev StatusEvent) {
	if m.onStatus != nil {
		m.onStatus(ev)
	}
}
