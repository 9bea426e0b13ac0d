// Package fragment 把超长载荷切分为编号分片并在接收端重组。
// 位于帧层之上：每个分片独立成帧传输，乱序到达由槽位数组吸收。
package fragment

import (
	"sync"
	"time"
)

const (
	// DefaultMaxPayload 单分片载荷上限。外层信封加冗余编码后须仍
	// 落在单帧 255 字节限制之内。
	DefaultMaxPayload = 48
	// DefaultMaxSeq 序列号在 [0, DefaultMaxSeq] 内回绕
	DefaultMaxSeq = 65535
	// DefaultTimeout 不完整重组缓冲的保留时长
	DefaultTimeout = 30 * time.Second
)

// Unit 一个传输单元。不超限的消息整体作为单个非分片单元发出。
type Unit struct {
	Seq        int    `json:"seq"`
	Index      int    `json:"frag"`
	Count      int    `json:"count"`
	Total      int    `json:"total"`
	Fragmented bool   `json:"fragmented"`
	Content    []byte `json:"data"`
}

// Sequencer 出站切分器。序列号对整条逻辑消息递增一次，与分片数无关。
type Sequencer struct {
	mu         sync.Mutex
	maxPayload int
	maxSeq     int
	next       int
}

// NewSequencer 构造切分器，非正参数回落到默认值。
func NewSequencer(maxPayload, maxSeq int) *Sequencer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	if maxSeq <= 0 {
		maxSeq = DefaultMaxSeq
	}
	return &Sequencer{maxPayload: maxPayload, maxSeq: maxSeq}
}

// Split 切分一条消息。返回的单元持有内容副本，不引用入参。
func (s *Sequencer) Split(content []byte) []Unit {
	s.mu.Lock()
	seq := s.next
	s.next = (s.next + 1) % (s.maxSeq + 1)
	s.mu.Unlock()

	if len(content) <= s.maxPayload {
		return []Unit{{
			Seq:     seq,
			Count:   1,
			Total:   len(content),
			Content: cloneBytes(content),
		}}
	}
	count := (len(content) + s.maxPayload - 1) / s.maxPayload
	units := make([]Unit, 0, count)
	for i := 0; i < count; i++ {
		lo := i * s.maxPayload
		hi := lo + s.maxPayload
		if hi > len(content) {
			hi = len(content)
		}
		units = append(units, Unit{
			Seq:        seq,
			Index:      i,
			Count:      count,
			Total:      len(content),
			Fragmented: true,
			Content:    cloneBytes(content[lo:hi]),
		})
	}
	return units
}

// reassembly 一个序列号的重组缓冲
type reassembly struct {
	slots    [][]byte
	received int
	deadline time.Time
}

// Assembler 入站重组器。按序列号懒分配槽位数组，凑齐即拼接交付，
// 超时的残缺缓冲被静默丢弃，没有部分交付。
type Assembler struct {
	mu      sync.Mutex
	timeout time.Duration
	nowFn   func() time.Time
	buffers map[int]*reassembly

	completed uint64
	expired   uint64
}

// NewAssembler 构造重组器，非正超时回落到默认值。
func NewAssembler(timeout time.Duration) *Assembler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Assembler{
		timeout: timeout,
		nowFn:   time.Now,
		buffers: make(map[int]*reassembly),
	}
}

// Add 投入一个单元。非分片单元直通；分片凑齐时返回拼接结果与 true。
// 重复或越界的分片编号被忽略。
func (a *Assembler) Add(u Unit) ([]byte, bool) {
	if !u.Fragmented {
		return cloneBytes(u.Content), true
	}
	if u.Count <= 0 || u.Index < 0 || u.Index >= u.Count {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buffers[u.Seq]
	if !ok {
		b = &reassembly{
			slots:    make([][]byte, u.Count),
			deadline: a.nowFn().Add(a.timeout),
		}
		a.buffers[u.Seq] = b
	}
	if len(b.slots) != u.Count || b.slots[u.Index] != nil {
		return nil, false
	}
	b.slots[u.Index] = cloneBytes(u.Content)
	b.received++
	if b.received < len(b.slots) {
		return nil, false
	}

	size := 0
	for _, s := range b.slots {
		size += len(s)
	}
	out := make([]byte, 0, size)
	for _, s := range b.slots {
		out = append(out, s...)
	}
	delete(a.buffers, u.Seq)
	a.completed++
	return out, true
}

// Sweep 丢弃超过期限的残缺缓冲，返回本次丢弃数。由所属节点定时驱动。
func (a *Assembler) Sweep(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for seq, b := range a.buffers {
		if now.After(b.deadline) {
			delete(a.buffers, seq)
			n++
		}
	}
	a.expired += uint64(n)
	return n
}

// Pending 当前滞留的重组缓冲数
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// Counters 累计完成与超时丢弃的数量
func (a *Assembler) Counters() (completed, expired uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed, a.expired
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
