// Package mode 跟踪各物理通道的链路质量并选择当前工作模式。
package mode

import (
	"sync"
	"time"
)

// Mode 工作模式
type Mode string

const (
	ModeNone   Mode = "none"
	ModeVisual Mode = "visual"
	ModeAudio  Mode = "audio"
	// ModeBoth 双通道并行，速率打九折补偿协调开销
	ModeBoth Mode = "both"
)

// 各模式的固有可靠度
const (
	visualReliability = 0.9
	audioReliability  = 0.8
	bothReliability   = 0.95
)

// 可用性门限
const (
	visualMinSNR       = 10.0
	visualMaxErrorRate = 0.3
	audioMinSNR        = 8.0
	audioMaxErrorRate  = 0.4
)

// combinedOverhead 双通道协调开销系数
const combinedOverhead = 0.9

// Quality 单通道链路质量
type Quality struct {
	SNR        float64   `json:"snr"`
	ErrorRate  float64   `json:"error_rate"`
	LastUpdate time.Time `json:"last_update"`
}

// Capability 一个模式当前的能力
type Capability struct {
	Available   bool    `json:"available"`
	MaxRate     float64 `json:"max_rate"`
	Reliability float64 `json:"reliability"`
}

// Config 模式控制器参数。速率单位 bit/s。
type Config struct {
	VisualEnabled  bool    `mapstructure:"visual_enabled"`
	AudioEnabled   bool    `mapstructure:"audio_enabled"`
	VisualBaseRate float64 `mapstructure:"visual_base_rate"`
	AudioBaseRate  float64 `mapstructure:"audio_base_rate"`
	VisualIdealSNR float64 `mapstructure:"visual_ideal_snr"`
	AudioIdealSNR  float64 `mapstructure:"audio_ideal_snr"`
}

// DefaultConfig 默认模式参数
func DefaultConfig() Config {
	return Config{
		VisualEnabled:  true,
		AudioEnabled:   true,
		VisualBaseRate: 20,
		AudioBaseRate:  30,
		VisualIdealSNR: 20,
		AudioIdealSNR:  15,
	}
}

// Controller 模式控制器。质量与能力表由互斥锁保护，
// 回调在锁外触发。
type Controller struct {
	cfg Config

	mu       sync.Mutex
	quality  map[Mode]Quality
	caps     map[Mode]Capability
	current  Mode
	switches uint64

	onChange func(prev, cur Mode, cap Capability)
}

// New 构造控制器。上电先按理想信噪比乐观填充质量，
// 真实测量到来之前通道即可用，避免冷启动僵死。
func New(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.VisualBaseRate <= 0 {
		cfg.VisualBaseRate = def.VisualBaseRate
	}
	if cfg.AudioBaseRate <= 0 {
		cfg.AudioBaseRate = def.AudioBaseRate
	}
	if cfg.VisualIdealSNR <= 0 {
		cfg.VisualIdealSNR = def.VisualIdealSNR
	}
	if cfg.AudioIdealSNR <= 0 {
		cfg.AudioIdealSNR = def.AudioIdealSNR
	}
	c := &Controller{
		cfg:     cfg,
		quality: make(map[Mode]Quality, 2),
		caps:    make(map[Mode]Capability, 3),
		current: ModeNone,
	}
	now := time.Now()
	c.quality[ModeVisual] = Quality{SNR: cfg.VisualIdealSNR, LastUpdate: now}
	c.quality[ModeAudio] = Quality{SNR: cfg.AudioIdealSNR, LastUpdate: now}
	c.recompute()
	return c
}

// OnModeChange 注册模式切换回调，每个控制器只有一个
func (c *Controller) OnModeChange(fn func(prev, cur Mode, capability Capability)) {
	c.onChange = fn
}

// UpdateChannelQuality 写入一个通道的质量测量并重算能力表
func (c *Controller) UpdateChannelQuality(ch Mode, q Quality) {
	if ch != ModeVisual && ch != ModeAudio {
		return
	}
	c.mu.Lock()
	if q.LastUpdate.IsZero() {
		q.LastUpdate = time.Now()
	}
	c.quality[ch] = q
	c.recompute()
	c.mu.Unlock()
}

// recompute 重算三个模式的能力。调用方持有锁。
func (c *Controller) recompute() {
	vq := c.quality[ModeVisual]
	aq := c.quality[ModeAudio]

	visual := Capability{
		Available: c.cfg.VisualEnabled &&
			vq.SNR > visualMinSNR && vq.ErrorRate < visualMaxErrorRate,
		MaxRate:     rate(c.cfg.VisualBaseRate, vq.SNR, c.cfg.VisualIdealSNR, vq.ErrorRate),
		Reliability: visualReliability,
	}
	audio := Capability{
		Available: c.cfg.AudioEnabled &&
			aq.SNR > audioMinSNR && aq.ErrorRate < audioMaxErrorRate,
		MaxRate:     rate(c.cfg.AudioBaseRate, aq.SNR, c.cfg.AudioIdealSNR, aq.ErrorRate),
		Reliability: audioReliability,
	}
	c.caps[ModeVisual] = visual
	c.caps[ModeAudio] = audio
	c.caps[ModeBoth] = Capability{
		Available:   visual.Available && audio.Available,
		MaxRate:     combinedOverhead * (visual.MaxRate + audio.MaxRate),
		Reliability: bothReliability,
	}
}

// rate 单通道有效速率：基准速率按信噪比占比折减，再按误码率折减
func rate(base, snr, ideal, errorRate float64) float64 {
	ratio := snr / ideal
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	r := base * ratio * (1 - errorRate)
	if r < 0 {
		r = 0
	}
	return r
}

// SelectOptimalMode 在可用模式中选 速率×可靠度 最大者并切换过去。
// 没有可用模式时退到 none。
func (c *Controller) SelectOptimalMode() Mode {
	c.mu.Lock()
	best := ModeNone
	bestScore := -1.0
	for _, m := range []Mode{ModeVisual, ModeAudio, ModeBoth} {
		cp := c.caps[m]
		if !cp.Available {
			continue
		}
		score := cp.MaxRate * cp.Reliability
		if score > bestScore {
			best = m
			bestScore = score
		}
	}
	prev := c.current
	var capForEvent Capability
	changed := best != prev
	if changed {
		c.current = best
		c.switches++
		capForEvent = c.caps[best]
	}
	c.mu.Unlock()

	if changed && c.onChange != nil {
		c.onChange(prev, best, capForEvent)
	}
	return best
}

// SetMode 手动切换模式。目标不可用时不动作并返回 false；
// none 视为人工停用，总是允许。
func (c *Controller) SetMode(m Mode) bool {
	c.mu.Lock()
	if m != ModeNone {
		cp, ok := c.caps[m]
		if !ok || !cp.Available {
			c.mu.Unlock()
			return false
		}
	}
	prev := c.current
	changed := m != prev
	var capForEvent Capability
	if changed {
		c.current = m
		c.switches++
		capForEvent = c.caps[m]
	}
	c.mu.Unlock()

	if changed && c.onChange != nil {
		c.onChange(prev, m, capForEvent)
	}
	return true
}

// Current 当前模式
func (c *Controller) Current() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Switches 累计切换次数
func (c *Controller) Switches() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switches
}

// Capabilities 能力表快照
func (c *Controller) Capabilities() map[Mode]Capability {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Mode]Capability, len(c.caps))
	for m, cp := range c.caps {
		out[m] = cp
	}
	return out
}

// ChannelQuality 质量快照
func (c *Controller) ChannelQuality() map[Mode]Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Mode]Quality, len(c.quality))
	for m, q := range c.quality {
		out[m] = q
	}
	return out
}
