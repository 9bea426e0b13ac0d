package gateway

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jpt262/dialup/internal/signal"
)

// LoopbackConfig 回环介质参数。介质用虚拟时钟为采样打时间戳：
// 每个采样推进 SampleStep，判决去抖因此与实际发射节拍解耦，
// 仿真不必为了时序等待真实的符号周期。
type LoopbackConfig struct {
	// SamplesPerSymbol 每个符号投递的采样数，须满足去抖门限
	SamplesPerSymbol int
	// SampleStep 虚拟时钟步长
	SampleStep time.Duration
	// NoiseRate 单个采样被噪声污染的概率
	NoiseRate float64
	// DropRate 整个符号被丢弃的概率
	DropRate float64
	// Seed 随机源种子，固定以便复现
	Seed            int64
	AudioSampleRate float64
	AudioBins       int
}

// DefaultLoopbackConfig 默认回环参数
func DefaultLoopbackConfig() LoopbackConfig {
	return LoopbackConfig{
		SamplesPerSymbol: 5,
		SampleStep:       50 * time.Millisecond,
		Seed:             1,
		AudioSampleRate:  8000,
		AudioBins:        400,
	}
}

// Loopback 进程内仿真介质，把一个节点的发射直接变成对端的采样
type Loopback struct {
	cfg LoopbackConfig
}

// NewLoopback 构造回环介质
func NewLoopback(cfg LoopbackConfig) *Loopback {
	def := DefaultLoopbackConfig()
	if cfg.SamplesPerSymbol <= 0 {
		cfg.SamplesPerSymbol = def.SamplesPerSymbol
	}
	if cfg.SampleStep <= 0 {
		cfg.SampleStep = def.SampleStep
	}
	if cfg.AudioSampleRate <= 0 {
		cfg.AudioSampleRate = def.AudioSampleRate
	}
	if cfg.AudioBins <= 0 {
		cfg.AudioBins = def.AudioBins
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	return &Loopback{cfg: cfg}
}

// Join 把两个节点接到同一介质上，互为收发对端
func (l *Loopback) Join(a, b *Node) {
	a.SetTransmitter(l.port(b, l.cfg.Seed))
	b.SetTransmitter(l.port(a, l.cfg.Seed+1))
}

func (l *Loopback) port(dest *Node, seed int64) *loopPort {
	return &loopPort{
		cfg:   l.cfg,
		dest:  dest,
		rng:   rand.New(rand.NewSource(seed)),
		clock: time.Now(),
	}
}

// loopPort 一个方向的介质端口。发射泵串行调用，锁只防备
// 双节点共用端口之类的误用。
type loopPort struct {
	mu    sync.Mutex
	cfg   LoopbackConfig
	dest  *Node
	rng   *rand.Rand
	clock time.Time
}

// TransmitVisual 把色块展开成一串带噪 RGB 采样投给对端
func (p *loopPort) TransmitVisual(color signal.RGB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roll(p.cfg.DropRate) {
		p.clock = p.clock.Add(time.Duration(p.cfg.SamplesPerSymbol) * p.cfg.SampleStep)
		return
	}
	for i := 0; i < p.cfg.SamplesPerSymbol; i++ {
		p.clock = p.clock.Add(p.cfg.SampleStep)
		r, g, b := color.R, color.G, color.B
		if p.roll(p.cfg.NoiseRate) {
			r = clampChannel(r + (p.rng.Float64()-0.5)*300)
			g = clampChannel(g + (p.rng.Float64()-0.5)*300)
			b = clampChannel(b + (p.rng.Float64()-0.5)*300)
		}
		p.dest.HandleVisualSample(r, g, b, p.clock)
	}
}

// TransmitAudio 把音调展开成一串频谱采样投给对端。噪声采样要么
// 幅度塌到判决门限之下，要么峰值漂移约 120Hz 落到错误的音调上。
func (p *loopPort) TransmitAudio(frequency float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roll(p.cfg.DropRate) {
		p.clock = p.clock.Add(time.Duration(p.cfg.SamplesPerSymbol) * p.cfg.SampleStep)
		return
	}
	binWidth := p.cfg.AudioSampleRate / 2 / float64(p.cfg.AudioBins)
	target := int(math.Round(frequency / binWidth))
	for i := 0; i < p.cfg.SamplesPerSymbol; i++ {
		p.clock = p.clock.Add(p.cfg.SampleStep)
		bins := make([]float64, p.cfg.AudioBins)
		for j := range bins {
			bins[j] = p.rng.Float64() * 8
		}
		idx, mag := target, 220.0
		if p.roll(p.cfg.NoiseRate) {
			if p.rng.Float64() < 0.5 {
				mag = 20
			} else {
				idx += 12
			}
		}
		if idx >= 0 && idx < len(bins) {
			bins[idx] = mag
		}
		p.dest.HandleAudioSample(bins, p.cfg.AudioSampleRate, p.clock)
	}
}

func (p *loopPort) roll(rate float64) bool {
	return rate > 0 && p.rng.Float64() < rate
}

func clampChannel(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
