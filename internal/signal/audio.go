package signal

import (
	"math"
	"time"

	"github.com/jpt262/dialup/internal/protocol/symbol"
)

// 音频去抖键空间：数据符号用 0..7，带外标记映射到 markerKeyBase 之上，
// 避免与同值的带内符号混淆。
const markerKeyBase = 100

// AudioConfig 音频通道判决参数。数据音从 BaseFrequency 起以 FreqShift
// 步进排布，标记音位于数据频带之下的带外频点。
type AudioConfig struct {
	BaseFrequency float64 `mapstructure:"base_frequency" yaml:"base_frequency"`
	FreqShift     float64 `mapstructure:"freq_shift" yaml:"freq_shift"`
	StartFreq     float64 `mapstructure:"start_freq" yaml:"start_freq"`
	SyncFreq      float64 `mapstructure:"sync_freq" yaml:"sync_freq"`
	EndFreq       float64 `mapstructure:"end_freq" yaml:"end_freq"`
	// Tolerance 标记频点的容差半径（Hz）
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance"`
	// MinSignalStrength 峰值幅度相对 MaxAmplitude 的最小占比
	MinSignalStrength float64 `mapstructure:"min_signal_strength" yaml:"min_signal_strength"`
	// MaxAmplitude 频谱幅度满量程
	MaxAmplitude    float64       `mapstructure:"max_amplitude" yaml:"max_amplitude"`
	SamplesRequired int           `mapstructure:"samples_required" yaml:"samples_required"`
	MinChangeTime   time.Duration `mapstructure:"min_change_time" yaml:"min_change_time"`
}

// DefaultAudioConfig 默认音频判决参数
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		BaseFrequency:     800,
		FreqShift:         200,
		StartFreq:         400,
		SyncFreq:          500,
		EndFreq:           600,
		Tolerance:         50,
		MinSignalStrength: 0.15,
		MaxAmplitude:      255,
		SamplesRequired:   3,
		MinChangeTime:     80 * time.Millisecond,
	}
}

// AudioClassifier 把频谱采样判决为符号事件。非并发安全。
type AudioClassifier struct {
	cfg AudioConfig
	deb *debouncer

	lastMagnitude float64
	matched       uint64
	rejected      uint64
}

// NewAudioClassifier 构造音频判决器，零值参数回落到默认值。
func NewAudioClassifier(cfg AudioConfig) *AudioClassifier {
	def := DefaultAudioConfig()
	if cfg.BaseFrequency <= 0 {
		cfg.BaseFrequency = def.BaseFrequency
	}
	if cfg.FreqShift <= 0 {
		cfg.FreqShift = def.FreqShift
	}
	if cfg.StartFreq <= 0 {
		cfg.StartFreq = def.StartFreq
	}
	if cfg.SyncFreq <= 0 {
		cfg.SyncFreq = def.SyncFreq
	}
	if cfg.EndFreq <= 0 {
		cfg.EndFreq = def.EndFreq
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.MinSignalStrength <= 0 {
		cfg.MinSignalStrength = def.MinSignalStrength
	}
	if cfg.MaxAmplitude <= 0 {
		cfg.MaxAmplitude = def.MaxAmplitude
	}
	if cfg.SamplesRequired <= 0 {
		cfg.SamplesRequired = def.SamplesRequired
	}
	if cfg.MinChangeTime <= 0 {
		cfg.MinChangeTime = def.MinChangeTime
	}
	return &AudioClassifier{
		cfg: cfg,
		deb: newDebouncer(cfg.SamplesRequired, cfg.MinChangeTime),
	}
}

// Classify 喂入一帧频谱幅度数组。峰值不足最小信号强度视为静默。
func (c *AudioClassifier) Classify(bins []float64, sampleRate float64, ts time.Time) (Event, bool) {
	if len(bins) == 0 || sampleRate <= 0 {
		c.deb.reset()
		return Event{}, false
	}
	peak := 0
	for i, m := range bins {
		if m > bins[peak] {
			peak = i
		}
	}
	c.lastMagnitude = bins[peak]
	if bins[peak] < c.cfg.MinSignalStrength*c.cfg.MaxAmplitude {
		c.deb.reset()
		c.rejected++
		return Event{}, false
	}
	freq := float64(peak) * sampleRate / (2 * float64(len(bins)))

	if m := c.matchMarker(freq); m != MarkerNone {
		c.matched++
		if !c.deb.push(markerKeyBase+int(m), ts) {
			return Event{}, false
		}
		return Event{Symbol: markerSymbol(m), Marker: m, At: ts}, true
	}
	idx := int(math.Round((freq - c.cfg.BaseFrequency) / c.cfg.FreqShift))
	if idx < 0 || idx >= symbol.AlphabetSize {
		c.deb.reset()
		c.rejected++
		return Event{}, false
	}
	c.matched++
	if !c.deb.push(idx, ts) {
		return Event{}, false
	}
	s := symbol.Symbol(idx)
	return Event{Symbol: s, Marker: MarkerNone, At: ts}, true
}

// matchMarker 频率落入某个标记频点的容差窗内则返回对应标记
func (c *AudioClassifier) matchMarker(freq float64) Marker {
	switch {
	case math.Abs(freq-c.cfg.StartFreq) <= c.cfg.Tolerance:
		return MarkerStart
	case math.Abs(freq-c.cfg.SyncFreq) <= c.cfg.Tolerance:
		return MarkerSync
	case math.Abs(freq-c.cfg.EndFreq) <= c.cfg.Tolerance:
		return MarkerEnd
	}
	return MarkerNone
}

// SymbolFrequency 数据符号对应的发射频率，发送端按此生成音调。
func (c *AudioClassifier) SymbolFrequency(s symbol.Symbol) float64 {
	return c.cfg.BaseFrequency + float64(s)*c.cfg.FreqShift
}

// MarkerFrequency 标记对应的带外发射频率
func (c *AudioClassifier) MarkerFrequency(m Marker) float64 {
	switch m {
	case MarkerStart:
		return c.cfg.StartFreq
	case MarkerSync:
		return c.cfg.SyncFreq
	case MarkerEnd:
		return c.cfg.EndFreq
	}
	return 0
}

// LastMagnitude 最近一次采样的峰值幅度，供链路质量估计使用。
func (c *AudioClassifier) LastMagnitude() float64 { return c.lastMagnitude }

// Counters 累计的有效/无效采样数
func (c *AudioClassifier) Counters() (matched, rejected uint64) {
	return c.matched, c.rejected
}
