package signal

import (
	"math"
	"time"

	"github.com/jpt262/dialup/internal/protocol/symbol"
)

// RGB 调色板颜色
type RGB struct {
	R float64 `yaml:"r"`
	G float64 `yaml:"g"`
	B float64 `yaml:"b"`
}

// defaultPalette 下标与符号值一一对应
var defaultPalette = [symbol.AlphabetSize]RGB{
	symbol.Red:     {R: 255, G: 0, B: 0},
	symbol.Green:   {R: 0, G: 255, B: 0},
	symbol.Blue:    {R: 0, G: 0, B: 255},
	symbol.Yellow:  {R: 255, G: 255, B: 0},
	symbol.Magenta: {R: 255, G: 0, B: 255},
	symbol.Cyan:    {R: 0, G: 255, B: 255},
	symbol.White:   {R: 255, G: 255, B: 255},
	symbol.Black:   {R: 0, G: 0, B: 0},
}

// VisualConfig 视觉通道判决参数
type VisualConfig struct {
	// Threshold 与最近调色板颜色的欧氏距离上限，超出视为无效采样
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
	// SamplesRequired 判定稳定所需的连续一致采样数
	SamplesRequired int `mapstructure:"samples_required" yaml:"samples_required"`
	// MinChangeTime 两次符号变化的最小间隔
	MinChangeTime time.Duration `mapstructure:"min_change_time" yaml:"min_change_time"`
	// Palette 覆盖默认调色板，零值表示使用默认
	Palette *[symbol.AlphabetSize]RGB `mapstructure:"-" yaml:"-"`
}

// DefaultVisualConfig 默认视觉判决参数
func DefaultVisualConfig() VisualConfig {
	return VisualConfig{
		Threshold:       60,
		SamplesRequired: 3,
		MinChangeTime:   80 * time.Millisecond,
	}
}

// VisualClassifier 把 RGB 采样判决为符号事件。非并发安全，
// 每条视觉通道持有一个实例并串行喂入采样。
type VisualClassifier struct {
	palette   [symbol.AlphabetSize]RGB
	threshold float64
	deb       *debouncer

	lastDistance float64
	matched      uint64
	rejected     uint64
}

// NewVisualClassifier 构造视觉判决器，零值参数回落到默认值。
func NewVisualClassifier(cfg VisualConfig) *VisualClassifier {
	def := DefaultVisualConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.SamplesRequired <= 0 {
		cfg.SamplesRequired = def.SamplesRequired
	}
	if cfg.MinChangeTime <= 0 {
		cfg.MinChangeTime = def.MinChangeTime
	}
	c := &VisualClassifier{
		palette:   defaultPalette,
		threshold: cfg.Threshold,
		deb:       newDebouncer(cfg.SamplesRequired, cfg.MinChangeTime),
	}
	if cfg.Palette != nil {
		c.palette = *cfg.Palette
	}
	return c
}

// Classify 喂入一个 RGB 采样。返回 true 时携带一次稳定的符号事件。
func (c *VisualClassifier) Classify(r, g, b float64, ts time.Time) (Event, bool) {
	best := symbol.Symbol(0)
	bestDist := math.MaxFloat64
	for i, p := range c.palette {
		dr, dg, db := r-p.R, g-p.G, b-p.B
		d := math.Sqrt(dr*dr + dg*dg + db*db)
		if d < bestDist {
			bestDist = d
			best = symbol.Symbol(i)
		}
	}
	c.lastDistance = bestDist
	if bestDist > c.threshold {
		c.deb.reset()
		c.rejected++
		return Event{}, false
	}
	c.matched++
	if !c.deb.push(int(best), ts) {
		return Event{}, false
	}
	return Event{Symbol: best, Marker: markerOf(best), At: ts}, true
}

// Color 符号对应的调色板颜色，发射侧渲染用
func (c *VisualClassifier) Color(s symbol.Symbol) RGB {
	if !s.Valid() {
		return RGB{}
	}
	return c.palette[s]
}

// LastDistance 最近一次采样到最近调色板颜色的距离，供链路质量估计使用。
func (c *VisualClassifier) LastDistance() float64 { return c.lastDistance }

// Counters 累计的有效/无效采样数
func (c *VisualClassifier) Counters() (matched, rejected uint64) {
	return c.matched, c.rejected
}
