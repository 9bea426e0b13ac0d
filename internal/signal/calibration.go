package signal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jpt262/dialup/internal/protocol/symbol"
)

// Calibration 现场标定文件：覆盖默认调色板与音调表。
// 摄像头白平衡、屏幕色偏、扬声器频响都因设备而异，部署时可按实测值校准。
type Calibration struct {
	Palette []PaletteEntry `yaml:"palette"`
	Tones   *ToneTable     `yaml:"tones"`
}

// PaletteEntry 一个调色板颜色的实测 RGB
type PaletteEntry struct {
	Name string `yaml:"name"`
	RGB  RGB    `yaml:"rgb"`
}

// ToneTable 音调频点表
type ToneTable struct {
	Base      float64 `yaml:"base"`
	Shift     float64 `yaml:"shift"`
	Start     float64 `yaml:"start"`
	Sync      float64 `yaml:"sync"`
	End       float64 `yaml:"end"`
	Tolerance float64 `yaml:"tolerance"`
}

// LoadCalibration 从 YAML 文件加载标定
func LoadCalibration(path string) (*Calibration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	var c Calibration
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshal calibration: %w", err)
	}
	return &c, nil
}

// ApplyVisual 把标定的调色板写入视觉配置。颜色名必须与字母表一一对应。
func (c *Calibration) ApplyVisual(cfg *VisualConfig) error {
	if c == nil || len(c.Palette) == 0 {
		return nil
	}
	if len(c.Palette) != symbol.AlphabetSize {
		return fmt.Errorf("calibration: palette needs %d colors, got %d", symbol.AlphabetSize, len(c.Palette))
	}
	var palette [symbol.AlphabetSize]RGB
	seen := make(map[symbol.Symbol]bool, symbol.AlphabetSize)
	for _, e := range c.Palette {
		s, ok := symbolByName(e.Name)
		if !ok {
			return fmt.Errorf("calibration: unknown color %q", e.Name)
		}
		if seen[s] {
			return fmt.Errorf("calibration: duplicate color %q", e.Name)
		}
		seen[s] = true
		palette[s] = e.RGB
	}
	cfg.Palette = &palette
	return nil
}

// ApplyAudio 把标定的音调表写入音频配置，零值字段保持原样。
func (c *Calibration) ApplyAudio(cfg *AudioConfig) {
	if c == nil || c.Tones == nil {
		return
	}
	t := c.Tones
	if t.Base > 0 {
		cfg.BaseFrequency = t.Base
	}
	if t.Shift > 0 {
		cfg.FreqShift = t.Shift
	}
	if t.Start > 0 {
		cfg.StartFreq = t.Start
	}
	if t.Sync > 0 {
		cfg.SyncFreq = t.Sync
	}
	if t.End > 0 {
		cfg.EndFreq = t.End
	}
	if t.Tolerance > 0 {
		cfg.Tolerance = t.Tolerance
	}
}

// symbolByName 按标定文件里的颜色名找符号值
func symbolByName(name string) (symbol.Symbol, bool) {
	for i := symbol.Symbol(0); i < symbol.AlphabetSize; i++ {
		if i.Name() == name {
			return i, true
		}
	}
	return 0, false
}
