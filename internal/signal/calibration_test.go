package signal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpt262/dialup/internal/protocol/symbol"
)

const calibrationYAML = `palette:
  - name: red
    rgb: {r: 250, g: 12, b: 8}
  - name: green
    rgb: {r: 10, g: 248, b: 20}
  - name: blue
    rgb: {r: 5, g: 8, b: 252}
  - name: yellow
    rgb: {r: 246, g: 240, b: 30}
  - name: magenta
    rgb: {r: 248, g: 16, b: 244}
  - name: cyan
    rgb: {r: 12, g: 244, b: 250}
  - name: white
    rgb: {r: 240, g: 244, b: 238}
  - name: black
    rgb: {r: 14, g: 12, b: 16}
tones:
  base: 820
  shift: 210
  start: 410
  tolerance: 40
`

func writeCalibration(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibration.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCalibration(t *testing.T) {
	cal, err := LoadCalibration(writeCalibration(t, calibrationYAML))
	require.NoError(t, err)
	require.Len(t, cal.Palette, 8)
	require.NotNil(t, cal.Tones)
	assert.Equal(t, 820.0, cal.Tones.Base)
}

func TestLoadCalibrationMissingFile(t *testing.T) {
	_, err := LoadCalibration(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyVisual(t *testing.T) {
	cal, err := LoadCalibration(writeCalibration(t, calibrationYAML))
	require.NoError(t, err)

	cfg := DefaultVisualConfig()
	require.NoError(t, cal.ApplyVisual(&cfg))
	require.NotNil(t, cfg.Palette)
	assert.Equal(t, RGB{R: 250, G: 12, B: 8}, cfg.Palette[symbol.Red])
	assert.Equal(t, RGB{R: 14, G: 12, B: 16}, cfg.Palette[symbol.Black])

	// 标定后的判决器按实测颜色匹配
	c := NewVisualClassifier(cfg)
	c.Classify(250, 12, 8, at(0))
	c.Classify(250, 12, 8, at(10))
	ev, ok := c.Classify(250, 12, 8, at(20))
	require.True(t, ok)
	assert.Equal(t, symbol.Red, ev.Symbol)
}

func TestApplyVisualRejectsBadPalette(t *testing.T) {
	t.Run("颜色数不足", func(t *testing.T) {
		cal := &Calibration{Palette: []PaletteEntry{{Name: "red"}}}
		cfg := DefaultVisualConfig()
		assert.Error(t, cal.ApplyVisual(&cfg))
	})
	t.Run("未知颜色名", func(t *testing.T) {
		cal := &Calibration{Palette: make([]PaletteEntry, 8)}
		for i := range cal.Palette {
			cal.Palette[i].Name = "orange"
		}
		cfg := DefaultVisualConfig()
		assert.Error(t, cal.ApplyVisual(&cfg))
	})
	t.Run("重复颜色名", func(t *testing.T) {
		cal := &Calibration{Palette: make([]PaletteEntry, 8)}
		for i := range cal.Palette {
			cal.Palette[i].Name = "red"
		}
		cfg := DefaultVisualConfig()
		assert.Error(t, cal.ApplyVisual(&cfg))
	})
	t.Run("空标定不改动配置", func(t *testing.T) {
		cfg := DefaultVisualConfig()
		require.NoError(t, (*Calibration)(nil).ApplyVisual(&cfg))
		assert.Nil(t, cfg.Palette)
	})
}

func TestApplyAudio(t *testing.T) {
	cal, err := LoadCalibration(writeCalibration(t, calibrationYAML))
	require.NoError(t, err)

	cfg := AudioConfig{
		BaseFrequency: 800, FreqShift: 200,
		StartFreq: 400, SyncFreq: 500, EndFreq: 600,
		Tolerance: 50, MinSignalStrength: 0.15, MaxAmplitude: 255,
		SamplesRequired: 3, MinChangeTime: 80 * time.Millisecond,
	}
	cal.ApplyAudio(&cfg)
	assert.Equal(t, 820.0, cfg.BaseFrequency)
	assert.Equal(t, 210.0, cfg.FreqShift)
	assert.Equal(t, 410.0, cfg.StartFreq)
	assert.Equal(t, 40.0, cfg.Tolerance)
	// 文件未给出的字段保持原值
	assert.Equal(t, 500.0, cfg.SyncFreq)
	assert.Equal(t, 600.0, cfg.EndFreq)
}
