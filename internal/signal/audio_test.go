package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpt262/dialup/internal/protocol/symbol"
)

// 采样率 8000、400 个频点：每个频点恰好对应 10Hz
const (
	testSampleRate = 8000.0
	testBinCount   = 400
)

func toneBins(freq, mag float64) []float64 {
	bins := make([]float64, testBinCount)
	idx := int(freq / 10)
	if idx >= 0 && idx < testBinCount {
		bins[idx] = mag
	}
	return bins
}

func testAudioConfig() AudioConfig {
	cfg := DefaultAudioConfig()
	cfg.SamplesRequired = 3
	cfg.MinChangeTime = 80 * time.Millisecond
	return cfg
}

func feedTone(c *AudioClassifier, freq float64, startMs int) (Event, bool) {
	c.Classify(toneBins(freq, 200), testSampleRate, at(startMs))
	c.Classify(toneBins(freq, 200), testSampleRate, at(startMs+10))
	return c.Classify(toneBins(freq, 200), testSampleRate, at(startMs+20))
}

func TestAudioDataTones(t *testing.T) {
	tests := []struct {
		name string
		freq float64
		sym  symbol.Symbol
	}{
		{name: "基频=符号0", freq: 800, sym: symbol.Red},
		{name: "1000Hz=符号1", freq: 1000, sym: symbol.Green},
		{name: "1400Hz=符号3", freq: 1400, sym: symbol.Yellow},
		{name: "2200Hz=符号7", freq: 2200, sym: symbol.Black},
		{name: "偏移50Hz内取整到最近符号", freq: 1050, sym: symbol.Green},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAudioClassifier(testAudioConfig())
			ev, ok := feedTone(c, tt.freq, 0)
			require.True(t, ok)
			assert.Equal(t, tt.sym, ev.Symbol)
			assert.Equal(t, MarkerNone, ev.Marker)
		})
	}
}

// TestAudioMarkerTones 带外标记频点及容差窗
func TestAudioMarkerTones(t *testing.T) {
	tests := []struct {
		name   string
		freq   float64
		marker Marker
		sym    symbol.Symbol
	}{
		{name: "400Hz=START", freq: 400, marker: MarkerStart, sym: symbol.StartMarker},
		{name: "容差内430Hz仍是START", freq: 430, marker: MarkerStart, sym: symbol.StartMarker},
		{name: "500Hz=SYNC", freq: 500, marker: MarkerSync, sym: symbol.SyncMarker},
		{name: "600Hz=END", freq: 600, marker: MarkerEnd, sym: symbol.EndMarker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAudioClassifier(testAudioConfig())
			ev, ok := feedTone(c, tt.freq, 0)
			require.True(t, ok)
			assert.Equal(t, tt.marker, ev.Marker)
			assert.Equal(t, tt.sym, ev.Symbol)
		})
	}
}

// TestAudioOutOfBandRejected 频带之外的音调不产生事件
func TestAudioOutOfBandRejected(t *testing.T) {
	for _, freq := range []float64{700, 3000, 100} {
		c := NewAudioClassifier(testAudioConfig())
		_, ok := feedTone(c, freq, 0)
		assert.False(t, ok, "%vHz 不在任何频带内", freq)
	}
}

func TestAudioSilenceAndWeakSignal(t *testing.T) {
	c := NewAudioClassifier(testAudioConfig())

	_, ok := c.Classify(make([]float64, testBinCount), testSampleRate, at(0))
	assert.False(t, ok, "静默不应上报")

	// 峰值低于 0.15*255 视为噪声，且会清空去抖窗口
	c.Classify(toneBins(800, 200), testSampleRate, at(10))
	c.Classify(toneBins(800, 200), testSampleRate, at(20))
	_, ok = c.Classify(toneBins(800, 20), testSampleRate, at(30))
	assert.False(t, ok)
	_, ok = c.Classify(toneBins(800, 200), testSampleRate, at(40))
	assert.False(t, ok, "窗口已被弱信号清空")

	_, ok = c.Classify(nil, testSampleRate, at(50))
	assert.False(t, ok, "空频谱不应上报")
}

// TestAudioDebounce 同一音调持续只报一次，标记与数据键互不竞争
func TestAudioDebounce(t *testing.T) {
	c := NewAudioClassifier(testAudioConfig())

	_, ok := feedTone(c, 800, 0)
	require.True(t, ok)

	// 同一音调继续
	_, ok = c.Classify(toneBins(800, 200), testSampleRate, at(30))
	assert.False(t, ok)

	// 换到 START 标记：键空间不同，间隔达标即可上报
	ev, ok := feedTone(c, 400, 100)
	require.True(t, ok)
	assert.Equal(t, MarkerStart, ev.Marker)

	// 回到同一数据音调：与上次上报键不同，间隔达标后上报
	ev, ok = feedTone(c, 800, 220)
	require.True(t, ok)
	assert.Equal(t, symbol.Red, ev.Symbol)
}

func TestAudioTransmitFrequencies(t *testing.T) {
	c := NewAudioClassifier(testAudioConfig())
	assert.Equal(t, 800.0, c.SymbolFrequency(symbol.Red))
	assert.Equal(t, 2200.0, c.SymbolFrequency(symbol.Black))
	assert.Equal(t, 400.0, c.MarkerFrequency(MarkerStart))
	assert.Equal(t, 500.0, c.MarkerFrequency(MarkerSync))
	assert.Equal(t, 600.0, c.MarkerFrequency(MarkerEnd))
	assert.Zero(t, c.MarkerFrequency(MarkerNone))
}
