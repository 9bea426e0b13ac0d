package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimisticStartup(t *testing.T) {
	c := New(DefaultConfig())
	caps := c.Capabilities()
	assert.True(t, caps[ModeVisual].Available, "上电即按理想质量可用")
	assert.True(t, caps[ModeAudio].Available)
	assert.True(t, caps[ModeBoth].Available)
	assert.Equal(t, ModeNone, c.Current(), "未选择前处于 none")
}

func TestRateComputation(t *testing.T) {
	c := New(DefaultConfig())

	c.UpdateChannelQuality(ModeVisual, Quality{SNR: 10, ErrorRate: 0.1})
	caps := c.Capabilities()
	// 20 * (10/20) * 0.9 = 9
	assert.InDelta(t, 9.0, caps[ModeVisual].MaxRate, 1e-9)
	assert.False(t, caps[ModeVisual].Available, "信噪比必须严格大于 10")

	c.UpdateChannelQuality(ModeVisual, Quality{SNR: 40, ErrorRate: 0})
	caps = c.Capabilities()
	assert.InDelta(t, 20.0, caps[ModeVisual].MaxRate, 1e-9, "信噪比占比封顶为 1")

	c.UpdateChannelQuality(ModeAudio, Quality{SNR: 15, ErrorRate: 0.2})
	caps = c.Capabilities()
	// 30 * 1 * 0.8 = 24
	assert.InDelta(t, 24.0, caps[ModeAudio].MaxRate, 1e-9)
	// 0.9 * (20 + 24) = 39.6
	assert.InDelta(t, 39.6, caps[ModeBoth].MaxRate, 1e-9)
	assert.True(t, caps[ModeBoth].Available)
}

func TestAvailabilityThresholds(t *testing.T) {
	tests := []struct {
		name      string
		ch        Mode
		q         Quality
		available bool
	}{
		{name: "视觉高误码不可用", ch: ModeVisual, q: Quality{SNR: 30, ErrorRate: 0.3}, available: false},
		{name: "视觉误码临界以下可用", ch: ModeVisual, q: Quality{SNR: 30, ErrorRate: 0.29}, available: true},
		{name: "视觉低信噪比不可用", ch: ModeVisual, q: Quality{SNR: 9, ErrorRate: 0}, available: false},
		{name: "音频门限更宽", ch: ModeAudio, q: Quality{SNR: 8.5, ErrorRate: 0.39}, available: true},
		{name: "音频低信噪比不可用", ch: ModeAudio, q: Quality{SNR: 7, ErrorRate: 0}, available: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(DefaultConfig())
			c.UpdateChannelQuality(tt.ch, tt.q)
			assert.Equal(t, tt.available, c.Capabilities()[tt.ch].Available)
		})
	}
}

func TestSelectOptimalMode(t *testing.T) {
	c := New(DefaultConfig())

	// 初始乐观质量下 both 的 0.9*(20+30)*0.95=42.75 胜出
	got := c.SelectOptimalMode()
	assert.Equal(t, ModeBoth, got)
	assert.Equal(t, ModeBoth, c.Current())

	// 音频塌掉后只剩视觉
	c.UpdateChannelQuality(ModeAudio, Quality{SNR: 2, ErrorRate: 0.9})
	got = c.SelectOptimalMode()
	assert.Equal(t, ModeVisual, got)

	// 全部塌掉退到 none
	c.UpdateChannelQuality(ModeVisual, Quality{SNR: 1, ErrorRate: 0.9})
	got = c.SelectOptimalMode()
	assert.Equal(t, ModeNone, got)
}

func TestSelectPrefersHigherScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AudioEnabled = false
	c := New(cfg)
	got := c.SelectOptimalMode()
	assert.Equal(t, ModeVisual, got, "音频停用时 both 不可用，应选视觉")
}

func TestModeChangeCallback(t *testing.T) {
	c := New(DefaultConfig())
	var events []struct {
		prev, cur Mode
	}
	c.OnModeChange(func(prev, cur Mode, capability Capability) {
		events = append(events, struct{ prev, cur Mode }{prev, cur})
		if cur != ModeNone {
			assert.True(t, capability.Available)
		}
	})

	c.SelectOptimalMode()
	require.Len(t, events, 1)
	assert.Equal(t, ModeNone, events[0].prev)
	assert.Equal(t, ModeBoth, events[0].cur)

	// 再次选择同一模式不触发回调
	c.SelectOptimalMode()
	assert.Len(t, events, 1)
	assert.Equal(t, uint64(1), c.Switches())
}

func TestSetModeRefusesUnavailable(t *testing.T) {
	c := New(DefaultConfig())
	c.UpdateChannelQuality(ModeAudio, Quality{SNR: 1, ErrorRate: 0.9})

	assert.False(t, c.SetMode(ModeAudio), "不可用模式拒绝切换")
	assert.False(t, c.SetMode(ModeBoth))
	assert.Equal(t, ModeNone, c.Current(), "失败的切换不改变状态")

	assert.True(t, c.SetMode(ModeVisual))
	assert.Equal(t, ModeVisual, c.Current())

	assert.True(t, c.SetMode(ModeNone), "人工停用总是允许")
	assert.Equal(t, ModeNone, c.Current())

	assert.False(t, c.SetMode(Mode("laser")), "未知模式拒绝")
}

func TestQualitySnapshot(t *testing.T) {
	c := New(DefaultConfig())
	c.UpdateChannelQuality(ModeVisual, Quality{SNR: 12.5, ErrorRate: 0.05})
	q := c.ChannelQuality()
	assert.InDelta(t, 12.5, q[ModeVisual].SNR, 1e-9)
	assert.False(t, q[ModeVisual].LastUpdate.IsZero(), "未带时间戳时补当前时间")

	// 无关通道的更新被忽略
	c.UpdateChannelQuality(ModeBoth, Quality{SNR: 99})
	_, ok := c.ChannelQuality()[ModeBoth]
	assert.False(t, ok)
}
