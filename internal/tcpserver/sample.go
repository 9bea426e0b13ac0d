package tcpserver

import (
	"encoding/json"
	"fmt"
	"time"
)

// 采样通道名，与节点的工作模式标签一致
const (
	ChannelVisual = "visual"
	ChannelAudio  = "audio"
)

// Sample 馈送线上格式：每行一个 JSON 对象。
// 视觉采样带 rgb 三元组，音频采样带频谱幅度数组与采样率，
// ts 为采集端的 unix 毫秒时间戳，缺省时以服务端时间兜底。
type Sample struct {
	Channel string    `json:"ch"`
	RGB     []float64 `json:"rgb,omitempty"`
	Bins    []float64 `json:"bins,omitempty"`
	Rate    float64   `json:"rate,omitempty"`
	TS      int64     `json:"ts,omitempty"`
}

// At 采样时刻
func (s *Sample) At() time.Time {
	if s.TS <= 0 {
		return time.Now()
	}
	return time.UnixMilli(s.TS)
}

// ParseSample 解析并校验一行采样
func ParseSample(line []byte) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(line, &s); err != nil {
		return Sample{}, fmt.Errorf("feed: bad sample line: %w", err)
	}
	switch s.Channel {
	case ChannelVisual:
		if len(s.RGB) != 3 {
			return Sample{}, fmt.Errorf("feed: visual sample needs rgb triple, got %d values", len(s.RGB))
		}
	case ChannelAudio:
		if len(s.Bins) == 0 {
			return Sample{}, fmt.Errorf("feed: audio sample needs spectrum bins")
		}
		if s.Rate <= 0 {
			return Sample{}, fmt.Errorf("feed: audio sample needs positive sample rate")
		}
	default:
		return Sample{}, fmt.Errorf("feed: unknown channel %q", s.Channel)
	}
	return s, nil
}

// Emission 发射线上格式：每行一个 JSON 对象，推给渲染端。
// 视觉元素带 rgb 三元组，音频元素带发射频率，ts 为服务端出队时刻。
// 节拍由节点的发射限速器决定，渲染端按行播放即可。
type Emission struct {
	Channel string    `json:"ch"`
	RGB     []float64 `json:"rgb,omitempty"`
	Freq    float64   `json:"freq,omitempty"`
	TS      int64     `json:"ts"`
}

// SampleSink 采样的去向。节点实现该接口；测试可注入假实现。
type SampleSink interface {
	HandleVisualSample(r, g, b float64, ts time.Time)
	HandleAudioSample(bins []float64, sampleRate float64, ts time.Time)
}

// dispatch 把合法采样投递给接收方
func dispatch(sink SampleSink, s Sample) {
	switch s.Channel {
	case ChannelVisual:
		sink.HandleVisualSample(s.RGB[0], s.RGB[1], s.RGB[2], s.At())
	case ChannelAudio:
		sink.HandleAudioSample(s.Bins, s.Rate, s.At())
	}
}
