// Package signal 把连续的噪声采样（屏幕颜色 RGB 或音频频谱）判决为离散符号事件。
//
// 两条通道共用同一套去抖器：同一符号连续出现时，只有间隔达到最小变化时间
// 才会再次上报，避免一段持续的颜色/单音被读成多个重复符号。
package signal

import (
	"time"

	"github.com/jpt262/dialup/internal/protocol/symbol"
)

// Marker 帧标记类别
type Marker int

const (
	MarkerNone Marker = iota
	MarkerStart
	MarkerSync
	MarkerEnd
)

var markerNames = map[Marker]string{
	MarkerNone:  "none",
	MarkerStart: "start",
	MarkerSync:  "sync",
	MarkerEnd:   "end",
}

// String 标记名
func (m Marker) String() string {
	if s, ok := markerNames[m]; ok {
		return s
	}
	return "unknown"
}

// Event 一次判决产生的符号事件。
// 视觉通道的标记复用数据字母表（Green/Yellow/Cyan），Marker 由符号值推出；
// 音频通道的标记位于带外频点，Marker 由频率直接判定，Symbol 填对应的带内值
// 以便上层统一重建帧。
type Event struct {
	Symbol symbol.Symbol
	Marker Marker
	At     time.Time
}

// markerOf 视觉通道按符号值推断标记。数据字节恰好落在标记值上时无法区分，
// 这是字母表复用的固有歧义，由校验和兜底。
func markerOf(s symbol.Symbol) Marker {
	switch s {
	case symbol.StartMarker:
		return MarkerStart
	case symbol.SyncMarker:
		return MarkerSync
	case symbol.EndMarker:
		return MarkerEnd
	default:
		return MarkerNone
	}
}

// markerSymbol 音频带外标记对应的带内符号值
func markerSymbol(m Marker) symbol.Symbol {
	switch m {
	case MarkerStart:
		return symbol.StartMarker
	case MarkerSync:
		return symbol.SyncMarker
	case MarkerEnd:
		return symbol.EndMarker
	default:
		return 0
	}
}
