package framing

import (
	"fmt"

	"github.com/jpt262/dialup/internal/protocol/symbol"
	"github.com/jpt262/dialup/internal/signal"
)

// Element 一个待发射单元。Marker 标出帧结构位置，由发射端决定物理呈现：
// 视觉通道把标记映射回带内颜色，音频通道映射到带外标记音。
type Element struct {
	Symbol symbol.Symbol
	Marker signal.Marker
}

// Expand 把规范帧展开为发射元素序列，按固定位置标出 START、两处 SYNC
// 与 END，其余按数据处理。
func Expand(frame []symbol.Symbol) ([]Element, error) {
	n := len(frame)
	if n < symbol.MinFrameLen+symbol.MetaSymbols+1 ||
		frame[0] != symbol.StartMarker ||
		frame[n-1] != symbol.EndMarker ||
		frame[symbol.MetaSymbols+1] != symbol.SyncMarker ||
		frame[n-2] != symbol.SyncMarker {
		return nil, fmt.Errorf("framing: not a canonical frame")
	}
	elems := make([]Element, 0, n)
	for i, s := range frame {
		var m signal.Marker
		switch {
		case i == 0:
			m = signal.MarkerStart
		case i == n-1:
			m = signal.MarkerEnd
		case i == symbol.MetaSymbols+1 || i == n-2:
			m = signal.MarkerSync
		default:
			m = signal.MarkerNone
		}
		elems = append(elems, Element{Symbol: s, Marker: m})
	}
	return elems, nil
}

// Stuff 在相邻同键元素之间插入 SYNC 分隔符。接收端去抖器要求相邻事件
// 键不同才会二次上报，而 SYNC 在收集时只刷新不入缓冲，因此分隔符不改变
// 帧语义。键由通道决定：视觉按符号值，音频的标记音占独立键空间。
// 分隔符自身与两侧同键时插入无济于事，跳过（该帧在带内标记通道上
// 本就无法幸存，属字母表复用的固有歧义）。
func Stuff(elems []Element, keyOf func(Element) int) []Element {
	if len(elems) < 2 {
		return elems
	}
	sep := Element{Symbol: symbol.SyncMarker, Marker: signal.MarkerSync}
	sepKey := keyOf(sep)
	out := make([]Element, 0, len(elems)+len(elems)/4)
	out = append(out, elems[0])
	for i := 1; i < len(elems); i++ {
		if keyOf(elems[i]) == keyOf(elems[i-1]) && keyOf(elems[i]) != sepKey {
			out = append(out, sep)
		}
		out = append(out, elems[i])
	}
	return out
}
