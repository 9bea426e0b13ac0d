package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpt262/dialup/internal/protocol/symbol"
	"github.com/jpt262/dialup/internal/signal"
)

func visualKey(e Element) int { return int(e.Symbol) }

func audioKey(e Element) int {
	if e.Marker != signal.MarkerNone {
		return 100 + int(e.Marker)
	}
	return int(e.Symbol)
}

func TestExpandMarksStructuralPositions(t *testing.T) {
	frame, err := symbol.EncodeText("Hi")
	require.NoError(t, err)

	elems, err := Expand(frame)
	require.NoError(t, err)
	require.Len(t, elems, len(frame))

	assert.Equal(t, signal.MarkerStart, elems[0].Marker)
	assert.Equal(t, signal.MarkerSync, elems[4].Marker)
	assert.Equal(t, signal.MarkerSync, elems[len(elems)-2].Marker)
	assert.Equal(t, signal.MarkerEnd, elems[len(elems)-1].Marker)
	for i := 5; i < len(elems)-2; i++ {
		assert.Equal(t, signal.MarkerNone, elems[i].Marker, "数据区位置 %d", i)
	}
}

func TestExpandRejectsNonCanonical(t *testing.T) {
	frame, err := symbol.EncodeText("Hi")
	require.NoError(t, err)

	tests := []struct {
		name string
		seq  []symbol.Symbol
	}{
		{name: "过短", seq: frame[:5]},
		{name: "缺END", seq: frame[:len(frame)-1]},
		{name: "首符号不是START", seq: append([]symbol.Symbol{symbol.Red}, frame[1:]...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.seq)
			assert.Error(t, err)
		})
	}
}

// TestStuffVisual 相邻同色之间插入 SYNC 分隔符
func TestStuffVisual(t *testing.T) {
	frame, err := symbol.EncodeText("Hi")
	require.NoError(t, err)
	elems, err := Expand(frame)
	require.NoError(t, err)

	stuffed := Stuff(elems, visualKey)
	// "Hi" 帧里有三处相邻重复：元数据 0,0、数据 2,2 与 4,4
	assert.Len(t, stuffed, len(elems)+3)

	for i := 1; i < len(stuffed); i++ {
		if visualKey(stuffed[i]) == visualKey(stuffed[i-1]) {
			assert.Equal(t, symbol.SyncMarker, stuffed[i].Symbol,
				"残余的相邻同键只允许是 SYNC 自身")
		}
	}
}

// TestStuffAudioKeysSeparateMarkers 音频键空间里标记音与同值数据音不冲突
func TestStuffAudioKeysSeparateMarkers(t *testing.T) {
	// 数据符号 3 与结构 SYNC 在视觉通道同色，在音频通道是不同音
	elems := []Element{
		{Symbol: symbol.Yellow, Marker: signal.MarkerNone},
		{Symbol: symbol.SyncMarker, Marker: signal.MarkerSync},
	}
	stuffed := Stuff(elems, audioKey)
	assert.Len(t, stuffed, 2, "键不同不需要分隔符")

	visual := Stuff(elems, visualKey)
	assert.Len(t, visual, 2, "同键但分隔符也同键时跳过")
}

func TestStuffInsertsBetweenEqualData(t *testing.T) {
	elems := []Element{
		{Symbol: symbol.Red},
		{Symbol: symbol.Red},
		{Symbol: symbol.Red},
	}
	stuffed := Stuff(elems, audioKey)
	require.Len(t, stuffed, 5)
	assert.Equal(t, signal.MarkerSync, stuffed[1].Marker)
	assert.Equal(t, signal.MarkerSync, stuffed[3].Marker)
}

func TestStuffShortInput(t *testing.T) {
	one := []Element{{Symbol: symbol.Red}}
	assert.Equal(t, one, Stuff(one, visualKey))
	assert.Empty(t, Stuff(nil, visualKey))
}
