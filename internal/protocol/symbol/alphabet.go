// Package symbol 实现 8 色/8 音符号字母表与帧编解码。
// 一个符号承载 3 bit；帧格式：START + 元数据(3符号=长度字节) + SYNC + 数据 + 校验和 + SYNC + END。
// START/SYNC/END 复用同一字母表中的普通符号值，数据中恰好出现这些值时与标记不可区分，
// 这是协议的既有行为，按约定保留。
package symbol

// Symbol 符号索引（0..7），每个符号承载 3 bit
type Symbol int

// 字母表：调色板顺序固定，索引即 3 bit 值
const (
	Red     Symbol = iota // 0
	Green                 // 1
	Blue                  // 2
	Yellow                // 3
	Magenta               // 4
	Cyan                  // 5
	White                 // 6
	Black                 // 7
)

// 帧标记：复用字母表符号
const (
	StartMarker = Green  // 帧起始
	SyncMarker  = Yellow // 同步/保活，亦用于分隔连续重复符号
	EndMarker   = Cyan   // 帧结束
)

const (
	// AlphabetSize 字母表大小
	AlphabetSize = 8
	// BitsPerSymbol 每符号比特数
	BitsPerSymbol = 3
	// MaxPayloadLen 元数据长度字段为单字节，载荷上限 255 字节
	MaxPayloadLen = 255
	// MinFrameLen 可解码帧的最小符号数
	MinFrameLen = 5
	// MetaSymbols 元数据段符号数（1 字节长度 → 3 符号）
	MetaSymbols = 3
)

var names = [AlphabetSize]string{"red", "green", "blue", "yellow", "magenta", "cyan", "white", "black"}

// Valid 判断符号值是否在字母表范围内
func (s Symbol) Valid() bool { return s >= 0 && s < AlphabetSize }

// Name 返回符号的调色板颜色名（越界返回 "invalid"）
func (s Symbol) Name() string {
	if !s.Valid() {
		return "invalid"
	}
	return names[s]
}

// IsMarker 判断符号值是否为某个帧标记
func (s Symbol) IsMarker() bool {
	return s == StartMarker || s == SyncMarker || s == EndMarker
}
