// Package framing 实现按帧标记收集符号序列的接收状态机，
// 以及发送侧把规范帧展开为可发射元素序列的规划器。
//
// 视觉与音频通道共用同一台状态机：差别只在判决器如何产生标记
// （视觉标记复用字母表颜色，音频标记使用带外频点）。
package framing

import "time"

// Status 状态机对外上报的阶段
type Status int

const (
	// StatusStarted 检测到 START，开始收集
	StatusStarted Status = iota
	// StatusTracking 收集中，缓冲追加了一个数据符号
	StatusTracking
	// StatusDecoded 一帧成功解码
	StatusDecoded
	// StatusError 解码失败或序列超限
	StatusError
	// StatusTimeout 收集中超过静默窗口
	StatusTimeout
	// StatusReset 外部要求复位
	StatusReset
)

var statusNames = map[Status]string{
	StatusStarted:  "started",
	StatusTracking: "tracking",
	StatusDecoded:  "decoded",
	StatusError:    "error",
	StatusTimeout:  "timeout",
	StatusReset:    "reset",
}

// String 阶段名
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// StatusEvent 一次阶段变化
type StatusEvent struct {
	Channel   string
	Status    Status
	Reason    string
	BufferLen int
	At        time.Time
}

// Decoded 一帧成功解码的产物。LengthMismatch 为 true 表示元数据声明的
// 长度与实际不符，仅作告警，消息照常投递。
type Decoded struct {
	Channel        string
	Payload        []byte
	DeclaredLen    int
	LengthMismatch bool
	FecErrors      int
	At             time.Time
}
