// Package fec 提供可插拔的冗余编码层。
//
// 模式名只是配置标签："hamming" 是逐字节交织奇偶字节的检错方案，
// "reed-solomon" 是追加滚动校验和的检错方案，二者都不是同名的真实纠错算法，
// 不具备前向纠错能力。
package fec

import (
	"fmt"
)

// Mode 冗余编码模式
type Mode string

const (
	// ModeNone 直通，不加冗余
	ModeNone Mode = "none"
	// ModeHamming 逐字节交织奇偶字节（仅检错）
	ModeHamming Mode = "hamming"
	// ModeReedSolomon 尾部滚动校验和（仅检错）
	ModeReedSolomon Mode = "reed-solomon"
)

const (
	// MinStrength / MaxStrength 冗余强度上下限
	MinStrength = 1
	MaxStrength = 8
	// DefaultStrength 未指定时的强度
	DefaultStrength = 2

	// windowSize 自适应误码滑动窗口容量
	windowSize = 100
	// maxChecksumLen reed-solomon 校验和字节数上限
	maxChecksumLen = 32

	// raiseThreshold / lowerThreshold 自适应强度的迟滞阈值
	raiseThreshold = 0.1
	lowerThreshold = 0.01
)

// Config 冗余编码配置
type Config struct {
	Mode     Mode `mapstructure:"mode" yaml:"mode"`
	Strength int  `mapstructure:"strength" yaml:"strength"`
	Adaptive bool `mapstructure:"adaptive" yaml:"adaptive"`
}

// Result 解码结果。
// Errors 为检出的受损单元数；Corrected 恒为 0（方案仅检错不纠错）。
// hamming 模式下 Valid 恒为 true，错误只体现在 Errors 计数里，
// 调用方需要自行决定是否采信；reed-solomon 模式校验和不符时 Valid=false。
type Result struct {
	Data      []byte
	Errors    int
	Corrected int
	Valid     bool
}

// Codec 冗余编解码器。每个实例自持滑动窗口与强度，非并发安全，
// 由所属通道串行调用。
type Codec struct {
	mode     Mode
	strength int
	adaptive bool

	// 最近 windowSize 次解码的误码布尔环
	window    [windowSize]bool
	windowPos int
	windowLen int
	windowErr int
}

// New 构造编解码器，未知模式返回错误，强度缺省并夹取到 [1,8]。
func New(cfg Config) (*Codec, error) {
	switch cfg.Mode {
	case "", ModeNone, ModeHamming, ModeReedSolomon:
	default:
		return nil, fmt.Errorf("fec: unknown mode %q", cfg.Mode)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeNone
	}
	strength := cfg.Strength
	if strength == 0 {
		strength = DefaultStrength
	}
	if strength < MinStrength {
		strength = MinStrength
	}
	if strength > MaxStrength {
		strength = MaxStrength
	}
	return &Codec{mode: mode, strength: strength, adaptive: cfg.Adaptive}, nil
}

// Mode 当前模式
func (c *Codec) Mode() Mode { return c.mode }

// Strength 当前冗余强度
func (c *Codec) Strength() int { return c.strength }

// ErrorRate 滑动窗口内的误码率，窗口为空时为 0。
func (c *Codec) ErrorRate() float64 {
	if c.windowLen == 0 {
		return 0
	}
	return float64(c.windowErr) / float64(c.windowLen)
}

// Encode 按当前模式与强度追加冗余。返回新切片，不引用入参。
func (c *Codec) Encode(data []byte) []byte {
	switch c.mode {
	case ModeHamming:
		out := make([]byte, 0, len(data)*2)
		for _, b := range data {
			out = append(out, b, c.parity(b))
		}
		return out
	case ModeReedSolomon:
		cl := checksumLen(len(data), c.strength)
		out := make([]byte, 0, len(data)+cl)
		out = append(out, data...)
		out = append(out, c.rollingChecksum(data, cl)...)
		return out
	default:
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
}

// EncodedLen 长度为 n 的输入编码后的字节数，发射侧用来预判
// 是否仍落在单帧载荷上限内。
func (c *Codec) EncodedLen(n int) int {
	switch c.mode {
	case ModeHamming:
		return n * 2
	case ModeReedSolomon:
		return n + checksumLen(n, c.strength)
	default:
		return n
	}
}

// Decode 剥离冗余并校验。自适应开启时在每次调用后按窗口误码率
// 调整强度：>0.1 加一档（上限 8），<0.01 减一档（下限 1），区间内保持。
func (c *Codec) Decode(data []byte) Result {
	var res Result
	switch c.mode {
	case ModeHamming:
		res = c.decodeHamming(data)
	case ModeReedSolomon:
		res = c.decodeReedSolomon(data)
	default:
		out := make([]byte, len(data))
		copy(out, data)
		res = Result{Data: out, Valid: true}
	}
	if c.adaptive {
		c.observe(res.Errors > 0)
	}
	return res
}

// decodeHamming 逐对拆出数据字节并重算奇偶。历史行为：即使检出错误
// Valid 仍为 true，只累加 Errors。
func (c *Codec) decodeHamming(data []byte) Result {
	out := make([]byte, 0, len(data)/2)
	errors := 0
	i := 0
	for ; i+1 < len(data); i += 2 {
		out = append(out, data[i])
		if c.parity(data[i]) != data[i+1] {
			errors++
		}
	}
	if i < len(data) {
		// 落单的尾字节缺少奇偶伙伴，计为一次错误并丢弃
		errors++
	}
	return Result{Data: out, Errors: errors, Valid: true}
}

// decodeReedSolomon 依据当前强度反推校验和长度并比对。
// 收发两端强度漂移会导致切分失败，按整体校验失败处理。
func (c *Codec) decodeReedSolomon(data []byte) Result {
	n := -1
	for cl := 1; cl <= maxChecksumLen && cl < len(data); cl++ {
		if checksumLen(len(data)-cl, c.strength) == cl {
			n = len(data) - cl
			break
		}
	}
	if n < 0 {
		out := make([]byte, len(data))
		copy(out, data)
		return Result{Data: out, Errors: 1, Valid: false}
	}
	out := make([]byte, n)
	copy(out, data[:n])
	want := c.rollingChecksum(out, len(data)-n)
	errors := 0
	for i, b := range want {
		if data[n+i] != b {
			errors++
		}
	}
	return Result{Data: out, Errors: errors, Valid: errors == 0}
}

// parity 奇偶字节：对输入做 strength 轮异或移位混合
func (c *Codec) parity(b byte) byte {
	p := b
	for i := 0; i < c.strength; i++ {
		p ^= p << 1
	}
	return p
}

// rollingChecksum 滚动异或加循环左移的校验和
func (c *Codec) rollingChecksum(data []byte, cl int) []byte {
	sum := make([]byte, cl)
	for i, b := range data {
		j := i % cl
		sum[j] ^= b
		sum[j] = sum[j]<<1 | sum[j]>>7
	}
	return sum
}

// observe 写入误码环并按迟滞规则调节强度
func (c *Codec) observe(failed bool) {
	if c.windowLen == windowSize {
		if c.window[c.windowPos] {
			c.windowErr--
		}
	} else {
		c.windowLen++
	}
	c.window[c.windowPos] = failed
	if failed {
		c.windowErr++
	}
	c.windowPos = (c.windowPos + 1) % windowSize

	rate := float64(c.windowErr) / float64(c.windowLen)
	switch {
	case rate > raiseThreshold && c.strength < MaxStrength:
		c.strength++
	case rate < lowerThreshold && c.strength > MinStrength:
		c.strength--
	}
}

// checksumLen reed-solomon 校验和字节数：数据越长、强度越高越多，
// 至少 1 字节，至多 32 字节。
func checksumLen(dataLen, strength int) int {
	cl := dataLen * strength / 16
	if cl < 1 {
		cl = 1
	}
	if cl > maxChecksumLen {
		cl = maxChecksumLen
	}
	return cl
}
