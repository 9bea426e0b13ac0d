package symbol

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPayload   = errors.New("empty payload")
	ErrPayloadTooLong = errors.New("payload exceeds 255 bytes")
)

// 帧结构错误类别，errors.Is 可匹配
var (
	ErrTooShort = errors.New("sequence too short")
	ErrNoStart  = errors.New("no start marker")
	ErrNoEnd    = errors.New("no end marker")
	ErrNoSync   = errors.New("sync marker missing")
)

// FramingError 帧标记缺失或顺序错误。Reason 给日志与状态事件，
// 类别错误经 Unwrap 暴露。
type FramingError struct {
	Reason string
	err    error
}

func (e *FramingError) Error() string { return "framing: " + e.Reason }

func (e *FramingError) Unwrap() error { return e.err }

// ChecksumError 校验和不匹配，帧被丢弃
type ChecksumError struct {
	Want Symbol // 按数据重新计算的值
	Got  Symbol // 帧内携带的值
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: want %d got %d", e.Want, e.Got)
}

// Result 解码结果
type Result struct {
	Payload        []byte // 恢复的载荷字节
	DeclaredLen    int    // 元数据声明的长度
	LengthMismatch bool   // 声明长度与实际不符（仅告警，不影响投递）
}

// TextToBytes 把文本转为字节序列：每个码点截取低 8 bit。
// 仅码点 0–255 可完整往返，更高码点会静默截断（沿用既有行为）。
func TextToBytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// BytesToText TextToBytes 的逆变换：每字节还原为一个码点
func BytesToText(b []byte) string {
	out := make([]rune, len(b))
	for i, c := range b {
		out[i] = rune(c)
	}
	return string(out)
}

// BytesToSymbols 把字节流按 3 bit 一组切分为符号，末组不足时右侧补零
func BytesToSymbols(data []byte) []Symbol {
	out := make([]Symbol, 0, (len(data)*8+BitsPerSymbol-1)/BitsPerSymbol)
	var cur, n int
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			cur = cur<<1 | int(b>>uint(i))&1
			n++
			if n == BitsPerSymbol {
				out = append(out, Symbol(cur))
				cur, n = 0, 0
			}
		}
	}
	if n > 0 {
		out = append(out, Symbol(cur<<uint(BitsPerSymbol-n)))
	}
	return out
}

// SymbolsToBytes 把符号流还原为字节：每符号 3 bit，按 8 bit 重组。
// 末尾不足 8 bit 的残余是编码时的补零，直接丢弃，保证与 BytesToSymbols 往返一致。
func SymbolsToBytes(syms []Symbol) []byte {
	out := make([]byte, 0, len(syms)*BitsPerSymbol/8)
	var acc uint32
	var nbits uint
	for _, s := range syms {
		acc = acc<<BitsPerSymbol | uint32(s)&0x7
		nbits += BitsPerSymbol
		if nbits >= 8 {
			out = append(out, byte(acc>>(nbits-8)))
			nbits -= 8
			acc &= 1<<nbits - 1
		}
	}
	return out
}

// Checksum 附加校验和：数据符号索引之和模 8
func Checksum(data []Symbol) Symbol {
	sum := 0
	for _, s := range data {
		sum += int(s)
	}
	return Symbol(sum % AlphabetSize)
}

// Encode 把载荷编码为完整帧：
// START, 元数据(3符号), SYNC, 数据符号…, 校验和, SYNC, END
func Encode(payload []byte) ([]Symbol, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLong
	}

	meta := BytesToSymbols([]byte{byte(len(payload))})
	data := BytesToSymbols(payload)

	frame := make([]Symbol, 0, len(data)+len(meta)+5)
	frame = append(frame, StartMarker)
	frame = append(frame, meta...)
	frame = append(frame, SyncMarker)
	frame = append(frame, data...)
	frame = append(frame, Checksum(data))
	frame = append(frame, SyncMarker, EndMarker)
	return frame, nil
}

// EncodeText Encode 的文本入口
func EncodeText(text string) ([]Symbol, error) {
	return Encode(TextToBytes(text))
}

// Decode 解码一帧符号序列。
// 帧过短、缺 START/END、START 后无 SYNC、END 前无 SYNC 返回 *FramingError；
// 校验和不匹配返回 *ChecksumError；元数据长度与实际不符仅置 LengthMismatch 标记。
func Decode(seq []Symbol) (Result, error) {
	if len(seq) < MinFrameLen {
		return Result{}, &FramingError{Reason: "sequence too short", err: ErrTooShort}
	}
	for _, s := range seq {
		if !s.Valid() {
			return Result{}, &FramingError{Reason: "symbol out of range"}
		}
	}

	start := -1
	for i, s := range seq {
		if s == StartMarker {
			start = i
			break
		}
	}
	if start < 0 {
		return Result{}, &FramingError{Reason: "no start marker", err: ErrNoStart}
	}

	end := -1
	for i := len(seq) - 1; i > start; i-- {
		if seq[i] == EndMarker {
			end = i
			break
		}
	}
	if end < 0 {
		return Result{}, &FramingError{Reason: "no end marker", err: ErrNoEnd}
	}

	firstSync := -1
	for i := start + 1; i < end; i++ {
		if seq[i] == SyncMarker {
			firstSync = i
			break
		}
	}
	if firstSync < 0 {
		return Result{}, &FramingError{Reason: "no sync after start", err: ErrNoSync}
	}

	lastSync := -1
	for i := end - 1; i > firstSync; i-- {
		if seq[i] == SyncMarker {
			lastSync = i
			break
		}
	}
	if lastSync < 0 {
		return Result{}, &FramingError{Reason: "no sync before end", err: ErrNoSync}
	}

	declared := 0
	if mb := SymbolsToBytes(seq[start+1 : firstSync]); len(mb) > 0 {
		declared = int(mb[0])
	}

	body := seq[firstSync+1 : lastSync]
	if len(body) == 0 {
		return Result{}, &FramingError{Reason: "empty data section"}
	}
	data, got := body[:len(body)-1], body[len(body)-1]
	if want := Checksum(data); want != got {
		return Result{}, &ChecksumError{Want: want, Got: got}
	}

	payload := SymbolsToBytes(data)
	return Result{
		Payload:        payload,
		DeclaredLen:    declared,
		LengthMismatch: declared != len(payload),
	}, nil
}
