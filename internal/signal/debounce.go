package signal

import "time"

// debouncer 滑动窗口去抖。窗口装满且全部一致、与上次上报不同、
// 距上次变化超过最小间隔，三个条件同时满足才放行一次事件。
type debouncer struct {
	window     []int
	need       int
	minChange  time.Duration
	lastKey    int
	hasLast    bool
	lastChange time.Time
}

func newDebouncer(samplesRequired int, minChange time.Duration) *debouncer {
	if samplesRequired < 1 {
		samplesRequired = 1
	}
	return &debouncer{
		window:    make([]int, 0, samplesRequired),
		need:      samplesRequired,
		minChange: minChange,
	}
}

// reset 清空采样窗口。信号离开有效范围时调用，已上报状态保留。
func (d *debouncer) reset() {
	d.window = d.window[:0]
}

// push 压入一个候选键，判断是否达成一次稳定变化。
func (d *debouncer) push(key int, ts time.Time) bool {
	if len(d.window) == d.need {
		copy(d.window, d.window[1:])
		d.window = d.window[:d.need-1]
	}
	d.window = append(d.window, key)
	if len(d.window) < d.need {
		return false
	}
	for _, k := range d.window {
		if k != key {
			return false
		}
	}
	if d.hasLast && d.lastKey == key {
		return false
	}
	if d.hasLast && ts.Sub(d.lastChange) < d.minChange {
		return false
	}
	d.lastKey = key
	d.hasLast = true
	d.lastChange = ts
	return true
}
