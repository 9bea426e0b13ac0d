package tcpserver

import (
	"bufio"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// feedConn 一条采样馈送连接。首个合法采样把连接绑定到其通道
// （一个采集前端只喂一条通道），之后串行解析与投递，保证同通道
// 采样的时间顺序。
type feedConn struct {
	s  *Server
	c  net.Conn
	id uint64

	bound   string
	samples uint64
	dropped uint64
	errs    uint64

	doneC chan struct{}
}

func newFeedConn(s *Server, c net.Conn) *feedConn {
	return &feedConn{
		s:     s,
		c:     c,
		id:    atomic.AddUint64(&s.nextConnID, 1),
		doneC: make(chan struct{}),
	}
}

// ID 连接ID（单进程唯一递增）
func (fc *feedConn) ID() uint64 { return fc.id }

// RemoteAddr 远端地址
func (fc *feedConn) RemoteAddr() net.Addr { return fc.c.RemoteAddr() }

// Done 连接结束通知
func (fc *feedConn) Done() <-chan struct{} { return fc.doneC }

// run 行读取循环，阻塞直至连接结束。超长行、连续解析失败或
// 通道漂移都按协议违例断开。
func (fc *feedConn) run() {
	defer close(fc.doneC)
	defer fc.c.Close()

	limiter := NewRateLimiter(int(fc.s.cfg.SamplesPerSecond), fc.s.cfg.Burst)

	sc := bufio.NewScanner(fc.c)
	maxLine := fc.s.cfg.MaxLineBytes
	if maxLine <= 0 {
		maxLine = 64 * 1024
	}
	// Scanner 以初始缓冲容量与 max 中较大者为单行上限，初始容量不能超过 max
	bufCap := 4096
	if maxLine < bufCap {
		bufCap = maxLine
	}
	sc.Buffer(make([]byte, 0, bufCap), maxLine)

	for {
		if fc.s.cfg.ReadTimeout > 0 {
			_ = fc.c.SetReadDeadline(time.Now().Add(fc.s.cfg.ReadTimeout))
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				fc.s.log.Debug("feed connection read ended",
					zap.Uint64("conn_id", fc.id), zap.Error(err))
			}
			return
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		// 限速丢弃而不是阻塞：采样流迟到不如不到
		if fc.s.cfg.SamplesPerSecond > 0 && !limiter.Allow() {
			fc.dropped++
			continue
		}

		sample, err := ParseSample(line)
		if err != nil {
			fc.errs++
			if fc.s.appm != nil {
				fc.s.appm.FeedParseErrors.Inc()
			}
			fc.s.log.Warn("feed sample rejected",
				zap.Uint64("conn_id", fc.id), zap.Error(err))
			if fc.errs >= maxConsecutiveErrors {
				fc.s.log.Warn("feed connection dropped, too many bad lines",
					zap.Uint64("conn_id", fc.id),
					zap.String("remote_addr", fc.c.RemoteAddr().String()))
				return
			}
			continue
		}
		fc.errs = 0

		if fc.bound == "" {
			fc.bound = sample.Channel
			fc.s.log.Info("feed channel bound",
				zap.Uint64("conn_id", fc.id),
				zap.String("channel", fc.bound),
				zap.String("remote_addr", fc.c.RemoteAddr().String()))
		} else if sample.Channel != fc.bound {
			fc.s.log.Warn("feed connection dropped, channel drift",
				zap.Uint64("conn_id", fc.id),
				zap.String("bound", fc.bound),
				zap.String("got", sample.Channel))
			return
		}

		dispatch(fc.s.sink, sample)
		fc.samples++
		if fc.s.appm != nil {
			fc.s.appm.FeedSamples.WithLabelValues(sample.Channel).Inc()
		}
	}
}

// maxConsecutiveErrors 容忍的连续坏行数
const maxConsecutiveErrors = 8
