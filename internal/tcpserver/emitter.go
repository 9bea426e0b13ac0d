package tcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/jpt262/dialup/internal/config"
	"github.com/jpt262/dialup/internal/signal"
)

// emitBuffer 单渲染端积压行数上限，写满说明渲染端跟不上节拍
const emitBuffer = 256

// Emitter 发射元素推送 TCP 服务。节点把待发射元素交给它，
// 它按行广播给所有已连接的渲染端（屏幕/扬声器前端）。
// 节拍由节点的发射限速器控制，这里只负责扇出。
type Emitter struct {
	cfg cfgpkg.EmitterConfig
	log *zap.Logger

	ln         net.Listener
	wg         sync.WaitGroup
	stopC      chan struct{}
	limiter    *ConnectionLimiter
	nextConnID uint64

	mu    sync.Mutex
	conns map[uint64]*emitConn
}

// emitConn 一个渲染端连接
type emitConn struct {
	id     uint64
	c      net.Conn
	sendC  chan []byte
	closed bool
}

// NewEmitter 创建发射推送服务
func NewEmitter(cfg cfgpkg.EmitterConfig, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Emitter{
		cfg:     cfg,
		log:     log,
		stopC:   make(chan struct{}),
		limiter: NewConnectionLimiter(cfg.MaxConnections, 5*time.Second),
		conns:   make(map[uint64]*emitConn),
	}
}

// Addr 实际监听地址，仅在 Start 之后有效
func (e *Emitter) Addr() net.Addr {
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Subscribers 当前渲染端数量
func (e *Emitter) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// Start 监听并接受渲染端连接（非阻塞，内部 goroutine）
func (e *Emitter) Start() error {
	ln, err := net.Listen("tcp", e.cfg.Addr)
	if err != nil {
		return err
	}
	e.ln = ln
	e.log.Info("emitter listening", zap.String("addr", ln.Addr().String()))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			conn, err := e.ln.Accept()
			if err != nil {
				select {
				case <-e.stopC:
					return
				default:
				}
				time.Sleep(50 * time.Millisecond)
				continue
			}

			acquireCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			err = e.limiter.Acquire(acquireCtx)
			cancel()
			if err != nil {
				e.log.Warn("render client rejected",
					zap.String("remote_addr", conn.RemoteAddr().String()),
					zap.Error(err))
				_ = conn.Close()
				continue
			}

			e.mu.Lock()
			e.nextConnID++
			ec := &emitConn{
				id:    e.nextConnID,
				c:     conn,
				sendC: make(chan []byte, emitBuffer),
			}
			e.conns[ec.id] = ec
			count := len(e.conns)
			e.mu.Unlock()

			e.log.Info("render client connected",
				zap.Uint64("conn_id", ec.id),
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.Int("subscribers", count))

			e.wg.Add(2)
			go func() {
				defer e.wg.Done()
				defer e.limiter.Release()
				ec.writePump(e.cfg.WriteTimeout)
			}()
			go func() {
				defer e.wg.Done()
				// 渲染端不该上行任何数据，读到 EOF 或错误即判定断开
				_, _ = io.Copy(io.Discard, conn)
				e.remove(ec, "peer closed")
			}()
		}
	}()
	return nil
}

// TransmitVisual 广播一个视觉发射元素，见 gateway.Transmitter
func (e *Emitter) TransmitVisual(color signal.RGB) {
	e.broadcast(Emission{
		Channel: ChannelVisual,
		RGB:     []float64{color.R, color.G, color.B},
		TS:      time.Now().UnixMilli(),
	})
}

// TransmitAudio 广播一个音频发射元素，见 gateway.Transmitter
func (e *Emitter) TransmitAudio(freq float64) {
	e.broadcast(Emission{
		Channel: ChannelAudio,
		Freq:    freq,
		TS:      time.Now().UnixMilli(),
	})
}

// broadcast 把一行发射元素扇出给所有渲染端
func (e *Emitter) broadcast(em Emission) {
	line, err := json.Marshal(em)
	if err != nil {
		return
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ec := range e.conns {
		select {
		case ec.sendC <- line:
		default:
			e.log.Warn("render client too slow, dropping",
				zap.Uint64("conn_id", ec.id),
				zap.String("remote_addr", ec.c.RemoteAddr().String()))
			e.removeLocked(ec)
		}
	}
}

// remove 摘除一个渲染端连接
func (e *Emitter) remove(ec *emitConn, reason string) {
	e.mu.Lock()
	removed := !ec.closed
	e.removeLocked(ec)
	e.mu.Unlock()
	if removed {
		e.log.Info("render client disconnected",
			zap.Uint64("conn_id", ec.id), zap.String("reason", reason))
	}
}

// removeLocked 调用方持有 e.mu；关闭发送通道让写泵收尾
func (e *Emitter) removeLocked(ec *emitConn) {
	if ec.closed {
		return
	}
	ec.closed = true
	close(ec.sendC)
	delete(e.conns, ec.id)
}

// writePump 顺序写出发射行，发送通道关闭后收尾退出
func (ec *emitConn) writePump(timeout time.Duration) {
	defer ec.c.Close()
	for line := range ec.sendC {
		_ = ec.c.SetWriteDeadline(time.Now().Add(timeout))
		if _, err := ec.c.Write(line); err != nil {
			return
		}
	}
}

// Shutdown 关闭监听、掐断渲染端并等待各泵退出
func (e *Emitter) Shutdown(ctx context.Context) error {
	close(e.stopC)
	if e.ln != nil {
		_ = e.ln.Close()
	}
	e.mu.Lock()
	for _, ec := range e.conns {
		e.removeLocked(ec)
	}
	e.mu.Unlock()
	ch := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
