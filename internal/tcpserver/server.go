// Package tcpserver 实现采样馈送入口：采集前端（屏幕摄像头、麦克风
// FFT）通过 TCP 按行推送 JSON 采样，服务端解析后喂给链路节点。
package tcpserver

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/jpt262/dialup/internal/config"
	"github.com/jpt262/dialup/internal/metrics"
)

// Server 采样馈送 TCP 服务
type Server struct {
	cfg  cfgpkg.FeedConfig
	log  *zap.Logger
	appm *metrics.AppMetrics
	sink SampleSink

	ln         net.Listener
	wg         sync.WaitGroup
	stopC      chan struct{}
	limiter    *ConnectionLimiter
	nextConnID uint64
	conns      sync.Map // uint64 -> *feedConn
}

// New 创建馈送服务。appm 可为 nil 表示不上报指标。
func New(cfg cfgpkg.FeedConfig, log *zap.Logger, appm *metrics.AppMetrics, sink SampleSink) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		appm:    appm,
		sink:    sink,
		stopC:   make(chan struct{}),
		limiter: NewConnectionLimiter(cfg.MaxConnections, 5*time.Second),
	}
}

// Addr 实际监听地址，仅在 Start 之后有效
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Limiter 连接限流统计
func (s *Server) Limiter() LimiterStats { return s.limiter.Stats() }

// Start 监听并接受连接（非阻塞，内部 goroutine）
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("feed server listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				select {
				case <-s.stopC:
					return
				default:
				}
				// 短暂错误等待后重试
				time.Sleep(50 * time.Millisecond)
				continue
			}

			acquireCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			err = s.limiter.Acquire(acquireCtx)
			cancel()
			if err != nil {
				s.log.Warn("feed connection rejected",
					zap.String("remote_addr", conn.RemoteAddr().String()),
					zap.Error(err))
				_ = conn.Close()
				continue
			}

			if s.appm != nil {
				s.appm.FeedAccepted.Inc()
			}
			fc := newFeedConn(s, conn)
			s.log.Info("feed connection accepted",
				zap.Uint64("conn_id", fc.ID()),
				zap.String("remote_addr", conn.RemoteAddr().String()))

			s.conns.Store(fc.ID(), fc)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.limiter.Release()
				defer s.conns.Delete(fc.ID())
				fc.run()
			}()
		}
	}()
	return nil
}

// Shutdown 关闭监听、掐断存量连接并等待处理循环退出
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopC)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.conns.Range(func(_, v any) bool {
		if fc, ok := v.(*feedConn); ok {
			_ = fc.c.Close()
		}
		return true
	})
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
