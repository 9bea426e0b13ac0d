package tcpserver

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/jpt262/dialup/internal/config"
)

// fakeSink 收集投递结果的假节点
type fakeSink struct {
	mu     sync.Mutex
	visual int
	audio  int
	lastTS time.Time
}

func (f *fakeSink) HandleVisualSample(r, g, b float64, ts time.Time) {
	f.mu.Lock()
	f.visual++
	f.lastTS = ts
	f.mu.Unlock()
}

func (f *fakeSink) HandleAudioSample(bins []float64, sampleRate float64, ts time.Time) {
	f.mu.Lock()
	f.audio++
	f.lastTS = ts
	f.mu.Unlock()
}

func (f *fakeSink) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visual, f.audio
}

func testFeedConfig() cfgpkg.FeedConfig {
	return cfgpkg.FeedConfig{
		Addr:           "127.0.0.1:0",
		ReadTimeout:    2 * time.Second,
		MaxConnections: 4,
		MaxLineBytes:   4096,
	}
}

func startServer(t *testing.T, cfg cfgpkg.FeedConfig, sink SampleSink) *Server {
	t.Helper()
	s := New(cfg, zap.NewNop(), nil, sink)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// expectClosed 等待服务端关闭连接。带缓冲数据被丢弃时内核可能回 RST，
// 所以 EOF 与 reset 都算断开，只有读超时算失败。
func expectClosed(t *testing.T, c net.Conn, within time.Duration) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(within))
	_, err := c.Read(make([]byte, 1))
	require.Error(t, err, "服务端应已断开连接")
	var ne net.Error
	require.False(t, errors.As(err, &ne) && ne.Timeout(), "等待服务端断开超时")
}

func TestFeedDeliversSamples(t *testing.T) {
	sink := &fakeSink{}
	s := startServer(t, testFeedConfig(), sink)

	vc := dial(t, s)
	_, err := vc.Write([]byte(
		`{"ch":"visual","rgb":[0,255,0],"ts":1764115200000}` + "\n" +
			`{"ch":"visual","rgb":[255,255,0]}` + "\n"))
	require.NoError(t, err)

	ac := dial(t, s)
	_, err = ac.Write([]byte(`{"ch":"audio","bins":[1,2,220,3],"rate":8000}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, a := sink.counts()
		return v == 2 && a == 1
	}, 3*time.Second, 20*time.Millisecond, "采样未全部送达")
}

func TestFeedChannelDrift(t *testing.T) {
	sink := &fakeSink{}
	s := startServer(t, testFeedConfig(), sink)

	c := dial(t, s)
	_, err := c.Write([]byte(
		`{"ch":"visual","rgb":[0,0,255]}` + "\n" +
			`{"ch":"audio","bins":[1],"rate":8000}` + "\n"))
	require.NoError(t, err)

	expectClosed(t, c, 3*time.Second)
	v, a := sink.counts()
	assert.Equal(t, 1, v, "绑定前的首个采样应已投递")
	assert.Zero(t, a, "漂移通道的采样不投递")
}

func TestFeedTooManyBadLines(t *testing.T) {
	sink := &fakeSink{}
	s := startServer(t, testFeedConfig(), sink)

	c := dial(t, s)
	_, err := c.Write([]byte(strings.Repeat("not json\n", maxConsecutiveErrors)))
	require.NoError(t, err)
	expectClosed(t, c, 3*time.Second)
}

func TestFeedOversizedLine(t *testing.T) {
	cfg := testFeedConfig()
	cfg.MaxLineBytes = 64
	sink := &fakeSink{}
	s := startServer(t, cfg, sink)

	c := dial(t, s)
	_, err := c.Write([]byte(`{"ch":"audio","bins":[` + strings.Repeat("1,", 200) + `1],"rate":8000}` + "\n"))
	require.NoError(t, err)
	expectClosed(t, c, 3*time.Second)
}

func TestFeedConnectionLimit(t *testing.T) {
	cfg := testFeedConfig()
	cfg.MaxConnections = 1
	sink := &fakeSink{}
	s := startServer(t, cfg, sink)

	first := dial(t, s)
	_, err := first.Write([]byte(`{"ch":"visual","rgb":[1,2,3]}` + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, _ := sink.counts()
		return v == 1
	}, 3*time.Second, 20*time.Millisecond)

	second := dial(t, s)
	expectClosed(t, second, 5*time.Second)
	assert.GreaterOrEqual(t, s.Limiter().RejectedTotal, int64(1))
}
