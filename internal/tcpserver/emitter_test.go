package tcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/jpt262/dialup/internal/config"
	"github.com/jpt262/dialup/internal/signal"
)

func startEmitter(t *testing.T) *Emitter {
	t.Helper()
	e := NewEmitter(cfgpkg.EmitterConfig{
		Addr:           "127.0.0.1:0",
		WriteTimeout:   time.Second,
		MaxConnections: 4,
	}, zap.NewNop())
	require.NoError(t, e.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func dialEmitter(t *testing.T, e *Emitter, want int) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", e.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	// 连接登记在 accept 协程里完成，广播前要等它就位
	require.Eventually(t, func() bool { return e.Subscribers() == want },
		2*time.Second, 10*time.Millisecond)
	return c
}

// TestEmitterBroadcast 测试发射元素按行到达渲染端
func TestEmitterBroadcast(t *testing.T) {
	e := startEmitter(t)
	c := dialEmitter(t, e, 1)

	e.TransmitVisual(signal.RGB{R: 255, G: 0, B: 0})
	e.TransmitAudio(440)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	r := bufio.NewReader(c)

	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var em Emission
	require.NoError(t, json.Unmarshal(line, &em))
	assert.Equal(t, ChannelVisual, em.Channel)
	assert.Equal(t, []float64{255, 0, 0}, em.RGB)

	line, err = r.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &em))
	assert.Equal(t, ChannelAudio, em.Channel)
	assert.Equal(t, float64(440), em.Freq)
}

// TestEmitterFanout 测试同一元素广播给多个渲染端
func TestEmitterFanout(t *testing.T) {
	e := startEmitter(t)
	c1 := dialEmitter(t, e, 1)
	c2 := dialEmitter(t, e, 2)

	e.TransmitAudio(880)

	for _, c := range []net.Conn{c1, c2} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		line, err := bufio.NewReader(c).ReadBytes('\n')
		require.NoError(t, err)
		var em Emission
		require.NoError(t, json.Unmarshal(line, &em))
		assert.Equal(t, float64(880), em.Freq)
	}
}

// TestEmitterShutdown 测试关停后渲染端被断开
func TestEmitterShutdown(t *testing.T) {
	e := startEmitter(t)
	c := dialEmitter(t, e, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := bufio.NewReader(c).ReadBytes('\n')
	require.Error(t, err)
	assert.Equal(t, 0, e.Subscribers())
}
