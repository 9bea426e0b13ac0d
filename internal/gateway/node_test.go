package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jpt262/dialup/internal/mode"
	"github.com/jpt262/dialup/internal/protocol/fec"
	"github.com/jpt262/dialup/internal/signal"
)

// testNodeConfig 测试用节点参数：发射节拍拉到最快（判决基于回环
// 介质的虚拟时钟，与真实节拍无关），巡检周期压短，网格周期性发现
// 拉长到只剩启动时的立即一轮。
func testNodeConfig(id string, visual, audio bool) Config {
	cfg := DefaultConfig(id)
	cfg.Visual.Enabled = visual
	cfg.Audio.Enabled = audio
	cfg.Visual.BitsPerSecond = 30000
	cfg.Audio.BitsPerSecond = 30000
	cfg.TickInterval = 20 * time.Millisecond
	cfg.Mesh.DiscoveryInterval = time.Hour
	return cfg
}

// inbox 线程安全的送达收集器
type inbox struct {
	mu   sync.Mutex
	msgs []Message
}

func (b *inbox) add(m Message) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

func (b *inbox) find(content string) (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.msgs {
		if m.Content == content {
			return m, true
		}
	}
	return Message{}, false
}

type nopTransmitter struct{}

func (nopTransmitter) TransmitVisual(signal.RGB) {}
func (nopTransmitter) TransmitAudio(float64)     {}

func TestNewNodeValidation(t *testing.T) {
	t.Run("节点标识必填", func(t *testing.T) {
		cfg := DefaultConfig("")
		_, err := NewNode(cfg, nil, nil)
		require.Error(t, err)
	})
	t.Run("至少启用一条通道", func(t *testing.T) {
		cfg := DefaultConfig("node-x")
		cfg.Visual.Enabled = false
		cfg.Audio.Enabled = false
		_, err := NewNode(cfg, nil, nil)
		require.Error(t, err)
	})
	t.Run("未知冗余模式", func(t *testing.T) {
		cfg := DefaultConfig("node-x")
		cfg.FEC.Mode = "turbo"
		_, err := NewNode(cfg, nil, nil)
		require.Error(t, err)
	})
}

func TestFailureClass(t *testing.T) {
	assert.Equal(t, "checksum", failureClass("checksum mismatch: want 2 got 5"))
	assert.Equal(t, "redundancy", failureClass("redundancy check failed"))
	assert.Equal(t, "overflow", failureClass("sequence too long"))
	assert.Equal(t, "framing", failureClass("no start marker"))
}

func TestEmitFrameRequiresTransmitterAndChannel(t *testing.T) {
	n, err := NewNode(testNodeConfig("node-x", true, false), zap.NewNop(), nil)
	require.NoError(t, err)

	assert.False(t, n.EmitFrame([]byte("Hi")), "未安装发射器时拒绝")

	n.SetTransmitter(nopTransmitter{})
	require.True(t, n.Modes().SetMode(mode.ModeNone))
	assert.False(t, n.EmitFrame([]byte("Hi")), "无激活通道时拒绝")
}

func TestOversizedPayloadRejected(t *testing.T) {
	cfg := testNodeConfig("node-x", true, false)
	cfg.FEC.Mode = fec.ModeNone
	n, err := NewNode(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	n.SetTransmitter(nopTransmitter{})

	assert.False(t, n.EmitFrame(make([]byte, 300)), "超出单帧载荷上限")
	assert.True(t, n.EmitFrame(make([]byte, 255)), "恰好落在上限内")
}

func TestSendTextValidation(t *testing.T) {
	n, err := NewNode(testNodeConfig("node-x", true, false), zap.NewNop(), nil)
	require.NoError(t, err)
	n.SetTransmitter(nopTransmitter{})

	assert.False(t, n.SendText("", "hello"))
	assert.False(t, n.SendText("node-y", ""))
	assert.False(t, n.SendText("ghost", "hello"), "无路由且无直连对等体")
	assert.Equal(t, uint64(1), n.Mesh().Counters().RoutingFailures)
}

func TestNodeLifecycle(t *testing.T) {
	n, err := NewNode(testNodeConfig("node-x", true, true), zap.NewNop(), nil)
	require.NoError(t, err)
	n.SetTransmitter(nopTransmitter{})
	require.Equal(t, mode.ModeBoth, n.Modes().Current(), "双通道理想质量下初始为 both")

	n.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	assert.Greater(t, n.Uptime(), time.Duration(0))
	n.Stop()

	st := n.Stats()
	require.NotNil(t, st.Visual)
	require.NotNil(t, st.Audio)
	assert.Equal(t, mode.ModeBoth, st.Mode)
}

// 视觉通道裸帧回环：绕过网格与分片直接发射。节点启动时网格会广播
// 发现消息，其 JSON 在带内标记的视觉通道上必然损毁并可能把状态机
// 拖进垃圾收集，所以按真实有损链路的用法重试发射直到对端听到。
func TestLoopbackVisualPlainFrame(t *testing.T) {
	cfgA := testNodeConfig("node-a", true, false)
	cfgA.FEC.Mode = fec.ModeNone
	cfgA.AutoSwitch = false
	cfgB := testNodeConfig("node-b", true, false)
	cfgB.FEC.Mode = fec.ModeNone
	cfgB.AutoSwitch = false

	a, err := NewNode(cfgA, zap.NewNop(), nil)
	require.NoError(t, err)
	b, err := NewNode(cfgB, zap.NewNop(), nil)
	require.NoError(t, err)

	var got inbox
	b.OnMessage(got.add)

	NewLoopback(DefaultLoopbackConfig()).Join(a, b)

	ctx := context.Background()
	a.Start(ctx)
	b.Start(ctx)
	defer a.Stop()
	defer b.Stop()

	require.Eventually(t, func() bool {
		a.EmitFrame([]byte("Hi"))
		_, ok := got.find("Hi")
		return ok
	}, 15*time.Second, 150*time.Millisecond, "裸帧未能穿过视觉回环")

	msg, ok := got.find("Hi")
	require.True(t, ok)
	assert.Empty(t, msg.From, "链路层裸帧没有网格源头")
	assert.Equal(t, "utf-8", msg.Encoding)
	assert.NotEmpty(t, msg.ID)

	st := b.Stats()
	require.NotNil(t, st.Visual)
	assert.Nil(t, st.Audio)
	assert.GreaterOrEqual(t, st.Visual.Decoded, uint64(1))
}

// 音频通道全链路：两个节点经回环介质互相发现，再经网格送达一条
// 多分片的 UTF-8 文本。音频标记音在带外，任意字节都能透明通过。
func TestLoopbackAudioMeshExchange(t *testing.T) {
	a, err := NewNode(testNodeConfig("node-a", false, true), zap.NewNop(), nil)
	require.NoError(t, err)
	b, err := NewNode(testNodeConfig("node-b", false, true), zap.NewNop(), nil)
	require.NoError(t, err)

	var got inbox
	b.OnMessage(got.add)

	NewLoopback(DefaultLoopbackConfig()).Join(a, b)

	ctx := context.Background()
	a.Start(ctx)
	b.Start(ctx)
	defer a.Stop()
	defer b.Stop()

	require.Eventually(t, func() bool {
		return len(a.Mesh().Peers()) > 0 && len(b.Mesh().Peers()) > 0
	}, 15*time.Second, 100*time.Millisecond, "对等体互相发现超时")
	require.Equal(t, "node-b", a.Mesh().Peers()[0].ID)
	require.Equal(t, "node-a", b.Mesh().Peers()[0].ID)

	text := "你好，拨号这端已经听见 📞"
	require.True(t, a.SendText("node-b", text))

	require.Eventually(t, func() bool {
		_, ok := got.find(text)
		return ok
	}, 15*time.Second, 100*time.Millisecond, "网格消息未送达")

	msg, _ := got.find(text)
	assert.Equal(t, "node-a", msg.From)

	st := b.Stats()
	assert.GreaterOrEqual(t, st.Mesh.Delivered, uint64(1))
	assert.GreaterOrEqual(t, st.Reassembled, uint64(2), "发现与数据消息都经过分片重组")
}

// 双通道节点互发网格流量：视觉通道的带内标记被 JSON 字节污染，
// 误码率拉满后模式控制器把两端都降级到纯音频，消息照常送达。
func TestVisualPoisoningDemotesToAudio(t *testing.T) {
	a, err := NewNode(testNodeConfig("node-a", true, true), zap.NewNop(), nil)
	require.NoError(t, err)
	b, err := NewNode(testNodeConfig("node-b", true, true), zap.NewNop(), nil)
	require.NoError(t, err)

	var got inbox
	b.OnMessage(got.add)

	NewLoopback(DefaultLoopbackConfig()).Join(a, b)

	ctx := context.Background()
	a.Start(ctx)
	b.Start(ctx)
	defer a.Stop()
	defer b.Stop()

	require.Eventually(t, func() bool {
		return a.Modes().Current() == mode.ModeAudio && b.Modes().Current() == mode.ModeAudio
	}, 15*time.Second, 100*time.Millisecond, "视觉通道未被降级")

	assert.GreaterOrEqual(t, a.Modes().Switches(), uint64(2), "初始选择加一次降级")
	vq := b.Modes().ChannelQuality()[mode.ModeVisual]
	assert.Greater(t, vq.ErrorRate, 0.3, "视觉误码率应超过可用门限")

	require.Eventually(t, func() bool {
		return len(a.Mesh().Peers()) > 0 && len(b.Mesh().Peers()) > 0
	}, 15*time.Second, 100*time.Millisecond, "音频通道上的发现未完成")

	text := "downgrade survived"
	require.True(t, a.SendText("node-b", text))
	require.Eventually(t, func() bool {
		_, ok := got.find(text)
		return ok
	}, 15*time.Second, 100*time.Millisecond, "降级后消息未送达")
}
