package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jpt262/dialup/internal/fragment"
	"github.com/jpt262/dialup/internal/mesh"
	"github.com/jpt262/dialup/internal/metrics"
	"github.com/jpt262/dialup/internal/mode"
	"github.com/jpt262/dialup/internal/protocol/fec"
	"github.com/jpt262/dialup/internal/protocol/framing"
	"github.com/jpt262/dialup/internal/protocol/symbol"
	"github.com/jpt262/dialup/internal/signal"
)

// Transmitter 把符号渲染到物理介质上（屏幕色块、扬声器音调）。
// 由发射泵按节拍串行调用，实现方不必考虑并发。
type Transmitter interface {
	TransmitVisual(color signal.RGB)
	TransmitAudio(frequency float64)
}

// VisualChannelConfig 视觉通道参数
type VisualChannelConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// BitsPerSecond 发射速率，符号节拍 = BitsPerSecond / 3
	BitsPerSecond float64             `mapstructure:"bits_per_second"`
	Signal        signal.VisualConfig `mapstructure:"signal"`
	Framing       framing.Config      `mapstructure:"framing"`
}

// AudioChannelConfig 音频通道参数
type AudioChannelConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	BitsPerSecond float64             `mapstructure:"bits_per_second"`
	Signal        signal.AudioConfig  `mapstructure:"signal"`
	Framing       framing.Config      `mapstructure:"framing"`
}

// FragmentConfig 分片层参数
type FragmentConfig struct {
	MaxPayload int           `mapstructure:"max_payload"`
	MaxSeq     int           `mapstructure:"max_seq"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Config 节点参数
type Config struct {
	NodeID   string
	Visual   VisualChannelConfig  `mapstructure:"visual"`
	Audio    AudioChannelConfig   `mapstructure:"audio"`
	FEC      fec.Config           `mapstructure:"fec"`
	Fragment FragmentConfig       `mapstructure:"fragment"`
	Mesh     mesh.Config          `mapstructure:"mesh"`
	Mode     mode.Config          `mapstructure:"mode"`
	// AutoSwitch 按链路质量自动切换信道模式
	AutoSwitch   bool          `mapstructure:"auto_switch"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	TxQueueSize  int           `mapstructure:"tx_queue_size"`
}

// DefaultConfig 默认节点参数。视觉 20 bit/s、音频 30 bit/s 与
// 各自的符号周期对应；hamming 模式会使载荷翻倍，max_payload
// 需相应压到 32 以内，默认的 reed-solomon 不受此限。
func DefaultConfig(nodeID string) Config {
	visualFraming := framing.DefaultConfig(string(mode.ModeVisual))
	audioFraming := framing.DefaultConfig(string(mode.ModeAudio))
	audioFraming.SymbolPeriod = 100 * time.Millisecond
	return Config{
		NodeID: nodeID,
		Visual: VisualChannelConfig{
			Enabled:       true,
			BitsPerSecond: 20,
			Signal:        signal.DefaultVisualConfig(),
			Framing:       visualFraming,
		},
		Audio: AudioChannelConfig{
			Enabled:       true,
			BitsPerSecond: 30,
			Signal:        signal.DefaultAudioConfig(),
			Framing:       audioFraming,
		},
		FEC:          fec.Config{Mode: fec.ModeReedSolomon, Strength: fec.DefaultStrength},
		Fragment:     FragmentConfig{MaxPayload: fragment.DefaultMaxPayload, MaxSeq: fragment.DefaultMaxSeq, Timeout: fragment.DefaultTimeout},
		Mesh:         mesh.DefaultConfig(nodeID),
		Mode:         mode.DefaultConfig(),
		AutoSwitch:   true,
		TickInterval: 100 * time.Millisecond,
		TxQueueSize:  32,
	}
}

// txJob 一帧待发射载荷
type txJob struct {
	channel  mode.Mode
	envelope []byte
}

// visualChannel 一条视觉收发通道。判决器非并发安全，互斥锁把
// 采样路径与定时巡检的质量读取隔开。
type visualChannel struct {
	mu         sync.Mutex
	classifier *signal.VisualClassifier
	codec      *fec.Codec
	fsm        *framing.StateMachine
	limiter    *rate.Limiter
	threshold  float64
}

// audioChannel 一条音频收发通道
type audioChannel struct {
	mu           sync.Mutex
	classifier   *signal.AudioClassifier
	codec        *fec.Codec
	fsm          *framing.StateMachine
	limiter      *rate.Limiter
	maxAmplitude float64
}

// qualityTracker 增量跟踪一条通道的采样与解码结果，
// 没有新观测时保持上一次的估计。
type qualityTracker struct {
	lastSamples uint64
	lastDecoded uint64
	lastFailed  uint64
	errorRate   float64
}

func (q *qualityTracker) observe(samples uint64, s framing.Stats) bool {
	fresh := false
	if samples > q.lastSamples {
		q.lastSamples = samples
		fresh = true
	}
	d := s.Decoded - q.lastDecoded
	f := s.Failed - q.lastFailed
	if d+f > 0 {
		q.errorRate = float64(f) / float64(d+f)
		q.lastDecoded, q.lastFailed = s.Decoded, s.Failed
		fresh = true
	}
	return fresh
}

// Node 链路节点：把判决器、帧状态机、冗余编解码、分片重组、
// 模式控制与网格网络装配成一条完整收发管线。发射侧与每条接收
// 通道各持独立的冗余编解码器，避免自适应窗口跨 goroutine 竞争。
type Node struct {
	cfg  Config
	log  *zap.Logger
	appm *metrics.AppMetrics

	visual *visualChannel
	audio  *audioChannel

	fecTx *fec.Codec
	seq   *fragment.Sequencer
	asm   *fragment.Assembler
	modes *mode.Controller
	mesh  *mesh.Manager

	tx  Transmitter
	txq chan txJob

	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	onMessage    func(Message)
	onStatus     func(framing.StatusEvent)
	onModeChange func(prev, cur mode.Mode)

	// 仅定时巡检 goroutine 触碰
	visualQuality qualityTracker
	audioQuality  qualityTracker
	lastRelayed   uint64
}

// NewNode 构造节点。appm 可为 nil 表示不上报指标。
func NewNode(cfg Config, log *zap.Logger, appm *metrics.AppMetrics) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("gateway: node id required")
	}
	if !cfg.Visual.Enabled && !cfg.Audio.Enabled {
		return nil, errors.New("gateway: at least one channel required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig(cfg.NodeID)
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.TxQueueSize <= 0 {
		cfg.TxQueueSize = def.TxQueueSize
	}
	if cfg.FEC.Mode == "" {
		cfg.FEC.Mode = fec.ModeNone
	}
	if cfg.Visual.BitsPerSecond <= 0 {
		cfg.Visual.BitsPerSecond = def.Visual.BitsPerSecond
	}
	if cfg.Audio.BitsPerSecond <= 0 {
		cfg.Audio.BitsPerSecond = def.Audio.BitsPerSecond
	}
	if cfg.Visual.Signal.Threshold <= 0 {
		cfg.Visual.Signal.Threshold = signal.DefaultVisualConfig().Threshold
	}
	if cfg.Audio.Signal.MaxAmplitude <= 0 {
		cfg.Audio.Signal.MaxAmplitude = signal.DefaultAudioConfig().MaxAmplitude
	}

	n := &Node{cfg: cfg, log: log, appm: appm}

	fecTx, err := fec.New(cfg.FEC)
	if err != nil {
		return nil, err
	}
	n.fecTx = fecTx

	if cfg.Visual.Enabled {
		codec, err := fec.New(cfg.FEC)
		if err != nil {
			return nil, err
		}
		fcfg := cfg.Visual.Framing
		fcfg.Channel = string(mode.ModeVisual)
		ch := &visualChannel{
			classifier: signal.NewVisualClassifier(cfg.Visual.Signal),
			codec:      codec,
			fsm:        framing.New(fcfg, codec),
			limiter:    rate.NewLimiter(rate.Limit(cfg.Visual.BitsPerSecond/symbol.BitsPerSymbol), 1),
			threshold:  cfg.Visual.Signal.Threshold,
		}
		ch.fsm.OnMessage(n.onFrame)
		ch.fsm.OnStatus(n.onStatusEvent)
		n.visual = ch
	}
	if cfg.Audio.Enabled {
		codec, err := fec.New(cfg.FEC)
		if err != nil {
			return nil, err
		}
		fcfg := cfg.Audio.Framing
		fcfg.Channel = string(mode.ModeAudio)
		ch := &audioChannel{
			classifier:   signal.NewAudioClassifier(cfg.Audio.Signal),
			codec:        codec,
			fsm:          framing.New(fcfg, codec),
			limiter:      rate.NewLimiter(rate.Limit(cfg.Audio.BitsPerSecond/symbol.BitsPerSymbol), 1),
			maxAmplitude: cfg.Audio.Signal.MaxAmplitude,
		}
		ch.fsm.OnMessage(n.onFrame)
		ch.fsm.OnStatus(n.onStatusEvent)
		n.audio = ch
	}

	n.seq = fragment.NewSequencer(cfg.Fragment.MaxPayload, cfg.Fragment.MaxSeq)
	n.asm = fragment.NewAssembler(cfg.Fragment.Timeout)

	mcfg := cfg.Mode
	mcfg.VisualEnabled = cfg.Visual.Enabled
	mcfg.AudioEnabled = cfg.Audio.Enabled
	n.modes = mode.New(mcfg)
	// 上电先定一次初始模式，再挂回调，静默完成首次选择
	n.modes.SelectOptimalMode()
	n.modes.OnModeChange(func(prev, cur mode.Mode, _ mode.Capability) {
		log.Info("channel mode switched",
			zap.String("from", string(prev)), zap.String("to", string(cur)))
		if appm != nil {
			appm.ModeSwitches.Inc()
		}
		if n.onModeChange != nil {
			n.onModeChange(prev, cur)
		}
	})

	meshCfg := cfg.Mesh
	meshCfg.NodeID = cfg.NodeID
	mm, err := mesh.NewManager(meshCfg, log, n)
	if err != nil {
		return nil, err
	}
	n.mesh = mm
	mm.OnMessage(n.onMeshDelivery)

	n.txq = make(chan txJob, cfg.TxQueueSize)
	return n, nil
}

// SetTransmitter 安装物理发射器，必须在 Start 之前调用
func (n *Node) SetTransmitter(t Transmitter) { n.tx = t }

// OnMessage 注册消息送达回调，每个节点只有一个
func (n *Node) OnMessage(fn func(Message)) { n.onMessage = fn }

// OnStatus 注册帧状态回调，每个节点只有一个
func (n *Node) OnStatus(fn func(framing.StatusEvent)) { n.onStatus = fn }

// OnModeChange 注册模式切换回调，在内部日志与指标之后触发
func (n *Node) OnModeChange(fn func(prev, cur mode.Mode)) { n.onModeChange = fn }

// ID 本节点标识
func (n *Node) ID() string { return n.cfg.NodeID }

// Mesh 网格网络管理器
func (n *Node) Mesh() *mesh.Manager { return n.mesh }

// Modes 信道模式控制器
func (n *Node) Modes() *mode.Controller { return n.modes }

// Uptime 自 Start 起经过的时长
func (n *Node) Uptime() time.Duration {
	if n.startedAt.IsZero() {
		return 0
	}
	return time.Since(n.startedAt)
}

// Start 启动发射泵、定时巡检与网格网络
func (n *Node) Start(ctx context.Context) {
	n.startedAt = time.Now()
	ctx, n.cancel = context.WithCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.pump(ctx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(n.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				n.tick(now)
			}
		}
	}()

	n.mesh.Start(ctx)
	n.log.Info("node started",
		zap.String("node_id", n.cfg.NodeID),
		zap.Bool("visual", n.visual != nil),
		zap.Bool("audio", n.audio != nil),
		zap.String("mode", string(n.modes.Current())))
}

// Stop 先停网格再停本地管线
func (n *Node) Stop() {
	n.mesh.Stop()
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.log.Info("node stopped", zap.String("node_id", n.cfg.NodeID))
}

// SendText 把文本经网格网络送往目标节点
func (n *Node) SendText(dest, text string) bool {
	if dest == "" || text == "" {
		return false
	}
	return n.mesh.SendMessage([]byte(text), dest)
}

// Send 把一条网格消息发射到物理介质上。屏幕与扬声器天然是广播介质，
// 没有物理寻址，邻居选择只存在于网格层。
func (n *Node) Send(peerID string, msg mesh.Message) bool {
	raw, err := msg.Encode()
	if err != nil {
		n.log.Error("mesh message encode failed", zap.Error(err))
		return false
	}
	units := n.seq.Split(raw)
	envs := make([][]byte, 0, len(units))
	for _, u := range units {
		env, err := json.Marshal(u)
		if err != nil {
			n.log.Error("unit envelope marshal failed", zap.Error(err))
			return false
		}
		envs = append(envs, env)
	}
	return n.enqueue(envs)
}

// EmitFrame 绕过网格与分片封装，把载荷直接作为单帧发射。
// 链路调试与校准用，接收侧按裸链路消息上抛。
func (n *Node) EmitFrame(payload []byte) bool {
	return n.enqueue([][]byte{payload})
}

func (n *Node) enqueue(envs [][]byte) bool {
	if n.tx == nil {
		return false
	}
	chans := n.activeChannels()
	if len(chans) == 0 {
		n.log.Debug("transmit skipped, no active channel")
		return false
	}
	for _, env := range envs {
		if n.fecTx.EncodedLen(len(env)) > symbol.MaxPayloadLen {
			n.log.Warn("unit exceeds frame capacity",
				zap.Int("bytes", len(env)), zap.Int("encoded", n.fecTx.EncodedLen(len(env))))
			return false
		}
	}
	for _, env := range envs {
		for _, ch := range chans {
			select {
			case n.txq <- txJob{channel: ch, envelope: env}:
			default:
				if n.appm != nil {
					n.appm.TxDropped.Inc()
				}
				n.log.Warn("transmit queue full, frame dropped", zap.String("channel", string(ch)))
				return false
			}
		}
	}
	return true
}

// activeChannels 当前模式下实际可用的发射通道
func (n *Node) activeChannels() []mode.Mode {
	switch n.modes.Current() {
	case mode.ModeVisual:
		if n.visual != nil {
			return []mode.Mode{mode.ModeVisual}
		}
	case mode.ModeAudio:
		if n.audio != nil {
			return []mode.Mode{mode.ModeAudio}
		}
	case mode.ModeBoth:
		var out []mode.Mode
		if n.visual != nil {
			out = append(out, mode.ModeVisual)
		}
		if n.audio != nil {
			out = append(out, mode.ModeAudio)
		}
		return out
	}
	return nil
}

// HandleVisualSample 喂入一个 RGB 采样。同一通道的采样须按时间顺序
// 由单一来源串行投递。
func (n *Node) HandleVisualSample(r, g, b float64, ts time.Time) {
	ch := n.visual
	if ch == nil {
		return
	}
	ch.mu.Lock()
	ev, ok := ch.classifier.Classify(r, g, b, ts)
	if !ok {
		ch.mu.Unlock()
		return
	}
	if n.appm != nil {
		n.appm.SymbolsTotal.WithLabelValues(string(mode.ModeVisual), "rx").Inc()
	}
	ch.fsm.Feed(ev)
	ch.mu.Unlock()
}

// HandleAudioSample 喂入一帧频谱采样
func (n *Node) HandleAudioSample(bins []float64, sampleRate float64, ts time.Time) {
	ch := n.audio
	if ch == nil {
		return
	}
	ch.mu.Lock()
	ev, ok := ch.classifier.Classify(bins, sampleRate, ts)
	if !ok {
		ch.mu.Unlock()
		return
	}
	if n.appm != nil {
		n.appm.SymbolsTotal.WithLabelValues(string(mode.ModeAudio), "rx").Inc()
	}
	ch.fsm.Feed(ev)
	ch.mu.Unlock()
}

// onFrame 一帧解码完成。载荷优先按传输单元信封解析并走分片重组，
// 不是信封的按链路裸消息直接上抛。
func (n *Node) onFrame(d framing.Decoded) {
	if n.appm != nil {
		n.appm.FramesDecoded.WithLabelValues(d.Channel).Inc()
	}
	if d.LengthMismatch {
		n.log.Warn("frame length mismatch",
			zap.String("channel", d.Channel),
			zap.Int("declared", d.DeclaredLen),
			zap.Int("actual", len(d.Payload)))
	}
	var u fragment.Unit
	if err := json.Unmarshal(d.Payload, &u); err != nil || u.Count < 1 {
		n.deliver(Message{
			ID:       uuid.NewString(),
			Content:  string(d.Payload),
			Encoding: "utf-8",
			Received: time.Now(),
			From:     "",
		})
		return
	}
	raw, done := n.asm.Add(u)
	if !done {
		return
	}
	n.onReassembled(raw)
}

// onReassembled 一条完整消息重组完成，优先按网格信封处理
func (n *Node) onReassembled(raw []byte) {
	msg, err := mesh.DecodeMessage(raw)
	if err != nil {
		n.deliver(Message{
			ID:       uuid.NewString(),
			Content:  string(raw),
			Encoding: "utf-8",
			Received: time.Now(),
			From:     "",
		})
		return
	}
	n.mesh.ProcessMessage(msg, msg.Sender)
}

// onMeshDelivery 网格把一条应用消息送达本节点
func (n *Node) onMeshDelivery(origin string, payload []byte) {
	if n.appm != nil {
		n.appm.MeshDelivered.Inc()
	}
	n.deliver(Message{
		ID:       uuid.NewString(),
		Content:  string(payload),
		Encoding: "utf-8",
		Received: time.Now(),
		From:     origin,
	})
}

func (n *Node) deliver(msg Message) {
	n.log.Info("message received",
		zap.String("from", msg.From), zap.Int("bytes", len(msg.Content)))
	if n.onMessage != nil {
		n.onMessage(msg)
	}
}

// onStatusEvent 帧状态变化：失败计数入指标，再转给外部订阅者
func (n *Node) onStatusEvent(ev framing.StatusEvent) {
	switch ev.Status {
	case framing.StatusError:
		if n.appm != nil {
			n.appm.FrameFailures.WithLabelValues(ev.Channel, failureClass(ev.Reason)).Inc()
		}
		n.log.Warn("frame decode failed",
			zap.String("channel", ev.Channel), zap.String("reason", ev.Reason))
	case framing.StatusTimeout:
		if n.appm != nil {
			n.appm.FrameFailures.WithLabelValues(ev.Channel, "timeout").Inc()
		}
		n.log.Debug("frame collection timed out", zap.String("channel", ev.Channel))
	}
	if n.onStatus != nil {
		n.onStatus(ev)
	}
}

// failureClass 把解码失败原因折叠成有限的指标标签集
func failureClass(reason string) string {
	switch {
	case strings.HasPrefix(reason, "checksum"):
		return "checksum"
	case reason == "redundancy check failed":
		return "redundancy"
	case reason == "sequence too long":
		return "overflow"
	default:
		return "framing"
	}
}

// pump 发射泵：串行消费发射队列，冗余与符号编码都在这里做，
// 发射侧编解码器因此无需加锁。
func (n *Node) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-n.txq:
			n.emit(ctx, job)
		}
	}
}

func (n *Node) emit(ctx context.Context, job txJob) {
	tx := n.tx
	if tx == nil {
		return
	}
	encoded := n.fecTx.Encode(job.envelope)
	frame, err := symbol.Encode(encoded)
	if err != nil {
		n.log.Warn("frame encode failed", zap.Error(err))
		return
	}
	elems, err := framing.Expand(frame)
	if err != nil {
		n.log.Warn("frame expand failed", zap.Error(err))
		return
	}

	switch job.channel {
	case mode.ModeVisual:
		ch := n.visual
		if ch == nil {
			return
		}
		for _, el := range framing.Stuff(elems, visualKey) {
			if err := ch.limiter.Wait(ctx); err != nil {
				return
			}
			tx.TransmitVisual(ch.classifier.Color(el.Symbol))
			if n.appm != nil {
				n.appm.SymbolsTotal.WithLabelValues(string(mode.ModeVisual), "tx").Inc()
			}
		}
	case mode.ModeAudio:
		ch := n.audio
		if ch == nil {
			return
		}
		for _, el := range framing.Stuff(elems, audioKey) {
			if err := ch.limiter.Wait(ctx); err != nil {
				return
			}
			freq := ch.classifier.SymbolFrequency(el.Symbol)
			if el.Marker != signal.MarkerNone {
				freq = ch.classifier.MarkerFrequency(el.Marker)
			}
			tx.TransmitAudio(freq)
			if n.appm != nil {
				n.appm.SymbolsTotal.WithLabelValues(string(mode.ModeAudio), "tx").Inc()
			}
		}
	default:
		return
	}
	if n.appm != nil {
		n.appm.FramesSent.WithLabelValues(string(job.channel)).Inc()
	}
}

// 去抖键域须与接收端一致：视觉的标记在带内，按符号值；
// 音频的带外标记音占字母表之外的独立键段。
func visualKey(e framing.Element) int { return int(e.Symbol) }

func audioKey(e framing.Element) int {
	if e.Marker != signal.MarkerNone {
		return 100 + int(e.Marker)
	}
	return int(e.Symbol)
}

// tick 单一定时巡检：帧超时、重组过期、质量估计、模式决策与指标
func (n *Node) tick(now time.Time) {
	if n.visual != nil {
		n.visual.fsm.Tick(now)
	}
	if n.audio != nil {
		n.audio.fsm.Tick(now)
	}
	n.asm.Sweep(now)
	n.updateQuality(now)
	if n.cfg.AutoSwitch {
		n.modes.SelectOptimalMode()
	}
	n.syncMetrics()
}

// updateQuality 由判决距离/幅度与解码结果刷新链路质量估计。
// 信噪比的尺度把判决匹配边界对准模式可用性门限；自上次巡检
// 没有任何新观测的通道保持原估计。
func (n *Node) updateQuality(now time.Time) {
	if ch := n.visual; ch != nil {
		ch.mu.Lock()
		matched, rejected := ch.classifier.Counters()
		dist := ch.classifier.LastDistance()
		ch.mu.Unlock()
		if n.visualQuality.observe(matched+rejected, ch.fsm.Stats()) {
			snr := n.cfg.Mode.VisualIdealSNR * (1 - dist/(2*ch.threshold))
			if snr < 0 {
				snr = 0
			}
			n.modes.UpdateChannelQuality(mode.ModeVisual, mode.Quality{
				SNR: snr, ErrorRate: n.visualQuality.errorRate, LastUpdate: now,
			})
		}
	}
	if ch := n.audio; ch != nil {
		ch.mu.Lock()
		matched, rejected := ch.classifier.Counters()
		mag := ch.classifier.LastMagnitude()
		ch.mu.Unlock()
		if n.audioQuality.observe(matched+rejected, ch.fsm.Stats()) {
			snr := n.cfg.Mode.AudioIdealSNR * mag / ch.maxAmplitude
			n.modes.UpdateChannelQuality(mode.ModeAudio, mode.Quality{
				SNR: snr, ErrorRate: n.audioQuality.errorRate, LastUpdate: now,
			})
		}
	}
}

func (n *Node) syncMetrics() {
	if n.appm == nil {
		return
	}
	n.appm.MeshPeers.Set(float64(len(n.mesh.Peers())))
	n.appm.MeshRoutes.Set(float64(len(n.mesh.Routes())))
	c := n.mesh.Counters()
	if c.Relayed > n.lastRelayed {
		n.appm.MeshRelayed.Add(float64(c.Relayed - n.lastRelayed))
		n.lastRelayed = c.Relayed
	}
	n.appm.FecStrength.Set(float64(n.fecStrength()))
}

// fecStrength 接收侧当前冗余强度（自适应时随链路波动）
func (n *Node) fecStrength() int {
	if ch := n.visual; ch != nil {
		ch.mu.Lock()
		s := ch.codec.Strength()
		ch.mu.Unlock()
		return s
	}
	if ch := n.audio; ch != nil {
		ch.mu.Lock()
		s := ch.codec.Strength()
		ch.mu.Unlock()
		return s
	}
	return n.fecTx.Strength()
}

// Stats 节点运行统计快照
type Stats struct {
	Visual            *framing.Stats `json:"visual,omitempty"`
	Audio             *framing.Stats `json:"audio,omitempty"`
	Reassembled       uint64         `json:"reassembled"`
	ReassemblyExpired uint64         `json:"reassembly_expired"`
	Mesh              mesh.Counters  `json:"mesh"`
	Mode              mode.Mode      `json:"mode"`
	ModeSwitches      uint64         `json:"mode_switches"`
	FecStrength       int            `json:"fec_strength"`
}

// Stats 汇总各层计数
func (n *Node) Stats() Stats {
	s := Stats{
		Mesh:         n.mesh.Counters(),
		Mode:         n.modes.Current(),
		ModeSwitches: n.modes.Switches(),
		FecStrength:  n.fecStrength(),
	}
	if n.visual != nil {
		v := n.visual.fsm.Stats()
		s.Visual = &v
	}
	if n.audio != nil {
		a := n.audio.fsm.Stats()
		s.Audio = &a
	}
	s.Reassembled, s.ReassemblyExpired = n.asm.Counters()
	return s
}
