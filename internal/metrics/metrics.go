package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	FeedAccepted    prometheus.Counter     // 采样源 TCP 连接计数
	FeedSamples     *prometheus.CounterVec // labels: channel
	FeedParseErrors prometheus.Counter     // 采样行解析失败计数

	SymbolsTotal  *prometheus.CounterVec // labels: channel, direction=rx|tx
	FramesDecoded *prometheus.CounterVec // labels: channel
	FrameFailures *prometheus.CounterVec // labels: channel, reason
	FramesSent    *prometheus.CounterVec // labels: channel
	TxDropped     prometheus.Counter     // 发射队列满丢帧计数

	FecStrength prometheus.Gauge // 当前纠错强度

	MeshPeers     prometheus.Gauge   // 当前已知对等体数
	MeshRoutes    prometheus.Gauge   // 当前路由表项数
	MeshDelivered prometheus.Counter // 送达本节点的消息计数
	MeshRelayed   prometheus.Counter // 经本节点中继的消息计数

	ModeSwitches prometheus.Counter // 信道模式切换计数

	EventSubscribers prometheus.Gauge   // 当前事件流订阅者数
	EventsDropped    prometheus.Counter // 因订阅者过慢被丢弃的事件计数
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		FeedAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_accept_total",
			Help: "Total accepted sample feed connections.",
		}),
		FeedSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_samples_total",
			Help: "Sensor samples received over the feed by channel.",
		}, []string{"channel"}),
		FeedParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_parse_errors_total",
			Help: "Sample feed lines that failed to parse.",
		}),
		SymbolsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_symbols_total",
			Help: "Symbols classified or emitted by channel and direction.",
		}, []string{"channel", "direction"}),
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_frames_decoded_total",
			Help: "Frames decoded successfully by channel.",
		}, []string{"channel"}),
		FrameFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_frame_failures_total",
			Help: "Frame decode failures by channel and reason.",
		}, []string{"channel", "reason"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_frames_sent_total",
			Help: "Frames handed to the transmitter by channel.",
		}, []string{"channel"}),
		TxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_tx_dropped_total",
			Help: "Frames dropped because the transmit queue was full.",
		}),
		FecStrength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fec_strength",
			Help: "Current error correction strength.",
		}),
		MeshPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_peers",
			Help: "Currently known mesh peers.",
		}),
		MeshRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_routes",
			Help: "Current routing table entries.",
		}),
		MeshDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_delivered_total",
			Help: "Messages delivered to this node.",
		}),
		MeshRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_relayed_total",
			Help: "Messages relayed through this node.",
		}),
		ModeSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mode_switch_total",
			Help: "Channel mode switches.",
		}),
		EventSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "event_subscribers",
			Help: "Currently connected event stream subscribers.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Events dropped because a subscriber was too slow.",
		}),
	}
	reg.MustRegister(
		m.FeedAccepted, m.FeedSamples, m.FeedParseErrors,
		m.SymbolsTotal, m.FramesDecoded, m.FrameFailures, m.FramesSent, m.TxDropped,
		m.FecStrength,
		m.MeshPeers, m.MeshRoutes, m.MeshDelivered, m.MeshRelayed,
		m.ModeSwitches,
		m.EventSubscribers, m.EventsDropped,
	)
	return m
}
