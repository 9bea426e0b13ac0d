package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jpt262/dialup/internal/gateway"
	"github.com/jpt262/dialup/internal/mesh"
	"github.com/jpt262/dialup/internal/mode"
	"github.com/jpt262/dialup/internal/protocol/fec"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	// APIKey 非空时 /api 下的接口要求 X-API-Key 匹配
	APIKey string    `mapstructure:"apiKey"`
	Pprof  HTTPPprof `mapstructure:"pprof"`
}

// HTTPPprof HTTP pprof 配置
type HTTPPprof struct {
	Enable bool   `mapstructure:"enable"`
	Prefix string `mapstructure:"prefix"`
}

// FeedConfig 采样馈送 TCP 服务配置。采集端（摄像头/麦克风前端）
// 通过该端口推送 JSON 行采样。
type FeedConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	MaxConnections int           `mapstructure:"maxConnections"`
	// MaxLineBytes 单行采样的字节上限，超长行直接断开
	MaxLineBytes int `mapstructure:"maxLineBytes"`
	// SamplesPerSecond 单连接采样限速，0 表示不限
	SamplesPerSecond float64 `mapstructure:"samplesPerSecond"`
	Burst            int     `mapstructure:"burst"`
}

// EmitterConfig 发射元素推送 TCP 服务配置。渲染端（屏幕/扬声器前端）
// 连上该端口后收到 JSON 行发射元素。地址为空表示不开发射推送。
type EmitterConfig struct {
	Addr           string        `mapstructure:"addr"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	MaxConnections int           `mapstructure:"maxConnections"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// NodeConfig 节点运行配置。ID 为空时启动期自动生成；
// Calibration 指向现场标定文件，空则使用默认调色板与音调表。
type NodeConfig struct {
	ID           string        `mapstructure:"id"`
	Calibration  string        `mapstructure:"calibration"`
	AutoSwitch   bool          `mapstructure:"autoSwitch"`
	TickInterval time.Duration `mapstructure:"tickInterval"`
	TxQueueSize  int           `mapstructure:"txQueueSize"`
}

// Config 顶层配置结构。visual/audio/fec/fragment/mesh/mode 段直接
// 落到各领域包的配置类型上，键名随其结构体标签。
type Config struct {
	App      AppConfig                   `mapstructure:"app"`
	HTTP     HTTPConfig                  `mapstructure:"http"`
	Feed     FeedConfig                  `mapstructure:"feed"`
	Emitter  EmitterConfig               `mapstructure:"emitter"`
	Logging  LoggingConfig               `mapstructure:"logging"`
	Metrics  MetricsConfig               `mapstructure:"metrics"`
	Node     NodeConfig                  `mapstructure:"node"`
	Visual   gateway.VisualChannelConfig `mapstructure:"visual"`
	Audio    gateway.AudioChannelConfig  `mapstructure:"audio"`
	FEC      fec.Config                  `mapstructure:"fec"`
	Fragment gateway.FragmentConfig      `mapstructure:"fragment"`
	Mesh     mesh.Config                 `mapstructure:"mesh"`
	Mode     mode.Config                 `mapstructure:"mode"`
}

// Gateway 把文件配置装配成节点配置。nodeID 由调用方解析
// （配置、环境变量或自动生成）后传入。
func (c *Config) Gateway(nodeID string) gateway.Config {
	return gateway.Config{
		NodeID:       nodeID,
		Visual:       c.Visual,
		Audio:        c.Audio,
		FEC:          c.FEC,
		Fragment:     c.Fragment,
		Mesh:         c.Mesh,
		Mode:         c.Mode,
		AutoSwitch:   c.Node.AutoSwitch,
		TickInterval: c.Node.TickInterval,
		TxQueueSize:  c.Node.TxQueueSize,
	}
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 DIALUP_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("DIALUP_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	// 默认值
	setDefaults(v)

	// 环境变量覆盖：前缀 DIALUP_，并将点号替换为下划线
	v.SetEnvPrefix("DIALUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if fmt.Sprintf("%T", err) != fmt.Sprintf("%T", notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dialup")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")
	v.SetDefault("http.apiKey", "")
	v.SetDefault("http.pprof.enable", false)
	v.SetDefault("http.pprof.prefix", "/debug/pprof")

	v.SetDefault("feed.addr", ":7000")
	v.SetDefault("feed.readTimeout", "90s")
	v.SetDefault("feed.maxConnections", 64)
	v.SetDefault("feed.maxLineBytes", 65536)
	v.SetDefault("feed.samplesPerSecond", 2000)
	v.SetDefault("feed.burst", 200)

	v.SetDefault("emitter.addr", "")
	v.SetDefault("emitter.writeTimeout", "5s")
	v.SetDefault("emitter.maxConnections", 8)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/dialup.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("node.id", "")
	v.SetDefault("node.calibration", "")
	v.SetDefault("node.autoSwitch", true)
	v.SetDefault("node.tickInterval", "100ms")
	v.SetDefault("node.txQueueSize", 32)

	v.SetDefault("visual.enabled", true)
	v.SetDefault("visual.bits_per_second", 20)
	v.SetDefault("visual.signal.threshold", 60)
	v.SetDefault("visual.signal.samples_required", 3)
	v.SetDefault("visual.signal.min_change_time", "80ms")
	v.SetDefault("visual.framing.maxSequenceLength", 2048)
	v.SetDefault("visual.framing.symbolPeriod", "150ms")
	v.SetDefault("visual.framing.timeoutMultiple", 20)

	v.SetDefault("audio.enabled", true)
	v.SetDefault("audio.bits_per_second", 30)
	v.SetDefault("audio.signal.base_frequency", 800)
	v.SetDefault("audio.signal.freq_shift", 200)
	v.SetDefault("audio.signal.start_freq", 400)
	v.SetDefault("audio.signal.sync_freq", 500)
	v.SetDefault("audio.signal.end_freq", 600)
	v.SetDefault("audio.signal.tolerance", 50)
	v.SetDefault("audio.signal.min_signal_strength", 0.15)
	v.SetDefault("audio.signal.max_amplitude", 255)
	v.SetDefault("audio.signal.samples_required", 3)
	v.SetDefault("audio.signal.min_change_time", "80ms")
	v.SetDefault("audio.framing.maxSequenceLength", 2048)
	v.SetDefault("audio.framing.symbolPeriod", "100ms")
	v.SetDefault("audio.framing.timeoutMultiple", 20)

	v.SetDefault("fec.mode", "reed-solomon")
	v.SetDefault("fec.strength", 2)
	v.SetDefault("fec.adaptive", false)

	v.SetDefault("fragment.max_payload", 48)
	v.SetDefault("fragment.max_seq", 65535)
	v.SetDefault("fragment.timeout", "30s")

	v.SetDefault("mesh.discovery_interval", "30s")
	v.SetDefault("mesh.route_timeout", "120s")
	v.SetDefault("mesh.dedup_ttl", "60s")
	v.SetDefault("mesh.route_refresh_window", "5s")
	v.SetDefault("mesh.ack_data", false)

	v.SetDefault("mode.visual_base_rate", 20)
	v.SetDefault("mode.audio_base_rate", 30)
	v.SetDefault("mode.visual_ideal_snr", 20)
	v.SetDefault("mode.audio_ideal_snr", 15)
}
