package meshsub

import (
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshsub/internal/core/gossip"
	"github.com/dep2p/go-meshsub/internal/core/nat"
	"github.com/dep2p/go-meshsub/pkg/interfaces"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// Mesh 配置
	mesh struct {
		d, dlo, dhi int
	}

	// 心跳配置
	heartbeat struct {
		interval     time.Duration
		initialDelay *time.Duration
	}

	// 消息配置
	maxMessageSize int

	// 随机种子（固定种子时候选选择完全确定）
	seed int64

	// AutoNAT 配置
	autonat struct {
		enable       bool
		dialer       interfaces.Dialer
		maxRequests  int
		rateWindow   time.Duration
		dialTimeout  time.Duration
		attempts     int
		probeTimeout time.Duration
	}

	// fxOptions 附加的 fx 选项（测试与扩展用）
	fxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	o := &options{}
	o.autonat.enable = true
	return o
}

// toGossipConfig 转换为路由引擎配置
func (o *options) toGossipConfig() *gossip.Config {
	cfg := gossip.DefaultConfig()

	if o.mesh.d > 0 {
		cfg.D = o.mesh.d
		cfg.Dlo = o.mesh.dlo
		cfg.Dhi = o.mesh.dhi
		cfg.Dlazy = o.mesh.d
	}
	if o.heartbeat.interval > 0 {
		cfg.HeartbeatInterval = o.heartbeat.interval
	}
	if o.heartbeat.initialDelay != nil {
		cfg.HeartbeatInitialDelay = *o.heartbeat.initialDelay
	}
	if o.maxMessageSize > 0 {
		cfg.MaxMessageSize = o.maxMessageSize
	}
	cfg.Seed = o.seed

	return cfg
}

// toServerConfig 转换为回拨服务端配置
func (o *options) toServerConfig() *nat.ServerConfig {
	cfg := nat.DefaultServerConfig()

	if o.autonat.maxRequests > 0 {
		cfg.MaxRequestsPerPeer = o.autonat.maxRequests
	}
	if o.autonat.rateWindow > 0 {
		cfg.RateLimitWindow = o.autonat.rateWindow
	}
	if o.autonat.dialTimeout > 0 {
		cfg.DialTimeout = o.autonat.dialTimeout
	}
	if o.autonat.attempts > 0 {
		cfg.DialAttempts = o.autonat.attempts
	}

	return cfg
}

// toClientConfig 转换为探测客户端配置
func (o *options) toClientConfig() *nat.ClientConfig {
	cfg := nat.DefaultClientConfig()

	if o.autonat.probeTimeout > 0 {
		cfg.RequestTimeout = o.autonat.probeTimeout
	}

	return cfg
}

// ============================================================================
//                              路由引擎选项
// ============================================================================

// WithMeshDegree 设置每主题的 mesh 大小水位线
//
// d 为目标大小，dlo/dhi 为心跳维护的下/上水位。
func WithMeshDegree(d, dlo, dhi int) Option {
	return func(o *options) error {
		if d <= 0 || dlo <= 0 || dlo > d || dhi < d {
			return fmt.Errorf("meshsub: invalid mesh degree (d=%d dlo=%d dhi=%d)", d, dlo, dhi)
		}
		o.mesh.d = d
		o.mesh.dlo = dlo
		o.mesh.dhi = dhi
		return nil
	}
}

// WithHeartbeat 设置心跳间隔与首次心跳延迟
func WithHeartbeat(interval, initialDelay time.Duration) Option {
	return func(o *options) error {
		if interval <= 0 {
			return fmt.Errorf("meshsub: heartbeat interval must be positive, got %v", interval)
		}
		o.heartbeat.interval = interval
		o.heartbeat.initialDelay = &initialDelay
		return nil
	}
}

// WithMaxMessageSize 设置单条消息的最大字节数
func WithMaxMessageSize(n int) Option {
	return func(o *options) error {
		o.maxMessageSize = n
		return nil
	}
}

// WithSeed 设置候选选择的随机种子
//
// 固定种子时 mesh 候选选择完全确定，用于测试与复现。
func WithSeed(seed int64) Option {
	return func(o *options) error {
		o.seed = seed
		return nil
	}
}

// ============================================================================
//                              AutoNAT 选项
// ============================================================================

// WithDialer 设置回拨拨号器
//
// 未设置时回拨服务对所有请求应答 E_INTERNAL_ERROR。
func WithDialer(dialer interfaces.Dialer) Option {
	return func(o *options) error {
		o.autonat.dialer = dialer
		return nil
	}
}

// WithDialBackLimit 设置回拨服务的每节点速率限制
func WithDialBackLimit(maxRequests int, window time.Duration) Option {
	return func(o *options) error {
		o.autonat.maxRequests = maxRequests
		o.autonat.rateWindow = window
		return nil
	}
}

// WithDialBackTimeout 设置单次回拨的超时与每地址尝试次数
func WithDialBackTimeout(timeout time.Duration, attempts int) Option {
	return func(o *options) error {
		o.autonat.dialTimeout = timeout
		o.autonat.attempts = attempts
		return nil
	}
}

// WithProbeTimeout 设置可达性探测的整体超时
func WithProbeTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		o.autonat.probeTimeout = timeout
		return nil
	}
}

// WithoutAutoNAT 关闭 AutoNAT 回拨服务
func WithoutAutoNAT() Option {
	return func(o *options) error {
		o.autonat.enable = false
		return nil
	}
}

// ============================================================================
//                              扩展选项
// ============================================================================

// WithFxOptions 注入附加的 fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
