package nat

import "time"

// ============================================================================
//                              配置
// ============================================================================

// ServerConfig 回拨服务端配置
type ServerConfig struct {
	// MaxRequestsPerPeer 速率窗口内单个节点的最大请求数
	MaxRequestsPerPeer int

	// RateLimitWindow 速率限制窗口
	RateLimitWindow time.Duration

	// RateLimitCacheSize 速率限制缓存的最大节点数
	RateLimitCacheSize int

	// DialTimeout 整个回拨过程的超时
	DialTimeout time.Duration

	// DialAttempts 每个候选地址的拨号尝试次数
	DialAttempts int

	// MaxMessageSize 单条请求的最大字节数
	MaxMessageSize int
}

// DefaultServerConfig 返回默认服务端配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestsPerPeer: 10,
		RateLimitWindow:    time.Minute,
		RateLimitCacheSize: 4096,
		DialTimeout:        15 * time.Second,
		DialAttempts:       1,
		MaxMessageSize:     4096,
	}
}

// Validate 校验并修正配置
func (c *ServerConfig) Validate() error {
	def := DefaultServerConfig()

	if c.MaxRequestsPerPeer <= 0 {
		c.MaxRequestsPerPeer = def.MaxRequestsPerPeer
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = def.RateLimitWindow
	}
	if c.RateLimitCacheSize <= 0 {
		c.RateLimitCacheSize = def.RateLimitCacheSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = def.DialAttempts
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	return nil
}

// ClientConfig 探测客户端配置
type ClientConfig struct {
	// RequestTimeout 单次探测的超时
	RequestTimeout time.Duration
}

// DefaultClientConfig 返回默认客户端配置
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout: 30 * time.Second,
	}
}

// Validate 校验并修正配置
func (c *ClientConfig) Validate() error {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultClientConfig().RequestTimeout
	}
	return nil
}
