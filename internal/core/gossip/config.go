// Package gossip 实现 gossip-mesh 路由协议引擎
package gossip

import (
	"time"
)

// ============================================================================
//                              引擎配置
// ============================================================================

// Config 路由引擎配置
//
// 所有水位线与时间参数均为配置而非协议常量：两端配置不同的 D
// 仍然可以互通。
type Config struct {
	// ==================== Mesh 水位线 ====================

	// D 每个主题的目标 mesh 大小
	D int

	// Dlo 最小 mesh 大小，低于此值心跳会补充 GRAFT
	Dlo int

	// Dhi 最大 mesh 大小，超过此值心跳会 PRUNE 到 D
	Dhi int

	// Dlazy gossip 目标数量（IHAVE 发送的非 mesh 订阅者数）
	Dlazy int

	// ==================== 时间参数 ====================

	// HeartbeatInterval 心跳间隔
	HeartbeatInterval time.Duration

	// HeartbeatInitialDelay 首次心跳延迟
	HeartbeatInitialDelay time.Duration

	// FanoutTTL fanout 条目未使用后的过期时间
	FanoutTTL time.Duration

	// SeenTTL 已见消息缓存时间
	SeenTTL time.Duration

	// HistoryLength 消息历史窗口数（心跳周期数）
	HistoryLength int

	// HistoryGossip 参与 gossip 的最近窗口数
	HistoryGossip int

	// ==================== GRAFT/PRUNE 参数 ====================

	// PruneBackoff 本节点 PRUNE 对端后通告的退避时长
	PruneBackoff time.Duration

	// UnsubscribeBackoff 取消订阅触发的 PRUNE 退避时长
	UnsubscribeBackoff time.Duration

	// MinBackoff 接受的最小退避时长（对端通告值的下限钳位）
	MinBackoff time.Duration

	// MaxBackoff 接受的最大退避时长（对端通告值的上限钳位）
	MaxBackoff time.Duration

	// PXPeersCount PRUNE 消息附带的候选替代节点数
	PXPeersCount int

	// ==================== 消息参数 ====================

	// MaxMessageSize 单条消息最大字节数
	MaxMessageSize int

	// MaxIHaveLength 单个 IHAVE 条目的最大消息 ID 数
	MaxIHaveLength int

	// MaxIWantLength 单次 IWANT 请求的最大消息 ID 数
	MaxIWantLength int

	// IWantFollowupTime IWANT 请求的履约时限，超时计为失约
	IWantFollowupTime time.Duration

	// SeenCacheSize 已见消息缓存的最大条目数
	SeenCacheSize int

	// SubscriptionBuffer 本地订阅通道的缓冲大小
	SubscriptionBuffer int

	// ==================== 确定性 ====================

	// Seed 随机选择的种子；0 表示使用加密随机种子。
	// 固定种子时 mesh 候选选择完全确定，用于测试与复现。
	Seed int64
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		D:     6,
		Dlo:   4,
		Dhi:   12,
		Dlazy: 6,

		HeartbeatInterval:     time.Second,
		HeartbeatInitialDelay: 100 * time.Millisecond,
		FanoutTTL:             60 * time.Second,
		SeenTTL:               120 * time.Second,
		HistoryLength:         5,
		HistoryGossip:         3,

		PruneBackoff:       60 * time.Second,
		UnsubscribeBackoff: 10 * time.Second,
		MinBackoff:         time.Second,
		MaxBackoff:         10 * time.Minute,
		PXPeersCount:       10,

		MaxMessageSize:    1 << 20, // 1 MB
		MaxIHaveLength:    5000,
		MaxIWantLength:    5000,
		IWantFollowupTime: 3 * time.Second,
		SeenCacheSize:     100000,

		SubscriptionBuffer: 100,
	}
}

// Validate 校验并修正配置
//
// 非法值回退到默认值而非报错，保证引擎总能以可用配置启动。
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.D <= 0 {
		c.D = def.D
	}
	if c.Dlo <= 0 || c.Dlo > c.D {
		c.Dlo = c.D * 2 / 3
		if c.Dlo <= 0 {
			c.Dlo = 1
		}
	}
	if c.Dhi < c.D {
		c.Dhi = c.D * 2
	}
	if c.Dlazy <= 0 {
		c.Dlazy = c.D
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatInitialDelay < 0 {
		c.HeartbeatInitialDelay = def.HeartbeatInitialDelay
	}
	if c.FanoutTTL <= 0 {
		c.FanoutTTL = def.FanoutTTL
	}
	if c.SeenTTL <= 0 {
		c.SeenTTL = def.SeenTTL
	}
	if c.HistoryLength <= 0 {
		c.HistoryLength = def.HistoryLength
	}
	if c.HistoryGossip <= 0 || c.HistoryGossip > c.HistoryLength {
		c.HistoryGossip = minInt(def.HistoryGossip, c.HistoryLength)
	}
	if c.PruneBackoff <= 0 {
		c.PruneBackoff = def.PruneBackoff
	}
	if c.UnsubscribeBackoff <= 0 {
		c.UnsubscribeBackoff = def.UnsubscribeBackoff
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = def.MinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.PXPeersCount < 0 {
		c.PXPeersCount = def.PXPeersCount
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.MaxIHaveLength <= 0 {
		c.MaxIHaveLength = def.MaxIHaveLength
	}
	if c.MaxIWantLength <= 0 {
		c.MaxIWantLength = def.MaxIWantLength
	}
	if c.IWantFollowupTime <= 0 {
		c.IWantFollowupTime = def.IWantFollowupTime
	}
	if c.SeenCacheSize <= 0 {
		c.SeenCacheSize = def.SeenCacheSize
	}
	if c.SubscriptionBuffer <= 0 {
		c.SubscriptionBuffer = def.SubscriptionBuffer
	}
	return nil
}

// clampBackoff 将对端通告的退避时长钳位到 [MinBackoff, MaxBackoff]
//
// 通告值为 0（缺失）时使用 PruneBackoff 默认值。
func (c *Config) clampBackoff(seconds uint64) time.Duration {
	if seconds == 0 {
		return c.PruneBackoff
	}
	d := time.Duration(seconds) * time.Second
	if d < c.MinBackoff {
		return c.MinBackoff
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
