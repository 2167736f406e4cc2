package gossip

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
//                              心跳调度器
// ============================================================================

// SendRPCFunc 出站 RPC 发送函数
//
// 所有网络写入都经由它发出；实现不得在引擎的任何锁内阻塞调用方。
type SendRPCFunc func(peer NodeID, rpc *RPC) error

// Heartbeat 心跳调度器
//
// 固定间隔执行维护任务：
//  1. mesh 补充/裁剪（GRAFT/PRUNE）
//  2. fanout TTL 清理
//  3. 消息缓存窗口滑动、已见缓存清理
//  4. gossip 通告（IHAVE 发给 Dlazy 个非 mesh 订阅者）
//  5. IWANT 失约统计
type Heartbeat struct {
	config  *Config
	mesh    *MeshManager
	cache   *MessageCache
	seen    *SeenCache
	iwant   *IWantTracker
	metrics *Metrics
	clk     clock.Clock

	mu        sync.Mutex
	sendRPC   SendRPCFunc
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	tickCount uint64
}

// NewHeartbeat 创建心跳调度器
func NewHeartbeat(config *Config, mesh *MeshManager, cache *MessageCache, seen *SeenCache, iwant *IWantTracker, metrics *Metrics, clk clock.Clock) *Heartbeat {
	if config == nil {
		config = DefaultConfig()
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Heartbeat{
		config:  config,
		mesh:    mesh,
		cache:   cache,
		seen:    seen,
		iwant:   iwant,
		metrics: metrics,
		clk:     clk,
	}
}

// SetSendRPC 设置出站发送函数
func (h *Heartbeat) SetSendRPC(fn SendRPCFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendRPC = fn
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动心跳循环
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	log.Info("心跳调度器启动", "interval", h.config.HeartbeatInterval)
	go h.loop(h.stopCh, h.doneCh)
}

// Stop 停止心跳循环
//
// 返回时循环已退出：当前 tick 的 GRAFT/PRUNE 要么全部发出，要么
// 尚未开始，不存在排队中的半程操作。
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stopCh, doneCh := h.stopCh, h.doneCh
	h.mu.Unlock()

	close(stopCh)
	<-doneCh
	log.Info("心跳调度器已停止")
}

// IsRunning 检查是否正在运行
func (h *Heartbeat) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// TickCount 返回已执行的心跳次数
func (h *Heartbeat) TickCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tickCount
}

func (h *Heartbeat) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	// 首次心跳延迟
	delay := h.clk.Timer(h.config.HeartbeatInitialDelay)
	select {
	case <-delay.C:
	case <-stopCh:
		delay.Stop()
		return
	}
	h.Tick()

	ticker := h.clk.Ticker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Tick()
		case <-stopCh:
			return
		}
	}
}

// ============================================================================
//                              心跳执行
// ============================================================================

// Tick 执行一次完整心跳（导出以便测试直接驱动）
func (h *Heartbeat) Tick() {
	start := h.clk.Now()

	h.mu.Lock()
	h.tickCount++
	tick := h.tickCount
	sendRPC := h.sendRPC
	h.mu.Unlock()

	// 1. mesh 维护
	grafts, prunes := h.mesh.HeartbeatMaintenance()

	if sendRPC != nil {
		for topic, peers := range grafts {
			for _, peer := range peers {
				h.sendGraft(sendRPC, peer, topic)
			}
		}
		for topic, peers := range prunes {
			for _, peer := range peers {
				pxPeers := h.mesh.GetPXPeers(topic, peer, h.config.PXPeersCount)
				h.sendPrune(sendRPC, peer, topic, pxPeers)
			}
		}
	}

	// 2. fanout 清理
	h.mesh.CleanupFanout()

	// 3. 缓存维护
	h.cache.Shift()
	h.seen.Cleanup()

	// 4. gossip 通告
	if sendRPC != nil {
		h.emitGossip(sendRPC)
	}

	// 5. 失约统计
	for peer, count := range h.iwant.GetBrokenPromises() {
		if h.metrics != nil {
			h.metrics.brokenPromises.Add(float64(count))
		}
		log.Debug("IWANT 未履约", "peer", peer.ShortString(), "count", count)
	}

	log.Debug("心跳完成",
		"tick", tick,
		"duration", h.clk.Since(start),
		"grafts", countPeers(grafts),
		"prunes", countPeers(prunes))
}

// emitGossip 对每个已订阅主题向非 mesh 订阅者发送 IHAVE
func (h *Heartbeat) emitGossip(sendRPC SendRPCFunc) {
	for _, topic := range h.mesh.Topics() {
		msgIDs := h.cache.GetGossipIDs(topic)
		if len(msgIDs) == 0 {
			continue
		}
		if len(msgIDs) > h.config.MaxIHaveLength {
			msgIDs = msgIDs[:h.config.MaxIHaveLength]
		}

		for _, peer := range h.mesh.SelectGossipPeers(topic) {
			rpc := &RPC{
				Control: &ControlMessage{
					IHave: []ControlIHaveMessage{{Topic: topic, MessageIDs: msgIDs}},
				},
			}
			if err := sendRPC(peer, rpc); err != nil {
				log.Debug("发送 IHAVE 失败", "peer", peer.ShortString(), "topic", topic, "err", err)
			}
		}
	}
}

func (h *Heartbeat) sendGraft(sendRPC SendRPCFunc, peer NodeID, topic string) {
	rpc := &RPC{
		Control: &ControlMessage{
			Graft: []ControlGraftMessage{{Topic: topic}},
		},
	}
	if err := sendRPC(peer, rpc); err != nil {
		log.Debug("发送 GRAFT 失败", "peer", peer.ShortString(), "topic", topic, "err", err)
		return
	}
	if h.metrics != nil {
		h.metrics.graftsSent.Inc()
	}
}

func (h *Heartbeat) sendPrune(sendRPC SendRPCFunc, peer NodeID, topic string, pxPeers []PeerInfo) {
	rpc := &RPC{
		Control: &ControlMessage{
			Prune: []ControlPruneMessage{{
				Topic:   topic,
				Peers:   pxPeers,
				Backoff: uint64(h.config.PruneBackoff / time.Second),
			}},
		},
	}
	if err := sendRPC(peer, rpc); err != nil {
		log.Debug("发送 PRUNE 失败", "peer", peer.ShortString(), "topic", topic, "err", err)
		return
	}
	if h.metrics != nil {
		h.metrics.prunesSent.Inc()
	}
}

// countPeers 统计 map 中所有节点总数
func countPeers(m map[string][]NodeID) int {
	count := 0
	for _, v := range m {
		count += len(v)
	}
	return count
}
