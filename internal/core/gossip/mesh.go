package gossip

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
//                              Mesh 管理器
// ============================================================================

// MeshManager mesh 状态存储
//
// 维护每个主题的三类节点集合：
//   - mesh: 已订阅主题的双向转发邻居（peer -> 加入时间）
//   - fanout: 未订阅但发布过的主题的临时目标（TTL 过期）
//   - subscribers: 通过订阅通告得知的远端订阅者
//
// 不变式：同一主题下 peer 不会同时出现在 mesh 与 fanout 中——
// Graft 将其从 fanout 移除，fanout 构建时排除 mesh 成员。
type MeshManager struct {
	mu sync.RWMutex

	config *Config
	ranker Ranker
	clk    clock.Clock

	// mesh 每个主题的 mesh 成员与加入时间
	mesh map[string]map[NodeID]time.Time

	// fanout 每个主题的 fanout 成员
	fanout map[string]map[NodeID]struct{}

	// fanoutLastPub fanout 最后使用时间
	fanoutLastPub map[string]time.Time

	// topics 主题状态
	topics map[string]*topicState

	// peers 已知节点
	peers map[NodeID]*peerState

	// backoffs 退避追踪
	backoffs *BackoffTracker
}

// topicState 单个主题的状态
type topicState struct {
	// subscribed 本节点是否订阅
	subscribed bool

	// descriptor 加入时读取一次，之后只读
	descriptor *TopicDescriptor

	// peers 远端订阅者
	peers map[NodeID]struct{}
}

// peerState 单个节点的状态
type peerState struct {
	connected bool
	topics    map[string]struct{}
}

// NewMeshManager 创建 mesh 管理器
func NewMeshManager(config *Config, ranker Ranker, clk clock.Clock) *MeshManager {
	if config == nil {
		config = DefaultConfig()
	}
	if ranker == nil {
		ranker = NewRandomRanker(config.Seed)
	}
	if clk == nil {
		clk = clock.New()
	}

	return &MeshManager{
		config:        config,
		ranker:        ranker,
		clk:           clk,
		mesh:          make(map[string]map[NodeID]time.Time),
		fanout:        make(map[string]map[NodeID]struct{}),
		fanoutLastPub: make(map[string]time.Time),
		topics:        make(map[string]*topicState),
		peers:         make(map[NodeID]*peerState),
		backoffs:      NewBackoffTracker(clk),
	}
}

// ============================================================================
//                              主题管理
// ============================================================================

// Join 订阅主题，返回需要发送 GRAFT 的节点
//
// fanout 成员直接迁入 mesh，不足 D 时从订阅者中补充。
// descriptor 只在首次加入时记录。
func (mm *MeshManager) Join(topic string, desc *TopicDescriptor) []NodeID {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	ts := mm.getOrCreateTopic(topic)
	if ts.subscribed {
		return nil
	}
	ts.subscribed = true
	if ts.descriptor == nil {
		ts.descriptor = desc
	}

	if mm.mesh[topic] == nil {
		mm.mesh[topic] = make(map[NodeID]time.Time)
	}

	now := mm.clk.Now()

	// fanout -> mesh 迁移
	if fanoutPeers, exists := mm.fanout[topic]; exists {
		for peer := range fanoutPeers {
			mm.mesh[topic][peer] = now
		}
		delete(mm.fanout, topic)
		delete(mm.fanoutLastPub, topic)
	}

	toGraft := mm.selectGraftCandidates(topic, mm.config.D-len(mm.mesh[topic]))
	for _, peer := range toGraft {
		mm.mesh[topic][peer] = now
	}
	return toGraft
}

// Leave 取消订阅主题，返回需要发送 PRUNE 的节点
//
// 被 PRUNE 的节点登记 UnsubscribeBackoff，避免重新订阅时立刻互相
// GRAFT 抖动。
func (mm *MeshManager) Leave(topic string) []NodeID {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	ts, exists := mm.topics[topic]
	if !exists || !ts.subscribed {
		return nil
	}
	ts.subscribed = false

	toPrune := make([]NodeID, 0, len(mm.mesh[topic]))
	for peer := range mm.mesh[topic] {
		toPrune = append(toPrune, peer)
		mm.backoffs.AddBackoff(peer, topic, mm.config.UnsubscribeBackoff)
	}
	delete(mm.mesh, topic)

	return toPrune
}

// Descriptor 返回主题的描述符（可能为 nil）
func (mm *MeshManager) Descriptor(topic string) *TopicDescriptor {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if ts, exists := mm.topics[topic]; exists {
		return ts.descriptor
	}
	return nil
}

// ============================================================================
//                              节点管理
// ============================================================================

// AddPeer 登记已连接节点
func (mm *MeshManager) AddPeer(peer NodeID) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.addPeerLocked(peer)
}

func (mm *MeshManager) addPeerLocked(peer NodeID) *peerState {
	ps, exists := mm.peers[peer]
	if !exists {
		ps = &peerState{connected: true, topics: make(map[string]struct{})}
		mm.peers[peer] = ps
	}
	ps.connected = true
	return ps
}

// RemovePeer 移除断开的节点及其全部主题状态
func (mm *MeshManager) RemovePeer(peer NodeID) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	ps, exists := mm.peers[peer]
	if !exists {
		return
	}

	for topic := range ps.topics {
		delete(mm.mesh[topic], peer)
		if ts, ok := mm.topics[topic]; ok {
			delete(ts.peers, peer)
		}
	}
	for topic := range mm.fanout {
		delete(mm.fanout[topic], peer)
	}
	delete(mm.peers, peer)
}

// AddPeerToTopic 记录远端订阅
func (mm *MeshManager) AddPeerToTopic(peer NodeID, topic string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.addPeerToTopicLocked(peer, topic)
}

func (mm *MeshManager) addPeerToTopicLocked(peer NodeID, topic string) {
	ps := mm.addPeerLocked(peer)
	ps.topics[topic] = struct{}{}
	mm.getOrCreateTopic(topic).peers[peer] = struct{}{}
}

// RemovePeerFromTopic 记录远端退订；同时退出 mesh 与 fanout
func (mm *MeshManager) RemovePeerFromTopic(peer NodeID, topic string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if ps, exists := mm.peers[peer]; exists {
		delete(ps.topics, topic)
	}
	delete(mm.mesh[topic], peer)
	delete(mm.fanout[topic], peer)
	if ts, exists := mm.topics[topic]; exists {
		delete(ts.peers, peer)
	}
}

// ============================================================================
//                              Mesh 操作
// ============================================================================

// Graft 将节点加入主题的 mesh
//
// GRAFT 隐含对端已订阅该主题。成功加入时从 fanout 移除（不变式）。
// 退避检查由调用方负责（以便区分退避违规）。
func (mm *MeshManager) Graft(peer NodeID, topic string) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	ts, exists := mm.topics[topic]
	if !exists || !ts.subscribed {
		return false
	}

	mm.addPeerToTopicLocked(peer, topic)

	if mm.mesh[topic] == nil {
		mm.mesh[topic] = make(map[NodeID]time.Time)
	}
	mm.mesh[topic][peer] = mm.clk.Now()
	delete(mm.fanout[topic], peer)
	return true
}

// Prune 将节点移出主题的 mesh 并登记退避
func (mm *MeshManager) Prune(peer NodeID, topic string, backoff time.Duration) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	delete(mm.mesh[topic], peer)
	if backoff > 0 {
		mm.backoffs.AddBackoff(peer, topic, backoff)
	}
}

// MeshPeers 返回主题的 mesh 成员
func (mm *MeshManager) MeshPeers(topic string) []NodeID {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	meshPeers := mm.mesh[topic]
	peers := make([]NodeID, 0, len(meshPeers))
	for peer := range meshPeers {
		peers = append(peers, peer)
	}
	return peers
}

// IsPeerInMesh 检查节点是否在主题的 mesh 中
func (mm *MeshManager) IsPeerInMesh(peer NodeID, topic string) bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	_, inMesh := mm.mesh[topic][peer]
	return inMesh
}

// ============================================================================
//                              Fanout 操作
// ============================================================================

// FanoutPeers 返回主题的 fanout 目标，必要时新建
//
// 新建时从订阅者中选 D 个，排除 mesh 成员（不变式）。每次调用
// 刷新最后使用时间。
func (mm *MeshManager) FanoutPeers(topic string) []NodeID {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.fanoutLastPub[topic] = mm.clk.Now()

	if fanoutPeers, exists := mm.fanout[topic]; exists {
		peers := make([]NodeID, 0, len(fanoutPeers))
		for peer := range fanoutPeers {
			peers = append(peers, peer)
		}
		return peers
	}

	ts := mm.getOrCreateTopic(topic)
	candidates := make([]NodeID, 0, len(ts.peers))
	for peer := range ts.peers {
		if _, inMesh := mm.mesh[topic][peer]; inMesh {
			continue
		}
		if ps, exists := mm.peers[peer]; !exists || !ps.connected {
			continue
		}
		candidates = append(candidates, peer)
	}

	selected := mm.ranker.Select(topic, candidates, mm.config.D)
	mm.fanout[topic] = make(map[NodeID]struct{}, len(selected))
	for _, peer := range selected {
		mm.fanout[topic][peer] = struct{}{}
	}
	return selected
}

// CleanupFanout 清理超过 TTL 未使用的 fanout（心跳时调用）
func (mm *MeshManager) CleanupFanout() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	now := mm.clk.Now()
	for topic, lastPub := range mm.fanoutLastPub {
		if now.Sub(lastPub) > mm.config.FanoutTTL {
			delete(mm.fanout, topic)
			delete(mm.fanoutLastPub, topic)
		}
	}
}

// ============================================================================
//                              心跳维护
// ============================================================================

// HeartbeatMaintenance 执行一轮 mesh 维护
//
// 低于 Dlo 的主题补充到 D（返回待发 GRAFT），高于 Dhi 的主题裁剪
// 到 D（返回待发 PRUNE，裁剪的节点登记 PruneBackoff）。
func (mm *MeshManager) HeartbeatMaintenance() (grafts, prunes map[string][]NodeID) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	grafts = make(map[string][]NodeID)
	prunes = make(map[string][]NodeID)
	now := mm.clk.Now()

	for topic, ts := range mm.topics {
		if !ts.subscribed {
			continue
		}

		meshSize := len(mm.mesh[topic])

		if meshSize < mm.config.Dlo {
			toGraft := mm.selectGraftCandidates(topic, mm.config.D-meshSize)
			for _, peer := range toGraft {
				mm.mesh[topic][peer] = now
			}
			if len(toGraft) > 0 {
				grafts[topic] = toGraft
			}
		}

		if meshSize > mm.config.Dhi {
			toPrune := mm.selectPruneVictims(topic, meshSize-mm.config.D)
			for _, peer := range toPrune {
				delete(mm.mesh[topic], peer)
				mm.backoffs.AddBackoff(peer, topic, mm.config.PruneBackoff)
			}
			if len(toPrune) > 0 {
				prunes[topic] = toPrune
			}
		}
	}

	mm.backoffs.Cleanup()
	return grafts, prunes
}

// selectGraftCandidates 选择 GRAFT 候选：已连接订阅者，排除 mesh
// 成员与退避期节点
func (mm *MeshManager) selectGraftCandidates(topic string, count int) []NodeID {
	if count <= 0 {
		return nil
	}

	ts := mm.getOrCreateTopic(topic)
	candidates := make([]NodeID, 0, len(ts.peers))
	for peer := range ts.peers {
		if _, inMesh := mm.mesh[topic][peer]; inMesh {
			continue
		}
		if ps, exists := mm.peers[peer]; !exists || !ps.connected {
			continue
		}
		if mm.backoffs.IsBackedOff(peer, topic) {
			continue
		}
		candidates = append(candidates, peer)
	}

	return mm.ranker.Select(topic, candidates, count)
}

// selectPruneVictims 选择要裁剪的 mesh 成员
func (mm *MeshManager) selectPruneVictims(topic string, count int) []NodeID {
	if count <= 0 {
		return nil
	}

	meshPeers := mm.mesh[topic]
	candidates := make([]NodeID, 0, len(meshPeers))
	for peer := range meshPeers {
		candidates = append(candidates, peer)
	}
	return mm.ranker.Select(topic, candidates, count)
}

// ============================================================================
//                              Gossip 选择
// ============================================================================

// SelectGossipPeers 选择 IHAVE 目标：至多 Dlazy 个非 mesh 订阅者
func (mm *MeshManager) SelectGossipPeers(topic string) []NodeID {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	ts, exists := mm.topics[topic]
	if !exists {
		return nil
	}

	candidates := make([]NodeID, 0, len(ts.peers))
	for peer := range ts.peers {
		if _, inMesh := mm.mesh[topic][peer]; inMesh {
			continue
		}
		if ps, exists := mm.peers[peer]; !exists || !ps.connected {
			continue
		}
		candidates = append(candidates, peer)
	}

	return mm.ranker.Select(topic, candidates, mm.config.Dlazy)
}

// ============================================================================
//                              PX (Peer Exchange)
// ============================================================================

// GetPXPeers 选择 PRUNE 消息附带的候选替代节点
func (mm *MeshManager) GetPXPeers(topic string, exclude NodeID, count int) []PeerInfo {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	ts, exists := mm.topics[topic]
	if !exists || count <= 0 {
		return nil
	}

	candidates := make([]NodeID, 0, len(ts.peers))
	for peer := range ts.peers {
		if peer == exclude {
			continue
		}
		if ps, exists := mm.peers[peer]; !exists || !ps.connected {
			continue
		}
		candidates = append(candidates, peer)
	}

	selected := mm.ranker.Select(topic, candidates, count)
	pxPeers := make([]PeerInfo, len(selected))
	for i, peer := range selected {
		pxPeers[i] = PeerInfo{ID: peer}
	}
	return pxPeers
}

// HandlePX 过滤 PRUNE 附带的候选节点，返回值得连接的新节点
func (mm *MeshManager) HandlePX(peers []PeerInfo) []PeerInfo {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	toConnect := make([]PeerInfo, 0, len(peers))
	for _, px := range peers {
		if px.ID.IsEmpty() {
			continue
		}
		if ps, exists := mm.peers[px.ID]; exists && ps.connected {
			continue
		}
		toConnect = append(toConnect, px)
	}
	return toConnect
}

// ============================================================================
//                              退避查询
// ============================================================================

// IsBackedOff 检查 (peer, topic) 是否处于退避期
func (mm *MeshManager) IsBackedOff(peer NodeID, topic string) bool {
	return mm.backoffs.IsBackedOff(peer, topic)
}

// AddBackoff 登记退避
func (mm *MeshManager) AddBackoff(peer NodeID, topic string, d time.Duration) {
	mm.backoffs.AddBackoff(peer, topic, d)
}

// ============================================================================
//                              查询方法
// ============================================================================

// ConnectedPeers 返回所有已连接的节点
func (mm *MeshManager) ConnectedPeers() []NodeID {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	peers := make([]NodeID, 0, len(mm.peers))
	for peer, ps := range mm.peers {
		if ps.connected {
			peers = append(peers, peer)
		}
	}
	return peers
}

// IsSubscribed 检查本节点是否订阅主题
func (mm *MeshManager) IsSubscribed(topic string) bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	ts, exists := mm.topics[topic]
	return exists && ts.subscribed
}

// Topics 返回所有已订阅的主题
func (mm *MeshManager) Topics() []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	topics := make([]string, 0, len(mm.topics))
	for topic, ts := range mm.topics {
		if ts.subscribed {
			topics = append(topics, topic)
		}
	}
	return topics
}

// PeersInTopic 返回主题的所有已知订阅者
func (mm *MeshManager) PeersInTopic(topic string) []NodeID {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	ts, exists := mm.topics[topic]
	if !exists {
		return nil
	}

	peers := make([]NodeID, 0, len(ts.peers))
	for peer := range ts.peers {
		peers = append(peers, peer)
	}
	return peers
}

// getOrCreateTopic 获取或创建主题状态（须持有写锁）
func (mm *MeshManager) getOrCreateTopic(topic string) *topicState {
	ts, exists := mm.topics[topic]
	if !exists {
		ts = &topicState{peers: make(map[NodeID]struct{})}
		mm.topics[topic] = ts
	}
	return ts
}
