package gossip

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
//                              消息缓存
// ============================================================================

// CacheEntry 消息缓存条目
type CacheEntry struct {
	Message    *Message
	ReceivedAt time.Time
}

// MessageCache 消息历史缓存
//
// 按心跳周期组织的滑动窗口：保留最近 HistoryLength 个窗口的消息，
// gossip 只通告最近 HistoryGossip 个窗口。Shift 在每次心跳时调用。
type MessageCache struct {
	mu sync.RWMutex

	history      []map[string]*CacheEntry
	msgs         map[string]*CacheEntry
	windowSize   int
	gossipWindow int
	current      int

	clk clock.Clock
}

// NewMessageCache 创建消息缓存
func NewMessageCache(windowSize, gossipWindow int, clk clock.Clock) *MessageCache {
	if windowSize <= 0 {
		windowSize = 5
	}
	if gossipWindow <= 0 || gossipWindow > windowSize {
		gossipWindow = minInt(3, windowSize)
	}
	if clk == nil {
		clk = clock.New()
	}

	history := make([]map[string]*CacheEntry, windowSize)
	for i := range history {
		history[i] = make(map[string]*CacheEntry)
	}

	return &MessageCache{
		history:      history,
		msgs:         make(map[string]*CacheEntry),
		windowSize:   windowSize,
		gossipWindow: gossipWindow,
		clk:          clk,
	}
}

// Put 添加消息到当前窗口
func (mc *MessageCache) Put(msg *Message) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.msgs[msg.ID]; exists {
		return
	}

	entry := &CacheEntry{Message: msg, ReceivedAt: mc.clk.Now()}
	mc.history[mc.current][msg.ID] = entry
	mc.msgs[msg.ID] = entry
}

// GetMessage 按 ID 查找缓存的消息
func (mc *MessageCache) GetMessage(msgID string) (*Message, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	entry, exists := mc.msgs[msgID]
	if !exists {
		return nil, false
	}
	return entry.Message, true
}

// Has 检查消息是否在缓存中
func (mc *MessageCache) Has(msgID string) bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	_, exists := mc.msgs[msgID]
	return exists
}

// GetGossipIDs 返回 gossip 窗口内属于指定主题的消息 ID
func (mc *MessageCache) GetGossipIDs(topic string) []string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var msgIDs []string
	for i := 0; i < mc.gossipWindow; i++ {
		idx := (mc.current - i + mc.windowSize) % mc.windowSize
		for id, entry := range mc.history[idx] {
			for _, t := range entry.Message.Topics {
				if t == topic {
					msgIDs = append(msgIDs, id)
					break
				}
			}
		}
	}
	return msgIDs
}

// Shift 滑动到下一个窗口，淘汰最老窗口的消息（心跳时调用）
func (mc *MessageCache) Shift() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.current = (mc.current + 1) % mc.windowSize
	for msgID := range mc.history[mc.current] {
		delete(mc.msgs, msgID)
	}
	mc.history[mc.current] = make(map[string]*CacheEntry)
}

// Size 返回缓存的消息数
func (mc *MessageCache) Size() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.msgs)
}

// ============================================================================
//                              已见消息缓存
// ============================================================================

// SeenCache 已见消息去重缓存
//
// Add 是原子的先检查后登记：同一 ID 在保留窗口内只有第一次调用
// 返回 true，任意并发下成立。
type SeenCache struct {
	mu sync.Mutex

	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int

	clk clock.Clock
}

// NewSeenCache 创建已见消息缓存
func NewSeenCache(ttl time.Duration, maxSize int, clk clock.Clock) *SeenCache {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 100000
	}
	if clk == nil {
		clk = clock.New()
	}

	return &SeenCache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		clk:     clk,
	}
}

// Add 登记消息 ID，首次登记返回 true
func (sc *SeenCache) Add(msgID string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := sc.clk.Now()

	if at, exists := sc.seen[msgID]; exists {
		// 窗口内已见
		if now.Sub(at) < sc.ttl {
			return false
		}
		// 过期条目重新登记
		sc.seen[msgID] = now
		return true
	}

	if len(sc.seen) >= sc.maxSize {
		sc.evict(now)
	}

	sc.seen[msgID] = now
	return true
}

// Has 检查消息 ID 是否在保留窗口内
func (sc *SeenCache) Has(msgID string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	at, exists := sc.seen[msgID]
	return exists && sc.clk.Now().Sub(at) < sc.ttl
}

// evict 清理过期条目；不足时淘汰最老的条目腾出空间
func (sc *SeenCache) evict(now time.Time) {
	cutoff := now.Add(-sc.ttl)
	for id, at := range sc.seen {
		if at.Before(cutoff) {
			delete(sc.seen, id)
		}
	}
	if len(sc.seen) < sc.maxSize {
		return
	}

	// 仍然满：淘汰 10% 最老条目
	count := sc.maxSize / 10
	if count < 1 {
		count = 1
	}
	for count > 0 {
		var oldestID string
		var oldestAt time.Time
		for id, at := range sc.seen {
			if oldestID == "" || at.Before(oldestAt) {
				oldestID, oldestAt = id, at
			}
		}
		if oldestID == "" {
			return
		}
		delete(sc.seen, oldestID)
		count--
	}
}

// Cleanup 清理过期条目（心跳时调用）
func (sc *SeenCache) Cleanup() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	cutoff := sc.clk.Now().Add(-sc.ttl)
	for id, at := range sc.seen {
		if at.Before(cutoff) {
			delete(sc.seen, id)
		}
	}
}

// Size 返回缓存条目数
func (sc *SeenCache) Size() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.seen)
}

// ============================================================================
//                              IWANT 追踪
// ============================================================================

// IWantTracker 追踪已发送的 IWANT 请求
//
// 超过履约时限仍未收到消息的请求计为对端失约。
type IWantTracker struct {
	mu sync.Mutex

	requests map[string]*iwantRequest
	timeout  time.Duration

	clk clock.Clock
}

type iwantRequest struct {
	requestedAt time.Time
	peers       map[NodeID]struct{}
}

// NewIWantTracker 创建 IWANT 追踪器
func NewIWantTracker(timeout time.Duration, clk clock.Clock) *IWantTracker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}

	return &IWantTracker{
		requests: make(map[string]*iwantRequest),
		timeout:  timeout,
		clk:      clk,
	}
}

// Track 记录向 peer 发出的 IWANT 请求
func (t *IWantTracker) Track(msgID string, peer NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if req, exists := t.requests[msgID]; exists {
		req.peers[peer] = struct{}{}
		return
	}
	t.requests[msgID] = &iwantRequest{
		requestedAt: t.clk.Now(),
		peers:       map[NodeID]struct{}{peer: {}},
	}
}

// Fulfill 消息已收到，移除追踪
func (t *IWantTracker) Fulfill(msgID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.requests, msgID)
}

// Pending 返回追踪中的请求数
func (t *IWantTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// GetBrokenPromises 取出超时未履约的 peer 与失约次数
func (t *IWantTracker) GetBrokenPromises() map[NodeID]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	broken := make(map[NodeID]int)
	cutoff := t.clk.Now().Add(-t.timeout)

	for msgID, req := range t.requests {
		if req.requestedAt.Before(cutoff) {
			for peer := range req.peers {
				broken[peer]++
			}
			delete(t.requests, msgID)
		}
	}
	return broken
}

// ============================================================================
//                              退避追踪
// ============================================================================

// BackoffTracker 退避时间追踪器
//
// 记录 (peer, topic) 的最早重试时间；退避期内的 GRAFT 会被拒绝。
type BackoffTracker struct {
	mu sync.RWMutex

	backoffs map[backoffKey]time.Time

	clk clock.Clock
}

type backoffKey struct {
	peer  NodeID
	topic string
}

// NewBackoffTracker 创建退避追踪器
func NewBackoffTracker(clk clock.Clock) *BackoffTracker {
	if clk == nil {
		clk = clock.New()
	}
	return &BackoffTracker{
		backoffs: make(map[backoffKey]time.Time),
		clk:      clk,
	}
}

// AddBackoff 登记退避；已有更晚的截止时间时不回退
func (bt *BackoffTracker) AddBackoff(peer NodeID, topic string, duration time.Duration) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	key := backoffKey{peer, topic}
	until := bt.clk.Now().Add(duration)
	if existing, ok := bt.backoffs[key]; ok && existing.After(until) {
		return
	}
	bt.backoffs[key] = until
}

// IsBackedOff 检查 (peer, topic) 是否处于退避期
func (bt *BackoffTracker) IsBackedOff(peer NodeID, topic string) bool {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	until, exists := bt.backoffs[backoffKey{peer, topic}]
	return exists && bt.clk.Now().Before(until)
}

// Cleanup 清理已过期的退避条目（心跳时调用）
func (bt *BackoffTracker) Cleanup() {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	now := bt.clk.Now()
	for key, until := range bt.backoffs {
		if now.After(until) {
			delete(bt.backoffs, key)
		}
	}
}
