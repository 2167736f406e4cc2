package gossip

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand" //nolint:gosec // G404: 非安全用途的 mesh 随机选择
	"sort"
	"sync"
	"time"
)

// ============================================================================
//                              候选排序器
// ============================================================================

// Ranker 从候选节点中选择 mesh/gossip 目标
//
// 默认实现不做评分，均匀随机选择。评分层可以提供自己的 Ranker
// 按分值排序后截取。
type Ranker interface {
	// Select 从候选中选出至多 count 个节点
	Select(topic string, candidates []NodeID, count int) []NodeID
}

// randomRanker 均匀随机选择器
//
// 候选列表先按 ID 排序再做 Fisher-Yates 洗牌：固定种子时选择结果
// 与 map 遍历顺序无关，完全可复现。
type randomRanker struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// NewRandomRanker 创建均匀随机选择器
//
// seed 为 0 时使用加密随机种子。
func NewRandomRanker(seed int64) Ranker {
	if seed == 0 {
		seed = cryptoSeed()
	}
	return &randomRanker{rand: rand.New(rand.NewSource(seed))}
}

// Select 实现 Ranker
func (r *randomRanker) Select(_ string, candidates []NodeID, count int) []NodeID {
	if count <= 0 || len(candidates) == 0 {
		return nil
	}

	sorted := make([]NodeID, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	r.mu.Lock()
	for i := len(sorted) - 1; i > 0; i-- {
		j := r.rand.Intn(i + 1)
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	r.mu.Unlock()

	if len(sorted) > count {
		sorted = sorted[:count]
	}
	return sorted
}

// cryptoSeed 生成加密安全的随机种子
func cryptoSeed() int64 {
	b := make([]byte, 8)
	if _, err := crand.Read(b); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.BigEndian.Uint64(b))
}
