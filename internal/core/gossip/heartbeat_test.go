package gossip

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeartbeat(t *testing.T) (*Heartbeat, *MeshManager, *MessageCache, *rpcRecorder, *clock.Mock) {
	t.Helper()

	config := DefaultConfig()
	config.Seed = 42
	mock := clock.NewMock()

	mesh := NewMeshManager(config, NewRandomRanker(config.Seed), mock)
	cache := NewMessageCache(config.HistoryLength, config.HistoryGossip, mock)
	seen := NewSeenCache(config.SeenTTL, config.SeenCacheSize, mock)
	iwant := NewIWantTracker(config.IWantFollowupTime, mock)

	hb := NewHeartbeat(config, mesh, cache, seen, iwant, NewMetrics(nil), mock)
	rec := &rpcRecorder{}
	hb.SetSendRPC(rec.send)
	return hb, mesh, cache, rec, mock
}

// ============================================================================
//                              心跳维护测试
// ============================================================================

func TestTickSendsGraftsToRefillMesh(t *testing.T) {
	hb, mesh, _, rec, _ := newTestHeartbeat(t)

	addSubscribers(mesh, "news", "p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8")
	mesh.Join("news", nil)
	for _, peer := range mesh.MeshPeers("news")[2:] {
		mesh.Prune(peer, "news", 0)
	}
	require.Len(t, mesh.MeshPeers("news"), 2)

	hb.Tick()

	assert.Len(t, mesh.MeshPeers("news"), 6)
	graftCount := 0
	for _, s := range rec.all() {
		if s.rpc.Control != nil && len(s.rpc.Control.Graft) == 1 {
			assert.Equal(t, "news", s.rpc.Control.Graft[0].Topic)
			graftCount++
		}
	}
	assert.Equal(t, 4, graftCount)
}

func TestTickSendsPrunesWithPX(t *testing.T) {
	hb, mesh, _, rec, _ := newTestHeartbeat(t)

	mesh.Join("news", nil)
	peers := []NodeID{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m"}
	addSubscribers(mesh, "news", peers...)
	for _, peer := range peers {
		mesh.Graft(peer, "news")
	}
	require.Len(t, mesh.MeshPeers("news"), 13) // > Dhi

	hb.Tick()

	assert.Len(t, mesh.MeshPeers("news"), 6)
	pruneCount := 0
	for _, s := range rec.all() {
		if s.rpc.Control == nil || len(s.rpc.Control.Prune) != 1 {
			continue
		}
		prune := s.rpc.Control.Prune[0]
		pruneCount++
		assert.Equal(t, uint64(60), prune.Backoff)
		assert.NotEmpty(t, prune.Peers) // PX 候选
		for _, px := range prune.Peers {
			assert.NotEqual(t, s.to, px.ID)
		}
	}
	assert.Equal(t, 7, pruneCount)
}

func TestTickEmitsIHaveToNonMeshPeers(t *testing.T) {
	hb, mesh, cache, rec, _ := newTestHeartbeat(t)

	peers := []NodeID{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}
	addSubscribers(mesh, "news", peers...)
	mesh.Join("news", nil)

	cache.Put(testMessage("m1", "news"))
	hb.Tick()

	inMesh := make(map[NodeID]struct{})
	for _, peer := range mesh.MeshPeers("news") {
		inMesh[peer] = struct{}{}
	}

	ihaveTargets := 0
	for _, s := range rec.all() {
		if s.rpc.Control == nil || len(s.rpc.Control.IHave) == 0 {
			continue
		}
		ihaveTargets++
		assert.NotContains(t, inMesh, s.to)
		assert.Equal(t, []string{"m1"}, s.rpc.Control.IHave[0].MessageIDs)
	}
	assert.Equal(t, 2, ihaveTargets) // 8 个订阅者减去 6 个 mesh 成员
}

func TestTickShiftsMessageCache(t *testing.T) {
	hb, _, cache, _, _ := newTestHeartbeat(t)

	cache.Put(testMessage("m1", "news"))
	for i := 0; i < 5; i++ {
		hb.Tick()
	}

	assert.False(t, cache.Has("m1"))
}

func TestTickExpiresFanout(t *testing.T) {
	hb, mesh, _, _, mock := newTestHeartbeat(t)

	addSubscribers(mesh, "news", "p1")
	mesh.FanoutPeers("news")

	mock.Add(61 * time.Second)
	hb.Tick()

	assert.NotContains(t, mesh.fanout, "news")
}

// ============================================================================
//                              生命周期测试
// ============================================================================

func TestHeartbeatStartStop(t *testing.T) {
	hb, _, _, _, _ := newTestHeartbeat(t)

	assert.False(t, hb.IsRunning())
	hb.Start()
	assert.True(t, hb.IsRunning())
	hb.Start() // 幂等

	hb.Stop()
	assert.False(t, hb.IsRunning())
	hb.Stop() // 幂等
}

func TestHeartbeatLoopDrivenByClock(t *testing.T) {
	hb, _, _, _, mock := newTestHeartbeat(t)

	hb.Start()
	defer hb.Stop()

	// 初始延迟 100ms 后第一次心跳，之后每 1s 一次
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return hb.TickCount() >= 2
	}, waitFor, tick)
}
