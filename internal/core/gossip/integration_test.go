package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshsub/pkg/types"
)

// fastConfig 缩短心跳周期以便集成测试快速收敛
func fastConfig() *Config {
	config := DefaultConfig()
	config.HeartbeatInterval = 50 * time.Millisecond
	config.HeartbeatInitialDelay = 10 * time.Millisecond
	return config
}

func startNode(t *testing.T, net *MemoryNetwork, id types.NodeID) *Router {
	t.Helper()

	r := NewRouter(id, net.Endpoint(id), fastConfig())
	require.NoError(t, r.Start())
	t.Cleanup(func() { _ = r.Stop() })
	return r
}

func connectNodes(t *testing.T, net *MemoryNetwork, a, b *Router) {
	t.Helper()

	require.NoError(t, net.Connect(a.LocalID(), b.LocalID()))
	a.AddPeer(b.LocalID())
	b.AddPeer(a.LocalID())
}

// ============================================================================
//                              双节点集成测试
// ============================================================================

func TestTwoNodesMeshFormation(t *testing.T) {
	net := NewMemoryNetwork()
	alice := startNode(t, net, "alice")
	bob := startNode(t, net, "bob")

	require.NoError(t, alice.Join("news", nil))
	require.NoError(t, bob.Join("news", nil))
	connectNodes(t, net, alice, bob)

	// 订阅通告传播后，心跳把对方补入 mesh
	require.Eventually(t, func() bool {
		return alice.mesh.IsPeerInMesh("bob", "news") &&
			bob.mesh.IsPeerInMesh("alice", "news")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTwoNodesPublishDelivery(t *testing.T) {
	net := NewMemoryNetwork()
	alice := startNode(t, net, "alice")
	bob := startNode(t, net, "bob")

	ch, cancel, err := bob.Subscribe("news", nil)
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, alice.Join("news", nil))

	connectNodes(t, net, alice, bob)
	require.Eventually(t, func() bool {
		return alice.mesh.IsPeerInMesh("bob", "news")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Publish(context.Background(), "news", []byte("hello bob")))

	select {
	case msg := <-ch:
		assert.Equal(t, []byte("hello bob"), msg.Data)
		assert.Equal(t, NodeID("alice"), msg.From)
	case <-time.After(5 * time.Second):
		t.Fatal("消息未到达订阅者")
	}
}

func TestThreeNodesForwarding(t *testing.T) {
	net := NewMemoryNetwork()
	alice := startNode(t, net, "alice")
	bob := startNode(t, net, "bob")
	carol := startNode(t, net, "carol")

	require.NoError(t, alice.Join("news", nil))
	require.NoError(t, bob.Join("news", nil))
	ch, cancel, err := carol.Subscribe("news", nil)
	require.NoError(t, err)
	defer cancel()

	// 链式拓扑：alice <-> bob <-> carol，消息必须经 bob 转发
	connectNodes(t, net, alice, bob)
	connectNodes(t, net, bob, carol)

	require.Eventually(t, func() bool {
		return alice.mesh.IsPeerInMesh("bob", "news") &&
			bob.mesh.IsPeerInMesh("carol", "news")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Publish(context.Background(), "news", []byte("relayed")))

	select {
	case msg := <-ch:
		assert.Equal(t, []byte("relayed"), msg.Data)
		assert.Equal(t, NodeID("alice"), msg.From)
		assert.Equal(t, NodeID("bob"), msg.ReceivedFrom)
	case <-time.After(5 * time.Second):
		t.Fatal("消息未经转发到达")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	net := NewMemoryNetwork()
	alice := startNode(t, net, "alice")
	bob := startNode(t, net, "bob")

	ch, cancel, err := bob.Subscribe("news", nil)
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, alice.Join("news", nil))

	connectNodes(t, net, alice, bob)
	require.Eventually(t, func() bool {
		return alice.mesh.IsPeerInMesh("bob", "news")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.Leave("news"))

	// PRUNE 与退订通告传播后，alice 不再把 bob 当作 mesh 成员
	require.Eventually(t, func() bool {
		return !alice.mesh.IsPeerInMesh("bob", "news")
	}, 5*time.Second, 10*time.Millisecond)

	_, open := <-ch
	assert.False(t, open)
}
