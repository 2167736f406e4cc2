package gossip

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dep2p/go-meshsub/pkg/interfaces"
	"github.com/dep2p/go-meshsub/pkg/types"
)

// ============================================================================
//                              进程内网络
// ============================================================================

// MemoryNetwork 进程内的多节点网络，用于集成测试
//
// 每个端点持有自己的流处理器表；NewStream 直接把对端处理器挂到
// 一对内存管道上，没有真实的传输层。
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[types.NodeID]*MemoryEndpoint
}

// NewMemoryNetwork 创建进程内网络
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		endpoints: make(map[types.NodeID]*MemoryEndpoint),
	}
}

// Endpoint 创建并注册一个端点
func (n *MemoryNetwork) Endpoint(id types.NodeID) *MemoryEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	ep := &MemoryEndpoint{
		id:        id,
		network:   n,
		handlers:  make(map[types.ProtocolID]interfaces.StreamHandler),
		connected: make(map[types.NodeID]struct{}),
	}
	n.endpoints[id] = ep
	return ep
}

// Connect 双向连接两个端点
func (n *MemoryNetwork) Connect(a, b types.NodeID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	epA, okA := n.endpoints[a]
	epB, okB := n.endpoints[b]
	if !okA || !okB {
		return fmt.Errorf("memory network: unknown endpoint %s or %s", a, b)
	}

	epA.mu.Lock()
	epA.connected[b] = struct{}{}
	epA.mu.Unlock()

	epB.mu.Lock()
	epB.connected[a] = struct{}{}
	epB.mu.Unlock()
	return nil
}

func (n *MemoryNetwork) lookup(id types.NodeID) *MemoryEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[id]
}

// ============================================================================
//                              内存端点
// ============================================================================

// MemoryEndpoint 进程内端点，实现 interfaces.Endpoint
type MemoryEndpoint struct {
	id      types.NodeID
	network *MemoryNetwork

	mu        sync.Mutex
	handlers  map[types.ProtocolID]interfaces.StreamHandler
	connected map[types.NodeID]struct{}
}

var _ interfaces.Endpoint = (*MemoryEndpoint)(nil)

// ID 返回端点标识
func (e *MemoryEndpoint) ID() types.NodeID {
	return e.id
}

// NewStream 打开到对端的协议流
//
// 对端的处理器在独立 goroutine 中收到流的另一端。
func (e *MemoryEndpoint) NewStream(_ context.Context, peer types.NodeID, protocol types.ProtocolID) (interfaces.Stream, error) {
	e.mu.Lock()
	_, ok := e.connected[peer]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memory network: %s not connected to %s", e.id, peer)
	}

	remote := e.network.lookup(peer)
	if remote == nil {
		return nil, fmt.Errorf("memory network: unknown endpoint %s", peer)
	}

	remote.mu.Lock()
	handler, ok := remote.handlers[protocol]
	remote.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memory network: %s has no handler for %s", peer, protocol)
	}

	local, far := newMemoryStreamPair(e.id, peer, protocol)
	go handler(far)
	return local, nil
}

// SetStreamHandler 注册协议处理器
func (e *MemoryEndpoint) SetStreamHandler(protocol types.ProtocolID, handler interfaces.StreamHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[protocol] = handler
}

// RemoveStreamHandler 移除协议处理器
func (e *MemoryEndpoint) RemoveStreamHandler(protocol types.ProtocolID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, protocol)
}

// ConnectedPeers 返回已连接的端点
func (e *MemoryEndpoint) ConnectedPeers() []types.NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()

	peers := make([]types.NodeID, 0, len(e.connected))
	for peer := range e.connected {
		peers = append(peers, peer)
	}
	return peers
}

// ============================================================================
//                              内存流
// ============================================================================

// memoryStream 内存管道流的一端
type memoryStream struct {
	r        *io.PipeReader
	w        *io.PipeWriter
	remote   types.NodeID
	protocol types.ProtocolID
}

// newMemoryStreamPair 创建一对互联的流
func newMemoryStreamPair(initiator, responder types.NodeID, protocol types.ProtocolID) (interfaces.Stream, interfaces.Stream) {
	ir, ww := io.Pipe()
	rr, iw := io.Pipe()
	return &memoryStream{r: ir, w: iw, remote: responder, protocol: protocol},
		&memoryStream{r: rr, w: ww, remote: initiator, protocol: protocol}
}

func (s *memoryStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *memoryStream) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *memoryStream) Close() error {
	_ = s.w.Close()
	return s.r.Close()
}

func (s *memoryStream) Reset() error {
	_ = s.w.CloseWithError(io.ErrClosedPipe)
	return s.r.CloseWithError(io.ErrClosedPipe)
}

func (s *memoryStream) RemotePeer() types.NodeID   { return s.remote }
func (s *memoryStream) Protocol() types.ProtocolID { return s.protocol }
