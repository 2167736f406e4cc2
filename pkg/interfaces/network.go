// Package interfaces 定义 meshsub 对底层网络的最小依赖
//
// 引擎与具体传输解耦：宿主程序提供 Stream/Dialer 实现（TCP、QUIC、
// 内存管道均可），引擎只通过这些接口读写。
package interfaces

import (
	"context"
	"io"

	"github.com/dep2p/go-meshsub/pkg/types"
)

// ============================================================================
//                              网络抽象
// ============================================================================

// Stream 一条与对端节点的有序可靠字节流
type Stream interface {
	io.ReadWriteCloser

	// RemotePeer 返回流对端的节点ID
	RemotePeer() types.NodeID

	// Protocol 返回该流协商出的协议ID
	Protocol() types.ProtocolID

	// Reset 异常终止流（两端都收到错误）
	Reset() error
}

// StreamHandler 入站流处理器
type StreamHandler func(Stream)

// Endpoint 引擎所需的宿主网络能力
type Endpoint interface {
	// ID 返回本节点的唯一标识符
	ID() types.NodeID

	// NewStream 向指定节点打开一条协议流
	NewStream(ctx context.Context, peer types.NodeID, protocol types.ProtocolID) (Stream, error)

	// SetStreamHandler 注册协议的入站流处理器
	SetStreamHandler(protocol types.ProtocolID, handler StreamHandler)

	// RemoveStreamHandler 移除协议的入站流处理器
	RemoveStreamHandler(protocol types.ProtocolID)

	// ConnectedPeers 返回当前已连接的节点列表
	ConnectedPeers() []types.NodeID
}

// Dialer 回拨拨号器
//
// AutoNAT 服务端通过它验证候选地址的公网可达性。
// addr 为不透明的地址字节（由宿主解释，通常是 multiaddr）。
type Dialer interface {
	// Dial 尝试通过指定地址连接节点，成功即表示地址可达
	Dial(ctx context.Context, peer types.NodeID, addr []byte) error
}
