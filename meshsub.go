package meshsub

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-meshsub/internal/core/gossip"
	"github.com/dep2p/go-meshsub/internal/core/nat"
	"github.com/dep2p/go-meshsub/internal/util/logger"
	"github.com/dep2p/go-meshsub/pkg/interfaces"
	"github.com/dep2p/go-meshsub/pkg/lib/proto/autonat"
	"github.com/dep2p/go-meshsub/pkg/types"
)

var log = logger.Logger("meshsub")

// 重导出常用类型，调用方无须直接依赖内部包
type (
	// Message 已投递的消息
	Message = types.Message

	// TopicDescriptor 主题描述符
	TopicDescriptor = types.TopicDescriptor

	// Topic 已加入主题的句柄
	Topic = gossip.Topic

	// DialResponse 回拨结论
	DialResponse = autonat.Message_DialResponse
)

// ============================================================================
//                              节点门面
// ============================================================================

// Node meshsub 节点
//
// 聚合路由引擎与 AutoNAT 服务，是使用本库的主入口。
type Node struct {
	endpoint interfaces.Endpoint
	app      *fx.App

	router        *gossip.Router
	autonatClient *nat.Client

	mu      sync.Mutex
	started bool
}

// New 创建节点
//
// endpoint 由宿主提供，承载全部网络读写。
func New(endpoint interfaces.Endpoint, opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	node := &Node{endpoint: endpoint}
	node.app = buildFxApp(node, endpoint, o)
	if err := node.app.Err(); err != nil {
		return nil, err
	}
	return node, nil
}

// Start 启动节点
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}

	if err := n.app.Start(ctx); err != nil {
		return err
	}
	n.started = true
	log.Info("节点已启动", "id", n.endpoint.ID().ShortString())
	return nil
}

// Stop 停止节点，聚合关闭过程中的全部错误
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return nil
	}
	n.started = false

	var err error
	err = multierr.Append(err, n.router.Stop())
	err = multierr.Append(err, n.app.Stop(ctx))
	if err != nil {
		log.Warn("节点关闭时出现错误", "err", err)
	}
	return err
}

// ID 返回节点标识
func (n *Node) ID() types.NodeID {
	return n.endpoint.ID()
}

// ============================================================================
//                              消息路由
// ============================================================================

// Join 加入主题并返回句柄
func (n *Node) Join(topic string, desc *TopicDescriptor) (*Topic, error) {
	return n.router.Topic(topic, desc)
}

// Publish 发布消息到主题（未加入的主题走 fanout）
func (n *Node) Publish(ctx context.Context, topic string, data []byte) error {
	return n.router.Publish(ctx, topic, data)
}

// Topics 返回已加入的主题
func (n *Node) Topics() []string {
	return n.router.Topics()
}

// Router 返回底层路由引擎
func (n *Node) Router() *gossip.Router {
	return n.router
}

// AddPeer 通知引擎有新节点连接
func (n *Node) AddPeer(peer types.NodeID) {
	n.router.AddPeer(peer)
}

// RemovePeer 通知引擎节点已断开
func (n *Node) RemovePeer(peer types.NodeID) {
	n.router.RemovePeer(peer)
}

// ============================================================================
//                              可达性探测
// ============================================================================

// Probe 请求 server 回拨验证本节点地址的公网可达性
func (n *Node) Probe(ctx context.Context, server types.NodeID, addrs [][]byte) (*DialResponse, error) {
	if n.autonatClient == nil {
		return nil, ErrAutoNATDisabled
	}
	return n.autonatClient.Probe(ctx, server, addrs)
}
