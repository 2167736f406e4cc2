package gossip

import (
	"context"
	"sync"
)

// ============================================================================
//                              主题句柄
// ============================================================================

// Topic 已加入主题的句柄
//
// 关闭后所有操作返回 ErrTopicClosed。描述符在加入时记录，之后
// 不可更改。
type Topic struct {
	router *Router
	name   string

	mu     sync.Mutex
	closed bool
}

// Topic 加入主题并返回句柄
//
// 重复加入同一主题返回新句柄，共享同一份 mesh 状态；已有描述符
// 时传入的 desc 被忽略。
func (r *Router) Topic(name string, desc *TopicDescriptor) (*Topic, error) {
	if name == "" {
		return nil, ErrUnknownTopic
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if err := r.Join(name, desc); err != nil {
		return nil, err
	}
	return &Topic{router: r, name: name}, nil
}

// Name 返回主题名
func (t *Topic) Name() string {
	return t.name
}

// Descriptor 返回主题描述符（可能为 nil）
func (t *Topic) Descriptor() *TopicDescriptor {
	return t.router.mesh.Descriptor(t.name)
}

// Publish 发布消息到该主题
func (t *Topic) Publish(ctx context.Context, data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTopicClosed
	}
	t.mu.Unlock()

	return t.router.Publish(ctx, t.name, data)
}

// Subscribe 订阅该主题的本地投递
func (t *Topic) Subscribe() (<-chan *Message, func(), error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, nil, ErrTopicClosed
	}
	t.mu.Unlock()

	return t.router.Subscribe(t.name, nil)
}

// Peers 返回该主题的已知订阅者
func (t *Topic) Peers() []NodeID {
	return t.router.mesh.PeersInTopic(t.name)
}

// Close 关闭句柄并离开主题
//
// 幂等；离开会向 mesh 成员发送携带退避的 PRUNE。
func (t *Topic) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	return t.router.Leave(t.name)
}
