package gossip

import "errors"

// 错误定义
var (
	// ErrMessageTooLarge 消息超过 MaxMessageSize 限制
	ErrMessageTooLarge = errors.New("gossip: message too large")

	// ErrUnknownTopic 主题未订阅或不存在
	ErrUnknownTopic = errors.New("gossip: unknown topic")

	// ErrInvalidMessage 消息缺失必要字段
	ErrInvalidMessage = errors.New("gossip: invalid message")

	// ErrNotRunning 路由器未启动
	ErrNotRunning = errors.New("gossip: router not running")

	// ErrTopicClosed 主题句柄已关闭
	ErrTopicClosed = errors.New("gossip: topic closed")

	// ErrReadFailed 从流读取失败
	ErrReadFailed = errors.New("gossip: read failed")

	// ErrWriteFailed 向流写入失败
	ErrWriteFailed = errors.New("gossip: write failed")
)
