package nat

import "errors"

// Sentinel errors
var (
	// ErrProtocolViolation 对端回复不符合协议
	ErrProtocolViolation = errors.New("autonat: protocol violation")

	// ErrNoAddresses 请求未携带可拨地址
	ErrNoAddresses = errors.New("autonat: no addresses to dial")

	// ErrMessageTooLarge 消息超过大小限制
	ErrMessageTooLarge = errors.New("autonat: message too large")

	// ErrStreamFailed 流读写失败
	ErrStreamFailed = errors.New("autonat: stream read/write failed")
)
