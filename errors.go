package meshsub

import "errors"

// Sentinel errors
var (
	// ErrAutoNATDisabled 节点未启用 AutoNAT 服务
	ErrAutoNATDisabled = errors.New("meshsub: autonat disabled")

	// ErrNilEndpoint 未提供网络端点
	ErrNilEndpoint = errors.New("meshsub: endpoint is nil")
)
