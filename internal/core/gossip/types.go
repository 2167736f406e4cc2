// Package gossip 实现 gossip-mesh 路由协议引擎
//
// 协议通过四种控制消息维护每主题的 mesh 覆盖网络：
//   - GRAFT: 请求加入对端的 mesh
//   - PRUNE: 将对端移出 mesh（可附带退避时长与候选节点）
//   - IHAVE: 向非 mesh 订阅者通告缓存的消息 ID
//   - IWANT: 请求 IHAVE 中未见过的消息
//
// 本包使用 pkg/types 中的统一类型定义。
package gossip

import (
	"github.com/dep2p/go-meshsub/pkg/types"
)

// ============================================================================
//                              类型别名 - 使用统一类型
// ============================================================================

// NodeID 节点标识（类型别名）
type NodeID = types.NodeID

// RPC 网络交换单元（类型别名）
type RPC = types.RPC

// SubOpt 订阅变更（类型别名）
type SubOpt = types.SubOpt

// Message 应用层消息（类型别名）
type Message = types.Message

// ControlMessage 控制消息（类型别名）
type ControlMessage = types.ControlMessage

// ControlIHaveMessage IHAVE 条目（类型别名）
type ControlIHaveMessage = types.ControlIHave

// ControlIWantMessage IWANT 条目（类型别名）
type ControlIWantMessage = types.ControlIWant

// ControlGraftMessage GRAFT 条目（类型别名）
type ControlGraftMessage = types.ControlGraft

// ControlPruneMessage PRUNE 条目（类型别名）
type ControlPruneMessage = types.ControlPrune

// PeerInfo 节点交换信息（类型别名）
type PeerInfo = types.PeerInfo

// TopicDescriptor 主题描述符（类型别名）
type TopicDescriptor = types.TopicDescriptor
