package types

import "fmt"

// ============================================================================
//                              消息类型
// ============================================================================

// Message 应用层消息（内存表示）
//
// ID 由 (From, Sequence) 派生，见 gossip.ComputeMessageID。
// Topics 是消息发布到的主题列表，路由时对每个主题独立处理。
type Message struct {
	ID        string   // 消息唯一标识
	From      NodeID   // 发布者节点ID
	Data      []byte   // 消息内容
	Sequence  []byte   // 发布者本地递增序列号（大端字节）
	Topics    []string // 目标主题列表
	Signature []byte   // 签名（可选）
	Key       []byte   // 签名公钥（可选）

	// ReceivedFrom 记录消息从哪个邻居到达（本地发布时等于本节点）。
	// 不参与消息ID计算，也不上线路。
	ReceivedFrom NodeID
}

// RPC 一次网络交换的完整单元
//
// 订阅变更、消息载荷与控制消息可以合并在同一个 RPC 中发送。
type RPC struct {
	Subscriptions []SubOpt        // 订阅变更
	Publish       []*Message      // 消息载荷
	Control       *ControlMessage // 控制消息（可缺失）
}

// SubOpt 订阅选项
type SubOpt struct {
	Subscribe bool   // true=订阅 false=退订
	Topic     string // 主题名
}

// ============================================================================
//                              控制消息
// ============================================================================

// ControlMessage 网格维护控制消息
//
// 四种控制类型可在同一条控制消息中批量携带。
type ControlMessage struct {
	IHave []ControlIHave // 拥有通告
	IWant []ControlIWant // 消息请求
	Graft []ControlGraft // 网格嫁接
	Prune []ControlPrune // 网格修剪
}

// IsEmpty 检查控制消息是否为空
func (c *ControlMessage) IsEmpty() bool {
	return c == nil ||
		(len(c.IHave) == 0 && len(c.IWant) == 0 &&
			len(c.Graft) == 0 && len(c.Prune) == 0)
}

// ControlIHave 通告本节点缓存的消息ID
type ControlIHave struct {
	Topic      string   // 主题名
	MessageIDs []string // 消息ID列表
}

// ControlIWant 请求对端缓存的消息
type ControlIWant struct {
	MessageIDs []string // 请求的消息ID列表
}

// ControlGraft 请求加入对端在某主题的网格
type ControlGraft struct {
	Topic string // 主题名
}

// ControlPrune 将对端移出本节点在某主题的网格
type ControlPrune struct {
	Topic   string     // 主题名
	Peers   []PeerInfo // 候选替代节点（PX）
	Backoff uint64     // 退避时长（秒，0 表示使用默认值）
}

// PeerInfo 节点交换信息
//
// SignedRecord 为签名的节点记录，接收方在信任前须自行校验。
type PeerInfo struct {
	ID           NodeID // 节点ID
	SignedRecord []byte // 签名节点记录（可缺失）
}

// ============================================================================
//                              主题描述符
// ============================================================================

// AuthMode 主题认证模式
type AuthMode int32

const (
	// AuthModeNone 无认证
	AuthModeNone AuthMode = 0
	// AuthModeKey 密钥认证
	AuthModeKey AuthMode = 1
	// AuthModeWOT 信任网络认证
	AuthModeWOT AuthMode = 2
)

// EncMode 主题加密模式
type EncMode int32

const (
	// EncModeNone 无加密
	EncModeNone EncMode = 0
	// EncModeSharedKey 共享密钥加密
	EncModeSharedKey EncMode = 1
	// EncModeWOT 信任网络加密
	EncModeWOT EncMode = 2
)

// TopicAuthOpts 主题认证选项
type TopicAuthOpts struct {
	Mode AuthMode
	Keys [][]byte // 授权发布者密钥
}

// TopicEncOpts 主题加密选项
type TopicEncOpts struct {
	Mode      EncMode
	KeyHashes [][]byte // 密钥哈希列表
}

// TopicDescriptor 主题元数据描述符
type TopicDescriptor struct {
	Name string
	Auth *TopicAuthOpts
	Enc  *TopicEncOpts
}

// Validate 检查描述符中的模式取值是否在枚举范围内
//
// nil 描述符视为有效（主题无元数据）。
func (d *TopicDescriptor) Validate() error {
	if d == nil {
		return nil
	}
	if d.Auth != nil && (d.Auth.Mode < AuthModeNone || d.Auth.Mode > AuthModeWOT) {
		return fmt.Errorf("types: invalid topic auth mode %d", d.Auth.Mode)
	}
	if d.Enc != nil && (d.Enc.Mode < EncModeNone || d.Enc.Mode > EncModeWOT) {
		return fmt.Errorf("types: invalid topic enc mode %d", d.Enc.Mode)
	}
	return nil
}
