// Package types 定义 go-meshsub 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他 meshsub 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

// ============================================================================
//                              NodeID - 节点标识
// ============================================================================

// NodeID 节点唯一标识符
//
// 对 meshsub 而言 NodeID 是不透明的字节序列（由上层身份系统派生），
// 引擎只比较相等性，不解释内容。
type NodeID string

// String 返回 NodeID 的字符串表示
func (id NodeID) String() string {
	return string(id)
}

// ShortString 返回 NodeID 的短字符串表示
//
// 格式：前 8 个字符，用于日志中的简短标识。
func (id NodeID) ShortString() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// Bytes 返回 NodeID 的字节切片
func (id NodeID) Bytes() []byte {
	return []byte(id)
}

// IsEmpty 检查是否为空
func (id NodeID) IsEmpty() bool {
	return len(id) == 0
}

// NodeIDFromBytes 从字节序列构造 NodeID
func NodeIDFromBytes(b []byte) NodeID {
	return NodeID(b)
}

// ============================================================================
//                              ProtocolID - 协议标识
// ============================================================================

// ProtocolID 协议唯一标识符，如 "/meshsub/1.1.0"
type ProtocolID string

// String 返回协议 ID 字符串
func (p ProtocolID) String() string {
	return string(p)
}
