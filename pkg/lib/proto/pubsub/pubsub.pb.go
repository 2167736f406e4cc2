// Package pubsub 包含 meshsub 路由协议的线路格式定义
//
// 对应 libp2p pubsub.proto（proto2 语义）：
//   - 可选标量字段使用指针表示存在性，缺失与零值可区分
//   - 可选 bytes 字段以 nil 表示缺失
//   - 未知字段默认保留，重新编码时原样输出（可通过 UnmarshalOptions 丢弃）
//
// 编解码基于 protowire 手写实现，不依赖 protoc 生成代码。
package pubsub

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedMessage 表示线路数据不完整或格式非法
//
// 截断的输入、越界的 varint、超出缓冲区的长度前缀均返回此错误。
var ErrMalformedMessage = errors.New("pubsub: malformed message")

// UnmarshalOptions 控制解码行为
type UnmarshalOptions struct {
	// DiscardUnknown 丢弃未知字段
	//
	// 默认（false）保留未知字段的原始字节，重新编码时附加在已知
	// 字段之后，保证中继节点不破坏新版本字段。
	DiscardUnknown bool
}

// ============================================================================
//                              指针辅助函数
// ============================================================================

// Bool 返回 bool 指针
func Bool(v bool) *bool { return &v }

// String 返回 string 指针
func String(v string) *string { return &v }

// Uint64 返回 uint64 指针
func Uint64(v uint64) *uint64 { return &v }

// ============================================================================
//                              RPC - 顶层交换单元
// ============================================================================

// RPC 一次网络交换的完整单元
type RPC struct {
	Subscriptions []*SubOpts      // field 1
	Publish       []*Message      // field 2
	Control       *ControlMessage // field 3

	unknown []byte
}

// Marshal 序列化 RPC
func (m *RPC) Marshal() ([]byte, error) {
	var b []byte
	for _, s := range m.Subscriptions {
		sb, err := s.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, sb)
	}
	for _, p := range m.Publish {
		pb, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	if m.Control != nil {
		cb, err := m.Control.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	return append(b, m.unknown...), nil
}

// Unmarshal 反序列化 RPC（保留未知字段）
func (m *RPC) Unmarshal(data []byte) error {
	return UnmarshalOptions{}.Unmarshal(data, m)
}

// Unmarshal 按选项反序列化 RPC
func (o UnmarshalOptions) Unmarshal(data []byte, m *RPC) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			s := new(SubOpts)
			if err := s.unmarshal(v, o); err != nil {
				return err
			}
			m.Subscriptions = append(m.Subscriptions, s)
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			msg := new(Message)
			if err := msg.unmarshal(v, o); err != nil {
				return err
			}
			m.Publish = append(m.Publish, msg)
			data = data[n+vn:]
		case num == 3 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			if m.Control == nil {
				m.Control = new(ControlMessage)
			}
			if err := m.Control.unmarshal(v, o); err != nil {
				return err
			}
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, o, &m.unknown)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
//                              SubOpts - 订阅变更
// ============================================================================

// SubOpts 订阅变更条目
//
// subscribe 与 topicid 均为 proto2 optional：缺失时字段为 nil，
// 路由器将缺失任一字段的条目作为非法条目拒绝。
type SubOpts struct {
	Subscribe *bool   // field 1
	Topicid   *string // field 2

	unknown []byte
}

// GetSubscribe 返回 subscribe 值（缺失时 false）
func (m *SubOpts) GetSubscribe() bool {
	if m != nil && m.Subscribe != nil {
		return *m.Subscribe
	}
	return false
}

// GetTopicid 返回 topicid 值（缺失时空串）
func (m *SubOpts) GetTopicid() string {
	if m != nil && m.Topicid != nil {
		return *m.Topicid
	}
	return ""
}

// Marshal 序列化 SubOpts
func (m *SubOpts) Marshal() ([]byte, error) {
	var b []byte
	if m.Subscribe != nil {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(*m.Subscribe))
	}
	if m.Topicid != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, *m.Topicid)
	}
	return append(b, m.unknown...), nil
}

// Unmarshal 反序列化 SubOpts（保留未知字段）
func (m *SubOpts) Unmarshal(data []byte) error {
	return m.unmarshal(data, UnmarshalOptions{})
}

func (m *SubOpts) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, vn := protowire.ConsumeVarint(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.Subscribe = Bool(protowire.DecodeBool(v))
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeString(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.Topicid = String(v)
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, o, &m.unknown)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
//                              Message - 消息载荷
// ============================================================================

// Message 应用层消息载荷
//
// bytes 字段以 nil 表示缺失；topicIDs 为 repeated。
type Message struct {
	From      []byte   // field 1
	Data      []byte   // field 2
	Seqno     []byte   // field 3
	TopicIDs  []string // field 4, repeated
	Signature []byte   // field 5
	Key       []byte   // field 6

	unknown []byte
}

// Marshal 序列化 Message
func (m *Message) Marshal() ([]byte, error) {
	var b []byte
	if m.From != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.From)
	}
	if m.Data != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	if m.Seqno != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Seqno)
	}
	for _, t := range m.TopicIDs {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, t)
	}
	if m.Signature != nil {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Signature)
	}
	if m.Key != nil {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Key)
	}
	return append(b, m.unknown...), nil
}

// Unmarshal 反序列化 Message（保留未知字段）
func (m *Message) Unmarshal(data []byte) error {
	return m.unmarshal(data, UnmarshalOptions{})
}

func (m *Message) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		if typ != protowire.BytesType || num < 1 || num > 6 {
			var err error
			data, err = skipField(data, n, num, typ, o, &m.unknown)
			if err != nil {
				return err
			}
			continue
		}
		v, vn := protowire.ConsumeBytes(data[n:])
		if vn < 0 {
			return ErrMalformedMessage
		}
		switch num {
		case 1:
			m.From = copyBytes(v)
		case 2:
			m.Data = copyBytes(v)
		case 3:
			m.Seqno = copyBytes(v)
		case 4:
			m.TopicIDs = append(m.TopicIDs, string(v))
		case 5:
			m.Signature = copyBytes(v)
		case 6:
			m.Key = copyBytes(v)
		}
		data = data[n+vn:]
	}
	return nil
}

// ============================================================================
//                              控制消息
// ============================================================================

// ControlMessage 网格维护控制消息
type ControlMessage struct {
	Ihave []*ControlIHave // field 1
	Iwant []*ControlIWant // field 2
	Graft []*ControlGraft // field 3
	Prune []*ControlPrune // field 4

	unknown []byte
}

// Marshal 序列化 ControlMessage
func (m *ControlMessage) Marshal() ([]byte, error) {
	var b []byte
	for _, e := range m.Ihave {
		eb, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	for _, e := range m.Iwant {
		eb, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	for _, e := range m.Graft {
		eb, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	for _, e := range m.Prune {
		eb, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	return append(b, m.unknown...), nil
}

func (m *ControlMessage) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		if typ != protowire.BytesType || num < 1 || num > 4 {
			var err error
			data, err = skipField(data, n, num, typ, o, &m.unknown)
			if err != nil {
				return err
			}
			continue
		}
		v, vn := protowire.ConsumeBytes(data[n:])
		if vn < 0 {
			return ErrMalformedMessage
		}
		switch num {
		case 1:
			e := new(ControlIHave)
			if err := e.unmarshal(v, o); err != nil {
				return err
			}
			m.Ihave = append(m.Ihave, e)
		case 2:
			e := new(ControlIWant)
			if err := e.unmarshal(v, o); err != nil {
				return err
			}
			m.Iwant = append(m.Iwant, e)
		case 3:
			e := new(ControlGraft)
			if err := e.unmarshal(v, o); err != nil {
				return err
			}
			m.Graft = append(m.Graft, e)
		case 4:
			e := new(ControlPrune)
			if err := e.unmarshal(v, o); err != nil {
				return err
			}
			m.Prune = append(m.Prune, e)
		}
		data = data[n+vn:]
	}
	return nil
}

// ControlIHave 拥有通告：本节点缓存了这些消息
type ControlIHave struct {
	TopicID    *string  // field 1
	MessageIDs []string // field 2, repeated

	unknown []byte
}

// GetTopicID 返回主题名（缺失时空串）
func (m *ControlIHave) GetTopicID() string {
	if m != nil && m.TopicID != nil {
		return *m.TopicID
	}
	return ""
}

// Marshal 序列化 ControlIHave
func (m *ControlIHave) Marshal() ([]byte, error) {
	var b []byte
	if m.TopicID != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, *m.TopicID)
	}
	for _, id := range m.MessageIDs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	return append(b, m.unknown...), nil
}

func (m *ControlIHave) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeString(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.TopicID = String(v)
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeString(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.MessageIDs = append(m.MessageIDs, v)
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, o, &m.unknown)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ControlIWant 消息请求：请求发送这些消息ID对应的缓存内容
type ControlIWant struct {
	MessageIDs []string // field 1, repeated

	unknown []byte
}

// Marshal 序列化 ControlIWant
func (m *ControlIWant) Marshal() ([]byte, error) {
	var b []byte
	for _, id := range m.MessageIDs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	return append(b, m.unknown...), nil
}

func (m *ControlIWant) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		if num == 1 && typ == protowire.BytesType {
			v, vn := protowire.ConsumeString(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.MessageIDs = append(m.MessageIDs, v)
			data = data[n+vn:]
			continue
		}
		var err error
		data, err = skipField(data, n, num, typ, o, &m.unknown)
		if err != nil {
			return err
		}
	}
	return nil
}

// ControlGraft 网格嫁接请求
type ControlGraft struct {
	TopicID *string // field 1

	unknown []byte
}

// GetTopicID 返回主题名（缺失时空串）
func (m *ControlGraft) GetTopicID() string {
	if m != nil && m.TopicID != nil {
		return *m.TopicID
	}
	return ""
}

// Marshal 序列化 ControlGraft
func (m *ControlGraft) Marshal() ([]byte, error) {
	var b []byte
	if m.TopicID != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, *m.TopicID)
	}
	return append(b, m.unknown...), nil
}

// Unmarshal 反序列化 ControlGraft（保留未知字段）
func (m *ControlGraft) Unmarshal(data []byte) error {
	return m.unmarshal(data, UnmarshalOptions{})
}

func (m *ControlGraft) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		if num == 1 && typ == protowire.BytesType {
			v, vn := protowire.ConsumeString(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.TopicID = String(v)
			data = data[n+vn:]
			continue
		}
		var err error
		data, err = skipField(data, n, num, typ, o, &m.unknown)
		if err != nil {
			return err
		}
	}
	return nil
}

// ControlPrune 网格修剪通知
//
// backoff 为 proto2 optional uint64：缺失时接收方使用默认退避。
type ControlPrune struct {
	TopicID *string     // field 1
	Peers   []*PeerInfo // field 2, repeated
	Backoff *uint64     // field 3, 秒

	unknown []byte
}

// GetTopicID 返回主题名（缺失时空串）
func (m *ControlPrune) GetTopicID() string {
	if m != nil && m.TopicID != nil {
		return *m.TopicID
	}
	return ""
}

// GetBackoff 返回退避秒数（缺失时 0）
func (m *ControlPrune) GetBackoff() uint64 {
	if m != nil && m.Backoff != nil {
		return *m.Backoff
	}
	return 0
}

// Marshal 序列化 ControlPrune
func (m *ControlPrune) Marshal() ([]byte, error) {
	var b []byte
	if m.TopicID != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, *m.TopicID)
	}
	for _, p := range m.Peers {
		pb, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	if m.Backoff != nil {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.Backoff)
	}
	return append(b, m.unknown...), nil
}

func (m *ControlPrune) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeString(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.TopicID = String(v)
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			p := new(PeerInfo)
			if err := p.unmarshal(v, o); err != nil {
				return err
			}
			m.Peers = append(m.Peers, p)
			data = data[n+vn:]
		case num == 3 && typ == protowire.VarintType:
			v, vn := protowire.ConsumeVarint(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.Backoff = Uint64(v)
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, o, &m.unknown)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// PeerInfo 节点交换信息（PX）
type PeerInfo struct {
	PeerID           []byte // field 1
	SignedPeerRecord []byte // field 2

	unknown []byte
}

// Marshal 序列化 PeerInfo
func (m *PeerInfo) Marshal() ([]byte, error) {
	var b []byte
	if m.PeerID != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.PeerID)
	}
	if m.SignedPeerRecord != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.SignedPeerRecord)
	}
	return append(b, m.unknown...), nil
}

func (m *PeerInfo) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.PeerID = copyBytes(v)
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.SignedPeerRecord = copyBytes(v)
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, o, &m.unknown)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
//                              主题描述符
// ============================================================================

// AuthOpts_AuthMode 主题认证模式
type AuthOpts_AuthMode int32

const (
	// AuthOpts_NONE 无认证
	AuthOpts_NONE AuthOpts_AuthMode = 0
	// AuthOpts_KEY 密钥认证
	AuthOpts_KEY AuthOpts_AuthMode = 1
	// AuthOpts_WOT 信任网络认证
	AuthOpts_WOT AuthOpts_AuthMode = 2
)

// EncOpts_EncMode 主题加密模式
type EncOpts_EncMode int32

const (
	// EncOpts_NONE 无加密
	EncOpts_NONE EncOpts_EncMode = 0
	// EncOpts_SHAREDKEY 共享密钥加密
	EncOpts_SHAREDKEY EncOpts_EncMode = 1
	// EncOpts_WOT 信任网络加密
	EncOpts_WOT EncOpts_EncMode = 2
)

// AuthOpts 主题认证选项
type AuthOpts struct {
	Mode *AuthOpts_AuthMode // field 1
	Keys [][]byte           // field 2, repeated

	unknown []byte
}

// GetMode 返回认证模式（缺失时 NONE）
func (m *AuthOpts) GetMode() AuthOpts_AuthMode {
	if m != nil && m.Mode != nil {
		return *m.Mode
	}
	return AuthOpts_NONE
}

// Marshal 序列化 AuthOpts
func (m *AuthOpts) Marshal() ([]byte, error) {
	var b []byte
	if m.Mode != nil {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.Mode))
	}
	for _, k := range m.Keys {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, k)
	}
	return append(b, m.unknown...), nil
}

func (m *AuthOpts) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, vn := protowire.ConsumeVarint(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			mode := AuthOpts_AuthMode(v)
			m.Mode = &mode
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.Keys = append(m.Keys, copyBytes(v))
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, o, &m.unknown)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// EncOpts 主题加密选项
type EncOpts struct {
	Mode      *EncOpts_EncMode // field 1
	KeyHashes [][]byte         // field 2, repeated

	unknown []byte
}

// GetMode 返回加密模式（缺失时 NONE）
func (m *EncOpts) GetMode() EncOpts_EncMode {
	if m != nil && m.Mode != nil {
		return *m.Mode
	}
	return EncOpts_NONE
}

// Marshal 序列化 EncOpts
func (m *EncOpts) Marshal() ([]byte, error) {
	var b []byte
	if m.Mode != nil {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.Mode))
	}
	for _, h := range m.KeyHashes {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, h)
	}
	return append(b, m.unknown...), nil
}

func (m *EncOpts) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, vn := protowire.ConsumeVarint(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			mode := EncOpts_EncMode(v)
			m.Mode = &mode
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.KeyHashes = append(m.KeyHashes, copyBytes(v))
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, o, &m.unknown)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// TopicDescriptor 主题元数据描述符
type TopicDescriptor struct {
	Name *string   // field 1
	Auth *AuthOpts // field 2
	Enc  *EncOpts  // field 3

	unknown []byte
}

// GetName 返回主题名（缺失时空串）
func (m *TopicDescriptor) GetName() string {
	if m != nil && m.Name != nil {
		return *m.Name
	}
	return ""
}

// Marshal 序列化 TopicDescriptor
func (m *TopicDescriptor) Marshal() ([]byte, error) {
	var b []byte
	if m.Name != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, *m.Name)
	}
	if m.Auth != nil {
		ab, err := m.Auth.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, ab)
	}
	if m.Enc != nil {
		eb, err := m.Enc.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	return append(b, m.unknown...), nil
}

// Unmarshal 反序列化 TopicDescriptor（保留未知字段）
func (m *TopicDescriptor) Unmarshal(data []byte) error {
	return m.unmarshal(data, UnmarshalOptions{})
}

func (m *TopicDescriptor) unmarshal(data []byte, o UnmarshalOptions) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeString(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.Name = String(v)
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			if m.Auth == nil {
				m.Auth = new(AuthOpts)
			}
			if err := m.Auth.unmarshal(v, o); err != nil {
				return err
			}
			data = data[n+vn:]
		case num == 3 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			if m.Enc == nil {
				m.Enc = new(EncOpts)
			}
			if err := m.Enc.unmarshal(v, o); err != nil {
				return err
			}
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, o, &m.unknown)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
//                              内部辅助
// ============================================================================

// skipField 跳过一个未知字段，按选项保留其原始字节
//
// data 以完整字段（含 tag）开头，tagLen 为已解析 tag 的字节数。
// 返回剩余数据。
func skipField(data []byte, tagLen int, num protowire.Number, typ protowire.Type, o UnmarshalOptions, unknown *[]byte) ([]byte, error) {
	vn := protowire.ConsumeFieldValue(num, typ, data[tagLen:])
	if vn < 0 {
		return nil, ErrMalformedMessage
	}
	if !o.DiscardUnknown {
		*unknown = append(*unknown, data[:tagLen+vn]...)
	}
	return data[tagLen+vn:], nil
}

func copyBytes(v []byte) []byte {
	b := make([]byte, len(v))
	copy(b, v)
	return b
}
