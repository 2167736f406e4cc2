// Package autonat 包含 AutoNAT 回拨协议的线路格式定义
//
// 对应 libp2p autonat.proto（proto2 语义）：可选标量字段使用指针
// 表示存在性。编解码基于 protowire 手写实现。
package autonat

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedMessage 表示线路数据不完整或格式非法
var ErrMalformedMessage = errors.New("autonat: malformed message")

// ============================================================================
//                              枚举
// ============================================================================

// Message_MessageType 消息类型
type Message_MessageType int32

const (
	// Message_DIAL 回拨请求
	Message_DIAL Message_MessageType = 0
	// Message_DIAL_RESPONSE 回拨响应
	Message_DIAL_RESPONSE Message_MessageType = 1
)

// Message_ResponseStatus 回拨结果状态码
type Message_ResponseStatus int32

const (
	// Message_OK 回拨成功
	Message_OK Message_ResponseStatus = 0
	// Message_E_DIAL_ERROR 请求中没有可拨打的地址
	Message_E_DIAL_ERROR Message_ResponseStatus = 100
	// Message_E_DIAL_REFUSED 请求被拒绝（如超出速率限制）
	Message_E_DIAL_REFUSED Message_ResponseStatus = 101
	// Message_E_DIAL_FAILED 所有地址均拨打失败
	Message_E_DIAL_FAILED Message_ResponseStatus = 102
	// Message_E_BAD_REQUEST 请求格式非法
	Message_E_BAD_REQUEST Message_ResponseStatus = 200
	// Message_E_INTERNAL_ERROR 服务端内部错误
	Message_E_INTERNAL_ERROR Message_ResponseStatus = 300
)

// String 返回状态码的可读名称
func (s Message_ResponseStatus) String() string {
	switch s {
	case Message_OK:
		return "OK"
	case Message_E_DIAL_ERROR:
		return "E_DIAL_ERROR"
	case Message_E_DIAL_REFUSED:
		return "E_DIAL_REFUSED"
	case Message_E_DIAL_FAILED:
		return "E_DIAL_FAILED"
	case Message_E_BAD_REQUEST:
		return "E_BAD_REQUEST"
	case Message_E_INTERNAL_ERROR:
		return "E_INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ============================================================================
//                              指针辅助函数
// ============================================================================

// Type 返回消息类型指针
func Type(t Message_MessageType) *Message_MessageType { return &t }

// Status 返回状态码指针
func Status(s Message_ResponseStatus) *Message_ResponseStatus { return &s }

// String 返回 string 指针
func String(v string) *string { return &v }

// ============================================================================
//                              Message - 顶层信封
// ============================================================================

// Message AutoNAT 协议信封
type Message struct {
	Type         *Message_MessageType  // field 1
	Dial         *Message_Dial         // field 2
	DialResponse *Message_DialResponse // field 3

	unknown []byte
}

// GetType 返回消息类型（缺失时 DIAL）
func (m *Message) GetType() Message_MessageType {
	if m != nil && m.Type != nil {
		return *m.Type
	}
	return Message_DIAL
}

// Marshal 序列化 Message
func (m *Message) Marshal() ([]byte, error) {
	var b []byte
	if m.Type != nil {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.Type))
	}
	if m.Dial != nil {
		db, err := m.Dial.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, db)
	}
	if m.DialResponse != nil {
		rb, err := m.DialResponse.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, rb)
	}
	return append(b, m.unknown...), nil
}

// Unmarshal 反序列化 Message
func (m *Message) Unmarshal(data []byte) error {
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
			m.Type = Type(Message_MessageType(v))
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			if m.Dial == nil {
				m.Dial = new(Message_Dial)
			}
			if err := m.Dial.Unmarshal(v); err != nil {
				return err
			}
			data = data[n+vn:]
		case num == 3 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			if m.DialResponse == nil {
				m.DialResponse = new(Message_DialResponse)
			}
			if err := m.DialResponse.Unmarshal(v); err != nil {
				return err
			}
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, &m.unknown)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
//                              Dial / PeerInfo
// ============================================================================

// Message_Dial 回拨请求体
type Message_Dial struct {
	Peer *Message_PeerInfo // field 1

	unknown []byte
}

// Marshal 序列化 Message_Dial
func (m *Message_Dial) Marshal() ([]byte, error) {
	var b []byte
	if m.Peer != nil {
		pb, err := m.Peer.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	return append(b, m.unknown...), nil
}

// Unmarshal 反序列化 Message_Dial
func (m *Message_Dial) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedMessage
		}
		if num == 1 && typ == protowire.BytesType {
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			if m.Peer == nil {
				m.Peer = new(Message_PeerInfo)
			}
			if err := m.Peer.Unmarshal(v); err != nil {
				return err
			}
			data = data[n+vn:]
			continue
		}
		var err error
		data, err = skipField(data, n, num, typ, &m.unknown)
		if err != nil {
			return err
		}
	}
	return nil
}

// Message_PeerInfo 请求回拨的节点信息
type Message_PeerInfo struct {
	ID    []byte   // field 1
	Addrs [][]byte // field 2, repeated

	unknown []byte
}

// Marshal 序列化 Message_PeerInfo
func (m *Message_PeerInfo) Marshal() ([]byte, error) {
	var b []byte
	if m.ID != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.ID)
	}
	for _, a := range m.Addrs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, a)
	}
	return append(b, m.unknown...), nil
}

// Unmarshal 反序列化 Message_PeerInfo
func (m *Message_PeerInfo) Unmarshal(data []byte) error {
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
			m.ID = copyBytes(v)
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.Addrs = append(m.Addrs, copyBytes(v))
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, &m.unknown)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
//                              DialResponse
// ============================================================================

// Message_DialResponse 回拨响应体
//
// 拨打失败以 status 表达，而非传输层错误。
type Message_DialResponse struct {
	Status     *Message_ResponseStatus // field 1
	StatusText *string                 // field 2
	Addr       []byte                  // field 3, 成功连通的地址

	unknown []byte
}

// GetStatus 返回状态码（缺失时 OK）
func (m *Message_DialResponse) GetStatus() Message_ResponseStatus {
	if m != nil && m.Status != nil {
		return *m.Status
	}
	return Message_OK
}

// GetStatusText 返回状态描述（缺失时空串）
func (m *Message_DialResponse) GetStatusText() string {
	if m != nil && m.StatusText != nil {
		return *m.StatusText
	}
	return ""
}

// Marshal 序列化 Message_DialResponse
func (m *Message_DialResponse) Marshal() ([]byte, error) {
	var b []byte
	if m.Status != nil {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.Status))
	}
	if m.StatusText != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, *m.StatusText)
	}
	if m.Addr != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Addr)
	}
	return append(b, m.unknown...), nil
}

// Unmarshal 反序列化 Message_DialResponse
func (m *Message_DialResponse) Unmarshal(data []byte) error {
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
			m.Status = Status(Message_ResponseStatus(v))
			data = data[n+vn:]
		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeString(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.StatusText = String(v)
			data = data[n+vn:]
		case num == 3 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data[n:])
			if vn < 0 {
				return ErrMalformedMessage
			}
			m.Addr = copyBytes(v)
			data = data[n+vn:]
		default:
			var err error
			data, err = skipField(data, n, num, typ, &m.unknown)
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

// skipField 跳过一个未知字段并保留其原始字节
func skipField(data []byte, tagLen int, num protowire.Number, typ protowire.Type, unknown *[]byte) ([]byte, error) {
	vn := protowire.ConsumeFieldValue(num, typ, data[tagLen:])
	if vn < 0 {
		return nil, ErrMalformedMessage
	}
	*unknown = append(*unknown, data[:tagLen+vn]...)
	return data[tagLen+vn:], nil
}

func copyBytes(v []byte) []byte {
	b := make([]byte, len(v))
	copy(b, v)
	return b
}
