package gossip

import (
	"errors"
	"io"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-meshsub/pkg/lib/proto/pubsub"
	"github.com/dep2p/go-meshsub/pkg/types"
)

// ============================================================================
//                              协议常量
// ============================================================================

// ProtocolMeshsub mesh 路由协议 ID
const ProtocolMeshsub types.ProtocolID = "/meshsub/1.1.0"

// MaxRPCSize 单个 RPC 的最大字节数
const MaxRPCSize = 10 * 1024 * 1024 // 10 MB

// streamWriteTimeout 出站流写入超时
const streamWriteTimeout = 10 * time.Second

// ============================================================================
//                              RPC 编解码器
// ============================================================================

// RPCCodec 在内存类型与线路格式之间转换
//
// 线路侧使用 proto2 存在性语义；内存侧使用 pkg/types 的值类型。
// 缺失必要存在位的订阅条目在解码时按条目丢弃，不影响同一 RPC 中
// 的其他内容。
type RPCCodec struct{}

// NewRPCCodec 创建 RPC 编解码器
func NewRPCCodec() *RPCCodec {
	return &RPCCodec{}
}

// EncodeRPC 编码 RPC 为线路字节
func (c *RPCCodec) EncodeRPC(rpc *RPC) ([]byte, error) {
	return c.toWire(rpc).Marshal()
}

// DecodeRPC 从线路字节解码 RPC
//
// 返回的 droppedSubs 是因缺失 subscribe/topicid 存在位被丢弃的
// 订阅条目数。
func (c *RPCCodec) DecodeRPC(data []byte) (rpc *RPC, droppedSubs int, err error) {
	if len(data) > MaxRPCSize {
		return nil, 0, ErrMessageTooLarge
	}

	wire := new(pubsub.RPC)
	if err := wire.Unmarshal(data); err != nil {
		return nil, 0, err
	}

	rpc, droppedSubs = c.fromWire(wire)
	return rpc, droppedSubs, nil
}

// toWire 内存 RPC -> 线路 RPC
func (c *RPCCodec) toWire(rpc *RPC) *pubsub.RPC {
	wire := new(pubsub.RPC)

	for _, sub := range rpc.Subscriptions {
		wire.Subscriptions = append(wire.Subscriptions, &pubsub.SubOpts{
			Subscribe: pubsub.Bool(sub.Subscribe),
			Topicid:   pubsub.String(sub.Topic),
		})
	}

	for _, msg := range rpc.Publish {
		wire.Publish = append(wire.Publish, &pubsub.Message{
			From:      msg.From.Bytes(),
			Data:      msg.Data,
			Seqno:     msg.Sequence,
			TopicIDs:  msg.Topics,
			Signature: msg.Signature,
			Key:       msg.Key,
		})
	}

	if !rpc.Control.IsEmpty() {
		wire.Control = c.controlToWire(rpc.Control)
	}

	return wire
}

func (c *RPCCodec) controlToWire(ctrl *ControlMessage) *pubsub.ControlMessage {
	wire := new(pubsub.ControlMessage)

	for _, ihave := range ctrl.IHave {
		wire.Ihave = append(wire.Ihave, &pubsub.ControlIHave{
			TopicID:    pubsub.String(ihave.Topic),
			MessageIDs: ihave.MessageIDs,
		})
	}
	for _, iwant := range ctrl.IWant {
		wire.Iwant = append(wire.Iwant, &pubsub.ControlIWant{
			MessageIDs: iwant.MessageIDs,
		})
	}
	for _, graft := range ctrl.Graft {
		wire.Graft = append(wire.Graft, &pubsub.ControlGraft{
			TopicID: pubsub.String(graft.Topic),
		})
	}
	for _, prune := range ctrl.Prune {
		wp := &pubsub.ControlPrune{
			TopicID: pubsub.String(prune.Topic),
		}
		if prune.Backoff > 0 {
			wp.Backoff = pubsub.Uint64(prune.Backoff)
		}
		for _, px := range prune.Peers {
			wp.Peers = append(wp.Peers, &pubsub.PeerInfo{
				PeerID:           px.ID.Bytes(),
				SignedPeerRecord: px.SignedRecord,
			})
		}
		wire.Prune = append(wire.Prune, wp)
	}

	return wire
}

// fromWire 线路 RPC -> 内存 RPC
func (c *RPCCodec) fromWire(wire *pubsub.RPC) (*RPC, int) {
	rpc := new(RPC)
	dropped := 0

	for _, sub := range wire.Subscriptions {
		// proto2 存在性：两个字段都必须显式存在
		if sub.Subscribe == nil || sub.Topicid == nil {
			dropped++
			continue
		}
		rpc.Subscriptions = append(rpc.Subscriptions, SubOpt{
			Subscribe: *sub.Subscribe,
			Topic:     *sub.Topicid,
		})
	}

	for _, wm := range wire.Publish {
		msg := &Message{
			From:      types.NodeIDFromBytes(wm.From),
			Data:      wm.Data,
			Sequence:  wm.Seqno,
			Topics:    wm.TopicIDs,
			Signature: wm.Signature,
			Key:       wm.Key,
		}
		msg.ID = ComputeMessageID(msg)
		rpc.Publish = append(rpc.Publish, msg)
	}

	if wire.Control != nil {
		rpc.Control = c.controlFromWire(wire.Control)
	}

	return rpc, dropped
}

func (c *RPCCodec) controlFromWire(wire *pubsub.ControlMessage) *ControlMessage {
	ctrl := new(ControlMessage)

	for _, ihave := range wire.Ihave {
		ctrl.IHave = append(ctrl.IHave, ControlIHaveMessage{
			Topic:      ihave.GetTopicID(),
			MessageIDs: ihave.MessageIDs,
		})
	}
	for _, iwant := range wire.Iwant {
		ctrl.IWant = append(ctrl.IWant, ControlIWantMessage{
			MessageIDs: iwant.MessageIDs,
		})
	}
	for _, graft := range wire.Graft {
		ctrl.Graft = append(ctrl.Graft, ControlGraftMessage{
			Topic: graft.GetTopicID(),
		})
	}
	for _, prune := range wire.Prune {
		mp := ControlPruneMessage{
			Topic:   prune.GetTopicID(),
			Backoff: prune.GetBackoff(),
		}
		for _, px := range prune.Peers {
			mp.Peers = append(mp.Peers, PeerInfo{
				ID:           types.NodeIDFromBytes(px.PeerID),
				SignedRecord: px.SignedPeerRecord,
			})
		}
		ctrl.Prune = append(ctrl.Prune, mp)
	}

	return ctrl
}

// ============================================================================
//                              流式编解码
// ============================================================================

// WriteRPC 将 RPC 写入流（uvarint 长度前缀）
func WriteRPC(w io.Writer, rpc *RPC) error {
	data, err := NewRPCCodec().EncodeRPC(rpc)
	if err != nil {
		return err
	}

	if _, err := w.Write(varint.ToUvarint(uint64(len(data)))); err != nil {
		return ErrWriteFailed
	}
	if _, err := w.Write(data); err != nil {
		return ErrWriteFailed
	}
	return nil
}

// ReadRPC 从流读取一个 RPC
func ReadRPC(r io.Reader) (*RPC, error) {
	length, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		// 消息边界上的 EOF 是正常的流结束
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrReadFailed
	}
	if length > MaxRPCSize {
		return nil, ErrMessageTooLarge
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, ErrReadFailed
	}

	rpc, _, err := NewRPCCodec().DecodeRPC(data)
	return rpc, err
}

// byteReader 将 io.Reader 适配为 io.ByteReader（逐字节读取长度前缀）
type byteReader struct {
	r io.Reader
}

func (br byteReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(br.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ============================================================================
//                              消息 ID 计算
// ============================================================================

// ComputeMessageID 计算消息 ID
//
// ID 由 (From, Sequence) 派生：同一发布者的同一序列号在全网对应
// 同一 ID，与接收路径无关，用于去重与 IHAVE/IWANT 引用。
func ComputeMessageID(msg *Message) string {
	return string(msg.From) + string(msg.Sequence)
}
