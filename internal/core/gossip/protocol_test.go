package gossip

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshsub/pkg/lib/proto/pubsub"
)

// ============================================================================
//                              编解码测试
// ============================================================================

func TestRPCCodecSubscriptions(t *testing.T) {
	codec := NewRPCCodec()

	rpc := &RPC{
		Subscriptions: []SubOpt{
			{Subscribe: true, Topic: "news"},
			{Subscribe: false, Topic: "sports"},
		},
	}

	data, err := codec.EncodeRPC(rpc)
	require.NoError(t, err)

	decoded, dropped, err := codec.DecodeRPC(data)
	require.NoError(t, err)
	assert.Zero(t, dropped)
	require.Len(t, decoded.Subscriptions, 2)
	assert.Equal(t, SubOpt{Subscribe: true, Topic: "news"}, decoded.Subscriptions[0])
	assert.Equal(t, SubOpt{Subscribe: false, Topic: "sports"}, decoded.Subscriptions[1])
}

func TestRPCCodecMessage(t *testing.T) {
	codec := NewRPCCodec()

	msg := &Message{
		From:     "publisher",
		Data:     []byte("hello world"),
		Sequence: []byte{0, 0, 0, 0, 0, 0, 0, 42},
		Topics:   []string{"news", "sports"},
	}
	msg.ID = ComputeMessageID(msg)

	data, err := codec.EncodeRPC(&RPC{Publish: []*Message{msg}})
	require.NoError(t, err)

	decoded, _, err := codec.DecodeRPC(data)
	require.NoError(t, err)
	require.Len(t, decoded.Publish, 1)

	got := decoded.Publish[0]
	assert.Equal(t, msg.From, got.From)
	assert.Equal(t, msg.Data, got.Data)
	assert.Equal(t, msg.Topics, got.Topics)
	// ID 在解码侧重新计算，两端一致
	assert.Equal(t, msg.ID, got.ID)
}

func TestRPCCodecControl(t *testing.T) {
	codec := NewRPCCodec()

	rpc := &RPC{
		Control: &ControlMessage{
			IHave: []ControlIHaveMessage{{Topic: "news", MessageIDs: []string{"m1", "m2"}}},
			IWant: []ControlIWantMessage{{MessageIDs: []string{"m3"}}},
			Graft: []ControlGraftMessage{{Topic: "news"}},
			Prune: []ControlPruneMessage{{
				Topic:   "news",
				Peers:   []PeerInfo{{ID: "px-peer"}},
				Backoff: 60,
			}},
		},
	}

	data, err := codec.EncodeRPC(rpc)
	require.NoError(t, err)

	decoded, _, err := codec.DecodeRPC(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.Control)
	assert.Equal(t, rpc.Control.IHave, decoded.Control.IHave)
	assert.Equal(t, rpc.Control.IWant, decoded.Control.IWant)
	assert.Equal(t, rpc.Control.Graft, decoded.Control.Graft)
	assert.Equal(t, rpc.Control.Prune, decoded.Control.Prune)
}

func TestDecodeDropsIncompleteSubOpts(t *testing.T) {
	// 手工构造缺失存在位的订阅条目
	wire := &pubsub.RPC{
		Subscriptions: []*pubsub.SubOpts{
			{Subscribe: pubsub.Bool(true), Topicid: pubsub.String("good")},
			{Topicid: pubsub.String("no-subscribe")},
			{Subscribe: pubsub.Bool(true)},
		},
	}
	data, err := wire.Marshal()
	require.NoError(t, err)

	decoded, dropped, err := NewRPCCodec().DecodeRPC(data)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
	require.Len(t, decoded.Subscriptions, 1)
	assert.Equal(t, "good", decoded.Subscriptions[0].Topic)
}

func TestDecodeRejectsOversizedRPC(t *testing.T) {
	_, _, err := NewRPCCodec().DecodeRPC(make([]byte, MaxRPCSize+1))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

// ============================================================================
//                              流式编解码测试
// ============================================================================

func TestWriteReadRPC(t *testing.T) {
	var buf bytes.Buffer

	first := &RPC{Subscriptions: []SubOpt{{Subscribe: true, Topic: "news"}}}
	second := &RPC{Control: &ControlMessage{Graft: []ControlGraftMessage{{Topic: "news"}}}}
	require.NoError(t, WriteRPC(&buf, first))
	require.NoError(t, WriteRPC(&buf, second))

	got1, err := ReadRPC(&buf)
	require.NoError(t, err)
	assert.Equal(t, first.Subscriptions, got1.Subscriptions)

	got2, err := ReadRPC(&buf)
	require.NoError(t, err)
	require.NotNil(t, got2.Control)
	assert.Equal(t, second.Control.Graft, got2.Control.Graft)

	// 消息边界上的流结束
	_, err = ReadRPC(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadRPCTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRPC(&buf, &RPC{Subscriptions: []SubOpt{{Subscribe: true, Topic: "news"}}}))

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	_, err := ReadRPC(truncated)
	assert.ErrorIs(t, err, ErrReadFailed)
}

func TestReadRPCRejectsOversizedFrame(t *testing.T) {
	// 长度前缀声称 11MB
	frame := []byte{0x80, 0x80, 0x80, 0x06}
	_, err := ReadRPC(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

// ============================================================================
//                              消息 ID 测试
// ============================================================================

func TestComputeMessageID(t *testing.T) {
	m1 := &Message{From: "alice", Sequence: []byte{0, 1}}
	m2 := &Message{From: "alice", Sequence: []byte{0, 1}, Data: []byte("payload ignored")}
	m3 := &Message{From: "alice", Sequence: []byte{0, 2}}
	m4 := &Message{From: "bob", Sequence: []byte{0, 1}}

	assert.Equal(t, ComputeMessageID(m1), ComputeMessageID(m2))
	assert.NotEqual(t, ComputeMessageID(m1), ComputeMessageID(m3))
	assert.NotEqual(t, ComputeMessageID(m1), ComputeMessageID(m4))
}
