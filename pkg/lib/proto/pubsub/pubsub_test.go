package pubsub_test

import (
	"errors"
	"testing"

	"github.com/dep2p/go-meshsub/pkg/lib/proto/pubsub"
)

func TestRPCRoundTrip(t *testing.T) {
	rpc := &pubsub.RPC{
		Subscriptions: []*pubsub.SubOpts{
			{Subscribe: pubsub.Bool(true), Topicid: pubsub.String("topic1")},
			{Subscribe: pubsub.Bool(false), Topicid: pubsub.String("topic2")},
		},
		Publish: []*pubsub.Message{
			{
				From:     []byte("sender"),
				Data:     []byte("hello"),
				Seqno:    []byte{0, 0, 0, 0, 0, 0, 0, 1},
				TopicIDs: []string{"topic1", "topic2"},
			},
		},
		Control: &pubsub.ControlMessage{
			Ihave: []*pubsub.ControlIHave{
				{TopicID: pubsub.String("topic1"), MessageIDs: []string{"m1", "m2"}},
			},
			Iwant: []*pubsub.ControlIWant{
				{MessageIDs: []string{"m3"}},
			},
			Graft: []*pubsub.ControlGraft{
				{TopicID: pubsub.String("topic1")},
			},
			Prune: []*pubsub.ControlPrune{
				{
					TopicID: pubsub.String("topic2"),
					Peers:   []*pubsub.PeerInfo{{PeerID: []byte("px-peer")}},
					Backoff: pubsub.Uint64(60),
				},
			},
		},
	}

	data, err := rpc.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded pubsub.RPC
	if err := decoded.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(decoded.Subscriptions) != 2 {
		t.Fatalf("Subscriptions count = %d, want 2", len(decoded.Subscriptions))
	}
	if decoded.Subscriptions[0].GetSubscribe() != true || decoded.Subscriptions[0].GetTopicid() != "topic1" {
		t.Errorf("Subscriptions[0] = %+v", decoded.Subscriptions[0])
	}
	if decoded.Subscriptions[1].GetSubscribe() != false {
		t.Errorf("Subscriptions[1].Subscribe = true, want false")
	}
	if decoded.Subscriptions[1].Subscribe == nil {
		t.Errorf("Subscriptions[1].Subscribe 缺失，应为显式 false")
	}
	if len(decoded.Publish) != 1 {
		t.Fatalf("Publish count = %d, want 1", len(decoded.Publish))
	}
	if got := decoded.Publish[0].TopicIDs; len(got) != 2 || got[0] != "topic1" || got[1] != "topic2" {
		t.Errorf("TopicIDs = %v", got)
	}
	if decoded.Control == nil {
		t.Fatal("Control 丢失")
	}
	if decoded.Control.Prune[0].GetBackoff() != 60 {
		t.Errorf("Backoff = %d, want 60", decoded.Control.Prune[0].GetBackoff())
	}
	if string(decoded.Control.Prune[0].Peers[0].PeerID) != "px-peer" {
		t.Errorf("PX peer = %q", decoded.Control.Prune[0].Peers[0].PeerID)
	}
}

// 缺失与显式零值在线路上必须可区分
func TestFieldPresence(t *testing.T) {
	// subscribe 显式 false：线路上有字段
	explicit := &pubsub.SubOpts{Subscribe: pubsub.Bool(false), Topicid: pubsub.String("t")}
	eb, err := explicit.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// subscribe 缺失：线路上无字段
	absent := &pubsub.SubOpts{Topicid: pubsub.String("t")}
	ab, err := absent.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if len(eb) == len(ab) {
		t.Fatal("显式 false 与缺失编码长度相同，存在性丢失")
	}

	var de, da pubsub.SubOpts
	if err := de.Unmarshal(eb); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if err := da.Unmarshal(ab); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if de.Subscribe == nil || *de.Subscribe != false {
		t.Errorf("显式 false 解码后 Subscribe = %v", de.Subscribe)
	}
	if da.Subscribe != nil {
		t.Errorf("缺失字段解码后 Subscribe = %v，应为 nil", *da.Subscribe)
	}

	// prune backoff 缺失 vs 显式 0
	p0 := &pubsub.ControlPrune{TopicID: pubsub.String("t"), Backoff: pubsub.Uint64(0)}
	pn := &pubsub.ControlPrune{TopicID: pubsub.String("t")}
	b0, _ := p0.Marshal()
	bn, _ := pn.Marshal()
	if len(b0) == len(bn) {
		t.Error("backoff=0 与缺失编码长度相同，存在性丢失")
	}
}

// 未知字段默认保留并在重新编码时原样输出
func TestUnknownFieldPreserved(t *testing.T) {
	base := &pubsub.ControlGraft{TopicID: pubsub.String("topic1")}
	data, err := base.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// 追加一个未来版本的字段：field 9, length-delimited
	extended := append(append([]byte{}, data...), 0x4a, 0x03, 'x', 'y', 'z')

	var g pubsub.ControlGraft
	if err := g.Unmarshal(extended); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if g.GetTopicID() != "topic1" {
		t.Errorf("TopicID = %q", g.GetTopicID())
	}

	re, err := g.Marshal()
	if err != nil {
		t.Fatalf("re-Marshal failed: %v", err)
	}
	if len(re) != len(extended) {
		t.Errorf("未知字段未保留: re-encoded %d bytes, want %d", len(re), len(extended))
	}
}

// DiscardUnknown 选项丢弃未知字段
func TestDiscardUnknown(t *testing.T) {
	rpc := &pubsub.RPC{
		Subscriptions: []*pubsub.SubOpts{
			{Subscribe: pubsub.Bool(true), Topicid: pubsub.String("t")},
		},
	}
	data, err := rpc.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	// 顶层追加未知字段 field 15, varint
	extended := append(append([]byte{}, data...), 0x78, 0x2a)

	var kept pubsub.RPC
	if err := kept.Unmarshal(extended); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	keptData, _ := kept.Marshal()
	if len(keptData) != len(extended) {
		t.Errorf("默认应保留未知字段")
	}

	var dropped pubsub.RPC
	if err := (pubsub.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(extended, &dropped); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	droppedData, _ := dropped.Marshal()
	if len(droppedData) != len(data) {
		t.Errorf("DiscardUnknown 应丢弃未知字段: %d bytes, want %d", len(droppedData), len(data))
	}
}

// 截断输入必须以 ErrMalformedMessage 失败
func TestTruncated(t *testing.T) {
	rpc := &pubsub.RPC{
		Publish: []*pubsub.Message{
			{From: []byte("sender"), Data: []byte("0123456789"), Seqno: []byte{1}},
		},
	}
	data, err := rpc.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	for cut := 1; cut < len(data); cut++ {
		var decoded pubsub.RPC
		err := decoded.Unmarshal(data[:cut])
		if err == nil {
			continue // 某些前缀恰好是合法编码
		}
		if !errors.Is(err, pubsub.ErrMalformedMessage) {
			t.Fatalf("cut=%d: err = %v, want ErrMalformedMessage", cut, err)
		}
	}

	// 长度前缀超出缓冲区
	bad := []byte{0x0a, 0xff, 0xff, 0xff, 0xff, 0x0f}
	var decoded pubsub.RPC
	if err := decoded.Unmarshal(bad); !errors.Is(err, pubsub.ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}
