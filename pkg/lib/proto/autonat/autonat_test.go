package autonat_test

import (
	"errors"
	"testing"

	"github.com/dep2p/go-meshsub/pkg/lib/proto/autonat"
)

func TestDialRoundTrip(t *testing.T) {
	req := &autonat.Message{
		Type: autonat.Type(autonat.Message_DIAL),
		Dial: &autonat.Message_Dial{
			Peer: &autonat.Message_PeerInfo{
				ID:    []byte("peer-1"),
				Addrs: [][]byte{[]byte("/ip4/1.2.3.4/tcp/4001"), []byte("/ip4/5.6.7.8/tcp/4001")},
			},
		},
	}

	data, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded autonat.Message
	if err := decoded.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.GetType() != autonat.Message_DIAL {
		t.Errorf("Type = %v, want DIAL", decoded.GetType())
	}
	if decoded.Dial == nil || decoded.Dial.Peer == nil {
		t.Fatal("Dial.Peer 丢失")
	}
	if string(decoded.Dial.Peer.ID) != "peer-1" {
		t.Errorf("Peer.ID = %q", decoded.Dial.Peer.ID)
	}
	if len(decoded.Dial.Peer.Addrs) != 2 {
		t.Errorf("Addrs count = %d, want 2", len(decoded.Dial.Peer.Addrs))
	}
}

func TestDialResponseRoundTrip(t *testing.T) {
	resp := &autonat.Message{
		Type: autonat.Type(autonat.Message_DIAL_RESPONSE),
		DialResponse: &autonat.Message_DialResponse{
			Status:     autonat.Status(autonat.Message_E_DIAL_FAILED),
			StatusText: autonat.String("all dial attempts failed"),
		},
	}

	data, err := resp.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded autonat.Message
	if err := decoded.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.GetType() != autonat.Message_DIAL_RESPONSE {
		t.Errorf("Type = %v, want DIAL_RESPONSE", decoded.GetType())
	}
	if decoded.DialResponse.GetStatus() != autonat.Message_E_DIAL_FAILED {
		t.Errorf("Status = %v, want E_DIAL_FAILED", decoded.DialResponse.GetStatus())
	}
	if decoded.DialResponse.Addr != nil {
		t.Errorf("Addr = %q，失败响应不应携带地址", decoded.DialResponse.Addr)
	}
}

func TestStatusCodes(t *testing.T) {
	cases := []struct {
		status autonat.Message_ResponseStatus
		value  int32
		name   string
	}{
		{autonat.Message_OK, 0, "OK"},
		{autonat.Message_E_DIAL_ERROR, 100, "E_DIAL_ERROR"},
		{autonat.Message_E_DIAL_REFUSED, 101, "E_DIAL_REFUSED"},
		{autonat.Message_E_DIAL_FAILED, 102, "E_DIAL_FAILED"},
		{autonat.Message_E_BAD_REQUEST, 200, "E_BAD_REQUEST"},
		{autonat.Message_E_INTERNAL_ERROR, 300, "E_INTERNAL_ERROR"},
	}
	for _, c := range cases {
		if int32(c.status) != c.value {
			t.Errorf("%s = %d, want %d", c.name, c.status, c.value)
		}
		if c.status.String() != c.name {
			t.Errorf("String() = %q, want %q", c.status.String(), c.name)
		}
	}
}

func TestMalformed(t *testing.T) {
	// 长度前缀超出缓冲区
	bad := []byte{0x12, 0x7f, 0x01}
	var m autonat.Message
	if err := m.Unmarshal(bad); !errors.Is(err, autonat.ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}
