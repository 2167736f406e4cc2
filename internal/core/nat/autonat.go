package nat

import (
	"context"

	"github.com/dep2p/go-meshsub/pkg/interfaces"
	"github.com/dep2p/go-meshsub/pkg/lib/proto/autonat"
	"github.com/dep2p/go-meshsub/pkg/types"
)

// ============================================================================
//                              探测客户端
// ============================================================================

// Client AutoNAT 探测客户端
//
// 向提供回拨服务的节点发送 DIAL 请求，由对端验证本节点地址的
// 公网可达性。
type Client struct {
	endpoint interfaces.Endpoint
	config   *ClientConfig
}

// NewClient 创建探测客户端
func NewClient(endpoint interfaces.Endpoint, config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	_ = config.Validate()

	return &Client{
		endpoint: endpoint,
		config:   config,
	}
}

// Probe 请求 server 回拨本节点的候选地址
//
// 返回对端的拨号结论；类型不是 DIAL_RESPONSE 的回复视为协议违规。
func (c *Client) Probe(ctx context.Context, server types.NodeID, addrs [][]byte) (*autonat.Message_DialResponse, error) {
	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	stream, err := c.endpoint.NewStream(ctx, server, ProtocolAutoNAT)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	req := &autonat.Message{
		Type: autonat.Type(autonat.Message_DIAL),
		Dial: &autonat.Message_Dial{
			Peer: &autonat.Message_PeerInfo{
				ID:    c.endpoint.ID().Bytes(),
				Addrs: addrs,
			},
		},
	}
	if err := writeMessage(stream, req); err != nil {
		_ = stream.Reset()
		return nil, err
	}

	resp, err := readMessage(stream, DefaultServerConfig().MaxMessageSize)
	if err != nil {
		return nil, err
	}
	if resp.GetType() != autonat.Message_DIAL_RESPONSE || resp.DialResponse == nil {
		return nil, ErrProtocolViolation
	}

	log.Debug("探测完成",
		"server", server.ShortString(),
		"status", resp.DialResponse.GetStatus().String())
	return resp.DialResponse, nil
}

// IsReachable 按探测结果判断地址是否公网可达
func IsReachable(resp *autonat.Message_DialResponse) bool {
	return resp.GetStatus() == autonat.Message_OK
}
