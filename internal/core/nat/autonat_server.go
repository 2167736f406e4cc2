// Package nat 实现 AutoNAT 回拨协议
//
// 服务端无状态地响应 DIAL 请求：对请求方通告的候选地址逐一回拨，
// 用状态码告知可达性结果。拨号失败是协议层的状态值，不是传输错误。
package nat

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/multiformats/go-varint"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-meshsub/internal/util/logger"
	"github.com/dep2p/go-meshsub/pkg/interfaces"
	"github.com/dep2p/go-meshsub/pkg/lib/proto/autonat"
	"github.com/dep2p/go-meshsub/pkg/types"
)

var log = logger.Logger("core.nat")

// ProtocolAutoNAT AutoNAT 协议 ID
const ProtocolAutoNAT types.ProtocolID = "/autonat/1.0.0"

// errDialSucceeded 终止剩余拨号尝试的内部哨兵
var errDialSucceeded = errors.New("autonat: dial succeeded")

// ============================================================================
//                              回拨服务端
// ============================================================================

// requestCounter 窗口内的请求计数
type requestCounter struct {
	n int
}

// Server AutoNAT 回拨服务端
//
// 每个请求独立处理，服务端不保存任何对端可达性状态。
type Server struct {
	config *ServerConfig
	dialer interfaces.Dialer

	mu      sync.Mutex
	limiter *expirable.LRU[types.NodeID, *requestCounter]
}

// NewServer 创建回拨服务端
func NewServer(dialer interfaces.Dialer, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	_ = config.Validate()

	return &Server{
		config:  config,
		dialer:  dialer,
		limiter: expirable.NewLRU[types.NodeID, *requestCounter](config.RateLimitCacheSize, nil, config.RateLimitWindow),
	}
}

// HandleStream 处理一次回拨请求
//
// 读取 DIAL 请求、校验、回拨、写回 DIAL_RESPONSE。任何结果都以
// 状态码返回，不通过流错误暴露。
func (s *Server) HandleStream(stream interfaces.Stream) {
	defer stream.Close()
	remote := stream.RemotePeer()

	req, err := readMessage(stream, s.config.MaxMessageSize)
	if err != nil {
		log.Debug("读取请求失败", "peer", remote.ShortString(), "err", err)
		s.respond(stream, errorResponse(autonat.Message_E_BAD_REQUEST, "malformed request"))
		return
	}

	if req.GetType() != autonat.Message_DIAL || req.Dial == nil || req.Dial.Peer == nil || len(req.Dial.Peer.Addrs) == 0 {
		s.respond(stream, errorResponse(autonat.Message_E_BAD_REQUEST, "expected dial request with addresses"))
		return
	}

	if !s.allowRequest(remote) {
		log.Debug("回拨请求超出速率限制", "peer", remote.ShortString())
		s.respond(stream, errorResponse(autonat.Message_E_DIAL_REFUSED, "rate limit exceeded"))
		return
	}

	resp := s.dialBack(context.Background(), remote, req.Dial.Peer.Addrs)
	log.Debug("回拨完成", "peer", remote.ShortString(), "status", resp.GetStatus().String())
	s.respond(stream, resp)
}

// allowRequest 检查并登记一次请求；超出窗口配额返回 false
func (s *Server) allowRequest(peer types.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.limiter.Get(peer)
	if !ok {
		counter = &requestCounter{}
		s.limiter.Add(peer, counter)
	}
	counter.n++
	return counter.n <= s.config.MaxRequestsPerPeer
}

// dialBack 并发回拨候选地址，第一个成功的地址胜出
func (s *Server) dialBack(ctx context.Context, peer types.NodeID, addrs [][]byte) *autonat.Message_DialResponse {
	dialable := make([][]byte, 0, len(addrs))
	for _, addr := range addrs {
		if len(addr) > 0 {
			dialable = append(dialable, addr)
		}
	}
	if len(dialable) == 0 {
		return errorResponse(autonat.Message_E_DIAL_ERROR, "no dialable address")
	}
	if s.dialer == nil {
		return errorResponse(autonat.Message_E_INTERNAL_ERROR, "dialer not available")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.DialTimeout)
	defer cancel()

	var mu sync.Mutex
	var connected []byte

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range dialable {
		addr := addr
		g.Go(func() error {
			for i := 0; i < s.config.DialAttempts; i++ {
				if gctx.Err() != nil {
					return nil
				}
				if err := s.dialer.Dial(gctx, peer, addr); err != nil {
					continue
				}
				mu.Lock()
				if connected == nil {
					connected = addr
				}
				mu.Unlock()
				return errDialSucceeded
			}
			return nil
		})
	}
	_ = g.Wait()

	if connected != nil {
		return &autonat.Message_DialResponse{
			Status:     autonat.Status(autonat.Message_OK),
			StatusText: autonat.String("dial successful"),
			Addr:       connected,
		}
	}
	return errorResponse(autonat.Message_E_DIAL_FAILED, "all dial attempts failed")
}

// respond 写回响应；写入失败只记录日志
func (s *Server) respond(stream interfaces.Stream, resp *autonat.Message_DialResponse) {
	msg := &autonat.Message{
		Type:         autonat.Type(autonat.Message_DIAL_RESPONSE),
		DialResponse: resp,
	}
	if err := writeMessage(stream, msg); err != nil {
		log.Debug("写入响应失败", "err", err)
	}
}

func errorResponse(status autonat.Message_ResponseStatus, text string) *autonat.Message_DialResponse {
	return &autonat.Message_DialResponse{
		Status:     autonat.Status(status),
		StatusText: autonat.String(text),
	}
}

// ============================================================================
//                              流式编解码
// ============================================================================

// writeMessage 写入一条 uvarint 长度前缀的消息
func writeMessage(w io.Writer, msg *autonat.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.Write(varint.ToUvarint(uint64(len(data)))); err != nil {
		return ErrStreamFailed
	}
	if _, err := w.Write(data); err != nil {
		return ErrStreamFailed
	}
	return nil
}

// readMessage 读取一条 uvarint 长度前缀的消息
func readMessage(r io.Reader, maxSize int) (*autonat.Message, error) {
	length, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return nil, ErrStreamFailed
	}
	if length > uint64(maxSize) {
		return nil, ErrMessageTooLarge
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, ErrStreamFailed
	}

	msg := new(autonat.Message)
	if err := msg.Unmarshal(data); err != nil {
		return nil, err
	}
	return msg, nil
}

// byteReader 将 io.Reader 适配为 io.ByteReader
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
