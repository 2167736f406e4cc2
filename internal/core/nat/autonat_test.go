package nat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshsub/pkg/interfaces"
	"github.com/dep2p/go-meshsub/pkg/lib/proto/autonat"
	"github.com/dep2p/go-meshsub/pkg/types"
)

// ============================================================================
//                              测试辅助
// ============================================================================

// bufStream 基于内存缓冲的单向请求/响应流
type bufStream struct {
	in     *bytes.Buffer
	out    *bytes.Buffer
	remote types.NodeID
}

func newBufStream(remote types.NodeID) *bufStream {
	return &bufStream{in: new(bytes.Buffer), out: new(bytes.Buffer), remote: remote}
}

func (s *bufStream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *bufStream) Write(p []byte) (int, error) { return s.out.Write(p) }
func (s *bufStream) Close() error                { return nil }
func (s *bufStream) Reset() error                { return nil }
func (s *bufStream) RemotePeer() types.NodeID    { return s.remote }
func (s *bufStream) Protocol() types.ProtocolID  { return ProtocolAutoNAT }

// fakeDialer 按地址返回预设结果
type fakeDialer struct {
	mu       sync.Mutex
	reach    map[string]bool
	attempts int
}

func (d *fakeDialer) Dial(_ context.Context, _ types.NodeID, addr []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.reach[string(addr)] {
		return nil
	}
	return errors.New("connection refused")
}

func dialRequest(t *testing.T, addrs [][]byte) []byte {
	t.Helper()

	msg := &autonat.Message{
		Type: autonat.Type(autonat.Message_DIAL),
		Dial: &autonat.Message_Dial{
			Peer: &autonat.Message_PeerInfo{ID: []byte("client"), Addrs: addrs},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, msg))
	return buf.Bytes()
}

func readResponse(t *testing.T, r io.Reader) *autonat.Message_DialResponse {
	t.Helper()

	msg, err := readMessage(r, DefaultServerConfig().MaxMessageSize)
	require.NoError(t, err)
	require.Equal(t, autonat.Message_DIAL_RESPONSE, msg.GetType())
	require.NotNil(t, msg.DialResponse)
	return msg.DialResponse
}

func serveRequest(server *Server, remote types.NodeID, request []byte) *bufStream {
	stream := newBufStream(remote)
	stream.in.Write(request)
	server.HandleStream(stream)
	return stream
}

// ============================================================================
//                              服务端测试
// ============================================================================

func TestDialBackFirstReachableAddrWins(t *testing.T) {
	dialer := &fakeDialer{reach: map[string]bool{"addr-good": true}}
	server := NewServer(dialer, nil)

	stream := serveRequest(server, "client", dialRequest(t, [][]byte{
		[]byte("addr-bad"),
		[]byte("addr-good"),
	}))

	resp := readResponse(t, stream.out)
	assert.Equal(t, autonat.Message_OK, resp.GetStatus())
	assert.Equal(t, []byte("addr-good"), resp.Addr)
	assert.True(t, IsReachable(resp))
}

func TestDialBackAllAttemptsFail(t *testing.T) {
	dialer := &fakeDialer{reach: map[string]bool{}}
	server := NewServer(dialer, nil)

	stream := serveRequest(server, "client", dialRequest(t, [][]byte{
		[]byte("addr-1"),
		[]byte("addr-2"),
	}))

	resp := readResponse(t, stream.out)
	assert.Equal(t, autonat.Message_E_DIAL_FAILED, resp.GetStatus())
	assert.Empty(t, resp.Addr)
	assert.False(t, IsReachable(resp))
}

func TestDialBackNoDialableAddress(t *testing.T) {
	server := NewServer(&fakeDialer{}, nil)

	// 地址列表非空但全为空字节：无可拨地址
	stream := serveRequest(server, "client", dialRequest(t, [][]byte{{}, {}}))

	resp := readResponse(t, stream.out)
	assert.Equal(t, autonat.Message_E_DIAL_ERROR, resp.GetStatus())
}

func TestDialAttemptsConfigurable(t *testing.T) {
	config := DefaultServerConfig()
	config.DialAttempts = 3
	dialer := &fakeDialer{reach: map[string]bool{}}
	server := NewServer(dialer, config)

	serveRequest(server, "client", dialRequest(t, [][]byte{[]byte("addr-1")}))

	assert.Equal(t, 3, dialer.attempts)
}

func TestBadRequestRejected(t *testing.T) {
	server := NewServer(&fakeDialer{}, nil)

	cases := map[string][]byte{
		"垃圾字节":   {0xff, 0x03, 0x01, 0x02, 0x03},
		"缺少拨号体":  frameEmptyDial(t),
		"地址列表为空": dialRequest(t, nil),
	}

	for name, request := range cases {
		t.Run(name, func(t *testing.T) {
			stream := serveRequest(server, "client", request)
			resp := readResponse(t, stream.out)
			assert.Equal(t, autonat.Message_E_BAD_REQUEST, resp.GetStatus())
		})
	}
}

func frameEmptyDial(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, &autonat.Message{
		Type: autonat.Type(autonat.Message_DIAL),
	}))
	return buf.Bytes()
}

func TestRateLimitPerPeer(t *testing.T) {
	config := DefaultServerConfig()
	config.MaxRequestsPerPeer = 2
	dialer := &fakeDialer{reach: map[string]bool{"addr": true}}
	server := NewServer(dialer, config)

	request := dialRequest(t, [][]byte{[]byte("addr")})

	for i := 0; i < 2; i++ {
		stream := serveRequest(server, "noisy", request)
		assert.Equal(t, autonat.Message_OK, readResponse(t, stream.out).GetStatus())
	}

	// 第三次超出配额
	stream := serveRequest(server, "noisy", request)
	assert.Equal(t, autonat.Message_E_DIAL_REFUSED, readResponse(t, stream.out).GetStatus())

	// 其他节点不受影响
	stream = serveRequest(server, "other", request)
	assert.Equal(t, autonat.Message_OK, readResponse(t, stream.out).GetStatus())
}

func TestInternalErrorWithoutDialer(t *testing.T) {
	server := NewServer(nil, nil)

	stream := serveRequest(server, "client", dialRequest(t, [][]byte{[]byte("addr")}))
	resp := readResponse(t, stream.out)
	assert.Equal(t, autonat.Message_E_INTERNAL_ERROR, resp.GetStatus())
}

// ============================================================================
//                              客户端测试
// ============================================================================

// pipeStream 双向管道流的一端
type pipeStream struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	remote types.NodeID
}

func pipeStreams(client, server types.NodeID) (*pipeStream, *pipeStream) {
	sr, cw := io.Pipe()
	cr, sw := io.Pipe()
	return &pipeStream{r: cr, w: cw, remote: server},
		&pipeStream{r: sr, w: sw, remote: client}
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *pipeStream) Close() error {
	_ = s.w.Close()
	return s.r.Close()
}
func (s *pipeStream) Reset() error               { return s.Close() }
func (s *pipeStream) RemotePeer() types.NodeID   { return s.remote }
func (s *pipeStream) Protocol() types.ProtocolID { return ProtocolAutoNAT }

// fakeEndpoint 返回预设流的端点
type fakeEndpoint struct {
	id     types.NodeID
	stream interfaces.Stream
}

func (e *fakeEndpoint) ID() types.NodeID { return e.id }
func (e *fakeEndpoint) NewStream(context.Context, types.NodeID, types.ProtocolID) (interfaces.Stream, error) {
	return e.stream, nil
}
func (e *fakeEndpoint) SetStreamHandler(types.ProtocolID, interfaces.StreamHandler) {}
func (e *fakeEndpoint) RemoveStreamHandler(types.ProtocolID)                        {}
func (e *fakeEndpoint) ConnectedPeers() []types.NodeID                              { return nil }

func TestProbeEndToEnd(t *testing.T) {
	clientStream, serverStream := pipeStreams("client", "server")

	dialer := &fakeDialer{reach: map[string]bool{"public-addr": true}}
	server := NewServer(dialer, nil)
	go server.HandleStream(serverStream)

	client := NewClient(&fakeEndpoint{id: "client", stream: clientStream}, nil)
	resp, err := client.Probe(context.Background(), "server", [][]byte{[]byte("public-addr")})
	require.NoError(t, err)

	assert.Equal(t, autonat.Message_OK, resp.GetStatus())
	assert.Equal(t, []byte("public-addr"), resp.Addr)
}

func TestProbeUnreachableAddress(t *testing.T) {
	clientStream, serverStream := pipeStreams("client", "server")

	server := NewServer(&fakeDialer{reach: map[string]bool{}}, nil)
	go server.HandleStream(serverStream)

	client := NewClient(&fakeEndpoint{id: "client", stream: clientStream}, nil)
	resp, err := client.Probe(context.Background(), "server", [][]byte{[]byte("nat-addr")})
	require.NoError(t, err)

	assert.Equal(t, autonat.Message_E_DIAL_FAILED, resp.GetStatus())
	assert.False(t, IsReachable(resp))
}

func TestProbeRejectsNonDialResponse(t *testing.T) {
	stream := newBufStream("server")

	// 对端错误地回了一个 DIAL 类型的消息
	var reply bytes.Buffer
	require.NoError(t, writeMessage(&reply, &autonat.Message{
		Type: autonat.Type(autonat.Message_DIAL),
	}))
	stream.in.Write(reply.Bytes())

	client := NewClient(&fakeEndpoint{id: "client", stream: stream}, nil)
	_, err := client.Probe(context.Background(), "server", [][]byte{[]byte("addr")})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestProbeRequiresAddresses(t *testing.T) {
	client := NewClient(&fakeEndpoint{id: "client"}, nil)

	_, err := client.Probe(context.Background(), "server", nil)
	assert.ErrorIs(t, err, ErrNoAddresses)
}
