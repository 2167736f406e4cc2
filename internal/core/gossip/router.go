package gossip

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-meshsub/internal/util/logger"
	"github.com/dep2p/go-meshsub/pkg/interfaces"
)

var log = logger.Logger("core.gossip")

// ============================================================================
//                              路由器
// ============================================================================

// Router gossip-mesh 路由引擎
//
// 持有 mesh 状态、消息缓存与心跳调度器，处理全部入站 RPC 并驱动
// 出站 GRAFT/PRUNE/IHAVE/IWANT。网络读写可通过 WithSendFunc 注入，
// 便于在无真实传输的环境下测试。
type Router struct {
	config   *Config
	localID  NodeID
	endpoint interfaces.Endpoint

	mesh      *MeshManager
	cache     *MessageCache
	seen      *SeenCache
	iwant     *IWantTracker
	heartbeat *Heartbeat
	metrics   *Metrics

	// sendRPC 出站发送函数；未注入时经 endpoint 打开流发送
	sendRPC SendRPCFunc

	// onConnectCandidates PX 候选节点回调（由宿主发起连接）
	onConnectCandidates func([]PeerInfo)

	mu            sync.RWMutex
	subscriptions map[string][]*localSubscription

	seqno   uint64
	running atomic.Bool
}

// localSubscription 本地订阅
type localSubscription struct {
	topic string
	ch    chan *Message

	cancelled atomic.Bool
}

// Option 路由器选项
type Option func(*routerOptions)

type routerOptions struct {
	clk                 clock.Clock
	ranker              Ranker
	sendRPC             SendRPCFunc
	registerer          prometheus.Registerer
	onConnectCandidates func([]PeerInfo)
}

// WithClock 注入时钟（测试用）
func WithClock(clk clock.Clock) Option {
	return func(o *routerOptions) { o.clk = clk }
}

// WithRanker 注入节点选择器
func WithRanker(r Ranker) Option {
	return func(o *routerOptions) { o.ranker = r }
}

// WithSendFunc 注入出站发送函数，绕过 endpoint
func WithSendFunc(fn SendRPCFunc) Option {
	return func(o *routerOptions) { o.sendRPC = fn }
}

// WithMetricsRegisterer 注入指标注册器
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *routerOptions) { o.registerer = reg }
}

// WithConnectCandidates 注册 PX 候选节点回调
func WithConnectCandidates(fn func([]PeerInfo)) Option {
	return func(o *routerOptions) { o.onConnectCandidates = fn }
}

// NewRouter 创建路由引擎
//
// endpoint 可以为 nil：此时必须通过 WithSendFunc 注入发送函数，
// 入站 RPC 由调用方直接喂给 HandleRPC。
func NewRouter(localID NodeID, endpoint interfaces.Endpoint, config *Config, opts ...Option) *Router {
	if config == nil {
		config = DefaultConfig()
	}
	_ = config.Validate()

	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clk == nil {
		o.clk = clock.New()
	}

	mesh := NewMeshManager(config, o.ranker, o.clk)
	cache := NewMessageCache(config.HistoryLength, config.HistoryGossip, o.clk)
	seen := NewSeenCache(config.SeenTTL, config.SeenCacheSize, o.clk)
	iwant := NewIWantTracker(config.IWantFollowupTime, o.clk)
	metrics := NewMetrics(o.registerer)

	r := &Router{
		config:              config,
		localID:             localID,
		endpoint:            endpoint,
		mesh:                mesh,
		cache:               cache,
		seen:                seen,
		iwant:               iwant,
		metrics:             metrics,
		onConnectCandidates: o.onConnectCandidates,
		subscriptions:       make(map[string][]*localSubscription),
	}

	if o.sendRPC != nil {
		r.sendRPC = o.sendRPC
	} else {
		r.sendRPC = r.sendViaEndpoint
	}

	r.heartbeat = NewHeartbeat(config, mesh, cache, seen, iwant, metrics, o.clk)
	r.heartbeat.SetSendRPC(r.sendRPC)
	return r
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动路由器
func (r *Router) Start() error {
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}

	if r.endpoint != nil {
		r.endpoint.SetStreamHandler(ProtocolMeshsub, r.handleStream)
		for _, peer := range r.endpoint.ConnectedPeers() {
			r.mesh.AddPeer(peer)
		}
	}

	r.heartbeat.Start()
	log.Info("路由器启动", "localID", r.localID.ShortString(), "protocol", ProtocolMeshsub)
	return nil
}

// Stop 停止路由器并关闭全部本地订阅
func (r *Router) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}

	if r.endpoint != nil {
		r.endpoint.RemoveStreamHandler(ProtocolMeshsub)
	}
	r.heartbeat.Stop()

	r.mu.Lock()
	for _, subs := range r.subscriptions {
		for _, sub := range subs {
			if sub.cancelled.CompareAndSwap(false, true) {
				close(sub.ch)
			}
		}
	}
	r.subscriptions = make(map[string][]*localSubscription)
	r.mu.Unlock()

	log.Info("路由器已停止", "localID", r.localID.ShortString())
	return nil
}

// LocalID 返回本节点标识
func (r *Router) LocalID() NodeID {
	return r.localID
}

// ============================================================================
//                              主题操作
// ============================================================================

// Join 订阅主题并向 mesh 候选节点发送 GRAFT
func (r *Router) Join(topic string, desc *TopicDescriptor) error {
	if !r.running.Load() {
		return ErrNotRunning
	}

	alreadySubscribed := r.mesh.IsSubscribed(topic)
	toGraft := r.mesh.Join(topic, desc)
	for _, peer := range toGraft {
		r.sendGraftAsync(peer, topic)
	}

	// 向全部已连接节点通告订阅
	if !alreadySubscribed {
		r.announceSubscription(topic, true)
	}

	log.Debug("加入主题", "topic", topic, "grafts", len(toGraft))
	return nil
}

// Leave 取消订阅主题并向 mesh 成员发送 PRUNE
func (r *Router) Leave(topic string) error {
	if !r.running.Load() {
		return ErrNotRunning
	}

	toPrune := r.mesh.Leave(topic)
	backoff := uint64(r.config.UnsubscribeBackoff.Seconds())
	for _, peer := range toPrune {
		px := r.mesh.GetPXPeers(topic, peer, r.config.PXPeersCount)
		r.sendPruneAsync(peer, topic, px, backoff)
	}
	r.announceSubscription(topic, false)

	r.mu.Lock()
	for _, sub := range r.subscriptions[topic] {
		if sub.cancelled.CompareAndSwap(false, true) {
			close(sub.ch)
		}
	}
	delete(r.subscriptions, topic)
	r.mu.Unlock()

	log.Debug("离开主题", "topic", topic, "prunes", len(toPrune))
	return nil
}

// Subscribe 订阅主题的本地消息投递
//
// 返回的取消函数幂等；通道满时新消息被丢弃而不是阻塞路由器。
func (r *Router) Subscribe(topic string, desc *TopicDescriptor) (<-chan *Message, func(), error) {
	if !r.running.Load() {
		return nil, nil, ErrNotRunning
	}

	if err := r.Join(topic, desc); err != nil {
		return nil, nil, err
	}

	sub := &localSubscription{
		topic: topic,
		ch:    make(chan *Message, r.config.SubscriptionBuffer),
	}

	r.mu.Lock()
	r.subscriptions[topic] = append(r.subscriptions[topic], sub)
	r.mu.Unlock()

	cancel := func() {
		if !sub.cancelled.CompareAndSwap(false, true) {
			return
		}
		r.mu.Lock()
		subs := r.subscriptions[topic]
		for i, s := range subs {
			if s == sub {
				r.subscriptions[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		close(sub.ch)
	}
	return sub.ch, cancel, nil
}

// Publish 发布消息到主题
//
// 已订阅走 mesh，未订阅走 fanout。消息同时进入本地缓存并投递给
// 本地订阅者。
func (r *Router) Publish(ctx context.Context, topic string, data []byte) error {
	if !r.running.Load() {
		return ErrNotRunning
	}
	if len(data) > r.config.MaxMessageSize {
		return ErrMessageTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &Message{
		From:     r.localID,
		Data:     data,
		Sequence: r.nextSeqno(),
		Topics:   []string{topic},
	}
	msg.ID = ComputeMessageID(msg)

	r.seen.Add(msg.ID)
	r.cache.Put(msg)
	r.deliverLocal(msg)

	var peers []NodeID
	if r.mesh.IsSubscribed(topic) {
		peers = r.mesh.MeshPeers(topic)
	} else {
		peers = r.mesh.FanoutPeers(topic)
	}

	rpc := &RPC{Publish: []*Message{msg}}
	for _, peer := range peers {
		r.sendAsync(peer, rpc)
	}

	log.Debug("发布消息", "topic", topic, "size", len(data), "targets", len(peers))
	return nil
}

// announceSubscription 向全部已连接节点通告订阅变更
func (r *Router) announceSubscription(topic string, subscribe bool) {
	rpc := &RPC{Subscriptions: []SubOpt{{Subscribe: subscribe, Topic: topic}}}
	for _, peer := range r.mesh.ConnectedPeers() {
		r.sendAsync(peer, rpc)
	}
}

// nextSeqno 返回下一个 8 字节大端序列号
func (r *Router) nextSeqno() []byte {
	n := atomic.AddUint64(&r.seqno, 1)
	seqno := make([]byte, 8)
	binary.BigEndian.PutUint64(seqno, n)
	return seqno
}

// ============================================================================
//                              节点事件
// ============================================================================

// AddPeer 登记新连接的节点
func (r *Router) AddPeer(peer NodeID) {
	r.mesh.AddPeer(peer)

	// 通告本地订阅，让对端把我们计入订阅者
	topics := r.mesh.Topics()
	if len(topics) == 0 {
		return
	}
	rpc := &RPC{Subscriptions: make([]SubOpt, 0, len(topics))}
	for _, topic := range topics {
		rpc.Subscriptions = append(rpc.Subscriptions, SubOpt{Subscribe: true, Topic: topic})
	}
	r.sendAsync(peer, rpc)
}

// RemovePeer 移除断开的节点
func (r *Router) RemovePeer(peer NodeID) {
	r.mesh.RemovePeer(peer)
}

// ============================================================================
//                              入站处理
// ============================================================================

// HandleRPC 处理一条入站 RPC
//
// 处理顺序固定：订阅通告、消息载荷、控制消息。单个条目的失败只
// 影响该条目。
func (r *Router) HandleRPC(from NodeID, rpc *RPC) {
	if rpc == nil {
		return
	}

	for _, sub := range rpc.Subscriptions {
		if sub.Topic == "" {
			continue
		}
		if sub.Subscribe {
			r.mesh.AddPeerToTopic(from, sub.Topic)
		} else {
			r.mesh.RemovePeerFromTopic(from, sub.Topic)
		}
	}

	for _, msg := range rpc.Publish {
		r.handleMessage(from, msg)
	}

	if rpc.Control != nil {
		r.handleControl(from, rpc.Control)
	}
}

// validateMessage 校验入站消息的必要字段与大小限制
func (r *Router) validateMessage(msg *Message) error {
	if msg == nil || msg.From.IsEmpty() || len(msg.Topics) == 0 {
		return ErrInvalidMessage
	}
	if len(msg.Data) > r.config.MaxMessageSize {
		return ErrMessageTooLarge
	}
	return nil
}

// handleMessage 处理单条入站消息
func (r *Router) handleMessage(from NodeID, msg *Message) {
	if err := r.validateMessage(msg); err != nil {
		log.Debug("丢弃无效消息", "from", from.ShortString(), "err", err)
		return
	}
	if msg.ID == "" {
		msg.ID = ComputeMessageID(msg)
	}
	msg.ReceivedFrom = from

	// 去重：同一 ID 在保留窗口内只处理一次
	if !r.seen.Add(msg.ID) {
		r.metrics.duplicatesDropped.Inc()
		return
	}

	r.cache.Put(msg)
	r.iwant.Fulfill(msg.ID)
	r.deliverLocal(msg)
	r.forward(msg)
}

// forward 将消息转发给各主题的 mesh 成员（排除来源与原发者）
func (r *Router) forward(msg *Message) {
	targets := make(map[NodeID]struct{})
	for _, topic := range msg.Topics {
		if !r.mesh.IsSubscribed(topic) {
			continue
		}
		for _, peer := range r.mesh.MeshPeers(topic) {
			if peer == msg.ReceivedFrom || peer == msg.From {
				continue
			}
			targets[peer] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return
	}

	rpc := &RPC{Publish: []*Message{msg}}
	for peer := range targets {
		r.sendAsync(peer, rpc)
	}
	r.metrics.messagesForwarded.Inc()
}

// deliverLocal 投递给本地订阅者；订阅通道满时丢弃
func (r *Router) deliverLocal(msg *Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, topic := range msg.Topics {
		for _, sub := range r.subscriptions[topic] {
			select {
			case sub.ch <- msg:
				r.metrics.messagesDelivered.Inc()
			default:
				log.Warn("订阅通道已满，丢弃消息", "topic", topic, "msgID", msg.ID)
			}
		}
	}
}

// ============================================================================
//                              控制消息处理
// ============================================================================

func (r *Router) handleControl(from NodeID, ctrl *ControlMessage) {
	iwant := r.handleIHave(from, ctrl.IHave)
	msgs := r.handleIWant(from, ctrl.IWant)
	prunes := r.handleGraft(from, ctrl.Graft)
	r.handlePrune(from, ctrl.Prune)

	if len(iwant) == 0 && len(msgs) == 0 && len(prunes) == 0 {
		return
	}

	reply := &RPC{Publish: msgs}
	if len(iwant) > 0 || len(prunes) > 0 {
		reply.Control = &ControlMessage{}
		if len(iwant) > 0 {
			reply.Control.IWant = []ControlIWantMessage{{MessageIDs: iwant}}
		}
		reply.Control.Prune = prunes
	}
	r.sendAsync(from, reply)
}

// handleIHave 收集未见过的消息 ID，返回要请求的 IWANT 列表
func (r *Router) handleIHave(from NodeID, ihaves []ControlIHaveMessage) []string {
	var want []string
	for _, ihave := range ihaves {
		if !r.mesh.IsSubscribed(ihave.Topic) {
			continue
		}
		for _, msgID := range ihave.MessageIDs {
			r.metrics.ihaveReceived.Inc()
			if msgID == "" || r.seen.Has(msgID) {
				continue
			}
			if len(want) >= r.config.MaxIWantLength {
				break
			}
			want = append(want, msgID)
		}
	}

	for _, msgID := range want {
		r.iwant.Track(msgID, from)
		r.metrics.iwantSent.Inc()
	}
	return want
}

// handleIWant 返回缓存中命中的消息；未知 ID 静默忽略
func (r *Router) handleIWant(from NodeID, iwants []ControlIWantMessage) []*Message {
	var msgs []*Message
	total := 0
	for _, iwant := range iwants {
		for _, msgID := range iwant.MessageIDs {
			if total >= r.config.MaxIWantLength {
				return msgs
			}
			total++
			if msg, ok := r.cache.GetMessage(msgID); ok {
				msgs = append(msgs, msg)
			}
		}
	}
	return msgs
}

// handleGraft 处理 GRAFT 条目，返回要回复的 PRUNE 列表
//
// 未订阅的主题直接回 PRUNE（不带 PX）；退避期内的 GRAFT 视为违规，
// 回 PRUNE 重申退避且不改动 mesh。
func (r *Router) handleGraft(from NodeID, grafts []ControlGraftMessage) []ControlPruneMessage {
	var prunes []ControlPruneMessage
	for _, graft := range grafts {
		r.metrics.graftsReceived.Inc()

		if !r.mesh.IsSubscribed(graft.Topic) {
			prunes = append(prunes, ControlPruneMessage{Topic: graft.Topic})
			continue
		}

		if r.mesh.IsBackedOff(from, graft.Topic) {
			r.metrics.backoffViolations.Inc()
			log.Debug("退避期内的 GRAFT", "peer", from.ShortString(), "topic", graft.Topic)
			prunes = append(prunes, ControlPruneMessage{
				Topic:   graft.Topic,
				Backoff: uint64(r.config.PruneBackoff.Seconds()),
			})
			continue
		}

		r.mesh.Graft(from, graft.Topic)
	}
	return prunes
}

// handlePrune 处理 PRUNE 条目并转交 PX 候选
func (r *Router) handlePrune(from NodeID, prunes []ControlPruneMessage) {
	var candidates []PeerInfo
	for _, prune := range prunes {
		r.metrics.prunesReceived.Inc()
		r.mesh.Prune(from, prune.Topic, r.config.clampBackoff(prune.Backoff))

		if len(prune.Peers) > 0 {
			candidates = append(candidates, r.mesh.HandlePX(prune.Peers)...)
		}
	}

	if len(candidates) > 0 && r.onConnectCandidates != nil {
		r.onConnectCandidates(candidates)
	}
}

// ============================================================================
//                              出站发送
// ============================================================================

// sendAsync 异步发送 RPC，绝不在锁内做网络写
func (r *Router) sendAsync(peer NodeID, rpc *RPC) {
	go func() {
		if err := r.sendRPC(peer, rpc); err != nil {
			log.Debug("发送 RPC 失败", "peer", peer.ShortString(), "err", err)
		}
	}()
}

func (r *Router) sendGraftAsync(peer NodeID, topic string) {
	rpc := &RPC{Control: &ControlMessage{
		Graft: []ControlGraftMessage{{Topic: topic}},
	}}
	go func() {
		if err := r.sendRPC(peer, rpc); err != nil {
			log.Debug("发送 GRAFT 失败", "peer", peer.ShortString(), "topic", topic, "err", err)
			return
		}
		r.metrics.graftsSent.Inc()
	}()
}

func (r *Router) sendPruneAsync(peer NodeID, topic string, px []PeerInfo, backoff uint64) {
	rpc := &RPC{Control: &ControlMessage{
		Prune: []ControlPruneMessage{{Topic: topic, Peers: px, Backoff: backoff}},
	}}
	go func() {
		if err := r.sendRPC(peer, rpc); err != nil {
			log.Debug("发送 PRUNE 失败", "peer", peer.ShortString(), "topic", topic, "err", err)
			return
		}
		r.metrics.prunesSent.Inc()
	}()
}

// sendViaEndpoint 默认发送路径：打开流、写一条 RPC、关闭
func (r *Router) sendViaEndpoint(peer NodeID, rpc *RPC) error {
	if r.endpoint == nil {
		return ErrWriteFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamWriteTimeout)
	defer cancel()

	s, err := r.endpoint.NewStream(ctx, peer, ProtocolMeshsub)
	if err != nil {
		return err
	}
	if err := WriteRPC(s, rpc); err != nil {
		_ = s.Reset()
		return err
	}
	return s.Close()
}

// handleStream 入站流处理：循环读 RPC 直到对端关闭
func (r *Router) handleStream(s interfaces.Stream) {
	defer s.Close()
	from := s.RemotePeer()

	for {
		rpc, err := ReadRPC(s)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("读取 RPC 失败", "peer", from.ShortString(), "err", err)
				_ = s.Reset()
			}
			return
		}
		if !r.running.Load() {
			return
		}
		r.HandleRPC(from, rpc)
	}
}

// ============================================================================
//                              查询
// ============================================================================

// Topics 返回已订阅主题
func (r *Router) Topics() []string {
	return r.mesh.Topics()
}

// MeshPeers 返回主题的 mesh 成员
func (r *Router) MeshPeers(topic string) []NodeID {
	return r.mesh.MeshPeers(topic)
}

// Mesh 返回底层 mesh 管理器（只读用途）
func (r *Router) Mesh() *MeshManager {
	return r.mesh
}

// Heartbeat 返回底层心跳调度器
func (r *Router) Heartbeat() *Heartbeat {
	return r.heartbeat
}
