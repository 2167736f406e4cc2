package gossip

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
//                              指标
// ============================================================================

// Metrics 路由器运行指标
type Metrics struct {
	graftsReceived    prometheus.Counter
	graftsSent        prometheus.Counter
	prunesReceived    prometheus.Counter
	prunesSent        prometheus.Counter
	ihaveReceived     prometheus.Counter
	iwantSent         prometheus.Counter
	duplicatesDropped prometheus.Counter
	messagesDelivered prometheus.Counter
	messagesForwarded prometheus.Counter
	backoffViolations prometheus.Counter
	brokenPromises    prometheus.Counter
}

// NewMetrics 创建并注册路由器指标
//
// reg 为 nil 时指标仍可更新，只是不对外暴露（测试场景）。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		graftsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "grafts_received_total",
			Help: "收到的 GRAFT 条目总数",
		}),
		graftsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "grafts_sent_total",
			Help: "发出的 GRAFT 条目总数",
		}),
		prunesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "prunes_received_total",
			Help: "收到的 PRUNE 条目总数",
		}),
		prunesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "prunes_sent_total",
			Help: "发出的 PRUNE 条目总数",
		}),
		ihaveReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "ihave_received_total",
			Help: "收到的 IHAVE 消息 ID 总数",
		}),
		iwantSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "iwant_sent_total",
			Help: "发出的 IWANT 消息 ID 总数",
		}),
		duplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "duplicates_dropped_total",
			Help: "去重丢弃的消息总数",
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "messages_delivered_total",
			Help: "投递给本地订阅者的消息总数",
		}),
		messagesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "messages_forwarded_total",
			Help: "经 mesh 转发的消息总数",
		}),
		backoffViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "backoff_violations_total",
			Help: "退避期内收到的 GRAFT 总数",
		}),
		brokenPromises: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshsub", Name: "broken_promises_total",
			Help: "IWANT 超时未履约的总数",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.graftsReceived, m.graftsSent,
			m.prunesReceived, m.prunesSent,
			m.ihaveReceived, m.iwantSent,
			m.duplicatesDropped, m.messagesDelivered, m.messagesForwarded,
			m.backoffViolations, m.brokenPromises,
		)
	}
	return m
}
