// Package meshsub 实现 gossip-mesh 消息路由协议引擎
//
// meshsub 在宿主提供的网络端点之上维护每个主题的 mesh 覆盖网：
// 消息沿 mesh 全量转发，mesh 之外的订阅者通过 IHAVE/IWANT 的
// gossip 通告按需拉取。GRAFT/PRUNE 控制消息维护 mesh 成员关系，
// 退避机制抑制 GRAFT 抖动。
//
// 附带一个无状态的 AutoNAT 回拨服务：对端通告候选地址，本节点
// 回拨验证公网可达性并以状态码应答。
//
// 引擎不做传输安全、节点发现与消息签名——这些由宿主负责。
//
// 使用示例：
//
//	node, err := meshsub.New(endpoint)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Stop(context.Background())
//
//	topic, _ := node.Join("news", nil)
//	msgs, cancel, _ := topic.Subscribe()
//	defer cancel()
//	_ = topic.Publish(ctx, []byte("hello"))
package meshsub
