package meshsub

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-meshsub/internal/core/gossip"
	"github.com/dep2p/go-meshsub/internal/core/nat"
	"github.com/dep2p/go-meshsub/pkg/interfaces"
)

// buildFxApp 组装节点的 fx 应用
//
// 模块按层加载：端点供给 → 路由引擎 → AutoNAT（可选），最后
// populate 门面持有的组件引用。
func buildFxApp(node *Node, endpoint interfaces.Endpoint, o *options) *fx.App {
	fxOpts := []fx.Option{
		fx.NopLogger,

		fx.Provide(func() (interfaces.Endpoint, error) {
			if endpoint == nil {
				return nil, ErrNilEndpoint
			}
			return endpoint, nil
		}),

		gossip.Module(),
		fx.Supply(o.toGossipConfig()),
	}

	if o.autonat.enable {
		fxOpts = append(fxOpts,
			nat.Module(),
			fx.Supply(o.toServerConfig()),
			fx.Supply(o.toClientConfig()),
		)
		if o.autonat.dialer != nil {
			dialer := o.autonat.dialer
			fxOpts = append(fxOpts, fx.Provide(func() interfaces.Dialer { return dialer }))
		}
		fxOpts = append(fxOpts, fx.Populate(&node.autonatClient))
	}

	fxOpts = append(fxOpts,
		fx.Populate(&node.router),
		fx.Options(o.fxOptions...),
	)

	return fx.New(fxOpts...)
}
