package gossip

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshsub/pkg/interfaces"
)

// ============================================================================
//                              Fx 模块定义
// ============================================================================

// Params 模块依赖参数
type Params struct {
	fx.In

	Endpoint interfaces.Endpoint
	Config   *Config `optional:"true"`
}

// Result 模块提供的结果
type Result struct {
	fx.Out

	Router *Router
}

// Module 返回 Fx 模块配置
//
// 提供:
//   - *Router: gossip-mesh 路由引擎
//
// 生命周期:
//   - OnStart: 注册流处理器并启动心跳
//   - OnStop: 停止心跳并关闭本地订阅
func Module() fx.Option {
	return fx.Module("gossip",
		fx.Provide(ProvideRouter),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideRouter 提供路由引擎
func ProvideRouter(p Params) (Result, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}

	router := NewRouter(p.Endpoint.ID(), p.Endpoint, cfg)
	return Result{Router: router}, nil
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In
	LC     fx.Lifecycle
	Router *Router
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return input.Router.Start()
		},
		OnStop: func(_ context.Context) error {
			return input.Router.Stop()
		},
	})
}
