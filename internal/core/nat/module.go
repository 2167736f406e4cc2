package nat

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

	Endpoint     interfaces.Endpoint
	Dialer       interfaces.Dialer `optional:"true"`
	ServerConfig *ServerConfig     `optional:"true"`
	ClientConfig *ClientConfig     `optional:"true"`
}

// Result 模块提供的结果
type Result struct {
	fx.Out

	Server *Server
	Client *Client
}

// Module 返回 Fx 模块配置
//
// 提供:
//   - *Server: 回拨服务端
//   - *Client: 探测客户端
//
// 生命周期:
//   - OnStart: 注册 AutoNAT 流处理器
//   - OnStop: 移除流处理器
func Module() fx.Option {
	return fx.Module("nat",
		fx.Provide(ProvideAutoNAT),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideAutoNAT 提供回拨服务端与探测客户端
func ProvideAutoNAT(p Params) (Result, error) {
	return Result{
		Server: NewServer(p.Dialer, p.ServerConfig),
		Client: NewClient(p.Endpoint, p.ClientConfig),
	}, nil
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In
	LC       fx.Lifecycle
	Endpoint interfaces.Endpoint
	Server   *Server
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			input.Endpoint.SetStreamHandler(ProtocolAutoNAT, input.Server.HandleStream)
			return nil
		},
		OnStop: func(_ context.Context) error {
			input.Endpoint.RemoveStreamHandler(ProtocolAutoNAT)
			return nil
		},
	})
}
