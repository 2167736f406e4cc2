// Package logger 提供 meshsub 的统一日志系统
//
// 基于标准库 log/slog，按子系统配置级别：
//
//	var log = logger.Logger("gossip")
//	log.Debug("graft accepted", "peer", peer, "topic", topic)
//
// 环境变量配置:
//
//	# 所有子系统 info，gossip 子系统 debug
//	MESHSUB_LOG_LEVEL=gossip=debug,info
//
//	# JSON 格式输出
//	MESHSUB_LOG_FORMAT=json
package logger

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

var (
	loggers  sync.Map // map[string]*slog.Logger
	handlers sync.Map // map[string]*subsystemHandler
)

// Logger 获取指定子系统的 Logger
//
// 同一子系统多次调用返回同一实例；级别来自 MESHSUB_LOG_LEVEL。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := configFromEnv()
	h := newSubsystemHandler(subsystem, cfg)
	l := slog.New(h)

	actual, loaded := loggers.LoadOrStore(subsystem, l)
	if !loaded {
		handlers.Store(subsystem, h)
	}
	return actual.(*slog.Logger)
}

// SetLevel 运行时调整子系统的日志级别
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).setLevel(level)
	}
}

// Discard 返回丢弃所有日志的 Logger（测试用）
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// ============================================================================
//                              Handler
// ============================================================================

// subsystemHandler 支持运行时级别调整的 slog.Handler
type subsystemHandler struct {
	level *slog.LevelVar
	inner slog.Handler
}

func newSubsystemHandler(subsystem string, cfg *config) *subsystemHandler {
	level := new(slog.LevelVar)
	level.Set(cfg.levelFor(subsystem))

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if cfg.json {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	inner = inner.WithAttrs([]slog.Attr{slog.String("subsystem", subsystem)})

	return &subsystemHandler{level: level, inner: inner}
}

func (h *subsystemHandler) setLevel(level slog.Level) {
	h.level.Set(level)
}

func (h *subsystemHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *subsystemHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *subsystemHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &subsystemHandler{level: h.level, inner: h.inner.WithAttrs(attrs)}
}

func (h *subsystemHandler) WithGroup(name string) slog.Handler {
	return &subsystemHandler{level: h.level, inner: h.inner.WithGroup(name)}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
