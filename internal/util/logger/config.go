package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// config 从环境变量解析出的日志配置
type config struct {
	defaultLevel    slog.Level
	subsystemLevels map[string]slog.Level
	json            bool
}

func (c *config) levelFor(subsystem string) slog.Level {
	if level, ok := c.subsystemLevels[subsystem]; ok {
		return level
	}
	return c.defaultLevel
}

var (
	cfgCache *config
	cfgOnce  sync.Once
)

// configFromEnv 解析环境变量配置（进程内只解析一次）
//
//	MESHSUB_LOG_LEVEL: 子系统=级别,子系统=级别,默认级别
//	                   示例: gossip=debug,autonat=warn,info
//	MESHSUB_LOG_FORMAT: text（默认）或 json
func configFromEnv() *config {
	cfgOnce.Do(func() {
		cfgCache = parseEnv()
	})
	return cfgCache
}

func parseEnv() *config {
	cfg := &config{
		defaultLevel:    slog.LevelInfo,
		subsystemLevels: make(map[string]slog.Level),
	}

	for _, part := range strings.Split(os.Getenv("MESHSUB_LOG_LEVEL"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, found := strings.Cut(part, "="); found {
			if level, ok := parseLevel(strings.TrimSpace(v)); ok {
				cfg.subsystemLevels[strings.TrimSpace(k)] = level
			}
			continue
		}
		if level, ok := parseLevel(part); ok {
			cfg.defaultLevel = level
		}
	}

	cfg.json = strings.EqualFold(os.Getenv("MESHSUB_LOG_FORMAT"), "json")
	return cfg
}

func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
