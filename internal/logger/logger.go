// Package logger provides structured logging utilities for syncrelay.
// It includes context-aware logging and log level management.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/enflame-media/syncrelay/internal/constants"
)

// Initialize sets up the global slog logger based on the environment.
// Production logs are JSON; every other environment uses a colored handler.
func Initialize(env constants.Environment, level slog.Level) *slog.Logger {
	var handler slog.Handler

	if env == constants.Production {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:       level,
			TimeFormat:  time.TimeOnly,
			ReplaceAttr: replaceAttrForDev,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	logger.Debug("logger initialized", "context", map[string]any{
		"env":   env,
		"level": level.String(),
	})

	return logger
}

// replaceAttrForDev flattens map attributes into key=value pairs so they
// stay readable on a single terminal line.
func replaceAttrForDev(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindAny {
		return attr
	}

	switch attr.Value.Any().(type) {
	case map[string]any, map[string]string:
		return slog.String(attr.Key, flattenMapAttr(attr.Key, attr.Value.Any()))
	}

	return attr
}

// flattenMapAttr renders a (possibly nested) map as sorted prefix.key=value pairs.
func flattenMapAttr(prefix string, value any) string {
	pairs := make([]string, 0)
	collectPairs(prefix, value, &pairs)
	if len(pairs) == 0 {
		return fmt.Sprint(value)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}

func collectPairs(prefix string, value any, pairs *[]string) {
	switch v := value.(type) {
	case map[string]any:
		for k, inner := range v {
			collectPairs(joinKey(prefix, k), inner, pairs)
		}
	case map[string]string:
		for k, inner := range v {
			*pairs = append(*pairs, fmt.Sprintf("%s=%s", joinKey(prefix, k), inner))
		}
	default:
		if prefix == "" {
			return
		}
		*pairs = append(*pairs, fmt.Sprintf("%s=%v", prefix, v))
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
