package utils

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

func GetEnvDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt は整数として解釈できない値の場合 defaultValue を返します。
func GetEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer env", "key", key, "value", value)
		return defaultValue
	}
	return n
}

// GetEnvDuration は time.ParseDuration 形式 ("50ms", "5m") を受け付けます。
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration env", "key", key, "value", value)
		return defaultValue
	}
	return d
}
