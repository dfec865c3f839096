package cmd

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bootstrapLogger logs config discovery and shutdown, before and after the server logger exists
// bootstrapLogger 记录配置发现与关闭过程，不依赖服务日志器
var bootstrapLogger = newBootstrapLogger(os.Getenv("VMBACKUP_DEBUG") != "")

func newBootstrapLogger(debug bool) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller())
}
