// Package logger builds the application zap logger
// Package logger 构建应用 zap 日志器
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config logger configuration
// Config 日志配置
type Config struct {
	// Level 日志级别，参见 zapcore.ParseLevel
	Level string
	// File 日志文件路径，为空时只输出到 stderr
	File string
	// Production 是否启用 JSON 输出
	Production bool
	// MaxSize 单个日志文件最大尺寸（MB）
	MaxSize int
	// MaxBackups 保留的旧日志文件数量
	MaxBackups int
	// MaxAge 旧日志文件保留天数
	MaxAge int
}

// NewLogger creates a logger writing to stderr and, when File is set, to a rotated file
// NewLogger 创建日志器，输出到 stderr，配置了 File 时同时写入滚动日志文件
func NewLogger(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Production {
		encoderConfig = zap.NewProductionEncoderConfig()
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	if cfg.Production {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0754); err != nil {
			return nil, err
		}

		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}

		// File output is always JSON so that it can be shipped as is
		// 文件输出始终为 JSON，便于直接采集
		fileEncoderConfig := zap.NewProductionEncoderConfig()
		fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig), writer, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
