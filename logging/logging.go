// Package logging builds the structured logger that taskloop's loop
// package logs through. Grounded on the teacher
// pack's logging story: go.uber.org/zap for structured JSON logging,
// gopkg.in/natefinch/lumberjack.v2 for size/age-based file rotation
// (both github.com/Sunzhuoyi-lindb dependencies).
package logging

import (
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskloop/taskloop/config"
)

// New builds a *zap.Logger from cfg. A console encoder is used when
// cfg.Console is set or cfg.File is empty (development-style, human
// readable); otherwise JSON lines are written to cfg.File through a
// rotating writer.
func New(cfg config.Logging) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(levelOrDefault(cfg.Level))
	if err != nil {
		return nil, err
	}

	if cfg.Console || cfg.File == "" {
		encCfg := zap.NewDevelopmentEncoderConfig()
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(zapcore.Lock(zapcore.AddSync(os.Stdout))),
			level,
		)
		return zap.New(core), nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxOrDefault(cfg.MaxSizeMB, 100),
		MaxAge:     maxOrDefault(cfg.MaxAgeDays, 28),
		MaxBackups: maxOrDefault(cfg.MaxBackups, 3),
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level)
	return zap.New(core), nil
}

func levelOrDefault(s string) string {
	if s == "" {
		return "info"
	}
	return s
}

func maxOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
