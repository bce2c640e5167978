package gateway

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface every gateway component logs through. Kept
// as a narrow seam (rather than a direct *zap.SugaredLogger dependency)
// so tests can swap in NoOpLogger without constructing a real encoder.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// NoOpLogger discards everything. Used by tests and by callers that
// construct a Config/Proxy directly without a logging configuration.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *NoOpLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (n *NoOpLogger) Error(msg string, keysAndValues ...interface{}) {}

// ZapLogger adapts a *zap.SugaredLogger to the Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a ZapLogger from a LoggingConfig: JSON or console
// encoding, leveled per cfg.Level, writing to stdout, or, when cfg.File
// is set, appending to ferragate.log in the working directory. The log
// file is not rotated.
func NewLogger(cfg LoggingConfig) (*ZapLogger, error) {
	levelText := cfg.Level
	if levelText == "trace" {
		// zap has no trace level; trace maps to its most verbose level.
		levelText = "debug"
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(levelText)); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.JSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.File {
		f, openErr := os.OpenFile("ferragate.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if openErr != nil {
			return nil, fmt.Errorf("open log file: %w", openErr)
		}
		sink = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(encoder, sink, level)
	base := zap.New(core, zap.AddCaller())

	return &ZapLogger{sugar: base.Sugar()}, nil
}

func (z *ZapLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.sugar.Debugw(msg, keysAndValues...)
}

func (z *ZapLogger) Info(msg string, keysAndValues ...interface{}) {
	z.sugar.Infow(msg, keysAndValues...)
}

func (z *ZapLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.sugar.Warnw(msg, keysAndValues...)
}

func (z *ZapLogger) Error(msg string, keysAndValues ...interface{}) {
	z.sugar.Errorw(msg, keysAndValues...)
}

// Sync flushes any buffered log entries. Callers should defer Sync()
// at process shutdown.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}
