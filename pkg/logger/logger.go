package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log *zap.Logger
var sugar *zap.SugaredLogger

// FileOptions controls the rotating file sink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init initializes the global logger writing to stdout.
// Environment can be "dev", "uat", or "prod".
func Init(service, env, level string) {
	setGlobal(build(env, level, nil), service, env, level)
}

// InitWithFile initializes the global logger and tees it into a rotating file.
// An empty path behaves like Init.
func InitWithFile(service, env, level string, file FileOptions) {
	if file.Path == "" {
		Init(service, env, level)
		return
	}
	setGlobal(build(env, level, &file), service, env, level)
}

func build(env, level string, file *FileOptions) *zap.Logger {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if file != nil {
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore(cfg, file))
		}))
	}

	logger, err := cfg.Build(opts...)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger
}

// fileCore always writes JSON; colored levels make no sense on disk.
func fileCore(cfg zap.Config, file *FileOptions) zapcore.Core {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	maxSize := file.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	w := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    maxSize,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), cfg.Level)
}

func setGlobal(logger *zap.Logger, service, env, level string) {
	log = logger
	sugar = logger.Sugar()

	sugar.Infow("logger initialized",
		"service", service,
		"env", env,
		"level", level,
		"pid", os.Getpid(),
	)
}

// L returns the base structured Zap logger (for performance-sensitive paths).
func L() *zap.Logger {
	if log == nil {
		Init("unknown", "dev", "info")
	}
	return log
}

// S returns the Sugared logger (for convenience).
func S() *zap.SugaredLogger {
	if sugar == nil {
		Init("unknown", "dev", "info")
	}
	return sugar
}

// Sync flushes any buffered logs (defer this in main()).
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
