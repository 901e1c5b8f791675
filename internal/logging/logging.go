// Package logging builds the process logger: console output plus a per-run
// log file, and wires the LiveKit SDK logger at the same level.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/livekit/protocol/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"letta-telephony-agent/internal/config"
	"letta-telephony-agent/pkg/agent"
)

// Options configures New.
type Options struct {
	// App names the log file and the LiveKit logger.
	App   string
	Dir   string
	Level string
	JSON  bool

	// Console receives console output. Defaults to os.Stdout.
	Console io.Writer
	// Now stamps the log file name. Defaults to time.Now.
	Now func() time.Time
}

// Logger is a zap logger that also owns its log file.
type Logger struct {
	*zap.SugaredLogger
	Path string

	file *os.File
}

// FileName returns the per-run log file name for app.
func FileName(app string, t time.Time) string {
	return fmt.Sprintf("%s-%s.log", app, t.Format("20060102-150405"))
}

// New creates the log directory if needed and opens a fresh log file.
func New(opts Options) (*Logger, error) {
	if opts.Dir == "" {
		opts.Dir = config.DefaultLogDir
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	level := zapcore.DebugLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(opts.Dir, FileName(opts.App, opts.Now()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var consoleEnc zapcore.Encoder
	if opts.JSON {
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	} else {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(consoleCfg)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEnc, zapcore.AddSync(opts.Console), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), level),
	)
	z := zap.New(core, zap.AddCaller()).Named(opts.App)

	return &Logger{SugaredLogger: z.Sugar(), Path: path, file: file}, nil
}

// Agent adapts l for the worker and job handlers.
func (l *Logger) Agent() agent.Logger {
	return agent.NewZapLogger(l.SugaredLogger)
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// InitLiveKit configures the LiveKit protocol logger used by the SDK, the
// voice session and the provider plugins.
func InitLiveKit(app, level string, json bool) {
	if level == "" {
		level = "info"
	}
	logger.InitFromConfig(&logger.Config{Level: level, JSON: json}, app)
	lksdk.SetLogger(logger.GetLogger())
}

// LogStartup records process details and the masked environment.
func LogStartup(l agent.Logger, logPath string, environ []string) {
	wd, _ := os.Getwd()
	l.Info("Logging to file", "path", logPath)
	l.Info("Process started", "pid", os.Getpid(), "workdir", wd)

	l.Info("Environment variables:")
	for _, v := range config.Environment(environ) {
		l.Info("  env", "name", v.Name, "value", v.Value)
	}
}
