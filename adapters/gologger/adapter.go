package gologger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// SlogLogger exposes a *slog.Logger through the glog contract so the binary
// can hand one logger to every package.
type SlogLogger struct {
	base *slog.Logger
	ctx  context.Context
	exit func(code int)
}

func NewSlogLogger(base *slog.Logger) *SlogLogger {
	if base == nil {
		base = slog.Default()
	}
	return &SlogLogger{base: base, ctx: context.Background(), exit: os.Exit}
}

// NewJSONLogger writes JSON lines to stderr at the named level.
func NewJSONLogger(level string) *SlogLogger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)})
	return NewSlogLogger(slog.New(handler))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) Trace(msg string, args ...any) {
	l.base.Log(l.ctx, slog.LevelDebug-4, msg, args...)
}

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.base.DebugContext(l.ctx, msg, args...)
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.base.InfoContext(l.ctx, msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.base.WarnContext(l.ctx, msg, args...)
}

func (l *SlogLogger) Error(msg string, args ...any) {
	l.base.ErrorContext(l.ctx, msg, args...)
}

func (l *SlogLogger) Fatal(msg string, args ...any) {
	l.base.ErrorContext(l.ctx, msg, args...)
	l.exit(1)
}

func (l *SlogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SlogLogger{base: l.base, ctx: ctx, exit: l.exit}
}

// Named returns a child logger tagged with component=name.
func (l *SlogLogger) Named(name string) *SlogLogger {
	return &SlogLogger{base: l.base.With("component", name), ctx: l.ctx, exit: l.exit}
}

// Provider hands out component-tagged children of one SlogLogger.
type Provider struct {
	root *SlogLogger
}

func NewProvider(root *SlogLogger) *Provider {
	if root == nil {
		root = NewSlogLogger(nil)
	}
	return &Provider{root: root}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return p.root
	}
	return p.root.Named(name)
}

var (
	_ glog.Logger         = (*SlogLogger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
