package logger

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trade-maestro/internal/trace"
)

var (
	mu       sync.RWMutex
	base     = zap.NewNop()
	detailed bool
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level           string // DEBUG, INFO, WARN, ERROR
	Format          string // json or console
	DetailedLogging bool   // Enable debug logs and caller info
}

// Init initializes the global logger from environment variables
func Init() error {
	return InitWithConfig(LoadConfigFromEnv())
}

// LoadConfigFromEnv loads logging configuration from environment variables
func LoadConfigFromEnv() LogConfig {
	return LogConfig{
		Level:           getEnvOrDefault("LOG_LEVEL", "INFO"),
		Format:          getEnvOrDefault("LOG_FORMAT", "json"),
		DetailedLogging: getEnvOrDefault("LOG_DETAILED", "false") == "true",
	}
}

// InitWithConfig builds the zap logger used by every package.
func InitWithConfig(config LogConfig) error {
	var zc zap.Config
	if strings.EqualFold(config.Format, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	level := parseLogLevel(config.Level)
	if config.DetailedLogging {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableCaller = !config.DetailedLogging
	zc.DisableStacktrace = true

	l, err := zc.Build(zap.AddCallerSkip(2))
	if err != nil {
		return err
	}

	mu.Lock()
	base = l
	detailed = config.DetailedLogging
	mu.Unlock()
	return nil
}

// SetLogger replaces the backend, mostly for tests using zaptest/observer.
func SetLogger(l *zap.Logger, detailedLogging bool) {
	mu.Lock()
	base = l
	detailed = detailedLogging
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func sugar(skip int) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if skip > 0 {
		return base.WithOptions(zap.AddCallerSkip(skip)).Sugar()
	}
	return base.Sugar()
}

func withTrace(ctx context.Context, args []any) []any {
	if traceID, spanID, ok := trace.Fields(ctx); ok {
		return append([]any{"trace_id", traceID, "span_id", spanID}, args...)
	}
	return args
}

func log(ctx context.Context, level zapcore.Level, skip int, msg string, args ...any) {
	s := sugar(skip)
	kv := withTrace(ctx, args)
	switch level {
	case zapcore.DebugLevel:
		s.Debugw(msg, kv...)
	case zapcore.WarnLevel:
		s.Warnw(msg, kv...)
	case zapcore.ErrorLevel:
		s.Errorw(msg, kv...)
	default:
		s.Infow(msg, kv...)
	}
}

// Debug logs a debug message when detailed logging is on
func Debug(ctx context.Context, msg string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	log(ctx, zapcore.DebugLevel, 0, msg, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	log(ctx, zapcore.InfoLevel, 0, msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	log(ctx, zapcore.WarnLevel, 0, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	log(ctx, zapcore.ErrorLevel, 0, msg, args...)
}

// ErrorWithErr logs msg with err attached and marks the active span as failed
func ErrorWithErr(ctx context.Context, msg string, err error, args ...any) {
	trace.RecordError(ctx, err)
	log(ctx, zapcore.ErrorLevel, 0, msg, append([]any{"error", err}, args...)...)
}

// DebugSkip, InfoSkip and ErrorWithErrSkip are used by decorators so the
// reported caller is the decorated call site.
func DebugSkip(ctx context.Context, skip int, msg string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	log(ctx, zapcore.DebugLevel, skip, msg, args...)
}

func InfoSkip(ctx context.Context, skip int, msg string, args ...any) {
	log(ctx, zapcore.InfoLevel, skip, msg, args...)
}

func WarnSkip(ctx context.Context, skip int, msg string, args ...any) {
	log(ctx, zapcore.WarnLevel, skip, msg, args...)
}

func ErrorWithErrSkip(ctx context.Context, skip int, msg string, err error, args ...any) {
	trace.RecordError(ctx, err)
	log(ctx, zapcore.ErrorLevel, skip, msg, append([]any{"error", err}, args...)...)
}

// OperationTimer measures an operation inside its own span.
type OperationTimer struct {
	ctx    context.Context
	span   oteltrace.Span
	start  time.Time
	fields []any
}

func StartOperation(ctx context.Context, operation string, fields ...any) *OperationTimer {
	ctx, span := trace.StartSpan(ctx, operation)
	span.SetAttributes(trace.Attributes(fields...)...)
	Debug(ctx, "Operation started", append([]any{"operation", operation}, fields...)...)
	return &OperationTimer{ctx: ctx, span: span, start: time.Now(), fields: fields}
}

func (ot *OperationTimer) Context() context.Context {
	return ot.ctx
}

func (ot *OperationTimer) End(additionalFields ...any) {
	d := time.Since(ot.start)
	ot.span.SetAttributes(attribute.Int64("duration_ms", d.Milliseconds()))
	ot.span.SetAttributes(trace.Attributes(additionalFields...)...)
	ot.span.SetStatus(codes.Ok, "completed")
	ot.span.End()

	fields := append(append([]any{}, ot.fields...), "duration_ms", d.Milliseconds())
	Debug(ot.ctx, "Operation completed", append(fields, additionalFields...)...)
}

func (ot *OperationTimer) EndWithError(err error, additionalFields ...any) {
	d := time.Since(ot.start)
	ot.span.SetAttributes(attribute.Int64("duration_ms", d.Milliseconds()))
	ot.span.RecordError(err)
	ot.span.SetStatus(codes.Error, err.Error())
	ot.span.End()

	fields := append(append([]any{}, ot.fields...), "duration_ms", d.Milliseconds(), "error", err)
	log(ot.ctx, zapcore.ErrorLevel, 0, "Operation failed", append(fields, additionalFields...)...)
}

// Decision logs a strategy intent (always logged regardless of level)
func Decision(ctx context.Context, strategyID, symbol, direction string, confidence float64, reason string, fields ...any) {
	trace.AddEvent(ctx, "strategy_intent",
		attribute.String("strategy_id", strategyID),
		attribute.String("symbol", symbol),
		attribute.String("direction", direction),
		attribute.Float64("confidence", confidence),
	)
	all := append([]any{
		"type", "DECISION",
		"strategy_id", strategyID,
		"symbol", symbol,
		"direction", direction,
		"confidence", confidence,
		"reason", reason,
	}, fields...)
	log(ctx, zapcore.InfoLevel, 0, "Strategy intent", all...)
}

// Trade logs an order lifecycle event such as open or close
func Trade(ctx context.Context, event, orderID, symbol, direction string, size, price float64, fields ...any) {
	trace.AddEvent(ctx, "order_"+event,
		attribute.String("order_id", orderID),
		attribute.String("symbol", symbol),
		attribute.Float64("size", size),
		attribute.Float64("price", price),
	)
	all := append([]any{
		"type", "TRADE",
		"event", event,
		"order_id", orderID,
		"symbol", symbol,
		"direction", direction,
		"size", size,
		"price", price,
	}, fields...)
	log(ctx, zapcore.InfoLevel, 0, "Order "+event, all...)
}

// Risk logs a risk management event
func Risk(ctx context.Context, symbol, rule string, fields ...any) {
	trace.AddEvent(ctx, "risk_event",
		attribute.String("symbol", symbol),
		attribute.String("rule", rule),
	)
	all := append([]any{"type", "RISK", "symbol", symbol, "rule", rule}, fields...)
	log(ctx, zapcore.WarnLevel, 0, "Risk event", all...)
}

func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return detailed
}
