package observability

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey int

const correlationIDKey contextKey = iota

// NewLogger returns the JSON logger the api and worker write to stdout. Every entry
// carries the service name.
func NewLogger(level string, service string) (*zap.Logger, error) {
	return newLogger(level, service, zapcore.Lock(os.Stdout))
}

func newLogger(level string, service string, out zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	logger := zap.New(
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), out, lvl),
		zap.AddCaller(),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)
	if service = strings.TrimSpace(service); service != "" {
		logger = logger.With(zap.String("service", service))
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// WithCorrelationID stores a trimmed correlation id on ctx. Blank ids are ignored.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if correlationID = strings.TrimSpace(correlationID); correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(correlationIDKey).(string)
	return id, id != ""
}

// WithContextLogger returns logger annotated with the correlation id carried by ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return logger.With(zap.String("correlationId", id))
	}
	return logger
}

// BatchLogger annotates logger with the identifiers of one batch dispatch.
func BatchLogger(logger *zap.Logger, ctx context.Context, broadcastID string, batchID string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return WithContextLogger(logger, ctx).With(
		zap.String("broadcastId", broadcastID),
		zap.String("batchId", batchID),
	)
}

// Phone logs a recipient number with all but the country prefix and last four digits
// masked.
func Phone(phone string) zap.Field {
	return zap.String("phone", MaskPhone(phone))
}

func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	keep := 3
	if len(phone) < 10 {
		keep = 0
	}
	return phone[:keep] + strings.Repeat("*", len(phone)-keep-4) + phone[len(phone)-4:]
}
