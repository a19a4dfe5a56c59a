package obs

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()
)

// Setup builds the shared logger. Production environments get JSON output,
// everything else the development console encoder.
func Setup(env, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	lg, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	SetLogger(lg)
	return lg, nil
}

// SetLogger replaces the shared logger. Tests use it to capture output.
func SetLogger(lg *zap.Logger) {
	if lg == nil {
		lg = zap.NewNop()
	}
	loggerMu.Lock()
	logger = lg
	loggerMu.Unlock()
}

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

type requestIDKey struct{}

// ContextWithRequestID stores the request identifier for log enrichment.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithRequest returns the shared logger annotated with request scoped fields.
func WithRequest(ctx context.Context) *zap.Logger {
	lg := Logger()
	if rid := RequestIDFromContext(ctx); rid != "" {
		return lg.With(zap.String("request_id", rid))
	}
	return lg
}
