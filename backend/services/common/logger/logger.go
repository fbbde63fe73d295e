package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process logger. It is a no-op logger until Initialize runs.
var Log = zap.NewNop()

type ctxKey struct{}

// RequestIDKey is the gin context key and the header-derived id name.
const RequestIDKey = "request_id"

// RequestIDHeader is propagated in and out of every request.
const RequestIDHeader = "X-Request-ID"

// Initialize sets up the logger with the specified environment
func Initialize(env string) *zap.Logger {
	return InitializeWithWriter(env, nil)
}

// InitializeWithWriter sets up the logger and tees it to an extra sink
// (CloudWatch Logs in deployed environments) when one is given.
func InitializeWithWriter(env string, sink io.Writer) *zap.Logger {
	config := newConfig(env)

	if sink == nil {
		built, err := config.Build()
		if err != nil {
			fmt.Printf("Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
		Log = built
		return Log
	}

	level := zap.NewAtomicLevelAt(config.Level.Level())
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(config.EncoderConfig), zapcore.AddSync(os.Stdout), level)
	sinkCore := zapcore.NewCore(zapcore.NewJSONEncoder(config.EncoderConfig), zapcore.AddSync(sink), level)
	Log = zap.New(zapcore.NewTee(consoleCore, sinkCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return Log
}

func newConfig(env string) zap.Config {
	if env == "production" {
		config := zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return config
	}
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return config
}

// RequestID assigns every request an id, reusing the caller's X-Request-ID
// when present, and stores it on both the gin and the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(WithContext(c.Request.Context(), requestID))
		c.Next()
	}
}

// WithContext creates a new context with the given request ID
func WithContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFrom extracts the request id set by RequestID, or "unknown".
func RequestIDFrom(ctx context.Context) string {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		if requestID := ginCtx.GetString(RequestIDKey); requestID != "" {
			return requestID
		}
		if ginCtx.Request == nil {
			return "unknown"
		}
		ctx = ginCtx.Request.Context()
	}
	if requestID, ok := ctx.Value(ctxKey{}).(string); ok && requestID != "" {
		return requestID
	}
	return "unknown"
}

// For returns l annotated with the request id carried by ctx.
func For(ctx context.Context, l *zap.Logger) *zap.Logger {
	if l == nil {
		l = Log
	}
	return l.With(zap.String("request_id", RequestIDFrom(ctx)))
}
