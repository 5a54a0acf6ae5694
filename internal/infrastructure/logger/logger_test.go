package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "default config", cfg: DefaultConfig()},
		{name: "production config", cfg: ProductionConfig()},
		{name: "stderr with service", cfg: &Config{Level: "debug", Format: "json", Output: "stderr", Service: "palmtrace"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNew_TeesExtraCores(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	l, err := New(&Config{Level: "error", Format: "json", Output: "stderr", Service: "palmtrace"}, core)
	require.NoError(t, err)

	l.Info("recalculated")
	logs := recorded.All()
	require.Len(t, logs, 1)
	assert.Equal(t, "palmtrace", logs[0].ContextMap()["service"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestContextFields(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := context.Background()
	ctx, _ = WithRequestID(ctx, base, "req-1")
	ctx, reqLogger := WithCompanyID(ctx, FromContext(ctx), "company-7")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "company-7", GetCompanyID(ctx))

	reqLogger.Info("gap opened")
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "company-7", fields["company_id"])

	// a service logger picks the request fields up from the context
	service := zap.New(core).Named("recalculator")
	WithLogger(ctx, service).Warn("cache write failed")
	logs := recorded.All()
	require.Len(t, logs, 2)
	fields = logs[1].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "company-7", fields["company_id"])
	assert.Equal(t, "recalculator", logs[1].LoggerName)
}

func TestFromContext_Missing(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
	ctx := context.WithValue(context.Background(), LoggerKey, "not a logger")
	FromContext(ctx).Info("no panic")
}

func TestWithTraceContext(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	WithLogger(ctx, base).With(zap.String("po_id", "po-1")).Info("propagated")
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
	assert.Equal(t, "po-1", fields["po_id"])
	assert.Equal(t, traceID.String(), GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("logs request with company and stores logger", func(t *testing.T) {
		core, recorded := observer.New(zapcore.InfoLevel)
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Set(string(RequestIDKey), "req-9")
			c.Set(string(CompanyIDKey), "company-1")
		})
		router.Use(GinMiddleware(zap.New(core)))
		router.GET("/api/v1/purchase-orders/:id/transparency", func(c *gin.Context) {
			FromContext(c.Request.Context()).Info("handler")
			assert.Equal(t, "req-9", GetRequestID(c.Request.Context()))
			assert.Equal(t, "company-1", GetCompanyID(c.Request.Context()))
			assert.NotNil(t, GetGinLogger(c))
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/purchase-orders/1/transparency?refresh=true", nil)
		router.ServeHTTP(w, req)

		logs := recorded.All()
		require.Len(t, logs, 2)
		assert.Equal(t, "handler", logs[0].Message)
		assert.Equal(t, "HTTP Request", logs[1].Message)
		fields := logs[1].ContextMap()
		assert.Equal(t, "req-9", fields["request_id"])
		assert.Equal(t, "company-1", fields["company_id"])
		assert.Equal(t, "refresh=true", fields["query"])
	})

	t.Run("client errors log at warn", func(t *testing.T) {
		core, recorded := observer.New(zapcore.InfoLevel)
		router := gin.New()
		router.Use(GinMiddleware(zap.New(core)))
		router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
		require.Len(t, recorded.All(), 1)
		assert.Equal(t, zapcore.WarnLevel, recorded.All()[0].Level)
	})

	t.Run("recovery turns panics into 500", func(t *testing.T) {
		core, recorded := observer.New(zapcore.InfoLevel)
		router := gin.New()
		router.Use(Recovery(zap.New(core)))
		router.GET("/panic", func(c *gin.Context) { panic("boom") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Panic recovered", recorded.All()[0].Message)
	})

	t.Run("missing logger yields nop", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		assert.NotNil(t, GetGinLogger(c))
	})
}

func TestGormLogger(t *testing.T) {
	sqlFn := func() (string, int64) { return "SELECT * FROM purchase_orders", 3 }

	t.Run("errors are logged", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		gl := NewGormLogger(zap.New(core), gormlogger.Warn)
		gl.Trace(context.Background(), time.Now(), sqlFn, errors.New("boom"))
		require.Len(t, recorded.All(), 1)
		assert.Equal(t, "SQL Error", recorded.All()[0].Message)
	})

	t.Run("record not found is ignored by default", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		gl := NewGormLogger(zap.New(core), gormlogger.Warn)
		gl.Trace(context.Background(), time.Now(), sqlFn, gormlogger.ErrRecordNotFound)
		assert.Empty(t, recorded.All())
	})

	t.Run("slow queries warn without SQL when disabled", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		gl := NewGormLogger(zap.New(core), gormlogger.Warn, WithSlowThreshold(time.Millisecond), WithSQL(false))
		gl.Trace(context.Background(), time.Now().Add(-time.Second), sqlFn, nil)
		require.Len(t, recorded.All(), 1)
		entry := recorded.All()[0]
		assert.Equal(t, zapcore.WarnLevel, entry.Level)
		assert.NotContains(t, entry.ContextMap(), "sql")
	})

	t.Run("silent logs nothing", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		gl := NewGormLogger(zap.New(core), gormlogger.Info).LogMode(gormlogger.Silent)
		gl.Trace(context.Background(), time.Now(), sqlFn, errors.New("boom"))
		assert.Empty(t, recorded.All())
	})

	t.Run("maps levels", func(t *testing.T) {
		assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
		assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
		assert.Equal(t, gormlogger.Warn, MapGormLogLevel("unknown"))
	})
}
