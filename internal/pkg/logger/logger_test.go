package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default config", mutate: func(c *Config) {}},
		{name: "development config", mutate: func(c *Config) { *c = *Development() }},
		{name: "invalid level", mutate: func(c *Config) { c.Level = "verbose" }, wantErr: true},
		{name: "invalid format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: true},
		{name: "invalid output", mutate: func(c *Config) { c.Output = "syslog" }, wantErr: true},
		{name: "file output without filename", mutate: func(c *Config) {
			c.Output = "file"
			c.File.Filename = ""
		}, wantErr: true},
		{name: "file output with zero maxsize", mutate: func(c *Config) {
			c.Output = "both"
			c.File.MaxSize = 0
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.File.Filename = filepath.Join(t.TempDir(), "logs", "medora.log")

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("document uploaded", zap.String("document_id", "doc-1"))
	_ = l.Sync()

	assert.FileExists(t, cfg.File.Filename)
}

func TestNew_NilConfigUsesDefault(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, "info", l.Config().Level)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithOwnerID(ctx, "owner-1")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "owner-1", GetOwnerID(ctx))
	assert.Len(t, ContextFields(ctx), 2)

	base := zap.NewNop()
	assert.NotSame(t, base, For(ctx, base))
	assert.Same(t, base, For(context.Background(), base))
}

func TestGinLogger_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, err := New(DefaultConfig())
	require.NoError(t, err)

	var seen string
	r := gin.New()
	r.Use(GinLogger(l), GinRecovery(l))
	r.GET("/documents", func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/documents", nil)
		req.Header.Set("X-Request-ID", "abc")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "abc", seen)
	})

	t.Run("panic recovered", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
