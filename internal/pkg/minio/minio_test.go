package minio

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AccessKeyID = "minioadmin"
	cfg.SecretAccessKey = "minioadmin"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing endpoint", mutate: func(c *Config) { c.Endpoint = "" }, wantErr: true},
		{name: "missing access key", mutate: func(c *Config) { c.AccessKeyID = "" }, wantErr: true},
		{name: "missing secret", mutate: func(c *Config) { c.SecretAccessKey = "" }, wantErr: true},
		{name: "missing bucket", mutate: func(c *Config) { c.Bucket = "" }, wantErr: true},
		{name: "uppercase bucket", mutate: func(c *Config) { c.Bucket = "Medora" }, wantErr: true},
		{name: "bad lookup", mutate: func(c *Config) { c.BucketLookup = "virtual" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
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

func TestValidateBucketName(t *testing.T) {
	assert.NoError(t, ValidateBucketName("medora-documents"))
	assert.ErrorIs(t, ValidateBucketName("ab"), ErrInvalidBucketName)
	assert.ErrorIs(t, ValidateBucketName("medora--docs"), ErrInvalidBucketName)
	assert.ErrorIs(t, ValidateBucketName("192.168.1.1"), ErrInvalidBucketName)
}

func TestValidateObjectName(t *testing.T) {
	tests := []struct {
		name    string
		object  string
		wantErr bool
	}{
		{"owner key", "user-1/2f1c.pdf", false},
		{"thumbnail key", "user-1/thumbs/2f1c.jpg", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 1025), true},
		{"null byte", "a\x00b", true},
		{"absolute", "/etc/passwd", true},
		{"parent reference", "user-1/../user-2/x.pdf", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateObjectName(tt.object)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidObjectName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.True(t, IsNotFound(WrapError("StatObject", ErrObjectNotFound, "b", "o")))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", minio.ErrorResponse{Code: "NoSuchKey"})))
	assert.False(t, IsNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, IsNotFound(errors.New("connection reset")))
}

func TestError_Message(t *testing.T) {
	err := WrapError("PutObject", errors.New("boom"), "docs", "u/a.pdf")
	assert.Equal(t, "minio: PutObject failed for bucket=docs, object=u/a.pdf: boom", err.Error())

	err = WrapErrorWithMessage("NewClient", errors.New("boom"), "invalid configuration")
	assert.Equal(t, "minio: NewClient failed: invalid configuration: boom", err.Error())
	assert.Nil(t, WrapError("x", nil, "", ""))
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidArgument)

	cfg := validConfig()
	cfg.PresignExpiry = 0
	c, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "medora-documents", c.Bucket())
	assert.Greater(t, c.Config().PresignExpiry.Seconds(), 0.0)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.RemoveObject(t.Context(), "u/a.pdf"), ErrClientClosed)
}
