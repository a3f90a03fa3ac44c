package config_test

import (
	"testing"
	"time"

	"github.com/sellpoint/sellpoint-client/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	opt := config.NewConfig()

	assert.Equal(t, "http://localhost:8080", opt.ServerURL)
	assert.True(t, opt.SyncWithServer)
	assert.Equal(t, 30*time.Second, opt.SyncInterval)
	assert.Equal(t, 5, opt.MaxRejections)
	assert.NotEmpty(t, opt.DataPath)
}

func TestNewConfigEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_URL", "http://sync.example.com")
	t.Setenv("BUSINESS_ID", "biz-42")
	t.Setenv("SYNC_WITH_SERVER", "false")
	t.Setenv("SYNC_INTERVAL", "5s")
	t.Setenv("MAX_REJECTIONS", "3")

	opt := config.NewConfig()

	assert.Equal(t, "http://sync.example.com", opt.ServerURL)
	assert.Equal(t, "biz-42", opt.BusinessID)
	assert.False(t, opt.SyncWithServer)
	assert.Equal(t, 5*time.Second, opt.SyncInterval)
	assert.Equal(t, 3, opt.MaxRejections)
}

func TestNewConfigIgnoresBadEnvValues(t *testing.T) {
	t.Setenv("SYNC_WITH_SERVER", "not-a-bool")
	t.Setenv("SYNC_INTERVAL", "not-a-duration")

	opt := config.NewConfig()

	assert.True(t, opt.SyncWithServer)
	assert.Equal(t, 30*time.Second, opt.SyncInterval)
}

func TestEnsureDataPath(t *testing.T) {
	t.Setenv("DATA_PATH", t.TempDir()+"/nested/sellpoint")

	opt := config.NewConfig()
	path, err := opt.EnsureDataPath()
	require.NoError(t, err)
	assert.DirExists(t, path)
}
