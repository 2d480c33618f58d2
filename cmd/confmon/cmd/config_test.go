package cmd

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oneconcern/confmon/pkg/core"
	"github.com/oneconcern/confmon/pkg/deploy"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/oneconcern/confmon/pkg/scheduler"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readConfig(t testing.TB, content string) (*Config, error) {
	v := viper.New()
	setConfigDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(content)))
	return newConfig(v)
}

func TestConfig(t *testing.T) {
	t.Run("should apply defaults", func(t *testing.T) {
		cfg, err := readConfig(t, "")
		require.NoError(t, err)

		assert.Equal(t, ".confmon", cfg.DataDir)
		assert.Equal(t, backendLocalFS, cfg.Blob.Backend)
		assert.Equal(t, uint64(scheduler.DefaultRetries), cfg.Retries)
		assert.Equal(t, deploy.DefaultTimeout, cfg.TransportTimeout)
		assert.True(t, cfg.Verify)
		assert.Equal(t, filepath.Join(".confmon", "index"), cfg.kvPath())
		assert.Equal(t, filepath.Join(".confmon", "blobs"), cfg.blobPath())
	})

	t.Run("should parse servers and durations", func(t *testing.T) {
		cfg, err := readConfig(t, `
data_dir: /var/lib/confmon
transport_timeout: 45s
blob:
  backend: s3
  bucket: configs
  prefix: prod
servers:
  - id: arena-1
    schedule: "*/15 * * * *"
    full_every: 24h
    keep_last: 10
  - id: arena-2
    keep_within: 168h
`)
		require.NoError(t, err)

		assert.Equal(t, 45*time.Second, cfg.TransportTimeout)
		assert.Equal(t, "configs", cfg.Blob.Bucket)
		require.Len(t, cfg.Servers, 2)
		assert.Equal(t, 24*time.Hour, cfg.Servers[0].FullEvery)
		assert.Equal(t, 168*time.Hour, cfg.Servers[1].KeepWithin)

		server, ok := cfg.server("arena-2")
		require.True(t, ok)
		assert.Equal(t, "arena-2", server.ID)
		_, ok = cfg.server("arena-3")
		assert.False(t, ok)
	})

	t.Run("should refuse invalid settings", func(t *testing.T) {
		for _, content := range []string{
			"blob:\n  backend: ftp\n",
			"blob:\n  backend: gcs\n",
			"servers:\n  - id: a/b\n",
			"servers:\n  - id: arena\n  - id: arena\n",
		} {
			_, err := readConfig(t, content)
			assert.Error(t, err, content)
		}
	})
}

func TestServerRetention(t *testing.T) {
	now := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	old := model.Snapshot{Timestamp: now.Add(-48 * time.Hour)}
	recent := model.Snapshot{Timestamp: now.Add(-time.Hour)}
	at := func(index int) core.RetentionContext {
		return core.RetentionContext{Index: index, Total: 10, Now: now}
	}

	t.Run("should keep everything without settings", func(t *testing.T) {
		keep := ServerConfig{ID: "arena"}.retention()
		assert.True(t, keep(old, at(9)))
	})

	t.Run("should keep a snapshot matching any setting", func(t *testing.T) {
		keep := ServerConfig{ID: "arena", KeepLast: 2, KeepWithin: 24 * time.Hour}.retention()
		assert.True(t, keep(old, at(1)))
		assert.True(t, keep(recent, at(5)))
		assert.False(t, keep(old, at(5)))
	})
}
