package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, ":8080", cfg.HTTP.Addr())
	assert.Equal(t, "local", cfg.Lock.Backend)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Ledger.MaxRetries)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	// GIVEN: A config file selecting redis locks on port 9000
	// WHEN: ALLOC_HTTP_PORT overrides the port
	// THEN: The env value wins and the file supplies the rest

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[http]
port = 9000

[lock]
backend = "redis"
ttl = "5s"

[redis]
addr = "redis:6379"

[storage]
backend = "s3"
bucket = "po-uploads"
`), 0o600))
	t.Setenv("ALLOC_HTTP_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.HTTP.Port)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, 5*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "po-uploads", cfg.Storage.Bucket)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown lock backend": "ALLOC_LOCK_BACKEND",
		"unknown storage":      "ALLOC_STORAGE_BACKEND",
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(env, "etcd")
			_, err := Load("")
			assert.Error(t, err)
		})
	}

	t.Run("s3 without bucket", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("ALLOC_STORAGE_BACKEND", "s3")
		_, err := Load("")
		assert.ErrorContains(t, err, "storage.bucket")
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) on older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}
