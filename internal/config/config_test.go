package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/cileserver/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadServerConfigDefaults(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "server.toml")
	writeFile(t, path, "port = 7000\n")

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	want := DefaultServerConfig()
	want.Port = 7000
	assert.Equal(t, want, cfg)
	assert.Equal(t, ":7000", cfg.Addr())

	read, write, idle, err := cfg.Timeouts()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, read)
	assert.Equal(t, 30*time.Second, write)
	assert.Equal(t, 5*time.Minute, idle)
}

func TestLoadServerConfigOverrides(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "server.toml")
	writeFile(t, path, `port = 9999
root = "/srv/files"
buffer_size = 8192
read_timeout = "5s"
write_timeout = "0s"
idle_timeout = "90s"
max_connections = 2
admin_addr = ""
log_level = "debug"
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/files", cfg.Root)
	assert.Equal(t, 8192, cfg.BufferSize)
	assert.Equal(t, 2, cfg.MaxConnections)
	assert.Empty(t, cfg.AdminAddr)
	assert.Equal(t, "debug", cfg.LogLevel)

	read, write, idle, err := cfg.Timeouts()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, read)
	assert.Zero(t, write)
	assert.Equal(t, 90*time.Second, idle)
}

func TestLoadServerConfigRejects(t *testing.T) {
	testlog.Start(t)

	cases := map[string]string{
		"bad duration":   `read_timeout = "soon"`,
		"negative":       `write_timeout = "-1s"`,
		"port":           `port = 70000`,
		"tiny buffer":    `buffer_size = 4`,
		"no connections": `max_connections = 0`,
		"empty root":     `root = "  "`,
		"not toml":       `port = `,
		"log level":      `log_level = "loud"`,
		"idle duration":  `idle_timeout = "later"`,
		"no drain":       `max_drain = 0`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "server.toml")
			writeFile(t, path, body+"\n")
			_, err := LoadServerConfig(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	require.NoError(t, WriteTemplate(path, "server", false))
	assert.Error(t, WriteTemplate(path, "server", false))
	require.NoError(t, WriteTemplate(path, "SERVER", true))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig(), cfg)

	_, err = Template("client")
	assert.NoError(t, err)
	_, err = Template("ghost")
	assert.Error(t, err)
}

func TestWatchReloadsValidEdits(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "server.toml")
	writeFile(t, path, "log_level = \"info\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan ServerConfig, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg ServerConfig) { changes <- cfg })
	}()

	// The watcher registers asynchronously; keep editing until it reports.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	var got ServerConfig
wait:
	for {
		select {
		case got = <-changes:
			// A reload can observe the truncated file between writes.
			if got.LogLevel == "warn" {
				break wait
			}
		case <-tick.C:
			writeFile(t, path, "read_timeout = \"oops\"\n")
			writeFile(t, path, "log_level = \"warn\"\n")
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
	assert.Equal(t, "warn", got.LogLevel)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not stop")
	}
}
