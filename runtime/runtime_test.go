package runtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "/", cfg.Path)
	assert.Equal(t, int64(1<<20), cfg.MaxPayloadSize)
	assert.Equal(t, 30*time.Second, cfg.heartbeatDuration())
}

func TestConfig_HeartbeatZeroDisables(t *testing.T) {
	cfg := Config{HeartbeatInterval: 0}
	assert.Equal(t, time.Duration(0), cfg.heartbeatDuration())
}

func TestLoadConfig_NoFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("RAFFEL_CONFIG_PATH", "")
	t.Setenv("RAFFEL_CONFIG_DIR", "")
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_ReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/raffel.yaml"
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\nhost: 127.0.0.1\n"), 0644))

	cfg, err := LoadConfig(&path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	// Unset fields keep the defaults supplied before unmarshal.
	assert.Equal(t, "/", cfg.Path)
}

func TestNew_WiresRegistryRouterChannelsAndEngine(t *testing.T) {
	rt := New(DefaultConfig(), nil)
	require.NotNil(t, rt.Registry)
	require.NotNil(t, rt.Router)
	require.NotNil(t, rt.Channels)
	require.NotNil(t, rt.Engine)
}

func TestRuntime_StartAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	rt := New(cfg, nil)
	require.NoError(t, rt.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rt.Shutdown(ctx))
}
