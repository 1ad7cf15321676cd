package rconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.AudioFileDir)
	assert.Equal(t, "%artist/%album/%track %title", cfg.AudioFileName)
	assert.True(t, cfg.UseSpaces)
	assert.True(t, cfg.EmbedCover)
	assert.Empty(t, cfg.Proxy)
	assert.Empty(t, cfg.ControlProxy)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	toml := `
audio_file_dir = "/music"
audio_file_name = "%artist - %title"
use_spaces = false
embed_cover = false
proxy = "http://proxy.example:8080"
`
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/music", cfg.AudioFileDir)
	assert.Equal(t, "%artist - %title", cfg.AudioFileName)
	assert.False(t, cfg.UseSpaces)
	assert.False(t, cfg.EmbedCover)
	assert.Equal(t, "http://proxy.example:8080", cfg.Proxy)
}

func TestLoad_ExpandsHomeDirTilde(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`audio_file_dir = "~/music"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "music"), cfg.AudioFileDir)
}

func TestEffectiveProxy_PrefersControlProxy(t *testing.T) {
	cfg := &Config{Proxy: "http://general", ControlProxy: "http://control"}
	assert.Equal(t, "http://control", cfg.EffectiveProxy())
}

func TestEffectiveProxy_FallsBackToProxy(t *testing.T) {
	cfg := &Config{Proxy: "http://general"}
	assert.Equal(t, "http://general", cfg.EffectiveProxy())
}

func TestEffectiveProxy_EmptyWhenNeitherSet(t *testing.T) {
	cfg := &Config{}
	assert.Empty(t, cfg.EffectiveProxy())
}
