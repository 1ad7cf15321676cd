// Package rconfig loads the recorder's settings from a TOML file, the way
// the rest of this module loads its configuration.
package rconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the settings that control where recorded files land and
// how they're named and tagged.
type Config struct {
	AudioFileDir  string `koanf:"audio_file_dir"`
	AudioFileName string `koanf:"audio_file_name"`
	UseSpaces     bool   `koanf:"use_spaces"`
	EmbedCover    bool   `koanf:"embed_cover"`
	Proxy         string `koanf:"proxy"`

	// ControlProxy, when set, takes precedence over Proxy in the value
	// EffectiveProxy returns for the recorder's fetcher, matching the original client's preference for
	// its control-connection proxy over its general one. See
	// EffectiveProxy.
	ControlProxy string `koanf:"control_proxy"`
}

const (
	defaultAudioFileDir  = "."
	defaultAudioFileName = "%artist/%album/%track %title"
)

// Load reads path and overlays it onto the defaults. A missing file is not
// an error: Load returns the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		AudioFileDir:  defaultAudioFileDir,
		AudioFileName: defaultAudioFileName,
		UseSpaces:     true,
		EmbedCover:    true,
	}

	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("rconfig: load %s: %w", path, err)
		}
		if err := k.Unmarshal("", cfg); err != nil {
			return nil, fmt.Errorf("rconfig: unmarshal %s: %w", path, err)
		}
	}

	cfg.AudioFileDir = expandPath(cfg.AudioFileDir)

	return cfg, nil
}

// EffectiveProxy returns ControlProxy if set, otherwise Proxy.
func (c *Config) EffectiveProxy() string {
	if c.ControlProxy != "" {
		return c.ControlProxy
	}
	return c.Proxy
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
