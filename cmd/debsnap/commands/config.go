package commands

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/CeGenreDeChat/debsnap/pkg/merge"
	"github.com/CeGenreDeChat/debsnap/pkg/snapshot"
)

// Config holds the settings shared by all commands. It is read from a TOML
// file and then overridden by command line flags.
type Config struct {
	MirrorURL    string        `toml:"mirror_url"`
	UserAgent    string        `toml:"user_agent"`
	Timeout      time.Duration `toml:"timeout"`
	OutDir       string        `toml:"outdir"`
	CacheDir     string        `toml:"cache_dir"`
	Compress     string        `toml:"compress"`
	ApplyPatches bool          `toml:"apply_patches"`
	MergeOutDir  string        `toml:"merge_outdir"`
	DscFilter    bool          `toml:"dsc_filter"`

	Verbose bool `toml:"-"`
	Quiet   bool `toml:"-"`
}

func DefaultConfig() Config {
	return Config{
		MirrorURL: snapshot.DefaultBaseURL,
		UserAgent: snapshot.DefaultUserAgent,
		Timeout:   snapshot.DefaultTimeout,
		OutDir:    "downloads",
		Compress:  merge.None.Name,
	}
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/debsnap/config.toml.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "debsnap", "config.toml")
}

// LoadConfig decodes path into cfg. A missing file is only an error when
// required is set. Unknown keys are rejected.
func LoadConfig(path string, required bool, cfg *Config) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read configuration %s: %w", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown configuration keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Validate checks the mirror URL, the timeout and the compressor name.
func (c *Config) Validate() error {
	u, err := url.Parse(c.MirrorURL)
	if err != nil {
		return fmt.Errorf("invalid mirror URL %q: %w", c.MirrorURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("mirror URL %q has no host", c.MirrorURL)
		}
	case "file":
	default:
		return fmt.Errorf("unsupported mirror URL scheme %q", u.Scheme)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.OutDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if _, err := merge.CompressionFromTool(c.Compress); err != nil {
		return fmt.Errorf("invalid compression %q (available: %s): %w", c.Compress, strings.Join(merge.FormatNames(), ", "), err)
	}
	if c.Verbose && c.Quiet {
		return fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}
	return nil
}

// CachePath returns the resolver cache directory, <outdir>/.cache unless
// configured.
func (c *Config) CachePath() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return filepath.Join(c.OutDir, ".cache")
}

// MergePath returns the directory receiving merged source archives.
func (c *Config) MergePath() string {
	if c.MergeOutDir != "" {
		return c.MergeOutDir
	}
	return c.OutDir
}
