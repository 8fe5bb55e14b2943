// Package config loads launcher.toml and layers CLI flag overrides on top
// of it, the same load-then-override shape the teacher's INI loader used,
// now against a real TOML file via github.com/BurntSushi/toml and flags via
// github.com/ogier/pflag instead of a hand-rolled section/key parser.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	flag "github.com/ogier/pflag"
)

// LoginConfig points at the login server that issues CK2/UserID.
type LoginConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// PatchConfig points at the patch server that serves the manifest and file
// downloads.
type PatchConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DownloadConfig controls the patch downloader's concurrency and filtering.
type DownloadConfig struct {
	GameDir       string `toml:"game_dir"`
	Workers       int    `toml:"workers"`
	OnlyEssential bool   `toml:"only_essential"`
	ManifestPath  string `toml:"manifest_path"`
	ArchivePath   string `toml:"archive_path"`
	// RetryBackoffSeconds is the fixed delay between failed download
	// attempts, matching the original's retry loop (no exponential growth).
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"`
	// MaxRetries bounds the number of attempts per file; 0 retries
	// indefinitely, matching the reference client's own behavior.
	MaxRetries int `toml:"max_retries"`
}

// Config is the full launcher configuration, loaded from launcher.toml and
// overridable by CLI flags.
type Config struct {
	Login    LoginConfig    `toml:"login"`
	Patch    PatchConfig    `toml:"patch"`
	Download DownloadConfig `toml:"download"`
	Username string         `toml:"username"`
	Password string         `toml:"password"`
}

// Defaults mirrors the original client's hardcoded constants, kept here as
// fallback values rather than compiled-in addresses.
func Defaults() Config {
	return Config{
		Login: LoginConfig{Host: "165.193.63.4", Port: 12000},
		Patch: PatchConfig{Host: "165.193.63.4", Port: 12500},
		Download: DownloadConfig{
			GameDir:             "./test/",
			Workers:             50,
			OnlyEssential:       true,
			ManifestPath:        "./LatestFileList.bin",
			ArchivePath:         "./GameData/Root.wad",
			RetryBackoffSeconds: 2,
			MaxRetries:          0,
		},
	}
}

// RetryBackoff converts RetryBackoffSeconds into a time.Duration for
// internal/patcher's Config.
func (d DownloadConfig) RetryBackoff() time.Duration {
	return time.Duration(d.RetryBackoffSeconds) * time.Second
}

// Load reads filename as TOML on top of Defaults(). A missing file is not
// an error — the defaults stand on their own, matching the original
// client's behavior of running off hardcoded constants with no config file
// at all.
func Load(filename string) (*Config, error) {
	cfg := Defaults()
	if filename == "" {
		return &cfg, nil
	}
	if _, err := toml.DecodeFile(filename, &cfg); err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: decode %s: %w", filename, err)
	}
	return &cfg, nil
}

// BindFlags registers CLI flags against cfg's fields and returns a commit
// function; call it after flag.Parse() to apply any flags the user
// actually passed, overriding whatever Load populated.
func BindFlags(fs *flag.FlagSet, cfg *Config) func() {
	loginHost := fs.String("login-host", cfg.Login.Host, "login server host")
	loginPort := fs.Int("login-port", cfg.Login.Port, "login server port")
	patchHost := fs.String("patch-host", cfg.Patch.Host, "patch server host")
	patchPort := fs.Int("patch-port", cfg.Patch.Port, "patch server port")
	gameDir := fs.String("game-dir", cfg.Download.GameDir, "install directory to patch into")
	workers := fs.Int("workers", cfg.Download.Workers, "concurrent download workers")
	onlyEssential := fs.Bool("only-essential", cfg.Download.OnlyEssential, "skip non-essential patch files")
	retryBackoff := fs.Int("retry-backoff-seconds", cfg.Download.RetryBackoffSeconds, "fixed delay between failed download attempts")
	maxRetries := fs.Int("max-retries", cfg.Download.MaxRetries, "download attempts per file before giving up (0 = retry forever)")
	username := fs.String("username", cfg.Username, "account username")
	password := fs.String("password", cfg.Password, "account password")

	return func() {
		cfg.Login.Host = *loginHost
		cfg.Login.Port = *loginPort
		cfg.Patch.Host = *patchHost
		cfg.Patch.Port = *patchPort
		cfg.Download.GameDir = *gameDir
		cfg.Download.Workers = *workers
		cfg.Download.OnlyEssential = *onlyEssential
		cfg.Download.RetryBackoffSeconds = *retryBackoff
		cfg.Download.MaxRetries = *maxRetries
		cfg.Username = *username
		cfg.Password = *password
	}
}

// LoginAddr returns the login server's "host:port" dial target.
func (c *Config) LoginAddr() string {
	return fmt.Sprintf("%s:%d", c.Login.Host, c.Login.Port)
}

// PatchAddr returns the patch server's "host:port" dial target.
func (c *Config) PatchAddr() string {
	return fmt.Sprintf("%s:%d", c.Patch.Host, c.Patch.Port)
}
