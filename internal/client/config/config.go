package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/treesync/internal/client/sync"
	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/utils"
)

const (
	StateBackendFile   = "file"
	StateBackendSqlite = "sqlite"

	// a single upload request is capped at 150 MB by the content API
	maxChunkSize int64 = 150_000_000
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".treesync")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, "config.json")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "treesync.log")
	DefaultRoot        = filepath.Join(home, "Documents")
)

type Config struct {
	Root    string `json:"root"`
	Backend string `json:"backend"`

	Token      string `json:"token,omitempty"`
	APIURL     string `json:"api_url,omitempty"`
	ContentURL string `json:"content_url,omitempty"`

	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`

	ConflictPolicy string `json:"conflict_policy"`
	StateBackend   string `json:"state_backend"`
	Workers        int    `json:"workers"`
	ChunkThreshold int64  `json:"chunk_threshold"`
	ChunkSize      int64  `json:"chunk_size"`

	RequestTimeout  time.Duration `json:"request_timeout"`
	TransferTimeout time.Duration `json:"transfer_timeout"`
	MaxRetries      int           `json:"max_retries"`

	ReservedDirs      []string `json:"reserved_dirs,omitempty"`
	GeneratedSuffixes []string `json:"generated_suffixes,omitempty"`

	KeepModifiedOnRemoteDelete bool `json:"keep_modified_on_remote_delete"`

	LogLevel string `json:"log_level"`
	Path     string `json:"-"`
}

// Default returns a config with every optional field set.
func Default() *Config {
	return &Config{
		Root:              DefaultRoot,
		Backend:           remote.BackendDropbox,
		APIURL:            remote.DefaultDropboxAPIURL,
		ContentURL:        remote.DefaultDropboxContentURL,
		ConflictPolicy:    string(sync.PolicyPrompt),
		StateBackend:      StateBackendFile,
		Workers:           sync.DefaultWorkers,
		ChunkThreshold:    sync.DefaultChunkThreshold,
		ChunkSize:         sync.DefaultChunkSize,
		RequestTimeout:    30 * time.Second,
		TransferTimeout:   10 * time.Minute,
		MaxRetries:        3,
		ReservedDirs:      slices.Clone(sync.DefaultReservedDirs),
		GeneratedSuffixes: slices.Clone(sync.DefaultGeneratedSuffixes),
		LogLevel:          "info",
		Path:              DefaultConfigPath,
	}
}

// Validate normalizes paths and names and rejects unusable values.
func (c *Config) Validate() error {
	root, err := utils.ResolvePath(c.Root)
	if err != nil {
		return fmt.Errorf("root: %w", err)
	}
	c.Root = root

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case "", remote.BackendDropbox:
		c.Backend = remote.BackendDropbox
		if c.Token == "" {
			return fmt.Errorf("dropbox backend: %w", remote.ErrNoToken)
		}
	case remote.BackendS3:
		if c.Bucket == "" {
			return fmt.Errorf("s3 backend: %w", remote.ErrNoBucket)
		}
	default:
		return fmt.Errorf("%w: %q", remote.ErrUnknownBackend, c.Backend)
	}

	for _, u := range []struct{ name, value string }{
		{"api_url", c.APIURL},
		{"content_url", c.ContentURL},
		{"endpoint", c.Endpoint},
	} {
		if u.value != "" && !utils.IsValidURL(u.value) {
			return fmt.Errorf("%s: invalid url %q", u.name, u.value)
		}
	}

	policy, err := sync.ParseConflictPolicy(strings.ToLower(c.ConflictPolicy))
	if err != nil {
		return err
	}
	c.ConflictPolicy = string(policy)

	switch c.StateBackend {
	case "":
		c.StateBackend = StateBackendFile
	case StateBackendFile, StateBackendSqlite:
	default:
		return fmt.Errorf("unknown state backend %q", c.StateBackend)
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ChunkSize <= 0 || c.ChunkSize > maxChunkSize {
		return fmt.Errorf("chunk size must be between 1 and %d bytes, got %d", maxChunkSize, c.ChunkSize)
	}
	if c.ChunkThreshold <= 0 {
		return fmt.Errorf("chunk threshold must be positive, got %d", c.ChunkThreshold)
	}
	if c.RequestTimeout <= 0 || c.TransferTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// Remote returns the store configuration.
func (c *Config) Remote() *remote.Config {
	return &remote.Config{
		Backend:         c.Backend,
		Token:           c.Token,
		APIURL:          c.APIURL,
		ContentURL:      c.ContentURL,
		Bucket:          c.Bucket,
		Prefix:          c.Prefix,
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		AccessKey:       c.AccessKey,
		SecretKey:       c.SecretKey,
		RequestTimeout:  c.RequestTimeout,
		TransferTimeout: c.TransferTimeout,
		MaxRetries:      c.MaxRetries,
	}
}

// Save writes the config as JSON. The file holds credentials and is only
// readable by the owner.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Load reads a config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg.Path = path
	return cfg, nil
}
