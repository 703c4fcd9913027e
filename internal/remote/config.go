package remote

import (
	"fmt"
	"time"
)

const (
	BackendDropbox = "dropbox"
	BackendS3      = "s3"

	DefaultDropboxAPIURL     = "https://api.dropboxapi.com"
	DefaultDropboxContentURL = "https://content.dropboxapi.com"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend string

	// dropbox
	Token      string
	APIURL     string
	ContentURL string

	// s3
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string

	RequestTimeout  time.Duration
	TransferTimeout time.Duration
	MaxRetries      int
	PageSize        int
}

// New builds the Store selected by cfg.Backend.
func New(cfg *Config) (Store, error) {
	switch cfg.Backend {
	case BackendDropbox, "":
		return NewDropboxStore(cfg)
	case BackendS3:
		return NewS3StoreWithConfig(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func (c *Config) requestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return c.RequestTimeout
}

func (c *Config) transferTimeout() time.Duration {
	if c.TransferTimeout <= 0 {
		return 10 * time.Minute
	}
	return c.TransferTimeout
}

func (c *Config) maxRetries() int {
	if c.MaxRetries < 0 {
		return 0
	}
	return c.MaxRetries
}
