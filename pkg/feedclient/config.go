package feedclient

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/YaganovValera/feedbridge/common/logger"
)

// Doer is the outbound HTTP transport. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	DefaultServiceName  = "feed"
	DefaultPathname     = "/feed"
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 16 << 20
)

// Config is validated once by New; the zero value of every optional
// field selects its default.
type Config struct {
	// ServiceName is resolved through Discovery to the feed server base URL.
	ServiceName string
	Discovery   Discovery

	// PublicURL, when set, is the address announced to the feed server.
	// Otherwise the address is built from Hostname, BindPort and Pathname.
	PublicURL string
	BindPort  int
	Hostname  string
	Pathname  string

	// Secret authorizes start/stop/restart. Empty disables them.
	Secret string

	Timeout      time.Duration
	Compress     bool
	MaxBodyBytes int64
	// TrustProxy takes the caller address from X-Forwarded-For/X-Real-IP.
	// Off by default: any sender can set those headers.
	TrustProxy bool

	HTTPClient   Doer
	Logger       *logger.Logger
	TimeLocation *time.Location
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	c.Pathname = cleanPathname(c.Pathname)
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.TimeLocation == nil {
		c.TimeLocation = time.UTC
	}
}

func (c Config) validate() error {
	if c.Discovery == nil {
		return fmt.Errorf("%w: discovery is required", ErrConfiguration)
	}
	if c.PublicURL == "" && (c.BindPort <= 0 || c.BindPort > 65535) {
		return fmt.Errorf("%w: bind port %d out of range and no public URL", ErrConfiguration, c.BindPort)
	}
	return nil
}

// cleanPathname returns "/x/y" form; empty and "/" select the default.
func cleanPathname(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return DefaultPathname
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
