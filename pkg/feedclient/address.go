package feedclient

import (
	"fmt"
	"net/url"
	"strconv"
)

// Address is the inbound location announced in PUT /register as "href".
type Address struct {
	Protocol string `json:"protocol,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Port     int    `json:"port,omitempty"`
	Pathname string `json:"pathname,omitempty"`
}

func localAddress(cfg Config) (Address, error) {
	if cfg.PublicURL == "" {
		return Address{
			Protocol: "http:",
			Hostname: cfg.Hostname,
			Port:     cfg.BindPort,
			Pathname: cfg.Pathname,
		}, nil
	}

	u, err := url.Parse(cfg.PublicURL)
	if err != nil {
		return Address{}, fmt.Errorf("%w: public URL: %v", ErrConfiguration, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return Address{}, fmt.Errorf("%w: public URL %q must be absolute", ErrConfiguration, cfg.PublicURL)
	}
	addr := Address{
		Protocol: u.Scheme + ":",
		Hostname: u.Hostname(),
		Pathname: u.Path,
	}
	if addr.Pathname == "" || addr.Pathname == "/" {
		addr.Pathname = cfg.Pathname
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Address{}, fmt.Errorf("%w: public URL port %q: %v", ErrConfiguration, p, err)
		}
		addr.Port = n
	}
	return addr, nil
}
