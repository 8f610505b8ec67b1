package feedclient

import (
	"fmt"
	"strings"
)

// Discovery resolves a logical service name to a base URL.
type Discovery interface {
	ServiceURL(name string) (string, error)
}

// StaticDiscovery is a fixed name → base URL table.
type StaticDiscovery map[string]string

func (s StaticDiscovery) ServiceURL(name string) (string, error) {
	u, ok := s[name]
	if !ok || strings.TrimSpace(u) == "" {
		return "", fmt.Errorf("%w: no URL for service %q", ErrConfiguration, name)
	}
	return strings.TrimRight(strings.TrimSpace(u), "/"), nil
}
