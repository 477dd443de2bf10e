// Package target normalizes scan inputs. A target may arrive as a bare host,
// host:port, or a full URL; normalization produces the canonical form used as
// the primary key throughout the engine.
package target

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidTarget is returned when an input cannot be interpreted as a host.
var ErrInvalidTarget = errors.New("invalid target")

// Target is the normalized scan subject. Host is the canonical identifier.
type Target struct {
	Original string `json:"original"`
	Host     string `json:"host"`
	Protocol string `json:"protocol,omitempty"`
	Port     int    `json:"port,omitempty"`
	Path     string `json:"path,omitempty"`
}

// defaultPorts maps a protocol to its well-known port.
var defaultPorts = map[string]int{
	"http":  80,
	"https": 443,
	"ftp":   21,
	"ssh":   22,
}

// Normalize converts a raw input string into a Target. Inputs without a
// scheme are assumed https. Normalization is idempotent:
// Normalize(Normalize(x).Original) == Normalize(x).
func Normalize(input string) (Target, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Target{}, fmt.Errorf("%w: empty input", ErrInvalidTarget)
	}

	withScheme := raw
	if !strings.Contains(raw, "://") {
		withScheme = "https://" + raw
	}

	u, err := url.Parse(withScheme)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" || strings.ContainsAny(host, " \t") {
		return Target{}, fmt.Errorf("%w: no host in %q", ErrInvalidTarget, raw)
	}

	protocol := strings.ToLower(u.Scheme)
	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return Target{}, fmt.Errorf("%w: bad port %q", ErrInvalidTarget, p)
		}
	} else if dp, ok := defaultPorts[protocol]; ok {
		port = dp
	}

	path := u.Path
	if path == "/" {
		path = ""
	}

	return Target{
		Original: raw,
		Host:     host,
		Protocol: protocol,
		Port:     port,
		Path:     path,
	}, nil
}

// URL renders the target's base URL. The port is elided when it is the
// protocol default.
func (t Target) URL() string {
	protocol := t.Protocol
	if protocol == "" {
		protocol = "https"
	}
	hostport := t.Host
	if t.Port != 0 && t.Port != defaultPorts[protocol] {
		hostport = net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	}
	return protocol + "://" + hostport + t.Path
}
