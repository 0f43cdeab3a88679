package target

import (
	"errors"
	"net"
	"strings"
)

var ErrMalformedURI = errors.New("malformed URI")

const (
	// Scheme is the only request target prefix the proxy accepts.
	Scheme = "http://"

	DefaultPort = "80"
	DefaultPath = "/"

	loopbackName = "localhost"
)

// Target is the resolved identity of a proxied request.
// It is also used as the cache key, so two targets are the same resource
// only if all three fields are byte-for-byte equal.
type Target struct {
	Hostname string
	Port     string
	Path     string
}

// Address returns the host:port pair to dial for this target.
func (t Target) Address() string {
	return net.JoinHostPort(t.Hostname, t.Port)
}

// String returns the target in absolute-URI form.
func (t Target) String() string {
	return Scheme + t.Hostname + ":" + t.Port + t.Path
}

// Resolve parses an absolute proxy request target into hostname, port and path.
//
// Examples:
// http://localhost:8080/a/b -> localhost, 8080, /a/b
// http://example.com        -> example.com, 80, /
// ftp://x                   -> ErrMalformedURI
//
// The path is passed through unchanged: no percent-decoding, and the query
// and fragment (if any) stay part of it.
func Resolve(uri string) (Target, error) {
	if !strings.HasPrefix(uri, Scheme) {
		return Target{}, ErrMalformedURI
	}
	rest := strings.TrimPrefix(uri, Scheme)

	// the host segment ends at the first port separator or path
	hostEnd := strings.IndexAny(rest, ":/")
	if hostEnd == -1 {
		hostEnd = len(rest)
	}
	t := Target{
		Hostname: rest[:hostEnd],
		Port:     DefaultPort,
		Path:     DefaultPath,
	}
	if t.Hostname == "" {
		return Target{}, ErrMalformedURI
	}
	if strings.EqualFold(t.Hostname, loopbackName) {
		t.Hostname = loopbackName
	}
	rest = rest[hostEnd:]

	if strings.HasPrefix(rest, ":") {
		rest = rest[1:]
		portEnd := strings.IndexByte(rest, '/')
		if portEnd == -1 {
			portEnd = len(rest)
		}
		// "host:" and "host:/path" name no port at all
		if portEnd == 0 {
			return Target{}, ErrMalformedURI
		}
		t.Port = rest[:portEnd]
		rest = rest[portEnd:]
	}

	if rest != "" {
		t.Path = rest
	}
	return t, nil
}
