package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	xproxy "golang.org/x/net/proxy"
)

// Scheme names the proxy protocol.
type Scheme string

const (
	SchemeHTTP   Scheme = "http"
	SchemeHTTPS  Scheme = "https"
	SchemeSOCKS5 Scheme = "socks5"
)

// Endpoint is a single parsed proxy record. It is immutable once parsed.
type Endpoint struct {
	Scheme   Scheme
	Host     string
	Port     int
	Username string
	Password string
}

// ParseEndpoint accepts "user:pass@host:port", "host:port" and the same
// forms prefixed with http://, https:// or socks5://.
func ParseEndpoint(line string) (Endpoint, error) {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return Endpoint{}, errors.New("empty proxy record")
	}

	ep := Endpoint{Scheme: SchemeHTTP}
	if i := strings.Index(raw, "://"); i >= 0 {
		switch s := Scheme(strings.ToLower(raw[:i])); s {
		case SchemeHTTP, SchemeHTTPS, SchemeSOCKS5:
			ep.Scheme = s
		case "socks5h":
			ep.Scheme = SchemeSOCKS5
		default:
			return Endpoint{}, fmt.Errorf("unsupported proxy scheme %q", raw[:i])
		}
		raw = raw[i+3:]
	}

	hostPart := raw
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		auth := raw[:at]
		hostPart = raw[at+1:]
		user, pass, ok := strings.Cut(auth, ":")
		if !ok || user == "" {
			return Endpoint{}, fmt.Errorf("malformed proxy credentials in %q", line)
		}
		ep.Username, ep.Password = user, pass
	}

	host, portStr, err := net.SplitHostPort(hostPart)
	if err != nil {
		return Endpoint{}, fmt.Errorf("malformed proxy address %q: %w", hostPart, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid proxy port %q", portStr)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("missing proxy host in %q", line)
	}
	ep.Host, ep.Port = host, port
	return ep, nil
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the proxy URL with credentials embedded.
func (e Endpoint) URL() *url.URL {
	u := &url.URL{Scheme: string(e.Scheme), Host: e.Address()}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// String hides credentials so endpoints can be logged.
func (e Endpoint) String() string {
	return string(e.Scheme) + "://" + e.Address()
}

// Apply routes every connection made by t through the endpoint.
func (e Endpoint) Apply(t *http.Transport) error {
	switch e.Scheme {
	case SchemeSOCKS5:
		var auth *xproxy.Auth
		if e.Username != "" {
			auth = &xproxy.Auth{User: e.Username, Password: e.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", e.Address(), auth, &net.Dialer{})
		if err != nil {
			return fmt.Errorf("socks5 dialer for %s: %w", e, err)
		}
		cd, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return fmt.Errorf("socks5 dialer for %s does not support contexts", e)
		}
		t.Proxy = nil
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return cd.DialContext(ctx, network, addr)
		}
	default:
		t.Proxy = http.ProxyURL(e.URL())
	}
	return nil
}
