package warphttp

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/proxy"
)

// ProxyConfig holds a parsed proxy URL.
type ProxyConfig struct {
	Scheme   string
	Host     string
	Username string
	Password string
}

// URL returns the proxy URL as a string.
func (p *ProxyConfig) URL() string {
	var sb strings.Builder
	sb.WriteString(p.Scheme)
	sb.WriteString("://")
	if p.Username != "" {
		sb.WriteString(p.Username)
		if p.Password != "" {
			sb.WriteString(":")
			sb.WriteString(p.Password)
		}
		sb.WriteString("@")
	}
	sb.WriteString(p.Host)
	return sb.String()
}

var (
	ErrEmptyProxyURL     = errors.New("proxy URL cannot be empty")
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")
	ErrInvalidProxyURL   = errors.New("invalid proxy URL")
)

var supportedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// ParseProxyURL parses and validates a proxy URL string.
func ParseProxyURL(proxyURL string) (*ProxyConfig, error) {
	if proxyURL == "" {
		return nil, ErrEmptyProxyURL
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, ErrInvalidProxyURL
	}
	if !supportedProxySchemes[parsed.Scheme] {
		return nil, ErrUnsupportedScheme
	}
	cfg := &ProxyConfig{Scheme: parsed.Scheme, Host: parsed.Host}
	if parsed.User != nil {
		cfg.Username = parsed.User.Username()
		cfg.Password, _ = parsed.User.Password()
	}
	return cfg, nil
}

// ProxyFromEnv returns the first proxy URL set in the usual environment
// variables, or "".
func ProxyFromEnv() string {
	for _, k := range []string{"HTTP_PROXY", "http_proxy", "HTTPS_PROXY", "https_proxy", "ALL_PROXY", "all_proxy"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// applyProxy configures t to go through proxyURL. SOCKS5 proxies replace
// the dialer, HTTP(S) proxies use the standard CONNECT support.
func applyProxy(t *http.Transport, proxyURL string, dialer *net.Dialer) error {
	cfg, err := ParseProxyURL(proxyURL)
	if err != nil {
		return &ConfigurationError{Field: "proxy", Reason: proxyURL, Cause: err}
	}
	if cfg.Scheme != "socks5" {
		u, _ := url.Parse(cfg.URL())
		t.Proxy = http.ProxyURL(u)
		return nil
	}
	var auth *proxy.Auth
	if cfg.Username != "" {
		auth = &proxy.Auth{User: cfg.Username, Password: cfg.Password}
	}
	socks, err := proxy.SOCKS5("tcp", cfg.Host, auth, dialer)
	if err != nil {
		return &ConfigurationError{Field: "proxy", Reason: proxyURL, Cause: err}
	}
	if cd, ok := socks.(proxy.ContextDialer); ok {
		t.DialContext = cd.DialContext
	} else {
		t.Dial = socks.Dial
	}
	t.Proxy = nil
	return nil
}
