package warphttp

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/warpdl/warphttp/pkg/logger"
)

// Transport performs a single hop. When follow is true the transport may
// follow redirects natively; the Response then carries one header block per
// response received and URL is the final URL.
//
// Implementations must be safe for concurrent use: a Multi calls Do from one
// goroutine per in-flight handle.
type Transport interface {
	Do(ctx context.Context, req *Request, follow bool) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request, follow bool) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req *Request, follow bool) (*Response, error) {
	return f(ctx, req, follow)
}

// Default transport configuration values
const (
	DEF_CONNECT_TIMEOUT = 30 * time.Second
	DEF_IDLE_TIMEOUT    = 90 * time.Second
	DEF_USER_AGENT      = "warphttp/1.0"
)

// TransportConfig configures NewHTTPTransport.
type TransportConfig struct {
	// Proxy is an http, https or socks5 proxy URL.
	Proxy string
	// ProxyFromEnv uses the standard proxy environment variables when Proxy is empty.
	ProxyFromEnv       bool
	ConnectTimeout     time.Duration
	Timeout            time.Duration // whole hop, 0 = none
	InsecureSkipVerify bool
	UserAgent          string
	// MaxRedirects bounds transport-followed redirects.
	MaxRedirects int
}

// DefaultTransportConfig returns a TransportConfig with sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout: DEF_CONNECT_TIMEOUT,
		UserAgent:      DEF_USER_AGENT,
		MaxRedirects:   DefaultMaxRedirects,
	}
}

// HTTPTransport is the net/http backed Transport.
type HTTPTransport struct {
	follow    *http.Client
	direct    *http.Client
	userAgent string
	log       logger.Logger
}

type recorderKey struct{}

// blockRecorder collects the header block of every response received for
// one Do call, including redirects net/http follows on its own.
type blockRecorder struct {
	blocks []HeaderBlock
}

type recordingRoundTripper struct {
	base http.RoundTripper
}

func (rt recordingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if rec, ok := req.Context().Value(recorderKey{}).(*blockRecorder); ok {
		rec.blocks = append(rec.blocks, blockFrom(resp, req.URL))
	}
	return resp, nil
}

func (rt recordingRoundTripper) CloseIdleConnections() {
	if c, ok := rt.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

func blockFrom(resp *http.Response, u *url.URL) HeaderBlock {
	code := strconv.Itoa(resp.StatusCode)
	return HeaderBlock{
		Proto:      resp.Proto,
		StatusCode: resp.StatusCode,
		Reason:     strings.TrimSpace(strings.TrimPrefix(resp.Status, code)),
		Header:     resp.Header.Clone(),
		URL:        u,
	}
}

// NewHTTPTransport builds a transport from cfg.
func NewHTTPTransport(cfg TransportConfig, l logger.Logger) (*HTTPTransport, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DEF_CONNECT_TIMEOUT
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	base := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       DEF_IDLE_TIMEOUT,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: time.Second,
	}
	if cfg.InsecureSkipVerify {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	proxyURL := cfg.Proxy
	if proxyURL == "" && cfg.ProxyFromEnv {
		proxyURL = ProxyFromEnv()
	}
	if proxyURL != "" {
		if err := applyProxy(base, proxyURL, dialer); err != nil {
			return nil, err
		}
	}
	rt := recordingRoundTripper{base: base}
	return &HTTPTransport{
		follow: &http.Client{
			Transport:     rt,
			Timeout:       cfg.Timeout,
			CheckRedirect: nativeRedirectCheck(cfg.MaxRedirects),
		},
		direct: &http.Client{
			Transport: rt,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: cfg.UserAgent,
		log:       logger.OrNop(l),
	}, nil
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, req *Request, follow bool) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, NewConfigurationError("url", "request has no URL")
	}
	target := req.URL.String()
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	rec := &blockRecorder{}
	hreq, err := http.NewRequestWithContext(context.WithValue(ctx, recorderKey{}, rec), req.method(), target, body)
	if err != nil {
		return nil, &ConfigurationError{Field: "request", Reason: target, Cause: err}
	}
	if req.Header != nil {
		hreq.Header = req.Header.Clone()
	}
	if req.Referer != "" {
		hreq.Header.Set("Referer", req.Referer)
	}
	if hreq.Header.Get("User-Agent") == "" && t.userAgent != "" {
		hreq.Header.Set("User-Agent", t.userAgent)
	}

	client := t.direct
	if follow {
		client = t.follow
	}
	t.log.Debug("%s %s (follow=%v)", hreq.Method, target, follow)
	resp, err := client.Do(hreq)
	if err != nil {
		return nil, NewTransportError("send", target, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransportError("read body", target, err)
	}
	out := &Response{Blocks: rec.blocks, Body: data, URL: resp.Request.URL}
	if len(out.Blocks) == 0 {
		out.Blocks = []HeaderBlock{blockFrom(resp, resp.Request.URL)}
	}
	return out, nil
}

// CloseIdleConnections releases pooled connections.
func (t *HTTPTransport) CloseIdleConnections() {
	t.direct.CloseIdleConnections()
}

var _ Transport = (*HTTPTransport)(nil)
