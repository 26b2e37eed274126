package warphttp

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/warpdl/warphttp/pkg/cookiejar"
	"github.com/warpdl/warphttp/pkg/logger"
)

const defaultPostContentType = "application/x-www-form-urlencoded"

var (
	defaultTransportOnce sync.Once
	defaultTransport     Transport
)

// DefaultTransport returns the shared transport used when none is given.
func DefaultTransport() Transport {
	defaultTransportOnce.Do(func() {
		t, err := NewHTTPTransport(DefaultTransportConfig(), nil)
		if err != nil {
			panic("warphttp: default transport: " + err.Error())
		}
		defaultTransport = t
	})
	return defaultTransport
}

// Exchange is one configurable HTTP request together with its cached
// response. It can be executed on its own or registered with a Scheduler.
//
// An Exchange is not safe for concurrent use.
type Exchange struct {
	id        uuid.UUID
	opts      Options
	defaults  http.Header
	jar       *cookiejar.Jar
	transport Transport
	fs        afero.Fs
	log       logger.Logger

	resp    *Response
	err     error
	lastURL string

	owner   *Scheduler
	pending bool
}

// ExchangeOption configures an Exchange at creation.
type ExchangeOption func(*Exchange)

// WithTransport sets the transport. The default is DefaultTransport.
func WithTransport(t Transport) ExchangeOption {
	return func(e *Exchange) {
		if t != nil {
			e.transport = t
		}
	}
}

// WithJar attaches a cookie jar, possibly shared with other exchanges.
func WithJar(j *cookiejar.Jar) ExchangeOption {
	return func(e *Exchange) { e.jar = j }
}

// WithJarSnapshot gives the exchange a private jar hydrated from s.
func WithJarSnapshot(s cookiejar.Snapshot) ExchangeOption {
	return func(e *Exchange) {
		e.jar = cookiejar.NewFromSnapshot(s, cookiejar.WithLogger(e.log))
	}
}

// WithFs sets the filesystem cookie files are read from and written to.
func WithFs(fs afero.Fs) ExchangeOption {
	return func(e *Exchange) {
		if fs != nil {
			e.fs = fs
		}
	}
}

// WithLogger sets the exchange logger.
func WithLogger(l logger.Logger) ExchangeOption {
	return func(e *Exchange) { e.log = logger.OrNop(l) }
}

// WithRedirectPolicy replaces the default redirect policy.
func WithRedirectPolicy(p RedirectPolicy) ExchangeOption {
	return func(e *Exchange) { e.opts.Redirect = p.clone() }
}

// WithDefaultHeaders sets headers sent unless overridden with SetHeader.
// ResetHeader restores them.
func WithDefaultHeaders(h http.Header) ExchangeOption {
	return func(e *Exchange) { e.defaults = h.Clone() }
}

// WithExecMode sets the initial exec mode.
func WithExecMode(m ExecMode) ExchangeOption {
	return func(e *Exchange) {
		if m.valid() {
			e.opts.ExecMode = m
		}
	}
}

// NewExchange creates an exchange for rawURL, which may be empty and set
// later.
func NewExchange(rawURL string, opts ...ExchangeOption) (*Exchange, error) {
	e := &Exchange{
		id:       uuid.New(),
		opts:     DefaultOptions(),
		defaults: http.Header{},
		fs:       afero.NewOsFs(),
		log:      logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.transport == nil {
		e.transport = DefaultTransport()
	}
	if rawURL != "" {
		if err := e.SetURL(rawURL); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ID returns the unique id of the exchange.
func (e *Exchange) ID() string { return e.id.String() }

// Options returns a copy of the current options.
func (e *Exchange) Options() Options { return e.opts.clone() }

// Jar returns the cookie jar, nil when cookies are disabled.
func (e *Exchange) Jar() *cookiejar.Jar { return e.jar }

// Response returns the cached response, nil before a successful execution.
func (e *Exchange) Response() *Response { return e.resp }

// Err returns the error of the last execution.
func (e *Exchange) Err() error { return e.err }

// LastURL returns the effective URL of the last execution.
func (e *Exchange) LastURL() string { return e.lastURL }

// Scheduler returns the scheduler the exchange is registered with.
func (e *Exchange) Scheduler() *Scheduler { return e.owner }

// Info returns a value about the last execution as a string.
func (e *Exchange) Info(key InfoKey) string {
	switch key {
	case InfoHTTPCode:
		if e.resp == nil {
			return "0"
		}
		return strconv.Itoa(e.resp.StatusCode())
	case InfoEffectiveURL:
		return e.lastURL
	}
	return ""
}

// changed drops the cached response unless it is locked and lets the
// owning scheduler pick the exchange up again.
func (e *Exchange) changed() {
	if !e.opts.LockResponse {
		e.resp, e.err = nil, nil
	}
	if e.owner != nil {
		e.owner.touch(e)
	}
}

// Set changes one option by key. Values may be given typed or as text.
func (e *Exchange) Set(key OptionKey, value interface{}) error {
	switch key {
	case OptURL:
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		return e.SetURL(s)
	case OptMethod:
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		e.SetMethod(s)
	case OptPost:
		b, err := asBool(key, value)
		if err != nil {
			return err
		}
		if b {
			e.EnablePost(nil, "")
		} else {
			e.DisablePost()
		}
	case OptBody:
		b, err := asBytes(key, value)
		if err != nil {
			return err
		}
		e.SetBody(b)
	case OptHeader:
		h, err := asHeader(key, value)
		if err != nil {
			return err
		}
		for k, v := range h {
			e.opts.Header[k] = append([]string(nil), v...)
		}
		e.changed()
	case OptReferer:
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		e.SetReferer(s)
	case OptAutoReferer:
		b, err := asBool(key, value)
		if err != nil {
			return err
		}
		e.SetAutoReferer(b)
	case OptFollowLocation:
		b, err := asBool(key, value)
		if err != nil {
			return err
		}
		e.SetFollow(b)
	case OptManualRedirects:
		b, err := asBool(key, value)
		if err != nil {
			return err
		}
		e.opts.ManualRedirects = b
		e.changed()
	case OptMaxRedirects:
		n, err := asInt(key, value)
		if err != nil {
			return err
		}
		e.SetMaxRedirects(n)
	case OptPreserveMethod:
		codes, err := asInts(key, value)
		if err != nil {
			return err
		}
		for _, c := range codes {
			if c < 300 || c > 399 {
				return &ConfigurationError{Field: string(key), Reason: fmt.Sprintf("%d is not a redirect status", c)}
			}
		}
		e.opts.Redirect.PreserveMethod = append([]int(nil), codes...)
		e.changed()
	case OptResolveMode:
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		switch strings.ToLower(s) {
		case "segment":
			e.opts.Redirect.Resolve = ResolveSegment
		case "reference", "rfc3986":
			e.opts.Redirect.Resolve = ResolveReference
		default:
			return &ConfigurationError{Field: string(key), Reason: fmt.Sprintf("unknown mode %q", s)}
		}
		e.changed()
	case OptExecMode:
		var m ExecMode
		switch t := value.(type) {
		case ExecMode:
			m = t
		case int:
			m = ExecMode(t)
		case string:
			var err error
			if m, err = ParseExecMode(t); err != nil {
				return err
			}
		default:
			return optionTypeError(key, "ExecMode", value)
		}
		return e.SetExecMode(m)
	case OptCookies:
		b, err := asBool(key, value)
		if err != nil {
			return err
		}
		if b {
			e.EnableCookies()
		} else {
			e.DisableCookies()
		}
	case OptCookieFile:
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		return e.LoadCookies(s)
	case OptCookieJar:
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		e.SetCookieJarFile(s)
	case OptLockResponse:
		b, err := asBool(key, value)
		if err != nil {
			return err
		}
		e.opts.LockResponse = b
	default:
		return &ConfigurationError{Field: "option", Reason: fmt.Sprintf("unknown option %q", string(key))}
	}
	return nil
}

// SetURL sets the target URL. Only absolute http and https URLs are accepted.
func (e *Exchange) SetURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return &ConfigurationError{Field: "url", Reason: rawURL, Cause: err}
	}
	if !isHTTPScheme(u.Scheme) || u.Host == "" {
		return NewConfigurationError("url", fmt.Sprintf("%q is not an absolute http(s) URL", rawURL))
	}
	e.opts.URL = u.String()
	e.changed()
	return nil
}

// SetMethod sets the request method explicitly.
func (e *Exchange) SetMethod(method string) {
	e.opts.Method = strings.ToUpper(strings.TrimSpace(method))
	e.opts.methodExplicit = e.opts.Method != ""
	e.changed()
}

// SetBody sets the request body. A body makes the request a POST unless a
// method was set explicitly.
func (e *Exchange) SetBody(body []byte) {
	if body == nil {
		e.opts.Body = nil
	} else {
		e.opts.Body = append([]byte(nil), body...)
	}
	if body != nil && !e.opts.methodExplicit {
		e.opts.Method = http.MethodPost
	}
	e.changed()
}

// EnablePost switches the request to POST, optionally with a body and a
// content type.
func (e *Exchange) EnablePost(body []byte, contentType string) {
	e.opts.Method = http.MethodPost
	e.opts.methodExplicit = true
	if body != nil {
		e.opts.Body = append([]byte(nil), body...)
	}
	if contentType != "" {
		e.opts.Header.Set("Content-Type", contentType)
	}
	e.changed()
}

// DisablePost switches back to GET and drops the body and its content type.
func (e *Exchange) DisablePost() {
	e.opts.Method = http.MethodGet
	e.opts.methodExplicit = true
	e.opts.Body = nil
	e.opts.Header.Del("Content-Type")
	e.changed()
}

// SetHeader overrides one request header. An empty value suppresses it.
func (e *Exchange) SetHeader(name, value string) {
	e.opts.Header.Set(name, value)
	e.changed()
}

// ResetHeader drops an override so the default value, if any, is sent.
// An empty name drops every override.
func (e *Exchange) ResetHeader(name string) {
	if name == "" {
		e.opts.Header = http.Header{}
	} else {
		e.opts.Header.Del(name)
	}
	e.changed()
}

// SetReferer sets the referer of the first hop.
func (e *Exchange) SetReferer(ref string) {
	e.opts.Referer = ref
	e.changed()
}

// SetFollow enables or disables redirect following.
func (e *Exchange) SetFollow(on bool) {
	e.opts.Follow = on
	e.changed()
}

// SetAutoReferer controls whether redirect hops send the previous URL.
func (e *Exchange) SetAutoReferer(on bool) {
	e.opts.Redirect.AutoReferer = on
	e.changed()
}

// SetMaxRedirects bounds the redirect hops. Negative removes the bound.
func (e *Exchange) SetMaxRedirects(n int) {
	e.opts.Redirect.MaxRedirects = n
	e.changed()
}

// SetRedirectPolicy replaces the redirect policy.
func (e *Exchange) SetRedirectPolicy(p RedirectPolicy) {
	e.opts.Redirect = p.clone()
	e.changed()
}

// SetExecMode selects what Exec returns.
func (e *Exchange) SetExecMode(m ExecMode) error {
	if !m.valid() {
		return NewConfigurationError("exec mode", m.String())
	}
	e.opts.ExecMode = m
	return nil
}

// SetLockResponse keeps the cached response across option changes.
func (e *Exchange) SetLockResponse(on bool) {
	e.opts.LockResponse = on
}

// EnableCookies gives the exchange a private jar if it has none.
func (e *Exchange) EnableCookies() {
	if e.jar == nil {
		e.jar = cookiejar.New(cookiejar.WithLogger(e.log))
	}
	e.changed()
}

// DisableCookies detaches the jar.
func (e *Exchange) DisableCookies() {
	e.jar = nil
	e.changed()
}

// LoadCookies merges the cookie file at path into the jar, enabling
// cookies. A missing file is not an error.
func (e *Exchange) LoadCookies(path string) error {
	e.EnableCookies()
	if err := e.jar.LoadIfExists(e.fs, path); err != nil {
		return &ConfigurationError{Field: string(OptCookieFile), Reason: path, Cause: err}
	}
	e.opts.CookieFile = path
	return nil
}

// SetCookieJarFile sets the file Close saves the jar to, enabling cookies.
func (e *Exchange) SetCookieJarFile(path string) {
	e.EnableCookies()
	e.opts.CookieJarFile = path
}

// SaveCookies writes the jar to the cookie jar file now.
func (e *Exchange) SaveCookies() error {
	if e.jar == nil || e.opts.CookieJarFile == "" {
		return nil
	}
	return e.jar.Save(e.fs, e.opts.CookieJarFile)
}

func (e *Exchange) host() string {
	u, err := url.Parse(e.opts.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SetCookie stores a cookie in the jar. The domain defaults to the host of
// the exchange URL, as a host-only cookie.
func (e *Exchange) SetCookie(p cookiejar.SetParams) error {
	if e.jar == nil {
		return NewConfigurationError("cookies", "cookies are disabled")
	}
	if p.Domain == "" {
		p.Domain = e.host()
		p.HostOnly = true
	}
	if err := e.jar.Set(p); err != nil {
		return err
	}
	e.changed()
	return nil
}

// DeleteCookie removes cookies of the exchange host. An empty path removes
// every path of name; an empty name removes all cookies of the host.
func (e *Exchange) DeleteCookie(name, path string) bool {
	if e.jar == nil {
		return false
	}
	h := e.host()
	if h == "" {
		return false
	}
	return e.jar.Delete(h, name, path)
}

// Cookies returns every cookie in the jar.
func (e *Exchange) Cookies() []cookiejar.Cookie {
	if e.jar == nil {
		return nil
	}
	return e.jar.All()
}

// request builds the first hop from the current options.
func (e *Exchange) request() (*Request, error) {
	if e.opts.URL == "" {
		return nil, NewConfigurationError("url", "not set")
	}
	u, err := url.Parse(e.opts.URL)
	if err != nil {
		return nil, &ConfigurationError{Field: "url", Reason: e.opts.URL, Cause: err}
	}
	h := e.defaults.Clone()
	if h == nil {
		h = http.Header{}
	}
	for k, v := range e.opts.Header {
		if len(v) == 0 || (len(v) == 1 && v[0] == "") {
			h.Del(k)
			continue
		}
		h[k] = append([]string(nil), v...)
	}
	req := &Request{
		Method:  e.opts.Method,
		URL:     u,
		Header:  h,
		Referer: e.opts.Referer,
	}
	if req.method() != http.MethodGet && req.method() != http.MethodHead && e.opts.Body != nil {
		req.Body = append([]byte(nil), e.opts.Body...)
		if req.method() == http.MethodPost && h.Get("Content-Type") == "" {
			h.Set("Content-Type", defaultPostContentType)
		}
	}
	return req, nil
}

// walks reports whether redirects are followed hop by hop. Otherwise the
// transport handles them.
func (e *Exchange) walks() bool {
	return e.opts.Follow && (e.jar != nil || e.opts.ManualRedirects)
}

func (e *Exchange) store(resp *Response, eff *url.URL, err error) {
	e.pending = false
	e.err = err
	if eff != nil {
		e.lastURL = eff.String()
	}
	if err != nil {
		e.resp = nil
		return
	}
	e.resp = resp
}

// single sends req in one transport call. Cookies are applied once and
// every received header block is fed back to the jar.
func (e *Exchange) single(ctx context.Context, req *Request) (*Response, *url.URL, error) {
	if e.jar != nil {
		e.jar.Apply(req.Header, req.URL)
	}
	resp, err := e.transport.Do(ctx, req, e.opts.Follow)
	if err != nil {
		return nil, req.URL, NewTransportError("send", req.URL.String(), err)
	}
	if e.jar != nil {
		receiveBlocks(e.jar, resp, req.URL)
	}
	if resp.URL != nil {
		return resp, resp.URL, nil
	}
	return resp, req.URL, nil
}

func (e *Exchange) walkChain(ctx context.Context, req *Request) (*Response, *url.URL, error) {
	w := newWalk(req, e.opts.Redirect, e.jar, e.log)
	for !w.done() {
		hop := w.prepare()
		resp, err := e.transport.Do(ctx, hop, false)
		if err != nil {
			w.fail(err)
			break
		}
		w.absorb(resp)
	}
	return w.resp, w.effectiveURL(), w.err
}

// Exec performs the exchange and returns the part selected by the exec mode.
// It refuses to run while the owning scheduler is running.
func (e *Exchange) Exec(ctx context.Context) ([]byte, error) {
	return e.ExecWith(ctx, e.opts.ExecMode)
}

// ExecWith is Exec with an explicit mode.
func (e *Exchange) ExecWith(ctx context.Context, mode ExecMode) ([]byte, error) {
	if e.owner != nil && e.owner.Running() {
		return nil, newPolicyViolation("exec", ErrSchedulerRunning)
	}
	req, err := e.request()
	if err != nil {
		e.store(nil, nil, err)
		return nil, err
	}
	var (
		resp *Response
		eff  *url.URL
	)
	if e.walks() {
		resp, eff, err = e.walkChain(ctx, req)
	} else {
		resp, eff, err = e.single(ctx, req)
	}
	e.store(resp, eff, err)
	if err != nil {
		e.log.Debug("exchange %s: %v", e.id, err)
		return nil, err
	}
	return resp.View(mode), nil
}

// Fetch returns the cached response in the current exec mode, executing
// the exchange only when nothing is cached.
func (e *Exchange) Fetch(ctx context.Context) ([]byte, error) {
	if e.resp != nil {
		return e.resp.View(e.opts.ExecMode), nil
	}
	return e.Exec(ctx)
}

// FetchMatch fetches like Fetch and matches re against the output with
// surrounding whitespace trimmed. Each match is returned with its
// submatches; all selects every match instead of the first. A result of
// nil means no match.
func (e *Exchange) FetchMatch(ctx context.Context, re *regexp.Regexp, all bool) ([][]string, error) {
	if re == nil {
		return nil, NewConfigurationError("fetch pattern", "must not be nil")
	}
	out, err := e.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	out = bytes.TrimSpace(out)
	var found [][][]byte
	if all {
		found = re.FindAllSubmatch(out, -1)
	} else if m := re.FindSubmatch(out); m != nil {
		found = [][][]byte{m}
	}
	if found == nil {
		return nil, nil
	}
	matches := make([][]string, len(found))
	for i, m := range found {
		matches[i] = make([]string, len(m))
		for k, g := range m {
			matches[i][k] = string(g)
		}
	}
	return matches, nil
}

// Clone returns an unregistered copy with the same options, jar and
// transport, and no cached response.
func (e *Exchange) Clone() *Exchange {
	return &Exchange{
		id:        uuid.New(),
		opts:      e.opts.clone(),
		defaults:  e.defaults.Clone(),
		jar:       e.jar,
		transport: e.transport,
		fs:        e.fs,
		log:       e.log,
	}
}

// Close unregisters the exchange from its scheduler and saves the jar to
// the cookie jar file, if one is set.
func (e *Exchange) Close() error {
	if e.owner != nil {
		if err := e.owner.Remove(e); err != nil {
			return err
		}
	}
	return e.SaveCookies()
}

func (e *Exchange) String() string {
	if e.opts.URL == "" {
		return "exchange " + e.id.String()
	}
	return "exchange " + e.id.String() + " " + e.opts.URL
}
