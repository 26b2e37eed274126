package warphttp

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/warpdl/warphttp/pkg/cookiejar"
	"github.com/warpdl/warphttp/pkg/logger"
)

const (
	// DefaultMaxRedirects is the maximum number of redirect hops allowed.
	// Matches Go's default http.Client behavior.
	DefaultMaxRedirects = 10
)

// ResolveMode selects how a relative redirect target is resolved.
type ResolveMode int

const (
	// ResolveSegment drops the last path segment of the current URL and
	// appends the target with its leading slashes removed.
	ResolveSegment ResolveMode = iota
	// ResolveReference resolves the target as an RFC 3986 reference.
	ResolveReference
)

// RedirectPolicy decides how each redirect hop rewrites the request.
// The zero value follows up to DefaultMaxRedirects hops, keeps POST only on
// 307 and does not set a referer.
type RedirectPolicy struct {
	// AutoReferer makes every hop send the URL it was redirected from.
	AutoReferer bool
	// PreserveMethod lists the statuses on which a POST stays a POST.
	// Empty means {307}.
	PreserveMethod []int
	// MaxRedirects bounds the hops of one exchange. 0 means
	// DefaultMaxRedirects, a negative value removes the bound.
	MaxRedirects int
	Resolve      ResolveMode
	// StripCrossOrigin removes non-standard headers when a hop changes host.
	StripCrossOrigin bool
}

// DefaultRedirectPolicy returns the policy used by new exchanges.
func DefaultRedirectPolicy() RedirectPolicy {
	return RedirectPolicy{
		AutoReferer:    true,
		PreserveMethod: []int{http.StatusTemporaryRedirect},
		MaxRedirects:   DefaultMaxRedirects,
	}
}

func (p RedirectPolicy) maxHops() int {
	if p.MaxRedirects == 0 {
		return DefaultMaxRedirects
	}
	return p.MaxRedirects
}

func (p RedirectPolicy) preserves(status int) bool {
	if len(p.PreserveMethod) == 0 {
		return status == http.StatusTemporaryRedirect
	}
	for _, s := range p.PreserveMethod {
		if s == status {
			return true
		}
	}
	return false
}

func (p RedirectPolicy) clone() RedirectPolicy {
	p.PreserveMethod = append([]int(nil), p.PreserveMethod...)
	return p
}

var refreshPattern = regexp.MustCompile(`(?i)^\s*\d+\s*;\s*url\s*=\s*(.+)$`)

// RedirectTarget returns the raw redirect target of resp: the Location
// header, or the URL of a "N; url=..." Refresh header. Only 3xx responses
// redirect.
func RedirectTarget(resp *Response) (string, bool) {
	code := resp.StatusCode()
	if code < 300 || code > 399 {
		return "", false
	}
	h := resp.Header()
	if loc := strings.TrimSpace(h.Get("Location")); loc != "" {
		return loc, true
	}
	if m := refreshPattern.FindStringSubmatch(h.Get("Refresh")); m != nil {
		if target := strings.Trim(strings.TrimSpace(m[1]), `"'`); target != "" {
			return target, true
		}
	}
	return "", false
}

// ResolveSegmentURL resolves target against base the segment way:
// "http://h/a/b" + "c?x" gives "http://h/a/c?x", and so does "/c?x".
func ResolveSegmentURL(base *url.URL, target string) (*url.URL, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if ref.Scheme != "" {
		return ref, nil
	}
	if strings.HasPrefix(target, "//") {
		return base.ResolveReference(ref), nil
	}
	next := *base
	dir := base.Path
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i]
	} else {
		dir = ""
	}
	next.Path = dir + "/" + strings.TrimLeft(ref.Path, "/")
	next.RawPath = ""
	next.RawQuery = ref.RawQuery
	next.Fragment = ref.Fragment
	return &next, nil
}

func (p RedirectPolicy) resolve(base *url.URL, target string) (*url.URL, error) {
	if p.Resolve == ResolveReference {
		ref, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		return base.ResolveReference(ref), nil
	}
	return ResolveSegmentURL(base, target)
}

func isHTTPScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	return scheme == "http" || scheme == "https"
}

// Next computes the request for the hop after resp, or nil when resp is not
// a redirect. The standalone path and the scheduler both use it.
func (p RedirectPolicy) Next(resp *Response, cur *Request) (*Request, error) {
	target, ok := RedirectTarget(resp)
	if !ok {
		return nil, nil
	}
	u, err := p.resolve(cur.URL, target)
	if err != nil {
		return nil, NewTransportError("redirect", cur.URL.String(), fmt.Errorf("bad Location %q: %w", target, err))
	}
	if isHTTPScheme(cur.URL.Scheme) && !isHTTPScheme(u.Scheme) {
		return nil, newPolicyViolation("redirect", fmt.Errorf("%w: %s -> %s", ErrCrossProtocolRedirect, cur.URL.Scheme, u.Scheme))
	}
	next := cur.Clone()
	next.URL = u
	if next.method() == http.MethodPost && !p.preserves(resp.StatusCode()) {
		next.Method = http.MethodGet
		next.Body = nil
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
	}
	if p.AutoReferer {
		next.Referer = cur.URL.String()
	}
	if p.StripCrossOrigin && cur.URL.Host != u.Host {
		stripUnsafeHeaders(next.Header)
	}
	return next, nil
}

// safeHeaders are headers that should be preserved on cross-origin redirects.
// These are standard headers that don't carry sensitive information.
var safeHeaders = map[string]bool{
	"User-Agent":      true,
	"Accept":          true,
	"Accept-Language": true,
	"Accept-Encoding": true,
	"Range":           true,
	"Content-Type":    true,
}

// stripUnsafeHeaders removes all non-safe headers.
func stripUnsafeHeaders(h http.Header) {
	for key := range h {
		if !safeHeaders[http.CanonicalHeaderKey(key)] {
			h.Del(key)
		}
	}
}

// nativeRedirectCheck is the CheckRedirect of transport-followed chains:
// it bounds the hops and refuses to leave HTTP.
func nativeRedirectCheck(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if maxRedirects >= 0 && len(via) >= maxRedirects {
			return fmt.Errorf("%w: exceeded %d hops (last URL: %s)",
				ErrTooManyRedirects, maxRedirects, via[len(via)-1].URL)
		}
		if len(via) > 0 {
			prev := via[len(via)-1]
			if isHTTPScheme(prev.URL.Scheme) && !isHTTPScheme(req.URL.Scheme) {
				return fmt.Errorf("%w: %s -> %s", ErrCrossProtocolRedirect, prev.URL.Scheme, req.URL.Scheme)
			}
		}
		return nil
	}
}

// State is the position of a redirect walk.
type State int

const (
	StateSending State = iota
	StateAwaiting
	StateRedirecting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateAwaiting:
		return "awaiting"
	case StateRedirecting:
		return "redirecting"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// walk drives one exchange through its redirect chain. It works on a copy
// of the caller's request, so the caller's URL and referer never change.
type walk struct {
	policy RedirectPolicy
	jar    *cookiejar.Jar
	log    logger.Logger

	cur   *Request
	state State
	hops  int
	resp  *Response
	err   error
}

func newWalk(req *Request, policy RedirectPolicy, jar *cookiejar.Jar, l logger.Logger) *walk {
	return &walk{
		policy: policy,
		jar:    jar,
		log:    logger.OrNop(l),
		cur:    req.Clone(),
		state:  StateSending,
	}
}

// prepare attaches the jar's cookies to the pending hop and returns it.
func (w *walk) prepare() *Request {
	if w.state != StateSending {
		panic("warphttp: prepare called in state " + w.state.String())
	}
	if w.jar != nil {
		w.jar.Apply(w.cur.Header, w.cur.URL)
	}
	w.state = StateAwaiting
	return w.cur
}

// absorb feeds the response of the pending hop. Afterwards the walk is
// either Done or Sending the next hop.
func (w *walk) absorb(resp *Response) {
	if w.state != StateAwaiting {
		panic("warphttp: absorb called in state " + w.state.String())
	}
	if w.jar != nil {
		receiveBlocks(w.jar, resp, w.cur.URL)
	}
	w.resp = resp
	next, err := w.policy.Next(resp, w.cur)
	if err != nil {
		w.finish(err)
		return
	}
	if next == nil {
		w.finish(nil)
		return
	}
	w.state = StateRedirecting
	w.hops++
	if limit := w.policy.maxHops(); limit >= 0 && w.hops > limit {
		w.finish(newPolicyViolation("redirect", fmt.Errorf("%w: exceeded %d hops (last URL: %s)", ErrTooManyRedirects, limit, w.cur.URL)))
		return
	}
	w.log.Debug("redirect %d: %d %s -> %s", w.hops, resp.StatusCode(), w.cur.URL, next.URL)
	w.cur = next
	w.state = StateSending
}

// fail aborts the walk after a transport error.
func (w *walk) fail(err error) {
	w.finish(NewTransportError("send", w.cur.URL.String(), err))
}

func (w *walk) finish(err error) {
	w.err = err
	w.state = StateDone
}

func (w *walk) done() bool {
	return w.state == StateDone
}

// effectiveURL is the URL of the last hop sent.
func (w *walk) effectiveURL() *url.URL {
	return w.cur.URL
}

// receiveBlocks feeds every header block of resp to jar. Blocks without a
// recorded URL belong to fallback.
func receiveBlocks(jar *cookiejar.Jar, resp *Response, fallback *url.URL) {
	for i := range resp.Blocks {
		u := resp.Blocks[i].URL
		if u == nil {
			u = fallback
		}
		jar.Receive(resp.Blocks[i].Header, u)
	}
}
