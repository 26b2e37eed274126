// Package cookiejar is an in-memory HTTP cookie store with domain and path
// scoping, expiry and public-suffix-aware acceptance.
//
// The jar is fed response headers through Receive and produces the value of
// the Cookie request header through Send. It can be persisted to a
// tab-separated text file (see Serialize) and plugs into net/http through
// the http.CookieJar methods SetCookies and Cookies.
package cookiejar

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Cookie is a stored cookie. (Domain, Name, Path) identifies it uniquely.
type Cookie struct {
	Domain string
	Name   string
	Path   string
	Value  string

	Secure   bool
	HTTPOnly bool
	// HostOnly cookies are sent to Domain only, never to its subdomains.
	HostOnly bool

	Created    time.Time
	LastAccess time.Time
	// Expires is zero for session cookies.
	Expires time.Time
}

// IsSession reports whether c lives until the jar is discarded.
func (c *Cookie) IsSession() bool {
	return c.Expires.IsZero()
}

// Expired reports whether c must no longer be sent at now.
func (c *Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// setCookie is one parsed Set-Cookie line.
type setCookie struct {
	name, value string

	domain string
	path   string

	maxAge     int64
	hasMaxAge  bool
	expires    time.Time
	hasExpires bool

	secure   bool
	httpOnly bool
}

var expiresLayouts = []string{
	time.RFC1123,
	"Mon, 02-Jan-2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"Mon, 02-Jan-06 15:04:05 MST",
	time.RFC850,
	time.ANSIC,
}

func parseExpires(s string) (time.Time, bool) {
	for _, layout := range expiresLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseSetCookie parses a Set-Cookie value leniently. Unknown attributes and
// attributes with unparseable values are ignored. Only a missing "=" or an
// empty name makes the line unusable.
func parseSetCookie(line string) (*setCookie, bool) {
	parts := strings.Split(strings.TrimSpace(line), ";")
	name, value, ok := strings.Cut(parts[0], "=")
	if !ok {
		return nil, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	sc := &setCookie{name: name, value: strings.TrimSpace(value)}
	for _, attr := range parts[1:] {
		key, val, _ := strings.Cut(strings.TrimSpace(attr), "=")
		val = strings.TrimSpace(val)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "expires":
			if t, ok := parseExpires(val); ok {
				sc.expires, sc.hasExpires = t, true
			}
		case "max-age":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				sc.maxAge, sc.hasMaxAge = n, true
			}
		case "domain":
			sc.domain = val
		case "path":
			sc.path = val
		case "secure":
			sc.secure = true
		case "httponly":
			sc.httpOnly = true
		}
	}
	return sc, true
}

// expiry resolves Max-Age and Expires. remove is true when the cookie is
// already expired and any stored copy must be dropped.
func (sc *setCookie) expiry(now time.Time) (expires time.Time, remove bool) {
	switch {
	case sc.hasMaxAge:
		if sc.maxAge <= 0 {
			return time.Time{}, true
		}
		return now.Add(time.Duration(sc.maxAge) * time.Second), false
	case sc.hasExpires:
		if !sc.expires.After(now) {
			return time.Time{}, true
		}
		return sc.expires, false
	}
	return time.Time{}, false
}

func canonicalHost(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

func isIP(host string) bool {
	return net.ParseIP(host) != nil
}

// domainMatch reports whether host is domain or a subdomain of it on a
// label boundary. IP addresses only match themselves.
func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	if isIP(host) {
		return false
	}
	return strings.HasSuffix(host, domain) && host[len(host)-len(domain)-1] == '.'
}

// pathMatch reports whether reqPath falls under cookiePath. A trailing slash
// on the cookie path is ignored.
func pathMatch(reqPath, cookiePath string) bool {
	p := strings.TrimSuffix(cookiePath, "/")
	if p == "" {
		return true
	}
	if !strings.HasPrefix(reqPath, p) {
		return false
	}
	return len(reqPath) == len(p) || reqPath[len(p)] == '/'
}

// defaultPath is the directory of the request path: "/a/b/c" yields "/a/b".
func defaultPath(reqPath string) string {
	if reqPath == "" || reqPath[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(reqPath, "/")
	if i == 0 {
		return "/"
	}
	return reqPath[:i]
}

func requestPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
