package cookiejar

import (
	"bufio"
	"bytes"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warpdl/warphttp/pkg/logger"
	"github.com/warpdl/warphttp/pkg/suffix"
	"github.com/warpdl/warphttp/pkg/warperr"
)

// SessionPolicy decides what happens to session cookies on Serialize.
type SessionPolicy int

const (
	// SessionPersist writes session cookies with expiry -1.
	SessionPersist SessionPolicy = iota
	// SessionDiscardOnSave leaves session cookies out of saved files.
	SessionDiscardOnSave
)

// Jar stores cookies keyed by domain, name and path.
// All methods are safe for concurrent use.
type Jar struct {
	mu      sync.Mutex
	entries map[string]map[string]map[string]*Cookie

	checker suffix.Checker
	log     logger.Logger
	now     func() time.Time
	session SessionPolicy

	warnOnce sync.Once
}

// Option configures a Jar.
type Option func(*Jar)

// WithSuffixChecker sets the public suffix source. The default is
// suffix.Global, the process-wide list loaded with suffix.Init.
func WithSuffixChecker(c suffix.Checker) Option {
	return func(j *Jar) {
		if c != nil {
			j.checker = c
		}
	}
}

// WithLogger sets the logger used for rejected cookies and file warnings.
func WithLogger(l logger.Logger) Option {
	return func(j *Jar) { j.log = logger.OrNop(l) }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(j *Jar) {
		if now != nil {
			j.now = now
		}
	}
}

// WithSessionPolicy sets how session cookies are saved.
func WithSessionPolicy(p SessionPolicy) Option {
	return func(j *Jar) { j.session = p }
}

// New creates an empty jar.
func New(opts ...Option) *Jar {
	j := &Jar{
		entries: make(map[string]map[string]map[string]*Cookie),
		checker: suffix.Global,
		log:     logger.NewNopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Snapshot is a detached copy of a jar's cookies.
type Snapshot []Cookie

// NewFromSnapshot creates a jar hydrated from s.
func NewFromSnapshot(s Snapshot, opts ...Option) *Jar {
	j := New(opts...)
	j.Merge(s)
	return j
}

func (j *Jar) warnUnloaded() {
	j.warnOnce.Do(func() {
		j.log.Warning("cookiejar: public suffix list not loaded, accepting domain cookies unchecked")
	})
}

func (j *Jar) lookup(domain, name, path string) *Cookie {
	return j.entries[domain][name][path]
}

func (j *Jar) put(c *Cookie) {
	names, ok := j.entries[c.Domain]
	if !ok {
		names = make(map[string]map[string]*Cookie)
		j.entries[c.Domain] = names
	}
	paths, ok := names[c.Name]
	if !ok {
		paths = make(map[string]*Cookie)
		names[c.Name] = paths
	}
	paths[c.Path] = c
}

// remove deletes one cookie and prunes empty levels.
func (j *Jar) remove(domain, name, path string) bool {
	paths, ok := j.entries[domain][name]
	if !ok {
		return false
	}
	if _, ok := paths[path]; !ok {
		return false
	}
	delete(paths, path)
	if len(paths) == 0 {
		delete(j.entries[domain], name)
	}
	if len(j.entries[domain]) == 0 {
		delete(j.entries, domain)
	}
	return true
}

// Receive stores the cookies set by the Set-Cookie headers of a response to
// u. Malformed lines and cookies failing the domain checks are skipped. It
// returns the number of cookies stored.
func (j *Jar) Receive(h http.Header, u *url.URL) int {
	lines := h.Values("Set-Cookie")
	host := canonicalHost(u)
	if len(lines) == 0 || host == "" {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	stored := 0
	for _, line := range lines {
		sc, ok := parseSetCookie(line)
		if !ok {
			j.log.Debug("cookiejar: skipping malformed Set-Cookie %q from %s", line, host)
			continue
		}
		if j.receive(sc, host, u, now) {
			stored++
		}
	}
	return stored
}

// ReceiveRaw is Receive for an unparsed header block such as the one
// preceding a response body. The status line, if any, is ignored.
func (j *Jar) ReceiveRaw(block []byte, u *url.URL) int {
	h := http.Header{}
	sc := bufio.NewScanner(bytes.NewReader(block))
	for sc.Scan() {
		name, value, ok := strings.Cut(sc.Text(), ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Set-Cookie") {
			continue
		}
		h.Add("Set-Cookie", strings.TrimSpace(value))
	}
	return j.Receive(h, u)
}

func (j *Jar) receive(sc *setCookie, host string, u *url.URL, now time.Time) bool {
	domain, hostOnly := host, true
	if d := strings.ToLower(strings.TrimLeft(sc.domain, ".")); d != "" {
		isSuffix, loaded := j.checker.Lookup(d)
		if !loaded {
			j.warnUnloaded()
		}
		switch {
		case isSuffix:
			j.log.Debug("cookiejar: rejecting %s from %s: domain %s is a public suffix", sc.name, host, d)
			return false
		case !domainMatch(host, d):
			j.log.Debug("cookiejar: rejecting %s from %s: domain %s does not match", sc.name, host, d)
			return false
		default:
			domain, hostOnly = d, false
		}
	}

	path := sc.path
	if !strings.HasPrefix(path, "/") {
		path = defaultPath(requestPath(u))
	}

	expires, drop := sc.expiry(now)
	if drop {
		j.remove(domain, sc.name, path)
		return false
	}

	created := now
	// An expired record counts as already purged.
	if old := j.lookup(domain, sc.name, path); old != nil && !old.Expired(now) {
		created = old.Created
	}
	j.put(&Cookie{
		Domain:     domain,
		Name:       sc.name,
		Path:       path,
		Value:      sc.value,
		Secure:     sc.secure,
		HTTPOnly:   sc.httpOnly,
		HostOnly:   hostOnly,
		Created:    created,
		LastAccess: now,
		Expires:    expires,
	})
	return true
}

type nameHit struct {
	name    string
	created time.Time
	cookies []*Cookie
}

type domainHit struct {
	domain string
	names  []nameHit
}

// matching returns the cookies to send to u in header order. Expired
// cookies met on the way are purged. Caller holds j.mu.
func (j *Jar) matching(u *url.URL, now time.Time) []*Cookie {
	host := canonicalHost(u)
	if host == "" {
		return nil
	}
	secure := strings.EqualFold(u.Scheme, "https") || strings.EqualFold(u.Scheme, "wss")
	reqPath := requestPath(u)

	var domains []domainHit
	for domain, names := range j.entries {
		if !domainMatch(host, domain) {
			continue
		}
		var hits []nameHit
		for name, paths := range names {
			var matched []*Cookie
			for path, c := range paths {
				if c.Expired(now) {
					j.remove(domain, name, path)
					continue
				}
				if (c.HostOnly && domain != host) || (c.Secure && !secure) || !pathMatch(reqPath, path) {
					continue
				}
				matched = append(matched, c)
			}
			if len(matched) == 0 {
				continue
			}
			sort.Slice(matched, func(a, b int) bool {
				pa, pb := matched[a].Path, matched[b].Path
				if len(pa) != len(pb) {
					return len(pa) > len(pb)
				}
				return pa > pb
			})
			hit := nameHit{name: name, created: matched[0].Created, cookies: matched}
			for _, c := range matched[1:] {
				if c.Created.Before(hit.created) {
					hit.created = c.Created
				}
			}
			hits = append(hits, hit)
		}
		if len(hits) == 0 {
			continue
		}
		sort.Slice(hits, func(a, b int) bool {
			if !hits[a].created.Equal(hits[b].created) {
				return hits[a].created.Before(hits[b].created)
			}
			return hits[a].name < hits[b].name
		})
		domains = append(domains, domainHit{domain: domain, names: hits})
	}

	sort.Slice(domains, func(a, b int) bool {
		da, db := domains[a].domain, domains[b].domain
		if len(da) != len(db) {
			return len(da) < len(db)
		}
		return strings.ToLower(da) < strings.ToLower(db)
	})

	// A more specific domain replaces a shorter domain's cookies of the
	// same name, keeping the position the name first appeared at.
	var order []string
	byName := make(map[string][]*Cookie)
	for _, d := range domains {
		for _, h := range d.names {
			if _, seen := byName[h.name]; !seen {
				order = append(order, h.name)
			}
			byName[h.name] = h.cookies
		}
	}
	var out []*Cookie
	for _, name := range order {
		for _, c := range byName[name] {
			c.LastAccess = now
			out = append(out, c)
		}
	}
	return out
}

// Send returns the Cookie header value for a request to u, and false when
// no cookie qualifies.
func (j *Jar) Send(u *url.URL) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cs := j.matching(u, j.now())
	if len(cs) == 0 {
		return "", false
	}
	pairs := make([]string, len(cs))
	for i, c := range cs {
		pairs[i] = c.Name + "=" + c.Value
	}
	return strings.Join(pairs, "; "), true
}

// Apply sets or deletes the Cookie header of h for a request to u and
// returns the header value.
func (j *Jar) Apply(h http.Header, u *url.URL) string {
	v, ok := j.Send(u)
	if !ok {
		h.Del("Cookie")
		return ""
	}
	h.Set("Cookie", v)
	return v
}

// SetParams describes a cookie added by hand.
type SetParams struct {
	Name   string
	Value  string
	Domain string
	// Path defaults to "/".
	Path     string
	HostOnly bool
	Secure   bool
	HTTPOnly bool
	// Expires zero means session. A past value deletes the cookie.
	Expires time.Time
	// Created defaults to now.
	Created time.Time
}

// Set stores a cookie directly, bypassing the domain acceptance rules.
func (j *Jar) Set(p SetParams) error {
	if p.Name == "" {
		return warperr.NewConfigurationError("cookie name", "must not be empty")
	}
	domain := strings.ToLower(strings.TrimLeft(p.Domain, "."))
	if domain == "" {
		return warperr.NewConfigurationError("cookie domain", "must not be empty")
	}
	path := p.Path
	if path == "" {
		path = "/"
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	if !p.Expires.IsZero() && !p.Expires.After(now) {
		j.remove(domain, p.Name, path)
		return nil
	}
	created := p.Created
	if created.IsZero() {
		created = now
	}
	j.put(&Cookie{
		Domain:     domain,
		Name:       p.Name,
		Path:       path,
		Value:      p.Value,
		Secure:     p.Secure,
		HTTPOnly:   p.HTTPOnly,
		HostOnly:   p.HostOnly,
		Created:    created,
		LastAccess: created,
		Expires:    p.Expires,
	})
	return nil
}

// Delete removes cookies hierarchically: an empty path removes every path
// of name, an empty name removes the whole domain and an empty domain
// clears the jar. It reports whether anything was removed.
func (j *Jar) Delete(domain, name, path string) bool {
	domain = strings.ToLower(strings.TrimLeft(domain, "."))
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case domain == "":
		had := len(j.entries) > 0
		j.entries = make(map[string]map[string]map[string]*Cookie)
		return had
	case name == "":
		_, had := j.entries[domain]
		delete(j.entries, domain)
		return had
	case path == "":
		_, had := j.entries[domain][name]
		delete(j.entries[domain], name)
		if had && len(j.entries[domain]) == 0 {
			delete(j.entries, domain)
		}
		return had
	}
	return j.remove(domain, name, path)
}

// Clear removes every cookie.
func (j *Jar) Clear() {
	j.Delete("", "", "")
}

// Get returns a copy of one unexpired cookie.
func (j *Jar) Get(domain, name, path string) (Cookie, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c := j.lookup(strings.ToLower(domain), name, path)
	if c == nil || c.Expired(j.now()) {
		return Cookie{}, false
	}
	return *c, true
}

// All returns copies of all unexpired cookies ordered by domain, name and path.
func (j *Jar) All() []Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.all(j.now())
}

func (j *Jar) all(now time.Time) []Cookie {
	var out []Cookie
	for _, names := range j.entries {
		for _, paths := range names {
			for _, c := range paths {
				if !c.Expired(now) {
					out = append(out, *c)
				}
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Domain != out[b].Domain {
			return out[a].Domain < out[b].Domain
		}
		if out[a].Name != out[b].Name {
			return out[a].Name < out[b].Name
		}
		return out[a].Path < out[b].Path
	})
	return out
}

// Len returns the number of unexpired cookies.
func (j *Jar) Len() int {
	return len(j.All())
}

// Snapshot returns a detached copy of the jar.
func (j *Jar) Snapshot() Snapshot {
	return Snapshot(j.All())
}

// Merge adds the cookies of s. A stored cookie with a strictly newer
// creation time than the incoming one is kept. It returns the number of
// cookies taken from s.
func (j *Jar) Merge(s Snapshot) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.merge(s, j.now())
}

func (j *Jar) merge(s []Cookie, now time.Time) int {
	taken := 0
	for i := range s {
		c := s[i]
		if c.Name == "" || c.Domain == "" || c.Expired(now) {
			continue
		}
		if c.Path == "" {
			c.Path = "/"
		}
		if old := j.lookup(c.Domain, c.Name, c.Path); old != nil && old.Created.After(c.Created) {
			continue
		}
		j.put(&c)
		taken++
	}
	return taken
}
