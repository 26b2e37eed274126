package warphttp

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/warpdl/warphttp/pkg/cookiejar"
	"github.com/warpdl/warphttp/pkg/suffix"
)

// sent is what the fake network saw of one hop.
type sent struct {
	Method  string
	URL     string
	Referer string
	Cookie  string
	Body    string
	Follow  bool
}

// fakeNet is an in-memory Transport serving canned responses by URL.
// When gate is set every hop blocks until it is closed or the hop is
// cancelled; started receives the URL of every hop as it begins.
type fakeNet struct {
	mu     sync.Mutex
	routes map[string]func(*Request) *Response
	fail   map[string]error
	hops   []sent

	gate    chan struct{}
	started chan string
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		routes:  make(map[string]func(*Request) *Response),
		fail:    make(map[string]error),
		started: make(chan string, 64),
	}
}

func (f *fakeNet) handle(rawURL string, fn func(*Request) *Response) {
	f.mu.Lock()
	f.routes[rawURL] = fn
	f.mu.Unlock()
}

func (f *fakeNet) serve(rawURL string, resp *Response) {
	f.handle(rawURL, func(*Request) *Response { return resp })
}

func (f *fakeNet) Do(ctx context.Context, req *Request, follow bool) (*Response, error) {
	key := req.URL.String()
	f.mu.Lock()
	f.hops = append(f.hops, sent{
		Method:  req.method(),
		URL:     key,
		Referer: req.Referer,
		Cookie:  req.Header.Get("Cookie"),
		Body:    string(req.Body),
		Follow:  follow,
	})
	route, ok := f.routes[key]
	failure := f.fail[key]
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.started <- key:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	if !ok {
		return mkResp(http.StatusNotFound, "not found"), nil
	}
	proto := route(req)
	out := &Response{Body: proto.Body, URL: req.URL}
	for _, b := range proto.Blocks {
		b.URL = req.URL
		out.Blocks = append(out.Blocks, b)
	}
	return out, nil
}

func (f *fakeNet) calls() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.hops...)
}

var errUnreachable = errors.New("connection refused")

// mkResp builds a single-block response; kv are header name/value pairs.
func mkResp(code int, body string, kv ...string) *Response {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return &Response{
		Blocks: []HeaderBlock{{Proto: "HTTP/1.1", StatusCode: code, Reason: http.StatusText(code), Header: h}},
		Body:   []byte(body),
	}
}

func testJar(t *testing.T) *cookiejar.Jar {
	t.Helper()
	l, err := suffix.Parse(strings.NewReader("com\norg\nnet\n"))
	if err != nil {
		t.Fatalf("suffix.Parse: %v", err)
	}
	return cookiejar.New(cookiejar.WithSuffixChecker(l))
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func newTestExchange(t *testing.T, f *fakeNet, rawURL string, opts ...ExchangeOption) *Exchange {
	t.Helper()
	e, err := NewExchange(rawURL, append([]ExchangeOption{WithTransport(f)}, opts...)...)
	if err != nil {
		t.Fatalf("NewExchange(%q): %v", rawURL, err)
	}
	return e
}
