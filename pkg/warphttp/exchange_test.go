package warphttp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/warpdl/warphttp/pkg/cookiejar"
)

// TestExecFollowsChainWithCookies verifies that a jar-backed exchange walks
// A -> B -> C hop by hop, feeding every hop's cookies to the next one.
func TestExecFollowsChainWithCookies(t *testing.T) {
	f := newFakeNet()
	f.serve("http://a.example.com/start", mkResp(302, "", "Location", "/b", "Set-Cookie", "s1=1; Domain=example.com"))
	f.serve("http://a.example.com/b", mkResp(301, "", "Location", "http://c.example.com/final", "Set-Cookie", "s2=2"))
	f.serve("http://c.example.com/final", mkResp(200, "done"))

	e := newTestExchange(t, f, "http://a.example.com/start", WithJar(testJar(t)))
	body, err := e.Exec(context.Background())
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if string(body) != "done" {
		t.Errorf("body = %q, want done", body)
	}
	if e.LastURL() != "http://c.example.com/final" {
		t.Errorf("LastURL = %q", e.LastURL())
	}
	if e.Options().URL != "http://a.example.com/start" {
		t.Errorf("exchange URL changed to %q", e.Options().URL)
	}

	hops := f.calls()
	if len(hops) != 3 {
		t.Fatalf("got %d hops, want 3", len(hops))
	}
	if hops[0].Follow || hops[1].Follow {
		t.Error("walked hops asked the transport to follow")
	}
	if hops[1].Referer != "http://a.example.com/start" {
		t.Errorf("hop 2 referer = %q", hops[1].Referer)
	}
	if hops[1].Cookie != "s1=1" {
		t.Errorf("hop 2 cookie = %q, want s1=1", hops[1].Cookie)
	}
	if hops[2].Cookie != "s1=1" {
		t.Errorf("hop 3 cookie = %q, want s1=1 only", hops[2].Cookie)
	}
	if got := e.Info(InfoHTTPCode); got != "200" {
		t.Errorf("Info(InfoHTTPCode) = %q", got)
	}
}

func TestExecPostDemotedOnMovedPermanently(t *testing.T) {
	f := newFakeNet()
	f.serve("http://h.example.com/form", mkResp(301, "", "Location", "/thanks"))
	f.serve("http://h.example.com/thanks", mkResp(200, "ok"))

	e := newTestExchange(t, f, "http://h.example.com/form")
	e.Set(OptManualRedirects, true)
	e.SetBody([]byte("x=1"))
	if _, err := e.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	hops := f.calls()
	if hops[0].Method != http.MethodPost || hops[0].Body != "x=1" {
		t.Errorf("first hop = %+v", hops[0])
	}
	if hops[1].Method != http.MethodGet || hops[1].Body != "" {
		t.Errorf("second hop = %+v", hops[1])
	}
}

func TestExecPostKeptOnTemporaryRedirect(t *testing.T) {
	f := newFakeNet()
	f.serve("http://h.example.com/form", mkResp(307, "", "Location", "/retry"))
	f.serve("http://h.example.com/retry", mkResp(200, "ok"))

	e := newTestExchange(t, f, "http://h.example.com/form", WithJar(testJar(t)))
	e.EnablePost([]byte("x=1"), "text/plain")
	if _, err := e.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	hops := f.calls()
	if hops[1].Method != http.MethodPost || hops[1].Body != "x=1" {
		t.Errorf("second hop = %+v", hops[1])
	}
}

func TestExecRefreshHeader(t *testing.T) {
	f := newFakeNet()
	f.serve("http://h.example.com/dir/page", mkResp(302, "", "Refresh", "0; url=next"))
	f.serve("http://h.example.com/dir/next", mkResp(200, "refreshed"))

	e := newTestExchange(t, f, "http://h.example.com/dir/page", WithJar(testJar(t)))
	body, err := e.Exec(context.Background())
	if err != nil || string(body) != "refreshed" {
		t.Fatalf("Exec = %q, %v", body, err)
	}
}

func TestExecRedirectLimit(t *testing.T) {
	f := newFakeNet()
	f.serve("http://h.example.com/loop", mkResp(302, "", "Location", "/loop"))

	e := newTestExchange(t, f, "http://h.example.com/loop", WithJar(testJar(t)))
	if err := e.Set(OptMaxRedirects, "3"); err != nil {
		t.Fatal(err)
	}
	_, err := e.Exec(context.Background())
	if !errors.Is(err, ErrTooManyRedirects) || !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("err = %v, want a redirect loop policy violation", err)
	}
	if n := len(f.calls()); n != 4 {
		t.Errorf("sent %d hops, want 4", n)
	}
	if e.Response() != nil {
		t.Error("failed exchange kept a response")
	}
	if !errors.Is(e.Err(), ErrTooManyRedirects) {
		t.Errorf("Err() = %v", e.Err())
	}
}

func TestExecWithoutFollow(t *testing.T) {
	f := newFakeNet()
	f.serve("http://h.example.com/a", mkResp(302, "moved", "Location", "/b"))

	e := newTestExchange(t, f, "http://h.example.com/a", WithJar(testJar(t)))
	e.SetFollow(false)
	body, err := e.Exec(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "moved" || e.Response().StatusCode() != 302 {
		t.Errorf("got %d %q", e.Response().StatusCode(), body)
	}
	if hops := f.calls(); len(hops) != 1 || hops[0].Follow {
		t.Errorf("hops = %+v", hops)
	}
}

func TestExecDelegatesFollowWithoutJar(t *testing.T) {
	f := newFakeNet()
	f.serve("http://h.example.com/a", mkResp(200, "ok"))

	e := newTestExchange(t, f, "http://h.example.com/a")
	if _, err := e.Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hops := f.calls(); len(hops) != 1 || !hops[0].Follow {
		t.Errorf("hops = %+v, want one transport-followed hop", hops)
	}
}

func TestExecTransportError(t *testing.T) {
	f := newFakeNet()
	f.fail["http://down.example.com/"] = errUnreachable

	e := newTestExchange(t, f, "http://down.example.com/")
	_, err := e.Exec(context.Background())
	if !errors.Is(err, ErrTransport) || !errors.Is(err, errUnreachable) {
		t.Fatalf("err = %v", err)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.URL != "http://down.example.com/" {
		t.Errorf("TransportError = %+v", te)
	}
}

func TestExecModes(t *testing.T) {
	f := newFakeNet()
	f.serve("http://h.example.com/", mkResp(200, "payload", "X-Test", "1"))
	e := newTestExchange(t, f, "http://h.example.com/")

	headers, err := e.ExecWith(context.Background(), ExecHeaders)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(headers, []byte("HTTP/1.1 200 OK\r\n")) || bytes.Contains(headers, []byte("payload")) {
		t.Errorf("headers view = %q", headers)
	}
	if err := e.Set(OptExecMode, "headers+body"); err != nil {
		t.Fatal(err)
	}
	all, _ := e.Fetch(context.Background())
	if !bytes.HasSuffix(all, []byte("\r\n\r\npayload")) || !bytes.Contains(all, []byte("X-Test: 1")) {
		t.Errorf("headers+body view = %q", all)
	}
	if err := e.Set(OptExecMode, 7); !errors.Is(err, ErrConfiguration) {
		t.Errorf("bad exec mode err = %v", err)
	}
}

func TestFetchCachesUntilChanged(t *testing.T) {
	f := newFakeNet()
	f.serve("http://h.example.com/", mkResp(200, "v"))
	e := newTestExchange(t, f, "http://h.example.com/")
	ctx := context.Background()

	e.Fetch(ctx)
	e.Fetch(ctx)
	if n := len(f.calls()); n != 1 {
		t.Fatalf("cached fetch sent %d hops", n)
	}
	e.SetHeader("X-Token", "a")
	if e.Response() != nil {
		t.Fatal("option change kept the cached response")
	}
	e.Fetch(ctx)
	if n := len(f.calls()); n != 2 {
		t.Fatalf("sent %d hops after change, want 2", n)
	}

	e.SetLockResponse(true)
	e.SetHeader("X-Token", "b")
	if e.Response() == nil {
		t.Fatal("locked response dropped")
	}
	e.Fetch(ctx)
	if n := len(f.calls()); n != 2 {
		t.Errorf("locked fetch sent a hop")
	}
}

func TestFetchMatch(t *testing.T) {
	f := newFakeNet()
	f.serve("http://m.example.com/", mkResp(200, "\n id=7 id=9 \n"))
	e := newTestExchange(t, f, "http://m.example.com/")
	ctx := context.Background()
	re := regexp.MustCompile(`id=(\d)`)

	first, err := e.FetchMatch(ctx, re, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first[0][0] != "id=7" || first[0][1] != "7" {
		t.Errorf("first match = %q", first)
	}
	every, _ := e.FetchMatch(ctx, re, true)
	if len(every) != 2 || every[1][1] != "9" {
		t.Errorf("all matches = %q", every)
	}
	anchored, _ := e.FetchMatch(ctx, regexp.MustCompile(`^id=7 id=9$`), false)
	if anchored == nil {
		t.Error("output not trimmed before matching")
	}
	if none, _ := e.FetchMatch(ctx, regexp.MustCompile(`absent`), true); none != nil {
		t.Errorf("no match = %q", none)
	}
	if n := len(f.calls()); n != 1 {
		t.Errorf("matching sent %d hops, want 1", n)
	}
	if _, err := e.FetchMatch(ctx, nil, false); !errors.Is(err, ErrConfiguration) {
		t.Errorf("nil pattern = %v", err)
	}
}

func TestBodyImpliesPost(t *testing.T) {
	f := newFakeNet()
	f.serve("http://h.example.com/", mkResp(200, ""))
	ctx := context.Background()

	e := newTestExchange(t, f, "http://h.example.com/")
	e.Set(OptBody, "a=1")
	e.Exec(ctx)

	e2 := newTestExchange(t, f, "http://h.example.com/")
	e2.Set(OptPost, false)
	e2.Set(OptBody, "a=1")
	e2.Exec(ctx)

	hops := f.calls()
	if hops[0].Method != http.MethodPost || hops[0].Body != "a=1" {
		t.Errorf("body did not imply POST: %+v", hops[0])
	}
	if hops[1].Method != http.MethodGet || hops[1].Body != "" {
		t.Errorf("explicitly disabled POST sent %+v", hops[1])
	}
}

func TestHeaders(t *testing.T) {
	var got http.Header
	f := newFakeNet()
	f.handle("http://h.example.com/", func(r *Request) *Response {
		got = r.Header.Clone()
		return mkResp(200, "")
	})
	e := newTestExchange(t, f, "http://h.example.com/",
		WithDefaultHeaders(http.Header{"Accept": {"text/html"}, "X-Default": {"d"}}))
	ctx := context.Background()

	if err := e.Set(OptHeader, []string{"X-One: 1", "Accept: */*"}); err != nil {
		t.Fatal(err)
	}
	e.SetHeader("X-Default", "")
	e.Exec(ctx)
	if got.Get("X-One") != "1" || got.Get("Accept") != "*/*" {
		t.Errorf("overrides not sent: %v", got)
	}
	if _, ok := got["X-Default"]; ok {
		t.Error("suppressed header sent")
	}

	e.ResetHeader("")
	e.Exec(ctx)
	if got.Get("Accept") != "text/html" || got.Get("X-Default") != "d" || got.Get("X-One") != "" {
		t.Errorf("defaults not restored: %v", got)
	}

	if err := e.Set(OptHeader, []string{"no colon"}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("malformed header err = %v", err)
	}
}

func TestSetValidation(t *testing.T) {
	e := newTestExchange(t, newFakeNet(), "")
	tests := []struct {
		key   OptionKey
		value interface{}
	}{
		{"nosuch", 1},
		{OptFollowLocation, 3.5},
		{OptFollowLocation, "maybe"},
		{OptMaxRedirects, "ten"},
		{OptURL, "ftp://h/x"},
		{OptURL, "/relative"},
		{OptPreserveMethod, "200"},
		{OptResolveMode, "sideways"},
	}
	for _, tt := range tests {
		if err := e.Set(tt.key, tt.value); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Set(%s, %v) = %v, want a configuration error", tt.key, tt.value, err)
		}
	}
	if _, err := e.Exec(context.Background()); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Exec without URL = %v", err)
	}
	if _, err := NewExchange("::bad"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("NewExchange(bad) = %v", err)
	}
}

func TestSetOptions(t *testing.T) {
	e := newTestExchange(t, newFakeNet(), "http://h.example.com/")
	for key, value := range map[OptionKey]interface{}{
		OptMethod:         "put",
		OptReferer:        "http://ref/",
		OptAutoReferer:    "false",
		OptMaxRedirects:   -1,
		OptPreserveMethod: "307, 308",
		OptResolveMode:    "reference",
		OptLockResponse:   true,
	} {
		if err := e.Set(key, value); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}
	o := e.Options()
	if o.Method != http.MethodPut || o.Referer != "http://ref/" || o.Redirect.AutoReferer ||
		o.Redirect.MaxRedirects != -1 || len(o.Redirect.PreserveMethod) != 2 ||
		o.Redirect.Resolve != ResolveReference || !o.LockResponse {
		t.Errorf("options = %+v", o)
	}
}

func TestExchangeCookies(t *testing.T) {
	f := newFakeNet()
	f.serve("http://www.example.com/", mkResp(200, ""))
	e := newTestExchange(t, f, "http://www.example.com/")

	if err := e.SetCookie(cookiejar.SetParams{Name: "a", Value: "1"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("SetCookie without jar = %v", err)
	}
	e.Set(OptCookies, true)
	if err := e.SetCookie(cookiejar.SetParams{Name: "a", Value: "1"}); err != nil {
		t.Fatal(err)
	}
	cs := e.Cookies()
	if len(cs) != 1 || cs[0].Domain != "www.example.com" || !cs[0].HostOnly || cs[0].Path != "/" {
		t.Fatalf("cookies = %+v", cs)
	}
	e.Exec(context.Background())
	if c := f.calls()[0].Cookie; c != "a=1" {
		t.Errorf("Cookie = %q", c)
	}
	if !e.DeleteCookie("a", "") || len(e.Cookies()) != 0 {
		t.Error("DeleteCookie left the cookie")
	}
}

func TestCookieFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	in := cookiejar.FileHeader + "\nexample.com\tseed\tv\t/\t-1\t0\t0\t0\n"
	if err := afero.WriteFile(fs, "/in/cookies.txt", []byte(in), 0o600); err != nil {
		t.Fatal(err)
	}
	f := newFakeNet()
	f.serve("http://example.com/login", mkResp(200, "", "Set-Cookie", "sid=42"))

	e := newTestExchange(t, f, "http://example.com/login", WithFs(fs))
	if err := e.Set(OptCookieFile, "/in/cookies.txt"); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(OptCookieJar, "/out/cookies.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c := f.calls()[0].Cookie; c != "seed=v" {
		t.Errorf("loaded cookie not sent: %q", c)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out, err := afero.ReadFile(fs, "/out/cookies.txt")
	if err != nil {
		t.Fatalf("jar file not written: %v", err)
	}
	if !strings.Contains(string(out), "\tsid\t42\t") || !strings.Contains(string(out), "\tseed\tv\t") {
		t.Errorf("jar file = %q", out)
	}
	if err := e.Set(OptCookieFile, "/missing.txt"); err != nil {
		t.Errorf("missing cookie file: %v", err)
	}
}

func TestJarSnapshotIsPrivate(t *testing.T) {
	shared := testJar(t)
	shared.Set(cookiejar.SetParams{Name: "k", Value: "v", Domain: "example.com"})
	e := newTestExchange(t, newFakeNet(), "http://example.com/", WithJarSnapshot(shared.Snapshot()))
	e.SetCookie(cookiejar.SetParams{Name: "mine", Value: "1"})
	if shared.Len() != 1 || e.Jar().Len() != 2 {
		t.Errorf("shared %d, private %d", shared.Len(), e.Jar().Len())
	}
}

func TestClone(t *testing.T) {
	f := newFakeNet()
	f.serve("http://h.example.com/", mkResp(200, "x"))
	e := newTestExchange(t, f, "http://h.example.com/", WithJar(testJar(t)))
	e.SetHeader("X-A", "1")
	e.Exec(context.Background())

	c := e.Clone()
	if c.ID() == e.ID() || c.Response() != nil || c.Jar() != e.Jar() {
		t.Fatal("clone shares identity or response")
	}
	c.SetHeader("X-A", "2")
	if e.Options().Header.Get("X-A") != "1" {
		t.Error("clone shares headers")
	}
}
