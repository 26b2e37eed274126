package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	envcommon "github.com/warpdl/warphttp/common"
	"github.com/warpdl/warphttp/pkg/cookiejar"
	"github.com/warpdl/warphttp/pkg/warphttp"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1", Path: "/", Expires: time.Now().Add(time.Hour)})
		http.Redirect(w, r, "/home", http.StatusFound)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "cookie=%s", r.Header.Get("Cookie"))
	})
	mux.HandleFunc("/form", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "%s %s", r.Method, b)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "alpha") })
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "bravo") })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// runApp executes the CLI against fs and returns what it printed.
func runApp(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr, oldFs := stdout, stderr, newFs
	stdout, stderr = &out, &errOut
	newFs = func() afero.Fs { return fs }
	defer func() { stdout, stderr, newFs = oldOut, oldErr, oldFs }()

	t.Setenv(envcommon.ConfigDirEnv, "/cfg")
	t.Setenv(envcommon.CookieKeyEnv, strings.Repeat("ab", 32))
	for _, k := range []string{envcommon.ProxyEnv, "HTTP_PROXY", "http_proxy", "HTTPS_PROXY", "https_proxy", "ALL_PROXY", "all_proxy"} {
		t.Setenv(k, "")
	}
	err := Execute(append([]string{"warphttp"}, args...), BuildArgs{Version: "test", BuildType: "test"})
	return out.String(), err
}

func TestGetBody(t *testing.T) {
	srv := newTestServer(t)
	out, err := runApp(t, afero.NewMemMapFs(), "get", srv.URL+"/home")
	if err != nil {
		t.Fatal(err)
	}
	if out != "cookie=" {
		t.Errorf("output = %q", out)
	}
}

func TestGetCookieJarFile(t *testing.T) {
	srv := newTestServer(t)
	fs := afero.NewMemMapFs()
	out, err := runApp(t, fs, "get", "-c", "/out/jar.txt", srv.URL+"/login")
	if err != nil {
		t.Fatal(err)
	}
	if out != "cookie=sid=1" {
		t.Errorf("cookie set mid-chain not sent on the next hop: %q", out)
	}
	raw, err := afero.ReadFile(fs, "/out/jar.txt")
	if err != nil {
		t.Fatalf("jar file not written: %v", err)
	}
	if !strings.HasPrefix(string(raw), cookiejar.FileHeader) || !strings.Contains(string(raw), "\tsid\t1\t") {
		t.Errorf("jar file = %q", raw)
	}

	out, err = runApp(t, fs, "get", "-b", "/out/jar.txt", srv.URL+"/home")
	if err != nil || out != "cookie=sid=1" {
		t.Errorf("reading the jar back: %q, %v", out, err)
	}
}

func TestGetIncludeHeaders(t *testing.T) {
	srv := newTestServer(t)
	out, err := runApp(t, afero.NewMemMapFs(), "get", "-i", srv.URL+"/a")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "HTTP/1.1 200") || !strings.HasSuffix(out, "\r\n\r\nalpha") {
		t.Errorf("output = %q", out)
	}

	out, _ = runApp(t, afero.NewMemMapFs(), "get", "-I", srv.URL+"/a")
	if strings.Contains(out, "alpha") || !strings.HasPrefix(out, "HTTP/1.1 200") {
		t.Errorf("headers only output = %q", out)
	}
}

func TestGetPostData(t *testing.T) {
	srv := newTestServer(t)
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/body.txt", []byte("from=file"), 0o644)

	out, err := runApp(t, fs, "get", "-d", "a=1", srv.URL+"/form")
	if err != nil || out != "POST a=1" {
		t.Errorf("inline data: %q, %v", out, err)
	}
	out, err = runApp(t, fs, "get", "-d", "@/body.txt", "-X", "put", srv.URL+"/form")
	if err != nil || out != "PUT from=file" {
		t.Errorf("file data: %q, %v", out, err)
	}
}

func TestGetOutputFile(t *testing.T) {
	srv := newTestServer(t)
	fs := afero.NewMemMapFs()
	out, err := runApp(t, fs, "get", "-o", "/body", srv.URL+"/b")
	if err != nil || out != "" {
		t.Fatalf("output %q, %v", out, err)
	}
	if b, _ := afero.ReadFile(fs, "/body"); string(b) != "bravo" {
		t.Errorf("file = %q", b)
	}
}

func TestGetOptions(t *testing.T) {
	srv := newTestServer(t)
	out, err := runApp(t, afero.NewMemMapFs(), "get", "--opt", "followlocation=false", srv.URL+"/login")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "cookie=") {
		t.Errorf("redirect followed: %q", out)
	}

	if _, err := runApp(t, afero.NewMemMapFs(), "get", "--opt", "verbose=1", srv.URL); !errors.Is(err, warphttp.ErrConfiguration) {
		t.Errorf("unknown option: %v", err)
	}
	if _, err := runApp(t, afero.NewMemMapFs(), "get", "--opt", "maxredirs", srv.URL); !errors.Is(err, warphttp.ErrConfiguration) {
		t.Errorf("missing value: %v", err)
	}
	if _, err := runApp(t, afero.NewMemMapFs(), "get", "ftp://example.com/"); !errors.Is(err, warphttp.ErrConfiguration) {
		t.Errorf("ftp url: %v", err)
	}
}

func TestGetTransportError(t *testing.T) {
	srv := newTestServer(t)
	u := srv.URL
	srv.Close()
	fs := afero.NewMemMapFs()
	if _, err := runApp(t, fs, "--log-file", "/warphttp.log", "get", u+"/a"); !errors.Is(err, warphttp.ErrTransport) {
		t.Errorf("closed server: %v", err)
	}
	logged, _ := afero.ReadFile(fs, "/warphttp.log")
	if !strings.Contains(string(logged), "[DEBUG] exchange") {
		t.Errorf("log file = %q", logged)
	}
}

func TestVaultRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	fs := afero.NewMemMapFs()
	if _, err := runApp(t, fs, "get", "--vault", srv.URL+"/login"); err != nil {
		t.Fatal(err)
	}
	out, err := runApp(t, fs, "get", "--vault", srv.URL+"/home")
	if err != nil || out != "cookie=sid=1" {
		t.Fatalf("vault cookie not sent: %q, %v", out, err)
	}

	out, err = runApp(t, fs, "cookies", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "127.0.0.1") || !strings.Contains(out, "sid") || strings.Contains(out, "sid=1") {
		t.Errorf("list = %q", out)
	}
	out, _ = runApp(t, fs, "cookies", "list", "--show-values")
	if !strings.Contains(out, "sid=1") {
		t.Errorf("list --show-values = %q", out)
	}

	if _, err := runApp(t, fs, "cookies", "delete", "127.0.0.1", "sid"); err != nil {
		t.Fatal(err)
	}
	out, _ = runApp(t, fs, "cookies", "list")
	if !strings.Contains(out, "0 cookies") {
		t.Errorf("after delete = %q", out)
	}
}

func TestCookiesImportAndClear(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "cookies.txt")
	content := fmt.Sprintf("# Netscape HTTP Cookie File\n.example.com\tTRUE\t/\tFALSE\t%d\tpref\tdark\nother.org\tFALSE\t/\tFALSE\t0\tx\ty\n",
		time.Now().Add(time.Hour).Unix())
	if err := os.WriteFile(store, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	fs := afero.NewMemMapFs()
	out, err := runApp(t, fs, "cookies", "import", "--domain", "example.com", store)
	if err != nil {
		t.Fatal(err)
	}
	if out != "imported 1 cookies from Netscape\n" {
		t.Errorf("import = %q", out)
	}
	out, _ = runApp(t, fs, "cookies", "list", "example.com")
	if !strings.Contains(out, "pref") || !strings.Contains(out, "1 cookies") {
		t.Errorf("list = %q", out)
	}

	if _, err := runApp(t, fs, "cookies", "clear"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.Exists(fs, "/cfg/cookies.vault"); ok {
		t.Error("vault survived clear")
	}
}

func TestMulti(t *testing.T) {
	srv := newTestServer(t)
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/urls.txt", []byte("# more\n"+srv.URL+"/b\n\n"), 0o644)

	out, err := runApp(t, fs, "multi", "--no-progress", "-O", "/out", "-F", "/urls.txt", srv.URL+"/a")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, " 200 ") != 2 {
		t.Errorf("summary = %q", out)
	}
	entries, _ := afero.ReadDir(fs, "/out")
	var got []string
	for _, e := range entries {
		b, _ := afero.ReadFile(fs, "/out/"+e.Name())
		got = append(got, e.Name()+"="+string(b))
	}
	if len(got) != 2 || !strings.HasSuffix(got[0], "_a=alpha") || !strings.HasSuffix(got[1], "_b=bravo") {
		t.Errorf("saved bodies = %v", got)
	}
}

func TestMultiReportsFailures(t *testing.T) {
	srv := newTestServer(t)
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	out, err := runApp(t, afero.NewMemMapFs(), "multi", "--no-progress", "-O", "/out", srv.URL+"/a", dead.URL+"/x")
	if !errors.Is(err, warphttp.ErrTransport) {
		t.Errorf("err = %v", err)
	}
	if !strings.Contains(out, "ERR") || !strings.Contains(out, " 200 ") {
		t.Errorf("summary = %q", out)
	}
}

func TestParseInputFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/ok", []byte("  https://a\n#c\n\nhttps://b\r\n"), 0o644)
	afero.WriteFile(fs, "/empty", []byte("# nothing\n"), 0o644)

	urls, err := ParseInputFile(fs, "/ok")
	if err != nil || len(urls) != 2 || urls[0] != "https://a" || urls[1] != "https://b" {
		t.Errorf("ParseInputFile = %q, %v", urls, err)
	}
	if _, err := ParseInputFile(fs, "/empty"); !errors.Is(err, ErrInputFileEmpty) {
		t.Errorf("empty file: %v", err)
	}
	_, err = ParseInputFile(fs, "/missing")
	var ie *InputFileError
	if !errors.Is(err, ErrInputFileNotFound) || !errors.As(err, &ie) || ie.Path != "/missing" {
		t.Errorf("missing file: %v", err)
	}
}

func TestBodyFileName(t *testing.T) {
	tests := []struct {
		i    int
		url  string
		want string
	}{
		{0, "https://example.com/files/a.zip?x=1", "001_example.com_files_a.zip"},
		{11, "http://127.0.0.1:8080/", "012_127.0.0.1_8080"},
		{2, "", "003_response"},
	}
	for _, tt := range tests {
		if got := bodyFileName(tt.i, tt.url); got != tt.want {
			t.Errorf("bodyFileName(%d, %q) = %q, want %q", tt.i, tt.url, got, tt.want)
		}
	}
}

func TestVersion(t *testing.T) {
	if _, err := runApp(t, afero.NewMemMapFs(), "version"); err != nil {
		t.Fatal(err)
	}
}
