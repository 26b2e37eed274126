package cookies

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/warpdl/warphttp/pkg/cookiejar"
	"github.com/warpdl/warphttp/pkg/warperr"
)

func TestImportFirefox(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).Unix()
	past := time.Now().Add(-time.Hour).Unix()
	db := createFirefoxDB(t, t.TempDir(), []row{
		{"sid", "abc", ".example.com", "/", future, 1, 1},
		{"lang", "en", "www.example.com", "/settings", future, 0, 0},
		{"old", "x", ".example.com", "/", past, 0, 0},
		{"other", "y", ".other.org", "/", future, 0, 0},
	})

	got, src, err := Import(db, "example.com", nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if src.Format != FormatFirefox || src.Path != db {
		t.Errorf("source = %+v", src)
	}
	if len(got) != 2 {
		t.Fatalf("got %d cookies: %+v", len(got), got)
	}
	byName := map[string]cookiejar.SetParams{}
	for _, c := range got {
		byName[c.Name] = c
	}
	if c := byName["sid"]; c.HostOnly || !c.Secure || !c.HTTPOnly || c.Expires.Unix() != future {
		t.Errorf("sid = %+v", c)
	}
	if c := byName["lang"]; !c.HostOnly || c.Path != "/settings" {
		t.Errorf("lang = %+v", c)
	}

	all, _, err := Import(db, "", nil)
	if err != nil || len(all) != 3 {
		t.Errorf("Import all = %d cookies, %v", len(all), err)
	}
}

func TestImportChrome(t *testing.T) {
	future := unixToChrome(time.Now().Add(24 * time.Hour).Unix())
	past := unixToChrome(time.Now().Add(-time.Hour).Unix())
	db := createChromeDB(t, t.TempDir(), []row{
		{"sid", "abc", ".example.com", "/", future, 1, 0},
		{"sess", "s", "example.com", "/", 0, 0, 1},
		{"enc", "", ".example.com", "/", future, 0, 0},
		{"old", "x", ".example.com", "/", past, 0, 0},
	})

	got, src, err := Import(db, "example.com", nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if src.Browser() != "Chrome" {
		t.Errorf("browser = %q", src.Browser())
	}
	if len(got) != 2 {
		t.Fatalf("got %d cookies: %+v", len(got), got)
	}
	for _, c := range got {
		switch c.Name {
		case "sid":
			if !c.Secure || c.Expires.IsZero() || c.Expires.Unix() != chromeToUnix(future) {
				t.Errorf("sid = %+v", c)
			}
		case "sess":
			if !c.Expires.IsZero() || !c.HTTPOnly || !c.HostOnly {
				t.Errorf("sess = %+v", c)
			}
		default:
			t.Errorf("unexpected cookie %q", c.Name)
		}
	}
}

func TestChromeEpoch(t *testing.T) {
	if chromeToUnix(unixToChrome(1_700_000_000)) != 1_700_000_000 {
		t.Error("chrome epoch conversion does not round trip")
	}
	if chromeToUnix(chromeEpochOffset*1_000_000) != 0 {
		t.Error("chrome epoch offset")
	}
}

func TestLoadInto(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	p := writeFile(t, t.TempDir(), "cookies.txt", fmt.Sprintf(
		"# Netscape HTTP Cookie File\n.example.com\tTRUE\t/\tFALSE\t%d\tsid\tabc\nexample.com\tFALSE\t/\tFALSE\t0\t\tnameless\n", future))

	j := cookiejar.New()
	n, src, err := LoadInto(j, p, "example.com", nil)
	if err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	if n != 1 || src.Format != FormatNetscape {
		t.Fatalf("stored %d from %+v", n, src)
	}
	u, _ := url.Parse("http://www.example.com/")
	if v, ok := j.Send(u); !ok || v != "sid=abc" {
		t.Errorf("Send = %q, %v", v, ok)
	}
}

func TestImportErrors(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Import(filepath.Join(dir, "missing"), "", nil); !errors.Is(err, warperr.ErrConfiguration) {
		t.Errorf("missing store: %v", err)
	}
	p := writeFile(t, dir, "junk", "not cookies")
	if _, _, err := Import(p, "", nil); !errors.Is(err, warperr.ErrConfiguration) {
		t.Errorf("junk store: %v", err)
	}
}
