package cookies

import (
	"fmt"
	"os"
	"time"

	"github.com/warpdl/warphttp/pkg/cookiejar"
	"github.com/warpdl/warphttp/pkg/logger"
)

// Import reads the cookies of the store at path, keeping those that belong
// to domain or its subdomains. An empty domain keeps every cookie.
// Expired cookies are dropped.
func Import(path, domain string, l logger.Logger) ([]cookiejar.SetParams, *Source, error) {
	l = logger.OrNop(l)
	format, err := DetectFormat(path)
	if err != nil {
		return nil, nil, err
	}
	src := &Source{Path: path, Format: format}
	now := time.Now()

	var out []cookiejar.SetParams
	switch format {
	case FormatFirefox:
		out, err = importSQLite(path, domain, firefoxSchema, now)
	case FormatChrome:
		out, err = importSQLite(path, domain, chromeSchema, now)
	case FormatNetscape:
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open Netscape cookie file: %w", err)
		}
		out, err = parseNetscape(f, domain, now, l)
		f.Close()
	}
	if err != nil {
		return nil, nil, err
	}
	for _, c := range out {
		l.Debug("cookies: %s %s from %s", c.Domain, c.Name, src.Browser())
	}
	return out, src, nil
}

func importSQLite(path, domain string, s storeSchema, now time.Time) ([]cookiejar.SetParams, error) {
	copied, cleanup, err := snapshot(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return readSQLite(copied, domain, s, now)
}

// LoadInto imports the store at path into j and returns how many cookies
// were stored.
func LoadInto(j *cookiejar.Jar, path, domain string, l logger.Logger) (int, *Source, error) {
	params, src, err := Import(path, domain, l)
	if err != nil {
		return 0, nil, err
	}
	n := 0
	for _, p := range params {
		if err := j.Set(p); err != nil {
			logger.OrNop(l).Warning("cookies: skipping %q: %v", p.Name, err)
			continue
		}
		n++
	}
	return n, src, nil
}
