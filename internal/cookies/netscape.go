package cookies

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/warpdl/warphttp/pkg/cookiejar"
	"github.com/warpdl/warphttp/pkg/logger"
)

const httpOnlyPrefix = "#HttpOnly_"

// Netscape lines hold seven tab-separated fields:
//
//	domain	subdomains	path	secure	expiry	name	value
const netscapeFields = 7

// parseNetscape reads a Netscape cookie file. Comment lines are skipped
// except for the #HttpOnly_ prefix written by curl. Malformed lines are
// skipped with a warning. An expiry of 0 marks a session cookie.
func parseNetscape(r io.Reader, domain string, now time.Time, l logger.Logger) ([]cookiejar.SetParams, error) {
	var out []cookiejar.SetParams
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = line[len(httpOnlyPrefix):]
		} else if line[0] == '#' {
			continue
		}

		f := strings.Split(line, "\t")
		if len(f) != netscapeFields {
			l.Warning("cookies: skipping malformed line %d", n)
			continue
		}
		expiry, err := strconv.ParseInt(f[4], 10, 64)
		if err != nil {
			l.Warning("cookies: skipping line %d: bad expiry %q", n, f[4])
			continue
		}
		if !matchesDomain(f[0], domain) {
			continue
		}
		var expires time.Time
		if expiry > 0 {
			expires = time.Unix(expiry, 0)
			if !expires.After(now) {
				continue
			}
		}
		out = append(out, cookiejar.SetParams{
			Name:     f[5],
			Value:    f[6],
			Domain:   f[0],
			Path:     f[2],
			HostOnly: !strings.EqualFold(f[1], "TRUE"),
			Secure:   strings.EqualFold(f[3], "TRUE"),
			HTTPOnly: httpOnly,
			Expires:  expires,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read Netscape cookie file: %w", err)
	}
	return out, nil
}

// matchesDomain reports whether a stored cookie domain belongs to domain
// or one of its subdomains. An empty domain matches everything.
func matchesDomain(cookieDomain, domain string) bool {
	if domain == "" {
		return true
	}
	cd := strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	domain = strings.ToLower(domain)
	return cd == domain || strings.HasSuffix(cd, "."+domain)
}
