package cookies

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/warpdl/warphttp/pkg/cookiejar"
	_ "modernc.org/sqlite"
)

// chromeEpochOffset is the number of seconds between 1601-01-01 UTC and
// the unix epoch.
const chromeEpochOffset int64 = 11_644_473_600

func chromeToUnix(usec int64) int64 {
	return usec/1_000_000 - chromeEpochOffset
}

func unixToChrome(sec int64) int64 {
	return (sec + chromeEpochOffset) * 1_000_000
}

// storeSchema maps a browser table onto the columns the importer reads.
// Every query selects name, value, host, path, expiry, secure, httponly
// and takes (host, .host, %.host, now) as arguments.
type storeSchema struct {
	name     string
	query    string
	queryAll string
	// now converts the current unix time to the store's expiry unit.
	now func(int64) int64
	// expires converts a stored expiry back to a time. Zero means session.
	expires func(int64) time.Time
}

var firefoxSchema = storeSchema{
	name: "Firefox",
	query: `SELECT name, value, host, path, expiry, isSecure, isHttpOnly
		FROM moz_cookies
		WHERE (host = ? OR host = ? OR host LIKE ?) AND expiry > ?
		ORDER BY host, path DESC, name`,
	queryAll: `SELECT name, value, host, path, expiry, isSecure, isHttpOnly
		FROM moz_cookies
		WHERE expiry > ?
		ORDER BY host, path DESC, name`,
	now: func(sec int64) int64 { return sec },
	expires: func(v int64) time.Time {
		return time.Unix(v, 0)
	},
}

// Chrome marks session cookies with expires_utc 0.
var chromeSchema = storeSchema{
	name: "Chrome",
	query: `SELECT name, value, host_key, path, expires_utc, is_secure, is_httponly
		FROM cookies
		WHERE (host_key = ? OR host_key = ? OR host_key LIKE ?)
		  AND value != '' AND (expires_utc = 0 OR expires_utc > ?)
		ORDER BY host_key, path DESC, name`,
	queryAll: `SELECT name, value, host_key, path, expires_utc, is_secure, is_httponly
		FROM cookies
		WHERE value != '' AND (expires_utc = 0 OR expires_utc > ?)
		ORDER BY host_key, path DESC, name`,
	now: unixToChrome,
	expires: func(v int64) time.Time {
		if v == 0 {
			return time.Time{}
		}
		return time.Unix(chromeToUnix(v), 0)
	},
}

// readSQLite reads the cookies of a copied browser database. An empty
// domain reads every unexpired cookie.
func readSQLite(dbPath, domain string, s storeSchema, now time.Time) ([]cookiejar.SetParams, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?immutable=1", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open %s cookie database: %w", s.name, err)
	}
	defer db.Close()

	cutoff := s.now(now.Unix())
	var rows *sql.Rows
	if domain == "" {
		rows, err = db.Query(s.queryAll, cutoff)
	} else {
		rows, err = db.Query(s.query, domain, "."+domain, "%."+domain, cutoff)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s cookies: %w", s.name, err)
	}
	defer rows.Close()

	var out []cookiejar.SetParams
	for rows.Next() {
		var (
			name, value, host, path string
			expiry                  int64
			secure, httpOnly        int
		)
		if err := rows.Scan(&name, &value, &host, &path, &expiry, &secure, &httpOnly); err != nil {
			return nil, fmt.Errorf("scan %s cookie: %w", s.name, err)
		}
		out = append(out, cookiejar.SetParams{
			Name:     name,
			Value:    value,
			Domain:   host,
			Path:     path,
			HostOnly: !hasLeadingDot(host),
			Secure:   secure != 0,
			HTTPOnly: httpOnly != 0,
			Expires:  s.expires(expiry),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s cookies: %w", s.name, err)
	}
	return out, nil
}

func hasLeadingDot(host string) bool {
	return len(host) > 0 && host[0] == '.'
}
