package cookies

import (
	"bufio"
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/warpdl/warphttp/pkg/warperr"
	_ "modernc.org/sqlite"
)

var sqliteMagic = []byte("SQLite format 3\x00")

// DetectFormat reports the cookie store format of the file at path.
func DetectFormat(path string) (Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FormatUnknown, warperr.NewConfigurationError("cookie store", fmt.Sprintf("%s not found", path))
	}
	if info.IsDir() {
		return FormatUnknown, warperr.NewConfigurationError("cookie store", fmt.Sprintf("%s is a directory", path))
	}
	if info.Size() == 0 {
		return FormatUnknown, warperr.NewConfigurationError("cookie store", fmt.Sprintf("%s is empty", path))
	}

	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("open cookie store: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, err := br.Peek(len(sqliteMagic))
	if err == nil && bytes.Equal(head, sqliteMagic) {
		return detectSQLite(path)
	}
	first, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return FormatUnknown, fmt.Errorf("read cookie store: %w", err)
	}
	switch strings.TrimRight(first, "\r\n") {
	case "# Netscape HTTP Cookie File", "# HTTP Cookie File":
		return FormatNetscape, nil
	}
	return FormatUnknown, unsupported(path)
}

func detectSQLite(path string) (Format, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return FormatUnknown, fmt.Errorf("open SQLite database: %w", err)
	}
	defer db.Close()

	for _, t := range []struct {
		table  string
		format Format
	}{
		{"moz_cookies", FormatFirefox},
		{"cookies", FormatChrome},
	} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, t.table).Scan(&name)
		if err == nil {
			return t.format, nil
		}
	}
	return FormatUnknown, unsupported(path)
}

func unsupported(path string) error {
	return warperr.NewConfigurationError("cookie store", fmt.Sprintf("unsupported schema at %s", path))
}
