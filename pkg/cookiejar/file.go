package cookiejar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// FileHeader is the comment written on the first line of a cookie file.
const FileHeader = "#warphttp cookies (EDIT AT YOUR OWN RISK)"

const sessionExpiry = -1

// Cookie file lines hold eight tab-separated fields.
const fileFields = 8

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Serialize writes the unexpired cookies as
//
//	domain	name	value	path	expiry	secure	httponly	hostonly
//
// one per line after FileHeader. expiry is a unix timestamp, or -1 for a
// session cookie.
func (j *Jar) Serialize(w io.Writer) error {
	j.mu.Lock()
	cookies := j.all(j.now())
	policy := j.session
	j.mu.Unlock()

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, FileHeader); err != nil {
		return err
	}
	for _, c := range cookies {
		expiry := int64(sessionExpiry)
		if c.IsSession() {
			if policy == SessionDiscardOnSave {
				continue
			}
		} else {
			expiry = c.Expires.Unix()
		}
		_, err := fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			c.Domain, c.Name, c.Value, c.Path, expiry,
			boolField(c.Secure), boolField(c.HTTPOnly), boolField(c.HostOnly))
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

func parseLine(line string, now time.Time) (Cookie, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != fileFields {
		return Cookie{}, fmt.Errorf("expected %d fields, got %d", fileFields, len(fields))
	}
	expiry, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return Cookie{}, fmt.Errorf("invalid expiry %q", fields[4])
	}
	flags := make([]bool, 3)
	for i, f := range fields[5:] {
		if flags[i], err = strconv.ParseBool(f); err != nil {
			return Cookie{}, fmt.Errorf("invalid flag %q", f)
		}
	}
	c := Cookie{
		Domain:     strings.ToLower(strings.TrimLeft(fields[0], ".")),
		Name:       fields[1],
		Value:      fields[2],
		Path:       fields[3],
		Secure:     flags[0],
		HTTPOnly:   flags[1],
		HostOnly:   flags[2],
		Created:    now,
		LastAccess: now,
	}
	if c.Domain == "" || c.Name == "" {
		return Cookie{}, fmt.Errorf("empty domain or name")
	}
	if expiry != sessionExpiry {
		c.Expires = time.Unix(expiry, 0).UTC()
	}
	return c, nil
}

// Deserialize merges the cookies of a file written by Serialize. Lines
// starting with "#" are comments. Malformed lines are skipped with a
// warning and expired records are dropped. Records read from the file count
// as created now, so only a stored cookie created later survives the merge.
func (j *Jar) Deserialize(r io.Reader) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	var batch []Cookie
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		c, err := parseLine(line, now)
		if err != nil {
			j.log.Warning("cookiejar: skipping line %d: %v", lineNo, err)
			continue
		}
		batch = append(batch, c)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	j.merge(batch, now)
	return nil
}

// Save writes the jar to path on fs atomically: the data goes to a
// temporary file in the same directory which is then renamed over path.
func (j *Jar) Save(fs afero.Fs, path string) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	tmp, err := afero.TempFile(fs, dir, ".cookies-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := j.Serialize(tmp); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("write cookies: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fs.Chmod(tmpName, 0o600); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("rename cookie file: %w", err)
	}
	return nil
}

// Load merges the cookie file at path on fs. The returned error matches
// os.ErrNotExist when the file is missing.
func (j *Jar) Load(fs afero.Fs, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return j.Deserialize(f)
}

// LoadIfExists is Load that treats a missing file as an empty one.
func (j *Jar) LoadIfExists(fs afero.Fs, path string) error {
	err := j.Load(fs, path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
