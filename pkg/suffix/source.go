package suffix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"github.com/warpdl/warphttp/pkg/warperr"
)

// DefaultURL is the canonical location of the public suffix list.
const DefaultURL = "https://publicsuffix.org/list/public_suffix_list.dat"

// DEF_FETCH_TIMEOUT bounds a URLSource fetch when the client has no timeout.
const DEF_FETCH_TIMEOUT = 30 * time.Second

// Source yields a rule file.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// FileSource reads rules from Path on Fs. A nil Fs means the OS filesystem.
type FileSource struct {
	Fs   afero.Fs
	Path string
}

func (s FileSource) Open(_ context.Context) (io.ReadCloser, error) {
	fs := s.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	f, err := fs.Open(s.Path)
	if err != nil {
		return nil, &warperr.ConfigurationError{Field: "suffix source", Reason: "cannot open " + s.Path, Cause: err}
	}
	return f, nil
}

func (s FileSource) String() string { return "file:" + s.Path }

// URLSource downloads rules with Client, or a client limited to
// DEF_FETCH_TIMEOUT when nil.
type URLSource struct {
	Client *http.Client
	URL    string
}

func (s URLSource) Open(ctx context.Context) (io.ReadCloser, error) {
	u := s.URL
	if u == "" {
		u = DefaultURL
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: DEF_FETCH_TIMEOUT}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &warperr.ConfigurationError{Field: "suffix source", Reason: "bad url", Cause: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &warperr.ConfigurationError{Field: "suffix source", Reason: "fetch failed", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, warperr.NewConfigurationError("suffix source", fmt.Sprintf("fetch %s: status %d", u, resp.StatusCode))
	}
	return resp.Body, nil
}

func (s URLSource) String() string {
	if s.URL == "" {
		return DefaultURL
	}
	return s.URL
}

// BytesSource serves rules held in memory, mostly for tests and embedding.
type BytesSource []byte

func (s BytesSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s)), nil
}

func (s BytesSource) String() string { return "memory" }

// Load opens src and parses it.
func Load(ctx context.Context, src Source) (*List, error) {
	if src == nil {
		return nil, warperr.NewConfigurationError("suffix source", "nil source")
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Parse(rc)
}
