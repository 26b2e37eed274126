package warphttp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// ExecMode selects which part of a response Exec returns.
type ExecMode int

const (
	ExecBody        ExecMode = 1
	ExecHeaders     ExecMode = 2
	ExecHeadersBody ExecMode = ExecBody | ExecHeaders
)

func (m ExecMode) valid() bool {
	return m == ExecBody || m == ExecHeaders || m == ExecHeadersBody
}

func (m ExecMode) String() string {
	switch m {
	case ExecBody:
		return "body"
	case ExecHeaders:
		return "headers"
	case ExecHeadersBody:
		return "headers+body"
	}
	return "ExecMode(" + strconv.Itoa(int(m)) + ")"
}

// ParseExecMode maps "body", "headers" and "headers+body" (or "all") to a mode.
func ParseExecMode(s string) (ExecMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "body":
		return ExecBody, nil
	case "headers":
		return ExecHeaders, nil
	case "headers+body", "all":
		return ExecHeadersBody, nil
	}
	return 0, &ConfigurationError{Field: "exec mode", Reason: fmt.Sprintf("unknown mode %q", s)}
}

var errMalformedResponse = errors.New("malformed response")

// HeaderBlock is one status line plus headers. A response carries several
// blocks when interim (1xx) responses or transport-followed redirects
// precede the final one.
type HeaderBlock struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     http.Header
	// URL the block was received from, when known.
	URL *url.URL

	raw []byte
}

// Raw returns the block as it appeared on the wire, terminated by an empty line.
func (b *HeaderBlock) Raw() []byte {
	if b.raw != nil {
		return b.raw
	}
	var buf bytes.Buffer
	proto := b.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	fmt.Fprintf(&buf, "%s %d %s\r\n", proto, b.StatusCode, b.Reason)
	b.Header.Write(&buf)
	buf.WriteString("\r\n")
	b.raw = buf.Bytes()
	return b.raw
}

// Response is the outcome of one hop.
type Response struct {
	Blocks []HeaderBlock
	Body   []byte
	// URL is the effective URL of the final block.
	URL *url.URL
}

func (r *Response) final() *HeaderBlock {
	if r == nil || len(r.Blocks) == 0 {
		return nil
	}
	return &r.Blocks[len(r.Blocks)-1]
}

// StatusCode returns the status of the final block, or 0 for an empty response.
func (r *Response) StatusCode() int {
	if b := r.final(); b != nil {
		return b.StatusCode
	}
	return 0
}

// Header returns the headers of the final block.
func (r *Response) Header() http.Header {
	if b := r.final(); b != nil {
		return b.Header
	}
	return http.Header{}
}

// Headers returns every header block concatenated.
func (r *Response) Headers() []byte {
	var buf bytes.Buffer
	for i := range r.Blocks {
		buf.Write(r.Blocks[i].Raw())
	}
	return buf.Bytes()
}

// Raw returns the header blocks followed by the body.
func (r *Response) Raw() []byte {
	return append(r.Headers(), r.Body...)
}

// View returns the part of r selected by mode. An unknown mode yields the body.
func (r *Response) View(mode ExecMode) []byte {
	if r == nil {
		return nil
	}
	switch mode {
	case ExecHeaders:
		return bytes.TrimSpace(r.Headers())
	case ExecHeadersBody:
		return r.Raw()
	}
	return r.Body
}

// Text decodes the body to UTF-8 using the Content-Type charset, sniffing
// the content when none is declared.
func (r *Response) Text() (string, error) {
	rd, err := charset.NewReader(bytes.NewReader(r.Body), r.Header().Get("Content-Type"))
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func headerEnd(b []byte) int {
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	lf := bytes.Index(b, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf <= lf):
		return crlf + 4
	case lf >= 0:
		return lf + 2
	}
	return -1
}

func parseBlock(b []byte) (HeaderBlock, error) {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(b)))
	line, err := tp.ReadLine()
	if err != nil {
		return HeaderBlock{}, fmt.Errorf("%w: status line: %v", errMalformedResponse, err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return HeaderBlock{}, fmt.Errorf("%w: status line %q", errMalformedResponse, line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return HeaderBlock{}, fmt.Errorf("%w: status code %q", errMalformedResponse, parts[1])
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return HeaderBlock{}, fmt.Errorf("%w: headers: %v", errMalformedResponse, err)
	}
	blk := HeaderBlock{
		Proto:      parts[0],
		StatusCode: code,
		Header:     http.Header(hdr),
		raw:        append([]byte(nil), b...),
	}
	if blk.Header == nil {
		blk.Header = http.Header{}
	}
	if len(parts) == 3 {
		blk.Reason = parts[2]
	}
	return blk, nil
}

// ParseResponse splits raw response bytes into header blocks and a body.
// Consecutive blocks are collected as long as the remaining data starts
// with a status line.
func ParseResponse(raw []byte) (*Response, error) {
	resp := &Response{}
	rest := raw
	for bytes.HasPrefix(rest, []byte("HTTP/")) {
		end := headerEnd(rest)
		if end < 0 {
			end = len(rest)
		}
		blk, err := parseBlock(rest[:end])
		if err != nil {
			return nil, err
		}
		resp.Blocks = append(resp.Blocks, blk)
		rest = rest[end:]
	}
	if len(resp.Blocks) == 0 {
		return nil, fmt.Errorf("%w: no status line", errMalformedResponse)
	}
	resp.Body = append([]byte(nil), rest...)
	return resp, nil
}
