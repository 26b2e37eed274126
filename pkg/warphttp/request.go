package warphttp

import (
	"net/http"
	"net/url"
)

// Request is one hop worth of request data.
type Request struct {
	Method  string
	URL     *url.URL
	Header  http.Header
	Body    []byte
	Referer string
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	c := *r
	if r.URL != nil {
		u := *r.URL
		if r.URL.User != nil {
			user := *r.URL.User
			u.User = &user
		}
		c.URL = &u
	}
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}
