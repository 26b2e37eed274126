package cookiejar

import (
	"net/http"
	"net/url"
)

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	h := http.Header{}
	for _, c := range cookies {
		if v := c.String(); v != "" {
			h.Add("Set-Cookie", v)
		}
	}
	j.Receive(h, u)
}

// Cookies implements http.CookieJar. Cookies come back in Send order.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	cs := j.matching(u, j.now())
	if len(cs) == 0 {
		return nil
	}
	out := make([]*http.Cookie, len(cs))
	for i, c := range cs {
		out[i] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
	return out
}

var _ http.CookieJar = (*Jar)(nil)
