package warphttp

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// OptionKey names a setting accepted by Exchange.Set. The set is closed:
// unknown keys are configuration errors.
type OptionKey string

const (
	OptURL             OptionKey = "url"
	OptMethod          OptionKey = "method"
	OptPost            OptionKey = "post"
	OptBody            OptionKey = "postfields"
	OptHeader          OptionKey = "httpheader"
	OptReferer         OptionKey = "referer"
	OptAutoReferer     OptionKey = "autoreferer"
	OptFollowLocation  OptionKey = "followlocation"
	OptManualRedirects OptionKey = "manual_redirects"
	OptMaxRedirects    OptionKey = "maxredirs"
	OptPreserveMethod  OptionKey = "preserve_method"
	OptResolveMode     OptionKey = "resolve_mode"
	OptExecMode        OptionKey = "exec_mode"
	OptCookies         OptionKey = "cookies"
	OptCookieFile      OptionKey = "cookiefile"
	OptCookieJar       OptionKey = "cookiejar"
	OptLockResponse    OptionKey = "lock_response"
)

var knownOptions = map[OptionKey]bool{
	OptURL: true, OptMethod: true, OptPost: true, OptBody: true, OptHeader: true,
	OptReferer: true, OptAutoReferer: true, OptFollowLocation: true,
	OptManualRedirects: true, OptMaxRedirects: true, OptPreserveMethod: true,
	OptResolveMode: true, OptExecMode: true, OptCookies: true, OptCookieFile: true,
	OptCookieJar: true, OptLockResponse: true,
}

// ParseOptionKey validates a key given as text, case-insensitively.
func ParseOptionKey(s string) (OptionKey, error) {
	k := OptionKey(strings.ToLower(strings.TrimSpace(s)))
	if !knownOptions[k] {
		return "", &ConfigurationError{Field: "option", Reason: fmt.Sprintf("unknown option %q", s)}
	}
	return k, nil
}

// OptionKeys lists every accepted key in sorted order.
func OptionKeys() []OptionKey {
	keys := make([]OptionKey, 0, len(knownOptions))
	for k := range knownOptions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// OptionKeyNames is OptionKeys as plain strings.
func OptionKeyNames() []string {
	keys := OptionKeys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	return names
}

// Options is the full configuration of an Exchange.
type Options struct {
	URL     string
	Method  string
	Body    []byte
	Header  http.Header
	Referer string
	// Follow enables redirect following.
	Follow bool
	// ManualRedirects walks redirects hop by hop even without a cookie jar.
	ManualRedirects bool
	Redirect        RedirectPolicy
	ExecMode        ExecMode
	// CookieFile is the cookie file loaded into the jar.
	CookieFile string
	// CookieJarFile is where Close saves the jar.
	CookieJarFile string
	// LockResponse keeps the cached response across option changes.
	LockResponse bool

	methodExplicit bool
}

// DefaultOptions returns the options of a new exchange.
func DefaultOptions() Options {
	return Options{
		Header:   http.Header{},
		Follow:   true,
		Redirect: DefaultRedirectPolicy(),
		ExecMode: ExecBody,
	}
}

func (o Options) clone() Options {
	c := o
	c.Header = o.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	if o.Body != nil {
		c.Body = append([]byte(nil), o.Body...)
	}
	c.Redirect = o.Redirect.clone()
	return c
}

func optionTypeError(key OptionKey, want string, v interface{}) error {
	return &ConfigurationError{Field: string(key), Reason: fmt.Sprintf("want %s, got %T", want, v)}
}

func asBool(key OptionKey, v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, &ConfigurationError{Field: string(key), Reason: fmt.Sprintf("not a boolean: %q", t)}
		}
		return b, nil
	}
	return false, optionTypeError(key, "bool", v)
}

func asInt(key OptionKey, v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, &ConfigurationError{Field: string(key), Reason: fmt.Sprintf("not an integer: %q", t)}
		}
		return n, nil
	}
	return 0, optionTypeError(key, "int", v)
}

func asString(key OptionKey, v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	}
	return "", optionTypeError(key, "string", v)
}

func asBytes(key OptionKey, v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case nil:
		return nil, nil
	}
	return nil, optionTypeError(key, "[]byte or string", v)
}

func asInts(key OptionKey, v interface{}) ([]int, error) {
	switch t := v.(type) {
	case []int:
		return t, nil
	case int:
		return []int{t}, nil
	case string:
		var out []int
		for _, f := range strings.Split(t, ",") {
			if f = strings.TrimSpace(f); f == "" {
				continue
			}
			n, err := strconv.Atoi(f)
			if err != nil {
				return nil, &ConfigurationError{Field: string(key), Reason: fmt.Sprintf("not a status list: %q", t)}
			}
			out = append(out, n)
		}
		return out, nil
	}
	return nil, optionTypeError(key, "[]int", v)
}

// parseHeaderLine splits "Name: value". A bare "Name:" yields an empty value.
func parseHeaderLine(line string) (string, string, bool) {
	name, value, ok := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", false
	}
	return http.CanonicalHeaderKey(name), strings.TrimSpace(value), true
}

func asHeader(key OptionKey, v interface{}) (http.Header, error) {
	h := http.Header{}
	switch t := v.(type) {
	case http.Header:
		return t.Clone(), nil
	case map[string]string:
		for k, val := range t {
			h.Set(k, strings.TrimSpace(val))
		}
	case []string:
		for _, line := range t {
			name, value, ok := parseHeaderLine(line)
			if !ok {
				return nil, &ConfigurationError{Field: string(key), Reason: fmt.Sprintf("malformed header %q", line)}
			}
			h.Add(name, value)
		}
	case string:
		return asHeader(key, []string{t})
	default:
		return nil, optionTypeError(key, "http.Header", v)
	}
	return h, nil
}
