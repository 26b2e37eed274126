// Package suffix answers whether a domain is a public suffix, i.e. a domain
// under which unrelated parties register names ("com", "co.uk", "*.ck").
//
// Rules use the publicsuffix.org list format: one rule per line, "//"
// comments, "*" wildcard labels and "!label" exceptions. Rules are stored
// as a tree keyed by labels read right to left.
package suffix

import (
	"bufio"
	"io"
	"strings"

	"github.com/warpdl/warphttp/pkg/warperr"
)

const (
	wildcard        = "*"
	exceptionPrefix = "!"
)

type node map[string]node

// List is an immutable public suffix rule tree.
type List struct {
	root  node
	rules int
}

// Checker reports whether domain is a public suffix. loaded is false when
// no rule set is available and the answer carries no information.
type Checker interface {
	Lookup(domain string) (isSuffix, loaded bool)
}

// Parse reads a rule file. A source with no rules is a configuration error
// since an empty list would silently accept supercookies.
func Parse(r io.Reader) (*List, error) {
	l := &List{root: node{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			line = line[:i]
		}
		l.add(strings.ToLower(line))
	}
	if err := sc.Err(); err != nil {
		return nil, &warperr.ConfigurationError{Field: "suffix source", Reason: "read failed", Cause: err}
	}
	if l.rules == 0 {
		return nil, warperr.NewConfigurationError("suffix source", "no rules found")
	}
	return l, nil
}

func (l *List) add(rule string) {
	labels := strings.Split(strings.Trim(rule, "."), ".")
	cur := l.root
	for i := len(labels) - 1; i >= 0; i-- {
		next, ok := cur[labels[i]]
		if !ok {
			next = node{}
			cur[labels[i]] = next
		}
		cur = next
	}
	l.rules++
}

// Len returns the number of rules parsed.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return l.rules
}

// IsPublicSuffix walks the labels of domain from the right. At each level a
// wildcard child is followed unless an exception names the label, otherwise
// the exact child is followed. Running out of tree with labels left means
// domain is registrable; consuming every label means it is a public suffix.
func (l *List) IsPublicSuffix(domain string) bool {
	domain = strings.ToLower(strings.Trim(domain, "."))
	if l == nil || domain == "" {
		return false
	}
	labels := strings.Split(domain, ".")
	cur := l.root
	for i := len(labels) - 1; i >= 0; i-- {
		if len(cur) == 0 {
			return false
		}
		label := labels[i]
		_, hasWildcard := cur[wildcard]
		_, excepted := cur[exceptionPrefix+label]
		exact, hasExact := cur[label]
		switch {
		case hasWildcard && !excepted:
			cur = cur[wildcard]
		case hasExact:
			cur = exact
		default:
			return false
		}
	}
	return true
}

// Lookup implements Checker. A nil list reports not loaded.
func (l *List) Lookup(domain string) (isSuffix, loaded bool) {
	if l == nil {
		return false, false
	}
	return l.IsPublicSuffix(domain), true
}

var _ Checker = (*List)(nil)
