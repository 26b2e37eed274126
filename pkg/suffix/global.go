package suffix

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/publicsuffix"
)

// The process-wide list is loaded at most once and published atomically so
// concurrent jars read it without locking.
var (
	initMu   sync.Mutex
	initDone bool
	initErr  error
	current  atomic.Pointer[List]
)

// Init loads the process-wide list from src. Only the first call does any
// work; later calls return the first outcome until Reset.
func Init(ctx context.Context, src Source) error {
	initMu.Lock()
	defer initMu.Unlock()
	if initDone {
		return initErr
	}
	l, err := Load(ctx, src)
	initDone = true
	initErr = err
	if err == nil {
		current.Store(l)
	}
	return err
}

// Set publishes l as the process-wide list, replacing any previous one.
func Set(l *List) {
	initMu.Lock()
	defer initMu.Unlock()
	initDone = true
	initErr = nil
	current.Store(l)
}

// Reset forgets the process-wide list so Init may load again.
func Reset() {
	initMu.Lock()
	defer initMu.Unlock()
	initDone = false
	initErr = nil
	current.Store(nil)
}

// Default returns the process-wide list and whether one is loaded.
func Default() (*List, bool) {
	l := current.Load()
	return l, l != nil
}

// Lookup queries the process-wide list.
func Lookup(domain string) (isSuffix, loaded bool) {
	return current.Load().Lookup(domain)
}

type global struct{}

func (global) Lookup(domain string) (bool, bool) { return Lookup(domain) }

// Global is a Checker backed by the process-wide list loaded with Init.
var Global Checker = global{}

type builtin struct{}

// Lookup consults the list compiled into golang.org/x/net/publicsuffix.
// Single unlisted labels such as "localhost" are not treated as suffixes.
func (builtin) Lookup(domain string) (bool, bool) {
	domain = strings.ToLower(strings.Trim(domain, "."))
	if domain == "" {
		return false, true
	}
	ps, icann := publicsuffix.PublicSuffix(domain)
	if ps != domain {
		return false, true
	}
	return icann || strings.Contains(ps, "."), true
}

// Builtin is a Checker that needs no rule file. It is always loaded.
var Builtin Checker = builtin{}
