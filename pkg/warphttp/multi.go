package warphttp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/warpdl/warphttp/pkg/logger"
)

// InfoKey selects a per-handle value returned by Multi.Info.
type InfoKey int

const (
	InfoHTTPCode InfoKey = iota
	InfoEffectiveURL
)

var handleSeq atomic.Uint64

// Handle is one hop registered with a Multi. A handle belongs to at most
// one Multi at a time; re-adding a removed handle restarts it cleanly.
type Handle struct {
	id     uint64
	req    *Request
	follow bool

	owner  *Multi
	gen    uint64
	cancel context.CancelFunc
	state  handleState

	resp *Response
	err  error
}

type handleState int

const (
	handleIdle handleState = iota
	handleQueued
	handleRunning
	handleDone
)

// NewHandle creates a handle for req. follow lets the transport follow
// redirects on its own.
func NewHandle(req *Request, follow bool) *Handle {
	return &Handle{id: handleSeq.Add(1), req: req, follow: follow}
}

// Reset points an unregistered handle at a new request.
func (h *Handle) Reset(req *Request, follow bool) error {
	if h.owner != nil {
		return ErrHandleBusy
	}
	h.req, h.follow = req, follow
	h.resp, h.err = nil, nil
	h.state = handleIdle
	return nil
}

// Request returns the request the handle sends.
func (h *Handle) Request() *Request { return h.req }

// Response returns the response of a finished handle.
func (h *Handle) Response() *Response { return h.resp }

// Err returns the transport error of a finished handle.
func (h *Handle) Err() error { return h.err }

func (h *Handle) String() string { return "handle#" + strconv.FormatUint(h.id, 10) }

type completion struct {
	h    *Handle
	gen  uint64
	resp *Response
	err  error
}

// Multi runs many handles concurrently over one Transport. Perform starts
// queued handles and collects finished ones, Wait blocks until something
// finishes and Read hands finished handles back one at a time.
//
// Add, Remove and Wait are safe to call from any goroutine.
type Multi struct {
	transport Transport
	log       logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	handles  map[*Handle]struct{}
	queued   []*Handle
	running  int
	finished []completion
	ready    []*Handle
	closed   bool

	notify chan struct{}
}

// NewMulti creates a Multi over t.
func NewMulti(t Transport, l logger.Logger) *Multi {
	ctx, cancel := context.WithCancel(context.Background())
	return &Multi{
		transport: t,
		log:       logger.OrNop(l),
		ctx:       ctx,
		cancel:    cancel,
		handles:   make(map[*Handle]struct{}),
		notify:    make(chan struct{}, 1),
	}
}

func (m *Multi) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Add registers h. It starts on the next Perform.
func (m *Multi) Add(h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSchedulerClosed
	}
	if h.owner != nil {
		return ErrHandleBusy
	}
	h.owner = m
	h.gen++
	h.state = handleQueued
	h.resp, h.err = nil, nil
	m.handles[h] = struct{}{}
	m.queued = append(m.queued, h)
	m.wake()
	return nil
}

// Remove unregisters h, cancelling it when in flight. Its result, if any
// arrives later, is discarded.
func (m *Multi) Remove(h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.owner != m {
		return fmt.Errorf("%w: %s", ErrNotRegistered, h)
	}
	m.detach(h)
	m.wake()
	return nil
}

// Settle moves a result of h that arrived but was not collected yet onto
// the handle and reports whether h has finished. h stays registered.
func (m *Multi) Settle(h *Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.owner != m {
		return false
	}
	switch h.state {
	case handleDone:
		return true
	case handleRunning:
	default:
		return false
	}
	for i, c := range m.finished {
		if c.h != h || c.gen != h.gen {
			continue
		}
		m.finished = append(m.finished[:i], m.finished[i+1:]...)
		h.resp, h.err = c.resp, c.err
		h.state = handleDone
		h.cancel = nil
		m.running--
		m.ready = append(m.ready, h)
		return true
	}
	return false
}

func (m *Multi) detach(h *Handle) {
	switch h.state {
	case handleRunning:
		m.running--
		if h.cancel != nil {
			h.cancel()
		}
	case handleQueued:
		for i, q := range m.queued {
			if q == h {
				m.queued = append(m.queued[:i], m.queued[i+1:]...)
				break
			}
		}
	case handleDone:
		for i, r := range m.ready {
			if r == h {
				m.ready = append(m.ready[:i], m.ready[i+1:]...)
				break
			}
		}
	}
	h.cancel = nil
	h.owner = nil
	h.gen++
	delete(m.handles, h)
}

func (m *Multi) complete(c completion) {
	m.mu.Lock()
	m.finished = append(m.finished, c)
	m.mu.Unlock()
	m.wake()
}

// start launches h. Caller holds m.mu.
func (m *Multi) start(h *Handle) {
	ctx, cancel := context.WithCancel(m.ctx)
	h.cancel = cancel
	h.state = handleRunning
	m.running++
	gen, req, follow := h.gen, h.req, h.follow
	m.wg.Add(1)
	safeGo(m.log, &m.wg, h.String(), func(r interface{}) {
		cancel()
		m.complete(completion{h: h, gen: gen, err: fmt.Errorf("transport panic: %v", r)})
	}, func() {
		resp, err := m.transport.Do(ctx, req, follow)
		cancel()
		m.complete(completion{h: h, gen: gen, resp: resp, err: err})
	})
}

// Perform advances the multi by one step. Queued handles are started
// first and ErrCallPerform is returned so the caller collects right away;
// otherwise finished handles move to the read queue. The number of handles
// still in flight is returned either way.
func (m *Multi) Perform() (int, error) {
	// Anything signalled so far is handled below.
	select {
	case <-m.notify:
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queued) > 0 {
		for _, h := range m.queued {
			m.start(h)
		}
		m.queued = m.queued[:0]
		return m.running, ErrCallPerform
	}

	for _, c := range m.finished {
		h := c.h
		if h.owner != m || h.gen != c.gen || h.state != handleRunning {
			continue
		}
		h.resp, h.err = c.resp, c.err
		h.state = handleDone
		h.cancel = nil
		m.running--
		m.ready = append(m.ready, h)
	}
	m.finished = m.finished[:0]
	return m.running, nil
}

// Running returns the number of handles in flight.
func (m *Multi) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Wait blocks until a handle finishes, a handle is added or removed, or
// ctx is done. It returns at once when work is already pending or nothing
// is in flight.
func (m *Multi) Wait(ctx context.Context) error {
	m.mu.Lock()
	pending := len(m.queued) > 0 || len(m.finished) > 0
	idle := m.running == 0
	m.mu.Unlock()
	if pending || idle {
		select {
		case <-m.notify:
		default:
		}
		return nil
	}
	select {
	case <-m.notify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read pops the next finished handle, or nil. The handle stays registered
// until removed.
func (m *Multi) Read() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ready) == 0 {
		return nil
	}
	h := m.ready[0]
	m.ready = m.ready[1:]
	return h
}

// Content returns the raw response of a finished handle.
func (m *Multi) Content(h *Handle) []byte {
	if h.resp == nil {
		return nil
	}
	return h.resp.Raw()
}

// Info returns a value about a finished handle as a string.
func (m *Multi) Info(h *Handle, key InfoKey) string {
	if h.resp == nil {
		return ""
	}
	switch key {
	case InfoHTTPCode:
		return strconv.Itoa(h.resp.StatusCode())
	case InfoEffectiveURL:
		if h.resp.URL != nil {
			return h.resp.URL.String()
		}
		if h.req != nil && h.req.URL != nil {
			return h.req.URL.String()
		}
	}
	return ""
}

// Len returns the number of registered handles.
func (m *Multi) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Close cancels everything in flight, unregisters all handles and waits
// for the transport goroutines to return.
func (m *Multi) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for h := range m.handles {
		m.detach(h)
	}
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
	return nil
}
