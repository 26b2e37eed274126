package warphttp

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/warpdl/warphttp/pkg/logger"
)

// Scheduler runs many exchanges concurrently. Exchanges that follow
// redirects hop by hop are walked through their chains, one Multi handle
// per exchange re-registered for every hop.
//
// Add, Remove, Refresh and Close are safe to call from completion hooks
// and from other goroutines while Run is in progress.
type Scheduler struct {
	multi           *Multi
	log             logger.Logger
	implicitRefresh bool
	onComplete      func(*Exchange)

	mu       sync.Mutex
	members  []*Exchange
	flights  map[*Exchange]*flight
	byHandle map[*Handle]*flight
	running  bool
	closed   bool
}

// flight is the in-progress execution of one member.
type flight struct {
	e        *Exchange
	w        *walk
	req      *Request
	follow   bool
	h        *Handle
	inflight bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(l logger.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = logger.OrNop(l) }
}

// WithImplicitRefresh controls whether changing an option of a member
// outside of Run schedules it again. It is on by default.
func WithImplicitRefresh(on bool) SchedulerOption {
	return func(s *Scheduler) { s.implicitRefresh = on }
}

// WithCompletionHook is OnComplete as an option.
func WithCompletionHook(fn func(*Exchange)) SchedulerOption {
	return func(s *Scheduler) { s.onComplete = fn }
}

// NewScheduler creates a scheduler sending every hop through t, or through
// DefaultTransport when t is nil.
func NewScheduler(t Transport, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		log:             logger.NewNopLogger(),
		implicitRefresh: true,
		flights:         make(map[*Exchange]*flight),
		byHandle:        make(map[*Handle]*flight),
	}
	for _, opt := range opts {
		opt(s)
	}
	if t == nil {
		t = DefaultTransport()
	}
	s.multi = NewMulti(t, s.log)
	return s
}

// OnComplete sets the function called, outside of any lock, each time a
// member finishes during Run.
func (s *Scheduler) OnComplete(fn func(*Exchange)) {
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

// Add registers e. It runs on the next Run.
func (s *Scheduler) Add(e *Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newPolicyViolation("add", ErrSchedulerClosed)
	}
	if e.owner != nil {
		return newPolicyViolation("add", fmt.Errorf("%w: %s", ErrAlreadyOwned, e))
	}
	e.owner = s
	e.pending = true
	s.members = append(s.members, e)
	return nil
}

// Remove unregisters e. An in-flight hop is cancelled and its result
// discarded; a response already buffered stays with the exchange.
func (s *Scheduler) Remove(e *Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.owner != s {
		return newPolicyViolation("remove", fmt.Errorf("%w: %s", ErrNotRegistered, e))
	}
	for i, m := range s.members {
		if m == e {
			s.members = append(s.members[:i], s.members[i+1:]...)
			break
		}
	}
	s.ground(e)
	e.owner = nil
	e.pending = false
	return nil
}

// ground cancels the flight of e, if any. A hop that already finished is
// absorbed first so its response and cookies are kept. Caller holds s.mu.
func (s *Scheduler) ground(e *Exchange) {
	f, ok := s.flights[e]
	if !ok {
		return
	}
	if f.h != nil {
		if f.inflight {
			if s.multi.Settle(f.h) {
				s.salvage(f)
			}
			_ = s.multi.Remove(f.h)
		}
		delete(s.byHandle, f.h)
	}
	delete(s.flights, e)
}

// Refresh schedules e to run again, restarting it when in flight.
func (s *Scheduler) Refresh(e *Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.owner != s {
		return newPolicyViolation("refresh", fmt.Errorf("%w: %s", ErrNotRegistered, e))
	}
	s.ground(e)
	if !e.opts.LockResponse {
		e.resp, e.err = nil, nil
	}
	e.pending = true
	return nil
}

// touch marks e pending after an option change. Changes made while Run is
// in progress wait for an explicit Refresh.
func (s *Scheduler) touch(e *Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.implicitRefresh && !s.running && e.owner == s {
		e.pending = true
	}
}

// SetAll sets an option on every member.
func (s *Scheduler) SetAll(key OptionKey, value interface{}) error {
	var result *multierror.Error
	for _, e := range s.Exchanges() {
		if err := e.Set(key, value); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", e, err))
		}
	}
	return result.ErrorOrNil()
}

// Exchanges returns the members in registration order.
func (s *Scheduler) Exchanges() []*Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Exchange(nil), s.members...)
}

// Len returns the number of members.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Running reports whether Run is in progress.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Run executes every pending member concurrently and returns once all of
// them have finished or ctx is done. Each member's outcome is stored on the
// member; the returned error aggregates the failures.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return newPolicyViolation("run", ErrSchedulerClosed)
	}
	if s.running {
		s.mu.Unlock()
		return newPolicyViolation("run", ErrReentrantRun)
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var result *multierror.Error
	for {
		s.mu.Lock()
		done := s.launch()
		active := len(s.flights)
		s.mu.Unlock()
		result = s.report(result, done)
		if active == 0 {
			break
		}

		if err := s.multi.Wait(ctx); err != nil {
			s.mu.Lock()
			done = s.abort(err)
			s.mu.Unlock()
			result = s.report(result, done)
			break
		}
		for {
			if _, err := s.multi.Perform(); err != ErrCallPerform {
				break
			}
		}

		s.mu.Lock()
		done = s.collect()
		s.mu.Unlock()
		result = s.report(result, done)
	}
	return result.ErrorOrNil()
}

// launch starts a flight for every pending member and registers the next
// hop of every flight not in the air. Caller holds s.mu.
func (s *Scheduler) launch() []*Exchange {
	var done []*Exchange
	for _, e := range s.members {
		if !e.pending {
			continue
		}
		if _, busy := s.flights[e]; busy {
			continue
		}
		req, err := e.request()
		if err != nil {
			e.store(nil, nil, err)
			done = append(done, e)
			continue
		}
		f := &flight{e: e}
		if e.walks() {
			f.w = newWalk(req, e.opts.Redirect.clone(), e.jar, s.log)
		} else {
			if e.jar != nil {
				e.jar.Apply(req.Header, req.URL)
			}
			f.req, f.follow = req, e.opts.Follow
		}
		s.flights[e] = f
	}

	for _, f := range s.flights {
		if f.inflight {
			continue
		}
		hop, follow := f.req, f.follow
		if f.w != nil {
			hop, follow = f.w.prepare(), false
		}
		if f.h == nil {
			f.h = NewHandle(hop, follow)
			s.byHandle[f.h] = f
		} else if err := f.h.Reset(hop, follow); err != nil {
			s.log.Error("scheduler: reset %s: %v", f.h, err)
			continue
		}
		if err := s.multi.Add(f.h); err != nil {
			s.finish(f, nil, hop.URL, NewTransportError("send", hop.URL.String(), err))
			done = append(done, f.e)
			continue
		}
		f.inflight = true
	}
	return done
}

// collect moves every finished hop forward. Caller holds s.mu.
func (s *Scheduler) collect() []*Exchange {
	var done []*Exchange
	for h := s.multi.Read(); h != nil; h = s.multi.Read() {
		_ = s.multi.Remove(h)
		f, ok := s.byHandle[h]
		if !ok {
			continue
		}
		f.inflight = false
		if s.advance(f) {
			done = append(done, f.e)
		}
	}
	return done
}

// advance feeds a finished hop to its flight and reports whether the
// flight is over. Caller holds s.mu.
func (s *Scheduler) advance(f *flight) bool {
	h := f.h
	if f.w != nil {
		if h.Err() != nil {
			f.w.fail(h.Err())
		} else {
			f.w.absorb(h.Response())
		}
		if !f.w.done() {
			return false
		}
		s.finish(f, f.w.resp, f.w.effectiveURL(), f.w.err)
		return true
	}
	if h.Err() != nil {
		s.finish(f, nil, f.req.URL, NewTransportError("send", f.req.URL.String(), h.Err()))
		return true
	}
	resp := h.Response()
	if f.e.jar != nil {
		receiveBlocks(f.e.jar, resp, f.req.URL)
	}
	eff := resp.URL
	if eff == nil {
		eff = f.req.URL
	}
	s.finish(f, resp, eff, nil)
	return true
}

// salvage stores the finished hop of a flight leaving the run. A walk cut
// short mid-chain keeps the response of its last hop. Caller holds s.mu.
func (s *Scheduler) salvage(f *flight) {
	f.inflight = false
	hop := f.h.Request().URL
	if s.advance(f) || f.w == nil {
		return
	}
	s.finish(f, f.w.resp, hop, nil)
}

// finish stores the outcome on the member. Caller holds s.mu.
func (s *Scheduler) finish(f *flight, resp *Response, eff *url.URL, err error) {
	if f.h != nil {
		delete(s.byHandle, f.h)
	}
	delete(s.flights, f.e)
	f.e.store(resp, eff, err)
}

// abort fails every flight after ctx is done. Caller holds s.mu.
func (s *Scheduler) abort(cause error) []*Exchange {
	var done []*Exchange
	for _, f := range s.flights {
		if f.inflight {
			_ = s.multi.Remove(f.h)
		}
		u := f.req
		if f.w != nil {
			u = f.w.cur
		}
		s.finish(f, nil, u.URL, NewTransportError("send", u.URL.String(), cause))
		done = append(done, f.e)
	}
	return done
}

// report calls the completion hook outside of the lock and collects the
// failures.
func (s *Scheduler) report(result *multierror.Error, done []*Exchange) *multierror.Error {
	s.mu.Lock()
	hook := s.onComplete
	s.mu.Unlock()
	for _, e := range done {
		if e.err != nil {
			s.log.Debug("scheduler: %s failed: %v", e, e.err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", e, e.err))
		}
		if hook != nil {
			hook(e)
		}
	}
	return result
}

// Close unregisters every member and cancels whatever is in flight.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, e := range s.members {
		e.owner = nil
		e.pending = false
	}
	s.members = nil
	s.flights = make(map[*Exchange]*flight)
	s.byHandle = make(map[*Handle]*flight)
	s.mu.Unlock()
	return s.multi.Close()
}
