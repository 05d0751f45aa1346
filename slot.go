package observable

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"weak"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/thomasbaden/observable/internal/log"
	"github.com/thomasbaden/observable/tracing"
)

// Slot is one observable attribute shared by every host of type H.
// Each host gets its own value and its own ordered observer set, keyed by a
// weak pointer so the slot never keeps a host alive.
//
// A Slot is usually declared once at package level:
//
//	var temperature = observable.New[Thermostat, float64]()
type Slot[H, V any] struct {
	id    string
	opts  options
	equal func(a, b V) bool

	mu    sync.Mutex
	hosts map[weak.Pointer[H]]*hostState[V]
}

type hostState[V any] struct {
	value    V
	hasValue bool
	entries  []*entry
}

// New creates a slot whose values are compared with ==. Interface value
// types panic on Set if the dynamic values are not comparable, and the
// stored value is left unchanged; use NewWithEqual for those.
func New[H any, V comparable](opts ...Option) *Slot[H, V] {
	return newSlot[H, V](func(a, b V) bool { return a == b }, opts)
}

// NewWithEqual creates a slot for value types that are not comparable.
// equal decides whether a Set changes the value under the change-only policy.
func NewWithEqual[H, V any](equal func(a, b V) bool, opts ...Option) *Slot[H, V] {
	if equal == nil {
		panic("observable: NewWithEqual called with nil equal func")
	}
	return newSlot[H, V](equal, opts)
}

func newSlot[H, V any](equal func(a, b V) bool, opts []Option) *Slot[H, V] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Slot[H, V]{
		id:    uuid.NewString(),
		opts:  o,
		equal: equal,
		hosts: make(map[weak.Pointer[H]]*hostState[V]),
	}
	if s.opts.name == "" {
		s.opts.name = s.id
	}
	if s.opts.tracer == nil {
		s.opts.tracer = noop.NewTracerProvider().Tracer("")
	}
	return s
}

// ID returns the slot's unique identifier.
func (s *Slot[H, V]) ID() string {
	return s.id
}

// Name returns the slot's name, or its ID when no name was given.
func (s *Slot[H, V]) Name() string {
	return s.opts.name
}

// Get returns the value stored for host, or the zero value if none was set.
func (s *Slot[H, V]) Get(host *H) V {
	var zero V
	if host == nil {
		return zero
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.hosts[weak.Make(host)]; ok {
		return st.value
	}
	return zero
}

// Set stores value for host and notifies host's observers.
// See SetContext.
func (s *Slot[H, V]) Set(host *H, value V) error {
	return s.SetContext(context.Background(), host, value)
}

// SetContext stores value for host, then notifies host's observers in
// registration order on the calling goroutine. Under the default change-only
// policy observers run only on the first Set or when the value differs from
// the previous one.
//
// With FailAbort the first observer error is returned unchanged and later
// observers do not run. With FailContinue all observers run and their errors
// are joined. ctx only parents the notification span.
func (s *Slot[H, V]) SetContext(ctx context.Context, host *H, value V) error {
	if host == nil {
		return ErrNilHost
	}

	var previous V
	var hadValue bool
	s.mu.Lock()
	if st, ok := s.hosts[weak.Make(host)]; ok {
		previous, hadValue = st.value, st.hasValue
	}
	s.mu.Unlock()

	// Compare before storing so a panicking equal leaves the old value.
	changed := !hadValue || !s.equal(value, previous)

	s.mu.Lock()
	st := s.stateLocked(host)
	st.value, st.hasValue = value, true
	observers, pruned := st.liveLocked()
	s.mu.Unlock()

	s.recordRegistrations(-pruned)

	if rec := s.opts.recorder; rec != nil {
		rec.RecordSet(s.opts.name, changed)
	}
	if !changed && !s.opts.alwaysNotify {
		return nil
	}
	return s.notify(ctx, observers, value, previous, changed)
}

func (s *Slot[H, V]) notify(ctx context.Context, observers []*entry, value, previous V, changed bool) error {
	_, span := tracing.StartNotify(ctx, s.opts.tracer, tracing.NotifyInfo{
		SlotID:       s.id,
		SlotName:     s.opts.name,
		Observers:    len(observers),
		Changed:      changed,
		AlwaysNotify: s.opts.alwaysNotify,
	})

	var errs []error
	for _, e := range observers {
		err := s.invoke(e, value, previous)
		if err == nil {
			continue
		}
		log.Warn(log.CatSlot, "Observer failed", "slot", s.opts.name, "selector", e.selector, "error", err)
		tracing.ObserverFailed(span, e.selector, err)
		if s.opts.onFailure == FailAbort {
			s.finishNotify(span, len(observers), 1, err)
			return err
		}
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	s.finishNotify(span, len(observers), len(errs), err)
	return err
}

// invoke resolves e against its owner and calls it. A reclaimed owner is
// skipped silently.
func (s *Slot[H, V]) invoke(e *entry, value, previous V) error {
	owner := e.load()
	if owner == nil {
		return nil
	}
	cb, err := resolve[V](owner, e.selector, s.opts.includePrevious)
	if err != nil {
		return err
	}
	return cb(value, previous)
}

func (s *Slot[H, V]) finishNotify(span trace.Span, observers, failures int, err error) {
	tracing.EndNotify(span, failures, err)
	if rec := s.opts.recorder; rec != nil {
		rec.RecordNotify(s.opts.name, observers, failures)
	}
}

// Register adds target to host's observers. Registering the same target
// again is a no-op that keeps its original position.
//
// The error wraps ErrInvalidObserver when target does not resolve to a
// callable with the slot's signature: func(V) or func(V) error, or with
// WithIncludePrevious, func(V, V) or func(V, V) error.
func (s *Slot[H, V]) Register(host *H, target Target) error {
	if host == nil {
		return ErrNilHost
	}
	owner := target.owner()
	if owner == nil {
		return fmt.Errorf("%w: empty or reclaimed target", ErrInvalidObserver)
	}
	defer runtime.KeepAlive(owner)

	if _, err := resolve[V](owner, target.selector, s.opts.includePrevious); err != nil {
		return err
	}

	key := s.keyOf(target)
	hostKey := weak.Make(host)

	s.mu.Lock()
	st := s.stateLocked(host)
	if i := st.index(key); i >= 0 {
		if st.entries[i].selector != target.selector {
			// Only reachable under DedupTarget: the newest selector wins.
			replaced := *st.entries[i]
			replaced.selector = target.selector
			st.entries[i] = &replaced
		}
		s.mu.Unlock()
		return nil
	}
	e := &entry{key: key, selector: target.selector, load: target.load}
	e.cleanup = target.watch(func() { s.forgetTarget(hostKey, key) })
	st.entries = append(st.entries, e)
	s.mu.Unlock()

	s.recordRegistrations(1)
	log.Debug(log.CatSlot, "Observer registered", "slot", s.opts.name, "selector", target.selector)
	return nil
}

// Unregister removes target from host's observers. Unknown targets and hosts
// are ignored.
func (s *Slot[H, V]) Unregister(host *H, target Target) {
	if host == nil || target.id == nil {
		return
	}
	key := s.keyOf(target)

	s.mu.Lock()
	var removed *entry
	if st, ok := s.hosts[weak.Make(host)]; ok {
		removed = st.remove(key)
	}
	s.mu.Unlock()

	if removed == nil {
		return
	}
	removed.stop()
	s.recordRegistrations(-1)
	log.Debug(log.CatSlot, "Observer unregistered", "slot", s.opts.name, "selector", removed.selector)
}

// Handle returns the registration handle for host.
func (s *Slot[H, V]) Handle(host *H) Handle[H, V] {
	return Handle[H, V]{slot: s, host: host}
}

// Bind returns the typed accessor for host.
func (s *Slot[H, V]) Bind(host *H) Field[H, V] {
	return Field[H, V]{Handle: s.Handle(host)}
}

// Len returns the number of live hosts holding a value or observers.
func (s *Slot[H, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.hosts {
		if key.Value() != nil {
			n++
		}
	}
	return n
}

// ObserverCount returns the number of live observers registered for host.
func (s *Slot[H, V]) ObserverCount(host *H) int {
	if host == nil {
		return 0
	}

	s.mu.Lock()
	st, ok := s.hosts[weak.Make(host)]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	live, pruned := st.liveLocked()
	s.mu.Unlock()

	s.recordRegistrations(-pruned)
	return len(live)
}

// stateLocked returns host's state, creating it and arming the host's
// cleanup on first use.
func (s *Slot[H, V]) stateLocked(host *H) *hostState[V] {
	key := weak.Make(host)
	if st, ok := s.hosts[key]; ok {
		return st
	}
	st := &hostState[V]{}
	s.hosts[key] = st
	runtime.AddCleanup(host, s.forgetHost, key)
	return st
}

// forgetHost runs on the runtime's cleanup goroutine once a host is collected.
func (s *Slot[H, V]) forgetHost(key weak.Pointer[H]) {
	s.mu.Lock()
	st, ok := s.hosts[key]
	delete(s.hosts, key)
	s.mu.Unlock()

	if !ok {
		return
	}
	for _, e := range st.entries {
		e.stop()
	}
	s.recordRegistrations(-len(st.entries))
	log.Debug(log.CatSlot, "Host reclaimed", "slot", s.opts.name, "observers", len(st.entries))
}

// forgetTarget runs on the runtime's cleanup goroutine once an observer's
// owner is collected.
func (s *Slot[H, V]) forgetTarget(hostKey weak.Pointer[H], key targetKey) {
	s.mu.Lock()
	var removed *entry
	if st, ok := s.hosts[hostKey]; ok {
		removed = st.remove(key)
	}
	s.mu.Unlock()

	if removed == nil {
		return
	}
	s.recordRegistrations(-1)
	log.Debug(log.CatSlot, "Observer reclaimed", "slot", s.opts.name, "selector", removed.selector)
}

func (s *Slot[H, V]) keyOf(t Target) targetKey {
	if s.opts.dedup == DedupTarget {
		return targetKey{id: t.id}
	}
	return targetKey{id: t.id, selector: t.selector}
}

func (s *Slot[H, V]) recordRegistrations(delta int) {
	if delta != 0 && s.opts.recorder != nil {
		s.opts.recorder.RecordRegistrations(s.opts.name, delta)
	}
}

func (st *hostState[V]) index(key targetKey) int {
	return slices.IndexFunc(st.entries, func(e *entry) bool { return e.key == key })
}

// remove deletes the entry for key, keeping the order of the rest.
func (st *hostState[V]) remove(key targetKey) *entry {
	i := st.index(key)
	if i < 0 {
		return nil
	}
	e := st.entries[i]
	st.entries = slices.Delete(st.entries, i, i+1)
	return e
}

// liveLocked drops entries whose owner was collected and returns a snapshot
// of the rest along with how many were dropped.
func (st *hostState[V]) liveLocked() ([]*entry, int) {
	before := len(st.entries)
	st.entries = slices.DeleteFunc(st.entries, func(e *entry) bool {
		if e.alive() {
			return false
		}
		e.stop()
		return true
	})
	return slices.Clone(st.entries), before - len(st.entries)
}
