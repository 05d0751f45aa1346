package observable

import (
	"errors"
	"runtime"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type host struct{ name string }

type recorder struct {
	got   []int
	pairs [][2]int
}

func (r *recorder) Record(v int) { r.got = append(r.got, v) }

func (r *recorder) Double(v int) { r.got = append(r.got, 2*v) }

func (r *recorder) Pair(v, prev int) { r.pairs = append(r.pairs, [2]int{v, prev}) }

func (r *recorder) Fail(int) error { return errBoom }

func (r *recorder) unexported(v int) { r.got = append(r.got, v) }

// swappable exposes its callback as a field so tests can replace it.
type swappable struct {
	OnChange func(int)
	Name     string
}

type handlers struct {
	OnChange func(int)
}

// delegating exposes handlers' fields through an embedded pointer.
type delegating struct {
	*handlers
}

func TestSlot_GetBeforeSet(t *testing.T) {
	slot := New[host, int]()

	require.Equal(t, 0, slot.Get(&host{name: "a"}))
	require.Equal(t, 0, slot.Get(nil))

	strs := New[host, string]()
	require.Equal(t, "", strs.Get(&host{name: "a"}))
}

func TestSlot_GetReturnsLastSet(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "a"}

	require.NoError(t, slot.Set(h, 3))
	require.NoError(t, slot.Set(h, 9))
	require.Equal(t, 9, slot.Get(h))
}

func TestSlot_EndToEnd(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}

	var calls []int
	f := func(v int) { calls = append(calls, v) }

	require.NoError(t, slot.Register(h, Func(&f)))

	require.NoError(t, slot.Set(h, 1))
	require.Equal(t, []int{1}, calls)

	require.NoError(t, slot.Set(h, 1))
	require.Equal(t, []int{1}, calls, "unchanged value must not notify")

	slot.Unregister(h, Func(&f))
	require.NoError(t, slot.Set(h, 2))
	require.Equal(t, []int{1}, calls, "unregistered observer must not be called")
	require.Equal(t, 2, slot.Get(h))

	runtime.KeepAlive(&f)
}

func TestSlot_RegistrationIsIdempotent(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}
	r := &recorder{}

	var calls int
	f := func(int) { calls++ }

	for range 3 {
		require.NoError(t, slot.Register(h, Method(r, "Record")))
		require.NoError(t, slot.Register(h, Func(&f)))
	}
	require.Equal(t, 2, slot.ObserverCount(h))

	require.NoError(t, slot.Set(h, 7))
	require.Equal(t, []int{7}, r.got)
	require.Equal(t, 1, calls)

	runtime.KeepAlive(&f)
}

func TestSlot_IdentityIsOwnerAndSelector(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}
	r1, r2 := &recorder{}, &recorder{}

	require.NoError(t, slot.Register(h, Method(r1, "Record")))
	require.NoError(t, slot.Register(h, Method(r1, "Double")))
	require.NoError(t, slot.Register(h, Method(r2, "Record")))
	require.Equal(t, 3, slot.ObserverCount(h))

	require.NoError(t, slot.Set(h, 5))
	require.Equal(t, []int{5, 10}, r1.got)
	require.Equal(t, []int{5}, r2.got)
}

func TestSlot_EqualValuedOwnersAreDistinct(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}
	a, b := &recorder{}, &recorder{}
	require.Equal(t, *a, *b)

	require.NoError(t, slot.Register(h, Method(a, "Record")))
	require.NoError(t, slot.Register(h, Method(b, "Record")))
	require.Equal(t, 2, slot.ObserverCount(h))
}

func TestSlot_NotifiesInRegistrationOrder(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}

	var order []string
	first := func(int) { order = append(order, "first") }
	second := func(int) { order = append(order, "second") }
	third := func(int) { order = append(order, "third") }

	require.NoError(t, slot.Register(h, Func(&second)))
	require.NoError(t, slot.Register(h, Func(&first)))
	require.NoError(t, slot.Register(h, Func(&third)))
	// Re-registering keeps the original position.
	require.NoError(t, slot.Register(h, Func(&second)))

	require.NoError(t, slot.Set(h, 1))
	require.Equal(t, []string{"second", "first", "third"}, order)

	runtime.KeepAlive(&first)
	runtime.KeepAlive(&second)
	runtime.KeepAlive(&third)
}

func TestSlot_UnregisterIsNoopWhenAbsent(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}
	r := &recorder{}

	require.NotPanics(t, func() {
		slot.Unregister(h, Method(r, "Record"))
		slot.Unregister(nil, Method(r, "Record"))
		slot.Unregister(h, Target{})
	})
	require.Equal(t, 0, slot.Len(), "unregister must not create host state")

	require.NoError(t, slot.Register(h, Method(r, "Record")))
	slot.Unregister(h, Method(r, "Double"))
	slot.Unregister(h, Method(&recorder{}, "Record"))
	require.Equal(t, 1, slot.ObserverCount(h))

	slot.Unregister(h, Method(r, "Record"))
	slot.Unregister(h, Method(r, "Record"))
	require.Equal(t, 0, slot.ObserverCount(h))

	require.NoError(t, slot.Set(h, 1))
	require.Empty(t, r.got)
}

func TestSlot_ChangeOnlyPolicy(t *testing.T) {
	tests := []struct {
		name   string
		values []int
		want   []int
	}{
		{name: "repeat", values: []int{5, 5}, want: []int{5}},
		{name: "change", values: []int{5, 6}, want: []int{5, 6}},
		{name: "first zero counts as change", values: []int{0, 0}, want: []int{0}},
		{name: "back and forth", values: []int{1, 2, 2, 1}, want: []int{1, 2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := New[host, int]()
			h := &host{name: "h"}
			r := &recorder{}
			require.NoError(t, slot.Register(h, Method(r, "Record")))

			for _, v := range tt.values {
				require.NoError(t, slot.Set(h, v))
			}
			require.Equal(t, tt.want, r.got)
		})
	}
}

func TestSlot_AlwaysNotifyPolicy(t *testing.T) {
	slot := New[host, int](WithAlwaysNotify())
	h := &host{name: "h"}
	r := &recorder{}
	require.NoError(t, slot.Register(h, Method(r, "Record")))

	require.NoError(t, slot.Set(h, 5))
	require.NoError(t, slot.Set(h, 5))
	require.Equal(t, []int{5, 5}, r.got)
}

func TestSlot_IncludePrevious(t *testing.T) {
	slot := New[host, int](WithIncludePrevious())
	h := &host{name: "h"}
	r := &recorder{}
	require.NoError(t, slot.Register(h, Method(r, "Pair")))

	require.NoError(t, slot.Set(h, 4))
	require.NoError(t, slot.Set(h, 8))
	require.NoError(t, slot.Set(h, 8))

	require.Equal(t, [][2]int{{4, 0}, {8, 4}}, r.pairs)
}

func TestSlot_IncludePreviousWithErrorSignature(t *testing.T) {
	slot := New[host, string](WithIncludePrevious(), WithAlwaysNotify())
	h := &host{name: "h"}

	var seen []string
	f := func(v, prev string) error {
		seen = append(seen, prev+">"+v)
		return nil
	}
	require.NoError(t, slot.Register(h, Func(&f)))

	require.NoError(t, slot.Set(h, "a"))
	require.NoError(t, slot.Set(h, "a"))
	require.NoError(t, slot.Set(h, "b"))
	require.Equal(t, []string{">a", "a>a", "a>b"}, seen)

	runtime.KeepAlive(&f)
}

func TestSlot_InstanceIsolation(t *testing.T) {
	slot := New[host, int]()
	h1, h2 := &host{name: "one"}, &host{name: "two"}
	r1, r2 := &recorder{}, &recorder{}

	require.NoError(t, slot.Register(h1, Method(r1, "Record")))
	require.NoError(t, slot.Register(h2, Method(r2, "Record")))

	require.NoError(t, slot.Set(h1, 1))
	require.Equal(t, []int{1}, r1.got)
	require.Empty(t, r2.got)
	require.Equal(t, 0, slot.Get(h2))

	require.NoError(t, slot.Set(h2, 2))
	require.Equal(t, []int{1}, r1.got)
	require.Equal(t, []int{2}, r2.got)
	require.Equal(t, 1, slot.Get(h1))
	require.Equal(t, 2, slot.Len())
}

func TestSlot_SlotsAreIndependent(t *testing.T) {
	width := New[host, int]()
	height := New[host, int]()
	h := &host{name: "h"}
	r := &recorder{}

	require.NoError(t, width.Register(h, Method(r, "Record")))
	require.NoError(t, height.Set(h, 3))
	require.Empty(t, r.got)
	require.Equal(t, 0, width.Get(h))
}

func TestSlot_SelectorResolvesAtCallTime(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}

	var got []string
	owner := &swappable{Name: "owner"}
	owner.OnChange = func(v int) { got = append(got, "old") }

	require.NoError(t, slot.Register(h, Method(owner, "OnChange")))
	require.NoError(t, slot.Set(h, 1))

	owner.OnChange = func(v int) { got = append(got, "new") }
	require.NoError(t, slot.Set(h, 2))

	require.Equal(t, []string{"old", "new"}, got)
}

func TestSlot_FuncVariableResolvesAtCallTime(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}

	var got []string
	f := func(int) { got = append(got, "old") }
	require.NoError(t, slot.Register(h, Func(&f)))
	require.NoError(t, slot.Set(h, 1))

	f = func(int) { got = append(got, "new") }
	require.NoError(t, slot.Set(h, 2))

	require.Equal(t, []string{"old", "new"}, got)
	runtime.KeepAlive(&f)
}

type celsius func(float64)

func TestSlot_AcceptsNamedFuncTypes(t *testing.T) {
	slot := New[host, float64]()
	h := &host{name: "h"}

	var got float64
	var f celsius = func(v float64) { got = v }
	require.NoError(t, slot.Register(h, Func(&f)))

	require.NoError(t, slot.Set(h, 21.5))
	require.InDelta(t, 21.5, got, 1e-9)
	runtime.KeepAlive(&f)
}

func TestSlot_FuncHoldingInterface(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}

	var got int
	var f any = func(v int) { got = v }
	require.NoError(t, slot.Register(h, Func(&f)))

	require.NoError(t, slot.Set(h, 6))
	require.Equal(t, 6, got)
	runtime.KeepAlive(&f)
}

func TestSlot_RegisterRejectsInvalidObservers(t *testing.T) {
	r := &recorder{}
	nonFunc := 42
	var nilFunc func(int)
	wrongArity := func(a, b, c int) {}
	wrongType := func(s string) {}
	withResult := func(int) int { return 0 }

	tests := []struct {
		name   string
		target Target
		opts   []Option
	}{
		{name: "zero target", target: Target{}},
		{name: "nil owner", target: Method[recorder](nil, "Record")},
		{name: "missing method", target: Method(r, "Nope")},
		{name: "unexported method", target: Method(r, "unexported")},
		{name: "non-func field", target: Method(&swappable{}, "Name")},
		{name: "nil func field", target: Method(&swappable{}, "OnChange")},
		{name: "field behind nil embedded pointer", target: Method(&delegating{}, "OnChange")},
		{name: "non-func value", target: Func(&nonFunc)},
		{name: "nil func value", target: Func(&nilFunc)},
		{name: "wrong arity", target: Func(&wrongArity)},
		{name: "wrong argument type", target: Func(&wrongType)},
		{name: "non-error result", target: Func(&withResult)},
		{name: "single argument with include previous", target: Method(r, "Record"), opts: []Option{WithIncludePrevious()}},
		{name: "two arguments without include previous", target: Method(r, "Pair")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := New[host, int](tt.opts...)
			h := &host{name: "h"}

			err := slot.Register(h, tt.target)
			require.ErrorIs(t, err, ErrInvalidObserver)
			require.Equal(t, 0, slot.ObserverCount(h))
		})
	}

	runtime.KeepAlive(&nonFunc)
	runtime.KeepAlive(&nilFunc)
	runtime.KeepAlive(&wrongArity)
	runtime.KeepAlive(&wrongType)
	runtime.KeepAlive(&withResult)
}

func TestSlot_PromotedFuncField(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}

	var got []int
	owner := &delegating{handlers: &handlers{OnChange: func(v int) { got = append(got, v) }}}
	require.NoError(t, slot.Register(h, Method(owner, "OnChange")))
	require.NoError(t, slot.Set(h, 1))

	// Dropping the embedded value breaks the observer without panicking.
	owner.handlers = nil
	require.ErrorIs(t, slot.Set(h, 2), ErrInvalidObserver)
	require.Equal(t, []int{1}, got)
}

func TestSlot_NilHost(t *testing.T) {
	slot := New[host, int]()
	r := &recorder{}

	require.ErrorIs(t, slot.Set(nil, 1), ErrNilHost)
	require.ErrorIs(t, slot.Register(nil, Method(r, "Record")), ErrNilHost)
	require.Equal(t, 0, slot.ObserverCount(nil))
	require.Equal(t, 0, slot.Len())
}

func TestSlot_ObserverBrokenAfterRegistration(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}
	owner := &swappable{OnChange: func(int) {}}

	require.NoError(t, slot.Register(h, Method(owner, "OnChange")))
	owner.OnChange = nil

	err := slot.Set(h, 1)
	require.ErrorIs(t, err, ErrInvalidObserver)
}

func TestSlot_AbortOnFailure(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}
	before, failing, after := &recorder{}, &recorder{}, &recorder{}

	require.NoError(t, slot.Register(h, Method(before, "Record")))
	require.NoError(t, slot.Register(h, Method(failing, "Fail")))
	require.NoError(t, slot.Register(h, Method(after, "Record")))

	err := slot.Set(h, 3)
	require.Equal(t, errBoom, err, "observer errors propagate unwrapped")
	require.Equal(t, []int{3}, before.got)
	require.Empty(t, after.got, "observers after a failure must not run")
	require.Equal(t, 3, slot.Get(h), "the value is stored before notification")
}

func TestSlot_ContinueOnFailure(t *testing.T) {
	slot := New[host, int](WithFailurePolicy(FailContinue))
	h := &host{name: "h"}
	after := &recorder{}

	errOther := errors.New("other")
	fails := func(int) error { return errOther }

	require.NoError(t, slot.Register(h, Method(&recorder{}, "Fail")))
	require.NoError(t, slot.Register(h, Func(&fails)))
	require.NoError(t, slot.Register(h, Method(after, "Record")))

	err := slot.Set(h, 3)
	require.ErrorIs(t, err, errBoom)
	require.ErrorIs(t, err, errOther)
	require.Equal(t, []int{3}, after.got)

	runtime.KeepAlive(&fails)
}

func TestSlot_DedupTargetReplacesSelector(t *testing.T) {
	slot := New[host, int](WithDedupPolicy(DedupTarget))
	h := &host{name: "h"}
	r1, r2 := &recorder{}, &recorder{}

	require.NoError(t, slot.Register(h, Method(r1, "Record")))
	require.NoError(t, slot.Register(h, Method(r2, "Record")))
	require.NoError(t, slot.Register(h, Method(r1, "Double")))
	require.Equal(t, 2, slot.ObserverCount(h))

	require.NoError(t, slot.Set(h, 4))
	require.Equal(t, []int{8}, r1.got, "newest selector wins")
	require.Equal(t, []int{4}, r2.got)

	// Unregister matches by owner alone.
	slot.Unregister(h, Method(r1, "Anything"))
	require.Equal(t, 1, slot.ObserverCount(h))
}

func TestSlot_ObserverMayMutateSlot(t *testing.T) {
	slot := New[host, int]()
	h, other := &host{name: "h"}, &host{name: "other"}
	late := &recorder{}

	var calls int
	var self func(int)
	self = func(v int) {
		calls++
		slot.Unregister(h, Func(&self))
		require.NoError(t, slot.Register(h, Method(late, "Record")))
		require.NoError(t, slot.Set(other, v*10))
	}
	require.NoError(t, slot.Register(h, Func(&self)))

	require.NoError(t, slot.Set(h, 1))
	require.Equal(t, 1, calls)
	require.Empty(t, late.got, "observers added during a pass wait for the next one")
	require.Equal(t, 10, slot.Get(other))

	require.NoError(t, slot.Set(h, 2))
	require.Equal(t, 1, calls)
	require.Equal(t, []int{2}, late.got)

	runtime.KeepAlive(&self)
}

func TestSlot_ObserverUnregisteringLaterObserver(t *testing.T) {
	slot := New[host, int]()
	h := &host{name: "h"}
	second := &recorder{}

	first := func(int) { slot.Unregister(h, Method(second, "Record")) }
	require.NoError(t, slot.Register(h, Func(&first)))
	require.NoError(t, slot.Register(h, Method(second, "Record")))

	// The pass runs on the snapshot taken when it started.
	require.NoError(t, slot.Set(h, 1))
	require.Equal(t, []int{1}, second.got)

	require.NoError(t, slot.Set(h, 2))
	require.Equal(t, []int{1}, second.got)

	runtime.KeepAlive(&first)
}

func TestNewWithEqual(t *testing.T) {
	slot := NewWithEqual[host, []int](slices.Equal[[]int])
	h := &host{name: "h"}

	var calls int
	f := func([]int) { calls++ }
	require.NoError(t, slot.Register(h, Func(&f)))

	require.NoError(t, slot.Set(h, []int{1, 2}))
	require.NoError(t, slot.Set(h, []int{1, 2}))
	require.NoError(t, slot.Set(h, []int{1, 2, 3}))
	require.Equal(t, 2, calls)
	require.Equal(t, []int{1, 2, 3}, slot.Get(h))

	runtime.KeepAlive(&f)
}

func TestSlot_UncomparableValueKeepsPrevious(t *testing.T) {
	slot := New[host, any]()
	h := &host{name: "h"}
	r := &recorder{}
	f := func(any) { r.Record(1) }
	require.NoError(t, slot.Register(h, Func(&f)))

	require.NoError(t, slot.Set(h, []int{1}))
	require.Panics(t, func() { _ = slot.Set(h, []int{2}) })

	require.Equal(t, []int{1}, slot.Get(h))
	require.Equal(t, []int{1}, r.got, "no observer runs for the panicking set")
	runtime.KeepAlive(&f)
}

func TestNewWithEqual_NilPanics(t *testing.T) {
	require.Panics(t, func() {
		NewWithEqual[host, []int](nil)
	})
}

func TestSlot_NameAndID(t *testing.T) {
	named := New[host, int](WithName("temperature"))
	assert.Equal(t, "temperature", named.Name())
	assert.NotEmpty(t, named.ID())

	anon := New[host, int]()
	assert.Equal(t, anon.ID(), anon.Name())
	assert.NotEqual(t, named.ID(), anon.ID())
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailAbort, p)

	p, err = ParseFailurePolicy("continue")
	require.NoError(t, err)
	assert.Equal(t, FailContinue, p)

	_, err = ParseFailurePolicy("retry")
	require.Error(t, err)

	d, err := ParseDedupPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DedupTargetSelector, d)

	d, err = ParseDedupPolicy("target")
	require.NoError(t, err)
	assert.Equal(t, DedupTarget, d)

	_, err = ParseDedupPolicy("selector")
	require.Error(t, err)
}

func TestTarget_Selector(t *testing.T) {
	r := &recorder{}
	f := func(int) {}

	assert.Equal(t, "Record", Method(r, "Record").Selector())
	assert.Equal(t, "", Func(&f).Selector())
}
