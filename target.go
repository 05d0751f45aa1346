package observable

import (
	"fmt"
	"reflect"
	"runtime"
	"weak"
)

// Target identifies an observer for Register and Unregister.
//
// A Target never holds its owner strongly. The slot stores the owner's weak
// pointer and the selector, and looks the callable up again on every
// notification. Method values such as obj.OnChange are not accepted; use
// Method(obj, "OnChange").
type Target struct {
	id       any // weak.Pointer[T] for the owner's type
	selector string
	load     func() any
	watch    func(func()) *runtime.Cleanup
}

// Func targets a standalone callable. fn points at a func variable, such as
// a local or a struct field, and the variable is read again at every notification.
// The caller must keep fn reachable; the slot forgets it once it is collected.
func Func[F any](fn *F) Target {
	return newTarget(fn, "")
}

// Method targets the member named selector on owner: an exported method of
// *T, or an exported func-typed field of T. An empty selector behaves like Func.
func Method[T any](owner *T, selector string) Target {
	return newTarget(owner, selector)
}

func newTarget[T any](p *T, selector string) Target {
	if p == nil {
		return Target{selector: selector}
	}
	wp := weak.Make(p)
	return Target{
		id:       wp,
		selector: selector,
		load: func() any {
			if v := wp.Value(); v != nil {
				return v
			}
			return nil
		},
		watch: func(fn func()) *runtime.Cleanup {
			v := wp.Value()
			if v == nil {
				return nil
			}
			c := runtime.AddCleanup(v, func(f func()) { f() }, fn)
			return &c
		},
	}
}

// Selector returns the member name, or "" for a standalone callable.
func (t Target) Selector() string {
	return t.selector
}

func (t Target) owner() any {
	if t.load == nil {
		return nil
	}
	return t.load()
}

type targetKey struct {
	id       any
	selector string
}

// entry is immutable once published in a host's observer list.
type entry struct {
	key      targetKey
	selector string
	load     func() any
	cleanup  *runtime.Cleanup
}

func (e *entry) alive() bool {
	return e.load() != nil
}

func (e *entry) stop() {
	if e.cleanup != nil {
		e.cleanup.Stop()
	}
}

// callback is the uniform shape every accepted observer signature is adapted to.
type callback[V any] func(value, previous V) error

// resolve finds the callable for owner and selector and adapts it to the
// slot's arity.
func resolve[V any](owner any, selector string, withPrevious bool) (callback[V], error) {
	fn, err := lookup(owner, selector)
	if err != nil {
		return nil, err
	}
	return adapt[V](fn, withPrevious)
}

func lookup(owner any, selector string) (reflect.Value, error) {
	rv := reflect.ValueOf(owner)

	if selector == "" {
		fn := rv.Elem()
		if fn.Kind() == reflect.Interface {
			fn = fn.Elem()
		}
		if !isCallable(fn) {
			return reflect.Value{}, fmt.Errorf("%w: %s is not callable", ErrInvalidObserver, rv.Type())
		}
		return fn, nil
	}

	if m := rv.MethodByName(selector); m.IsValid() {
		return m, nil
	}
	if el := rv.Elem(); el.Kind() == reflect.Struct {
		if f, ok := field(el, selector); ok {
			if f.Kind() == reflect.Interface {
				f = f.Elem()
			}
			if isCallable(f) {
				return f, nil
			}
		}
	}
	return reflect.Value{}, fmt.Errorf("%w: %s has no callable member %q", ErrInvalidObserver, rv.Type(), selector)
}

// field returns the exported field named name, including promoted ones.
// A field promoted through a nil embedded pointer is not found.
func field(el reflect.Value, name string) (reflect.Value, bool) {
	sf, ok := el.Type().FieldByName(name)
	if !ok || !sf.IsExported() {
		return reflect.Value{}, false
	}
	f, err := el.FieldByIndexErr(sf.Index)
	if err != nil || !f.CanInterface() {
		return reflect.Value{}, false
	}
	return f, true
}

func isCallable(fn reflect.Value) bool {
	return fn.IsValid() && fn.Kind() == reflect.Func && !fn.IsNil()
}

func adapt[V any](fn reflect.Value, withPrevious bool) (callback[V], error) {
	if withPrevious {
		if f, ok := as[func(V, V) error](fn); ok {
			return callback[V](f), nil
		}
		if f, ok := as[func(V, V)](fn); ok {
			return func(value, previous V) error {
				f(value, previous)
				return nil
			}, nil
		}
	} else {
		if f, ok := as[func(V) error](fn); ok {
			return func(value, _ V) error {
				return f(value)
			}, nil
		}
		if f, ok := as[func(V)](fn); ok {
			return func(value, _ V) error {
				f(value)
				return nil
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: signature %s does not match (include previous: %t)", ErrInvalidObserver, fn.Type(), withPrevious)
}

// as converts fn to F when their underlying func types are identical, so
// named handler types are accepted too.
func as[F any](fn reflect.Value) (F, bool) {
	var zero F
	t := reflect.TypeFor[F]()
	if !fn.Type().ConvertibleTo(t) {
		return zero, false
	}
	f, ok := fn.Convert(t).Interface().(F)
	return f, ok
}
