package observable

import "context"

// Handle registers and unregisters observers for one host of one slot.
// It holds only the slot and host and is meant to be created on demand:
//
//	func (t *Thermostat) OnTemperature() observable.Handle[Thermostat, float64] {
//		return temperature.Handle(t)
//	}
type Handle[H, V any] struct {
	slot *Slot[H, V]
	host *H
}

// Register adds target to the bound host's observers.
func (h Handle[H, V]) Register(target Target) error {
	return h.slot.Register(h.host, target)
}

// Unregister removes target from the bound host's observers.
func (h Handle[H, V]) Unregister(target Target) {
	h.slot.Unregister(h.host, target)
}

// Field is a Handle that also reads and writes the bound host's value. Host
// types return one in place of a plain field when changes must be observable.
type Field[H, V any] struct {
	Handle[H, V]
}

// Get returns the bound host's value.
func (f Field[H, V]) Get() V {
	return f.slot.Get(f.host)
}

// Set stores v for the bound host and notifies its observers.
func (f Field[H, V]) Set(v V) error {
	return f.slot.Set(f.host, v)
}

// SetContext is Set with a context for the notification span.
func (f Field[H, V]) SetContext(ctx context.Context, v V) error {
	return f.slot.SetContext(ctx, f.host, v)
}
