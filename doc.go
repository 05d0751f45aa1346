// Package observable provides observable slots: values attached to host
// objects that synchronously notify registered observers when they change.
//
// One Slot is declared per logical attribute and shared by every host of
// that type. Each host gets an independent value and observer set, and the
// slot holds hosts and observer owners through weak pointers only.
//
//	type Thermostat struct{ name string }
//
//	var temperature = observable.New[Thermostat, float64](
//		observable.WithName("temperature"),
//	)
//
//	func (t *Thermostat) Temperature() observable.Field[Thermostat, float64] {
//		return temperature.Bind(t)
//	}
//
//	type Display struct{ shown float64 }
//
//	func (d *Display) Show(v float64) { d.shown = v }
//
//	t, d := &Thermostat{name: "hall"}, &Display{}
//	_ = t.Temperature().Register(observable.Method(d, "Show"))
//	_ = t.Temperature().Set(21.5) // calls d.Show(21.5)
//
// Observers are identified by owner and selector rather than by func value.
// The callable is looked up again on every notification, so replacing a
// func field on the owner takes effect at the next Set.
//
// Set, Register and Unregister for a single host should be serialized by the
// caller. The slot's own lock is never held while observers run, so an
// observer may register, unregister or set values on the same slot.
package observable
