package monitor

import (
	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// Delegate receives monitor notifications. Callbacks for one monitor are
// never invoked concurrently with each other; they run on the monitor's
// delivery goroutine and should return promptly.
type Delegate interface {
	// OnInitialSnapshot is called once per start session with the items
	// found by the initial gathering.
	OnInitialSnapshot(items []changesource.Item)
	// OnUpdate is called for every later change with the full current set
	// and the delta since the previous delivery.
	OnUpdate(items []changesource.Item, delta changesource.Delta)
	// OnError is called for provider errors during steady-state monitoring.
	// Errors do not stop the monitor.
	OnError(err *syncerr.Error)
}

// DelegateFuncs adapts optional functions to Delegate. Nil fields drop the
// corresponding notification.
type DelegateFuncs struct {
	InitialSnapshot func(items []changesource.Item)
	Update          func(items []changesource.Item, delta changesource.Delta)
	Error           func(err *syncerr.Error)
}

// OnInitialSnapshot calls f.InitialSnapshot if set.
func (f DelegateFuncs) OnInitialSnapshot(items []changesource.Item) {
	if f.InitialSnapshot != nil {
		f.InitialSnapshot(items)
	}
}

// OnUpdate calls f.Update if set.
func (f DelegateFuncs) OnUpdate(items []changesource.Item, delta changesource.Delta) {
	if f.Update != nil {
		f.Update(items, delta)
	}
}

// OnError calls f.Error if set.
func (f DelegateFuncs) OnError(err *syncerr.Error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// MultiDelegate fans notifications out to several delegates in order.
type MultiDelegate []Delegate

// OnInitialSnapshot forwards to every delegate.
func (m MultiDelegate) OnInitialSnapshot(items []changesource.Item) {
	for _, d := range m {
		d.OnInitialSnapshot(items)
	}
}

// OnUpdate forwards to every delegate.
func (m MultiDelegate) OnUpdate(items []changesource.Item, delta changesource.Delta) {
	for _, d := range m {
		d.OnUpdate(items, delta)
	}
}

// OnError forwards to every delegate.
func (m MultiDelegate) OnError(err *syncerr.Error) {
	for _, d := range m {
		d.OnError(err)
	}
}

// delegateBox lets an interface value live behind an atomic.Pointer.
type delegateBox struct {
	d Delegate
}
