package rotator

import "github.com/cjeanneret/RotaGo/internal/sdk"

// Observer receives the coordinator's advisory output. Methods are called on
// the loop goroutine and must not block.
type Observer interface {
	UpdateStatus(st Status)
	Alert(title, message string)
	// DeviceChanged reports the active device; ok is false when there is none.
	DeviceChanged(snap Snapshot, ok bool)
	RemoteEvent(ev sdk.Event)
}

// NopObserver ignores everything. Embed it to handle a subset.
type NopObserver struct{}

func (NopObserver) UpdateStatus(Status)          {}
func (NopObserver) Alert(string, string)         {}
func (NopObserver) DeviceChanged(Snapshot, bool) {}
func (NopObserver) RemoteEvent(sdk.Event)        {}

// Observers fans out to each element in order.
type Observers []Observer

func (o Observers) UpdateStatus(st Status) {
	for _, ob := range o {
		ob.UpdateStatus(st)
	}
}

func (o Observers) Alert(title, message string) {
	for _, ob := range o {
		ob.Alert(title, message)
	}
}

func (o Observers) DeviceChanged(snap Snapshot, ok bool) {
	for _, ob := range o {
		ob.DeviceChanged(snap, ok)
	}
}

func (o Observers) RemoteEvent(ev sdk.Event) {
	for _, ob := range o {
		ob.RemoteEvent(ev)
	}
}
