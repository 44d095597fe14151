package sdk

import "sync"

// Registry fans SDK notifications out to delegates keyed by component identity.
// Subscribing the same key twice takes a second reference; the delegate is
// removed once every reference has been released.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

type entry struct {
	delegate Delegate
	refs     int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Subscribe registers d under key and returns the release function for this
// reference. Releasing more than once is a no-op.
func (r *Registry) Subscribe(key string, d Delegate) (release func()) {
	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		e.delegate = d
		e.refs++
	} else {
		r.entries[key] = &entry{delegate: d, refs: 1}
		r.order = append(r.order, key)
	}
	r.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { r.release(key) }) }
}

func (r *Registry) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(r.entries, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered delegates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key]
	return ok
}

// Each calls fn for every delegate in subscription order. fn runs outside the
// registry lock, so delegates may subscribe or release from within it.
func (r *Registry) Each(fn func(Delegate)) {
	r.mu.RLock()
	snapshot := make([]Delegate, 0, len(r.order))
	for _, k := range r.order {
		snapshot = append(snapshot, r.entries[k].delegate)
	}
	r.mu.RUnlock()

	for _, d := range snapshot {
		fn(d)
	}
}

// The methods below let backends emit notifications to every delegate.

func (r *Registry) DeviceDiscovered(id, name string) {
	r.Each(func(d Delegate) { d.DeviceDiscovered(id, name) })
}

func (r *Registry) Connected(id string) {
	r.Each(func(d Delegate) { d.Connected(id) })
}

func (r *Registry) Disconnected(id string) {
	r.Each(func(d Delegate) { d.Disconnected(id) })
}

func (r *Registry) ConnectFailed(id string) {
	r.Each(func(d Delegate) { d.ConnectFailed(id) })
}

func (r *Registry) ConnectionEstablished(id string) {
	r.Each(func(d Delegate) { d.ConnectionEstablished(id) })
}

func (r *Registry) BatteryLevel(level int) {
	r.Each(func(d Delegate) { d.BatteryLevel(level) })
}

func (r *Registry) BluetoothPermissionDenied() {
	r.Each(func(d Delegate) { d.BluetoothPermissionDenied() })
}

func (r *Registry) RemoteEvent(ev Event) {
	r.Each(func(d Delegate) { d.RemoteEvent(ev) })
}

var _ Delegate = (*Registry)(nil)
