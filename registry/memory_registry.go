package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is a process-local Registry for tests and single-host setups.
// TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	devices  map[string]map[string]DeviceInstance // device → addr → instance
	watchers map[string][]chan []DeviceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		devices:  make(map[string]map[string]DeviceInstance),
		watchers: make(map[string][]chan []DeviceInstance),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, device string, inst DeviceInstance, _ int64) error {
	inst.Device = device
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.devices[device] == nil {
		r.devices[device] = make(map[string]DeviceInstance)
	}
	r.devices[device][inst.Addr] = inst
	r.notifyLocked(device)
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, device string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices[device], addr)
	r.notifyLocked(device)
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context, device string) ([]DeviceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(device), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, device string) <-chan []DeviceInstance {
	ch := make(chan []DeviceInstance, 1)
	r.mu.Lock()
	r.watchers[device] = append(r.watchers[device], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[device]
		for i, w := range ws {
			if w == ch {
				r.watchers[device] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *MemoryRegistry) listLocked(device string) []DeviceInstance {
	out := make([]DeviceInstance, 0, len(r.devices[device]))
	for _, inst := range r.devices[device] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// notifyLocked replaces any undelivered list with the latest one.
func (r *MemoryRegistry) notifyLocked(device string) {
	list := r.listLocked(device)
	for _, ch := range r.watchers[device] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
