// Package registry maps device names to the addresses they serve on.
//
// A device registers itself when it starts serving and deregisters on shutdown;
// clients discover a device by name and pick one of its instances.
package registry

import (
	"context"
	"errors"
)

// ErrNoDevice is returned when a device has no registered instances.
var ErrNoDevice = errors.New("registry: no instance registered for device")

// DeviceInstance is one address a device is reachable on.
type DeviceInstance struct {
	Device  string `json:"device"`
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // relative share for weighted balancing
	Version string `json:"version,omitempty"`
	Codec   string `json:"codec,omitempty"` // "json" or "binary"; empty means json
}

type Registry interface {
	// Register announces inst under device. ttl is in seconds; the entry expires if
	// the registering process dies without deregistering.
	Register(ctx context.Context, device string, inst DeviceInstance, ttl int64) error
	Deregister(ctx context.Context, device string, addr string) error
	Discover(ctx context.Context, device string) ([]DeviceInstance, error)
	// Watch emits the full instance list after every change until ctx ends.
	Watch(ctx context.Context, device string) <-chan []DeviceInstance
}
