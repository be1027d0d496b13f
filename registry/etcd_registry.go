package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// KeyPrefix is the root of all device entries in etcd:
//
//	Key:   /shvattr/devices/{device}/{addr}
//	Value: JSON-encoded DeviceInstance
const KeyPrefix = "/shvattr/devices/"

// EtcdRegistry stores device instances in etcd under TTL leases, so a crashed
// device disappears once its lease runs out.
type EtcdRegistry struct {
	client *clientv3.Client

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease kept alive by this process
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
		Logger:    zap.L().Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdRegistry{client: c, leases: make(map[string]clientv3.LeaseID)}, nil
}

func deviceKey(device, addr string) string {
	return KeyPrefix + device + "/" + addr
}

func devicePrefix(device string) string {
	return KeyPrefix + device + "/"
}

// Register puts the instance under a fresh lease and keeps the lease alive in the
// background until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, device string, inst DeviceInstance, ttl int64) error {
	inst.Device = device
	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	key := deviceKey(device, inst.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	// The keepalive outlives the registering call; it stops when the lease is revoked.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("keep lease alive: %w", err)
	}
	go func() {
		for range ch {
		}
		zap.L().Debug("registry lease keepalive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, device string, addr string) error {
	key := deviceKey(device, addr)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return fmt.Errorf("revoke lease: %w", err)
		}
	}
	return nil
}

// Discover lists the registered instances of a device. Malformed entries are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context, device string) ([]DeviceInstance, error) {
	resp, err := r.client.Get(ctx, devicePrefix(device), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", device, err)
	}

	instances := make([]DeviceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst DeviceInstance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			zap.L().Warn("skipping malformed registry entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch re-lists the device on every change under its prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, device string) <-chan []DeviceInstance {
	ch := make(chan []DeviceInstance, 1)
	go func() {
		defer close(ch)
		for wresp := range r.client.Watch(ctx, devicePrefix(device), clientv3.WithPrefix()) {
			if err := wresp.Err(); err != nil {
				zap.L().Warn("registry watch failed", zap.String("device", device), zap.Error(err))
				return
			}
			instances, err := r.Discover(ctx, device)
			if err != nil {
				zap.L().Warn("registry re-list failed", zap.String("device", device), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close stops all keepalives and disconnects from etcd.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
