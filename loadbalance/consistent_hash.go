package loadbalance

import (
	"fmt"
	"hash/crc32"
	"shvattr/registry"
	"sort"
	"strings"
	"sync"
)

// ConsistentHashBalancer maps keys onto a ring of virtual nodes, 100 per instance.
// The ring is rebuilt only when the instance list passed to PickKey changes.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.RWMutex
	sig   string // addrs the ring was built from
	ring  []uint32
	nodes map[uint32]registry.DeviceInstance
}

func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]registry.DeviceInstance),
	}
}

// Add places an instance onto the ring.
func (b *ConsistentHashBalancer) Add(inst registry.DeviceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(inst)
	b.sortLocked()
}

func (b *ConsistentHashBalancer) addLocked(inst registry.DeviceInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = inst
	}
}

func (b *ConsistentHashBalancer) sortLocked() {
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Pick finds the instance owning key on the current ring.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.DeviceInstance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

// PickKey rebuilds the ring from instances if they changed, then picks key.
func (b *ConsistentHashBalancer) PickKey(key string, instances []registry.DeviceInstance) (*registry.DeviceInstance, error) {
	sig := signature(instances)
	b.mu.RLock()
	current := b.sig == sig
	b.mu.RUnlock()

	if !current {
		b.mu.Lock()
		if b.sig != sig {
			b.ring = b.ring[:0]
			b.nodes = make(map[uint32]registry.DeviceInstance, len(instances)*b.replicas)
			for _, inst := range instances {
				b.addLocked(inst)
			}
			b.sortLocked()
			b.sig = sig
		}
		b.mu.Unlock()
	}
	return b.Pick(key)
}

func signature(instances []registry.DeviceInstance) string {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
