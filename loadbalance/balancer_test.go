package loadbalance

import (
	"errors"
	"fmt"
	"shvattr/registry"
	"testing"
)

var testInstances = []registry.DeviceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr != testInstances[i].Addr {
			t.Fatalf("pick %d: expect %s, got %s", i, testInstances[i].Addr, inst.Addr)
		}
	}

	inst, _ := b.Pick(testInstances)
	if inst.Addr != testInstances[0].Addr {
		t.Fatalf("expect wrap around to %s, got %s", testInstances[0].Addr, inst.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	if _, err := b.Pick(nil); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weights are 10:5:10, so :8001 should be picked about twice as often as :8002.
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick([]registry.DeviceInstance{{Addr: ":1"}})
	if err != nil || inst.Addr != ":1" {
		t.Fatalf("unweighted instance should still be picked, got %v %v", inst, err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for _, inst := range testInstances {
		b.Add(inst)
	}

	inst1, _ := b.Pick("test/device/temp")
	inst2, _ := b.Pick("test/device/temp")
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("node-%d", i))
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashPickKeyRebuilds(t *testing.T) {
	b := NewConsistentHashBalancer()
	if _, err := b.Pick("x"); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("empty ring: expect ErrNoInstances, got %v", err)
	}

	first, err := b.PickKey("test/device/temp", testInstances)
	if err != nil {
		t.Fatal(err)
	}
	only := []registry.DeviceInstance{{Addr: ":9000"}}
	second, _ := b.PickKey("test/device/temp", only)
	if second.Addr != ":9000" {
		t.Fatalf("ring should follow the instance list, got %s", second.Addr)
	}
	again, _ := b.PickKey("test/device/temp", testInstances)
	if again.Addr != first.Addr {
		t.Fatalf("same list and key should give the same instance, got %s vs %s", again.Addr, first.Addr)
	}
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{"": "RoundRobin", "weighted": "WeightedRandom", "hash": "ConsistentHash"} {
		b, err := New(name)
		if err != nil {
			t.Fatal(err)
		}
		if b.Name() != want {
			t.Fatalf("%q: unexpected balancer", name)
		}
	}
	if _, err := New("random"); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}
