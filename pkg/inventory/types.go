package inventory

import (
	"fmt"
	"regexp"
)

// Health is the derived state of a pool.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
)

// Pool is one storage pool with its member devices in status order.
type Pool struct {
	Name    string   `json:"name" yaml:"name"`
	Devices []string `json:"devices" yaml:"devices"`
}

// Slot locates a device inside an enclosure.
type Slot struct {
	Enclosure string `json:"enclosure" yaml:"enclosure"`
	Slot      string `json:"slot" yaml:"slot"`
	Device    string `json:"device" yaml:"device"`
}

func (s Slot) String() string {
	return fmt.Sprintf("encl%s/slot%s", s.Enclosure, s.Slot)
}

// Topology is everything a run needs, captured once before any device is touched.
type Topology struct {
	Pools []Pool
	Slots SlotMap
}

var wholeDisk = regexp.MustCompile(`^(c\d+t[0-9A-Fa-f]+d\d+)(?:[ps]\d+)?$`)

// SlotMap resolves device names to enclosure slots. It is immutable once built.
type SlotMap struct {
	byDevice map[string]Slot
	byDisk   map[string]Slot
}

// NewSlotMap indexes slots by device token. When a device appears twice the
// first mapping wins.
func NewSlotMap(slots []Slot) SlotMap {
	m := SlotMap{
		byDevice: make(map[string]Slot, len(slots)),
		byDisk:   make(map[string]Slot, len(slots)),
	}
	for _, slot := range slots {
		if _, exists := m.byDevice[slot.Device]; exists {
			continue
		}
		m.byDevice[slot.Device] = slot
		disk := diskName(slot.Device)
		if _, exists := m.byDisk[disk]; !exists {
			m.byDisk[disk] = slot
		}
	}
	return m
}

// Lookup returns the slot for device. A pool member such as c0t0d0 matches a
// slot token naming one of its partitions or slices (c0t0d0p0, c0t0d0s0).
func (m SlotMap) Lookup(device string) (Slot, bool) {
	if slot, ok := m.byDevice[device]; ok {
		return slot, true
	}
	slot, ok := m.byDisk[diskName(device)]
	return slot, ok
}

// Len reports the number of distinct device tokens.
func (m SlotMap) Len() int {
	return len(m.byDevice)
}

func diskName(device string) string {
	if match := wholeDisk.FindStringSubmatch(device); match != nil {
		return match[1]
	}
	return device
}
