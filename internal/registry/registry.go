// Package registry holds the in-memory device inventory. The inventory
// is an immutable snapshot swapped atomically on reload, so readers
// never observe a half-applied configuration.
package registry

import (
	"fmt"
	"log"
	"sort"
	"sync/atomic"

	"github.com/venuelab/avcontrold/internal/device"
)

// Snapshot is one immutable view of the inventory. All lookup maps and
// slices are built once and never mutated afterwards.
type Snapshot struct {
	devices  map[string]*device.Device
	groups   map[string]*device.Group
	ordered  []*device.Device // sorted by (group priority, id)
	byGroup  map[string][]*device.Device
	byFamily map[device.Family][]*device.Device
	grpOrder []*device.Group // ascending priority, then id
	Dropped  int             // entries rejected during validation
}

// Registry is the swappable handle the rest of the daemon reads through.
type Registry struct {
	snap atomic.Pointer[Snapshot]
}

// New builds a registry from the given inventory. Invalid device entries
// are dropped with a log line; the rest of the inventory still loads.
func New(groups []device.Group, devices []device.Device) *Registry {
	r := &Registry{}
	r.snap.Store(build(groups, devices))
	return r
}

// Reload atomically replaces the inventory. In-flight readers keep the
// snapshot they already hold.
func (r *Registry) Reload(groups []device.Group, devices []device.Device) {
	r.snap.Store(build(groups, devices))
}

// Snapshot returns the current inventory view.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

func build(groups []device.Group, devices []device.Device) *Snapshot {
	s := &Snapshot{
		devices:  make(map[string]*device.Device),
		groups:   make(map[string]*device.Group),
		byGroup:  make(map[string][]*device.Device),
		byFamily: make(map[device.Family][]*device.Device),
	}

	for i := range groups {
		g := groups[i]
		if g.ID == "" {
			log.Printf("registry: dropping group with empty id")
			continue
		}
		if _, dup := s.groups[g.ID]; dup {
			log.Printf("registry: dropping duplicate group %q", g.ID)
			continue
		}
		s.groups[g.ID] = &g
	}

	for i := range devices {
		d := devices[i]
		if err := d.Validate(); err != nil {
			log.Printf("registry: dropping device %q: %v", d.ID, err)
			s.Dropped++
			continue
		}
		if _, dup := s.devices[d.ID]; dup {
			log.Printf("registry: dropping duplicate device %q", d.ID)
			s.Dropped++
			continue
		}
		if d.Group != "" {
			if _, ok := s.groups[d.Group]; !ok {
				// Unknown group ids are synthesized rather than fatal:
				// a typo in one stanza must not strand the device.
				s.groups[d.Group] = &device.Group{
					ID:       d.Group,
					Name:     d.Group,
					Priority: 1000,
					Parallel: true,
				}
				log.Printf("registry: device %q references undeclared group %q, synthesizing", d.ID, d.Group)
			}
		}
		s.devices[d.ID] = &d
		s.byGroup[d.Group] = append(s.byGroup[d.Group], &d)
		s.byFamily[d.Family] = append(s.byFamily[d.Family], &d)
	}

	for _, g := range s.groups {
		s.grpOrder = append(s.grpOrder, g)
	}
	sort.Slice(s.grpOrder, func(i, j int) bool {
		if s.grpOrder[i].Priority != s.grpOrder[j].Priority {
			return s.grpOrder[i].Priority < s.grpOrder[j].Priority
		}
		return s.grpOrder[i].ID < s.grpOrder[j].ID
	})

	prio := func(d *device.Device) int {
		if g, ok := s.groups[d.Group]; ok {
			return g.Priority
		}
		return 1000
	}
	for _, d := range s.devices {
		s.ordered = append(s.ordered, d)
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		pi, pj := prio(s.ordered[i]), prio(s.ordered[j])
		if pi != pj {
			return pi < pj
		}
		return s.ordered[i].ID < s.ordered[j].ID
	})
	for gid := range s.byGroup {
		list := s.byGroup[gid]
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	for fam := range s.byFamily {
		list := s.byFamily[fam]
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return s
}

// Device looks up one device by id.
func (s *Snapshot) Device(id string) (*device.Device, error) {
	d, ok := s.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %q not found", id)
	}
	return d, nil
}

// Group looks up one group by id.
func (s *Snapshot) Group(id string) (*device.Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %q not found", id)
	}
	return g, nil
}

// List returns all devices in (group priority, id) order. With
// enabledOnly, disabled devices are filtered out.
func (s *Snapshot) List(enabledOnly bool) []*device.Device {
	if !enabledOnly {
		return s.ordered
	}
	out := make([]*device.Device, 0, len(s.ordered))
	for _, d := range s.ordered {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// ByGroup returns the devices of one group, id-ordered.
func (s *Snapshot) ByGroup(id string) []*device.Device {
	return s.byGroup[id]
}

// ByFamily returns the devices of one family, id-ordered.
func (s *Snapshot) ByFamily(f device.Family) []*device.Device {
	return s.byFamily[f]
}

// GroupsByPriority returns all groups ascending by priority, ties by id.
func (s *Snapshot) GroupsByPriority() []*device.Group {
	return s.grpOrder
}

// Len reports the number of loaded devices.
func (s *Snapshot) Len() int {
	return len(s.devices)
}
