// Package iface tracks per-interface state: the index-keyed table of
// known interfaces and the mutable record each one carries through its
// lifetime (hardware details, current flags, and the owning state
// machine state).
//
// The table is accessed only from the daemon's single event-loop
// goroutine, so unlike a typical service-style registry it carries no
// mutex: the single-threaded access discipline is itself the
// synchronization, matching if_info.c's unsynchronized hash table.
package iface

import (
	"netplugd/statemachine"
)

// Record is everything known about one interface.
type Record struct {
	// Index is the kernel ifindex, this record's table key.
	Index int32
	// Name is the interface name (e.g. "eth0").
	Name string
	// Type is the ARPHRD_* hardware type from ifinfomsg.ifi_type.
	Type uint16
	// Flags is the current IFF_* flag word.
	Flags uint32
	// Address is the raw hardware (link-layer) address, if any.
	Address []byte
	// State is the interface's current state-machine state.
	State statemachine.State
	// LastChange is the unix time of the last edge-triggered flag
	// change this record observed, 0 if none yet.
	LastChange int64
}

// Table is the index-keyed collection of known interfaces.
type Table struct {
	byIndex map[int32]*Record
}

// NewTable returns an empty interface table.
func NewTable() *Table {
	return &Table{byIndex: make(map[int32]*Record)}
}

// Get returns the record for index, or nil if unknown.
func (t *Table) Get(index int32) *Record {
	return t.byIndex[index]
}

// GetOrCreate returns the existing record for index, or creates and
// inserts a fresh one (state Down, no worker) if this is the first time
// the index has been seen. Records are never removed: an interface that
// disappears and a new interface that later reuses its ifindex share the
// same record, continuing from whatever state the old one left behind.
func (t *Table) GetOrCreate(index int32) (*Record, bool) {
	if r, ok := t.byIndex[index]; ok {
		return r, false
	}
	r := &Record{
		Index: index,
		State: statemachine.Down{},
	}
	t.byIndex[index] = r
	return r, true
}

// ForEach iterates every record once, in an unspecified order that may
// differ from one call to the next, calling fn for each. If fn returns
// false, iteration stops early.
func (t *Table) ForEach(fn func(*Record) bool) {
	for _, r := range t.byIndex {
		if !fn(r) {
			return
		}
	}
}

// FindByWorker returns the record whose State carries worker as its
// running helper pid, or nil if no record owns that pid. This mirrors
// ifsm_scriptdone's for_each_iface(find_pid) scan.
func (t *Table) FindByWorker(worker int) *Record {
	var found *Record
	t.ForEach(func(r *Record) bool {
		if w, ok := statemachine.Worker(r.State); ok && w == worker {
			found = r
			return false
		}
		return true
	})
	return found
}

// Update applies a decoded netlink attribute set to the record for index,
// filling in the hardware type, address, and name. It does not touch
// Flags or State; flag-driven transitions go through the state machine
// separately so the edge-triggered logic in ifsm_flagchange has a chance
// to see the old flags first.
func (r *Record) Update(name string, hwType uint16, address []byte) {
	r.Name = name
	r.Type = hwType
	if address != nil {
		r.Address = append([]byte(nil), address...)
	} else {
		r.Address = nil
	}
}
