package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/exking/udi-nest2-poly/internal/nest"
)

// Node categories used for persistence and status reporting.
const (
	CategoryStructure  = "structure"
	CategoryThermostat = "thermostat"
	CategoryProtect    = "smoke_co_alarm"
	CategoryCamera     = "camera"
)

// Logger is the narrow logging contract consumed by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Node is one projected device entity.
//
// Nodes are created during discovery and live for the process lifetime.
// Update re-reads the node's subtree from the given snapshot; the node
// must not retain the snapshot or any reference into it across calls.
type Node interface {
	// Address is the derived 14-character local address.
	Address() string

	// Name is the vendor-reported display name.
	Name() string

	// Category is one of the Category constants.
	Category() string

	// Update recomputes driver values from the snapshot and publishes the
	// changed set.
	Update(snap *nest.Snapshot)

	// Query republishes all driver values regardless of change.
	Query()

	// Command validates and executes one user command.
	Command(ctx context.Context, cmd Command) error
}

// ChangeSender issues partial-change requests to the vendor API.
// Satisfied by nest.Client.
type ChangeSender interface {
	SendChange(ctx context.Context, path string, payload map[string]any) error
}

// StatePublisher receives node driver state and discrete events for
// publication to the bus and any attached live feeds.
type StatePublisher interface {
	// PublishState publishes the full driver map for a node address.
	PublishState(address string, drivers map[string]float64)

	// PublishEvent publishes a discrete, non-retained node event.
	PublishEvent(address string, event string)
}

// driverSet batches driver mutations during one update or command pass
// and publishes the full map once when anything changed.
type driverSet struct {
	address string
	pub     StatePublisher
	values  map[string]float64
	dirty   bool
}

func newDriverSet(address string, pub StatePublisher) *driverSet {
	return &driverSet{
		address: address,
		pub:     pub,
		values:  make(map[string]float64),
	}
}

// set records a driver value, marking the set dirty on change.
func (d *driverSet) set(driver string, value float64) {
	if current, ok := d.values[driver]; ok && current == value {
		return
	}
	d.values[driver] = value
	d.dirty = true
}

// setBool records a boolean driver as 0/1.
func (d *driverSet) setBool(driver string, value bool) {
	if value {
		d.set(driver, 1)
	} else {
		d.set(driver, 0)
	}
}

// get returns the current value of a driver.
func (d *driverSet) get(driver string) float64 {
	return d.values[driver]
}

// flush publishes the full driver map if anything changed since the last
// flush.
func (d *driverSet) flush() {
	if !d.dirty {
		return
	}
	d.dirty = false
	d.pub.PublishState(d.address, d.snapshot())
}

// report publishes the full driver map unconditionally.
func (d *driverSet) report() {
	d.dirty = false
	d.pub.PublishState(d.address, d.snapshot())
}

func (d *driverSet) snapshot() map[string]float64 {
	out := make(map[string]float64, len(d.values))
	for driver, value := range d.values {
		out[driver] = value
	}
	return out
}

// zuluTime parses the vendor's UTC timestamp format.
func zuluTime(value string) (time.Time, bool) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// timeToTargetMinutes strips the vendor's qualifier prefixes ("~0",
// "<5", ">10") and returns the numeric minute count.
func timeToTargetMinutes(value string) float64 {
	trimmed := strings.TrimLeft(value, "~<>")
	if trimmed == "" {
		return 0
	}
	var minutes float64
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return minutes
		}
		minutes = minutes*10 + float64(r-'0')
	}
	return minutes
}
