// Package bridge hosts the device layer and the controller that drives it.
//
// The controller owns the credential lifecycle, discovery, the event
// stream, and the two scheduling ticks. Discovery walks a fetched snapshot
// and registers one node per vendor object, keyed by the derived local
// address, grouped into structures, thermostats (Fahrenheit or Celsius),
// smoke/CO detectors, and cameras. Nodes never leave the registry once
// added; rediscovery is idempotent.
//
// # Update Path
//
// Every stream "put" replaces the shared snapshot and triggers one update
// pass: each node re-reads its subtree from the new snapshot, recomputes
// its driver values, and publishes the changed set to the bus. Nodes never
// cache snapshot references across updates.
//
// # Command Path
//
// Commands arrive from the bus (one topic per node) and from the HTTP API.
// Each command runs through the node's validation gates before any
// outbound request: online and emergency-heat gating, operator lock
// range, absolute setpoint ranges with minimum separation, mode
// compatibility, and fan capability. A rejected command logs its reason
// and performs no state mutation and no outbound call. A passing command
// updates the cached fields optimistically, publishes the new driver
// value, and sends only the changed keys to the vendor.
//
// # Watchdog
//
// The slow tick polls stream health. A dead stream task is restarted once
// per tick. A live stream with no activity beyond the staleness window is
// escalated as fatal so the supervisor restarts the whole process; a
// wedged stream has historically indicated a broader fault.
package bridge
