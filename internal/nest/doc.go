// Package nest implements the vendor-facing protocol layer of the bridge.
//
// It covers three concerns:
//
//   - Address derivation: deterministic mapping from vendor device
//     identifiers to fixed-width local node addresses (AddressOf).
//   - Snapshot access: an authenticated REST client for full-state fetches
//     and partial updates (Client), plus the atomically-swapped snapshot
//     holder shared between the stream goroutine and the controller (Store).
//   - Streaming ingestion: a long-lived server-sent-events reader (Stream)
//     that replaces the snapshot wholesale on every data event and exposes
//     stream health for the controller's watchdog.
//
// # Snapshot Ownership
//
// The Store holds an immutable *Snapshot behind an atomic pointer. The
// stream goroutine is the sole writer and always replaces the pointer,
// never mutates the tree in place, so readers observe either the previous
// or the new snapshot, never a torn intermediate state. Device nodes must
// re-resolve their subtree from the current snapshot on every update and
// must not cache references across updates.
//
// # Connection Policy
//
// Client keeps one reusable HTTP connection per endpoint. Any transport
// error or non-2xx final status discards the idle connections so the next
// call dials fresh. Redirects are followed at most one hop: a 307 response
// re-issues the identical request against the Location target and the
// result of that second attempt is final.
package nest
