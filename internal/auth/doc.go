// Package auth manages the vendor API credential lifecycle.
//
// A credential is resolved from three ordered sources, first hit wins:
//
//  1. The persisted custom-data store (authoritative once written).
//  2. The legacy cache file in the operator's home directory; a valid
//     cached token is mirrored into the custom-data store so future
//     resolutions hit source one.
//  3. The interactive authorization flow: an authorization link is issued
//     to the operator and the returned PIN is exchanged for a token.
//
// # Deployment Modes
//
// Self-hosted deployments read the OAuth client id and secret from a local
// credentials file and receive the PIN out of band (configuration or the
// HTTP API). The authorization link carries an HMAC-derived state token.
//
// Cloud deployments receive the client credentials and an opaque worker
// token from host-injected configuration; the worker token doubles as the
// link state, and the PIN is collected by polling a retrieval proxy once
// per fast tick, capped at a fixed number of attempts.
//
// # Expiry
//
// A credential whose expiry has passed is treated as absent everywhere.
// Fresh tokens are persisted with their absolute expiry and the current
// profile version so a later version bump can force a full driver re-push.
package auth
