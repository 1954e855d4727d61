package nest

import (
	"crypto/md5" //nolint:gosec // Non-cryptographic use: stable address derivation
	"encoding/hex"
)

// addressLength is the fixed width of a local node address in hex characters.
const addressLength = 14

// AddressOf derives the local node address for a vendor device identifier.
//
// The address is the trailing 14 characters of the lowercase hexadecimal
// MD5 digest of the identifier. It is deterministic: the same identifier
// always yields the same address, so rediscovery maps devices back to
// their existing nodes. Collisions are not handled; the vendor identifier
// space is sparse relative to the hash space.
func AddressOf(vendorID string) string {
	sum := md5.Sum([]byte(vendorID)) //nolint:gosec // See above
	digest := hex.EncodeToString(sum[:])
	return digest[len(digest)-addressLength:]
}
