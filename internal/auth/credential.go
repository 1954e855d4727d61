package auth

import "time"

// CacheTimeLayout is the local-naive timestamp format used for token
// expiries, both in the cache file and the custom-data store.
const CacheTimeLayout = "2006-01-02T15:04:05"

// Source identifies where a credential was resolved from.
type Source int

// Credential sources, in resolution order.
const (
	// SourcePersisted means the credential came from the custom-data store.
	SourcePersisted Source = iota

	// SourceCached means the credential came from the legacy cache file.
	SourceCached

	// SourceFresh means the credential came from a completed authorization
	// flow during this process lifetime.
	SourceFresh
)

// String returns the lowercase source name.
func (s Source) String() string {
	switch s {
	case SourcePersisted:
		return "persisted"
	case SourceCached:
		return "cached"
	case SourceFresh:
		return "fresh"
	default:
		return "unknown"
	}
}

// Credential is a vendor API access token with its expiry.
//
// A zero Expires means the vendor reported no expiry; such a credential is
// used as-is. A credential whose expiry has passed is treated as absent.
type Credential struct {
	Token   string
	Expires time.Time
	Source  Source
}

// Valid reports whether the credential can be used at the given time.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.Expires.IsZero() || now.Before(c.Expires)
}
