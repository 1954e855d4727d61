package nest

import "errors"

// Sentinel errors for vendor API operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrNoCredential indicates an authenticated call was attempted without
	// a valid access token.
	ErrNoCredential = errors.New("nest: no valid credential")

	// ErrEmptyPayload indicates SendChange was called with no changed keys.
	ErrEmptyPayload = errors.New("nest: empty change payload")

	// ErrBadStatus indicates the vendor API returned a non-2xx final status.
	ErrBadStatus = errors.New("nest: unexpected API response status")

	// ErrRedirectLocation indicates a redirect response without a usable
	// Location header.
	ErrRedirectLocation = errors.New("nest: redirect without location")

	// ErrAuthRevoked indicates the vendor revoked the API authorization.
	// The credential must be cleared and the authorization flow re-entered.
	ErrAuthRevoked = errors.New("nest: authorization revoked")

	// ErrStreamCancelled indicates the vendor cancelled the event stream.
	ErrStreamCancelled = errors.New("nest: stream cancelled by server")

	// ErrStreamEvent indicates the stream delivered an error or unhandled
	// event type, ending the stream task.
	ErrStreamEvent = errors.New("nest: stream event error")
)
