package auth

import "errors"

// Sentinel errors for credential resolution and the authorization flow.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrNoCredential indicates no valid credential could be resolved from
	// any source and the authorization flow has not completed.
	ErrNoCredential = errors.New("auth: no valid credential")

	// ErrCredentialsFile indicates the local OAuth client credentials file
	// is missing or malformed.
	ErrCredentialsFile = errors.New("auth: cannot read client credentials")

	// ErrExchangeFailed indicates the PIN-to-token exchange was rejected.
	ErrExchangeFailed = errors.New("auth: token exchange failed")

	// ErrPinPending indicates the authorization link has been issued and
	// the PIN has not arrived yet.
	ErrPinPending = errors.New("auth: authorization pin pending")

	// ErrAttemptsExhausted indicates the PIN retrieval proxy was polled up
	// to the attempt cap without a PIN. Operator restart is required.
	ErrAttemptsExhausted = errors.New("auth: pin retrieval attempts exhausted")

	// ErrNoChallenge indicates a PIN poll was attempted without an active
	// authorization challenge.
	ErrNoChallenge = errors.New("auth: no active authorization challenge")

	// ErrRevokeFailed indicates the vendor rejected the token revocation.
	ErrRevokeFailed = errors.New("auth: token revocation failed")
)
